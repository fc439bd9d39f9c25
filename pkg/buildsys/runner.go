package buildsys

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// DefaultKillTimeout is how long a command gets to react to an interrupt before it's killed
const DefaultKillTimeout = 2 * time.Second

// Runner executes tasks of an evaluated project. The zero value runs commands with the
// process' stdio.
type Runner struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// DryRun only logs the commands that would run
	DryRun bool
	// Force ignores skip_if_exists and the inputs / outputs check of the named task
	Force bool

	// ToolPath is an executable implementing portable mv, rm and mkdir subcommands. If it's
	// empty, those commands are looked up on PATH like any other command.
	ToolPath    string
	KillTimeout time.Duration
	// ExecHandler starts external programs. Defaults to interp.DefaultExecHandler.
	ExecHandler interp.ExecHandlerFunc
}

type (
	runtimeCtxKey struct{}
	runtimeCtx    struct {
		// runTasks is false while a task is running and true once it finished
		runTasks    map[string]bool
		tasks       TaskList
		projectRoot string
	}
)

func getRuntimeCtx(ctx context.Context) *runtimeCtx {
	return ctx.Value(runtimeCtxKey{}).(*runtimeCtx)
}

func getTaskEnv(task *Task) expand.Environ {
	envVars := os.Environ()

	for name, value := range task.Env {
		envVars = append(envVars, fmt.Sprintf("%s=%s", name, value))
	}

	return expand.ListEnviron(envVars...)
}

func (r *Runner) execHandler() interp.ExecHandlerFunc {
	next := r.ExecHandler
	if next == nil {
		timeout := r.KillTimeout
		if timeout == 0 {
			timeout = DefaultKillTimeout
		}
		next = interp.DefaultExecHandler(timeout)
	}

	toolPath := r.ToolPath
	return func(ctx context.Context, args []string) error {
		if toolPath != "" && len(args) > 0 {
			switch args[0] {
			case "mv", "rm", "mkdir":
				// always use our cross-platform implementation for these operations to make sure
				// they behave consistently
				args = append([]string{toolPath}, args...)
			}
		}

		return next(ctx, args)
	}
}

var defaultOpenHandler = interp.DefaultOpenHandler()

func openHandler(ctx context.Context, path string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	if path == "/dev/null" {
		path = os.DevNull
	}

	return defaultOpenHandler(ctx, path, flag, perm)
}

func resolvePatternLists(ctx context.Context, base string, patterns []string) ([]string, error) {
	result := []string{}
	cfg := expand.Config{
		ReadDir:  shellReadDir,
		GlobStar: true,
	}

	parser := syntax.NewParser()
	pathCtx := &parserCtx{
		filepath:    filepath.Join(base, "tasks.star"),
		projectRoot: getRuntimeCtx(ctx).projectRoot,
	}

	for _, item := range patterns {
		item = filepath.ToSlash(normalizePath(pathCtx, item))

		words := make([]*syntax.Word, 0)
		err := parser.Words(strings.NewReader(item), func(w *syntax.Word) bool {
			words = append(words, w)
			return true
		})
		if err != nil {
			return nil, eris.Wrapf(err, "failed to parse pattern %s", item)
		}

		matches, err := expand.Fields(&cfg, words...)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to resolve pattern %s", item)
		}

		for _, match := range matches {
			// If a pattern didn't match anything, it's returned as a result. Skip those results.
			if !strings.ContainsAny(match, "*?[") {
				result = append(result, match)
			}
		}
	}
	return result, nil
}

// Run executes the named task of project along with its dependencies. The first failing
// command stops everything and is returned as a *StepError.
func (r *Runner) Run(ctx context.Context, project *Project, name string) error {
	task, found := project.Tasks[name]
	if !found {
		return eris.Wrapf(ErrTaskNotFound, "task %s", name)
	}

	rctx := runtimeCtx{
		projectRoot: project.Root,
		tasks:       project.Tasks,
		runTasks:    make(map[string]bool),
	}

	ctx = context.WithValue(ctx, runtimeCtxKey{}, &rctx)
	return r.runTask(ctx, task, r.Force)
}

// RunDefault runs the project's default task
func (r *Runner) RunDefault(ctx context.Context, project *Project) error {
	if project.Default == "" {
		return eris.Errorf("%s doesn't declare a default task", project.Script)
	}

	return r.Run(ctx, project, project.Default)
}

func (r *Runner) runTask(ctx context.Context, task *Task, force bool) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	rctx := getRuntimeCtx(ctx)
	done, seen := rctx.runTasks[task.Short]
	if seen {
		if done {
			log(ctx).Debug().Msgf("Task %s already run", task.Short)
			return nil
		}

		return eris.Errorf("Task %s was called recursively", task.Short)
	}

	rctx.runTasks[task.Short] = false

	for _, dep := range task.Deps {
		depTask, ok := rctx.tasks[dep]
		if !ok {
			return eris.Wrapf(ErrTaskNotFound, "task %s (dependency of %s)", dep, task.Short)
		}

		err := r.runTask(ctx, depTask, false)
		if err != nil {
			log(ctx).Error().Str("task", task.Short).Msgf("stopped because its dependency %s failed", dep)
			return err
		}
	}

	upToDate, err := r.upToDate(ctx, task, force)
	if err != nil {
		return err
	}

	if upToDate {
		rctx.runTasks[task.Short] = true
		return nil
	}

	err = r.runCmds(ctx, task, force)
	if err != nil {
		return err
	}

	rctx.runTasks[task.Short] = true
	return nil
}

func (r *Runner) upToDate(ctx context.Context, task *Task, force bool) (bool, error) {
	if force {
		return false, nil
	}

	skipList, err := resolvePatternLists(ctx, task.Base, task.SkipIfExists)
	if err != nil {
		return false, eris.Wrapf(err, "failed to resolve skipIfExists list")
	}

	found := 0
	for _, item := range skipList {
		_, err := os.Stat(item)
		if err == nil {
			found++
		} else if !eris.Is(err, os.ErrNotExist) {
			return false, eris.Wrapf(err, "Failed to check %s", item)
		}
	}

	if found > 0 && found == len(skipList) {
		log(ctx).Info().
			Str("task", task.Short).
			Msg("skipped because all skip files exist")
		return true, nil
	}

	inputList, err := resolvePatternLists(ctx, task.Base, task.Inputs)
	if err != nil {
		return false, eris.Wrap(err, "failed to resolve inputs")
	}

	outputList, err := resolvePatternLists(ctx, task.Base, task.Outputs)
	if err != nil {
		return false, eris.Wrap(err, "failed to resolve output list")
	}

	var newestInput time.Time
	for _, item := range inputList {
		info, err := os.Stat(item)
		if err != nil {
			return false, eris.Wrapf(err, "Failed to check input %s", item)
		}

		if info.ModTime().After(newestInput) {
			newestInput = info.ModTime()
		}
	}

	if newestInput.IsZero() || len(outputList) == 0 {
		return false, nil
	}

	var newestOutput time.Time
	oldestOutput := time.Now()
	for _, item := range outputList {
		info, err := os.Stat(item)
		if err != nil {
			if eris.Is(err, os.ErrNotExist) {
				// a missing output always means we have to run
				return false, nil
			}
			return false, eris.Wrapf(err, "Failed to check output %s", item)
		}

		mt := info.ModTime()
		if mt.After(newestOutput) {
			newestOutput = mt
		}

		if mt.Before(oldestOutput) {
			oldestOutput = mt
		}
	}

	if newestOutput.Sub(oldestOutput) > 10*time.Minute {
		log(ctx).Warn().
			Str("task", task.Short).
			Msgf("oldest output is %f minutes older than the newest output", newestOutput.Sub(oldestOutput).Minutes())
	}

	if oldestOutput.After(newestInput) {
		log(ctx).Info().
			Str("task", task.Short).
			Msgf("nothing to do (output is %f seconds newer)", oldestOutput.Sub(newestInput).Seconds())
		return true, nil
	}

	return false, nil
}

func (r *Runner) runCmds(ctx context.Context, task *Task, force bool) error {
	stdin := r.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	stdout := r.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := r.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	runner, err := interp.New(
		interp.Dir(task.Base),
		interp.Env(getTaskEnv(task)),
		interp.ExecHandler(r.execHandler()),
		interp.OpenHandler(openHandler),
		interp.StdIO(stdin, stdout, stderr),
		interp.Params("-e"),
	)
	if err != nil {
		return eris.Wrap(err, "Failed to initialize runner")
	}

	parser := syntax.NewParser()
	printer := syntax.NewPrinter(syntax.Minify(true))
	strBuffer := strings.Builder{}

	for _, item := range task.Cmds {
		stmts, err := item.ToShellStmts(parser)
		if err != nil {
			return eris.Wrap(err, "failed to parse shell script")
		}

		if stmts == nil {
			subTask, err := item.ToTask()
			if err != nil {
				return eris.Wrap(err, "failed to retrieve task ref")
			}

			if subTask == nil {
				return eris.Errorf("unexpected task command %+v", item)
			}

			err = r.runTask(ctx, subTask, force)
			if err != nil {
				return err
			}
			continue
		}

		for _, stmt := range stmts {
			strBuffer.Reset()
			err = printer.Print(&strBuffer, stmt)
			if err != nil {
				return eris.Wrap(err, "failed to print command")
			}
			command := strBuffer.String()

			log(ctx).Info().
				Str("task", task.Short).
				Bool("command", true).
				Msg(command)

			if r.DryRun {
				continue
			}

			err = runner.Run(ctx, stmt)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}

				status, ok := interp.IsExitStatus(err)
				if !ok {
					return eris.Wrapf(err, "failed to run %s", command)
				}

				return &StepError{Task: task.Short, Command: command, Status: status}
			}

			if runner.Exited() {
				// "exit 0" ends the task early
				return nil
			}
		}

		if err = ctx.Err(); err != nil {
			return err
		}
	}

	return nil
}
