// Package cmd implements the task running CLI on top of the buildsys package
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pollen-kv/devtask/pkg"
	"github.com/pollen-kv/devtask/pkg/buildsys"
	"github.com/pollen-kv/devtask/pkg/config"
)

// NewLogger builds the logger described by cfg
func NewLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	SetupErrorMarshaller(cfg.Debug)

	var logger zerolog.Logger
	if cfg.Log.JSON {
		logger = zerolog.New(out).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(NewConsoleWriter(out, cfg.Debug))
	}

	return logger.Level(cfg.LogLevel())
}

// SplitArgs separates task names from name=value script options
func SplitArgs(args []string) ([]string, map[string]string) {
	taskArgs := make([]string, 0, len(args))
	options := make(map[string]string)

	for _, part := range args {
		pos := strings.Index(part, "=")
		if pos > 0 {
			options[part[:pos]] = part[pos+1:]
		} else {
			taskArgs = append(taskArgs, part)
		}
	}

	return taskArgs, options
}

// LoadProject evaluates the task script. If script is empty, the closest file named
// cfg.TaskFile is used, starting at the working directory.
func LoadProject(ctx context.Context, cfg *config.Config, script string, options map[string]string, useCache bool) (*buildsys.Project, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, eris.Wrap(err, "Failed to retrieve the current working directory")
	}

	if script == "" {
		script, err = pkg.FindUpwards(wd, cfg.TaskFile)
		if err != nil {
			return nil, eris.Wrapf(err, "No %s file found", cfg.TaskFile)
		}
	}

	script, err = filepath.Abs(script)
	if err != nil {
		return nil, err
	}

	projectRoot := filepath.Dir(script)
	cacheFile := ""
	if useCache && cfg.Cache.Enabled {
		cacheFile = cfg.Cache.Dir
		if !filepath.IsAbs(cacheFile) {
			cacheFile = filepath.Join(projectRoot, cacheFile)
		}
		cacheFile = filepath.Join(cacheFile, "tasks.cache")
	}

	buildsys.Logger(ctx).Debug().Str("path", script).Msg("loading tasks")
	project, err := buildsys.Parse(ctx, script, projectRoot, options, cacheFile)
	if err != nil {
		return nil, eris.Wrap(err, "Failed to parse tasks")
	}

	return project, nil
}

// PrintTaskList writes the visible tasks and declared options of project to w
func PrintTaskList(w io.Writer, project *buildsys.Project) {
	names := project.Tasks.Names()

	maxNameLen := 0
	for _, name := range names {
		if len(name) > maxNameLen {
			maxNameLen = len(name)
		}
	}

	fmt.Fprintln(w, "Available tasks:")
	lineFmt := fmt.Sprintf(" * %%-%ds %%s", maxNameLen+3)
	for _, name := range names {
		line := fmt.Sprintf(lineFmt, name+":", project.Tasks[name].Desc)
		if name == project.Default {
			line += " (default)"
		}
		fmt.Fprintln(w, strings.TrimRight(line, " "))
	}

	if len(project.Options) == 0 {
		return
	}

	optNames := make([]string, 0, len(project.Options))
	for name := range project.Options {
		optNames = append(optNames, name)
	}
	sort.Strings(optNames)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Options:")
	for _, name := range optNames {
		opt := project.Options[name]
		fmt.Fprintf(w, " * %s=%q  %s\n", name, opt.Default(), opt.Help)
	}
}

// RunTasks runs each named task in order and stops at the first failure. Without names,
// the project's default task runs; if there is none, the task list is printed.
func RunTasks(ctx context.Context, runner *buildsys.Runner, project *buildsys.Project, names []string, listOut io.Writer) error {
	if len(names) == 0 {
		if project.Default == "" {
			PrintTaskList(listOut, project)
			return nil
		}

		names = []string{project.Default}
	}

	for _, name := range names {
		if _, ok := project.Tasks[name]; !ok {
			return eris.Wrapf(buildsys.ErrTaskNotFound, "task %s", name)
		}
	}

	for _, name := range names {
		err := runner.Run(ctx, project, name)
		if err != nil {
			return err
		}
	}

	return nil
}

// Flags holds the values of the task command's flags
type Flags struct {
	DryRun  bool
	Force   bool
	List    bool
	NoCache bool
	File    string
}

// AddFlags registers the task running flags on cmd
func AddFlags(cmd *cobra.Command, flags *Flags) {
	cmd.Flags().BoolVarP(&flags.DryRun, "dry", "n", false, "dry run; only print the commands, don't execute anything")
	cmd.Flags().BoolVarP(&flags.Force, "force", "f", false, "force build; always execute the passed steps even if they don't have to run")
	cmd.Flags().BoolVarP(&flags.List, "list", "l", false, "list the available tasks and exit")
	cmd.Flags().BoolVar(&flags.NoCache, "no-cache", false, "always evaluate the task script, even if a cached copy exists")
	cmd.Flags().StringVar(&flags.File, "file", "", "task script to use instead of searching for one")
}
