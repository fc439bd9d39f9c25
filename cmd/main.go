package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pollen-kv/devtask/pkg/buildsys"
	taskcmd "github.com/pollen-kv/devtask/pkg/buildsys/cmd"
	"github.com/pollen-kv/devtask/pkg/config"
)

// app carries the state shared by the subcommands that work on a task script
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
}

func (a *app) setup(cmd *cobra.Command) (context.Context, error) {
	if a.cfg == nil {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}

		a.cfg = cfg
		a.logger = taskcmd.NewLogger(cfg, cmd.ErrOrStderr())
	}

	return buildsys.WithLogger(cmd.Context(), &a.logger), nil
}

func (a *app) runTasks(cmd *cobra.Command, args []string, flags *taskcmd.Flags) error {
	ctx, err := a.setup(cmd)
	if err != nil {
		return err
	}

	taskArgs, options := taskcmd.SplitArgs(args)
	project, err := taskcmd.LoadProject(ctx, a.cfg, flags.File, options, !flags.NoCache)
	if err != nil {
		return err
	}

	if flags.List {
		taskcmd.PrintTaskList(cmd.OutOrStdout(), project)
		return nil
	}

	toolPath, err := os.Executable()
	if err != nil {
		a.logger.Warn().Err(err).Msg("can't locate the devtask binary; mv, rm and mkdir will use the system commands")
		toolPath = ""
	}

	runner := &buildsys.Runner{
		Stdin:       cmd.InOrStdin(),
		Stdout:      cmd.OutOrStdout(),
		Stderr:      cmd.ErrOrStderr(),
		DryRun:      flags.DryRun,
		Force:       flags.Force,
		ToolPath:    toolPath,
		KillTimeout: a.cfg.KillTimeout(),
	}

	return taskcmd.RunTasks(ctx, runner, project, taskArgs, cmd.OutOrStdout())
}

// logError reports err through the configured logger. If the configuration never
// loaded, a plain console logger is used instead.
func (a *app) logError(out io.Writer, err error) {
	logger := a.logger
	if a.cfg == nil {
		taskcmd.SetupErrorMarshaller(false)
		logger = zerolog.New(taskcmd.NewConsoleWriter(out, false))
	}

	logger.Error().Err(err).Msg("devtask failed")
}

// NewRootCmd assembles the devtask command tree
func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{})
}

func newRootCmd(a *app) *cobra.Command {
	rootFlags := &taskcmd.Flags{}
	runFlags := &taskcmd.Flags{}

	rootCmd := &cobra.Command{
		Use:   "devtask [task...] [option=value...]",
		Short: "Developer workflow tasks for pollen",
		Long: `devtask reads the closest tasks.star file and runs the given tasks. Without a task,
the script's default task runs (check for the pollen workflow).

A task runs its commands in order and stops at the first one that fails; devtask then
exits with that command's exit status.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       buildsys.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTasks(cmd, args, rootFlags)
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	taskcmd.AddFlags(rootCmd, rootFlags)

	runCmd := &cobra.Command{
		Use:   "run [task...] [option=value...]",
		Short: "Runs the given tasks, even if their names match a devtask command",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTasks(cmd, args, runFlags)
		},
	}
	taskcmd.AddFlags(runCmd, runFlags)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(newListCmd(a))
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newDoctorCmd(a))
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newMvCmd())
	rootCmd.AddCommand(newRmCmd())
	rootCmd.AddCommand(newMkdirCmd())

	return rootCmd
}

// Execute runs devtask with the process arguments and returns the exit code
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a := &app{}
	rootCmd := newRootCmd(a)
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		a.logError(rootCmd.ErrOrStderr(), err)
	}

	return buildsys.ExitCode(err)
}
