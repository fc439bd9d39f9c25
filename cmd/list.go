package cmd

import (
	"github.com/spf13/cobra"

	taskcmd "github.com/pollen-kv/devtask/pkg/buildsys/cmd"
)

func newListCmd(a *app) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "list [option=value...]",
		Short: "Lists the tasks declared by the task script",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := a.setup(cmd)
			if err != nil {
				return err
			}

			_, options := taskcmd.SplitArgs(args)
			project, err := taskcmd.LoadProject(ctx, a.cfg, file, options, true)
			if err != nil {
				return err
			}

			taskcmd.PrintTaskList(cmd.OutOrStdout(), project)
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "task script to use instead of searching for one")
	return cmd
}
