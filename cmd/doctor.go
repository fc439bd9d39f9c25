package cmd

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/pollen-kv/devtask/pkg"
	taskcmd "github.com/pollen-kv/devtask/pkg/buildsys/cmd"
)

func newDoctorCmd(a *app) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Checks that the tools required by the task script are installed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := a.setup(cmd)
			if err != nil {
				return err
			}

			project, err := taskcmd.LoadProject(ctx, a.cfg, file, nil, true)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			pkg.PrintTask(out, "Checking required tools")

			missing := 0
			for _, status := range pkg.LookupTools(project.Tools, nil) {
				if status.Found() {
					pkg.PrintSubtask(out, fmt.Sprintf("%s: %s", status.Name, status.Path))
				} else {
					pkg.PrintError(out, fmt.Sprintf("%s: not found", status.Name))
					missing++
				}
			}

			if missing > 0 {
				return eris.Errorf("%d required tool(s) missing", missing)
			}

			pkg.PrintTask(out, "Done")
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "task script to use instead of searching for one")
	return cmd
}
