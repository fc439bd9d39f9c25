package cmd

import (
	_ "embed"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/pollen-kv/devtask/pkg"
)

//go:embed templates/tasks.star
var tasksTemplate []byte

// writeTemplate creates dir/tasks.star unless it exists and overwrite is false
func writeTemplate(dir string, overwrite bool) (string, error) {
	dest := filepath.Join(dir, "tasks.star")
	if !overwrite {
		_, err := os.Stat(dest)
		if err == nil {
			return "", eris.Errorf("%s already exists, pass --force to replace it", dest)
		}

		if !eris.Is(err, os.ErrNotExist) {
			return "", eris.Wrapf(err, "Failed to check %s", dest)
		}
	}

	err := os.WriteFile(dest, tasksTemplate, 0o664)
	if err != nil {
		return "", eris.Wrapf(err, "Failed to write %s", dest)
	}

	return dest, nil
}

func newInitCmd() *cobra.Command {
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Writes the pollen workflow tasks.star",
		Long: `Writes a tasks.star with the check, format, test and commit tasks into the given
directory. Without a directory, the root of the current git checkout is used, or the
working directory if there is none.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var dir string
			if len(args) > 0 {
				dir = args[0]
			} else {
				wd, err := os.Getwd()
				if err != nil {
					return eris.Wrap(err, "Failed to retrieve the current working directory")
				}

				dir, err = pkg.GetProjectRoot(wd)
				if err != nil {
					dir = wd
				}
			}

			dest, err := writeTemplate(dir, overwrite)
			if err != nil {
				return err
			}

			pkg.PrintTask(cmd.OutOrStdout(), "Wrote "+dest)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&overwrite, "force", "f", false, "replace an existing tasks.star")
	return cmd
}
