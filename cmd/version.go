package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pollen-kv/devtask/pkg/buildsys"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Prints the devtask version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "devtask %s\n", buildsys.Version)
		},
	}
}
