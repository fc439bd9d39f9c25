package cmd

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

// expandArgs resolves glob patterns on Windows where the shell runner passes them through
// unexpanded
func expandArgs(args []string, allowEmpty bool) ([]string, error) {
	if runtime.GOOS != "windows" {
		return args, nil
	}

	items := []string{}
	for _, arg := range args {
		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, eris.Wrapf(err, "Failed to resolve pattern %s", arg)
		}

		if matches == nil {
			if allowEmpty {
				continue
			}
			return nil, eris.Errorf("Pattern %s produced no matches", arg)
		}

		items = append(items, matches...)
	}

	return items, nil
}

func newMvCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "mv <source...> <dest>",
		Short:  "Cross-platform implementation of the POSIX mv command",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 2 {
				return eris.New("Not enough parameters")
			}

			dest := filepath.Clean(args[len(args)-1])
			destParent := filepath.Dir(dest)
			info, err := os.Stat(destParent)
			if err != nil {
				return eris.Wrapf(err, "Could not find destination directory %s", destParent)
			}

			if !info.IsDir() {
				return eris.Errorf("%s is not a directory!", destParent)
			}

			destIsDir := false
			info, err = os.Stat(dest)
			if err == nil {
				destIsDir = info.IsDir()
			} else if !eris.Is(err, os.ErrNotExist) {
				return eris.Wrapf(err, "Failed to retrieve info about destination %s", dest)
			}

			items, err := expandArgs(args[:len(args)-1], false)
			if err != nil {
				return err
			}

			if len(items) > 1 && !destIsDir {
				return eris.Errorf("Can't move multiple items to %s because it is not a directory!", dest)
			}

			for _, item := range items {
				itemDest := dest
				if destIsDir {
					itemDest = filepath.Join(dest, filepath.Base(item))
				}

				err = os.Rename(item, itemDest)
				if err != nil {
					return eris.Wrapf(err, "Failed to move %s to %s", item, itemDest)
				}
			}

			return nil
		},
	}
}

func newRmCmd() *cobra.Command {
	var recursive, force bool

	cmd := &cobra.Command{
		Use:    "rm <path...>",
		Short:  "A cross-platform implementation of the POSIX rm command",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := expandArgs(args, force)
			if err != nil {
				return err
			}

			for _, item := range items {
				info, err := os.Stat(item)
				if err != nil {
					if force && eris.Is(err, os.ErrNotExist) {
						continue
					}
					return eris.Wrapf(err, "Could not stat %s", item)
				}

				if info.IsDir() && !recursive {
					return eris.Errorf("%s is a directory but -r wasn't passed", item)
				}
			}

			for _, item := range items {
				err := os.RemoveAll(item)
				if err != nil {
					return eris.Wrapf(err, "Could not delete %s", item)
				}
			}

			return nil
		},
	}

	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "recursively delete directories")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "suppresses errors caused by missing files/folders")
	return cmd
}

func newMkdirCmd() *cobra.Command {
	var makeParents bool

	cmd := &cobra.Command{
		Use:    "mkdir <path...>",
		Short:  "A cross-platform implementation of the POSIX mkdir command",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, item := range args {
				var err error
				if makeParents {
					err = os.MkdirAll(item, 0o770)
				} else {
					err = os.Mkdir(item, 0o770)
				}

				if err != nil {
					return eris.Wrapf(err, "Failed to create %s", item)
				}
			}

			return nil
		},
	}

	cmd.Flags().BoolVarP(&makeParents, "parents", "p", false, "create parent directories as needed")
	return cmd
}
