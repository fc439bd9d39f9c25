package pkg

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
)

// ErrNotFound is returned when an upwards search reaches the filesystem root
var ErrNotFound = eris.New("not found")

// FindUpwards returns the first path named name in start or one of its parents
func FindUpwards(start, name string) (string, error) {
	current, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}

	for {
		candidate := filepath.Join(current, name)
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}

		if !eris.Is(err, os.ErrNotExist) {
			return "", eris.Wrapf(err, "Failed to check %s", candidate)
		}

		parent := filepath.Dir(current)
		if parent == current {
			return "", eris.Wrapf(ErrNotFound, "%s in %s or any parent directory", name, start)
		}
		current = parent
	}
}

// GetProjectRoot returns the closest directory containing a .git entry, starting at dir
func GetProjectRoot(dir string) (string, error) {
	gitPath, err := FindUpwards(dir, ".git")
	if err != nil {
		return "", eris.Wrap(err, "Project root not found")
	}

	return filepath.Dir(gitPath), nil
}

// colorizer disables colours unless w is a terminal
func colorizer(w io.Writer) colorstring.Colorize {
	tty := false
	if file, ok := w.(*os.File); ok {
		tty = isatty.IsTerminal(file.Fd()) || isatty.IsCygwinTerminal(file.Fd())
	}

	return colorstring.Colorize{
		Colors:  colorstring.DefaultColors,
		Disable: !tty,
	}
}

func printLine(w io.Writer, prefix, msg string) {
	// msg is written as is so brackets in it aren't read as colour codes
	c := colorizer(w)
	fmt.Fprint(w, c.Color(prefix+"[reset]")+" "+msg+"\n")
}

func PrintTask(w io.Writer, msg string) {
	printLine(w, "[blue][bold]==>", msg)
}

func PrintSubtask(w io.Writer, msg string) {
	printLine(w, "[green][bold]  ->", msg)
}

func PrintError(w io.Writer, msg string) {
	printLine(w, "[red][bold]  ->", msg)
}
