package pkg

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindUpwards(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "pollen", "tests", "unit")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "tasks.star"), nil, 0o644))

	found, err := FindUpwards(nested, "tasks.star")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "tasks.star"), found)

	found, err = FindUpwards(root, "tasks.star")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "tasks.star"), found)

	_, err = FindUpwards(nested, "devtask-missing-file.star")
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestGetProjectRoot(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "pollen")
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))
	require.NoError(t, os.Mkdir(nested, 0o755))

	found, err := GetProjectRoot(nested)
	require.NoError(t, err)
	assert.Equal(t, root, found)
}

func TestLookupTools(t *testing.T) {
	lookPath := func(name string) (string, error) {
		if name == "ruff" {
			return "/usr/bin/ruff", nil
		}
		return "", errors.New("executable file not found in $PATH")
	}

	result := LookupTools([]string{"ruff", "mypy"}, lookPath)
	require.Len(t, result, 2)

	assert.True(t, result[0].Found())
	assert.Equal(t, "/usr/bin/ruff", result[0].Path)
	assert.False(t, result[1].Found())
	assert.Equal(t, "mypy", result[1].Name)
}

func TestPrintHelpers(t *testing.T) {
	out := &strings.Builder{}
	PrintTask(out, "Checking tools")
	PrintSubtask(out, "ruff")
	PrintError(out, "mypy")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "==>")
	assert.Contains(t, lines[0], "Checking tools")
	assert.Contains(t, lines[1], "ruff")
	assert.Contains(t, lines[2], "mypy")
}

func TestPrintHelpersWithoutTerminal(t *testing.T) {
	out := &strings.Builder{}
	PrintTask(out, "Checking [required] tools")
	PrintSubtask(out, "ruff: /usr/bin/ruff")
	PrintError(out, "mypy: not found")

	assert.Equal(t, "==> Checking [required] tools\n  -> ruff: /usr/bin/ruff\n  -> mypy: not found\n", out.String())
	assert.NotContains(t, out.String(), "\x1b[")
}
