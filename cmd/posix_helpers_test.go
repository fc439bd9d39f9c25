package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMkdir(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b")

	_, err := execute("mkdir", nested)
	assert.Error(t, err)

	_, err = execute("mkdir", "-p", nested)
	require.NoError(t, err)
	assert.DirExists(t, nested)
}

func TestMv(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "report.txt")
	dest := filepath.Join(dir, "out")
	require.NoError(t, os.WriteFile(src, []byte("ok"), 0o644))
	require.NoError(t, os.Mkdir(dest, 0o755))

	_, err := execute("mv", src, dest)
	require.NoError(t, err)
	assert.NoFileExists(t, src)
	assert.FileExists(t, filepath.Join(dest, "report.txt"))

	renamed := filepath.Join(dir, "renamed.txt")
	_, err = execute("mv", filepath.Join(dest, "report.txt"), renamed)
	require.NoError(t, err)
	assert.FileExists(t, renamed)

	_, err = execute("mv", renamed)
	assert.Error(t, err)

	_, err = execute("mv", renamed, filepath.Join(dir, "missing", "x.txt"))
	assert.Error(t, err)
}

func TestRm(t *testing.T) {
	dir := t.TempDir()
	folder := filepath.Join(dir, ".mypy_cache")
	require.NoError(t, os.MkdirAll(filepath.Join(folder, "3.11"), 0o755))

	_, err := execute("rm", folder)
	assert.Error(t, err)
	assert.DirExists(t, folder)

	_, err = execute("rm", "-r", folder)
	require.NoError(t, err)
	assert.NoDirExists(t, folder)

	_, err = execute("rm", filepath.Join(dir, "missing"))
	assert.Error(t, err)

	_, err = execute("rm", "-f", filepath.Join(dir, "missing"))
	assert.NoError(t, err)
}
