package buildsys

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"mvdan.cc/sh/v3/interp"
)

func testContext() context.Context {
	logger := zerolog.Nop()
	return WithLogger(context.Background(), &logger)
}

// writeScript stores content as tasks.star in a fresh project directory
func writeScript(t *testing.T, content string) (string, string) {
	t.Helper()

	dir := t.TempDir()
	script := filepath.Join(dir, "tasks.star")
	require.NoError(t, os.WriteFile(script, []byte(content), 0o644))
	return dir, script
}

func loadProject(t *testing.T, content string, options map[string]string) *Project {
	t.Helper()

	dir, script := writeScript(t, content)
	project, err := RunScript(testContext(), script, dir, options, true)
	require.NoError(t, err)
	return project
}

func loadPollenProject(t *testing.T) *Project {
	t.Helper()

	content, err := os.ReadFile(filepath.Join("testdata", "pollen.star"))
	require.NoError(t, err)
	return loadProject(t, string(content), nil)
}

// recorder stands in for external programs. Commands listed in fail exit with the given
// status, everything else succeeds.
type recorder struct {
	calls []string
	fail  map[string]uint8
}

func (r *recorder) handler(ctx context.Context, args []string) error {
	call := strings.Join(args, " ")
	r.calls = append(r.calls, call)

	if status, ok := r.fail[call]; ok {
		return interp.NewExitStatus(status)
	}
	return nil
}

func newTestRunner(rec *recorder) *Runner {
	return &Runner{
		Stdin:       strings.NewReader(""),
		Stdout:      &strings.Builder{},
		Stderr:      &strings.Builder{},
		ExecHandler: rec.handler,
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()

	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)

	return strings.Fields(string(content))
}
