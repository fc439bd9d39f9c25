package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pollen-kv/devtask/pkg/buildsys"
)

const testScript = `
def configure():
    lint = task(short = "lint", desc = "Pretends to lint", cmds = ["echo lint"])
    task(short = "fail", cmds = ["echo before", "exit 3", "echo after"])
    task(short = "list", cmds = ["echo list task"])
    task(short = "both", deps = [lint], cmds = ["echo both"])
    default_task(lint)
`

func writeTestScript(t *testing.T) string {
	t.Helper()

	script := filepath.Join(t.TempDir(), "tasks.star")
	require.NoError(t, os.WriteFile(script, []byte(testScript), 0o644))
	return script
}

func execute(args ...string) (string, error) {
	rootCmd := NewRootCmd()
	out := &bytes.Buffer{}
	rootCmd.SetOut(out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)

	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootRunsDefaultTask(t *testing.T) {
	script := writeTestScript(t)

	out, err := execute("--file", script)
	require.NoError(t, err)
	assert.Equal(t, "lint\n", out)
}

func TestRootRunsNamedTasks(t *testing.T) {
	script := writeTestScript(t)

	out, err := execute("--file", script, "both", "lint")
	require.NoError(t, err)
	assert.Equal(t, "lint\nboth\nlint\n", out)
}

func TestRootReportsFailingStatus(t *testing.T) {
	script := writeTestScript(t)

	out, err := execute("--file", script, "fail", "lint")
	require.Error(t, err)
	assert.Equal(t, 3, buildsys.ExitCode(err))
	assert.Equal(t, "before\n", out)
}

func TestRootUnknownTask(t *testing.T) {
	script := writeTestScript(t)

	out, err := execute("--file", script, "lint", "deploy")
	require.Error(t, err)
	assert.True(t, eris.Is(err, buildsys.ErrTaskNotFound))
	assert.Equal(t, 1, buildsys.ExitCode(err))
	assert.Empty(t, out)
}

func TestRootDryRun(t *testing.T) {
	script := writeTestScript(t)

	out, err := execute("--file", script, "--dry", "fail")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRootListFlag(t *testing.T) {
	script := writeTestScript(t)

	out, err := execute("--file", script, "--list")
	require.NoError(t, err)
	assert.Contains(t, out, " * lint:   Pretends to lint (default)\n")
}

func TestRunCommandReachesShadowedTasks(t *testing.T) {
	script := writeTestScript(t)

	out, err := execute("run", "--file", script, "list")
	require.NoError(t, err)
	assert.Equal(t, "list task\n", out)

	out, err = execute("list", "--file", script)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Available tasks:\n"))
}

func TestVersion(t *testing.T) {
	out, err := execute("version")
	require.NoError(t, err)
	assert.Equal(t, "devtask "+buildsys.Version+"\n", out)
}

func TestDoctorMissingTools(t *testing.T) {
	script := filepath.Join(t.TempDir(), "tasks.star")
	require.NoError(t, os.WriteFile(script, []byte(`
def configure():
    require_tool("devtask-test-missing-tool")
    task(short = "a")
`), 0o644))

	out, err := execute("doctor", "--file", script)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 required tool(s) missing")
	assert.Contains(t, out, "devtask-test-missing-tool: not found")
}

func TestInit(t *testing.T) {
	dir := t.TempDir()

	_, err := execute("init", dir)
	require.NoError(t, err)

	_, err = execute("init", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")

	_, err = execute("init", "--force", dir)
	require.NoError(t, err)

	logger := zerolog.Nop()
	ctx := buildsys.WithLogger(context.Background(), &logger)
	project, err := buildsys.RunScript(ctx, filepath.Join(dir, "tasks.star"), dir, nil, true)
	require.NoError(t, err)

	assert.Equal(t, []string{"check", "commit", "format", "test"}, project.Tasks.Names())
	assert.Equal(t, "check", project.Default)
	assert.Equal(t, []string{"check", "test"}, project.Tasks["commit"].Deps)
}

// The runner tests in pkg/buildsys exercise this fixture, so it has to stay identical to
// the template init writes.
func TestTemplateMatchesRunnerFixture(t *testing.T) {
	fixture, err := os.ReadFile(filepath.Join("..", "pkg", "buildsys", "testdata", "pollen.star"))
	require.NoError(t, err)
	assert.Equal(t, string(tasksTemplate), string(fixture))
}

func TestErrorsUseConfiguredLogger(t *testing.T) {
	t.Setenv("DEVTASK_LOG_JSON", "true")

	errOut := &bytes.Buffer{}
	cmd := &cobra.Command{}
	cmd.SetErr(errOut)
	cmd.SetContext(context.Background())

	a := &app{}
	_, err := a.setup(cmd)
	require.NoError(t, err)

	a.logError(errOut, eris.New("mypy failed"))
	assert.Contains(t, errOut.String(), `"level":"error"`)
	assert.Contains(t, errOut.String(), `"error":"mypy failed"`)
	assert.Contains(t, errOut.String(), `"message":"devtask failed"`)
}

func TestErrorsBeforeConfigLoaded(t *testing.T) {
	out := &bytes.Buffer{}
	(&app{}).logError(out, eris.New("invalid devtask.toml"))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Error: devtask failed", lines[0])
	assert.Contains(t, lines[1], "invalid devtask.toml")
}
