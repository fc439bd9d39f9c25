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
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mvdan.cc/sh/v3/interp"

	"github.com/pollen-kv/devtask/pkg/buildsys"
	"github.com/pollen-kv/devtask/pkg/config"
)

func testContext() context.Context {
	logger := zerolog.Nop()
	return buildsys.WithLogger(context.Background(), &logger)
}

// pollenProject copies the pollen workflow script into a temporary project
func pollenProject(t *testing.T) (*config.Config, string) {
	t.Helper()

	content, err := os.ReadFile(filepath.Join("..", "testdata", "pollen.star"))
	require.NoError(t, err)

	dir := t.TempDir()
	script := filepath.Join(dir, "tasks.star")
	require.NoError(t, os.WriteFile(script, content, 0o644))

	cfg, err := config.Load(filepath.Join(dir, "devtask.toml"))
	require.NoError(t, err)
	return cfg, script
}

func assertGolden(t *testing.T, actual []byte) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, t.Name(), actual)
}

type recordingRunner struct {
	calls []string
	fail  map[string]uint8
}

func (r *recordingRunner) runner() *buildsys.Runner {
	return &buildsys.Runner{
		Stdin:  strings.NewReader(""),
		Stdout: &bytes.Buffer{},
		Stderr: &bytes.Buffer{},
		ExecHandler: func(ctx context.Context, args []string) error {
			call := strings.Join(args, " ")
			r.calls = append(r.calls, call)
			if status, ok := r.fail[call]; ok {
				return interp.NewExitStatus(status)
			}
			return nil
		},
	}
}

func TestSplitArgs(t *testing.T) {
	tasks, options := SplitArgs([]string{"check", "package=src/pollen", "test", "=odd", "tests=", "a=b=c"})

	assert.Equal(t, []string{"check", "test", "=odd"}, tasks)
	assert.Equal(t, map[string]string{"package": "src/pollen", "tests": "", "a": "b=c"}, options)

	tasks, options = SplitArgs(nil)
	assert.Empty(t, tasks)
	assert.Empty(t, options)
}

func TestLoadProject(t *testing.T) {
	cfg, script := pollenProject(t)

	project, err := LoadProject(testContext(), cfg, script, map[string]string{"package": "src"}, true)
	require.NoError(t, err)
	assert.Equal(t, filepath.Dir(script), project.Root)
	assert.Equal(t, "check", project.Default)

	// the cache is opt-in
	assert.NoDirExists(t, filepath.Join(project.Root, ".devtask"))

	cfg.Cache.Enabled = true
	_, err = LoadProject(testContext(), cfg, script, nil, true)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(project.Root, ".devtask", "tasks.cache"))

	_, err = LoadProject(testContext(), cfg, filepath.Join(project.Root, "missing.star"), nil, true)
	assert.Error(t, err)
}

func TestPrintTaskList(t *testing.T) {
	cfg, script := pollenProject(t)
	project, err := LoadProject(testContext(), cfg, script, nil, false)
	require.NoError(t, err)

	out := &bytes.Buffer{}
	PrintTaskList(out, project)

	assertGolden(t, out.Bytes())
}

func TestRunTasksDefault(t *testing.T) {
	cfg, script := pollenProject(t)
	project, err := LoadProject(testContext(), cfg, script, nil, false)
	require.NoError(t, err)

	rec := &recordingRunner{}
	require.NoError(t, RunTasks(testContext(), rec.runner(), project, nil, &bytes.Buffer{}))
	assert.Equal(t, []string{
		"ruff check --select I pollen",
		"ruff check pollen",
		"mypy pollen",
	}, rec.calls)
}

func TestRunTasksStopsAtFirstFailure(t *testing.T) {
	cfg, script := pollenProject(t)
	project, err := LoadProject(testContext(), cfg, script, nil, false)
	require.NoError(t, err)

	rec := &recordingRunner{fail: map[string]uint8{"ruff format pollen": 7}}
	err = RunTasks(testContext(), rec.runner(), project, []string{"format", "test"}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Equal(t, 7, buildsys.ExitCode(err))
	assert.Equal(t, []string{"ruff check --select I --fix pollen", "ruff format pollen"}, rec.calls)
}

func TestRunTasksValidatesNamesFirst(t *testing.T) {
	cfg, script := pollenProject(t)
	project, err := LoadProject(testContext(), cfg, script, nil, false)
	require.NoError(t, err)

	rec := &recordingRunner{}
	err = RunTasks(testContext(), rec.runner(), project, []string{"check", "deploy"}, &bytes.Buffer{})
	require.Error(t, err)
	assert.True(t, eris.Is(err, buildsys.ErrTaskNotFound))
	assert.Empty(t, rec.calls)
}

func TestRunTasksWithoutDefaultListsTasks(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "tasks.star")
	require.NoError(t, os.WriteFile(script, []byte(`
def configure():
    task(short = "lint", desc = "Lints", cmds = ["ruff check ."])
`), 0o644))

	cfg, err := config.Load(filepath.Join(dir, "devtask.toml"))
	require.NoError(t, err)
	project, err := LoadProject(testContext(), cfg, script, nil, false)
	require.NoError(t, err)

	rec := &recordingRunner{}
	out := &bytes.Buffer{}
	require.NoError(t, RunTasks(testContext(), rec.runner(), project, nil, out))
	assert.Empty(t, rec.calls)
	assert.Equal(t, "Available tasks:\n * lint:   Lints\n", out.String())
}

func TestNewLogger(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "devtask.toml"))
	require.NoError(t, err)

	out := &bytes.Buffer{}
	logger := NewLogger(cfg, out)
	logger.Debug().Msg("hidden")
	logger.Info().Msg("shown")
	assert.Equal(t, "shown\n", out.String())

	cfg.Log.JSON = true
	out.Reset()
	logger = NewLogger(cfg, out)
	logger.Info().Str("task", "check").Msg("shown")
	assert.Contains(t, out.String(), `"task":"check"`)
	assert.Contains(t, out.String(), `"message":"shown"`)
}

func TestDryRunTranscript(t *testing.T) {
	cfg, script := pollenProject(t)
	project, err := LoadProject(testContext(), cfg, script, nil, false)
	require.NoError(t, err)

	out := &bytes.Buffer{}
	logger := zerolog.New(NewConsoleWriter(out, false)).Level(zerolog.InfoLevel)
	ctx := buildsys.WithLogger(context.Background(), &logger)

	rec := &recordingRunner{}
	runner := rec.runner()
	runner.DryRun = true

	require.NoError(t, RunTasks(ctx, runner, project, []string{"commit"}, &bytes.Buffer{}))
	assert.Empty(t, rec.calls)

	assertGolden(t, out.Bytes())
}
