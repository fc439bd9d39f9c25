package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsoleWriter(t *testing.T) {
	out := &bytes.Buffer{}
	logger := zerolog.New(NewConsoleWriter(out, false))

	logger.Info().Str("task", "check").Bool("command", true).Msg("ruff check pollen")
	logger.Warn().Msg("option x was passed but the script doesn't declare it")
	logger.Info().Str("task", "test").Msg("[pollen] stays")

	assert.Equal(t, strings.Join([]string{
		"check: $ ruff check pollen",
		"option x was passed but the script doesn't declare it",
		"test: [pollen] stays",
		"",
	}, "\n"), strings.ReplaceAll(out.String(), "\x1b[0m", ""))
}

func TestConsoleWriterErrors(t *testing.T) {
	SetupErrorMarshaller(false)

	out := &bytes.Buffer{}
	logger := zerolog.New(NewConsoleWriter(out, false))
	logger.Error().Err(eris.New("mypy failed")).Str("task", "commit").Msg("stopped")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "commit: Error: stopped", lines[0])
	assert.Contains(t, lines[1], "mypy failed")
}

func TestConsoleWriterDebugFields(t *testing.T) {
	out := &bytes.Buffer{}
	logger := zerolog.New(NewConsoleWriter(out, true))
	logger.Info().Str("path", "/tmp/x").Int("count", 2).Msg("loaded")

	assert.Contains(t, out.String(), "  count: 2\n")
	assert.Contains(t, out.String(), "  path: /tmp/x\n")
}

func TestConsoleWriterRejectsInvalidInput(t *testing.T) {
	_, err := NewConsoleWriter(&bytes.Buffer{}, false).Write([]byte("not json"))
	assert.Error(t, err)
}
