package buildsys

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestExitCode(t *testing.T) {
	step := &StepError{Task: "check", Command: "mypy pollen", Status: 2}

	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"success", nil, 0},
		{"step", step, 2},
		{"wrapped step", eris.Wrap(step, "task failed"), 2},
		{"zero status", &StepError{Status: 0}, 1},
		{"task not found", eris.Wrapf(ErrTaskNotFound, "task %s", "deploy"), 1},
		{"cancelled", context.Canceled, 1},
		{"other", eris.New("broken script"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExitCode(tt.err))
		})
	}
}

func TestStepErrorMessage(t *testing.T) {
	err := &StepError{Task: "check", Command: "ruff check pollen", Status: 1}
	assert.Equal(t, `check: "ruff check pollen" exited with status 1`, err.Error())
}
