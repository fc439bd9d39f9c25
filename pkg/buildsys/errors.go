package buildsys

import (
	"fmt"

	"github.com/rotisserie/eris"
)

// ErrTaskNotFound is returned when a task name doesn't match any declared task
var ErrTaskNotFound = eris.New("task not found")

// StepError reports a command that exited with a non-zero status
type StepError struct {
	Task    string
	Command string
	Status  uint8
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %q exited with status %d", e.Task, e.Command, e.Status)
}

// ExitCode maps an error returned by Runner.Run to a process exit code. A failed step
// yields the status of the command that failed; any other error yields 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	var step *StepError
	if eris.As(err, &step) && step.Status != 0 {
		return int(step.Status)
	}

	return 1
}
