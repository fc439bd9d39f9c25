// Package buildsys implements the task runner behind devtask. Tasks are declared in a
// Starlark script (tasks.star) and their commands run through the mvdan.cc/sh shell
// interpreter, so the same script works on every platform without a system shell.
//
// A task is a linear list of commands. The first command that exits with a non-zero
// status stops the task, and every task depending on it, and is reported as a *StepError
// carrying that status.
package buildsys
