package pkg

import (
	"os/exec"
)

// ToolStatus reports where a required executable was found
type ToolStatus struct {
	Name string
	Path string
	Err  error
}

// Found is true if the tool is available on PATH
func (s ToolStatus) Found() bool {
	return s.Err == nil
}

// LookupTools resolves every tool with lookPath (exec.LookPath if nil)
func LookupTools(tools []string, lookPath func(string) (string, error)) []ToolStatus {
	if lookPath == nil {
		lookPath = exec.LookPath
	}

	result := make([]ToolStatus, len(tools))
	for idx, name := range tools {
		path, err := lookPath(name)
		result[idx] = ToolStatus{Name: name, Path: path, Err: err}
	}

	return result
}
