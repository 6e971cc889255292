// Package preflight checks host conditions before plugin files are touched.
package preflight

import (
	"fmt"
	"strings"

	"github.com/mitchellh/go-ps"
)

// DefaultEditorProcesses are the executable names of the engine editor.
var DefaultEditorProcesses = []string{"FlaxEditor"}

// Process is a running process matching an editor name.
type Process struct {
	PID  int
	Name string
}

// Checker detects running editor instances. The editor keeps build files and
// plugin assemblies open, so syncing while it runs can leave a project half
// updated.
type Checker struct {
	names []string
	list  func() ([]ps.Process, error)
}

// NewChecker creates a Checker for the given executable names. Empty names
// means DefaultEditorProcesses.
func NewChecker(names []string) *Checker {
	if len(names) == 0 {
		names = DefaultEditorProcesses
	}
	return &Checker{names: names, list: ps.Processes}
}

// RunningEditors returns every running process whose executable matches one
// of the configured names. Matching ignores case and a .exe suffix.
func (c *Checker) RunningEditors() ([]Process, error) {
	processes, err := c.list()
	if err != nil {
		return nil, fmt.Errorf("failed to get process list: %w", err)
	}

	var found []Process
	for _, p := range processes {
		exe := p.Executable()
		if c.matches(exe) {
			found = append(found, Process{PID: p.Pid(), Name: exe})
		}
	}

	return found, nil
}

func (c *Checker) matches(exe string) bool {
	exe = normalise(exe)
	for _, name := range c.names {
		if exe == normalise(name) {
			return true
		}
	}
	return false
}

func normalise(name string) string {
	return strings.TrimSuffix(strings.ToLower(name), ".exe")
}
