package vcs

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// Result is the outcome of a finished process.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Runner defines an interface for running external processes.
// A non-zero exit status is reported through Result, not as an error; the
// error is reserved for processes that could not be started or were killed.
type Runner interface {
	Run(ctx context.Context, dir, path string, args ...string) (Result, error)
}

// ExecRunner implements Runner using os/exec.
type ExecRunner struct{}

// NewExecRunner creates a new os/exec backed runner.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes path with args in dir.
func (r *ExecRunner) Run(ctx context.Context, dir, path string, args ...string) (Result, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, path, args...) // #nosec G204 - git path and arguments are built internally
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}

	if err != nil {
		exitErr := &exec.ExitError{}
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, err
	}

	return result, nil
}
