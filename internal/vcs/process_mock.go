package vcs

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// Call records one invocation of MockRunner.
type Call struct {
	Dir  string
	Path string
	Args []string
}

// String returns the arguments joined by spaces.
func (c Call) String() string {
	return strings.Join(c.Args, " ")
}

// MockRunner is a mock implementation of Runner for testing.
type MockRunner struct {
	// RunFunc allows tests to provide custom behavior.
	RunFunc func(ctx context.Context, dir string, args []string) (Result, error)

	mu    sync.Mutex
	calls []Call
}

// NewMockRunner creates a mock runner where every process exits 0.
func NewMockRunner() *MockRunner {
	return &MockRunner{}
}

// NewExitMockRunner creates a mock runner where every process exits with code.
func NewExitMockRunner(code int) *MockRunner {
	return &MockRunner{
		RunFunc: func(ctx context.Context, dir string, args []string) (Result, error) {
			return Result{ExitCode: code}, nil
		},
	}
}

// Run records the call and executes the mock behavior.
func (m *MockRunner) Run(ctx context.Context, dir, path string, args ...string) (Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, Call{Dir: dir, Path: path, Args: slices.Clone(args)})
	m.mu.Unlock()

	if m.RunFunc != nil {
		return m.RunFunc(ctx, dir, args)
	}

	return Result{}, nil
}

// Calls returns every recorded call.
func (m *MockRunner) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// CallCount returns the number of recorded calls.
func (m *MockRunner) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Commands returns each recorded call's arguments joined by spaces.
func (m *MockRunner) Commands() []string {
	calls := m.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.String()
	}
	return out
}
