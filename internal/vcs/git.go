// Package vcs invokes the git executable for checkout-based plugin management.
package vcs

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"
)

const (
	// DefaultPath is the git executable looked up on PATH.
	DefaultPath = "git"

	// DefaultRemote is the remote used for fetch and pull.
	DefaultRemote = "origin"
)

// ExitError is returned when git exits with a non-zero status.
type ExitError struct {
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("git %s: exit status %d", strings.Join(e.Args, " "), e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// Git runs git subcommands through a Runner.
type Git struct {
	path   string
	runner Runner
	logger hclog.Logger
}

// New creates a Git. Empty path means DefaultPath; nil runner means an
// ExecRunner; nil logger discards output.
func New(path string, runner Runner, logger hclog.Logger) *Git {
	if path == "" {
		path = DefaultPath
	}
	if runner == nil {
		runner = NewExecRunner()
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Git{path: path, runner: runner, logger: logger}
}

// Path returns the git executable path.
func (g *Git) Path() string {
	return g.path
}

// Version returns the output of git --version.
func (g *Git) Version(ctx context.Context) (string, error) {
	return g.output(ctx, "", "--version")
}

// Available reports whether git can be executed.
func (g *Git) Available(ctx context.Context) bool {
	_, err := g.Version(ctx)
	return err == nil
}

// IsRepository reports whether dir is inside a working tree (git status exits 0).
func (g *Git) IsRepository(ctx context.Context, dir string) bool {
	return g.run(ctx, dir, "status") == nil
}

// Clone clones url into dir/name. A non-empty branch checks out only that branch.
func (g *Git) Clone(ctx context.Context, dir, url, name, branch string) error {
	args := []string{"clone"}
	if branch != "" {
		args = append(args, "--branch", branch, "--single-branch")
	}
	args = append(args, "--", url, name)
	return g.run(ctx, dir, args...)
}

// SubmoduleAdd registers url as submodule name of the repository at dir.
func (g *Git) SubmoduleAdd(ctx context.Context, dir, url, name, branch string) error {
	args := []string{"submodule", "add", "-f"}
	if branch != "" {
		args = append(args, "-b", branch)
	}
	args = append(args, "--", url, name)
	return g.run(ctx, dir, args...)
}

// SubmoduleUpdate updates every submodule recursively.
func (g *Git) SubmoduleUpdate(ctx context.Context, dir string) error {
	return g.run(ctx, dir, "submodule", "update", "--recursive")
}

// SubmoduleDeinit unregisters submodule name.
func (g *Git) SubmoduleDeinit(ctx context.Context, dir, name string) error {
	return g.run(ctx, dir, "submodule", "deinit", "-f", "--", name)
}

// Fetch fetches branch from remote.
func (g *Git) Fetch(ctx context.Context, dir, remote, branch string) error {
	return g.run(ctx, dir, "fetch", remote, branch)
}

// Pull pulls branch from remote into the current checkout.
func (g *Git) Pull(ctx context.Context, dir, remote, branch string) error {
	return g.run(ctx, dir, "pull", remote, branch)
}

// RevParse resolves ref to a commit SHA.
func (g *Git) RevParse(ctx context.Context, dir, ref string) (string, error) {
	return g.output(ctx, dir, "rev-parse", ref)
}

func (g *Git) run(ctx context.Context, dir string, args ...string) error {
	_, err := g.output(ctx, dir, args...)
	return err
}

func (g *Git) output(ctx context.Context, dir string, args ...string) (string, error) {
	g.logger.Debug("running git", "dir", dir, "args", args)

	result, err := g.runner.Run(ctx, dir, g.path, args...)
	if err != nil {
		return "", fmt.Errorf("failed to run git %s: %w", strings.Join(args, " "), err)
	}

	if result.ExitCode != 0 {
		exitErr := &ExitError{
			Args:     args,
			ExitCode: result.ExitCode,
			Stderr:   strings.TrimSpace(string(result.Stderr)),
		}
		g.logger.Debug("git failed", "args", args, "code", result.ExitCode, "stderr", exitErr.Stderr)
		return "", exitErr
	}

	return strings.TrimSpace(string(result.Stdout)), nil
}
