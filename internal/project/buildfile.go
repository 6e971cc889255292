package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmylchreest/flaxplug/internal/plugin"
)

const (
	// DefaultTarget is used when the manifest names no game target.
	DefaultTarget = "Game"

	setupSignature = "public override void Setup(BuildOptions options)"
	sentinel       = "Do not remove this comment (FlaxPlugMan)"
	dependencyLine = `options.PrivateDependencies.Add("%s");`
)

// Patcher rewrites the module dependency section of a build file.
type Patcher interface {
	Patch(path string, plugins []*plugin.Entry, editor bool) error
}

// TargetName returns the build target name for a manifest game target:
// the Target suffix removed, DefaultTarget when empty.
func TargetName(gameTarget string) string {
	if gameTarget == "" {
		return DefaultTarget
	}
	return strings.ReplaceAll(gameTarget, "Target", "")
}

// BuildFilePath returns Source/<T>/<T>.Build.cs below projectDir.
func BuildFilePath(projectDir, gameTarget string) string {
	target := TargetName(gameTarget)
	return filepath.Join(projectDir, "Source", target, target+".Build.cs")
}

// BuildFilePatcher is the line-oriented Patcher. Generated dependency lines
// are placed right after the opening brace of the Setup method; a
// platform-conditional block is tagged with a sentinel comment so the next
// pass can find and replace it.
type BuildFilePatcher struct{}

// NewBuildFilePatcher creates a BuildFilePatcher.
func NewBuildFilePatcher() *BuildFilePatcher {
	return &BuildFilePatcher{}
}

// Patch rewrites the build file at path in place. A missing file is not an error.
func (p *BuildFilePatcher) Patch(path string, plugins []*plugin.Entry, editor bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read build file: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat build file: %w", err)
	}

	content := string(data)
	newline := "\n"
	if strings.Contains(content, "\r\n") {
		newline = "\r\n"
	}

	lines := PatchLines(splitLines(content), plugins, editor)

	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteString(newline)
	}

	if err := os.WriteFile(path, []byte(b.String()), info.Mode().Perm()); err != nil {
		return fmt.Errorf("failed to write build file: %w", err)
	}
	return nil
}

// PatchLines returns lines with previously generated dependencies removed
// and the current set inserted at the anchor.
func PatchLines(lines []string, plugins []*plugin.Entry, editor bool) []string {
	out := make([]string, 0, len(lines)+len(plugins))
	anchor := -1
	inserted := false
	inBlock := false

	for _, line := range lines {
		if anchor < 0 {
			if strings.Contains(line, setupSignature) {
				anchor = len(out) + 1
				if !strings.Contains(line, "{") {
					anchor++
				}
			}
			out = append(out, line)
			continue
		}

		if strings.Contains(line, sentinel) {
			inBlock = true
		}
		if inBlock {
			inBlock = !strings.Contains(line, "}")
			continue
		}
		if mentionsModule(line, plugins, editor) {
			continue
		}

		if !inserted && len(out) == anchor {
			out = append(out, dependencies(plugins, editor)...)
			inserted = true
		}
		out = append(out, line)
	}

	return out
}

// dependencies renders the registration lines for installed plugins.
func dependencies(plugins []*plugin.Entry, editor bool) []string {
	var out []string
	var platforms []string
	byPlatform := make(map[string][]string)

	for _, e := range plugins {
		module := e.ModuleFor(editor)
		if !e.Installed() || module == "" {
			continue
		}
		if len(e.Platforms) == 0 {
			out = append(out, "\t\t"+fmt.Sprintf(dependencyLine, module))
			continue
		}
		for _, p := range e.Platforms {
			if _, ok := byPlatform[p]; !ok {
				platforms = append(platforms, p)
			}
			byPlatform[p] = append(byPlatform[p], module)
		}
	}

	if len(platforms) == 0 {
		return out
	}

	out = append(out,
		"\t\tswitch (options.Platform.Target) // "+sentinel,
		"\t\t{",
	)
	for _, p := range platforms {
		out = append(out, "\t\t\tcase TargetPlatform."+p+":")
		for _, module := range byPlatform[p] {
			out = append(out, "\t\t\t\t"+fmt.Sprintf(dependencyLine, module))
		}
		out = append(out, "\t\t\t\tbreak;")
	}
	out = append(out, "\t\t}")

	return out
}

func mentionsModule(line string, plugins []*plugin.Entry, editor bool) bool {
	for _, e := range plugins {
		module := e.ModuleFor(editor)
		if module != "" && strings.Contains(line, `"`+module+`"`) {
			return true
		}
	}
	return false
}

// splitLines splits content into lines without terminators.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}
