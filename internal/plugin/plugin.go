// Package plugin defines catalog descriptors and the per-session state the
// synchronisation engine keeps for each plugin.
package plugin

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

const (
	// VersionFile is the marker file written into direct-download plugin directories.
	VersionFile = ".plugin-version"

	// ProjectPathToken is the placeholder the host manifest uses for the project directory.
	ProjectPathToken = "$(ProjectPath)"

	// PluginsDir is the project-relative directory plugins are installed into.
	PluginsDir = "Plugins"

	// DefaultBranch is used when a descriptor does not name a branch.
	DefaultBranch = "master"
)

// Descriptor is the immutable catalog metadata of a plugin.
type Descriptor struct {
	Name             string   `json:"name"`
	Description      string   `json:"description"`
	Tag              string   `json:"tag,omitempty"`
	URL              string   `json:"url"`
	Branch           string   `json:"branch,omitempty"`
	ModuleName       string   `json:"moduleName,omitempty"`
	EditorModuleName string   `json:"editorModuleName,omitempty"`
	ProjectFile      string   `json:"projectFile"`
	Platforms        []string `json:"platforms,omitempty"`
}

// BranchOrDefault returns the configured branch or DefaultBranch.
func (d Descriptor) BranchOrDefault() string {
	if d.Branch == "" {
		return DefaultBranch
	}
	return d.Branch
}

// ModuleFor returns the module registered for the runtime or the editor target.
func (d Descriptor) ModuleFor(editor bool) string {
	if editor {
		return d.EditorModuleName
	}
	return d.ModuleName
}

// Management records which installation strategy owns an installed plugin.
type Management int

const (
	// ManagementUnknown means the strategy has not been determined yet.
	ManagementUnknown Management = iota
	// ManagementDirect means files were downloaded individually and a version marker is kept.
	ManagementDirect
	// ManagementVCS means the plugin is a git clone or submodule.
	ManagementVCS
)

// String returns the management kind as shown to users.
func (m Management) String() string {
	switch m {
	case ManagementDirect:
		return "direct"
	case ManagementVCS:
		return "git"
	default:
		return "unknown"
	}
}

// Entry is a catalog plugin together with its state in the currently bound project.
type Entry struct {
	Descriptor

	// Disabled is set when an install attempt failed during the current session.
	Disabled bool

	// UpdateAvailable is the result of the last update check.
	UpdateAvailable bool

	installed     bool
	management    Management
	version       string
	dir           string
	versionPath   string
	referencePath string
}

// NewEntry creates an uninstalled entry for a descriptor.
func NewEntry(d Descriptor) *Entry {
	return &Entry{Descriptor: d}
}

// Installed reports whether the plugin is installed in the bound project.
func (e *Entry) Installed() bool { return e.installed }

// Management returns the strategy owning the plugin.
func (e *Entry) Management() Management { return e.management }

// Version returns the current version marker, or "" when unknown.
func (e *Entry) Version() string { return e.version }

// Dir returns the resolved plugin directory, or "" when no path is set.
func (e *Entry) Dir() string { return e.dir }

// VersionPath returns the path of the version marker file.
func (e *Entry) VersionPath() string { return e.versionPath }

// ReferencePath returns the manifest reference pointing at the plugin's project file.
func (e *Entry) ReferencePath() string { return e.referencePath }

// SetInstalled changes the installed flag. Uninstalling clears every derived
// field so no stale version or path data survives.
func (e *Entry) SetInstalled(installed bool) {
	e.installed = installed
	if installed {
		return
	}
	e.management = ManagementUnknown
	e.version = ""
	e.dir = ""
	e.versionPath = ""
	e.referencePath = ""
	e.UpdateAvailable = false
}

// SetManagement records the owning strategy.
func (e *Entry) SetManagement(m Management) { e.management = m }

// SetVersion records the current version marker.
func (e *Entry) SetVersion(v string) { e.version = strings.TrimSpace(v) }

// SetPath stores the manifest reference and derives the plugin directory and
// version marker path from it. projectPath is the path of the host project
// file; the $(ProjectPath) token resolves to its directory.
func (e *Entry) SetPath(projectPath, referencePath string) {
	e.referencePath = referencePath

	dir := referencePath
	if e.ProjectFile != "" {
		dir = strings.Replace(dir, e.ProjectFile, "", 1)
	}
	if strings.Contains(dir, ProjectPathToken) {
		dir = strings.ReplaceAll(dir, ProjectPathToken, filepath.Dir(projectPath))
	}
	dir = filepath.Clean(filepath.FromSlash(dir))

	e.dir = dir
	e.versionPath = filepath.Join(dir, VersionFile)
}

// LoadVersion reads the version marker from disk. It reports false when the
// marker does not exist.
func (e *Entry) LoadVersion() (bool, error) {
	if e.versionPath == "" {
		return false, nil
	}

	data, err := os.ReadFile(e.versionPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}

	e.SetVersion(string(data))
	return true, nil
}

// DefaultReference returns the manifest reference used for a freshly installed plugin.
func DefaultReference(d Descriptor) string {
	return ProjectPathToken + "/" + PluginsDir + "/" + d.Name + "/" + d.ProjectFile
}

// Find returns the entry with the given name.
func Find(entries []*Entry, name string) (*Entry, bool) {
	for _, e := range entries {
		if e.Name == name {
			return e, true
		}
	}
	return nil, false
}
