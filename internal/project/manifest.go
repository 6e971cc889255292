// Package project reads and rewrites the host project's files: the
// .flaxproj manifest and the generated build-configuration source.
package project

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"

	"github.com/jmylchreest/flaxplug/internal/plugin"
)

// ErrInvalidManifest is returned when the project file is not a JSON object.
var ErrInvalidManifest = errors.New("invalid project manifest")

const (
	keyReferences       = "References"
	keyGameTarget       = "GameTarget"
	keyGameTargetEditor = "GameTargetEditor"
)

var prettyOptions = &pretty.Options{Width: 0, Indent: "  "}

// Manifest is a parsed project file. Keys other than References are kept
// verbatim and in their original order.
type Manifest struct {
	// References holds the Name of every entry in the References array.
	References []string

	GameTarget       string
	GameTargetEditor string

	data []byte
}

// ReadManifest reads and parses the project file at path.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read project file: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest parses project file content.
func ParseManifest(data []byte) (*Manifest, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: malformed JSON", ErrInvalidManifest)
	}

	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: root is not an object", ErrInvalidManifest)
	}

	refs := root.Get(keyReferences)
	if refs.Exists() && !refs.IsArray() {
		return nil, fmt.Errorf("%w: %s is not an array", ErrInvalidManifest, keyReferences)
	}

	m := &Manifest{
		GameTarget:       root.Get(keyGameTarget).String(),
		GameTargetEditor: root.Get(keyGameTargetEditor).String(),
		data:             data,
	}
	refs.ForEach(func(_, ref gjson.Result) bool {
		if name := ref.Get("Name"); name.Exists() {
			m.References = append(m.References, name.String())
		}
		return true
	})

	return m, nil
}

// RewriteReferences replaces every reference that names a catalog plugin's
// project file with one reference per installed plugin. References to
// anything else are preserved. Installed entries without a reference get
// the default one, resolved against projectPath.
func (m *Manifest) RewriteReferences(entries []*plugin.Entry, projectPath string) error {
	var items []string

	gjson.GetBytes(m.data, keyReferences).ForEach(func(_, ref gjson.Result) bool {
		name := ref.Get("Name")
		if !name.Exists() || !namesCatalogPlugin(name.String(), entries) {
			items = append(items, ref.Raw)
		}
		return true
	})

	for _, e := range entries {
		if !e.Installed() {
			continue
		}
		if e.ReferencePath() == "" {
			e.SetPath(projectPath, plugin.DefaultReference(e.Descriptor))
		}

		item, err := sjson.Set("{}", "Name", e.ReferencePath())
		if err != nil {
			return fmt.Errorf("failed to encode reference: %w", err)
		}
		items = append(items, item)
	}

	data, err := sjson.SetRawBytes(m.data, keyReferences, []byte("["+strings.Join(items, ",")+"]"))
	if err != nil {
		return fmt.Errorf("failed to rewrite references: %w", err)
	}

	m.data = pretty.PrettyOptions(data, prettyOptions)

	m.References = m.References[:0]
	gjson.GetBytes(m.data, keyReferences+".#.Name").ForEach(func(_, name gjson.Result) bool {
		m.References = append(m.References, name.String())
		return true
	})

	return nil
}

// Bytes returns the current manifest content.
func (m *Manifest) Bytes() []byte {
	return m.data
}

// Write stores the manifest at path.
func (m *Manifest) Write(path string) error {
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.WriteFile(path, m.data, mode); err != nil {
		return fmt.Errorf("failed to write project file: %w", err)
	}
	return nil
}

// Installed reports which references name the given plugin's project file.
func (m *Manifest) Installed(d plugin.Descriptor) (string, bool) {
	if d.ProjectFile == "" {
		return "", false
	}
	for _, ref := range m.References {
		if strings.Contains(ref, d.ProjectFile) {
			return ref, true
		}
	}
	return "", false
}

func namesCatalogPlugin(ref string, entries []*plugin.Entry) bool {
	for _, e := range entries {
		if e.ProjectFile != "" && strings.Contains(ref, e.ProjectFile) {
			return true
		}
	}
	return false
}
