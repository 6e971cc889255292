package project

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/jmylchreest/flaxplug/internal/plugin"
)

const manifestFixture = `{
  "Name": "MyGame",
  "Version": "1.0",
  "References": [
    {
      "Name": "$(EnginePath)/Flax.flaxproj"
    },
    {
      "Name": "$(ProjectPath)/Plugins/Old/Old.flaxproj"
    },
    {
      "Name": "$(ProjectPath)/Plugins/Custom/Custom.flaxproj"
    }
  ],
  "GameTarget": "GameTarget",
  "GameTargetEditor": "GameEditorTarget",
  "Configuration": {
    "UseCSharp": true
  }
}`

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest([]byte(manifestFixture))
	if err != nil {
		t.Fatalf("ParseManifest() error = %v", err)
	}

	want := []string{
		"$(EnginePath)/Flax.flaxproj",
		"$(ProjectPath)/Plugins/Old/Old.flaxproj",
		"$(ProjectPath)/Plugins/Custom/Custom.flaxproj",
	}
	if !slices.Equal(m.References, want) {
		t.Errorf("References = %v, want %v", m.References, want)
	}
	if m.GameTarget != "GameTarget" || m.GameTargetEditor != "GameEditorTarget" {
		t.Errorf("targets = %q, %q", m.GameTarget, m.GameTargetEditor)
	}
}

func TestParseManifestInvalid(t *testing.T) {
	tests := map[string]string{
		"malformed":         `{"Name": `,
		"array root":        `[]`,
		"references object": `{"References": {}}`,
		"empty":             ``,
	}

	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseManifest([]byte(data)); !errors.Is(err, ErrInvalidManifest) {
				t.Errorf("ParseManifest() error = %v, want ErrInvalidManifest", err)
			}
		})
	}
}

func TestManifestInstalled(t *testing.T) {
	m, err := ParseManifest([]byte(manifestFixture))
	if err != nil {
		t.Fatal(err)
	}

	ref, ok := m.Installed(plugin.Descriptor{Name: "Old", ProjectFile: "Old.flaxproj"})
	if !ok || ref != "$(ProjectPath)/Plugins/Old/Old.flaxproj" {
		t.Errorf("Installed(Old) = %q, %v", ref, ok)
	}
	if _, ok := m.Installed(plugin.Descriptor{Name: "New", ProjectFile: "New.flaxproj"}); ok {
		t.Error("Installed(New) = true")
	}
	if _, ok := m.Installed(plugin.Descriptor{Name: "Empty"}); ok {
		t.Error("descriptor without project file matched")
	}
}

func TestRewriteReferences(t *testing.T) {
	projectPath := filepath.Join(t.TempDir(), "MyGame.flaxproj")

	old := plugin.NewEntry(plugin.Descriptor{Name: "Old", ProjectFile: "Old.flaxproj"})
	added := plugin.NewEntry(plugin.Descriptor{Name: "New", ProjectFile: "New.flaxproj"})
	added.SetInstalled(true)
	moved := plugin.NewEntry(plugin.Descriptor{Name: "Moved", ProjectFile: "Moved.flaxproj"})
	moved.SetInstalled(true)
	moved.SetPath(projectPath, "$(ProjectPath)/Extra/Moved/Moved.flaxproj")

	m, err := ParseManifest([]byte(manifestFixture))
	if err != nil {
		t.Fatal(err)
	}
	if err := m.RewriteReferences([]*plugin.Entry{old, added, moved}, projectPath); err != nil {
		t.Fatalf("RewriteReferences() error = %v", err)
	}

	want := []string{
		"$(EnginePath)/Flax.flaxproj",
		"$(ProjectPath)/Plugins/Custom/Custom.flaxproj",
		"$(ProjectPath)/Plugins/New/New.flaxproj",
		"$(ProjectPath)/Extra/Moved/Moved.flaxproj",
	}
	if !slices.Equal(m.References, want) {
		t.Errorf("References = %v, want %v", m.References, want)
	}

	if added.ReferencePath() != "$(ProjectPath)/Plugins/New/New.flaxproj" {
		t.Errorf("default reference not recorded: %q", added.ReferencePath())
	}
	if wantDir := filepath.Join(filepath.Dir(projectPath), "Plugins", "New"); added.Dir() != wantDir {
		t.Errorf("Dir() = %q, want %q", added.Dir(), wantDir)
	}

	out := string(m.Bytes())
	order := []string{`"Name": "MyGame"`, `"Version"`, `"References"`, `"GameTarget"`, `"GameTargetEditor"`, `"Configuration"`, `"UseCSharp": true`}
	last := -1
	for _, key := range order {
		idx := strings.Index(out, key)
		if idx <= last {
			t.Fatalf("key %s out of order in:\n%s", key, out)
		}
		last = idx
	}

	reparsed, err := ParseManifest(m.Bytes())
	if err != nil {
		t.Fatalf("rewritten manifest does not parse: %v", err)
	}
	if !slices.Equal(reparsed.References, want) {
		t.Errorf("reparsed References = %v", reparsed.References)
	}
}

func TestRewriteReferencesWithoutArray(t *testing.T) {
	e := plugin.NewEntry(plugin.Descriptor{Name: "Foo", ProjectFile: "Foo.flaxproj"})
	e.SetInstalled(true)

	m, err := ParseManifest([]byte(`{"Name": "Bare"}`))
	if err != nil {
		t.Fatal(err)
	}
	if err := m.RewriteReferences([]*plugin.Entry{e}, "/p/Bare.flaxproj"); err != nil {
		t.Fatal(err)
	}

	if !slices.Equal(m.References, []string{"$(ProjectPath)/Plugins/Foo/Foo.flaxproj"}) {
		t.Errorf("References = %v", m.References)
	}
}

func TestManifestWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "MyGame.flaxproj")
	if err := os.WriteFile(path, []byte(manifestFixture), 0o600); err != nil {
		t.Fatal(err)
	}

	m, err := ReadManifest(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.RewriteReferences(nil, path); err != nil {
		t.Fatal(err)
	}
	if err := m.Write(path); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600 preserved", info.Mode().Perm())
	}

	again, err := ReadManifest(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(again.References) != 3 {
		t.Errorf("References = %v, want all three kept", again.References)
	}
}

func TestReadManifestMissing(t *testing.T) {
	if _, err := ReadManifest(filepath.Join(t.TempDir(), "none.flaxproj")); err == nil {
		t.Error("expected error for missing file")
	}
}
