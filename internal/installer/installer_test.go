package installer

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/jmylchreest/flaxplug/internal/hosting"
	"github.com/jmylchreest/flaxplug/internal/hosting/hostingtest"
	"github.com/jmylchreest/flaxplug/internal/plugin"
	"github.com/jmylchreest/flaxplug/internal/vcs"
)

// assertMode checks the permission bits of path.
func assertMode(t *testing.T, path string, want os.FileMode) {
	t.Helper()
	if runtime.GOOS == "windows" {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := info.Mode().Perm(); got != want {
		t.Errorf("%s mode = %v, want %v", filepath.Base(path), got, want)
	}
}

// recorder collects events.
type recorder struct {
	mu     sync.Mutex
	events []plugin.Event
}

func (r *recorder) Notify(ev plugin.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) of(typ plugin.EventType) []plugin.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []plugin.Event
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// newEntry creates an entry whose paths resolve below projectDir/Plugins.
func newEntry(name, projectDir string) *plugin.Entry {
	e := plugin.NewEntry(plugin.Descriptor{
		Name:        name,
		URL:         "https://github.com/o/" + name,
		ProjectFile: name + ".flaxproj",
	})
	e.SetPath(filepath.Join(projectDir, "Game.flaxproj"), plugin.DefaultReference(e.Descriptor))
	return e
}

// installedEntry creates an installed direct-download entry with a marker on disk.
func installedEntry(t *testing.T, name, projectDir, marker string) *plugin.Entry {
	t.Helper()

	e := newEntry(name, projectDir)
	e.SetInstalled(true)
	e.SetManagement(plugin.ManagementDirect)

	if err := os.MkdirAll(e.Dir(), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(e.VersionPath(), []byte(marker+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return e
}

func newFakeHost(t *testing.T) (*hosting.GitHubClient, *hostingtest.Server) {
	t.Helper()

	srv := hostingtest.NewServer()
	t.Cleanup(srv.Close)

	client, err := hosting.NewGitHubClient(srv.Client(), hosting.Options{
		APIBaseURL: srv.APIBaseURL(),
		RawBaseURL: srv.RawBaseURL(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return client, srv
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return string(data)
}

func TestNewPartition(t *testing.T) {
	dir := t.TempDir()
	a := newEntry("A", dir)
	b := newEntry("B", dir)
	c := newEntry("C", dir)
	d := newEntry("D", dir)
	b.SetInstalled(true)
	c.SetInstalled(true)

	p := NewPartition([]*plugin.Entry{a, b, c, d}, map[string]bool{
		"A": true,  // install
		"B": true,  // already installed
		"C": false, // remove
	})

	if len(p.Install) != 1 || p.Install[0] != a {
		t.Errorf("Install = %v, want [A]", p.Install)
	}
	if len(p.Remove) != 1 || p.Remove[0] != c {
		t.Errorf("Remove = %v, want [C]", p.Remove)
	}
	if p.Len() != 2 || p.Empty() {
		t.Errorf("Len() = %d, Empty() = %v", p.Len(), p.Empty())
	}
}

func TestNewSelectsStrategy(t *testing.T) {
	if _, ok := New(plugin.ManagementVCS, Deps{}).(*VCS); !ok {
		t.Error("expected VCS strategy for ManagementVCS")
	}
	if _, ok := New(plugin.ManagementDirect, Deps{}).(*Direct); !ok {
		t.Error("expected Direct strategy for ManagementDirect")
	}
	if _, ok := New(plugin.ManagementUnknown, Deps{}).(*Direct); !ok {
		t.Error("expected Direct strategy for ManagementUnknown")
	}
}

func TestProcessAllEmptyPartition(t *testing.T) {
	host, srv := newFakeHost(t)
	runner := vcs.NewMockRunner()
	events := &recorder{}

	deps := Deps{Host: host, Git: vcs.New("", runner, nil), Notifier: events}
	base := filepath.Join(t.TempDir(), "Plugins")

	for _, inst := range []Installer{NewDirect(deps), NewVCS(deps)} {
		if !inst.ProcessAll(context.Background(), Partition{}, base) {
			t.Errorf("%T: ProcessAll(empty) = false", inst)
		}
	}

	if n := len(srv.Requests()); n != 0 {
		t.Errorf("expected no HTTP requests, got %d", n)
	}
	if n := runner.CallCount(); n != 0 {
		t.Errorf("expected no git processes, got %d", n)
	}
	if _, err := os.Stat(base); !os.IsNotExist(err) {
		t.Error("expected no filesystem changes")
	}
	if len(events.events) != 0 {
		t.Errorf("expected no events, got %v", events.events)
	}
}

func TestProcessOneSameState(t *testing.T) {
	host, srv := newFakeHost(t)
	runner := vcs.NewMockRunner()
	deps := Deps{Host: host, Git: vcs.New("", runner, nil)}
	dir := t.TempDir()

	installed := newEntry("Foo", dir)
	installed.SetInstalled(true)
	missing := newEntry("Bar", dir)

	for _, inst := range []Installer{NewDirect(deps), NewVCS(deps)} {
		if inst.ProcessOne(context.Background(), installed, true, dir) {
			t.Errorf("%T: ProcessOne(installed, true) = true", inst)
		}
		if inst.ProcessOne(context.Background(), missing, false, dir) {
			t.Errorf("%T: ProcessOne(missing, false) = true", inst)
		}
	}

	if !installed.Installed() || installed.Dir() == "" {
		t.Error("installed entry was modified")
	}
	if len(srv.Requests()) != 0 || runner.CallCount() != 0 {
		t.Error("expected no side effects")
	}
}

func TestRemoveSubmoduleStanzaWithBranch(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".gitmodules")
	content := "[submodule \"Plugins/Bar\"]\n\tpath = Plugins/Bar\n\turl = https://github.com/o/Bar\n" +
		"[submodule \"Plugins/Foo\"]\n\tpath = Plugins/Foo\n\turl = https://github.com/o/Foo\n\tbranch = develop\n" +
		"\n[submodule \"Plugins/Baz\"]\n\tpath = Plugins/Baz\n\turl = https://github.com/o/Baz\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	if removed, err := removeSubmoduleStanza(path, "Foo"); err != nil || !removed {
		t.Fatalf("removeSubmoduleStanza() = %v, %v", removed, err)
	}

	want := "[submodule \"Plugins/Bar\"]\n\tpath = Plugins/Bar\n\turl = https://github.com/o/Bar\n" +
		"\n[submodule \"Plugins/Baz\"]\n\tpath = Plugins/Baz\n\turl = https://github.com/o/Baz\n"
	if got := readFile(t, path); got != want {
		t.Errorf("file = %q, want %q", got, want)
	}
}

func TestStanzaNames(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{`[submodule "Foo"]`, true},
		{`[submodule "Plugins/Foo"]`, true},
		{"\t[submodule \"Foo\"]\r", true},
		{`[submodule "FooBar"]`, false},
		{`[submodule "Plugins/BarFoo"]`, false},
		{"\tpath = Foo", false},
		{`[submodule]`, false},
	}

	for _, tt := range tests {
		if got := stanzaNames(tt.line, "Foo"); got != tt.want {
			t.Errorf("stanzaNames(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestRemoveSubmoduleStanza(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".gitmodules")
	content := "[submodule \"Plugins/Bar\"]\n\tpath = Plugins/Bar\n\turl = https://github.com/o/Bar\n" +
		"[submodule \"Plugins/Foo\"]\n\tpath = Plugins/Foo\n\turl = https://github.com/o/Foo\n" +
		"[submodule \"Plugins/Baz\"]\n\tpath = Plugins/Baz\n\turl = https://github.com/o/Baz\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, 0o644); err != nil {
		t.Fatal(err)
	}

	removed, err := removeSubmoduleStanza(path, "Foo")
	if err != nil {
		t.Fatalf("removeSubmoduleStanza() error = %v", err)
	}
	if !removed {
		t.Fatal("expected stanza to be removed")
	}

	want := "[submodule \"Plugins/Bar\"]\n\tpath = Plugins/Bar\n\turl = https://github.com/o/Bar\n" +
		"[submodule \"Plugins/Baz\"]\n\tpath = Plugins/Baz\n\turl = https://github.com/o/Baz\n"
	if got := readFile(t, path); got != want {
		t.Errorf("file = %q, want %q", got, want)
	}
	assertMode(t, path, 0o644)

	removed, err = removeSubmoduleStanza(path, "Foo")
	if err != nil || removed {
		t.Errorf("second removal = %v, %v; want false, nil", removed, err)
	}
	if got := readFile(t, path); got != want {
		t.Error("file changed when nothing matched")
	}
}
