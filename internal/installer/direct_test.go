package installer

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/jmylchreest/flaxplug/internal/hosting/hostingtest"
	"github.com/jmylchreest/flaxplug/internal/plugin"
)

func fooRepo() *hostingtest.Repo {
	return &hostingtest.Repo{
		Branches: map[string]*hostingtest.Branch{
			"master": {
				CommitSHA: "c0ffee",
				TreeSHA:   "abc123",
				Files: map[string]string{
					"a.txt":   "alpha",
					"b/c.txt": "charlie",
				},
			},
		},
	}
}

func TestDirectFreshInstall(t *testing.T) {
	host, srv := newFakeHost(t)
	srv.SetRepo("o/Foo", fooRepo())

	projectDir := t.TempDir()
	base := filepath.Join(projectDir, plugin.PluginsDir)
	e := newEntry("Foo", projectDir)
	events := &recorder{}

	d := NewDirect(Deps{Host: host, Notifier: events})
	if !d.ProcessAll(context.Background(), Partition{Install: []*plugin.Entry{e}}, base) {
		t.Fatal("ProcessAll() = false")
	}

	if got := readFile(t, filepath.Join(base, "Foo", "a.txt")); got != "alpha" {
		t.Errorf("a.txt = %q", got)
	}
	if got := readFile(t, filepath.Join(base, "Foo", "b", "c.txt")); got != "charlie" {
		t.Errorf("b/c.txt = %q", got)
	}
	if got := readFile(t, filepath.Join(base, "Foo", plugin.VersionFile)); got != "abc123" {
		t.Errorf("marker = %q, want exactly abc123", got)
	}
	for _, rel := range []string{"a.txt", filepath.Join("b", "c.txt"), plugin.VersionFile} {
		assertMode(t, filepath.Join(base, "Foo", rel), 0o644)
	}

	if !e.Installed() || e.Management() != plugin.ManagementDirect || e.Version() != "abc123" {
		t.Errorf("entry state: installed=%v management=%v version=%q", e.Installed(), e.Management(), e.Version())
	}

	if n := len(events.of(plugin.EventInstalled)); n != 1 {
		t.Errorf("expected 1 installed event, got %d", n)
	}
	progress := events.of(plugin.EventProgress)
	if len(progress) == 0 || progress[len(progress)-1].Progress != 1 {
		t.Errorf("expected final progress of 1, got %v", progress)
	}
}

func TestDirectPartialBatchFailure(t *testing.T) {
	host, srv := newFakeHost(t)
	for _, name := range []string{"A", "B", "C"} {
		srv.SetRepo("o/"+name, fooRepo())
	}
	srv.Fail("/raw/o/B/", http.StatusInternalServerError)

	projectDir := t.TempDir()
	base := filepath.Join(projectDir, plugin.PluginsDir)
	a, b, c := newEntry("A", projectDir), newEntry("B", projectDir), newEntry("C", projectDir)
	events := &recorder{}

	d := NewDirect(Deps{Host: host, Notifier: events})
	if d.ProcessAll(context.Background(), Partition{Install: []*plugin.Entry{a, b, c}}, base) {
		t.Fatal("ProcessAll() = true, want false")
	}

	for _, e := range []*plugin.Entry{a, c} {
		if !e.Installed() || e.Disabled {
			t.Errorf("%s: installed=%v disabled=%v", e.Name, e.Installed(), e.Disabled)
		}
	}

	if b.Installed() || !b.Disabled {
		t.Errorf("B: installed=%v disabled=%v", b.Installed(), b.Disabled)
	}
	if b.Version() != "" || b.Dir() != "" || b.VersionPath() != "" || b.ReferencePath() != "" || b.Management() != plugin.ManagementUnknown {
		t.Error("B kept derived state after failure")
	}
	if _, err := os.Stat(filepath.Join(base, "B")); !os.IsNotExist(err) {
		t.Error("expected partial directory of B to be removed")
	}

	failed := events.of(plugin.EventFailed)
	if len(failed) != 1 || failed[0].Plugin != "B" || failed[0].Err == nil {
		t.Errorf("failed events = %v", failed)
	}
}

func TestDirectRejectsTraversal(t *testing.T) {
	host, srv := newFakeHost(t)
	repo := fooRepo()
	repo.Branches["master"].Files["../evil.txt"] = "x"
	srv.SetRepo("o/Foo", repo)

	projectDir := t.TempDir()
	base := filepath.Join(projectDir, plugin.PluginsDir)
	e := newEntry("Foo", projectDir)

	if NewDirect(Deps{Host: host}).ProcessAll(context.Background(), Partition{Install: []*plugin.Entry{e}}, base) {
		t.Fatal("ProcessAll() = true for traversal path")
	}
	if _, err := os.Stat(filepath.Join(base, "evil.txt")); !os.IsNotExist(err) {
		t.Error("file escaped the plugin directory")
	}
}

func TestDirectRemove(t *testing.T) {
	host, _ := newFakeHost(t)
	projectDir := t.TempDir()
	base := filepath.Join(projectDir, plugin.PluginsDir)

	present := installedEntry(t, "Foo", projectDir, "abc123")
	absent := newEntry("Bar", projectDir)
	absent.SetInstalled(true)
	events := &recorder{}

	d := NewDirect(Deps{Host: host, Notifier: events})
	if !d.ProcessAll(context.Background(), Partition{Remove: []*plugin.Entry{present, absent}}, base) {
		t.Fatal("ProcessAll() = false for removals")
	}

	if _, err := os.Stat(filepath.Join(base, "Foo")); !os.IsNotExist(err) {
		t.Error("expected Foo directory to be deleted")
	}
	if present.Installed() || absent.Installed() {
		t.Error("removed entries still installed")
	}
	if n := len(events.of(plugin.EventRemoved)); n != 2 {
		t.Errorf("expected 2 removed events, got %d", n)
	}
}

func TestDirectCancelledBeforeStart(t *testing.T) {
	host, srv := newFakeHost(t)
	srv.SetRepo("o/Foo", fooRepo())

	projectDir := t.TempDir()
	e := newEntry("Foo", projectDir)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if !NewDirect(Deps{Host: host}).ProcessAll(ctx, Partition{Install: []*plugin.Entry{e}}, projectDir) {
		t.Error("cancellation reported as failure")
	}
	if e.Installed() || e.Disabled {
		t.Error("cancelled entry changed state")
	}
	if n := len(srv.Requests()); n != 0 {
		t.Errorf("expected no requests, got %d", n)
	}
}

func TestDirectCheckForUpdate(t *testing.T) {
	tests := []struct {
		name   string
		marker string
		fail   bool
		want   bool
	}{
		{name: "tree sha current", marker: "abc123", want: false},
		{name: "commit sha current", marker: "c0ffee", want: false},
		{name: "outdated", marker: "0ld", want: true},
		{name: "request fails", marker: "0ld", fail: true, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, srv := newFakeHost(t)
			srv.SetRepo("o/Foo", fooRepo())
			if tt.fail {
				srv.Fail("/commits/", http.StatusForbidden)
			}

			e := installedEntry(t, "Foo", t.TempDir(), tt.marker)
			if got := NewDirect(Deps{Host: host}).CheckForUpdate(context.Background(), e); got != tt.want {
				t.Errorf("CheckForUpdate() = %v, want %v", got, tt.want)
			}
			if e.Version() != tt.marker {
				t.Errorf("Version() = %q, want marker %q", e.Version(), tt.marker)
			}
		})
	}
}

func TestDirectCheckForUpdateNotInstalled(t *testing.T) {
	host, srv := newFakeHost(t)
	e := newEntry("Foo", t.TempDir())

	if NewDirect(Deps{Host: host}).CheckForUpdate(context.Background(), e) {
		t.Error("CheckForUpdate() = true for uninstalled entry")
	}
	if len(srv.Requests()) != 0 {
		t.Error("expected no requests")
	}
}

func TestDirectUpdateRenameWithoutChanges(t *testing.T) {
	host, srv := newFakeHost(t)
	repo := fooRepo()
	repo.Comparisons = map[string]*hostingtest.Comparison{
		"c1...master": {
			Commits: []string{"c2", "c3"},
			Files: []hostingtest.ChangedFile{
				{Filename: "new.txt", PreviousFilename: "old.txt", Status: "renamed", Changes: 0},
			},
		},
	}
	srv.SetRepo("o/Foo", repo)

	e := installedEntry(t, "Foo", t.TempDir(), "c1")
	if err := os.WriteFile(filepath.Join(e.Dir(), "old.txt"), []byte("old content"), 0o644); err != nil {
		t.Fatal(err)
	}

	if !NewDirect(Deps{Host: host}).Update(context.Background(), e) {
		t.Fatal("Update() = false")
	}

	if _, err := os.Stat(filepath.Join(e.Dir(), "old.txt")); !os.IsNotExist(err) {
		t.Error("old.txt still exists")
	}
	if got := readFile(t, filepath.Join(e.Dir(), "new.txt")); got != "old content" {
		t.Errorf("new.txt = %q, want the moved content", got)
	}
	if got := readFile(t, e.VersionPath()); got != "c3" {
		t.Errorf("marker = %q, want last commit c3", got)
	}
	if e.Version() != "c3" {
		t.Errorf("Version() = %q", e.Version())
	}
	if n := srv.RequestCount("/raw/"); n != 0 {
		t.Errorf("expected no content fetch, got %d", n)
	}
}

func TestDirectUpdateAppliesChanges(t *testing.T) {
	host, srv := newFakeHost(t)
	repo := fooRepo()
	repo.Branches["master"].CommitSHA = "c2"
	repo.Branches["master"].Files["d.txt"] = "delta"
	repo.Branches["master"].Files["a.txt"] = "alpha v2"
	repo.Comparisons = map[string]*hostingtest.Comparison{
		"c1...master": {
			Commits: []string{"c2"},
			Files: []hostingtest.ChangedFile{
				{Filename: "a.txt", Status: "modified", Changes: 2},
				{Filename: "d.txt", Status: "added", Changes: 1},
				{Filename: "gone.txt", Status: "removed", Changes: 1},
				{Filename: "never-existed.txt", Status: "removed", Changes: 1},
			},
		},
	}
	srv.SetRepo("o/Foo", repo)

	e := installedEntry(t, "Foo", t.TempDir(), "c1")
	for name, content := range map[string]string{"a.txt": "alpha", "gone.txt": "bye"} {
		if err := os.WriteFile(filepath.Join(e.Dir(), name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if !NewDirect(Deps{Host: host}).Update(context.Background(), e) {
		t.Fatal("Update() = false")
	}

	if got := readFile(t, filepath.Join(e.Dir(), "a.txt")); got != "alpha v2" {
		t.Errorf("a.txt = %q", got)
	}
	if got := readFile(t, filepath.Join(e.Dir(), "d.txt")); got != "delta" {
		t.Errorf("d.txt = %q", got)
	}
	if _, err := os.Stat(filepath.Join(e.Dir(), "gone.txt")); !os.IsNotExist(err) {
		t.Error("gone.txt still exists")
	}
	if got := readFile(t, e.VersionPath()); got != "c2" {
		t.Errorf("marker = %q, want c2", got)
	}
}

func TestDirectUpdateFallsBackToFullDownload(t *testing.T) {
	host, srv := newFakeHost(t)
	repo := fooRepo()
	repo.Comparisons = map[string]*hostingtest.Comparison{
		"0ldtree...master": {Status: http.StatusNotFound},
	}
	srv.SetRepo("o/Foo", repo)

	e := installedEntry(t, "Foo", t.TempDir(), "0ldtree")

	if !NewDirect(Deps{Host: host}).Update(context.Background(), e) {
		t.Fatal("Update() = false")
	}
	if got := readFile(t, filepath.Join(e.Dir(), "b", "c.txt")); got != "charlie" {
		t.Errorf("b/c.txt = %q", got)
	}
	if got := readFile(t, e.VersionPath()); got != "abc123" {
		t.Errorf("marker = %q, want tree sha abc123", got)
	}
}

func TestDirectUpdateFailureKeepsMarker(t *testing.T) {
	host, srv := newFakeHost(t)
	repo := fooRepo()
	repo.Comparisons = map[string]*hostingtest.Comparison{
		"c1...master": {
			Commits: []string{"c2"},
			Files:   []hostingtest.ChangedFile{{Filename: "a.txt", Status: "modified", Changes: 1}},
		},
	}
	srv.SetRepo("o/Foo", repo)
	srv.Fail("/raw/", http.StatusBadGateway)

	e := installedEntry(t, "Foo", t.TempDir(), "c1")

	if NewDirect(Deps{Host: host}).Update(context.Background(), e) {
		t.Fatal("Update() = true, want false")
	}
	if got := readFile(t, e.VersionPath()); got != "c1\n" {
		t.Errorf("marker = %q, want untouched", got)
	}
}
