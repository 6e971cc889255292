package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	httputil "github.com/jmylchreest/flaxplug/internal/util/http"
)

const sampleCatalog = `[
  {
    "name": "Foo",
    "description": "Foo plugin",
    "tag": "beta",
    "url": "https://github.com/example/Foo",
    "moduleName": "Foo",
    "projectFile": "Foo.flaxproj"
  },
  {
    "name": "Bar",
    "description": "Bar plugin",
    "url": "https://github.com/example/Bar",
    "branch": "main",
    "moduleName": "Bar",
    "editorModuleName": "BarEditor",
    "projectFile": "Bar.flaxproj",
    "platforms": ["Windows", "Linux"]
  }
]`

func TestParse(t *testing.T) {
	descriptors, err := Parse([]byte(sampleCatalog))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if len(descriptors) != 2 {
		t.Fatalf("expected 2 descriptors, got %d", len(descriptors))
	}

	bar := descriptors[1]
	if bar.Branch != "main" || bar.EditorModuleName != "BarEditor" {
		t.Errorf("unexpected descriptor: %+v", bar)
	}
	if len(bar.Platforms) != 2 || bar.Platforms[0] != "Windows" {
		t.Errorf("platforms = %v", bar.Platforms)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"malformed":      `[{"name": "Foo"`,
		"missing name":   `[{"url": "https://github.com/a/b", "projectFile": "b.flaxproj"}]`,
		"missing url":    `[{"name": "Foo", "projectFile": "Foo.flaxproj"}]`,
		"missing file":   `[{"name": "Foo", "url": "https://github.com/a/b"}]`,
		"duplicate":      `[{"name": "Foo", "url": "u", "projectFile": "p"}, {"name": "Foo", "url": "u", "projectFile": "p"}]`,
		"traversal name": `[{"name": "../Foo", "url": "u", "projectFile": "p"}]`,
	}

	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(data))
			if !errors.Is(err, ErrInvalidCatalog) {
				t.Errorf("Parse() error = %v, want ErrInvalidCatalog", err)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugin_list.json")
	if err := os.WriteFile(path, []byte(sampleCatalog), 0o600); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(httputil.NewClient(0), Options{File: path, URL: "http://unused.invalid"})
	descriptors, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(descriptors) != 2 {
		t.Errorf("expected 2 descriptors, got %d", len(descriptors))
	}
}

func TestLoadFromURLUsesCache(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Write([]byte(sampleCatalog))
	}))
	defer server.Close()

	cacheDir := t.TempDir()
	loader := NewLoader(httputil.NewClient(0), Options{URL: server.URL, CacheDir: cacheDir, TTL: time.Hour})

	for i := 0; i < 2; i++ {
		if _, err := loader.Load(context.Background()); err != nil {
			t.Fatalf("Load() #%d error = %v", i, err)
		}
	}

	if hits.Load() != 1 {
		t.Errorf("server hit %d times, want 1", hits.Load())
	}
}

func TestLoadFallsBackToStaleCache(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cacheDir := t.TempDir()
	cacheFile := filepath.Join(cacheDir, cacheFileName)
	if err := os.WriteFile(cacheFile, []byte(sampleCatalog), 0o600); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(cacheFile, old, old); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(httputil.NewClient(0), Options{URL: server.URL, CacheDir: cacheDir, TTL: time.Hour})
	descriptors, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(descriptors) != 2 {
		t.Errorf("expected 2 descriptors from stale cache, got %d", len(descriptors))
	}
}

func TestLoadFetchError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	loader := NewLoader(httputil.NewClient(0), Options{URL: server.URL})
	if _, err := loader.Load(context.Background()); err == nil {
		t.Error("expected error when catalog cannot be fetched")
	}
}

func TestEntries(t *testing.T) {
	descriptors, _ := Parse([]byte(sampleCatalog))
	entries := Entries(descriptors)

	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e.Installed() {
			t.Errorf("entry %s should start uninstalled", e.Name)
		}
	}
}
