// Package catalog loads the list of installable plugins, either from the
// remote catalog URL or from a local file in development mode.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/jmylchreest/flaxplug/internal/plugin"
	"github.com/jmylchreest/flaxplug/internal/security"
	httputil "github.com/jmylchreest/flaxplug/internal/util/http"
)

const (
	// DefaultURL is the published plugin catalog.
	DefaultURL = "https://raw.githubusercontent.com/Crawcik/FlaxPluginManager/master/plugin_list.json"

	// DefaultTTL is how long a cached catalog is considered fresh.
	DefaultTTL = time.Hour

	cacheFileName = "plugin_list.json"
)

// ErrInvalidCatalog is returned when catalog data cannot be parsed or fails validation.
var ErrInvalidCatalog = errors.New("invalid plugin catalog")

// Options configures a Loader.
type Options struct {
	// URL is the remote catalog location. Defaults to DefaultURL.
	URL string

	// File, when set, is read instead of fetching URL.
	File string

	// CacheDir stores the last fetched catalog. Empty disables caching.
	CacheDir string

	// TTL is the cache freshness window. Defaults to DefaultTTL.
	TTL time.Duration

	Logger hclog.Logger
}

// Loader fetches and validates the plugin catalog.
type Loader struct {
	client *httputil.Client
	opts   Options
	logger hclog.Logger
}

// NewLoader creates a Loader using the shared HTTP client.
func NewLoader(client *httputil.Client, opts Options) *Loader {
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	if opts.TTL == 0 {
		opts.TTL = DefaultTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Loader{
		client: client,
		opts:   opts,
		logger: logger.Named("catalog"),
	}
}

// Load returns the catalog descriptors in catalog order.
func (l *Loader) Load(ctx context.Context) ([]plugin.Descriptor, error) {
	if l.opts.File != "" {
		l.logger.Debug("reading local catalog", "path", l.opts.File)
		data, err := os.ReadFile(l.opts.File) // #nosec G304 - Catalog path is user configuration
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog file: %w", err)
		}
		return Parse(data)
	}

	if data, ok := l.readCache(true); ok {
		if descriptors, err := Parse(data); err == nil {
			l.logger.Debug("using cached catalog")
			return descriptors, nil
		}
	}

	l.logger.Debug("fetching catalog", "url", l.opts.URL)
	data, fetchErr := l.client.Fetch(ctx, l.opts.URL, httputil.FetchOptions{})
	if fetchErr == nil {
		descriptors, err := Parse(data)
		if err != nil {
			return nil, err
		}
		if err := l.writeCache(data); err != nil {
			l.logger.Warn("failed to cache catalog", "error", err)
		}
		return descriptors, nil
	}

	// Stale cache beats no catalog at all.
	if data, ok := l.readCache(false); ok {
		if descriptors, err := Parse(data); err == nil {
			l.logger.Warn("catalog fetch failed, using stale cache", "error", fetchErr)
			return descriptors, nil
		}
	}

	return nil, fmt.Errorf("failed to fetch catalog: %w", fetchErr)
}

// Parse decodes and validates catalog JSON.
func Parse(data []byte) ([]plugin.Descriptor, error) {
	var descriptors []plugin.Descriptor
	if err := json.Unmarshal(data, &descriptors); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}

	seen := make(map[string]bool, len(descriptors))
	for i, d := range descriptors {
		if d.Name == "" {
			return nil, fmt.Errorf("%w: entry %d has no name", ErrInvalidCatalog, i)
		}
		if err := security.ValidatePluginName(d.Name); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("%w: duplicate plugin %q", ErrInvalidCatalog, d.Name)
		}
		seen[d.Name] = true

		if d.URL == "" {
			return nil, fmt.Errorf("%w: plugin %q has no url", ErrInvalidCatalog, d.Name)
		}
		if d.ProjectFile == "" {
			return nil, fmt.Errorf("%w: plugin %q has no projectFile", ErrInvalidCatalog, d.Name)
		}
	}

	return descriptors, nil
}

// Entries wraps descriptors into fresh, uninstalled entries.
func Entries(descriptors []plugin.Descriptor) []*plugin.Entry {
	entries := make([]*plugin.Entry, 0, len(descriptors))
	for _, d := range descriptors {
		entries = append(entries, plugin.NewEntry(d))
	}
	return entries
}

func (l *Loader) cachePath() string {
	return filepath.Join(l.opts.CacheDir, cacheFileName)
}

// readCache returns cached catalog data. When fresh is set, data older than
// the TTL is ignored.
func (l *Loader) readCache(fresh bool) ([]byte, bool) {
	if l.opts.CacheDir == "" {
		return nil, false
	}

	info, err := os.Stat(l.cachePath())
	if err != nil {
		return nil, false
	}
	if fresh && time.Since(info.ModTime()) >= l.opts.TTL {
		return nil, false
	}

	data, err := os.ReadFile(l.cachePath())
	if err != nil {
		return nil, false
	}
	return data, true
}

func (l *Loader) writeCache(data []byte) error {
	if l.opts.CacheDir == "" {
		return nil
	}

	if err := os.MkdirAll(l.opts.CacheDir, 0o755); err != nil { // #nosec G301 - Cache directory needs standard permissions
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	if err := os.WriteFile(l.cachePath(), data, 0o600); err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}

	return nil
}
