// Package config loads flaxplug settings from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/flaxplug/internal/plugin/catalog"
	"github.com/jmylchreest/flaxplug/internal/preflight"
	httputil "github.com/jmylchreest/flaxplug/internal/util/http"
	"github.com/jmylchreest/flaxplug/internal/vcs"
)

// Environment variables overriding file settings.
const (
	EnvCatalogURL  = "FLAXPLUG_CATALOG_URL"
	EnvCatalogFile = "FLAXPLUG_CATALOG_FILE"
	EnvPreferGit   = "FLAXPLUG_PREFER_GIT"
	EnvGit         = "FLAXPLUG_GIT"
	EnvToken       = "GITHUB_TOKEN"
)

const appName = "flaxplug"

// Config holds every user-tunable setting.
type Config struct {
	// CatalogURL is the remote plugin catalog.
	CatalogURL string `yaml:"catalog_url"`

	// CatalogFile, when set, is read instead of CatalogURL (development mode).
	CatalogFile string `yaml:"catalog_file"`

	// PreferGit installs plugins as git checkouts instead of downloading files.
	PreferGit bool `yaml:"prefer_git"`

	// GitPath is the git executable.
	GitPath string `yaml:"git_path"`

	// APIBaseURL overrides the hosting REST endpoint.
	APIBaseURL string `yaml:"api_base_url"`

	// RawBaseURL overrides the raw content endpoint.
	RawBaseURL string `yaml:"raw_base_url"`

	// CacheDir stores the fetched catalog.
	CacheDir string `yaml:"cache_dir"`

	// CacheTTL is how long the cached catalog is used without refetching.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// HTTPTimeout bounds every HTTP request.
	HTTPTimeout time.Duration `yaml:"http_timeout"`

	// EditorProcesses are executable names treated as a running editor.
	EditorProcesses []string `yaml:"editor_processes"`

	// Token authenticates hosting API requests. Only read from the environment.
	Token string `yaml:"-"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cacheDir := ""
	if dir, err := os.UserCacheDir(); err == nil {
		cacheDir = filepath.Join(dir, appName)
	}

	return &Config{
		CatalogURL:      catalog.DefaultURL,
		GitPath:         vcs.DefaultPath,
		CacheDir:        cacheDir,
		CacheTTL:        catalog.DefaultTTL,
		HTTPTimeout:     httputil.DefaultTimeout,
		EditorProcesses: slices.Clone(preflight.DefaultEditorProcesses),
	}
}

// DefaultPath returns the config file location below the user config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate config directory: %w", err)
	}
	return filepath.Join(dir, appName, "config.yaml"), nil
}

// Load reads the config file at path over the defaults and applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(expandPath(path)) // #nosec G304 - User-specified config file, intended to be read
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse YAML config: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnv overrides settings from the environment.
func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvCatalogURL); v != "" {
		c.CatalogURL = v
	}
	if v := os.Getenv(EnvCatalogFile); v != "" {
		c.CatalogFile = v
	}
	if v := os.Getenv(EnvGit); v != "" {
		c.GitPath = v
	}
	if v := os.Getenv(EnvPreferGit); v != "" {
		prefer, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", EnvPreferGit, v, err)
		}
		c.PreferGit = prefer
	}
	if v := os.Getenv(EnvToken); v != "" {
		c.Token = v
	}
	return nil
}

// applyDefaults fills values cleared by the file and expands paths.
func (c *Config) applyDefaults() {
	if c.CatalogURL == "" {
		c.CatalogURL = catalog.DefaultURL
	}
	if c.GitPath == "" {
		c.GitPath = vcs.DefaultPath
	}
	if len(c.EditorProcesses) == 0 {
		c.EditorProcesses = slices.Clone(preflight.DefaultEditorProcesses)
	}

	c.CatalogFile = expandPath(c.CatalogFile)
	c.CacheDir = expandPath(c.CacheDir)
	if c.GitPath != vcs.DefaultPath {
		c.GitPath = expandPath(c.GitPath)
	}
}

// Validate checks value ranges and URL syntax.
func (c *Config) Validate() error {
	if c.CacheTTL < 0 {
		return fmt.Errorf("cache_ttl cannot be negative")
	}
	if c.HTTPTimeout < 0 {
		return fmt.Errorf("http_timeout cannot be negative")
	}

	for key, value := range map[string]string{
		"catalog_url":  c.CatalogURL,
		"api_base_url": c.APIBaseURL,
		"raw_base_url": c.RawBaseURL,
	} {
		if value == "" {
			continue
		}
		u, err := url.Parse(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("%s must be an http(s) URL: %s", key, value)
		}
	}

	return nil
}

// Save writes the configuration as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	path = expandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { // #nosec G301 - Config directory needs standard permissions
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { // #nosec G306 - Config file is not secret
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// expandPath expands a leading ~ and environment variables.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[1:])
		}
	}
	return os.ExpandEnv(path)
}
