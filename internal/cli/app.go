package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jmylchreest/flaxplug/internal/config"
	"github.com/jmylchreest/flaxplug/internal/hosting"
	"github.com/jmylchreest/flaxplug/internal/plugin/catalog"
	"github.com/jmylchreest/flaxplug/internal/plugin/manager"
	"github.com/jmylchreest/flaxplug/internal/preflight"
	httputil "github.com/jmylchreest/flaxplug/internal/util/http"
	"github.com/jmylchreest/flaxplug/internal/vcs"
)

const projectExt = ".flaxproj"

// app carries the state shared by commands once setup has run.
type app struct {
	opts    *rootOptions
	cfg     *config.Config
	logger  hclog.Logger
	manager *manager.Manager
	styles  *styles
	out     io.Writer
	errOut  io.Writer
}

// setup loads configuration and builds the plugin manager.
func (a *app) setup(cmd *cobra.Command) error {
	a.out = cmd.OutOrStdout()
	a.errOut = cmd.ErrOrStderr()

	path := a.opts.configPath
	if path == "" {
		if p, err := config.DefaultPath(); err == nil {
			path = p
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	applyFlags(cmd.Flags(), a.opts, cfg)
	a.cfg = cfg

	a.styles = newStyles(!a.opts.noColor && isTerminal(a.out))
	a.logger = newLogger(a.opts, a.errOut)

	client := httputil.NewClient(cfg.HTTPTimeout)

	host, err := hosting.NewGitHubClient(client.HTTPClient(), hosting.Options{
		APIBaseURL: cfg.APIBaseURL,
		RawBaseURL: cfg.RawBaseURL,
		Token:      cfg.Token,
	})
	if err != nil {
		return fmt.Errorf("failed to create hosting client: %w", err)
	}

	loader := catalog.NewLoader(client, catalog.Options{
		URL:      cfg.CatalogURL,
		File:     cfg.CatalogFile,
		CacheDir: cfg.CacheDir,
		TTL:      cfg.CacheTTL,
		Logger:   a.logger,
	})

	a.manager, err = manager.NewBuilder().
		WithLogger(a.logger).
		WithHTTPClient(client).
		WithGitHub(host).
		WithGit(vcs.New(cfg.GitPath, nil, a.logger.Named("git"))).
		WithCatalog(loader).
		WithPreferVCS(cfg.PreferGit).
		Build()
	if err != nil {
		return fmt.Errorf("failed to create plugin manager: %w", err)
	}

	a.logger.Debug("configuration loaded", "config", path, "catalog", cfg.CatalogURL, "prefer_git", cfg.PreferGit)
	return nil
}

// applyFlags lets explicitly set flags override file and environment settings.
func applyFlags(flags *pflag.FlagSet, opts *rootOptions, cfg *config.Config) {
	if flags.Changed("catalog-url") {
		cfg.CatalogURL = opts.catalogURL
	}
	if flags.Changed("catalog-file") {
		cfg.CatalogFile = opts.catalogFile
	}
	if flags.Changed("git") {
		cfg.PreferGit = opts.git
	}
}

func newLogger(opts *rootOptions, w io.Writer) hclog.Logger {
	level := hclog.Info
	switch {
	case opts.verbose:
		level = hclog.Debug
	case opts.quiet:
		level = hclog.Error
	}

	colour := hclog.AutoColor
	if opts.noColor {
		colour = hclog.ColorOff
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:   "flaxplug",
		Level:  level,
		Output: w,
		Color:  colour,
	})
}

// openProject loads the catalog and binds the project named by --project.
func (a *app) openProject(ctx context.Context) error {
	path, err := resolveProject(a.opts.projectPath)
	if err != nil {
		return err
	}

	if err := a.manager.LoadCatalog(ctx); err != nil {
		return fmt.Errorf("failed to load plugin catalog: %w", err)
	}
	if err := a.manager.SetProject(ctx, path); err != nil {
		return err
	}
	return nil
}

// resolveProject returns the absolute project file path for a file or a
// directory holding exactly one project file.
func resolveProject(path string) (string, error) {
	if path == "" {
		path = "."
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("project not found: %w", err)
	}

	if info.IsDir() {
		matches, err := filepath.Glob(filepath.Join(path, "*"+projectExt))
		if err != nil {
			return "", err
		}
		switch len(matches) {
		case 0:
			return "", fmt.Errorf("%w: no %s file in %s", manager.ErrNoProject, projectExt, path)
		case 1:
			path = matches[0]
		default:
			return "", fmt.Errorf("multiple %s files in %s, pass one with --project", projectExt, path)
		}
	}

	return filepath.Abs(path)
}

// requireGit fails when git mode is requested but git cannot be run.
func (a *app) requireGit(ctx context.Context) error {
	if !a.cfg.PreferGit || a.manager.GitAvailable(ctx) {
		return nil
	}
	return fmt.Errorf("git mode requested but %q could not be run", a.cfg.GitPath)
}

// warnRunningEditors prints a warning for every running editor process.
func (a *app) warnRunningEditors() {
	running, err := preflight.NewChecker(a.cfg.EditorProcesses).RunningEditors()
	if err != nil {
		a.logger.Debug("process check failed", "error", err)
		return
	}
	for _, p := range running {
		fmt.Fprintf(a.errOut, "%s %s (pid %d) is running, close it if plugin files or build scripts cannot be written\n",
			a.styles.warn.Sprint("warning:"), p.Name, p.PID)
	}
}

// watch subscribes a progress printer for the duration of a command.
func (a *app) watch() *progressPrinter {
	p := newProgressPrinter(a.out, a.styles, a.opts.quiet)
	a.manager.Subscribe(p)
	return p
}

var errCancelled = errors.New("cancelled")
