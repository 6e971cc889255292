package installer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"

	"github.com/jmylchreest/flaxplug/internal/hosting"
	"github.com/jmylchreest/flaxplug/internal/plugin"
	"github.com/jmylchreest/flaxplug/internal/security"
)

// Compare file statuses.
const (
	statusRemoved = "removed"
	statusRenamed = "renamed"
)

// Direct installs plugins by downloading every file of the branch tree and
// keeps a version marker next to them.
type Direct struct {
	deps   Deps
	logger hclog.Logger
}

// NewDirect creates the direct-download strategy.
func NewDirect(deps Deps) *Direct {
	deps = deps.withDefaults()
	return &Direct{deps: deps, logger: deps.Logger.Named("direct")}
}

// ProcessAll implements Installer.
func (d *Direct) ProcessAll(ctx context.Context, p Partition, basePath string) bool {
	if p.Empty() {
		return true
	}

	deps := d.deps
	deps.Logger = d.logger
	return runBatch(ctx, deps, plugin.ManagementDirect, p, basePath, steps{
		install: d.install,
		remove: func(_ context.Context, _ *plugin.Entry, dir string) error {
			return os.RemoveAll(dir)
		},
	})
}

// ProcessOne implements Installer.
func (d *Direct) ProcessOne(ctx context.Context, e *plugin.Entry, desired bool, basePath string) bool {
	if desired == e.Installed() {
		return false
	}
	return d.ProcessAll(ctx, single(e, desired), basePath)
}

func (d *Direct) install(ctx context.Context, e *plugin.Entry, dir string, progress func(float64)) (err error) {
	repo, err := hosting.ParseRepoURL(e.URL)
	if err != nil {
		return err
	}

	// Only clean up directories this install created.
	if !exists(dir) {
		defer func() {
			if err != nil {
				if rmErr := os.RemoveAll(dir); rmErr != nil {
					d.logger.Warn("failed to remove partial plugin directory", "dir", dir, "error", rmErr)
				}
			}
		}()
	}

	sha, err := d.download(ctx, e, repo, dir, progress)
	if err != nil {
		return err
	}

	e.SetVersion(sha)
	return nil
}

// download fetches the whole branch tree into dir and writes the tree SHA as
// the version marker.
func (d *Direct) download(ctx context.Context, e *plugin.Entry, repo hosting.Repo, dir string, progress func(float64)) (string, error) {
	branch := e.BranchOrDefault()

	tree, err := d.deps.Host.Tree(ctx, repo, branch)
	if err != nil {
		return "", err
	}

	d.logger.Debug("downloading plugin", "plugin", e.Name, "files", len(tree.Files), "tree", tree.SHA)

	for i, file := range tree.Files {
		if err := security.ValidateRelativePath(file, dir); err != nil {
			return "", fmt.Errorf("unsafe file in %s: %w", repo, err)
		}

		dest := filepath.Join(dir, filepath.FromSlash(file))
		if err := d.deps.HTTP.Download(ctx, d.deps.Host.RawURL(repo, branch, file), dest); err != nil {
			return "", fmt.Errorf("failed to download %s: %w", file, err)
		}

		progress(float64(i+1) / float64(len(tree.Files)))
	}

	if err := os.MkdirAll(dir, 0o755); err != nil { // #nosec G301 - Plugin directories need standard permissions
		return "", fmt.Errorf("failed to create plugin directory: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, plugin.VersionFile), []byte(tree.SHA)); err != nil {
		return "", fmt.Errorf("failed to write version marker: %w", err)
	}

	return tree.SHA, nil
}

// CheckForUpdate implements Installer. An update is needed when the marker
// matches neither the head commit nor its tree.
func (d *Direct) CheckForUpdate(ctx context.Context, e *plugin.Entry) bool {
	marker, ok := d.marker(e)
	if !ok {
		return false
	}

	repo, err := hosting.ParseRepoURL(e.URL)
	if err != nil {
		d.logger.Debug("cannot check for update", "plugin", e.Name, "error", err)
		return false
	}

	head, err := d.deps.Host.Head(ctx, repo, e.BranchOrDefault())
	if err != nil {
		d.logger.Debug("update check failed", "plugin", e.Name, "error", err)
		return false
	}

	return marker != head.CommitSHA && marker != head.TreeSHA
}

// Update implements Installer. Changed files are applied from a comparison
// between the marker and the branch head; a marker the comparison rejects
// triggers a full re-download.
func (d *Direct) Update(ctx context.Context, e *plugin.Entry) bool {
	marker, ok := d.marker(e)
	if !ok {
		return false
	}

	repo, err := hosting.ParseRepoURL(e.URL)
	if err != nil {
		d.logger.Error("cannot update plugin", "plugin", e.Name, "error", err)
		return false
	}

	dir := e.Dir()
	cmp, err := d.deps.Host.Compare(ctx, repo, marker, e.BranchOrDefault())
	if err != nil {
		switch hosting.StatusCode(err) {
		case http.StatusNotFound, http.StatusUnprocessableEntity:
			d.logger.Debug("comparison rejected marker, downloading full tree", "plugin", e.Name, "marker", marker)
			sha, err := d.download(ctx, e, repo, dir, func(float64) {})
			if err != nil {
				d.logger.Error("failed to update plugin", "plugin", e.Name, "error", err)
				return false
			}
			e.SetVersion(sha)
			return true
		}
		d.logger.Error("failed to compare revisions", "plugin", e.Name, "error", err)
		return false
	}

	if cmp.HeadSHA == "" {
		return true
	}

	for _, f := range cmp.Files {
		if err := d.apply(ctx, repo, cmp.HeadSHA, dir, f); err != nil {
			d.logger.Error("failed to update plugin", "plugin", e.Name, "file", f.Filename, "error", err)
			return false
		}
	}

	if err := writeFileAtomic(e.VersionPath(), []byte(cmp.HeadSHA)); err != nil {
		d.logger.Error("failed to write version marker", "plugin", e.Name, "error", err)
		return false
	}
	e.SetVersion(cmp.HeadSHA)

	d.logger.Info("updated plugin", "plugin", e.Name, "files", len(cmp.Files), "version", cmp.HeadSHA)
	return true
}

func (d *Direct) apply(ctx context.Context, repo hosting.Repo, head, dir string, f hosting.ChangedFile) error {
	if err := security.ValidateRelativePath(f.Filename, dir); err != nil {
		return err
	}
	dest := filepath.Join(dir, filepath.FromSlash(f.Filename))

	fetch := func() error {
		rawURL := f.RawURL
		if rawURL == "" {
			rawURL = d.deps.Host.RawURL(repo, head, f.Filename)
		}
		return d.deps.HTTP.Download(ctx, rawURL, dest)
	}

	switch f.Status {
	case statusRemoved:
		if err := os.Remove(dest); err != nil && !errors.Is(err, os.ErrNotExist) {
			d.logger.Warn("failed to delete removed file", "path", dest, "error", err)
		}
		return nil

	case statusRenamed:
		if err := security.ValidateRelativePath(f.PreviousFilename, dir); err != nil {
			return err
		}
		prev := filepath.Join(dir, filepath.FromSlash(f.PreviousFilename))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil { // #nosec G301 - Plugin directories need standard permissions
			return err
		}
		if err := os.Rename(prev, dest); err != nil {
			if f.Changes == 0 {
				return fmt.Errorf("failed to move %s: %w", f.PreviousFilename, err)
			}
			d.logger.Debug("rename source missing, fetching", "path", f.Filename)
		}
		if f.Changes == 0 {
			return nil
		}
		return fetch()

	default:
		// added, modified, copied, changed
		return fetch()
	}
}

// marker returns the recorded version, reading the marker file when the
// entry has none loaded.
func (d *Direct) marker(e *plugin.Entry) (string, bool) {
	if !e.Installed() || e.Dir() == "" {
		return "", false
	}
	if e.Version() == "" {
		if _, err := e.LoadVersion(); err != nil {
			d.logger.Debug("failed to read version marker", "plugin", e.Name, "error", err)
			return "", false
		}
	}
	return e.Version(), e.Version() != ""
}
