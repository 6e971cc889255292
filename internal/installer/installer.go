// Package installer implements the two interchangeable installation
// strategies: direct download of raw files and git checkouts.
package installer

import (
	"context"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"

	"github.com/jmylchreest/flaxplug/internal/hosting"
	"github.com/jmylchreest/flaxplug/internal/plugin"
	httputil "github.com/jmylchreest/flaxplug/internal/util/http"
	"github.com/jmylchreest/flaxplug/internal/vcs"
)

// Installer installs, removes and updates plugins below a base directory.
// Operations report success as a bool; failures are logged and surfaced as
// events rather than returned.
type Installer interface {
	// ProcessAll applies a partition: removals first, then installs. It
	// returns false iff any install failed. Cancellation is not a failure.
	ProcessAll(ctx context.Context, p Partition, basePath string) bool

	// ProcessOne moves a single entry to the desired state. It returns false
	// without side effects when the entry is already in that state.
	ProcessOne(ctx context.Context, e *plugin.Entry, desired bool, basePath string) bool

	// CheckForUpdate reports whether a newer revision exists upstream. Any
	// failure yields false.
	CheckForUpdate(ctx context.Context, e *plugin.Entry) bool

	// Update brings an installed plugin to the upstream head.
	Update(ctx context.Context, e *plugin.Entry) bool
}

// Host is the subset of the hosting API the direct-download strategy uses.
type Host interface {
	Tree(ctx context.Context, repo hosting.Repo, branch string) (*hosting.Tree, error)
	Compare(ctx context.Context, repo hosting.Repo, base, head string) (*hosting.Comparison, error)
	Head(ctx context.Context, repo hosting.Repo, branch string) (*hosting.Head, error)
	RawURL(repo hosting.Repo, ref, path string) string
}

// Deps carries the shared collaborators of both strategies.
type Deps struct {
	Host     Host
	HTTP     *httputil.Client
	Git      *vcs.Git
	Logger   hclog.Logger
	Notifier plugin.Notifier
}

func (d Deps) withDefaults() Deps {
	if d.HTTP == nil {
		d.HTTP = httputil.NewClient(0)
	}
	if d.Git == nil {
		d.Git = vcs.New("", nil, d.Logger)
	}
	if d.Logger == nil {
		d.Logger = hclog.NewNullLogger()
	}
	if d.Notifier == nil {
		d.Notifier = plugin.Discard
	}
	return d
}

// New returns the strategy for kind. Unknown management selects direct download.
func New(kind plugin.Management, deps Deps) Installer {
	if kind == plugin.ManagementVCS {
		return NewVCS(deps)
	}
	return NewDirect(deps)
}

// Partition is the set of entries whose desired state differs from their
// installed state.
type Partition struct {
	Install []*plugin.Entry
	Remove  []*plugin.Entry
}

// NewPartition builds a partition from a selection mapping plugin name to
// desired state. Entries missing from the selection keep their state.
func NewPartition(entries []*plugin.Entry, selection map[string]bool) Partition {
	var p Partition
	for _, e := range entries {
		desired, ok := selection[e.Name]
		if !ok || desired == e.Installed() {
			continue
		}
		if desired {
			p.Install = append(p.Install, e)
		} else {
			p.Remove = append(p.Remove, e)
		}
	}
	return p
}

// Len returns the number of entries to process.
func (p Partition) Len() int {
	return len(p.Install) + len(p.Remove)
}

// Empty reports whether there is nothing to do.
func (p Partition) Empty() bool {
	return p.Len() == 0
}

// single returns the partition moving e to desired.
func single(e *plugin.Entry, desired bool) Partition {
	if desired {
		return Partition{Install: []*plugin.Entry{e}}
	}
	return Partition{Remove: []*plugin.Entry{e}}
}

// pluginDir returns the entry's resolved directory, or basePath/name when no
// path has been set.
func pluginDir(e *plugin.Entry, basePath string) string {
	if dir := e.Dir(); dir != "" {
		return dir
	}
	return filepath.Join(basePath, e.Name)
}

// steps are the per-plugin operations a strategy plugs into runBatch.
type steps struct {
	install func(ctx context.Context, e *plugin.Entry, dir string, progress func(float64)) error
	remove  func(ctx context.Context, e *plugin.Entry, dir string) error
}

// runBatch drives a partition through a strategy's steps, handling
// cancellation, progress, events and the failure bookkeeping both
// strategies share.
func runBatch(ctx context.Context, deps Deps, kind plugin.Management, p Partition, basePath string, s steps) bool {
	logger := deps.Logger
	total := float64(p.Len())
	done := 0

	report := func(fraction float64) {
		deps.Notifier.Notify(plugin.Event{
			Type:     plugin.EventProgress,
			Progress: (float64(done) + fraction) / total,
		})
	}

	for _, e := range p.Remove {
		if ctx.Err() != nil {
			logger.Info("pass cancelled", "remaining", p.Len()-done)
			return true
		}

		dir := pluginDir(e, basePath)
		if err := s.remove(context.WithoutCancel(ctx), e, dir); err != nil {
			logger.Warn("failed to remove plugin files", "plugin", e.Name, "dir", dir, "error", err)
		}

		e.SetInstalled(false)
		deps.Notifier.Notify(plugin.Event{Type: plugin.EventRemoved, Plugin: e.Name})
		logger.Info("removed plugin", "plugin", e.Name)

		done++
		report(0)
	}

	ok := true
	for _, e := range p.Install {
		if ctx.Err() != nil {
			logger.Info("pass cancelled", "remaining", p.Len()-done)
			return ok
		}

		dir := pluginDir(e, basePath)
		if err := s.install(context.WithoutCancel(ctx), e, dir, report); err != nil {
			ok = false
			logger.Error("failed to install plugin", "plugin", e.Name, "error", err)
			e.SetInstalled(false)
			e.Disabled = true
			deps.Notifier.Notify(plugin.Event{Type: plugin.EventFailed, Plugin: e.Name, Err: err})
		} else {
			e.SetInstalled(true)
			e.SetManagement(kind)
			deps.Notifier.Notify(plugin.Event{Type: plugin.EventInstalled, Plugin: e.Name})
			logger.Info("installed plugin", "plugin", e.Name, "management", kind, "version", e.Version())
		}

		done++
		report(0)
	}

	return ok
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// writeFileAtomic writes data to a temporary file next to path and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.part")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if err := tmp.Chmod(httputil.FileMode(path)); err != nil {
		tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
