// Package manager orchestrates plugin synchronisation for a bound project:
// it reconciles the desired selection with installed state, dispatches to the
// installation strategies and keeps the project files in sync.
package manager

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/jmylchreest/flaxplug/internal/hosting"
	"github.com/jmylchreest/flaxplug/internal/installer"
	"github.com/jmylchreest/flaxplug/internal/plugin"
	"github.com/jmylchreest/flaxplug/internal/plugin/catalog"
	"github.com/jmylchreest/flaxplug/internal/project"
	httputil "github.com/jmylchreest/flaxplug/internal/util/http"
	"github.com/jmylchreest/flaxplug/internal/vcs"
)

var (
	// ErrSyncActive is returned when an operation starts while a pass is running.
	// The running pass is cancelled.
	ErrSyncActive = errors.New("a sync pass is already active")

	// ErrInvalidProject is returned when the project file cannot be read or parsed.
	ErrInvalidProject = errors.New("invalid project")

	// ErrNoProject is returned when an operation needs a bound project.
	ErrNoProject = errors.New("no project bound")

	// ErrUnknownPlugin is returned for names missing from the catalog.
	ErrUnknownPlugin = errors.New("unknown plugin")
)

// CatalogSource provides catalog descriptors.
type CatalogSource interface {
	Load(ctx context.Context) ([]plugin.Descriptor, error)
}

// Selection maps plugin names to their desired installed state.
type Selection map[string]bool

// SyncResult summarises a sync pass.
type SyncResult struct {
	// AllSucceeded is false when at least one install failed.
	AllSucceeded bool

	// Cancelled is set when the pass stopped before processing every plugin.
	Cancelled bool

	Installed []string
	Removed   []string
	Failed    []string

	// Skipped lists plugins the pass did not reach after cancellation.
	Skipped []string
}

// Builder provides a fluent interface for constructing a Manager.
type Builder struct {
	logger    hclog.Logger
	http      *httputil.Client
	host      installer.Host
	git       *vcs.Git
	patcher   project.Patcher
	catalog   CatalogSource
	preferVCS bool
}

// NewBuilder creates a new Manager builder with default settings.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithLogger sets the logger.
func (b *Builder) WithLogger(logger hclog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithHTTPClient sets the shared HTTP client.
func (b *Builder) WithHTTPClient(client *httputil.Client) *Builder {
	b.http = client
	return b
}

// WithGitHub sets the hosting API client.
func (b *Builder) WithGitHub(host installer.Host) *Builder {
	b.host = host
	return b
}

// WithGit sets the git wrapper.
func (b *Builder) WithGit(git *vcs.Git) *Builder {
	b.git = git
	return b
}

// WithPatcher sets the build file patcher.
func (b *Builder) WithPatcher(patcher project.Patcher) *Builder {
	b.patcher = patcher
	return b
}

// WithCatalog sets where LoadCatalog reads descriptors from.
func (b *Builder) WithCatalog(source CatalogSource) *Builder {
	b.catalog = source
	return b
}

// WithPreferVCS makes single-plugin installs use git checkouts.
func (b *Builder) WithPreferVCS(prefer bool) *Builder {
	b.preferVCS = prefer
	return b
}

// Build constructs the Manager. Unset collaborators get defaults sharing one
// HTTP client.
func (b *Builder) Build() (*Manager, error) {
	logger := b.logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	client := b.http
	if client == nil {
		client = httputil.NewClient(0)
	}

	host := b.host
	if host == nil {
		gh, err := hosting.NewGitHubClient(client.HTTPClient(), hosting.Options{})
		if err != nil {
			return nil, err
		}
		host = gh
	}

	git := b.git
	if git == nil {
		git = vcs.New("", nil, logger.Named("git"))
	}

	patcher := b.patcher
	if patcher == nil {
		patcher = project.NewBuildFilePatcher()
	}

	source := b.catalog
	if source == nil {
		source = catalog.NewLoader(client, catalog.Options{Logger: logger})
	}

	m := &Manager{
		logger:    logger.Named("manager"),
		patcher:   patcher,
		catalog:   source,
		preferVCS: b.preferVCS,
	}
	m.deps = installer.Deps{
		Host:     host,
		HTTP:     client,
		Git:      git,
		Logger:   logger.Named("installer"),
		Notifier: m,
	}

	return m, nil
}

// Manager owns the catalog entries and their state in the bound project.
// Entries must not be modified by callers while a pass is active.
type Manager struct {
	logger    hclog.Logger
	deps      installer.Deps
	patcher   project.Patcher
	catalog   CatalogSource
	preferVCS bool

	// entries and projectPath are only replaced inside a pass, under stateMu.
	stateMu     sync.RWMutex
	entries     []*plugin.Entry
	projectPath string

	mu     sync.Mutex
	cancel context.CancelFunc

	obsMu     sync.RWMutex
	observers []plugin.Notifier
}

// Subscribe registers an observer for every event the manager emits.
func (m *Manager) Subscribe(n plugin.Notifier) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.observers = append(m.observers, n)
}

// Notify implements plugin.Notifier by fanning out to observers.
func (m *Manager) Notify(ev plugin.Event) {
	m.obsMu.RLock()
	defer m.obsMu.RUnlock()
	for _, n := range m.observers {
		n.Notify(ev)
	}
}

// LoadCatalog replaces the entries with a freshly loaded catalog. Any bound
// project is released.
func (m *Manager) LoadCatalog(ctx context.Context) error {
	ctx, err := m.begin(ctx)
	if err != nil {
		return err
	}
	defer m.end()

	descriptors, err := m.catalog.Load(ctx)
	if err != nil {
		return err
	}

	entries := catalog.Entries(descriptors)
	m.setState(entries, "")
	m.logger.Debug("catalog loaded", "plugins", len(entries))
	return nil
}

func (m *Manager) setState(entries []*plugin.Entry, projectPath string) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	m.entries = entries
	m.projectPath = projectPath
}

// Plugins returns the catalog entries in catalog order.
func (m *Manager) Plugins() []*plugin.Entry {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return slices.Clone(m.entries)
}

// Plugin returns the entry named name.
func (m *Manager) Plugin(name string) (*plugin.Entry, error) {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	e, ok := plugin.Find(m.entries, name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, name)
	}
	return e, nil
}

// ProjectPath returns the bound project file, or "" when none is bound.
func (m *Manager) ProjectPath() string {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.projectPath
}

// PluginsPath returns the directory plugins are installed into.
func (m *Manager) PluginsPath() string {
	path := m.ProjectPath()
	if path == "" {
		return ""
	}
	return filepath.Join(filepath.Dir(path), plugin.PluginsDir)
}

// GitAvailable reports whether the git executable can be run.
func (m *Manager) GitAvailable(ctx context.Context) bool {
	return m.deps.Git.Available(ctx)
}

// IsProcessActive reports whether a pass is running.
func (m *Manager) IsProcessActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

// CancelAll cancels the running pass, if any.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
	}
}

// begin starts a pass. If one is already running it is cancelled and
// ErrSyncActive returned.
func (m *Manager) begin(ctx context.Context) (context.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
		return nil, ErrSyncActive
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	return ctx, nil
}

func (m *Manager) end() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

// SetProject binds the project file at path. Installed plugins are detected
// from the manifest references, classified by the presence of a version
// marker and checked for updates.
func (m *Manager) SetProject(ctx context.Context, path string) error {
	ctx, err := m.begin(ctx)
	if err != nil {
		return err
	}
	defer m.end()

	for _, e := range m.entries {
		e.SetInstalled(false)
		e.Disabled = false
	}

	manifest, err := project.ReadManifest(path)
	if err != nil {
		m.setState(m.entries, "")
		return fmt.Errorf("%w: %w", ErrInvalidProject, err)
	}
	m.setState(m.entries, path)

	for _, e := range m.entries {
		ref, ok := manifest.Installed(e.Descriptor)
		if !ok {
			continue
		}

		e.SetInstalled(true)
		e.SetPath(path, ref)

		hasMarker, err := e.LoadVersion()
		if err != nil {
			m.logger.Warn("failed to read version marker", "plugin", e.Name, "error", err)
		}
		if hasMarker {
			e.SetManagement(plugin.ManagementDirect)
		} else {
			e.SetManagement(plugin.ManagementVCS)
		}

		m.logger.Debug("found installed plugin", "plugin", e.Name, "management", e.Management(), "dir", e.Dir())
	}

	m.checkUpdates(ctx)
	return nil
}

// CheckUpdates re-runs the update check for every installed plugin and
// returns the names with an update available.
func (m *Manager) CheckUpdates(ctx context.Context) ([]string, error) {
	ctx, err := m.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer m.end()

	if m.projectPath == "" {
		return nil, ErrNoProject
	}

	return m.checkUpdates(ctx), nil
}

func (m *Manager) checkUpdates(ctx context.Context) []string {
	var names []string
	for _, e := range m.entries {
		if ctx.Err() != nil {
			break
		}
		if !e.Installed() {
			continue
		}

		e.UpdateAvailable = installer.New(e.Management(), m.deps).CheckForUpdate(ctx, e)
		if e.UpdateAvailable {
			names = append(names, e.Name)
			m.Notify(plugin.Event{Type: plugin.EventUpdateAvailable, Plugin: e.Name})
		}
	}
	return names
}

// Sync reconciles the selection with installed state. Plugins to install use
// git checkouts when preferVCS is set and direct download otherwise; removals
// use each plugin's recorded management. The manifest and build files are
// rewritten afterwards, also when the pass was cancelled.
func (m *Manager) Sync(ctx context.Context, selection Selection, preferVCS bool) (*SyncResult, error) {
	ctx, err := m.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer m.end()

	if m.projectPath == "" {
		return nil, ErrNoProject
	}
	for name := range selection {
		if _, ok := plugin.Find(m.entries, name); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, name)
		}
	}

	m.Notify(plugin.Event{Type: plugin.EventSyncStarted})
	defer m.Notify(plugin.Event{Type: plugin.EventSyncFinished})

	kind := plugin.ManagementDirect
	if preferVCS {
		kind = plugin.ManagementVCS
	}

	p := installer.NewPartition(m.entries, selection)
	m.logger.Info("starting sync", "install", len(p.Install), "remove", len(p.Remove), "management", kind)

	for _, e := range p.Install {
		e.Disabled = false
		e.SetPath(m.projectPath, plugin.DefaultReference(e.Descriptor))
	}

	// Removals owned by the other strategy run first so every removal
	// precedes every install.
	var own, other installer.Partition
	own.Install = p.Install
	for _, e := range p.Remove {
		if strategyFor(e.Management()) == kind {
			own.Remove = append(own.Remove, e)
		} else {
			other.Remove = append(other.Remove, e)
		}
	}

	otherKind := plugin.ManagementVCS
	if kind == plugin.ManagementVCS {
		otherKind = plugin.ManagementDirect
	}

	// Each batch reports its share of the overall pass.
	otherShare := 0.0
	if n := p.Len(); n > 0 {
		otherShare = float64(other.Len()) / float64(n)
	}
	otherDeps, ownDeps := m.deps, m.deps
	otherDeps.Notifier = scaledProgress{next: m, share: otherShare}
	ownDeps.Notifier = scaledProgress{next: m, offset: otherShare, share: 1 - otherShare}

	base := m.PluginsPath()
	ok := installer.New(otherKind, otherDeps).ProcessAll(ctx, other, base)
	ok = installer.New(kind, ownDeps).ProcessAll(ctx, own, base) && ok

	result := &SyncResult{
		AllSucceeded: ok,
		Cancelled:    ctx.Err() != nil,
	}
	for _, e := range p.Remove {
		if !e.Installed() {
			result.Removed = append(result.Removed, e.Name)
		} else {
			result.Skipped = append(result.Skipped, e.Name)
		}
	}
	for _, e := range p.Install {
		switch {
		case e.Installed():
			result.Installed = append(result.Installed, e.Name)
		case e.Disabled:
			result.Failed = append(result.Failed, e.Name)
		default:
			// Not reached: drop the default path set above.
			e.SetInstalled(false)
			result.Skipped = append(result.Skipped, e.Name)
		}
	}

	if err := m.updateProject(p.Remove); err != nil {
		return result, err
	}

	m.logger.Info("sync finished", "installed", len(result.Installed), "removed", len(result.Removed),
		"failed", len(result.Failed), "cancelled", result.Cancelled)
	return result, nil
}

// Apply moves a single plugin to the desired state and refreshes the project
// files. It returns false without side effects when the plugin is already in
// that state.
func (m *Manager) Apply(ctx context.Context, name string, desired bool) (bool, error) {
	ctx, err := m.begin(ctx)
	if err != nil {
		return false, err
	}
	defer m.end()

	if m.projectPath == "" {
		return false, ErrNoProject
	}
	e, err := m.Plugin(name)
	if err != nil {
		return false, err
	}
	if desired == e.Installed() {
		return false, nil
	}

	kind := strategyFor(e.Management())
	if desired {
		kind = plugin.ManagementDirect
		if m.preferVCS {
			kind = plugin.ManagementVCS
		}
		e.Disabled = false
		e.SetPath(m.projectPath, plugin.DefaultReference(e.Descriptor))
	}

	var removed []*plugin.Entry
	if !desired {
		removed = append(removed, e)
	}

	ok := installer.New(kind, m.deps).ProcessOne(ctx, e, desired, m.PluginsPath())
	if desired && !e.Installed() {
		e.SetInstalled(false)
	}
	if err := m.updateProject(removed); err != nil {
		return ok, err
	}
	return ok, nil
}

// UpdatePlugin updates an installed plugin with the strategy that installed it.
func (m *Manager) UpdatePlugin(ctx context.Context, name string) (bool, error) {
	ctx, err := m.begin(ctx)
	if err != nil {
		return false, err
	}
	defer m.end()

	if m.projectPath == "" {
		return false, ErrNoProject
	}
	e, err := m.Plugin(name)
	if err != nil {
		return false, err
	}
	if !e.Installed() || e.Management() == plugin.ManagementUnknown {
		return false, nil
	}

	if !installer.New(e.Management(), m.deps).Update(ctx, e) {
		m.Notify(plugin.Event{Type: plugin.EventFailed, Plugin: e.Name, Err: fmt.Errorf("failed to update %s", e.Name)})
		return false, nil
	}

	e.UpdateAvailable = false
	m.Notify(plugin.Event{Type: plugin.EventUpdated, Plugin: e.Name})
	return true, nil
}

// updateProject rewrites the manifest references and patches the build
// files. The editor target, when the manifest names one, is patched when an
// installed or just removed plugin declares an editor module.
func (m *Manager) updateProject(removed []*plugin.Entry) error {
	manifest, err := project.ReadManifest(m.projectPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidProject, err)
	}
	if err := manifest.RewriteReferences(m.entries, m.projectPath); err != nil {
		return err
	}
	if err := manifest.Write(m.projectPath); err != nil {
		return err
	}

	dir := filepath.Dir(m.projectPath)
	if err := m.patcher.Patch(project.BuildFilePath(dir, manifest.GameTarget), m.entries, false); err != nil {
		return err
	}

	editor := slices.ContainsFunc(m.entries, func(e *plugin.Entry) bool {
		return e.Installed() && e.EditorModuleName != ""
	}) || slices.ContainsFunc(removed, func(e *plugin.Entry) bool {
		return e.EditorModuleName != ""
	})
	if editor && manifest.GameTargetEditor != "" {
		if err := m.patcher.Patch(project.BuildFilePath(dir, manifest.GameTargetEditor), m.entries, true); err != nil {
			return err
		}
	}

	return nil
}

// scaledProgress maps a batch's progress onto its share of the whole pass.
type scaledProgress struct {
	next   plugin.Notifier
	offset float64
	share  float64
}

func (s scaledProgress) Notify(ev plugin.Event) {
	if ev.Type == plugin.EventProgress {
		ev.Progress = s.offset + ev.Progress*s.share
	}
	s.next.Notify(ev)
}

// strategyFor maps unknown management onto direct download.
func strategyFor(kind plugin.Management) plugin.Management {
	if kind == plugin.ManagementVCS {
		return plugin.ManagementVCS
	}
	return plugin.ManagementDirect
}
