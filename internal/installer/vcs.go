package installer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"

	"github.com/jmylchreest/flaxplug/internal/plugin"
	"github.com/jmylchreest/flaxplug/internal/security"
	"github.com/jmylchreest/flaxplug/internal/vcs"
)

// gitmodulesFile is the submodule registry, kept in the project root.
const gitmodulesFile = ".gitmodules"

// VCS installs plugins as git submodules when the plugins directory is part
// of a repository, and as plain clones otherwise.
type VCS struct {
	deps   Deps
	git    *vcs.Git
	logger hclog.Logger
}

// NewVCS creates the version-control strategy.
func NewVCS(deps Deps) *VCS {
	deps = deps.withDefaults()
	return &VCS{deps: deps, git: deps.Git, logger: deps.Logger.Named("vcs")}
}

// ProcessAll implements Installer.
func (v *VCS) ProcessAll(ctx context.Context, p Partition, basePath string) bool {
	if p.Empty() || ctx.Err() != nil {
		return true
	}

	work := context.WithoutCancel(ctx)

	if err := os.MkdirAll(basePath, 0o755); err != nil { // #nosec G301 - Plugin directories need standard permissions
		v.logger.Error("failed to create plugins directory", "path", basePath, "error", err)
	}

	submodule := v.git.IsRepository(work, basePath)
	v.logger.Debug("checked repository context", "path", basePath, "submodule", submodule)

	added := 0
	deps := v.deps
	deps.Logger = v.logger
	ok := runBatch(ctx, deps, plugin.ManagementVCS, p, basePath, steps{
		install: func(work context.Context, e *plugin.Entry, dir string, _ func(float64)) error {
			if err := v.install(work, e, basePath, submodule, ctx.Err); err != nil {
				return err
			}
			added++
			return nil
		},
		remove: func(ctx context.Context, e *plugin.Entry, dir string) error {
			return v.remove(ctx, e, dir, basePath, submodule)
		},
	})

	if submodule && added > 0 {
		if ctx.Err() != nil {
			v.logger.Warn("pass cancelled before nested submodules were updated", "path", basePath)
			return ok
		}
		if err := v.git.SubmoduleUpdate(work, basePath); err != nil {
			v.logger.Warn("failed to update submodules", "error", err)
		}
	}

	return ok
}

// ProcessOne implements Installer.
func (v *VCS) ProcessOne(ctx context.Context, e *plugin.Entry, desired bool, basePath string) bool {
	if desired == e.Installed() {
		return false
	}
	return v.ProcessAll(ctx, single(e, desired), basePath)
}

// install checks out e. cancelled reports the state of the pass; once it is
// set no further git process is started for this plugin.
func (v *VCS) install(ctx context.Context, e *plugin.Entry, basePath string, submodule bool, cancelled func() error) error {
	if err := security.ValidateRepositoryURL(e.URL); err != nil {
		return err
	}
	if err := security.ValidatePluginName(e.Name); err != nil {
		return err
	}

	var err error
	if submodule {
		err = v.git.SubmoduleAdd(ctx, basePath, e.URL, e.Name, e.Branch)
	} else {
		err = v.git.Clone(ctx, basePath, e.URL, e.Name, e.Branch)
	}
	if err != nil {
		return fmt.Errorf("failed to check out %s: %w", e.URL, err)
	}
	if cancelled() != nil {
		v.logger.Info("pass cancelled, skipping revision lookup", "plugin", e.Name)
		return nil
	}

	if rev, err := v.git.RevParse(ctx, filepath.Join(basePath, e.Name), "HEAD"); err == nil {
		e.SetVersion(rev)
	}
	return nil
}

func (v *VCS) remove(ctx context.Context, e *plugin.Entry, dir, basePath string, submodule bool) error {
	gitmodules := filepath.Join(basePath, "..", gitmodulesFile)

	if submodule && exists(gitmodules) {
		if err := v.git.SubmoduleDeinit(ctx, basePath, e.Name); err != nil {
			v.logger.Warn("failed to deinit submodule", "plugin", e.Name, "error", err)
		}
		if _, err := removeSubmoduleStanza(gitmodules, e.Name); err != nil {
			v.logger.Warn("failed to edit submodule registry", "plugin", e.Name, "error", err)
		}
	}

	return os.RemoveAll(dir)
}

// CheckForUpdate implements Installer. The local branch tip is compared with
// the origin tracking branch after a best-effort fetch; the local revision is
// recorded as the entry's version.
func (v *VCS) CheckForUpdate(ctx context.Context, e *plugin.Entry) bool {
	dir := e.Dir()
	if !e.Installed() || dir == "" {
		return false
	}
	branch := e.BranchOrDefault()

	if err := v.git.Fetch(ctx, dir, vcs.DefaultRemote, branch); err != nil {
		v.logger.Debug("fetch failed, comparing against last known remote state", "plugin", e.Name, "error", err)
	}
	if ctx.Err() != nil {
		return false
	}

	local, err := v.git.RevParse(ctx, dir, branch)
	if err != nil {
		v.logger.Debug("failed to resolve local revision", "plugin", e.Name, "error", err)
		return false
	}
	e.SetVersion(local)
	if ctx.Err() != nil {
		return false
	}

	remote, err := v.git.RevParse(ctx, dir, vcs.DefaultRemote+"/"+branch)
	if err != nil {
		v.logger.Debug("failed to resolve remote revision", "plugin", e.Name, "error", err)
		return false
	}

	return local != remote
}

// Update implements Installer. Success is the exit status of git pull.
func (v *VCS) Update(ctx context.Context, e *plugin.Entry) bool {
	dir := e.Dir()
	if !e.Installed() || dir == "" {
		return false
	}

	if err := v.git.Pull(ctx, dir, vcs.DefaultRemote, e.BranchOrDefault()); err != nil {
		v.logger.Error("failed to pull plugin", "plugin", e.Name, "error", err)
		return false
	}

	if rev, err := v.git.RevParse(ctx, dir, "HEAD"); err == nil {
		e.SetVersion(rev)
	}

	v.logger.Info("updated plugin", "plugin", e.Name, "version", e.Version())
	return true
}
