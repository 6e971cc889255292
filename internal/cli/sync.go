package cli

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/flaxplug/internal/plugin"
	"github.com/jmylchreest/flaxplug/internal/plugin/manager"
)

type syncOptions struct {
	add    []string
	remove []string
	only   []string
}

func newSyncCmd(a *app) *cobra.Command {
	opts := &syncOptions{}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Install and remove plugins in one pass",
		Long: `Reconcile the project with a selection of plugins.

Plugins named with --add are installed and plugins named with --remove are
uninstalled. --only selects the complete set: every other installed plugin is
removed. Removals run before installs. The project manifest and the game build
scripts are rewritten afterwards, also when the pass is interrupted.

New plugins are downloaded file by file unless --git (or prefer_git) is set, in
which case they are cloned, as submodules when the project is a git repository.

Examples:
  flaxplug sync --add FlaxCommunityUtils,Jolt
  flaxplug sync --remove OldPlugin --git
  flaxplug sync --only Jolt -p ~/Projects/MyGame`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(opts.add)+len(opts.remove)+len(opts.only) == 0 {
				return errors.New("nothing selected, use --add, --remove or --only")
			}
			if err := a.setup(cmd); err != nil {
				return err
			}
			if err := a.openProject(cmd.Context()); err != nil {
				return err
			}

			selection, err := buildSelection(a.manager.Plugins(), opts)
			if err != nil {
				return err
			}
			return a.sync(cmd.Context(), selection)
		},
	}

	cmd.Flags().StringSliceVar(&opts.add, "add", nil, "plugins to install")
	cmd.Flags().StringSliceVar(&opts.remove, "remove", nil, "plugins to remove")
	cmd.Flags().StringSliceVar(&opts.only, "only", nil, "install exactly these plugins and remove every other")
	cmd.Flags().BoolVar(&a.opts.git, "git", false, "install new plugins with git")
	cmd.MarkFlagsMutuallyExclusive("only", "add")
	cmd.MarkFlagsMutuallyExclusive("only", "remove")

	return cmd
}

func newAddCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <plugin>...",
		Short: "Install plugins into a project",
		Long: `Install one or more catalog plugins and register them with the project.

Examples:
  flaxplug add Jolt
  flaxplug add Jolt FlaxCommunityUtils --git`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.toggle(cmd, args, true)
		},
	}

	cmd.Flags().BoolVar(&a.opts.git, "git", false, "install with git")

	return cmd
}

func newRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <plugin>...",
		Aliases: []string{"rm", "uninstall"},
		Short:   "Remove plugins from a project",
		Long: `Remove one or more installed plugins. Plugin directories are deleted and the
project references and build scripts are updated. Submodules are deinitialised
and dropped from .gitmodules.

Examples:
  flaxplug remove Jolt`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.toggle(cmd, args, false)
		},
	}
}

// toggle moves the named plugins to the desired state. A single plugin goes
// through Apply; several are reconciled in one sync pass.
func (a *app) toggle(cmd *cobra.Command, names []string, desired bool) error {
	if err := a.setup(cmd); err != nil {
		return err
	}
	ctx := cmd.Context()
	if err := a.openProject(ctx); err != nil {
		return err
	}

	if len(names) > 1 {
		selection := make(manager.Selection, len(names))
		for _, name := range names {
			selection[name] = desired
		}
		return a.sync(ctx, selection)
	}

	name := names[0]
	e, err := a.manager.Plugin(name)
	if err != nil {
		return err
	}
	if e.Installed() == desired {
		if !a.opts.quiet {
			fmt.Fprintf(a.out, "%s is already %s.\n", name, stateWord(desired))
		}
		return nil
	}
	if desired {
		if err := a.requireGit(ctx); err != nil {
			return err
		}
	}

	a.warnRunningEditors()
	a.watch()

	ok, err := a.manager.Apply(ctx, name, desired)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return errCancelled
	}
	if !ok {
		return fmt.Errorf("failed to %s %s", verb(desired), name)
	}
	return nil
}

// sync runs a sync pass and reports the outcome.
func (a *app) sync(ctx context.Context, selection manager.Selection) error {
	if wantsInstall(selection) {
		if err := a.requireGit(ctx); err != nil {
			return err
		}
	}

	a.warnRunningEditors()
	a.watch()

	result, err := a.manager.Sync(ctx, selection, a.cfg.PreferGit)
	if err != nil {
		return err
	}
	return a.report(result)
}

func (a *app) report(result *manager.SyncResult) error {
	if !a.opts.quiet {
		if len(result.Installed)+len(result.Removed)+len(result.Failed)+len(result.Skipped) == 0 {
			fmt.Fprintln(a.out, "Nothing to do, the project is up to date.")
		} else {
			fmt.Fprintln(a.out, summary(result))
		}
	}

	switch {
	case result.Cancelled:
		return errCancelled
	case len(result.Failed) > 0:
		return fmt.Errorf("failed to install %s", strings.Join(result.Failed, ", "))
	case !result.AllSucceeded:
		return errors.New("sync finished with errors")
	}
	return nil
}

func summary(result *manager.SyncResult) string {
	parts := []string{
		fmt.Sprintf("%d installed", len(result.Installed)),
		fmt.Sprintf("%d removed", len(result.Removed)),
	}
	if len(result.Failed) > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", len(result.Failed)))
	}
	if len(result.Skipped) > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", len(result.Skipped)))
	}
	return strings.Join(parts, ", ")
}

// buildSelection turns the sync flags into a selection. With --only every
// catalog plugin is selected, desired only when named.
func buildSelection(entries []*plugin.Entry, opts *syncOptions) (manager.Selection, error) {
	selection := make(manager.Selection)

	if len(opts.only) > 0 {
		for _, name := range opts.only {
			if _, ok := plugin.Find(entries, name); !ok {
				return nil, fmt.Errorf("%w: %s", manager.ErrUnknownPlugin, name)
			}
		}
		for _, e := range entries {
			selection[e.Name] = slices.Contains(opts.only, e.Name)
		}
		return selection, nil
	}

	for _, name := range opts.add {
		selection[name] = true
	}
	for _, name := range opts.remove {
		if selection[name] {
			return nil, fmt.Errorf("%s is both added and removed", name)
		}
		selection[name] = false
	}
	return selection, nil
}

func wantsInstall(selection manager.Selection) bool {
	for _, desired := range selection {
		if desired {
			return true
		}
	}
	return false
}

func stateWord(installed bool) string {
	if installed {
		return "installed"
	}
	return "not installed"
}

func verb(install bool) string {
	if install {
		return "install"
	}
	return "remove"
}
