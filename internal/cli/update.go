package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newUpdateCmd(a *app) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "update [plugin]...",
		Short: "Update installed plugins",
		Long: `Update installed plugins with the method that installed them. Downloaded
plugins apply the upstream changes since their recorded version; git plugins
pull their branch.

Examples:
  flaxplug update Jolt
  flaxplug update --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case all && len(args) > 0:
				return errors.New("--all cannot be combined with plugin names")
			case !all && len(args) == 0:
				return errors.New("name a plugin or pass --all")
			}

			if err := a.setup(cmd); err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := a.openProject(ctx); err != nil {
				return err
			}

			names := args
			if all {
				names = nil
				for _, e := range a.manager.Plugins() {
					if e.Installed() && e.UpdateAvailable {
						names = append(names, e.Name)
					}
				}
			}
			for _, name := range names {
				e, err := a.manager.Plugin(name)
				if err != nil {
					return err
				}
				if !e.Installed() {
					return fmt.Errorf("%s is not installed", name)
				}
			}

			if len(names) == 0 {
				if !a.opts.quiet {
					fmt.Fprintln(a.out, "All plugins are up to date.")
				}
				return nil
			}

			a.warnRunningEditors()
			a.watch()

			var failed []string
			for _, name := range names {
				if ctx.Err() != nil {
					return errCancelled
				}
				ok, err := a.manager.UpdatePlugin(ctx, name)
				if err != nil {
					return err
				}
				if !ok {
					failed = append(failed, name)
				}
			}

			if len(failed) > 0 {
				return fmt.Errorf("failed to update %s", strings.Join(failed, ", "))
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "update every plugin with an update available")

	return cmd
}
