package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/flaxplug/internal/plugin"
)

const (
	shortVersionLen = 8

	stateInstalled = "installed"
	stateFailed    = "failed"
)

func newStatusCmd(a *app) *cobra.Command {
	var installedOnly bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the plugins installed in a project",
		Long: `Bind the project, detect installed plugins from its manifest references and
check each of them for updates.

Examples:
  flaxplug status
  flaxplug status -p ~/Projects/MyGame/MyGame.flaxproj --installed`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			if err := a.openProject(cmd.Context()); err != nil {
				return err
			}

			entries := a.manager.Plugins()
			if installedOnly {
				entries = installed(entries)
			}

			if !a.opts.quiet {
				fmt.Fprintf(a.out, "Project: %s\n\n", a.manager.ProjectPath())
			}
			if len(entries) == 0 {
				fmt.Fprintln(a.out, "No plugins installed.")
				return nil
			}

			fmt.Fprint(a.out, statusTable(entries, a.styles).Render())
			return nil
		},
	}

	cmd.Flags().BoolVar(&installedOnly, "installed", false, "only list installed plugins")

	return cmd
}

func statusTable(entries []*plugin.Entry, st *styles) *Table {
	table := NewTable("NAME", "STATE", "MANAGED BY", "VERSION", "UPDATE")
	table.SetHeaderStyle(sprint(st.header))
	table.SetColumnStyle(1, func(cell string) string {
		switch strings.TrimSpace(cell) {
		case stateInstalled:
			return st.ok.Sprint(cell)
		case stateFailed:
			return st.fail.Sprint(cell)
		}
		return cell
	})
	table.SetColumnStyle(4, sprint(st.warn))

	for _, e := range entries {
		state := "-"
		management := ""
		switch {
		case e.Installed():
			state = stateInstalled
			management = e.Management().String()
		case e.Disabled:
			state = stateFailed
		}

		update := ""
		if e.UpdateAvailable {
			update = "available"
		}

		table.AddRow(e.Name, state, management, shortVersion(e.Version()), update)
	}

	return table
}

func installed(entries []*plugin.Entry) []*plugin.Entry {
	var out []*plugin.Entry
	for _, e := range entries {
		if e.Installed() {
			out = append(out, e)
		}
	}
	return out
}

func shortVersion(v string) string {
	if len(v) > shortVersionLen {
		return v[:shortVersionLen]
	}
	return v
}
