package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/flaxplug/internal/plugin"
)

const descriptionWidth = 50

func newCatalogCmd(a *app) *cobra.Command {
	var long bool

	cmd := &cobra.Command{
		Use:     "catalog",
		Aliases: []string{"list", "ls"},
		Short:   "List the plugins available in the catalog",
		Long: `List every plugin published in the catalog.

The catalog is fetched from the configured URL and cached locally. Set
catalog_file in the config file, FLAXPLUG_CATALOG_FILE or --catalog-file to
read a local catalog instead.

Examples:
  flaxplug catalog
  flaxplug catalog --long`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			if err := a.manager.LoadCatalog(cmd.Context()); err != nil {
				return fmt.Errorf("failed to load plugin catalog: %w", err)
			}

			entries := a.manager.Plugins()
			if len(entries) == 0 {
				fmt.Fprintln(a.out, "The catalog is empty.")
				return nil
			}

			fmt.Fprint(a.out, catalogTable(entries, a.styles, long).Render())
			return nil
		},
	}

	cmd.Flags().BoolVarP(&long, "long", "l", false, "show repository, branch and modules")

	return cmd
}

func catalogTable(entries []*plugin.Entry, st *styles, long bool) *Table {
	headers := []string{"NAME", "TAG", "PLATFORMS", "DESCRIPTION"}
	if long {
		headers = append(headers, "URL", "BRANCH", "MODULES")
	}

	table := NewTable(headers...)
	table.SetHeaderStyle(sprint(st.header))
	table.SetColumnMaxWidth(3, descriptionWidth)

	for _, e := range entries {
		row := []string{e.Name, e.Tag, platformsText(e.Platforms), e.Description}
		if long {
			row = append(row, e.URL, e.BranchOrDefault(), modulesText(e.Descriptor))
		}
		table.AddRow(row...)
	}

	return table
}

func platformsText(platforms []string) string {
	if len(platforms) == 0 {
		return "all"
	}
	return strings.Join(platforms, ",")
}

func modulesText(d plugin.Descriptor) string {
	var modules []string
	for _, m := range []string{d.ModuleName, d.EditorModuleName} {
		if m != "" {
			modules = append(modules, m)
		}
	}
	if len(modules) == 0 {
		return "-"
	}
	return strings.Join(modules, ",")
}
