// Package cli provides the command-line interface for flaxplug.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/flaxplug/internal/version"
)

// rootOptions holds the global flags.
type rootOptions struct {
	verbose     bool
	quiet       bool
	noColor     bool
	configPath  string
	projectPath string
	catalogURL  string
	catalogFile string
	git         bool
}

// NewRootCmd builds the flaxplug command tree.
func NewRootCmd() *cobra.Command {
	a := &app{opts: &rootOptions{}}

	rootCmd := &cobra.Command{
		Use:   "flaxplug",
		Short: "Plugin manager for Flax Engine projects",
		Long: `flaxplug installs, updates and removes community plugins in a Flax Engine
project.

Plugins are taken from a published catalog and either downloaded file by file
or checked out with git (as submodules when the project is a git repository).
After every change the project manifest references and the game build scripts
are rewritten so the engine picks the plugins up.`,
		Version:      version.Short(),
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&a.opts.verbose, "verbose", "v", false, "enable verbose output")
	flags.BoolVarP(&a.opts.quiet, "quiet", "q", false, "suppress non-error output")
	flags.BoolVar(&a.opts.noColor, "no-color", false, "disable coloured output")
	flags.StringVar(&a.opts.configPath, "config", "", "config file (default is <user config dir>/flaxplug/config.yaml)")
	flags.StringVarP(&a.opts.projectPath, "project", "p", ".", "project file, or a directory containing exactly one .flaxproj")
	flags.StringVar(&a.opts.catalogURL, "catalog-url", "", "plugin catalog URL")
	flags.StringVar(&a.opts.catalogFile, "catalog-file", "", "read the plugin catalog from a local file")

	rootCmd.SetVersionTemplate(version.String() + "\n")

	rootCmd.AddCommand(
		newVersionCmd(),
		newCatalogCmd(a),
		newStatusCmd(a),
		newSyncCmd(a),
		newAddCmd(a),
		newRemoveCmd(a),
		newUpdateCmd(a),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  `Print detailed version information including build date, commit hash, and Go version.`,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
