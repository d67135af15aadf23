// Package cli implements the mcpforge command tree.
package cli

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/spf13/cobra"

	"mcpforge.dev/cli/internal/interfaces/di"
)

var (
	Version   = "dev"     // Overridden by ldflags
	BuildTime = "unknown" // Overridden by ldflags
)

// Deps carries the lazily constructed container to subcommands. Construction
// waits until flags are parsed so overrides take effect.
type Deps struct {
	Container *di.Container
}

type rootFlags struct {
	debug       bool
	configPath  string
	cacheDir    string
	registryURL string
}

// NewRootCommand builds the mcpforge command tree.
func NewRootCommand() *cobra.Command {
	flags := &rootFlags{}
	deps := &Deps{}

	rootCmd := &cobra.Command{
		Use:   "mcpforge",
		Short: "mcpforge - universal MCP server installer and runtime",
		Long: `mcpforge installs Model Context Protocol servers from any supported
ecosystem (npm, pipx, cargo, go, git, container) into a local cache and runs
them over JSON-RPC stdio.

Packages are identified by their registry slug. Install commands are
validated before anything is spawned; nothing ever passes through a shell.`,
		Version:       Version,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !needsContainer(cmd) {
				return nil
			}
			container, err := di.NewContainer(di.Options{
				ConfigPath:  flags.configPath,
				CacheDir:    flags.cacheDir,
				RegistryURL: flags.registryURL,
				Debug:       flags.debug,
			})
			if err != nil {
				return err
			}
			deps.Container = container
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if deps.Container == nil {
				return nil
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return deps.Container.Shutdown(ctx)
		},
	}

	rootCmd.SetVersionTemplate(fmt.Sprintf("{{.Name}} version {{.Version}}\nBuild time: %s\nGo version: %s\nPlatform: %s/%s\n",
		BuildTime, goVersion(), runtime.GOOS, runtime.GOARCH))

	rootCmd.PersistentFlags().BoolVar(&flags.debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "Config file path (default is $HOME/.mcpforge/config.json)")
	rootCmd.PersistentFlags().StringVar(&flags.cacheDir, "cache-dir", "", "Override the install cache directory")
	rootCmd.PersistentFlags().StringVar(&flags.registryURL, "registry-url", "", "Override the package registry URL")

	rootCmd.AddCommand(NewRunCommand(deps))
	rootCmd.AddCommand(NewInstallCommand(deps))
	rootCmd.AddCommand(NewToolsCommand(deps))
	rootCmd.AddCommand(NewCallCommand(deps))
	rootCmd.AddCommand(NewCacheCommand(deps))
	rootCmd.AddCommand(NewVersionCommand())

	return rootCmd
}

// needsContainer reports whether cmd requires the component graph. Version
// and help output must work without a cache directory or registry.
func needsContainer(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case "version", "help", "completion":
		return false
	}
	return true
}

func goVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		return info.GoVersion
	}
	return "unknown"
}

// NewVersionCommand reports build information.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("mcpforge version %s\n", Version)
			cmd.Printf("Build time: %s\n", BuildTime)
			cmd.Printf("Go version: %s\n", goVersion())
			cmd.Printf("Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
