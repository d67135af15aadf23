package cli

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"mcpforge.dev/cli/internal/cache"
)

// NewCacheCommand creates the cache command group: list, stats, clear.
func NewCacheCommand(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the install cache",
	}
	cmd.AddCommand(newCacheListCommand(deps))
	cmd.AddCommand(newCacheStatsCommand(deps))
	cmd.AddCommand(newCacheClearCommand(deps))
	return cmd
}

func newCacheListCommand(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached installations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := deps.Container.Cache.List()
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				cmd.Println(dimStyle.Render("cache is empty"))
				return nil
			}

			header := lipgloss.JoinHorizontal(lipgloss.Top,
				headerStyle.Width(18).Render("KEY"),
				headerStyle.Width(12).Render("ECOSYSTEM"),
				headerStyle.Width(36).Render("SPEC"),
				headerStyle.Width(10).Render("STATE"),
			)
			rows := []string{header}
			for _, entry := range entries {
				state := cellStyle.Render(string(entry.State))
				switch entry.State {
				case cache.StateReady:
					state = cellStyle.Foreground(lipgloss.Color("46")).Render(string(entry.State))
				case cache.StateFailed:
					state = cellStyle.Foreground(lipgloss.Color("196")).Render(string(entry.State))
				}
				rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top,
					cellStyle.Width(18).Render(entry.Key),
					cellStyle.Width(12).Render(entry.Ecosystem),
					cellStyle.Width(36).Render(entry.Spec),
					state,
				))
			}
			cmd.Println(lipgloss.JoinVertical(lipgloss.Left, rows...))
			return nil
		},
	}
}

func newCacheStatsCommand(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := deps.Container.Cache.GetStats()
			if err != nil {
				return err
			}
			cmd.Println(titleStyle.Render("Cache statistics"))
			cmd.Printf("%s %s\n", labelStyle.Render("Directory:"), stats.CacheDir)
			cmd.Printf("%s %d\n", labelStyle.Render("Entries:"), stats.TotalEntries)
			cmd.Printf("%s %d\n", labelStyle.Render("Ready:"), stats.ReadyEntries)
			cmd.Printf("%s %d\n", labelStyle.Render("Failed:"), stats.FailedEntries)
			cmd.Printf("%s %s\n", labelStyle.Render("Size:"), formatBytes(stats.TotalSizeBytes))
			return nil
		},
	}
}

func newCacheClearCommand(deps *Deps) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "clear [key]",
		Short: "Remove one cached installation, or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all {
				if err := deps.Container.Cache.ClearAll(); err != nil {
					return err
				}
				cmd.Println(successStyle.Render("cache cleared"))
				return nil
			}
			if len(args) == 0 {
				return fmt.Errorf("provide a cache key or --all")
			}
			if err := deps.Container.Cache.Clear(args[0]); err != nil {
				return err
			}
			cmd.Println(successStyle.Render("removed " + args[0]))
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Remove every cached installation")
	return cmd
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMG"[exp])
}
