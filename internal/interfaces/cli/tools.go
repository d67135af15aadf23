package cli

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"mcpforge.dev/cli/internal/application/services"
)

// NewToolsCommand creates the tools command: launch a server long enough to
// list its tools, then tear it down.
func NewToolsCommand(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "tools <slug>",
		Short: "List the tools an MCP server advertises",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slug := args[0]

			result, session, err := deps.Container.Execution.Execute(cmd.Context(), slug, services.ExecuteOptions{})
			if result.AuthRequired {
				printAuthGuidance(cmd, result)
				return fmt.Errorf("%s requires credentials", slug)
			}
			if err != nil {
				return err
			}
			defer func() { _ = deps.Container.Engine.CloseSession(session.ID()) }()

			if len(result.Tools) == 0 {
				cmd.Println(dimStyle.Render(fmt.Sprintf("%s advertises no tools", result.ServerName)))
			} else {
				cmd.Println(titleStyle.Render(fmt.Sprintf("%s (%d tools)", result.ServerName, len(result.Tools))))
				rows := make([]string, 0, len(result.Tools))
				for _, tool := range result.Tools {
					name := cellStyle.Bold(true).Render(tool.Name)
					description := cellStyle.Render(tool.Description)
					rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, name, description))
				}
				cmd.Println(lipgloss.JoinVertical(lipgloss.Left, rows...))
			}

			if len(result.Resources) > 0 {
				cmd.Println(labelStyle.Render(fmt.Sprintf("Resources (%d):", len(result.Resources))))
				for _, name := range result.Resources {
					cmd.Printf("  %s\n", cellStyle.Render(name))
				}
			}
			if len(result.Prompts) > 0 {
				cmd.Println(labelStyle.Render(fmt.Sprintf("Prompts (%d):", len(result.Prompts))))
				for _, name := range result.Prompts {
					cmd.Printf("  %s\n", cellStyle.Render(name))
				}
			}
			return nil
		},
	}
}
