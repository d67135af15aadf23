package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mcpforge.dev/cli/internal/application/services"
	"mcpforge.dev/cli/internal/core/descriptor"
)

// NewRunCommand creates the run command: install if needed, launch, and keep
// the server alive until interrupted.
func NewRunCommand(deps *Deps) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "run <slug>",
		Short: "Install (if needed) and run an MCP server",
		Long: `Resolve a package slug against the registry, install it into the local
cache if it is not there yet, launch it, and hold the session open until
interrupted.

Examples:
  mcpforge run modelcontextprotocol/brave-search
  mcpforge run acme/postgres --debug
  mcpforge run acme/stripe --force   # launch despite missing credentials`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slug := args[0]
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			result, session, err := deps.Container.Execution.Execute(ctx, slug, services.ExecuteOptions{SkipAuthCheck: force})
			if result.AuthRequired {
				printAuthGuidance(cmd, result)
				return fmt.Errorf("%s requires credentials", slug)
			}
			if err != nil {
				return err
			}

			printExecutionReport(cmd, result)
			cmd.Println(dimStyle.Render("Server running. Press Ctrl+C to stop."))

			select {
			case <-ctx.Done():
				return deps.Container.Engine.CloseSession(session.ID())
			case <-session.Done():
				return fmt.Errorf("%s exited unexpectedly", slug)
			}
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Launch even when credentials look missing")
	return cmd
}

func printAuthGuidance(cmd *cobra.Command, result descriptor.ExecutionResult) {
	cmd.Println(errorStyle.Render("Missing credentials"))
	if len(result.Instructions) > 0 {
		cmd.Println(renderGuidance(result.Instructions))
	}
}

func printExecutionReport(cmd *cobra.Command, result descriptor.ExecutionResult) {
	cmd.Println(titleStyle.Render(fmt.Sprintf("%s is up", result.ServerName)))
	cmd.Printf("%s %s\n", labelStyle.Render("Protocol:"), result.ProtocolVersion)
	cmd.Printf("%s %d\n", labelStyle.Render("Tools:"), len(result.Tools))
	if len(result.Resources) > 0 {
		cmd.Printf("%s %d\n", labelStyle.Render("Resources:"), len(result.Resources))
	}
	if len(result.Prompts) > 0 {
		cmd.Printf("%s %d\n", labelStyle.Render("Prompts:"), len(result.Prompts))
	}
	cmd.Printf("%s %s\n", labelStyle.Render("Cache:"), result.CachePath)
	cmd.Printf("%s %s\n", labelStyle.Render("Startup:"), result.Duration.Round(timeRounding))
}
