package cli

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// NewCallCommand creates the call command: run a server, invoke one tool,
// print the result, and tear the session down.
func NewCallCommand(deps *Deps) *cobra.Command {
	var argsJSON string

	cmd := &cobra.Command{
		Use:   "call <slug> <tool>",
		Short: "Invoke a single tool on an MCP server",
		Long: `Launch a server, call one of its tools, print the JSON result, and shut
the server down.

Examples:
  mcpforge call acme/search web_search --args '{"query":"golang"}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			slug, tool := args[0], args[1]

			var arguments map[string]interface{}
			if argsJSON != "" {
				if err := json.Unmarshal([]byte(argsJSON), &arguments); err != nil {
					return fmt.Errorf("invalid --args JSON: %w", err)
				}
			}

			raw, result, err := deps.Container.Execution.CallTool(cmd.Context(), slug, tool, arguments)
			if result.AuthRequired {
				printAuthGuidance(cmd, result)
				return fmt.Errorf("%s requires credentials", slug)
			}
			if err != nil {
				return err
			}

			var pretty bytes.Buffer
			if json.Indent(&pretty, raw, "", "  ") == nil {
				cmd.Println(pretty.String())
			} else {
				cmd.Println(string(raw))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&argsJSON, "args", "", "Tool arguments as a JSON object")
	return cmd
}
