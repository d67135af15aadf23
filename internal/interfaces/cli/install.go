package cli

import (
	"time"

	"github.com/spf13/cobra"
)

const timeRounding = time.Millisecond

// NewInstallCommand creates the install command: fetch, validate, and cache
// a package without launching it.
func NewInstallCommand(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "install <slug>",
		Short: "Install an MCP server package into the local cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slug := args[0]
			started := time.Now()

			entry, err := deps.Container.Execution.Install(cmd.Context(), slug)
			if err != nil {
				return err
			}

			cmd.Println(successStyle.Render("Installed " + entry.Spec))
			cmd.Printf("%s %s\n", labelStyle.Render("Ecosystem:"), entry.Ecosystem)
			cmd.Printf("%s %s\n", labelStyle.Render("Key:"), entry.Key)
			cmd.Printf("%s %s\n", labelStyle.Render("Executable:"), entry.Executable)
			cmd.Printf("%s %s\n", labelStyle.Render("Took:"), time.Since(started).Round(timeRounding))
			return nil
		},
	}
}
