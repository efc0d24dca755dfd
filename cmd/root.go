package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd is the base command for the switchboard binary.
var rootCmd = &cobra.Command{
	Use:   "switchboard",
	Short: "Local router between LLM clients, providers, and MCP servers",
	Long: `switchboard sits between LLM clients and upstream provider APIs.
Clients speak one Anthropic-flavored /v1/messages dialect; switchboard
routes each request to the provider named in the model field, rewrites
it through configured transformers, runs local agent tools transparently,
and exposes every upstream MCP server's tools behind /mcp/<group>.`,
	SilenceUsage: true,
}

// SetVersion injects the build version from main.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the CLI. Called by main.main.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "switchboard version %s\n" .Version}}`)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
}
