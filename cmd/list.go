package cmd

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"switchboard/internal/config"
	"switchboard/internal/mcpserver"
)

var (
	listEndpoint string
	listAPIKey   string
)

var listResourceTypes = []string{"providers", "mcp-servers"}

var listCmd = &cobra.Command{
	Use:   "list [providers|mcp-servers]",
	Short: "List resources of a running switchboard server",
	Long: `Lists providers or MCP servers from a running switchboard server's
admin API.

Examples:
  switchboard list providers
  switchboard list mcp-servers --endpoint http://127.0.0.1:3457`,
	Args: cobra.ExactArgs(1),
	ValidArgsFunction: func(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
		if len(args) == 0 {
			return listResourceTypes, cobra.ShellCompDirectiveNoFileComp
		}
		return nil, cobra.ShellCompDirectiveNoFileComp
	},
	RunE: runList,
}

func runList(cmd *cobra.Command, args []string) error {
	client := newAdminClient(listEndpoint, listAPIKey)

	switch args[0] {
	case "providers":
		return listProviders(cmd, client)
	case "mcp-servers", "mcpservers":
		return listMCPServers(cmd, client)
	default:
		return fmt.Errorf("unknown resource type %q, expected one of: %s",
			args[0], strings.Join(listResourceTypes, ", "))
	}
}

func listProviders(cmd *cobra.Command, client *adminClient) error {
	var providers []config.Provider
	if err := client.getJSON(cmd.Context(), "/providers", &providers); err != nil {
		return err
	}

	t := newListTable(cmd)
	t.AppendHeader(table.Row{
		text.FgHiCyan.Sprint("NAME"),
		text.FgHiCyan.Sprint("BASE URL"),
		text.FgHiCyan.Sprint("MODELS"),
		text.FgHiCyan.Sprint("KEYS"),
		text.FgHiCyan.Sprint("ENABLED"),
	})
	for _, p := range providers {
		enabled := text.FgRed.Sprint("no")
		if p.Enabled {
			enabled = text.FgGreen.Sprint("yes")
		}
		t.AppendRow(table.Row{
			p.Name,
			p.BaseURL,
			strings.Join(p.Models, ", "),
			len(p.APIKeys),
			enabled,
		})
	}
	t.Render()
	return nil
}

func listMCPServers(cmd *cobra.Command, client *adminClient) error {
	var servers []mcpserver.ServerStatus
	if err := client.getJSON(cmd.Context(), "/api/mcp/servers", &servers); err != nil {
		return err
	}

	t := newListTable(cmd)
	t.AppendHeader(table.Row{
		text.FgHiCyan.Sprint("NAME"),
		text.FgHiCyan.Sprint("TRANSPORT"),
		text.FgHiCyan.Sprint("STATUS"),
		text.FgHiCyan.Sprint("TOOLS"),
		text.FgHiCyan.Sprint("LAST ERROR"),
	})
	for _, s := range servers {
		status := string(s.Status)
		switch s.Status {
		case mcpserver.StatusConnected:
			status = text.FgGreen.Sprint(status)
		case mcpserver.StatusError, mcpserver.StatusDisconnected:
			status = text.FgRed.Sprint(status)
		}
		t.AppendRow(table.Row{
			s.Name,
			s.Transport,
			status,
			len(s.Tools),
			s.LastError,
		})
	}
	t.Render()
	return nil
}

func newListTable(cmd *cobra.Command) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleRounded)
	return t
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVar(&listEndpoint, "endpoint", "http://127.0.0.1:3457", "Admin API endpoint")
	listCmd.Flags().StringVar(&listAPIKey, "apikey", "", "Bearer token for the admin API")
}
