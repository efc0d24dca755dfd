package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"switchboard/internal/app"
)

var (
	serveHost   string
	servePort   int
	serveConfig string
	serveDebug  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the switchboard server",
	Long: `Starts the HTTP server: the /v1/messages routing endpoint, the
admin API, and the /mcp/<group> aggregator endpoints. Upstream MCP
servers from the config file are connected on startup.

Configuration is read from the YAML file given by --config (default
switchboard/config.yaml under the user config directory, e.g.
~/.config/switchboard/config.yaml on Linux); HOST, PORT and APIKEY
environment variables override it, and --host/--port override both.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	application, err := app.NewApplication(&app.Config{
		ConfigPath: serveConfig,
		Host:       serveHost,
		Port:       servePort,
		Debug:      serveDebug,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return application.Run(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen address (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides config)")
	serveCmd.Flags().StringVar(&serveConfig, "config", "", "Path to the YAML config file")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
}
