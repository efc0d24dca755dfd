package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var (
	checkEndpoint string
	checkAPIKey   string
	checkTimeout  time.Duration
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Wait for a switchboard server to become healthy",
	Long: `Polls the server's /health endpoint until it answers or the
timeout expires. Useful after starting the server in the background.`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, _ []string) error {
	client := newAdminClient(checkEndpoint, checkAPIKey)

	ctx, cancel := context.WithTimeout(cmd.Context(), checkTimeout)
	defer cancel()

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = fmt.Sprintf(" Waiting for switchboard at %s...", checkEndpoint)
	s.Start()
	defer s.Stop()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		var health struct {
			OK bool `json:"ok"`
		}
		if err := client.getJSON(ctx, "/health", &health); err == nil && health.OK {
			s.FinalMSG = text.FgGreen.Sprint("switchboard is healthy") + "\n"
			return nil
		}

		select {
		case <-ctx.Done():
			s.FinalMSG = text.FgRed.Sprint("switchboard did not become healthy") + "\n"
			return fmt.Errorf("no healthy response from %s within %s", checkEndpoint, checkTimeout)
		case <-ticker.C:
		}
	}
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringVar(&checkEndpoint, "endpoint", "http://127.0.0.1:3457", "Server endpoint")
	checkCmd.Flags().StringVar(&checkAPIKey, "apikey", "", "Bearer token for the admin API")
	checkCmd.Flags().DurationVar(&checkTimeout, "timeout", 30*time.Second, "How long to keep polling")
}
