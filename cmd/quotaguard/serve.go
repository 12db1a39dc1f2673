package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the quotaguard HTTP server.

The server will:
  - Load configuration from quotaguard.yaml (or --config), watching it for
    changes and reloading on SIGHUP
  - Or load configuration from QUOTAGUARD_* environment variables
  - Connect to the database and the counter backend
  - Sweep expired window counters and evict old quota buckets on schedule

Environment variables (for container deployments):
  QUOTAGUARD_DATABASE_DRIVER   - sqlite3, sqlite or postgres
  QUOTAGUARD_DATABASE_DSN      - Database path or connection string
  QUOTAGUARD_COUNTERS_BACKEND  - memory or redis
  QUOTAGUARD_REDIS_URL         - Redis URL when the backend is redis
  QUOTAGUARD_SERVER_PORT       - Server port (default: 8080)
  QUOTAGUARD_LOG_LEVEL         - Log level: debug, info, warn, error

Examples:
  quotaguard serve
  quotaguard serve --config /etc/quotaguard/config.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return a.Run(ctx)
}
