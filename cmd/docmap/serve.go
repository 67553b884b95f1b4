package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the browse API server",
	Long: `Start the docmap browse API.

The server will:
  - Load configuration from docmap.yaml (or --config)
  - Or load configuration from DOCMAP_* environment variables
  - Open the database and define the kinds in kinds.dir
  - Serve kinds and documents as JSON:API on server.host:server.port

Environment variables:
  DOCMAP_DATABASE_URL      - Database url (default: nedb://memory)
  DOCMAP_KINDS_DIR         - Directory of kind files
  DOCMAP_SERVER_PORT       - Server port (default: 8080)
  DOCMAP_LOG_LEVEL         - Log level: debug, info, warn, error

Examples:
  docmap serve
  docmap serve --config /etc/docmap/docmap.yaml
  docmap serve --db sqlite:///var/lib/docmap/data.db --kinds ./kinds`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	app, err := openApp(cmd, false)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return app.Run(ctx)
}
