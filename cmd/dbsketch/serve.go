package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	_ "github.com/joho/godotenv/autoload"

	"github.com/dbsketch/dbsketch/internal/config"
	"github.com/dbsketch/dbsketch/internal/server"
)

var (
	serveHost string
	servePort string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dbsketch server",
	Long: `Start the dbsketch HTTP server.

The server exposes:
  - POST /generate-schema - Upload an ER diagram image, get back a schema
  - GET  /health          - Basic server health check
  - GET  /ready           - Readiness check (includes pipeline configuration)

The server refuses to start without an API token for the inference endpoint
(HF_ACCESS_TOKEN, a .env file, or api_token in the config file).

Examples:
  dbsketch serve                   # Start on default port 8000
  dbsketch serve --port 3000       # Start on custom port
  dbsketch serve --host 0.0.0.0    # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		// Set up logger
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))

		configMgr, err := config.NewManager(cfgFile)
		if err != nil {
			return err
		}
		configMgr.WatchConfig()

		srv, err := server.New(server.Config{
			Host:          serveHost,
			Port:          servePort,
			ConfigManager: configMgr,
			Logger:        logger,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Host to bind to")
	serveCmd.Flags().StringVar(&servePort, "port", "8000", "Port to listen on")

	rootCmd.AddCommand(serveCmd)
}
