package main

import (
	"github.com/spf13/cobra"

	"github.com/dbsketch/dbsketch/internal/api"
	"github.com/dbsketch/dbsketch/internal/server/endpoints"
	"github.com/dbsketch/dbsketch/version"
)

var (
	cfgFile      string
	outputFormat string
	serverURL    string
)

var rootCmd = &cobra.Command{
	Use:   "dbsketch",
	Short: "Turn photographed ER diagrams into typed database schemas",
	Long: `dbsketch converts photographed or hand-drawn entity-relationship
diagrams into strictly-typed database schemas using a two-stage AI pipeline:

  - A vision model describes the tables, columns and relationships it sees
  - An extraction model is constrained to emit a validated schema object

Uploads are normalized first (dark-mode inversion, contrast stretch) so
noisy photos and inverted screenshots stay legible to the vision model.`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.dbsketch/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)
	rootCmd.PersistentFlags().StringVar(
		&serverURL, "server", "http://127.0.0.1:8000", "URL of a running dbsketch server",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
	}

	apiRegistry := api.NewRegistry()
	for _, ep := range endpoints.All() {
		apiRegistry.Register(ep)
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(apiRegistry.BuildCommands(func() string { return serverURL }))
}
