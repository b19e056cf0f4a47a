package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eringen/beodesk"
)

var (
	databasePath string
	storageRoot  string
	logLevel     string
	logJSON      bool
)

var rootCmd = &cobra.Command{
	Use:   "beodesk",
	Short: "Catering event order desk",
	Long: `beodesk ingests banquet event order PDFs, renders their pages, lets staff
pick, split and annotate them, and schedules the results on a weekly calendar.

Flags default to environment variables (DATABASE_PATH, STORAGE_ROOT, LOG_LEVEL,
LOG_JSON, ...) so the server can be configured entirely from its environment.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the beodesk version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "beodesk %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&databasePath, "db", beodesk.EnvOr("DATABASE_PATH", "data/beodesk.db"), "SQLite database path")
	rootCmd.PersistentFlags().StringVar(&storageRoot, "storage", beodesk.EnvOr("STORAGE_ROOT", "storage"), "Artifact storage root")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", beodesk.EnvOr("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", beodesk.EnvOr("LOG_JSON", "") == "true", "Write JSON log lines")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(weekCmd)
	rootCmd.AddCommand(versionCmd)
}
