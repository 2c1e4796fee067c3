package main

import (
	"fmt"
	"os"

	"memorybank/internal/config"
	"memorybank/internal/logging"

	"github.com/spf13/cobra"
)

var (
	verbose   bool
	logFile   string
	workspace string

	cfg    *config.Config
	logger *logging.AppLogger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "memorybank",
	Short: "Serve a project's memory bank to AI coding assistants",
	Long: `memorybank keeps six markdown documents that carry project context
between assistant sessions. It serves them over an SSE stream with
POST /messages, or over stdio, and validates and audits every write.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := logging.NewAppLoggerWithOptions(logging.Options{
			File:  logFile,
			Debug: verbose || os.Getenv("DEBUG") != "",
		})
		if err != nil {
			return err
		}
		logger = l
		logging.SetDefault(l)

		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if workspace != "" {
			loaded.WorkspaceRoot = workspace
		}
		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		cfg = loaded
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to this file instead of stderr")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Project directory holding the memory bank (default: current directory)")
}
