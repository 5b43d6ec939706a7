package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/teranos/wakeup/am"
	"github.com/teranos/wakeup/cmd/wakeup/commands"
	"github.com/teranos/wakeup/display"
	"github.com/teranos/wakeup/logger"
)

var rootCmd = &cobra.Command{
	Use:   "wakeup",
	Short: "Wake-up call scheduler",
	Long: `wakeup - schedules wake-up calls and texts, delivers them through the
telephony provider at the scheduled time and answers keypad and text replies.

Available commands:
  serve    - Run the scheduler, workers and webhook server
  call     - List, create and cancel wake-up calls
  db       - Manage the database
  am       - Show and validate configuration
  version  - Show build information

Examples:
  wakeup serve                  # Start the service
  wakeup call ls --owner u-1    # List an owner's calls
  wakeup am show                # Show current configuration`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional; real environment variables win
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to read .env: %w", err)
		}

		// keep machine-readable output clean
		if cmd.Name() == "show" || cmd.Name() == "version" {
			return nil
		}
		cfg, err := am.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if err := logger.InitializeWithLevel(cfg.Logging.JSON, cfg.Logging.Level); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().Bool(display.JSONFlag, false, "Output as JSON where supported")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.CallCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
