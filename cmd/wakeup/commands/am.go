package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/teranos/wakeup/am"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: "Show and validate configuration",
	Long: `Display and validate the wake-up service configuration.

Configuration sources (highest precedence first):
1. Environment variables (WAKEUP_* prefix, plus TWILIO_* and OPENWEATHER_API_KEY)
2. Project config (./wakeup.toml)
3. User config (~/.wakeup/config.toml)
4. System config (/etc/wakeup/config.toml)
5. Default values

Examples:
  wakeup am show                    # Show current configuration
  wakeup am show --format json      # Show configuration as JSON
  wakeup am validate                # Validate current configuration
  wakeup am where                   # Show which config files exist`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the merged configuration. Secrets are omitted.",
	RunE:  runAmShow,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	RunE:  runAmValidate,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where configuration is loaded from",
	RunE:  runAmWhere,
}

var configFormat string

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json")
	AmCmd.AddCommand(amShowCmd, amValidateCmd, amWhereCmd)
}

// redacted is a copy of cfg without secrets
func redacted(cfg *am.Config) am.Config {
	out := *cfg
	if out.Provider.AuthToken != "" {
		out.Provider.AuthToken = "********"
	}
	if out.Weather.APIKey != "" {
		out.Weather.APIKey = "********"
	}
	return out
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	out := redacted(cfg)

	switch configFormat {
	case "json":
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
	case "toml":
		data, err := toml.Marshal(out)
		if err != nil {
			return fmt.Errorf("failed to marshal config to TOML: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "# wakeup configuration\n%s", string(data))
	default:
		return fmt.Errorf("unsupported format: %s (supported: toml, json)", configFormat)
	}
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration is valid")

	check := *cfg
	for _, msg := range check.ApplyCredentialGates() {
		fmt.Fprintf(cmd.OutOrStdout(), "! %s\n", msg)
	}
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	for _, p := range am.ConfigPaths() {
		mark := "✗"
		if _, err := os.Stat(p); err == nil {
			mark = "✓"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", mark, p)
	}
	return nil
}
