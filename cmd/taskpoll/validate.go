package main

import (
	"fmt"

	"github.com/jpalmerr/taskpoll/config"
	"github.com/spf13/cobra"
)

// validateCmd validates a config file without starting the runner.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a taskpoll configuration file without starting the runner.

This command parses the YAML, expands environment variables, and validates
all fields. It's useful for CI/CD pipelines or pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  taskpoll validate -c config.yaml
  taskpoll validate --config /etc/taskpoll/config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	capacityMode := fmt.Sprintf("fixed %d", cfg.Capacity.Fixed)
	if cfg.Capacity.Rate > 0 {
		capacityMode = fmt.Sprintf("rate %v/s, burst %d", cfg.Capacity.Rate, cfg.Capacity.Burst)
	}

	fmt.Printf("Config is valid!\n")
	fmt.Printf("  Port:          %d\n", cfg.Port)
	fmt.Printf("  Poll interval: %s\n", cfg.PollInterval.Duration())
	fmt.Printf("  Work timeout:  %s\n", cfg.WorkTimeout.Duration())
	fmt.Printf("  Buffer:        %d payloads\n", cfg.BufferCapacity)
	fmt.Printf("  Capacity:      %s\n", capacityMode)
	fmt.Printf("  Target:        %s\n", cfg.Target.URL)

	return nil
}
