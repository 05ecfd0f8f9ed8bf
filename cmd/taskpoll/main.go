// Package main is the entry point for the taskpoll CLI.
//
// taskpoll can be run either as a library (SDK) or as a standalone binary
// with YAML configuration. This CLI provides the standalone binary approach.
//
// Usage:
//
//	taskpoll serve -c config.yaml    # Start the poller runner
//	taskpoll validate -c config.yaml # Validate configuration
//	taskpoll version                 # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set by GoReleaser at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
// It just displays help - actual functionality is in subcommands.
var rootCmd = &cobra.Command{
	Use:   "taskpoll",
	Short: "A capacity-aware task poller",
	Long: `taskpoll runs a reconfigurable polling loop against an HTTP target.

Each cycle drains buffered request payloads, checks downstream capacity,
and submits one strictly serialized work invocation. Outcomes are exposed
over a status API with live streaming and Prometheus metrics.

Quick start:
  1. Create a config file (taskpoll.yaml)
  2. Run: taskpoll serve -c taskpoll.yaml
  3. Check http://localhost:8080/api/outcomes

Example config:
  poll_interval: 10s
  buffer_capacity: 16
  work_timeout: 5s
  capacity:
    fixed: 4
  target:
    url: https://worker.example.com/jobs
    method: POST`,
	// No Run/RunE means this just shows help when called without subcommands
}

// Execute runs the root command.
// This is the main entry point called from main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this taskpoll binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("taskpoll %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Register subcommands with root
	rootCmd.AddCommand(versionCmd)
}
