// Package cmd contains the CLI commands for pondctl.
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	verbose   bool
	output    string
	serverURL string
	timeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "pondctl",
	Short: "pondctl - pondwatch operator tool",
	Long: `pondctl talks to a running pondwatch service and its MQTT broker.

Examples:
  # List active alerts across all ponds
  pondctl alerts list

  # Acknowledge an alert
  pondctl alerts ack 3f2a... --by alice

  # Publish a test reading for pond1
  pondctl publish --pond pond1 --dissolved-oxygen 2.1 --ph 7.2

  # Check a thresholds file before deploying it
  pondctl thresholds validate thresholds.yaml`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	defaultURL := "http://localhost:8080"
	if env := os.Getenv("PONDWATCH_URL"); env != "" {
		defaultURL = env
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "output format (table, json, yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultURL, "pondwatch API base URL (env PONDWATCH_URL)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
}

// PrintVerbose prints a message only if verbose mode is enabled.
func PrintVerbose(format string, args ...any) {
	if verbose {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}
