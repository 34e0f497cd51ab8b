package main

import (
	"github.com/spf13/cobra"
)

// configPath is the --config flag value; empty means config.yaml if present.
var configPath string

var rootCmd = &cobra.Command{
	Use:   "clinicd",
	Short: "clinicd - clinic records service",
	Long: `clinicd stores doctors, patients and prescriptions and serves them
over a small HTTP/1.1 subset, one request per connection.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to YAML config (default: config.yaml when present)")
}
