package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/artpar/quotaguard/bootstrap"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	envFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "quotaguard",
	Short: "Quota and rate-limit enforcement with API key lifecycle management",
	Long: `quotaguard enforces per-minute, per-hour and per-day request limits and a
daily quota per user, issues and rotates API keys, records per-key usage and
raises alerts as users approach their daily quota.

Quick start:
  quotaguard serve                     # Start the HTTP server
  quotaguard users add --id u1 --email u1@example.com --plan pro
  quotaguard keys generate --user u1 --name ci --scope '*'

Configuration comes from quotaguard.yaml (or --config) and QUOTAGUARD_*
environment variables, which may also be set in a .env file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadDotEnv(envFile)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "quotaguard.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading configuration")
}

// loadDotEnv loads path if it exists. Variables already set are kept.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// openApp assembles the application for a one-shot command.
func openApp() (*bootstrap.App, error) {
	a, err := bootstrap.New(bootstrap.Options{ConfigPath: cfgFile, Version: version})
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	return a, nil
}

// withApp runs fn against a freshly assembled application and shuts it down.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *bootstrap.App) error) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Shutdown()
	return fn(cmd.Context(), a)
}
