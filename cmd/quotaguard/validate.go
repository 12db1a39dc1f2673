package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/artpar/quotaguard/config"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long: `Load the configuration the server would use and report problems.

Examples:
  quotaguard validate
  quotaguard validate --config /etc/quotaguard/config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	source := cfgFile
	if _, err := os.Stat(cfgFile); err != nil {
		source = "environment"
	}

	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		fmt.Fprintf(out, "%s Configuration invalid (%s)\n", crossMark, source)
		return err
	}

	fmt.Fprintf(out, "%s Configuration valid (%s)\n", checkMark, source)
	fmt.Fprintf(out, "  Listen:    %s\n", cfg.Server.Addr())
	fmt.Fprintf(out, "  Database:  %s\n", cfg.Database.Driver)
	fmt.Fprintf(out, "  Counters:  %s\n", cfg.Counters.Backend)
	fmt.Fprintf(out, "  Plans:     %d (default %s)\n", len(cfg.Plans), cfg.DefaultPlan)
	if cfg.Alerts.Webhook.URL != "" {
		fmt.Fprintf(out, "  Webhook:   %s\n", cfg.Alerts.Webhook.URL)
	}
	return nil
}

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)

func confirm(cmd *cobra.Command, message string) bool {
	reader := bufio.NewReader(cmd.InOrStdin())
	fmt.Fprintf(cmd.OutOrStdout(), "? %s [y/N]: ", message)
	input, _ := reader.ReadString('\n')
	input = strings.ToLower(strings.TrimSpace(input))
	return input == "y" || input == "yes"
}
