package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/artpar/quotaguard/config"
	"github.com/spf13/cobra"
)

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "Inspect configured plans",
}

var plansListCmd = &cobra.Command{
	Use:   "list",
	Short: "List plans and their limits",
	RunE:  runPlansList,
}

func init() {
	rootCmd.AddCommand(plansCmd)
	plansCmd.AddCommand(plansListCmd)
}

func runPlansList(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return err
	}
	catalog := cfg.Catalog()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PLAN\tPER MINUTE\tPER HOUR\tPER DAY\tDAILY QUOTA\t")
	for _, p := range catalog.List() {
		name := p.Name
		if name == catalog.Fallback() {
			name += " (default)"
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t\n",
			name, p.Limits.RequestsPerMinute, p.Limits.RequestsPerHour, p.Limits.RequestsPerDay, p.Limits.QuotaPerDay)
	}
	return w.Flush()
}
