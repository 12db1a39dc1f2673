package main

import (
	"context"
	"fmt"

	"github.com/artpar/quotaguard/bootstrap"
	"github.com/spf13/cobra"
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Quota alerts",
}

var alertsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Raise the pending quota alert for a user, if any",
	Long: `Check whether a user crossed a quota threshold that has not been
signaled today and, if so, deliver the alert through the configured
notifiers.`,
	RunE: runAlertsCheck,
}

var alertsUserID string

func init() {
	rootCmd.AddCommand(alertsCmd)
	alertsCmd.AddCommand(alertsCheckCmd)

	alertsCheckCmd.Flags().StringVar(&alertsUserID, "user", "", "user ID (required)")
	alertsCheckCmd.MarkFlagRequired("user")
}

func runAlertsCheck(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *bootstrap.App) error {
		alert, err := a.Engine.CheckAlert(ctx, alertsUserID)
		if err != nil {
			return fmt.Errorf("check alert: %w", err)
		}

		out := cmd.OutOrStdout()
		if alert == nil {
			fmt.Fprintf(out, "No pending alert for %s.\n", alertsUserID)
			return nil
		}
		fmt.Fprintf(out, "%d%% threshold: %s\n", alert.Threshold, alert.Message)
		return nil
	})
}
