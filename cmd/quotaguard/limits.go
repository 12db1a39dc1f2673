package main

import (
	"context"
	"fmt"
	"time"

	"github.com/artpar/quotaguard/bootstrap"
	"github.com/artpar/quotaguard/domain/ratelimit"
	"github.com/spf13/cobra"
)

var limitsCmd = &cobra.Command{
	Use:   "limits",
	Short: "Evaluate requests and inspect quota",
	Long: `Evaluate a request against a user's limits or show their daily quota.

Counters live in the configured backend. With the memory backend each
invocation starts from empty counters, so use redis to inspect the state a
running server sees.

Examples:
  quotaguard limits evaluate --user u1 --endpoint /search
  quotaguard limits status --user u1`,
}

var limitsEvaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Admit or reject one request",
	RunE:  runLimitsEvaluate,
}

var limitsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a user's daily quota position",
	RunE:  runLimitsStatus,
}

var (
	limitsUserID   string
	limitsEndpoint string
)

func init() {
	rootCmd.AddCommand(limitsCmd)

	limitsCmd.AddCommand(limitsEvaluateCmd)
	limitsCmd.AddCommand(limitsStatusCmd)

	limitsCmd.PersistentFlags().StringVar(&limitsUserID, "user", "", "user ID (required)")
	limitsCmd.MarkPersistentFlagRequired("user")
	limitsEvaluateCmd.Flags().StringVar(&limitsEndpoint, "endpoint", "/", "endpoint the request targets")
}

func runLimitsEvaluate(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *bootstrap.App) error {
		u, err := a.Engine.Users.Get(ctx, limitsUserID)
		if err != nil {
			return fmt.Errorf("user %s: %w", limitsUserID, err)
		}

		d, err := a.Engine.Evaluate(ctx, ratelimit.Identity{ID: u.ID, Plan: u.Plan}, limitsEndpoint)
		if err != nil {
			return fmt.Errorf("evaluate: %w", err)
		}

		out := cmd.OutOrStdout()
		if d.Allowed {
			fmt.Fprintf(out, "%s allowed\n", checkMark)
			fmt.Fprintf(out, "  remaining:       %d\n", d.Remaining)
		} else {
			fmt.Fprintf(out, "%s denied by %s limit\n", crossMark, d.Limit)
			fmt.Fprintf(out, "  retry after:     %ds\n", d.RetryAfter(time.Now()))
		}
		fmt.Fprintf(out, "  reset at:        %s\n", d.ResetAt.Format(time.RFC3339))
		fmt.Fprintf(out, "  quota remaining: %d (%.1f%% used)\n", d.QuotaRemaining, d.QuotaPercentage)
		return nil
	})
}

func runLimitsStatus(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *bootstrap.App) error {
		st, err := a.Engine.Status(ctx, limitsUserID)
		if err != nil {
			return fmt.Errorf("status: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "User %s on plan %s\n", st.Identity, st.Plan)
		fmt.Fprintf(out, "  limits:    %d/min  %d/hour  %d/day\n",
			st.Limits.RequestsPerMinute, st.Limits.RequestsPerHour, st.Limits.RequestsPerDay)
		fmt.Fprintf(out, "  quota:     %d of %d used (%.1f%%)\n", st.QuotaUsed, st.Limits.QuotaPerDay, st.QuotaPercentage)
		fmt.Fprintf(out, "  remaining: %d\n", st.QuotaRemaining)
		return nil
	})
}
