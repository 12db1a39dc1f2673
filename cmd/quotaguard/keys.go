package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/artpar/quotaguard/app"
	"github.com/artpar/quotaguard/bootstrap"
	"github.com/spf13/cobra"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage API keys",
	Long: `Manage quotaguard API keys.

Each user can hold several keys. A secret is shown once, when the key is
generated or rotated; only its hash is stored.

Examples:
  quotaguard keys generate --user u1 --name ci --scope quota:read
  quotaguard keys list --user u1
  quotaguard keys rotate key_abc123
  quotaguard keys revoke key_abc123 --yes
  quotaguard keys usage key_abc123 --days 7`,
}

var keysGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new API key",
	RunE:  runKeysGenerate,
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's API keys",
	RunE:  runKeysList,
}

var keysRotateCmd = &cobra.Command{
	Use:   "rotate <key-id>",
	Short: "Replace a key with a fresh secret",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysRotate,
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke <key-id>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysRevoke,
}

var keysValidateCmd = &cobra.Command{
	Use:   "validate <secret>",
	Short: "Check whether a secret is a usable key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysValidate,
}

var keysUsageCmd = &cobra.Command{
	Use:   "usage <key-id>",
	Short: "Show per-endpoint usage of a key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysUsage,
}

var (
	keyUserID    string
	keyName      string
	keyScopes    []string
	keyPerMinute int64
	keyPerHour   int64
	keyPerDay    int64
	keyExpiresIn time.Duration
	keyYes       bool
	usageDays    int
)

func init() {
	rootCmd.AddCommand(keysCmd)

	keysCmd.AddCommand(keysGenerateCmd)
	keysCmd.AddCommand(keysListCmd)
	keysCmd.AddCommand(keysRotateCmd)
	keysCmd.AddCommand(keysRevokeCmd)
	keysCmd.AddCommand(keysValidateCmd)
	keysCmd.AddCommand(keysUsageCmd)

	keysGenerateCmd.Flags().StringVar(&keyUserID, "user", "", "owner user ID (required)")
	keysGenerateCmd.Flags().StringVar(&keyName, "name", "", "key name (required)")
	keysGenerateCmd.Flags().StringSliceVar(&keyScopes, "scope", nil, "granted scope, repeatable ('*' grants all)")
	keysGenerateCmd.Flags().Int64Var(&keyPerMinute, "per-minute", 0, "per-key requests per minute (0 = none)")
	keysGenerateCmd.Flags().Int64Var(&keyPerHour, "per-hour", 0, "per-key requests per hour (0 = none)")
	keysGenerateCmd.Flags().Int64Var(&keyPerDay, "per-day", 0, "per-key requests per day (0 = none)")
	keysGenerateCmd.Flags().DurationVar(&keyExpiresIn, "expires-in", 0, "lifetime, e.g. 720h (0 = never expires)")
	keysGenerateCmd.MarkFlagRequired("user")
	keysGenerateCmd.MarkFlagRequired("name")

	keysListCmd.Flags().StringVar(&keyUserID, "user", "", "user ID (required)")
	keysListCmd.MarkFlagRequired("user")

	keysRevokeCmd.Flags().BoolVarP(&keyYes, "yes", "y", false, "skip confirmation")

	keysUsageCmd.Flags().IntVar(&usageDays, "days", 30, "lookback in days")
}

func optional(n int64) *int64 {
	if n <= 0 {
		return nil
	}
	return &n
}

func runKeysGenerate(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *bootstrap.App) error {
		p := app.GenerateParams{
			UserID:             keyUserID,
			Name:               keyName,
			Scopes:             keyScopes,
			RateLimitPerMinute: optional(keyPerMinute),
			RateLimitPerHour:   optional(keyPerHour),
			RateLimitPerDay:    optional(keyPerDay),
		}
		if keyExpiresIn > 0 {
			at := time.Now().Add(keyExpiresIn).UTC()
			p.ExpiresAt = &at
		}

		m, err := a.Engine.GenerateKey(ctx, p)
		if err != nil {
			return fmt.Errorf("generate key: %w", err)
		}
		printMaterial(cmd, "Created", m)
		return nil
	})
}

func runKeysList(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *bootstrap.App) error {
		keys, err := a.Engine.Keys.List(ctx, keyUserID)
		if err != nil {
			return fmt.Errorf("list keys: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(keys) == 0 {
			fmt.Fprintf(out, "No keys found for user %s.\n", keyUserID)
			return nil
		}

		now := time.Now()
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPREFIX\tNAME\tSCOPES\tSTATUS\tCREATED")
		for _, k := range keys {
			fmt.Fprintf(w, "%s\t%s...\t%s\t%s\t%s\t%s\n",
				k.ID, k.Prefix, k.Name, strings.Join(k.Scopes, ","), k.State(now), k.CreatedAt.Format("2006-01-02"))
		}
		return w.Flush()
	})
}

func runKeysRotate(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *bootstrap.App) error {
		m, err := a.Engine.RotateKey(ctx, args[0])
		if err != nil {
			return fmt.Errorf("rotate key: %w", err)
		}
		printMaterial(cmd, "Rotated "+args[0]+" to", m)
		return nil
	})
}

func runKeysRevoke(cmd *cobra.Command, args []string) error {
	keyID := args[0]
	if !keyYes && !confirm(cmd, fmt.Sprintf("Revoke key %s?", keyID)) {
		fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
		return nil
	}
	return withApp(cmd, func(ctx context.Context, a *bootstrap.App) error {
		if err := a.Engine.RevokeKey(ctx, keyID); err != nil {
			return fmt.Errorf("revoke key: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Revoked key: %s\n", checkMark, keyID)
		return nil
	})
}

func runKeysValidate(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *bootstrap.App) error {
		k, err := a.Engine.ValidateKey(ctx, args[0])
		if err != nil {
			return fmt.Errorf("%s key rejected: %w", crossMark, err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s Key is valid\n", checkMark)
		fmt.Fprintf(out, "  ID:     %s\n", k.ID)
		fmt.Fprintf(out, "  User:   %s\n", k.UserID)
		fmt.Fprintf(out, "  Scopes: %s\n", strings.Join(k.Scopes, ","))
		return nil
	})
}

func runKeysUsage(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *bootstrap.App) error {
		r, err := a.Engine.KeyUsage(ctx, args[0], usageDays)
		if err != nil {
			return fmt.Errorf("key usage: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Usage of %s since %s: %d requests\n", r.KeyID, r.Since.Format(time.RFC3339), r.Total)
		if len(r.Endpoints) == 0 {
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ENDPOINT\tCOUNT\tLAST USED")
		for _, e := range r.Endpoints {
			fmt.Fprintf(w, "%s\t%d\t%s\n", e.Endpoint, e.Count, e.LastUsed.Format(time.RFC3339))
		}
		return w.Flush()
	})
}

func printMaterial(cmd *cobra.Command, verb string, m app.Material) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s key for user %s\n", checkMark, verb, m.Key.UserID)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "API Key (save this, shown once):")
	fmt.Fprintf(out, "  %s\n", m.Secret)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Key ID: %s\n", m.Key.ID)
}
