package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/artpar/quotaguard/adapters/idgen"
	"github.com/artpar/quotaguard/bootstrap"
	"github.com/artpar/quotaguard/ports"
	"github.com/spf13/cobra"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage users",
	Long: `Manage the users limits are tracked against.

Examples:
  quotaguard users add --email dev@example.com --plan pro
  quotaguard users list`,
}

var usersAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a user",
	RunE:  runUsersAdd,
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users",
	RunE:  runUsersList,
}

var (
	userID    string
	userEmail string
	userName  string
	userPlan  string
)

func init() {
	rootCmd.AddCommand(usersCmd)

	usersCmd.AddCommand(usersAddCmd)
	usersCmd.AddCommand(usersListCmd)

	usersAddCmd.Flags().StringVar(&userID, "id", "", "user ID (generated when empty)")
	usersAddCmd.Flags().StringVar(&userEmail, "email", "", "alert contact email (required)")
	usersAddCmd.Flags().StringVar(&userName, "name", "", "display name")
	usersAddCmd.Flags().StringVar(&userPlan, "plan", "", "plan name (default: configured default plan)")
	usersAddCmd.MarkFlagRequired("email")
}

func runUsersAdd(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *bootstrap.App) error {
		u := ports.User{
			ID:        userID,
			Email:     userEmail,
			Name:      userName,
			Plan:      userPlan,
			CreatedAt: time.Now().UTC(),
		}
		if u.ID == "" {
			u.ID = idgen.UUID{Prefix: idgen.PrefixUser}.New()
		}
		if u.Plan == "" {
			u.Plan = a.Config.DefaultPlan
		}
		if _, resolved, found := a.Engine.Limiter.Catalog().Resolve(u.Plan); !found {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: plan %q is not configured, limits fall back to %q\n", u.Plan, resolved)
		}

		if err := a.Engine.Users.Create(ctx, u); err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Created user %s (%s) on plan %s\n", checkMark, u.ID, u.Email, u.Plan)
		return nil
	})
}

func runUsersList(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *bootstrap.App) error {
		users, err := a.Engine.Users.List(ctx)
		if err != nil {
			return fmt.Errorf("list users: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(users) == 0 {
			fmt.Fprintln(out, "No users found.")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tEMAIL\tNAME\tPLAN\tCREATED")
		for _, u := range users {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", u.ID, u.Email, u.Name, u.Plan, u.CreatedAt.Format("2006-01-02"))
		}
		return w.Flush()
	})
}
