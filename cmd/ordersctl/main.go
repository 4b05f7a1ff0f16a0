package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/auth"
	"github.com/ariefcatur/go-storefront-orders/internal/config"
	"github.com/ariefcatur/go-storefront-orders/internal/postgres"
	"github.com/ariefcatur/go-storefront-orders/internal/sequence"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	rootCmd := &cobra.Command{
		Use:           "ordersctl",
		Short:         "Maintenance commands for the order service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(migrateCmd(cfg))
	rootCmd.AddCommand(counterCmd(cfg))
	rootCmd.AddCommand(tokenCmd(cfg))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func migrateCmd(cfg config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	})
	return cmd
}

func counterCmd(cfg config.Config) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "counter",
		Short: "Inspect or repair the order number counter",
	}
	cmd.PersistentFlags().StringVar(&name, "name", cfg.OrderCounter, "counter name")

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the last issued sequence",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withAllocator(cmd.Context(), cfg, func(a *sequence.Allocator) error {
				seq, err := a.Current(cmd.Context(), name)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{"counter": name, "current": seq})
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "sync",
		Short: "Realign the counter with the highest existing order number",
		Long: `Scans every order number, takes the highest sequence and writes it back
to the counter. Run it after restoring a backup or importing orders.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withAllocator(cmd.Context(), cfg, func(a *sequence.Allocator) error {
				res, err := a.Sync(cmd.Context(), name)
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	})
	return cmd
}

func tokenCmd(cfg config.Config) *cobra.Command {
	var (
		staff auth.Staff
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Staff bearer tokens",
	}
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Sign a staff token with JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfg.JWTSecret == "" {
				return fmt.Errorf("JWT_SECRET is not set")
			}
			if !staff.IsStaff() {
				return fmt.Errorf("role must be %q or %q", auth.RoleAdmin, auth.RoleSuperAdmin)
			}
			v := &auth.Verifier{Secret: []byte(cfg.JWTSecret), Issuer: cfg.JWTIssuer}
			tok, err := v.Issue(staff, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	issue.Flags().StringVar(&staff.ID, "id", "", "staff id (token subject)")
	issue.Flags().StringVar(&staff.Email, "email", "", "staff email")
	issue.Flags().StringVar(&staff.Role, "role", auth.RoleAdmin, "admin or superadmin")
	issue.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	_ = issue.MarkFlagRequired("id")
	cmd.AddCommand(issue)
	return cmd
}

func withAllocator(ctx context.Context, cfg config.Config, fn func(*sequence.Allocator) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer db.Close()
	return fn(&sequence.Allocator{DB: db, Logger: cfg.NewLogger("ordersctl")})
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
