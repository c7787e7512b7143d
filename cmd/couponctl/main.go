package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/storefront/service-coupon/internal/application"
	"github.com/storefront/service-coupon/internal/config"
	"github.com/storefront/service-coupon/internal/platform/database"
	"github.com/storefront/service-coupon/internal/platform/logger"
	"github.com/storefront/service-coupon/internal/repository"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:          "couponctl",
		Short:        "couponctl - operate the storefront coupon service",
		Version:      Version,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().Duration("timeout", 30*time.Second, "Timeout for each command")

	rootCmd.AddCommand(orphansCmd())
	rootCmd.AddCommand(inspectCmd())
	rootCmd.AddCommand(assignCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withAdmin wires the admin service against the configured database and runs fn.
func withAdmin(cmd *cobra.Command, fn func(ctx context.Context, svc *application.CouponAdminService) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	zapLogger, err := logger.NewNamed(cfg.AppEnv, "couponctl")
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer zapLogger.Sync()

	db, err := database.Connect(cfg.DBConfig.Postgres(), zapLogger)
	if err != nil {
		return err
	}
	defer database.Close(db)

	retrier := database.NewRetrier(cfg.RetryConfig.Policy(), zapLogger)
	svc := application.NewCouponAdminService(
		repository.NewTemplateRepository(db, retrier),
		repository.NewInstanceRepository(db, retrier),
		repository.NewUserDirectory(db, retrier),
		zapLogger.With(zap.String("component", "cli")),
	)

	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	return fn(ctx, svc)
}

func orphansCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orphans",
		Short: "List coupons issued without a buyer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			asJSON, _ := cmd.Flags().GetBool("json")

			return withAdmin(cmd, func(ctx context.Context, svc *application.CouponAdminService) error {
				orphans, err := svc.ListOrphans(ctx, limit)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), orphans)
				}
				return writeOrphans(cmd.OutOrStdout(), orphans)
			})
		},
	}

	cmd.Flags().IntP("limit", "n", 100, "Maximum results")
	cmd.Flags().BoolP("json", "j", false, "Output as JSON")

	return cmd
}

func inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [code]",
		Short: "Show a coupon with its template and derived state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd, func(ctx context.Context, svc *application.CouponAdminService) error {
				detail, err := svc.InspectCoupon(ctx, args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), detail)
			})
		},
	}
}

func assignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assign [instance-id] [buyer-id]",
		Short: "Attach an orphaned coupon to a buyer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			instanceID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid instance id: %w", err)
			}
			buyerID, err := uuid.Parse(args[1])
			if err != nil {
				return fmt.Errorf("invalid buyer id: %w", err)
			}

			return withAdmin(cmd, func(ctx context.Context, svc *application.CouponAdminService) error {
				dto, err := svc.AssignBuyer(ctx, instanceID, buyerID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "coupon %s (%s) assigned to buyer %s\n", dto.ID, dto.Code, buyerID)
				return nil
			})
		},
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeOrphans(w io.Writer, orphans []*application.CouponDTO) error {
	if len(orphans) == 0 {
		_, err := fmt.Fprintln(w, "no orphaned coupons")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCODE\tSTATE\tPAYMENT\tPAYER EMAIL\tISSUED")
	for _, o := range orphans {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			o.ID, o.Code, o.State, o.ExternalPaymentID, valueOrDash(o.PayerEmail), o.IssuedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func valueOrDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
