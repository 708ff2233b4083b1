package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/invoices/backend/internal/bootstrap"
	"github.com/invoices/backend/internal/infrastructure/auth"
	"github.com/spf13/cobra"
)

// errChainBroken makes verify-chain exit non-zero after printing the report
var errChainBroken = errors.New("chain integrity check failed")

func (c *cli) tokenCmd() *cobra.Command {
	var scopes []string
	cmd := &cobra.Command{
		Use:   "token <operator>",
		Short: "Mint an operator token for the /api/v1/verifactu endpoints",
		Example: `  # Read-only dashboard token
  verifactuctl token grafana --scope verifactu:read

  # Full access
  verifactuctl token alice --scope '*'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.load()
			if err != nil {
				return err
			}
			token, expiresAt, err := auth.NewJWTService(cfg.JWT).Issue(args[0], scopes...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s, scopes %s\n", expiresAt.UTC().Format(time.RFC3339), strings.Join(scopes, ","))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{auth.ScopeRead}, "Scopes to grant (repeatable)")
	return cmd
}

func (c *cli) verifyChainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify-chain <company-id>",
		Short: "Recompute a company's hash chain and report the first broken link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			companyID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid company id %q: %w", args[0], err)
			}
			return c.withApp(cmd.Context(), func(app *bootstrap.App) error {
				report, err := app.Chain.VerifyCompany(cmd.Context(), companyID)
				if err != nil {
					return err
				}
				if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				if !report.Valid {
					return errChainBroken
				}
				return nil
			})
		},
	}
}

func (c *cli) sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one retry sweep now",
		Long: `Times out stale SENDING invoices, requeues retryable FAILED and TIMEOUT
invoices and dead-letters those out of retries, exactly like the server's
periodic sweep.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(app *bootstrap.App) error {
				stats, err := app.Retry.Sweep(cmd.Context())
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), stats)
			})
		},
	}
}
