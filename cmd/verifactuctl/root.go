package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/invoices/backend/internal/bootstrap"
	"github.com/invoices/backend/internal/infrastructure/config"
	"github.com/invoices/backend/internal/infrastructure/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// configLoader is config.Load, swapped out in tests
type configLoader func() (*config.Config, error)

type cli struct {
	load     configLoader
	logLevel string
}

func newRootCmd(load configLoader) *cobra.Command {
	c := &cli{load: load}
	root := &cobra.Command{
		Use:   "verifactuctl",
		Short: "Operator tool for the VeriFactu invoice pipeline",
		Long: `verifactuctl talks to the same database, Redis and object storage as the
server, using the same configuration (config.toml, .env and VERIFACTU_*
environment variables).

canonicalize and rollout-bucket work offline and need no configuration.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "warn", "Log level written to stderr (debug, info, warn, error)")

	root.AddCommand(
		c.canonicalizeCmd(),
		c.rolloutBucketCmd(),
		c.tokenCmd(),
		c.verifyChainCmd(),
		c.sweepCmd(),
	)
	return root
}

func (c *cli) logger() *zap.Logger {
	return logger.New(&logger.Config{Level: c.logLevel, Format: "console", Output: "stderr"})
}

// withApp loads configuration, wires the services, runs fn and releases
// every connection afterwards.
func (c *cli) withApp(ctx context.Context, fn func(*bootstrap.App) error) error {
	cfg, err := c.load()
	if err != nil {
		return err
	}
	log := c.logger()
	defer func() {
		_ = log.Sync()
	}()

	app, err := bootstrap.Build(ctx, cfg, log, bootstrap.Options{})
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Warn("Error releasing resources", zap.Error(err))
		}
	}()
	return fn(app)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
