package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/stewmckendry/health-assistant/internal/bootstrap"
	"github.com/stewmckendry/health-assistant/internal/config"
	"github.com/stewmckendry/health-assistant/internal/observability/logging"
)

type rootOptions struct {
	logLevel    string
	profilePath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "evidencectl",
		Short: "Query the evidence engine from the command line",
		Long: `evidencectl answers health billing and funding questions against the
configured relational store and passage index, using the same engine as the
HTTP API and the NATS worker. Configuration comes from the same environment
variables (RELATIONAL_DRIVER, QDRANT_URL, JUDGE_PROVIDER, ...).`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level for stderr (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&opts.profilePath, "profile", "", "YAML domain profile (overrides DOMAIN_PROFILE_PATH)")

	root.AddCommand(
		newClassifyCmd(opts),
		newAnswerCmd(opts),
		newSeedCmd(opts),
		newMCPCmd(opts),
	)
	return root
}

func (o *rootOptions) config() config.Config {
	cfg := config.Load()
	if o.profilePath != "" {
		cfg.DomainProfilePath = o.profilePath
	}
	return cfg
}

// logger writes to the command's stderr so stdout stays parseable.
func (o *rootOptions) logger(cmd *cobra.Command) *slog.Logger {
	logger := logging.NewJSONLoggerTo(cmd.ErrOrStderr(), "evidencectl", o.logLevel)
	slog.SetDefault(logger)
	return logger
}

func (o *rootOptions) app(ctx context.Context, cmd *cobra.Command) (*bootstrap.App, error) {
	return bootstrap.New(ctx, o.config(), bootstrap.Options{
		Service: "evidencectl",
		Logger:  o.logger(cmd),
	})
}
