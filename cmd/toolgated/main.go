package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"toolgate/internal/app"
)

type serveOptions struct {
	configPath     string
	listenAddress  string
	metricsAddress string
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	root := newRootCmd(logger)
	if err := root.Execute(); err != nil {
		logger.Fatal("command failed", zap.Error(err))
	}
}

func newRootCmd(logger *zap.Logger) *cobra.Command {
	opts := serveOptions{
		configPath: "toolgate.yaml",
	}

	root := &cobra.Command{
		Use:   "toolgated",
		Short: "Connection gateway for remote MCP tool servers",
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", opts.configPath, "path to gateway config file")

	root.AddCommand(
		newServeCmd(logger, &opts),
		newValidateCmd(logger, &opts),
	)

	return root
}

func newServeCmd(logger *zap.Logger, opts *serveOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the tool-server connection gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()

			serveCfg := app.ServeConfig{ConfigPath: opts.configPath}
			applyServeFlagOverrides(cmd.Flags(), opts, &serveCfg)

			application := app.New(logger)
			return application.Serve(ctx, serveCfg)
		},
	}

	cmd.Flags().StringVar(&opts.listenAddress, "listen", "", "override the API listen address from config")
	cmd.Flags().StringVar(&opts.metricsAddress, "metrics", "", "override the metrics listen address from config")
	return cmd
}

// applyServeFlagOverrides copies only the flags the user actually set, so an
// empty flag never clobbers a configured value.
func applyServeFlagOverrides(flags *pflag.FlagSet, opts *serveOptions, cfg *app.ServeConfig) {
	flags.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "listen":
			cfg.ListenAddress = opts.listenAddress
		case "metrics":
			cfg.MetricsAddress = opts.metricsAddress
		}
	})
}

func newValidateCmd(logger *zap.Logger, opts *serveOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate gateway and catalog configuration without serving",
		RunE: func(cmd *cobra.Command, args []string) error {
			application := app.New(logger)
			return application.ValidateConfigFile(cmd.Context(), app.ValidateConfig{
				ConfigPath: opts.configPath,
			})
		},
	}
}

func signalAwareContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signals)
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
