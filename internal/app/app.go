// Package app wires the gateway process together.
package app

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"toolgate/internal/gateway"
	"toolgate/internal/httpapi"
	"toolgate/internal/infra/catalog"
	"toolgate/internal/infra/config"
	"toolgate/internal/infra/discovery"
	"toolgate/internal/infra/health"
	"toolgate/internal/infra/policy"
	"toolgate/internal/infra/session"
	"toolgate/internal/infra/store"
	"toolgate/internal/infra/telemetry"
)

type App struct {
	logger *zap.Logger
}

type ServeConfig struct {
	ConfigPath string

	// Optional address overrides, set from CLI flags.
	ListenAddress  string
	MetricsAddress string
}

type ValidateConfig struct {
	ConfigPath string
}

func New(logger *zap.Logger) *App {
	return &App{
		logger: logger.Named("app"),
	}
}

// Serve runs the gateway until ctx is cancelled.
func (a *App) Serve(ctx context.Context, serveCfg ServeConfig) error {
	cfg, err := config.Load(serveCfg.ConfigPath)
	if err != nil {
		return err
	}
	if serveCfg.ListenAddress != "" {
		cfg.ListenAddress = serveCfg.ListenAddress
	}
	if serveCfg.MetricsAddress != "" {
		cfg.MetricsAddress = serveCfg.MetricsAddress
	}
	a.logger.Info("configuration loaded",
		zap.String("config", serveCfg.ConfigPath),
		zap.String("listen", cfg.ListenAddress),
	)

	fileCatalog, err := catalog.NewFileCatalog(cfg.CatalogPath, a.logger)
	if err != nil {
		return err
	}

	boltStore, err := store.Open(cfg.StorePath)
	if err != nil {
		return err
	}
	defer func() { _ = boltStore.Close() }()

	promRegistry := prometheus.NewRegistry()
	metrics := telemetry.NewPrometheusMetrics(promRegistry)

	registry := session.NewRegistry(session.Options{
		Dialer:          session.NewMCPDialer(a.logger),
		Logger:          a.logger,
		Metrics:         metrics,
		ConnectTimeout:  cfg.ConnectTimeout(),
		DiscoverTimeout: cfg.DiscoverTimeout(),
		IdleTTL:         cfg.SessionIdleTTL(),
		SweepInterval:   cfg.SessionSweepInterval(),
		MaxOpenSessions: cfg.MaxOpenSessions,
	})

	validator := policy.NewValidator(policy.Config{
		AllowInsecureHTTP: cfg.Policy.AllowInsecureHTTP,
		AllowHosts:        cfg.Policy.AllowHosts,
		DenyHosts:         cfg.Policy.DenyHosts,
	})

	cache := discovery.NewCache(boltStore, fileCatalog, registry, a.logger)
	prober := health.NewProber(boltStore, fileCatalog, registry, metrics, a.logger)
	service := gateway.NewService(boltStore, fileCatalog, validator, registry, cache, prober, a.logger)
	apiServer := httpapi.NewServer(service, httpapi.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
	}, a.logger)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return apiServer.Run(groupCtx, cfg.ListenAddress)
	})
	group.Go(func() error {
		return telemetry.StartHTTPServer(groupCtx, telemetry.HTTPServerOptions{
			Addr:     cfg.MetricsAddress,
			Registry: promRegistry,
		}, a.logger)
	})
	group.Go(func() error {
		registry.Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		fileCatalog.Watch(groupCtx)
		return nil
	})

	return group.Wait()
}

// ValidateConfigFile checks the runtime config and the catalog it points at
// without starting anything.
func (a *App) ValidateConfigFile(_ context.Context, validateCfg ValidateConfig) error {
	cfg, err := config.Load(validateCfg.ConfigPath)
	if err != nil {
		return err
	}
	loader := catalog.NewLoader(a.logger)
	templates, err := loader.Load(cfg.CatalogPath)
	if err != nil {
		return err
	}
	a.logger.Info("configuration valid",
		zap.String("config", validateCfg.ConfigPath),
		zap.String("catalog", cfg.CatalogPath),
		zap.Int("templates", len(templates)),
	)
	return nil
}
