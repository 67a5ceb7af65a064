// Package health probes stored connections against their live servers and
// records the outcome.
package health

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"toolgate/internal/domain"
	"toolgate/internal/infra/discovery"
	"toolgate/internal/infra/telemetry"
)

// Prober answers whether a connection is usable right now. A probe runs the
// full connect, discover, disconnect sequence and measures wall-clock latency
// across it. Reachability and misconfiguration are deliberately conflated:
// both come back as down.
type Prober struct {
	store    domain.ConnectionStore
	catalog  domain.TemplateCatalog
	sessions discovery.SessionPool
	metrics  domain.Metrics
	logger   *zap.Logger
}

func NewProber(store domain.ConnectionStore, catalog domain.TemplateCatalog, sessions discovery.SessionPool, metrics domain.Metrics, logger *zap.Logger) *Prober {
	if metrics == nil {
		metrics = telemetry.NoopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{
		store:    store,
		catalog:  catalog,
		sessions: sessions,
		metrics:  metrics,
		logger:   logger.Named("health"),
	}
}

// Check probes a connection and persists the observed health. A remote
// failure is a down result, not an error; errors are reserved for unknown
// connections and persistence trouble.
func (p *Prober) Check(ctx context.Context, connectionID string) (domain.TestResult, error) {
	conn, err := p.store.Get(ctx, connectionID)
	if err != nil {
		return domain.TestResult{}, fmt.Errorf("load connection: %w", err)
	}

	serverURL, headers, err := discovery.ResolveTarget(p.catalog, conn)
	if err != nil {
		return domain.TestResult{}, err
	}

	started := time.Now()
	result, probeErr := p.probe(ctx, serverURL, headers)
	elapsed := time.Since(started)
	result.LatencyMs = elapsed.Milliseconds()

	p.metrics.ObserveHealthCheck(result.Status, elapsed)
	if probeErr != nil {
		p.logger.Warn("health check failed",
			telemetry.EventField(telemetry.EventHealthCheck),
			telemetry.ConnectionIDField(connectionID),
			telemetry.HealthField(string(result.Status)),
			telemetry.DurationField(elapsed),
			zap.Error(probeErr),
		)
	} else {
		p.logger.Info("health check passed",
			telemetry.EventField(telemetry.EventHealthCheck),
			telemetry.ConnectionIDField(connectionID),
			telemetry.HealthField(string(result.Status)),
			telemetry.DurationField(elapsed),
			telemetry.ToolCountField(result.ToolCount),
		)
	}

	if err := p.record(ctx, connectionID, result); err != nil {
		return domain.TestResult{}, err
	}
	return result, nil
}

// probe runs one connect, discover, disconnect round trip. The disconnect is
// cleanup only; its failure never changes the probe outcome.
func (p *Prober) probe(ctx context.Context, serverURL string, headers map[string]string) (domain.TestResult, error) {
	handle, err := p.sessions.Connect(ctx, serverURL, headers)
	if err != nil {
		return domain.TestResult{Status: domain.HealthDown}, err
	}
	defer p.sessions.Disconnect(serverURL, headers)

	tools, err := p.sessions.DiscoverTools(ctx, handle)
	if err != nil {
		return domain.TestResult{Status: domain.HealthDown}, err
	}
	return domain.TestResult{Status: domain.HealthHealthy, ToolCount: len(tools)}, nil
}

func (p *Prober) record(ctx context.Context, connectionID string, result domain.TestResult) error {
	// Re-read before writing: a tool refresh may have persisted a fresh
	// listing while the probe was in flight, and that listing must survive.
	conn, err := p.store.Get(ctx, connectionID)
	if err != nil {
		return fmt.Errorf("reload connection: %w", err)
	}

	now := time.Now().UTC()
	conn.LastHealthCheck = now
	conn.UpdatedAt = now
	conn.HealthStatus = result.Status
	if result.Status == domain.HealthHealthy {
		conn.Status = domain.StatusActive
	} else {
		conn.Status = domain.StatusError
	}
	if err := p.store.Put(ctx, conn); err != nil {
		return fmt.Errorf("persist health state: %w", err)
	}
	return nil
}
