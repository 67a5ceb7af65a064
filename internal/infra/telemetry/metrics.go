package telemetry

import (
	"time"

	"toolgate/internal/domain"
)

// NoopMetrics discards every observation. It stands in wherever a caller
// does not wire a real metrics backend.
type NoopMetrics struct{}

func (NoopMetrics) ObserveConnect(_ time.Duration, _ error) {}

func (NoopMetrics) ObserveDiscover(_ time.Duration, _ error) {}

func (NoopMetrics) ObserveHealthCheck(_ domain.HealthStatus, _ time.Duration) {}

func (NoopMetrics) SetOpenSessions(_ int) {}

var _ domain.Metrics = NoopMetrics{}
