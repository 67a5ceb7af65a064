package telemetry

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolgate/internal/domain"
)

func TestNewPrometheusMetrics(t *testing.T) {
	m := NewPrometheusMetrics(prometheus.NewRegistry())
	assert.NotNil(t, m)
	assert.NotNil(t, m.connectDuration)
	assert.NotNil(t, m.discoverDuration)
	assert.NotNil(t, m.healthChecks)
	assert.NotNil(t, m.healthDuration)
	assert.NotNil(t, m.openSessions)
}

func TestNewPrometheusMetrics_UsesProvidedRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()

	m := NewPrometheusMetrics(registry)
	m.ObserveConnect(10*time.Millisecond, nil)
	m.ObserveConnect(10*time.Millisecond, errors.New("refused"))
	m.ObserveDiscover(5*time.Millisecond, nil)
	m.ObserveHealthCheck(domain.HealthHealthy, 15*time.Millisecond)
	m.SetOpenSessions(3)

	metrics, err := registry.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(metrics))
	for _, family := range metrics {
		names = append(names, family.GetName())
	}

	assert.Contains(t, names, "toolgate_connect_duration_seconds")
	assert.Contains(t, names, "toolgate_discover_duration_seconds")
	assert.Contains(t, names, "toolgate_health_checks_total")
	assert.Contains(t, names, "toolgate_health_check_duration_seconds")
	assert.Contains(t, names, "toolgate_open_sessions")
}

func TestMetricsImplementations(t *testing.T) {
	var _ domain.Metrics = (*PrometheusMetrics)(nil)
	var _ domain.Metrics = NoopMetrics{}
}
