package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"toolgate/internal/domain"
)

type PrometheusMetrics struct {
	connectDuration  *prometheus.HistogramVec
	discoverDuration *prometheus.HistogramVec
	healthChecks     *prometheus.CounterVec
	healthDuration   prometheus.Histogram
	openSessions     prometheus.Gauge
}

func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &PrometheusMetrics{
		connectDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolgate_connect_duration_seconds",
				Help:    "Duration of tool server connect attempts in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"status"},
		),
		discoverDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolgate_discover_duration_seconds",
				Help:    "Duration of tool discovery requests in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"status"},
		),
		healthChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolgate_health_checks_total",
				Help: "Total number of connection health checks by outcome",
			},
			[]string{"health"},
		),
		healthDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "toolgate_health_check_duration_seconds",
				Help:    "Wall-clock duration of the full connect/discover/disconnect health sequence",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		openSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "toolgate_open_sessions",
				Help: "Current number of open tool server sessions",
			},
		),
	}
}

func (p *PrometheusMetrics) ObserveConnect(duration time.Duration, err error) {
	p.connectDuration.WithLabelValues(statusLabel(err)).Observe(duration.Seconds())
}

func (p *PrometheusMetrics) ObserveDiscover(duration time.Duration, err error) {
	p.discoverDuration.WithLabelValues(statusLabel(err)).Observe(duration.Seconds())
}

func (p *PrometheusMetrics) ObserveHealthCheck(status domain.HealthStatus, duration time.Duration) {
	p.healthChecks.WithLabelValues(string(status)).Inc()
	p.healthDuration.Observe(duration.Seconds())
}

func (p *PrometheusMetrics) SetOpenSessions(count int) {
	p.openSessions.Set(float64(count))
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

var _ domain.Metrics = (*PrometheusMetrics)(nil)
