package telemetry

import (
	"time"

	"go.uber.org/zap"
)

const (
	FieldEvent        = "event"
	FieldConnectionID = "connectionID"
	FieldOrgID        = "orgID"
	FieldTemplateID   = "templateID"
	FieldServerHost   = "serverHost"
	FieldSessionKey   = "sessionKey"
	FieldDurationMs   = "duration_ms"
	FieldToolCount    = "toolCount"
	FieldHealth       = "health"
)

const (
	EventConnectAttempt    = "connect_attempt"
	EventConnectSuccess    = "connect_success"
	EventConnectFailure    = "connect_failure"
	EventConnectReused     = "connect_reused"
	EventDiscoverFailure   = "discover_failure"
	EventDisconnectFailure = "disconnect_failure"
	EventHealthCheck       = "health_check"
	EventRefreshFallback   = "refresh_fallback"
	EventIdleEvict         = "idle_evict"
	EventCatalogReload     = "catalog_reload"
)

func EventField(event string) zap.Field {
	return zap.String(FieldEvent, event)
}

func ConnectionIDField(id string) zap.Field {
	return zap.String(FieldConnectionID, id)
}

func OrgIDField(id string) zap.Field {
	return zap.String(FieldOrgID, id)
}

func TemplateIDField(id string) zap.Field {
	return zap.String(FieldTemplateID, id)
}

func ServerHostField(host string) zap.Field {
	return zap.String(FieldServerHost, host)
}

func SessionKeyField(key string) zap.Field {
	return zap.String(FieldSessionKey, key)
}

func DurationField(duration time.Duration) zap.Field {
	return zap.Int64(FieldDurationMs, duration.Milliseconds())
}

func ToolCountField(count int) zap.Field {
	return zap.Int(FieldToolCount, count)
}

func HealthField(status string) zap.Field {
	return zap.String(FieldHealth, status)
}
