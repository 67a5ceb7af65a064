package domain

import (
	"context"
	"time"
)

// ConnectionStore is the narrow persistence surface the gateway depends on.
// Records are independent units; no cross-connection transaction exists.
type ConnectionStore interface {
	Get(ctx context.Context, id string) (*Connection, error)
	GetByOrgTemplate(ctx context.Context, orgID, templateID string) (*Connection, error)
	Put(ctx context.Context, conn *Connection) error
	Delete(ctx context.Context, id string) error
	ListByOrg(ctx context.Context, orgID string) ([]*Connection, error)
}

// TemplateCatalog is the read-only lookup of known tool-server templates.
type TemplateCatalog interface {
	Template(id string) (CatalogTemplate, bool)
	Templates() []CatalogTemplate
}

// Metrics receives gateway observations. Implementations must be safe for
// concurrent use.
type Metrics interface {
	ObserveConnect(duration time.Duration, err error)
	ObserveDiscover(duration time.Duration, err error)
	ObserveHealthCheck(status HealthStatus, duration time.Duration)
	SetOpenSessions(count int)
}
