// Package discovery refreshes the cached tool listings of stored
// connections against their live servers.
package discovery

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"toolgate/internal/domain"
	"toolgate/internal/infra/credential"
	"toolgate/internal/infra/session"
	"toolgate/internal/infra/telemetry"
)

// SessionPool is the slice of the session registry the cache needs.
type SessionPool interface {
	Connect(ctx context.Context, serverURL string, headers map[string]string) (*session.Handle, error)
	DiscoverTools(ctx context.Context, handle *session.Handle) ([]domain.ToolDescriptor, error)
	Disconnect(serverURL string, headers map[string]string)
}

// Cache keeps each connection's persisted tool list in sync with the remote
// server. The persisted list only ever changes after a fully successful
// connect and discover round trip.
type Cache struct {
	store    domain.ConnectionStore
	catalog  domain.TemplateCatalog
	sessions SessionPool
	logger   *zap.Logger
}

func NewCache(store domain.ConnectionStore, catalog domain.TemplateCatalog, sessions SessionPool, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		store:    store,
		catalog:  catalog,
		sessions: sessions,
		logger:   logger.Named("discovery"),
	}
}

// ForceRefresh connects to the connection's server, discovers its tools,
// persists the new listing, and returns it. Any failure along the way leaves
// the previously persisted listing untouched.
func (c *Cache) ForceRefresh(ctx context.Context, connectionID string) ([]domain.ToolDescriptor, error) {
	conn, err := c.store.Get(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("load connection: %w", err)
	}

	serverURL, headers, err := ResolveTarget(c.catalog, conn)
	if err != nil {
		return nil, err
	}

	handle, err := c.sessions.Connect(ctx, serverURL, headers)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", connectionID, err)
	}
	defer c.sessions.Disconnect(serverURL, headers)

	tools, err := c.sessions.DiscoverTools(ctx, handle)
	if err != nil {
		c.logger.Warn("tool refresh failed",
			telemetry.EventField(telemetry.EventDiscoverFailure),
			telemetry.ConnectionIDField(connectionID),
			zap.Error(err),
		)
		return nil, err
	}

	// Re-read before writing: a health check may have recorded a status
	// change while discovery was in flight, and that write must survive.
	conn, err = c.store.Get(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("reload connection: %w", err)
	}
	conn.Tools = tools
	conn.UpdatedAt = time.Now().UTC()
	if err := c.store.Put(ctx, conn); err != nil {
		return nil, fmt.Errorf("persist tool listing: %w", err)
	}

	c.logger.Info("tool listing refreshed",
		telemetry.ConnectionIDField(connectionID),
		telemetry.ToolCountField(len(tools)),
	)
	return domain.CloneToolDescriptors(tools), nil
}

// ResolveTarget computes the effective server address and auth headers for a
// stored connection.
func ResolveTarget(catalog domain.TemplateCatalog, conn *domain.Connection) (string, map[string]string, error) {
	tpl, ok := catalog.Template(conn.TemplateID)
	if !ok {
		return "", nil, domain.E(domain.CodeNotFound, "discovery.resolve",
			fmt.Sprintf("template %q", conn.TemplateID), domain.ErrTemplateNotFound)
	}
	headers, err := credential.AuthHeaders(conn.Credentials)
	if err != nil {
		return "", nil, err
	}
	return conn.EffectiveServerURL(tpl), headers, nil
}
