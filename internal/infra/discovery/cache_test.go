package discovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"toolgate/internal/domain"
	"toolgate/internal/infra/session"
	"toolgate/internal/infra/store"
)

type fakeCatalog map[string]domain.CatalogTemplate

func (c fakeCatalog) Template(id string) (domain.CatalogTemplate, bool) {
	tpl, ok := c[id]
	return tpl, ok
}

func (c fakeCatalog) Templates() []domain.CatalogTemplate {
	out := make([]domain.CatalogTemplate, 0, len(c))
	for _, tpl := range c {
		out = append(out, tpl)
	}
	return out
}

type fakePool struct {
	mu          sync.Mutex
	connectErr  error
	discoverErr error
	tools       []domain.ToolDescriptor

	connectURL     string
	connectHeaders map[string]string
	discovers      int
	disconnects    int

	// When set, DiscoverTools closes discoverEntered and then blocks until
	// discoverGate is closed. Single use.
	discoverEntered chan struct{}
	discoverGate    chan struct{}
}

func (p *fakePool) Connect(ctx context.Context, serverURL string, headers map[string]string) (*session.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connectURL = serverURL
	p.connectHeaders = headers
	if p.connectErr != nil {
		return nil, p.connectErr
	}
	return &session.Handle{}, nil
}

func (p *fakePool) DiscoverTools(ctx context.Context, handle *session.Handle) ([]domain.ToolDescriptor, error) {
	if p.discoverEntered != nil {
		close(p.discoverEntered)
	}
	if p.discoverGate != nil {
		<-p.discoverGate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.discovers++
	if p.discoverErr != nil {
		return nil, p.discoverErr
	}
	return p.tools, nil
}

func (p *fakePool) Disconnect(serverURL string, headers map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnects++
}

func seedConnection(t *testing.T, s domain.ConnectionStore, serverURL string) *domain.Connection {
	t.Helper()
	conn := &domain.Connection{
		ID:         "conn-1",
		OrgID:      "org-1",
		TemplateID: "tpl-search",
		ServerURL:  serverURL,
		AuthKind:   domain.AuthAPIKey,
		Credentials: domain.CredentialBlob{
			Kind:   domain.AuthAPIKey,
			Fields: map[string]any{"apiKey": "sk_live_abcdef123456"},
		},
		Status:       domain.StatusActive,
		HealthStatus: domain.HealthHealthy,
		Tools: []domain.ToolDescriptor{
			{Name: "stale_tool", Description: "Old listing."},
		},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.Put(context.Background(), conn))
	return conn
}

func testCatalog() fakeCatalog {
	return fakeCatalog{
		"tpl-search": {
			ID:        "tpl-search",
			Name:      "Web Search",
			ServerURL: "https://search.example.com/mcp",
			AuthKinds: []domain.AuthKind{domain.AuthAPIKey},
		},
	}
}

func TestForceRefreshPersistsNewListing(t *testing.T) {
	s := store.NewMemoryStore()
	seedConnection(t, s, "")
	pool := &fakePool{tools: []domain.ToolDescriptor{
		{Name: "web_search", Description: "Search the public web."},
		{Name: "fetch_page"},
	}}
	cache := NewCache(s, testCatalog(), pool, zap.NewNop())

	tools, err := cache.ForceRefresh(context.Background(), "conn-1")
	require.NoError(t, err)
	require.Len(t, tools, 2)
	require.Equal(t, "web_search", tools[0].Name)

	persisted, err := s.Get(context.Background(), "conn-1")
	require.NoError(t, err)
	require.Len(t, persisted.Tools, 2)
	require.Equal(t, "web_search", persisted.Tools[0].Name)
	require.Equal(t, 1, pool.disconnects)
}

func TestForceRefreshUsesTemplateAddressAndAuthHeaders(t *testing.T) {
	s := store.NewMemoryStore()
	seedConnection(t, s, "")
	pool := &fakePool{}
	cache := NewCache(s, testCatalog(), pool, zap.NewNop())

	_, err := cache.ForceRefresh(context.Background(), "conn-1")
	require.NoError(t, err)
	require.Equal(t, "https://search.example.com/mcp", pool.connectURL)
	require.Equal(t, map[string]string{"X-API-Key": "sk_live_abcdef123456"}, pool.connectHeaders)
}

func TestForceRefreshPrefersOverrideAddress(t *testing.T) {
	s := store.NewMemoryStore()
	seedConnection(t, s, "https://tenant.example.com/mcp")
	pool := &fakePool{}
	cache := NewCache(s, testCatalog(), pool, zap.NewNop())

	_, err := cache.ForceRefresh(context.Background(), "conn-1")
	require.NoError(t, err)
	require.Equal(t, "https://tenant.example.com/mcp", pool.connectURL)
}

func TestForceRefreshDiscoverFailureKeepsCachedListing(t *testing.T) {
	s := store.NewMemoryStore()
	seedConnection(t, s, "")
	pool := &fakePool{discoverErr: errors.New("stream reset")}
	cache := NewCache(s, testCatalog(), pool, zap.NewNop())

	_, err := cache.ForceRefresh(context.Background(), "conn-1")
	require.Error(t, err)

	persisted, err := s.Get(context.Background(), "conn-1")
	require.NoError(t, err)
	require.Len(t, persisted.Tools, 1)
	require.Equal(t, "stale_tool", persisted.Tools[0].Name)
	require.Equal(t, 1, pool.disconnects)
}

func TestForceRefreshConnectFailureKeepsCachedListing(t *testing.T) {
	s := store.NewMemoryStore()
	seedConnection(t, s, "")
	pool := &fakePool{connectErr: domain.E(domain.CodeUnavailable, "session.connect", "", errors.New("refused"))}
	cache := NewCache(s, testCatalog(), pool, zap.NewNop())

	_, err := cache.ForceRefresh(context.Background(), "conn-1")
	require.Error(t, err)
	require.Equal(t, 0, pool.discovers)
	require.Equal(t, 0, pool.disconnects)

	persisted, err := s.Get(context.Background(), "conn-1")
	require.NoError(t, err)
	require.Equal(t, "stale_tool", persisted.Tools[0].Name)
}

func TestForceRefreshKeepsHealthRecordedMidRefresh(t *testing.T) {
	s := store.NewMemoryStore()
	seedConnection(t, s, "")
	pool := &fakePool{
		tools: []domain.ToolDescriptor{
			{Name: "web_search"},
			{Name: "fetch_page"},
		},
		discoverEntered: make(chan struct{}),
		discoverGate:    make(chan struct{}),
	}
	cache := NewCache(s, testCatalog(), pool, zap.NewNop())

	errCh := make(chan error, 1)
	go func() {
		_, err := cache.ForceRefresh(context.Background(), "conn-1")
		errCh <- err
	}()
	<-pool.discoverEntered

	// A health check records a status change while discovery is in flight.
	conn, err := s.Get(context.Background(), "conn-1")
	require.NoError(t, err)
	conn.Status = domain.StatusError
	conn.HealthStatus = domain.HealthDown
	conn.LastHealthCheck = time.Now().UTC()
	require.NoError(t, s.Put(context.Background(), conn))

	close(pool.discoverGate)
	require.NoError(t, <-errCh)

	// The refreshed listing lands without rolling back the health write.
	persisted, err := s.Get(context.Background(), "conn-1")
	require.NoError(t, err)
	require.Len(t, persisted.Tools, 2)
	require.Equal(t, "web_search", persisted.Tools[0].Name)
	require.Equal(t, domain.StatusError, persisted.Status)
	require.Equal(t, domain.HealthDown, persisted.HealthStatus)
	require.False(t, persisted.LastHealthCheck.IsZero())
}

func TestForceRefreshUnknownConnection(t *testing.T) {
	cache := NewCache(store.NewMemoryStore(), testCatalog(), &fakePool{}, zap.NewNop())
	_, err := cache.ForceRefresh(context.Background(), "conn-missing")
	require.ErrorIs(t, err, domain.ErrConnectionNotFound)
}

func TestForceRefreshUnknownTemplate(t *testing.T) {
	s := store.NewMemoryStore()
	seedConnection(t, s, "")
	cache := NewCache(s, fakeCatalog{}, &fakePool{}, zap.NewNop())

	_, err := cache.ForceRefresh(context.Background(), "conn-1")
	require.ErrorIs(t, err, domain.ErrTemplateNotFound)
}
