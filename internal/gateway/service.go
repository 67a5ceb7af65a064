// Package gateway is the single entry point the rest of the platform uses to
// manage tool-server connections. It composes the policy validator, session
// registry, discovery cache, and health prober, and guarantees that
// credentials never leave it unredacted.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"toolgate/internal/domain"
	"toolgate/internal/infra/credential"
	"toolgate/internal/infra/discovery"
	"toolgate/internal/infra/health"
	"toolgate/internal/infra/policy"
	"toolgate/internal/infra/telemetry"
)

// Service implements the connection lifecycle: create, update, delete, test,
// and refresh. Every operation is scoped to the caller's org; a connection
// owned by another org looks exactly like a missing one.
type Service struct {
	store    domain.ConnectionStore
	catalog  domain.TemplateCatalog
	policy   *policy.Validator
	sessions discovery.SessionPool
	cache    *discovery.Cache
	prober   *health.Prober
	logger   *zap.Logger
}

func NewService(
	store domain.ConnectionStore,
	catalog domain.TemplateCatalog,
	validator *policy.Validator,
	sessions discovery.SessionPool,
	cache *discovery.Cache,
	prober *health.Prober,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		catalog:  catalog,
		policy:   validator,
		sessions: sessions,
		cache:    cache,
		prober:   prober,
		logger:   logger.Named("gateway"),
	}
}

// CreateParams describes a new connection.
type CreateParams struct {
	OrgID      string
	UserID     string
	TemplateID string

	// ServerURL overrides the template's default address when set.
	ServerURL string

	AuthKind    domain.AuthKind
	Credentials map[string]any
	Config      map[string]string
}

// Patch carries a partial update. Nil pointer fields are left unchanged; a
// nil Credentials or Config map is left unchanged while an empty one clears.
type Patch struct {
	ServerURL   *string
	AuthKind    *domain.AuthKind
	Credentials map[string]any
	Config      map[string]string
}

// CreateConnection validates and persists a new connection. The server
// address is policy-checked before anything is stored, and no network call
// happens here: a fresh connection starts pending with unknown health.
func (s *Service) CreateConnection(ctx context.Context, params CreateParams) (*domain.Connection, error) {
	const op = "gateway.create"

	if err := requireFields(op, map[string]string{
		"orgId":      params.OrgID,
		"templateId": params.TemplateID,
	}); err != nil {
		return nil, err
	}

	tpl, ok := s.catalog.Template(params.TemplateID)
	if !ok {
		return nil, domain.E(domain.CodeNotFound, op,
			fmt.Sprintf("template %q", params.TemplateID), domain.ErrTemplateNotFound)
	}

	kind := params.AuthKind
	if kind == "" {
		kind = domain.AuthNone
	}
	if !kind.Valid() {
		return nil, domain.E(domain.CodeInvalidArgument, op,
			fmt.Sprintf("unknown auth kind %q", kind), nil)
	}
	if !tpl.SupportsAuth(kind) {
		return nil, domain.E(domain.CodeInvalidArgument, op,
			fmt.Sprintf("template %q does not support auth kind %q", tpl.ID, kind), nil)
	}

	blob := domain.CredentialBlob{Kind: kind, Fields: params.Credentials}
	if _, err := credential.AuthHeaders(blob); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	conn := &domain.Connection{
		ID:           uuid.NewString(),
		OrgID:        params.OrgID,
		TemplateID:   params.TemplateID,
		CreatedBy:    params.UserID,
		ServerURL:    strings.TrimSpace(params.ServerURL),
		AuthKind:     kind,
		Credentials:  blob,
		Status:       domain.StatusPending,
		HealthStatus: domain.HealthUnknown,
		Config:       params.Config,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.policy.Validate(conn.EffectiveServerURL(tpl)); err != nil {
		return nil, err
	}

	if _, err := s.store.GetByOrgTemplate(ctx, params.OrgID, params.TemplateID); err == nil {
		return nil, domain.E(domain.CodeAlreadyExists, op,
			fmt.Sprintf("org %q already has a connection for template %q", params.OrgID, params.TemplateID),
			domain.ErrDuplicateConnection)
	} else if !errors.Is(err, domain.ErrConnectionNotFound) {
		return nil, err
	}

	if err := s.store.Put(ctx, conn); err != nil {
		return nil, err
	}

	s.logger.Info("connection created",
		telemetry.ConnectionIDField(conn.ID),
		telemetry.OrgIDField(conn.OrgID),
		telemetry.TemplateIDField(conn.TemplateID),
	)
	return redacted(conn), nil
}

// GetConnection returns one connection, org-scoped and redacted.
func (s *Service) GetConnection(ctx context.Context, id, orgID string) (*domain.Connection, error) {
	conn, err := s.scoped(ctx, "gateway.get", id, orgID)
	if err != nil {
		return nil, err
	}
	return redacted(conn), nil
}

// ListConnections returns the org's connections, redacted, in creation order.
func (s *Service) ListConnections(ctx context.Context, orgID string) ([]*domain.Connection, error) {
	conns, err := s.store.ListByOrg(ctx, orgID)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Connection, len(conns))
	for i, conn := range conns {
		out[i] = redacted(conn)
	}
	return out, nil
}

// UpdateConnection applies a patch. A new override address is policy-checked
// before it is persisted.
func (s *Service) UpdateConnection(ctx context.Context, id, orgID string, patch Patch) (*domain.Connection, error) {
	const op = "gateway.update"

	conn, err := s.scoped(ctx, op, id, orgID)
	if err != nil {
		return nil, err
	}
	tpl, ok := s.catalog.Template(conn.TemplateID)
	if !ok {
		return nil, domain.E(domain.CodeNotFound, op,
			fmt.Sprintf("template %q", conn.TemplateID), domain.ErrTemplateNotFound)
	}

	if patch.AuthKind != nil {
		kind := *patch.AuthKind
		if !kind.Valid() {
			return nil, domain.E(domain.CodeInvalidArgument, op,
				fmt.Sprintf("unknown auth kind %q", kind), nil)
		}
		if !tpl.SupportsAuth(kind) {
			return nil, domain.E(domain.CodeInvalidArgument, op,
				fmt.Sprintf("template %q does not support auth kind %q", tpl.ID, kind), nil)
		}
		conn.AuthKind = kind
		conn.Credentials.Kind = kind
	}
	if patch.Credentials != nil {
		conn.Credentials = domain.CredentialBlob{Kind: conn.AuthKind, Fields: patch.Credentials}
	}
	if _, err := credential.AuthHeaders(conn.Credentials); err != nil {
		return nil, err
	}
	if patch.ServerURL != nil {
		conn.ServerURL = strings.TrimSpace(*patch.ServerURL)
	}
	if patch.Config != nil {
		conn.Config = patch.Config
	}

	if err := s.policy.Validate(conn.EffectiveServerURL(tpl)); err != nil {
		return nil, err
	}

	conn.UpdatedAt = time.Now().UTC()
	if err := s.store.Put(ctx, conn); err != nil {
		return nil, err
	}

	s.logger.Info("connection updated",
		telemetry.ConnectionIDField(conn.ID),
		telemetry.OrgIDField(conn.OrgID),
	)
	return redacted(conn), nil
}

// DeleteConnection removes the record and best-effort tears down any open
// session for its resolved address.
func (s *Service) DeleteConnection(ctx context.Context, id, orgID string) error {
	const op = "gateway.delete"

	conn, err := s.scoped(ctx, op, id, orgID)
	if err != nil {
		return err
	}

	if serverURL, headers, err := discovery.ResolveTarget(s.catalog, conn); err == nil {
		s.sessions.Disconnect(serverURL, headers)
	} else {
		s.logger.Warn("session teardown skipped on delete",
			telemetry.ConnectionIDField(id),
			zap.Error(err),
		)
	}

	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("connection deleted",
		telemetry.ConnectionIDField(id),
		telemetry.OrgIDField(orgID),
	)
	return nil
}

// TestConnection probes the connection's server and reports the outcome. A
// down server is a result, not an error.
func (s *Service) TestConnection(ctx context.Context, id, orgID string) (domain.TestResult, error) {
	if _, err := s.scoped(ctx, "gateway.test", id, orgID); err != nil {
		return domain.TestResult{}, err
	}
	return s.prober.Check(ctx, id)
}

// RefreshTools re-discovers the connection's tools. When the remote refresh
// fails the last persisted listing is returned instead; a transient outage
// must not shrink an agent's capability set.
func (s *Service) RefreshTools(ctx context.Context, id, orgID string) ([]domain.ToolDescriptor, error) {
	conn, err := s.scoped(ctx, "gateway.refresh", id, orgID)
	if err != nil {
		return nil, err
	}

	tools, refreshErr := s.cache.ForceRefresh(ctx, id)
	if refreshErr == nil {
		return tools, nil
	}

	s.logger.Warn("tool refresh falling back to cached listing",
		telemetry.EventField(telemetry.EventRefreshFallback),
		telemetry.ConnectionIDField(id),
		telemetry.ToolCountField(len(conn.Tools)),
		zap.Error(refreshErr),
	)
	cached := domain.CloneToolDescriptors(conn.Tools)
	if cached == nil {
		cached = []domain.ToolDescriptor{}
	}
	return cached, nil
}

// Templates exposes the catalog for listing endpoints.
func (s *Service) Templates() []domain.CatalogTemplate {
	return s.catalog.Templates()
}

func (s *Service) scoped(ctx context.Context, op, id, orgID string) (*domain.Connection, error) {
	if err := requireFields(op, map[string]string{"id": id, "orgId": orgID}); err != nil {
		return nil, err
	}
	conn, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if conn.OrgID != orgID {
		// Existence of a foreign org's connection must not leak.
		return nil, domain.E(domain.CodeNotFound, op,
			fmt.Sprintf("connection %q", id), domain.ErrConnectionNotFound)
	}
	return conn, nil
}

func redacted(conn *domain.Connection) *domain.Connection {
	clone := conn.Clone()
	clone.Credentials = credential.Redact(clone.Credentials)
	return clone
}

func requireFields(op string, fields map[string]string) error {
	var missing []string
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return domain.E(domain.CodeInvalidArgument, op,
		fmt.Sprintf("missing fields: %s", strings.Join(missing, ", ")), nil)
}
