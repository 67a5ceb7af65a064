package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// AuthKind identifies how outbound requests to a tool server are authenticated.
type AuthKind string

const (
	AuthNone   AuthKind = "none"
	AuthAPIKey AuthKind = "api_key"
	AuthOAuth2 AuthKind = "oauth2"
)

func (k AuthKind) Valid() bool {
	switch k {
	case AuthNone, AuthAPIKey, AuthOAuth2:
		return true
	default:
		return false
	}
}

// ConnectionStatus is the lifecycle state of a persisted Connection.
type ConnectionStatus string

const (
	StatusPending ConnectionStatus = "pending"
	StatusActive  ConnectionStatus = "active"
	StatusError   ConnectionStatus = "error"
)

// HealthStatus is the last observed reachability of a Connection's server.
type HealthStatus string

const (
	HealthUnknown HealthStatus = "unknown"
	HealthHealthy HealthStatus = "healthy"
	HealthDown    HealthStatus = "down"
)

// ToolDescriptor is one capability advertised by a remote tool server.
// InputSchema is carried verbatim; the gateway never rewrites it.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

func CloneToolDescriptors(tools []ToolDescriptor) []ToolDescriptor {
	if tools == nil {
		return nil
	}
	copied := make([]ToolDescriptor, len(tools))
	for i, tool := range tools {
		copied[i] = tool
		if tool.InputSchema != nil {
			copied[i].InputSchema = append(json.RawMessage(nil), tool.InputSchema...)
		}
	}
	return copied
}

// Connection is the durable record of one organization's attachment to a
// tool server. At most one Connection exists per (OrgID, TemplateID) pair.
type Connection struct {
	ID         string `json:"id"`
	OrgID      string `json:"orgId"`
	TemplateID string `json:"templateId"`
	CreatedBy  string `json:"createdBy,omitempty"`

	// ServerURL overrides the catalog template's default address when set.
	ServerURL string `json:"serverUrl,omitempty"`

	AuthKind    AuthKind       `json:"authType"`
	Credentials CredentialBlob `json:"credentials,omitempty"`

	Status          ConnectionStatus `json:"status"`
	HealthStatus    HealthStatus     `json:"healthStatus"`
	LastHealthCheck time.Time        `json:"lastHealthCheck,omitzero"`

	Tools  []ToolDescriptor  `json:"tools,omitempty"`
	Config map[string]string `json:"config,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// EffectiveServerURL resolves the address the gateway actually dials.
func (c *Connection) EffectiveServerURL(tpl CatalogTemplate) string {
	if strings.TrimSpace(c.ServerURL) != "" {
		return c.ServerURL
	}
	return tpl.ServerURL
}

func (c *Connection) Clone() *Connection {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Credentials = c.Credentials.Clone()
	clone.Tools = CloneToolDescriptors(c.Tools)
	if c.Config != nil {
		clone.Config = make(map[string]string, len(c.Config))
		for k, v := range c.Config {
			clone.Config[k] = v
		}
	}
	return &clone
}

// CatalogTemplate is a shared, read-only description of a known tool server.
type CatalogTemplate struct {
	ID        string     `json:"id" yaml:"id"`
	Name      string     `json:"name" yaml:"name"`
	Category  string     `json:"category,omitempty" yaml:"category"`
	ServerURL string     `json:"serverUrl" yaml:"serverUrl"`
	PlanTier  string     `json:"planTier,omitempty" yaml:"planTier"`
	AuthKinds []AuthKind `json:"authKinds,omitempty" yaml:"authKinds"`
}

// SupportsAuth reports whether the template accepts the given auth kind.
// A template with no declared kinds accepts any valid kind.
func (t CatalogTemplate) SupportsAuth(kind AuthKind) bool {
	if len(t.AuthKinds) == 0 {
		return true
	}
	for _, k := range t.AuthKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// TestResult is the outcome of a connection health check.
type TestResult struct {
	Status    HealthStatus `json:"status"`
	LatencyMs int64        `json:"latencyMs"`
	ToolCount int          `json:"toolCount"`
}

// Gateway operation defaults.
const (
	DefaultConnectTimeoutSeconds  = 30
	DefaultDiscoverTimeoutSeconds = 30
	DefaultSessionIdleSeconds     = 300
	DefaultSessionSweepSeconds    = 60
	DefaultMaxOpenSessions        = 64
)
