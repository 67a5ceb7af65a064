package session

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// Conn is one open transport session to a remote tool server.
type Conn interface {
	Ping(ctx context.Context) error
	ListTools(ctx context.Context) ([]*mcp.Tool, error)
	Close() error
}

// Dialer opens sessions. The production implementation speaks MCP over
// streamable HTTP; tests substitute fakes.
type Dialer interface {
	Dial(ctx context.Context, endpoint string, headers map[string]string) (Conn, error)
}

const (
	clientName    = "toolgate"
	clientVersion = "0.1.0"
)

// MCPDialer opens MCP client sessions over streamable HTTP, injecting the
// connection's auth headers into every request.
type MCPDialer struct {
	logger *zap.Logger
}

func NewMCPDialer(logger *zap.Logger) *MCPDialer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MCPDialer{logger: logger.Named("dialer")}
}

func (d *MCPDialer) Dial(ctx context.Context, endpoint string, headers map[string]string) (Conn, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}

	roundTripper, err := buildHeaderRoundTripper(headers)
	if err != nil {
		return nil, err
	}

	transport := &mcp.StreamableClientTransport{
		Endpoint:   endpoint,
		HTTPClient: &http.Client{Transport: roundTripper},
	}

	client := mcp.NewClient(&mcp.Implementation{
		Name:    clientName,
		Version: clientVersion,
	}, nil)

	mcpSession, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect streamable http: %w", err)
	}

	return &mcpConn{session: mcpSession}, nil
}

type mcpConn struct {
	session *mcp.ClientSession
}

func (c *mcpConn) Ping(ctx context.Context) error {
	return c.session.Ping(ctx, nil)
}

func (c *mcpConn) ListTools(ctx context.Context) ([]*mcp.Tool, error) {
	res, err := c.session.ListTools(ctx, nil)
	if err != nil {
		return nil, err
	}
	return res.Tools, nil
}

func (c *mcpConn) Close() error {
	return c.session.Close()
}

func buildHeaderRoundTripper(headers map[string]string) (http.RoundTripper, error) {
	canonical := http.Header{}
	for key, value := range headers {
		name := http.CanonicalHeaderKey(strings.TrimSpace(key))
		if name == "" {
			return nil, fmt.Errorf("auth headers contain empty key")
		}
		canonical.Set(name, value)
	}

	return &headerRoundTripper{
		base:    http.DefaultTransport,
		headers: canonical,
	}, nil
}

type headerRoundTripper struct {
	base    http.RoundTripper
	headers http.Header
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	for key, values := range h.headers {
		req.Header.Del(key)
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	return h.base.RoundTrip(req)
}
