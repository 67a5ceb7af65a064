package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"toolgate/internal/domain"
	"toolgate/internal/infra/telemetry"
)

const reusePingTimeout = 5 * time.Second

// Handle identifies an open session in the registry. Callers treat it as
// opaque; the key never carries credential material.
type Handle struct {
	key string
}

func (h *Handle) Key() string {
	if h == nil {
		return ""
	}
	return h.key
}

type entry struct {
	conn      Conn
	serverURL string
	lastUsed  time.Time
}

// Options configures a Registry. Zero durations and counts fall back to the
// defaults in the domain package.
type Options struct {
	Dialer          Dialer
	Logger          *zap.Logger
	Metrics         domain.Metrics
	ConnectTimeout  time.Duration
	DiscoverTimeout time.Duration
	IdleTTL         time.Duration
	SweepInterval   time.Duration
	MaxOpenSessions int
}

// Registry owns all open sessions to remote tool servers. Sessions are keyed
// by server address plus auth headers, so two connections to the same server
// with the same credentials share one transport session. Concurrent connects
// for the same key collapse into a single dial.
type Registry struct {
	dialer  Dialer
	logger  *zap.Logger
	metrics domain.Metrics

	connectTimeout  time.Duration
	discoverTimeout time.Duration
	idleTTL         time.Duration
	sweepInterval   time.Duration
	maxOpen         int

	group singleflight.Group

	mu       sync.Mutex
	sessions map[string]*entry
	locks    map[string]*sync.Mutex
	reserved int
	closed   bool
}

func NewRegistry(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NoopMetrics{}
	}
	connectTimeout := opts.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = domain.DefaultConnectTimeoutSeconds * time.Second
	}
	discoverTimeout := opts.DiscoverTimeout
	if discoverTimeout <= 0 {
		discoverTimeout = domain.DefaultDiscoverTimeoutSeconds * time.Second
	}
	idleTTL := opts.IdleTTL
	if idleTTL <= 0 {
		idleTTL = domain.DefaultSessionIdleSeconds * time.Second
	}
	sweepInterval := opts.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = domain.DefaultSessionSweepSeconds * time.Second
	}
	maxOpen := opts.MaxOpenSessions
	if maxOpen <= 0 {
		maxOpen = domain.DefaultMaxOpenSessions
	}

	return &Registry{
		dialer:          opts.Dialer,
		logger:          logger.Named("session"),
		metrics:         metrics,
		connectTimeout:  connectTimeout,
		discoverTimeout: discoverTimeout,
		idleTTL:         idleTTL,
		sweepInterval:   sweepInterval,
		maxOpen:         maxOpen,
		sessions:        make(map[string]*entry),
		locks:           make(map[string]*sync.Mutex),
	}
}

// Key derives the registry key for a server address and its auth headers.
// The address is normalized (scheme and host lowercased, default ports and
// trailing slashes stripped) so cosmetic URL differences share a session.
func Key(serverURL string, headers map[string]string) string {
	digest := sha256.New()
	io.WriteString(digest, normalizeURL(serverURL))
	digest.Write([]byte{0})

	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		io.WriteString(digest, strings.ToLower(strings.TrimSpace(name)))
		digest.Write([]byte{1})
		io.WriteString(digest, headers[name])
		digest.Write([]byte{2})
	}

	return hex.EncodeToString(digest.Sum(nil))
}

func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return raw
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	host := strings.ToLower(parsed.Hostname())
	if port := parsed.Port(); port != "" && !isDefaultPort(parsed.Scheme, port) {
		host += ":" + port
	}
	parsed.Host = host
	parsed.Path = strings.TrimRight(parsed.Path, "/")
	parsed.Fragment = ""
	return parsed.String()
}

func hostOf(raw string) string {
	if parsed, err := url.Parse(strings.TrimSpace(raw)); err == nil && parsed.Host != "" {
		return parsed.Host
	}
	return raw
}

func isDefaultPort(scheme, port string) bool {
	switch scheme {
	case "http":
		return port == "80"
	case "https":
		return port == "443"
	}
	return false
}

// Connect returns a handle to an open session for the given address and
// headers, reusing a live one when present. A stale session found on the
// reuse path is dropped and redialed.
func (r *Registry) Connect(ctx context.Context, serverURL string, headers map[string]string) (*Handle, error) {
	key := Key(serverURL, headers)

	if conn := r.lookup(key); conn != nil {
		pingCtx, cancel := context.WithTimeout(ctx, reusePingTimeout)
		err := conn.Ping(pingCtx)
		cancel()
		if err == nil {
			r.touch(key)
			r.logger.Debug("session reused",
				telemetry.EventField(telemetry.EventConnectReused),
				telemetry.SessionKeyField(key),
			)
			return &Handle{key: key}, nil
		}
		r.logger.Warn("stale session dropped",
			telemetry.SessionKeyField(key),
			zap.Error(err),
		)
		r.remove(key)
	}

	result, err, _ := r.group.Do(key, func() (any, error) {
		return r.dial(ctx, key, serverURL, headers)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Handle), nil
}

func (r *Registry) dial(ctx context.Context, key, serverURL string, headers map[string]string) (*Handle, error) {
	// Serializes against Disconnect for the same key: a new transport must
	// not open before the previous one finished closing.
	lock := r.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	// A raced caller may have finished the dial while we waited.
	if conn := r.lookup(key); conn != nil {
		r.touch(key)
		return &Handle{key: key}, nil
	}

	// Reserve a capacity slot before dialing: in-flight dials for other keys
	// count against the cap, or concurrent connects could all pass the check.
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, domain.E(domain.CodeUnavailable, "session.connect", "registry is closed", domain.ErrSessionClosed)
	}
	if len(r.sessions)+r.reserved >= r.maxOpen {
		r.mu.Unlock()
		return nil, domain.E(domain.CodeUnavailable, "session.connect",
			fmt.Sprintf("open session limit of %d reached", r.maxOpen), domain.ErrSessionLimit)
	}
	r.reserved++
	r.mu.Unlock()

	r.logger.Debug("session connect",
		telemetry.EventField(telemetry.EventConnectAttempt),
		telemetry.SessionKeyField(key),
		telemetry.ServerHostField(hostOf(serverURL)),
	)

	started := time.Now()
	dialCtx, cancel := context.WithTimeout(ctx, r.connectTimeout)
	defer cancel()

	conn, err := r.dialer.Dial(dialCtx, serverURL, headers)
	elapsed := time.Since(started)
	r.metrics.ObserveConnect(elapsed, err)
	if err != nil {
		r.mu.Lock()
		r.reserved--
		r.mu.Unlock()
		code := domain.CodeUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			code = domain.CodeDeadlineExceeded
		}
		r.logger.Warn("session connect failed",
			telemetry.EventField(telemetry.EventConnectFailure),
			telemetry.SessionKeyField(key),
			telemetry.ServerHostField(hostOf(serverURL)),
			telemetry.DurationField(elapsed),
			zap.Error(err),
		)
		return nil, domain.E(code, "session.connect", "", err)
	}

	r.mu.Lock()
	r.reserved--
	if r.closed {
		r.mu.Unlock()
		_ = conn.Close()
		return nil, domain.E(domain.CodeUnavailable, "session.connect", "registry is closed", domain.ErrSessionClosed)
	}
	r.sessions[key] = &entry{conn: conn, serverURL: serverURL, lastUsed: time.Now()}
	open := len(r.sessions)
	r.mu.Unlock()
	r.metrics.SetOpenSessions(open)

	r.logger.Info("session connected",
		telemetry.EventField(telemetry.EventConnectSuccess),
		telemetry.SessionKeyField(key),
		telemetry.ServerHostField(hostOf(serverURL)),
		telemetry.DurationField(elapsed),
	)
	return &Handle{key: key}, nil
}

// DiscoverTools lists the tools exposed over an open session and converts
// them to descriptors. A listing that violates the protocol contract, such as
// a missing or duplicate tool name or an unparseable input schema, fails as a
// whole; no partial result is returned.
func (r *Registry) DiscoverTools(ctx context.Context, handle *Handle) ([]domain.ToolDescriptor, error) {
	if handle == nil || handle.key == "" {
		return nil, domain.E(domain.CodeFailedPrecond, "session.discover", "nil session handle", nil)
	}
	conn := r.lookup(handle.key)
	if conn == nil {
		return nil, domain.E(domain.CodeUnavailable, "session.discover", "", domain.ErrSessionClosed)
	}

	started := time.Now()
	listCtx, cancel := context.WithTimeout(ctx, r.discoverTimeout)
	defer cancel()

	tools, err := conn.ListTools(listCtx)
	elapsed := time.Since(started)
	r.metrics.ObserveDiscover(elapsed, err)
	if err != nil {
		code := domain.CodeFailedPrecond
		if errors.Is(err, context.DeadlineExceeded) {
			code = domain.CodeDeadlineExceeded
		}
		r.logger.Warn("tool discovery failed",
			telemetry.EventField(telemetry.EventDiscoverFailure),
			telemetry.SessionKeyField(handle.key),
			telemetry.DurationField(elapsed),
			zap.Error(err),
		)
		return nil, domain.E(code, "session.discover", "", err)
	}

	descriptors, err := decodeTools(tools)
	if err != nil {
		return nil, err
	}
	r.touch(handle.key)
	return descriptors, nil
}

func decodeTools(tools []*mcp.Tool) ([]domain.ToolDescriptor, error) {
	const op = "session.discover"

	seen := make(map[string]struct{}, len(tools))
	descriptors := make([]domain.ToolDescriptor, 0, len(tools))
	for _, tool := range tools {
		if tool == nil {
			return nil, domain.E(domain.CodeFailedPrecond, op, "listing contains a nil tool entry", nil)
		}
		if strings.TrimSpace(tool.Name) == "" {
			return nil, domain.E(domain.CodeFailedPrecond, op, "listing contains a tool without a name", nil)
		}
		if _, dup := seen[tool.Name]; dup {
			return nil, domain.E(domain.CodeFailedPrecond, op,
				fmt.Sprintf("duplicate tool name %q", tool.Name), nil)
		}
		seen[tool.Name] = struct{}{}

		schema, err := encodeSchema(tool.Name, tool.InputSchema)
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, domain.ToolDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}
	return descriptors, nil
}

func encodeSchema(toolName string, schema any) (json.RawMessage, error) {
	const op = "session.discover"

	if schema == nil {
		return nil, nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, domain.E(domain.CodeFailedPrecond, op,
			fmt.Sprintf("unserializable input schema for tool %q", toolName), err)
	}
	if string(raw) == "null" {
		return nil, nil
	}
	var parsed jsonschema.Schema
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, domain.E(domain.CodeFailedPrecond, op,
			fmt.Sprintf("invalid input schema for tool %q", toolName), err)
	}
	return raw, nil
}

// Disconnect closes the session for the given address and headers. Closing a
// session that is not open is a no-op.
//
// Sessions are shared by key, so cleanup here can close a session a sibling
// caller is still holding a handle for; that caller's next operation sees
// ErrSessionClosed and the following connect redials.
// TODO: refcount open handles per key so cleanup only closes the last one.
func (r *Registry) Disconnect(serverURL string, headers map[string]string) {
	r.remove(Key(serverURL, headers))
}

func (r *Registry) lookup(key string) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[key]; ok {
		return e.conn
	}
	return nil
}

func (r *Registry) touch(key string) {
	r.mu.Lock()
	if e, ok := r.sessions[key]; ok {
		e.lastUsed = time.Now()
	}
	r.mu.Unlock()
}

// keyLock returns the mutex serializing dial and close for one key. Locks
// live for the life of the registry; the key space is bounded by the set of
// configured server addresses.
func (r *Registry) keyLock(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[key] = lock
	}
	return lock
}

func (r *Registry) remove(key string) {
	lock := r.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	e, ok := r.sessions[key]
	if ok {
		delete(r.sessions, key)
	}
	open := len(r.sessions)
	r.mu.Unlock()
	if !ok {
		return
	}
	r.metrics.SetOpenSessions(open)
	if err := e.conn.Close(); err != nil {
		r.logger.Warn("session close failed",
			telemetry.EventField(telemetry.EventDisconnectFailure),
			telemetry.SessionKeyField(key),
			zap.Error(err),
		)
	}
}

// OpenSessions reports the number of currently open sessions.
func (r *Registry) OpenSessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// EvictIdle closes every session whose last use is before the cutoff and
// reports how many were evicted.
func (r *Registry) EvictIdle(cutoff time.Time) int {
	r.mu.Lock()
	var candidates []string
	for key, e := range r.sessions {
		if e.lastUsed.Before(cutoff) {
			candidates = append(candidates, key)
		}
	}
	r.mu.Unlock()

	evicted := 0
	for _, key := range candidates {
		lock := r.keyLock(key)
		lock.Lock()

		r.mu.Lock()
		e, ok := r.sessions[key]
		// The session may have been touched or closed since the scan.
		if ok && e.lastUsed.Before(cutoff) {
			delete(r.sessions, key)
		} else {
			ok = false
		}
		open := len(r.sessions)
		r.mu.Unlock()

		if !ok {
			lock.Unlock()
			continue
		}
		r.metrics.SetOpenSessions(open)
		if err := e.conn.Close(); err != nil {
			r.logger.Warn("idle session close failed",
				telemetry.EventField(telemetry.EventIdleEvict),
				telemetry.SessionKeyField(key),
				zap.Error(err),
			)
		} else {
			r.logger.Info("idle session evicted",
				telemetry.EventField(telemetry.EventIdleEvict),
				telemetry.SessionKeyField(key),
				telemetry.ServerHostField(hostOf(e.serverURL)),
			)
		}
		lock.Unlock()
		evicted++
	}
	return evicted
}

// Run sweeps idle sessions until the context is cancelled, then closes the
// registry.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Close()
			return
		case <-ticker.C:
			r.EvictIdle(time.Now().Add(-r.idleTTL))
		}
	}
}

// Close tears down every open session. Further connects fail with a closed
// registry error.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	remaining := r.sessions
	r.sessions = make(map[string]*entry)
	r.mu.Unlock()

	r.metrics.SetOpenSessions(0)
	for key, e := range remaining {
		if err := e.conn.Close(); err != nil {
			r.logger.Warn("session close failed",
				telemetry.EventField(telemetry.EventDisconnectFailure),
				telemetry.SessionKeyField(key),
				zap.Error(err),
			)
		}
	}
}
