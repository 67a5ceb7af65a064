package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"toolgate/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "toolgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, DefaultListenAddress, cfg.ListenAddress)
	require.Equal(t, DefaultMetricsAddress, cfg.MetricsAddress)
	require.Equal(t, DefaultStorePath, cfg.StorePath)
	require.Equal(t, DefaultCatalogPath, cfg.CatalogPath)
	require.Equal(t, domain.DefaultConnectTimeoutSeconds, cfg.ConnectTimeoutSeconds)
	require.Equal(t, domain.DefaultMaxOpenSessions, cfg.MaxOpenSessions)
	require.False(t, cfg.Policy.AllowInsecureHTTP)
	require.Equal(t, 30*time.Second, cfg.ConnectTimeout())
	require.Equal(t, 300*time.Second, cfg.SessionIdleTTL())
}

func TestLoadOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
listenAddress: ":9000"
storePath: /var/lib/toolgate/conn.db
connectTimeoutSeconds: 10
maxOpenSessions: 8
corsAllowedOrigins:
  - https://console.example.com
policy:
  allowInsecureHttp: true
  allowHosts:
    - "*.example.com"
  denyHosts:
    - bad.example.com
`))
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.ListenAddress)
	require.Equal(t, "/var/lib/toolgate/conn.db", cfg.StorePath)
	require.Equal(t, 10, cfg.ConnectTimeoutSeconds)
	require.Equal(t, 8, cfg.MaxOpenSessions)
	require.Equal(t, []string{"https://console.example.com"}, cfg.CORSAllowedOrigins)
	require.True(t, cfg.Policy.AllowInsecureHTTP)
	require.Equal(t, []string{"*.example.com"}, cfg.Policy.AllowHosts)
	require.Equal(t, []string{"bad.example.com"}, cfg.Policy.DenyHosts)
	require.Equal(t, domain.DefaultDiscoverTimeoutSeconds, cfg.DiscoverTimeoutSeconds)
}

func TestLoadCollectsValidationErrors(t *testing.T) {
	_, err := Load(writeConfig(t, `
listenAddress: ""
storePath: ""
connectTimeoutSeconds: 0
sessionIdleSeconds: -5
policy:
  denyHosts:
    - ""
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "listenAddress is required")
	require.Contains(t, err.Error(), "storePath is required")
	require.Contains(t, err.Error(), "connectTimeoutSeconds must be positive")
	require.Contains(t, err.Error(), "sessionIdleSeconds must be positive")
	require.Contains(t, err.Error(), "policy.denyHosts[0] is empty")
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "listenAddress: [unclosed"))
	require.Error(t, err)
}
