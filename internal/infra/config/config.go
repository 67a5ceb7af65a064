// Package config loads the gateway's runtime configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"toolgate/internal/domain"
)

const (
	DefaultListenAddress  = ":8080"
	DefaultMetricsAddress = ":9091"
	DefaultStorePath      = "data/toolgate.db"
	DefaultCatalogPath    = "catalog.yaml"
)

// Config is the full runtime configuration of the gateway process.
type Config struct {
	ListenAddress  string `mapstructure:"listenAddress"`
	MetricsAddress string `mapstructure:"metricsAddress"`
	StorePath      string `mapstructure:"storePath"`
	CatalogPath    string `mapstructure:"catalogPath"`

	ConnectTimeoutSeconds  int `mapstructure:"connectTimeoutSeconds"`
	DiscoverTimeoutSeconds int `mapstructure:"discoverTimeoutSeconds"`
	SessionIdleSeconds     int `mapstructure:"sessionIdleSeconds"`
	SessionSweepSeconds    int `mapstructure:"sessionSweepSeconds"`
	MaxOpenSessions        int `mapstructure:"maxOpenSessions"`

	CORSAllowedOrigins []string `mapstructure:"corsAllowedOrigins"`

	Policy PolicyConfig `mapstructure:"policy"`
}

// PolicyConfig feeds the server-address validator.
type PolicyConfig struct {
	AllowInsecureHTTP bool     `mapstructure:"allowInsecureHttp"`
	AllowHosts        []string `mapstructure:"allowHosts"`
	DenyHosts         []string `mapstructure:"denyHosts"`
}

func (c Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

func (c Config) DiscoverTimeout() time.Duration {
	return time.Duration(c.DiscoverTimeoutSeconds) * time.Second
}

func (c Config) SessionIdleTTL() time.Duration {
	return time.Duration(c.SessionIdleSeconds) * time.Second
}

func (c Config) SessionSweepInterval() time.Duration {
	return time.Duration(c.SessionSweepSeconds) * time.Second
}

func newConfigViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listenAddress", DefaultListenAddress)
	v.SetDefault("metricsAddress", DefaultMetricsAddress)
	v.SetDefault("storePath", DefaultStorePath)
	v.SetDefault("catalogPath", DefaultCatalogPath)
	v.SetDefault("connectTimeoutSeconds", domain.DefaultConnectTimeoutSeconds)
	v.SetDefault("discoverTimeoutSeconds", domain.DefaultDiscoverTimeoutSeconds)
	v.SetDefault("sessionIdleSeconds", domain.DefaultSessionIdleSeconds)
	v.SetDefault("sessionSweepSeconds", domain.DefaultSessionSweepSeconds)
	v.SetDefault("maxOpenSessions", domain.DefaultMaxOpenSessions)
	v.SetDefault("policy.allowInsecureHttp", false)
}

// Load reads a YAML config file. An empty path yields the defaults.
func Load(path string) (Config, error) {
	v := newConfigViper()

	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every field and reports all problems together.
func (c Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.ListenAddress) == "" {
		problems = append(problems, "listenAddress is required")
	}
	if strings.TrimSpace(c.StorePath) == "" {
		problems = append(problems, "storePath is required")
	}
	if strings.TrimSpace(c.CatalogPath) == "" {
		problems = append(problems, "catalogPath is required")
	}
	if c.ConnectTimeoutSeconds <= 0 {
		problems = append(problems, "connectTimeoutSeconds must be positive")
	}
	if c.DiscoverTimeoutSeconds <= 0 {
		problems = append(problems, "discoverTimeoutSeconds must be positive")
	}
	if c.SessionIdleSeconds <= 0 {
		problems = append(problems, "sessionIdleSeconds must be positive")
	}
	if c.SessionSweepSeconds <= 0 {
		problems = append(problems, "sessionSweepSeconds must be positive")
	}
	if c.MaxOpenSessions <= 0 {
		problems = append(problems, "maxOpenSessions must be positive")
	}
	for i, pattern := range c.Policy.AllowHosts {
		if strings.TrimSpace(pattern) == "" {
			problems = append(problems, fmt.Sprintf("policy.allowHosts[%d] is empty", i))
		}
	}
	for i, pattern := range c.Policy.DenyHosts {
		if strings.TrimSpace(pattern) == "" {
			problems = append(problems, fmt.Sprintf("policy.denyHosts[%d] is empty", i))
		}
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}
