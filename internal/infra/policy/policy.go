// Package policy decides whether the gateway may ever dial a candidate tool
// server address. The check is pure: it never resolves DNS and never opens a
// socket, so it can (and must) run before any network action.
package policy

import (
	"net"
	"net/url"
	"strings"

	"toolgate/internal/domain"
)

// Stable machine-readable rejection reasons, surfaced to callers verbatim.
const (
	ReasonURLMalformed       = "url_malformed"
	ReasonSchemeNotAllowed   = "scheme_not_allowed"
	ReasonHostMissing        = "host_missing"
	ReasonLoopbackAddress    = "loopback_address"
	ReasonLinkLocalAddress   = "link_local_address"
	ReasonPrivateAddress     = "private_address"
	ReasonUnspecifiedAddress = "unspecified_address"
	ReasonHostDenied         = "host_denied"
	ReasonHostNotAllowed     = "host_not_allowed"
)

// defaultDenied are host suffixes that resolve inside the platform's own
// network regardless of DNS, so they are rejected even without configuration.
var defaultDenied = []string{"localhost", "*.localhost", "*.local", "*.internal"}

type Config struct {
	// AllowInsecureHTTP permits plain http targets. Defaults to false; https
	// is always accepted.
	AllowInsecureHTTP bool
	// AllowHosts, when non-empty, restricts targets to matching hosts.
	// Patterns are exact hostnames or `*.suffix` wildcards.
	AllowHosts []string
	// DenyHosts rejects matching hosts before the allow list is consulted.
	DenyHosts []string
}

type Validator struct {
	cfg Config
}

func NewValidator(cfg Config) *Validator {
	return &Validator{cfg: cfg}
}

// Validate reports whether the gateway may connect to rawURL. A nil return
// means allowed; otherwise the error is a domain.Error with code
// INVALID_ARGUMENT and a stable reason string as its message.
func (v *Validator) Validate(rawURL string) error {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return reject(ReasonHostMissing)
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return reject(ReasonURLMalformed)
	}

	switch parsed.Scheme {
	case "https":
	case "http":
		if !v.cfg.AllowInsecureHTTP {
			return reject(ReasonSchemeNotAllowed)
		}
	default:
		return reject(ReasonSchemeNotAllowed)
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return reject(ReasonHostMissing)
	}

	if ip := net.ParseIP(host); ip != nil {
		if reason := classifyIP(ip); reason != "" {
			return reject(reason)
		}
	}

	for _, pattern := range v.cfg.DenyHosts {
		if matchHost(pattern, host) {
			return reject(ReasonHostDenied)
		}
	}
	for _, pattern := range defaultDenied {
		if matchHost(pattern, host) {
			return reject(ReasonHostDenied)
		}
	}

	if len(v.cfg.AllowHosts) > 0 {
		for _, pattern := range v.cfg.AllowHosts {
			if matchHost(pattern, host) {
				return nil
			}
		}
		return reject(ReasonHostNotAllowed)
	}

	return nil
}

func reject(reason string) error {
	return domain.E(domain.CodeInvalidArgument, "policy.validate", reason, domain.ErrAddressDenied)
}

func classifyIP(ip net.IP) string {
	switch {
	case ip.IsLoopback():
		return ReasonLoopbackAddress
	case ip.IsUnspecified():
		return ReasonUnspecifiedAddress
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return ReasonLinkLocalAddress
	case ip.IsPrivate():
		return ReasonPrivateAddress
	default:
		return ""
	}
}

// matchHost supports exact hostnames and `*.suffix` wildcards. A wildcard
// matches any subdomain of the suffix and the bare suffix itself.
func matchHost(pattern, host string) bool {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" {
		return false
	}
	if suffix, ok := strings.CutPrefix(pattern, "*."); ok {
		return host == suffix || strings.HasSuffix(host, "."+suffix)
	}
	return host == pattern
}
