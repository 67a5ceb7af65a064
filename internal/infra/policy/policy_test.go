package policy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"toolgate/internal/domain"
)

func TestValidator_RejectsPrivateRanges(t *testing.T) {
	v := NewValidator(Config{AllowInsecureHTTP: true})

	cases := []struct {
		name   string
		url    string
		reason string
	}{
		{"loopback v4", "http://127.0.0.1:9000", ReasonLoopbackAddress},
		{"loopback v4 high", "https://127.255.255.254/mcp", ReasonLoopbackAddress},
		{"loopback v6", "https://[::1]:8443/mcp", ReasonLoopbackAddress},
		{"unspecified v4", "http://0.0.0.0", ReasonUnspecifiedAddress},
		{"unspecified v6", "https://[::]", ReasonUnspecifiedAddress},
		{"link local", "https://169.254.169.254/latest/meta-data", ReasonLinkLocalAddress},
		{"link local v6", "https://[fe80::1]/mcp", ReasonLinkLocalAddress},
		{"private 10", "https://10.0.0.8/mcp", ReasonPrivateAddress},
		{"private 172", "https://172.16.4.2/mcp", ReasonPrivateAddress},
		{"private 192", "https://192.168.1.1/mcp", ReasonPrivateAddress},
		{"private ula", "https://[fc00::1]/mcp", ReasonPrivateAddress},
		{"localhost name", "https://localhost:8080/mcp", ReasonHostDenied},
		{"localhost subdomain", "https://api.localhost/mcp", ReasonHostDenied},
		{"internal name", "https://db.internal/mcp", ReasonHostDenied},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.Validate(tc.url)
			require.Error(t, err)
			require.True(t, errors.Is(err, domain.ErrAddressDenied))
			var derr *domain.Error
			require.ErrorAs(t, err, &derr)
			require.Equal(t, domain.CodeInvalidArgument, derr.Code)
			require.Equal(t, tc.reason, derr.Message)
		})
	}
}

func TestValidator_SchemeGate(t *testing.T) {
	v := NewValidator(Config{})

	require.NoError(t, v.Validate("https://api.example.com/mcp"))

	err := v.Validate("http://api.example.com/mcp")
	require.Error(t, err)
	requireReason(t, err, ReasonSchemeNotAllowed)

	err = v.Validate("ftp://api.example.com/mcp")
	require.Error(t, err)
	requireReason(t, err, ReasonSchemeNotAllowed)

	permissive := NewValidator(Config{AllowInsecureHTTP: true})
	require.NoError(t, permissive.Validate("http://api.example.com/mcp"))
}

func TestValidator_MalformedInput(t *testing.T) {
	v := NewValidator(Config{})

	requireReason(t, v.Validate(""), ReasonHostMissing)
	requireReason(t, v.Validate("   "), ReasonHostMissing)
	requireReason(t, v.Validate("https://"), ReasonHostMissing)
	requireReason(t, v.Validate("://bad"), ReasonURLMalformed)
	requireReason(t, v.Validate("not a url"), ReasonSchemeNotAllowed)
}

func TestValidator_AllowList(t *testing.T) {
	v := NewValidator(Config{
		AllowHosts: []string{"api.example.com", "*.tools.example.net"},
	})

	require.NoError(t, v.Validate("https://api.example.com/mcp"))
	require.NoError(t, v.Validate("https://crm.tools.example.net/mcp"))
	require.NoError(t, v.Validate("https://tools.example.net/mcp"))

	requireReason(t, v.Validate("https://other.example.com/mcp"), ReasonHostNotAllowed)
}

func TestValidator_DenyList(t *testing.T) {
	v := NewValidator(Config{
		AllowHosts: []string{"*.example.com"},
		DenyHosts:  []string{"blocked.example.com"},
	})

	require.NoError(t, v.Validate("https://ok.example.com/mcp"))
	// Deny wins even when the allow list matches.
	requireReason(t, v.Validate("https://blocked.example.com/mcp"), ReasonHostDenied)
}

func TestValidator_HostMatchingIsCaseInsensitive(t *testing.T) {
	v := NewValidator(Config{AllowHosts: []string{"API.Example.Com"}})
	require.NoError(t, v.Validate("https://api.example.COM/mcp"))
}

func requireReason(t *testing.T, err error, reason string) {
	t.Helper()
	require.Error(t, err)
	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, reason, derr.Message)
}
