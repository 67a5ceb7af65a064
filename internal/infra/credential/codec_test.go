package credential

import (
	"testing"

	"github.com/stretchr/testify/require"

	"toolgate/internal/domain"
)

func TestAuthHeaders_APIKey(t *testing.T) {
	headers, err := AuthHeaders(domain.CredentialBlob{
		Kind:   domain.AuthAPIKey,
		Fields: map[string]any{"apiKey": "sk_live_abcdef1234"},
	})
	require.NoError(t, err)
	require.Equal(t, map[string]string{"X-API-Key": "sk_live_abcdef1234"}, headers)
}

func TestAuthHeaders_APIKeyMissingField(t *testing.T) {
	_, err := AuthHeaders(domain.CredentialBlob{
		Kind:   domain.AuthAPIKey,
		Fields: map[string]any{"notes": "no key here"},
	})
	require.Error(t, err)
	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, domain.CodeInvalidArgument, derr.Code)
}

func TestAuthHeaders_APIKeyFallsBackToToken(t *testing.T) {
	headers, err := AuthHeaders(domain.CredentialBlob{
		Kind:   domain.AuthAPIKey,
		Fields: map[string]any{"token": "tok_123"},
	})
	require.NoError(t, err)
	require.Equal(t, "Bearer tok_123", headers["Authorization"])
}

func TestAuthHeaders_OAuth2(t *testing.T) {
	headers, err := AuthHeaders(domain.CredentialBlob{
		Kind:   domain.AuthOAuth2,
		Fields: map[string]any{"accessToken": "ya29.secret"},
	})
	require.NoError(t, err)
	require.Equal(t, map[string]string{"Authorization": "Bearer ya29.secret"}, headers)
}

func TestAuthHeaders_None(t *testing.T) {
	headers, err := AuthHeaders(domain.CredentialBlob{Kind: domain.AuthNone})
	require.NoError(t, err)
	require.Empty(t, headers)

	// Zero-value blob behaves like none.
	headers, err = AuthHeaders(domain.CredentialBlob{})
	require.NoError(t, err)
	require.Empty(t, headers)
}

func TestAuthHeaders_ExplicitHeadersPassThrough(t *testing.T) {
	headers, err := AuthHeaders(domain.CredentialBlob{
		Kind: domain.AuthAPIKey,
		Fields: map[string]any{
			"apiKey": "sk_1234567890",
			"headers": map[string]any{
				"X-Workspace": "acme",
				"ignored":     42,
			},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "sk_1234567890", headers["X-API-Key"])
	require.Equal(t, "acme", headers["X-Workspace"])
	require.NotContains(t, headers, "ignored")
}

func TestRedact_MasksSecretLikeFields(t *testing.T) {
	blob := domain.CredentialBlob{
		Kind: domain.AuthAPIKey,
		Fields: map[string]any{
			"apiKey":       "sk_live_abcdef1234",
			"clientSecret": "shh",
			"refreshToken": "rt_0123456789",
			"email":        "ops@example.com",
			"retries":      3,
		},
	}

	redacted := Redact(blob)

	require.Equal(t, "sk_l****", redacted.Fields["apiKey"])
	require.Equal(t, "****", redacted.Fields["clientSecret"])
	require.Equal(t, "rt_0****", redacted.Fields["refreshToken"])
	require.Equal(t, "ops@example.com", redacted.Fields["email"])
	require.Equal(t, 3, redacted.Fields["retries"])

	// Original blob is untouched.
	require.Equal(t, "sk_live_abcdef1234", blob.Fields["apiKey"])
}

func TestRedact_Nested(t *testing.T) {
	blob := domain.CredentialBlob{
		Kind: domain.AuthOAuth2,
		Fields: map[string]any{
			"oauth": map[string]any{
				"accessToken": "ya29.verysecret",
				"scope":       "calendar.readonly",
			},
		},
	}

	redacted := Redact(blob)
	nested, ok := redacted.Fields["oauth"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "ya29****", nested["accessToken"])
	require.Equal(t, "calendar.readonly", nested["scope"])
}

func TestRedact_Idempotent(t *testing.T) {
	blob := domain.CredentialBlob{
		Kind: domain.AuthAPIKey,
		Fields: map[string]any{
			"apiKey": "sk_live_abcdef1234",
			"token":  "abcd",
			"note":   "visible",
		},
	}

	once := Redact(blob)
	twice := Redact(once)
	require.Equal(t, once, twice)
}

func TestRedact_NeverReturnsOriginalSecret(t *testing.T) {
	secrets := []string{"a", "abcd", "abcde", "sk_live_abcdef1234"}
	for _, secret := range secrets {
		redacted := Redact(domain.CredentialBlob{
			Kind:   domain.AuthAPIKey,
			Fields: map[string]any{"apiKey": secret},
		})
		require.NotEqual(t, secret, redacted.Fields["apiKey"], "secret %q leaked", secret)
	}
}
