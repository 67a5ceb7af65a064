// Package credential translates stored credential blobs into outbound auth
// headers and into a redacted form safe for display. Redaction is the only
// shape in which credentials may cross the gateway boundary.
package credential

import (
	"fmt"
	"strings"

	"toolgate/internal/domain"
)

const mask = "****"

// Field names the codec interprets for auth purposes. Anything else in the
// blob is passed over unused.
const (
	fieldAPIKey      = "apiKey"
	fieldToken       = "token"
	fieldAccessToken = "accessToken"
	fieldHeaders     = "headers"
)

// AuthHeaders converts a credential blob into the HTTP headers sent with
// every request on a session opened for it.
func AuthHeaders(blob domain.CredentialBlob) (map[string]string, error) {
	headers := map[string]string{}

	kind := blob.Kind
	if kind == "" {
		kind = domain.AuthNone
	}

	switch kind {
	case domain.AuthNone:
	case domain.AuthAPIKey:
		key, ok := stringField(blob.Fields, fieldAPIKey)
		if !ok {
			// Some providers hand out bearer tokens under an api_key plan.
			if token, tok := bearerToken(blob.Fields); tok {
				headers["Authorization"] = "Bearer " + token
				break
			}
			return nil, domain.E(domain.CodeInvalidArgument, "credential.headers", "api_key credentials require an apiKey field", nil)
		}
		headers["X-API-Key"] = key
	case domain.AuthOAuth2:
		token, ok := bearerToken(blob.Fields)
		if !ok {
			return nil, domain.E(domain.CodeInvalidArgument, "credential.headers", "oauth2 credentials require an accessToken field", nil)
		}
		headers["Authorization"] = "Bearer " + token
	default:
		return nil, domain.E(domain.CodeInvalidArgument, "credential.headers", fmt.Sprintf("unknown auth kind %q", kind), nil)
	}

	// An explicit headers sub-map passes through for any kind.
	if extra, ok := blob.Fields[fieldHeaders].(map[string]any); ok {
		for name, value := range extra {
			if s, ok := value.(string); ok && strings.TrimSpace(name) != "" {
				headers[name] = s
			}
		}
	}

	return headers, nil
}

func bearerToken(fields map[string]any) (string, bool) {
	if token, ok := stringField(fields, fieldAccessToken); ok {
		return token, true
	}
	return stringField(fields, fieldToken)
}

func stringField(fields map[string]any, name string) (string, bool) {
	value, ok := fields[name].(string)
	if !ok || strings.TrimSpace(value) == "" {
		return "", false
	}
	return value, true
}

// Redact returns a copy of the blob with every secret-like string field
// masked: the first 4 characters survive when the value is longer than 4,
// otherwise the whole value is replaced. Redact is idempotent and total.
func Redact(blob domain.CredentialBlob) domain.CredentialBlob {
	return domain.CredentialBlob{
		Kind:   blob.Kind,
		Fields: redactFields(blob.Fields),
	}
}

func redactFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for key, value := range fields {
		switch v := value.(type) {
		case string:
			if secretKey(key) {
				out[key] = maskValue(v)
			} else {
				out[key] = v
			}
		case map[string]any:
			out[key] = redactFields(v)
		default:
			out[key] = value
		}
	}
	return out
}

func secretKey(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "key") ||
		strings.Contains(lower, "token") ||
		strings.Contains(lower, "secret")
}

func maskValue(value string) string {
	if len(value) > 4 {
		return value[:4] + mask
	}
	return mask
}
