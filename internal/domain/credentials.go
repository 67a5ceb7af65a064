package domain

// CredentialBlob is the stored authentication material for a Connection: a
// tagged auth kind plus an open field map for provider-specific extras. The
// blob is written exclusively by the gateway layer and must pass through
// redaction before it appears in any external response.
type CredentialBlob struct {
	Kind   AuthKind       `json:"kind"`
	Fields map[string]any `json:"fields,omitempty"`
}

func (b CredentialBlob) Clone() CredentialBlob {
	return CredentialBlob{Kind: b.Kind, Fields: cloneFieldMap(b.Fields)}
}

func cloneFieldMap(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	copied := make(map[string]any, len(fields))
	for key, value := range fields {
		if nested, ok := value.(map[string]any); ok {
			copied[key] = cloneFieldMap(nested)
			continue
		}
		copied[key] = value
	}
	return copied
}
