package middleware

import (
	"context"
	"net/http"
)

type contextKey string

const (
	keyNameKey      contextKey = "key_name"
	keyPrefixKey    contextKey = "key_prefix"
	apiKeyScopesKey contextKey = "api_key_scopes"
)

// SetKeyName stores the authenticated API key's name. Suppressions record
// it as the acting operator.
func SetKeyName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, keyNameKey, name)
}

func GetKeyName(r *http.Request) (string, bool) {
	name, ok := r.Context().Value(keyNameKey).(string)
	return name, ok
}

func setKeyPrefix(ctx context.Context, prefix string) context.Context {
	return context.WithValue(ctx, keyPrefixKey, prefix)
}

func getKeyPrefix(r *http.Request) (string, bool) {
	prefix, ok := r.Context().Value(keyPrefixKey).(string)
	return prefix, ok
}

func setScopes(ctx context.Context, scopes []string) context.Context {
	return context.WithValue(ctx, apiKeyScopesKey, scopes)
}

func getScopes(r *http.Request) []string {
	scopes, _ := r.Context().Value(apiKeyScopesKey).([]string)
	return scopes
}

// ExportedKeyPrefixKey returns the context key for key_prefix (for testing).
func ExportedKeyPrefixKey() contextKey {
	return keyPrefixKey
}
