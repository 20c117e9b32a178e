// Package secrets provides redaction helpers shared by every subsystem that
// might otherwise log a server's environment, argv, or decrypted secret
// values verbatim.
package secrets

import (
	"strings"
)

// sensitiveKeyPatterns are substrings that mark an environment variable
// name as carrying a secret value.
var sensitiveKeyPatterns = []string{
	"SECRET", "TOKEN", "KEY", "PASSWORD", "CREDENTIAL", "AUTH", "API_KEY",
}

// IsSensitiveKey reports whether key looks like it holds a secret value.
func IsSensitiveKey(key string) bool {
	upper := strings.ToUpper(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(upper, pattern) {
			return true
		}
	}
	return false
}

// Mask returns a fixed-width placeholder for a secret value, never the
// value's length or any prefix/suffix of it.
func Mask(string) string {
	return "********"
}

// MaskEnv redacts sensitive values out of a KEY=VALUE environment slice,
// leaving non-sensitive entries untouched.
func MaskEnv(env []string) []string {
	out := make([]string, len(env))
	for i, kv := range env {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 && IsSensitiveKey(parts[0]) {
			out[i] = parts[0] + "=" + Mask(parts[1])
		} else {
			out[i] = kv
		}
	}
	return out
}

// MaskEnvMap redacts sensitive values out of a key->value environment map.
func MaskEnvMap(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		if IsSensitiveKey(k) {
			out[k] = Mask(v)
		} else {
			out[k] = v
		}
	}
	return out
}

// InferredType is the coarse category summary() reports for a stored
// secret's name, never its value.
type InferredType string

const (
	TypeAPIKey   InferredType = "api_key"
	TypeToken    InferredType = "token"
	TypePassword InferredType = "password"
	TypeSecret   InferredType = "secret"
	TypeURL      InferredType = "url"
	TypeString   InferredType = "string"
)

// InferType guesses a secret's category from its key name, for display
// purposes only.
func InferType(key string) InferredType {
	upper := strings.ToUpper(key)
	switch {
	case strings.Contains(upper, "API_KEY") || strings.Contains(upper, "APIKEY"):
		return TypeAPIKey
	case strings.Contains(upper, "TOKEN"):
		return TypeToken
	case strings.Contains(upper, "PASSWORD") || strings.Contains(upper, "PASSWD"):
		return TypePassword
	case strings.Contains(upper, "URL") || strings.Contains(upper, "URI") || strings.Contains(upper, "ENDPOINT"):
		return TypeURL
	case strings.Contains(upper, "SECRET") || strings.Contains(upper, "CREDENTIAL"):
		return TypeSecret
	default:
		return TypeString
	}
}
