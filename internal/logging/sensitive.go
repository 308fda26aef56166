package logging

import "strings"

// SensitiveFields contains context keys whose values are masked in logs.
var SensitiveFields = map[string]bool{
	"password":      true,
	"secret":        true,
	"token":         true,
	"api_key":       true,
	"apikey":        true,
	"access_token":  true,
	"refresh_token": true,
	"private_key":   true,
	"client_secret": true,
	"credentials":   true,
	"authorization": true,
	"bearer":        true,
	"jwt":           true,
	"session_id":    true,
	"cookie":        true,
	"webhook_url":   true,
}

// MaskedValue replaces sensitive values.
const MaskedValue = "[REDACTED]"

// IsSensitiveField checks if a field name is, or contains, a sensitive key.
func IsSensitiveField(fieldName string) bool {
	lower := strings.ToLower(fieldName)
	if SensitiveFields[lower] {
		return true
	}
	for sensitive := range SensitiveFields {
		if strings.Contains(lower, sensitive) {
			return true
		}
	}
	return false
}

// SafeLogValue returns a safe-to-log version of a value based on its field name.
func SafeLogValue(fieldName string, value any) any {
	if value == nil || !IsSensitiveField(fieldName) {
		return value
	}
	if s, ok := value.(string); ok && s == "" {
		return s
	}
	return MaskedValue
}

// SafeContext returns a copy of a context map with sensitive values masked.
// Nested maps are masked recursively.
func SafeContext(ctx map[string]any) map[string]any {
	if ctx == nil {
		return nil
	}
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		if nested, ok := v.(map[string]any); ok {
			out[k] = SafeContext(nested)
			continue
		}
		out[k] = SafeLogValue(k, v)
	}
	return out
}

// MaskString keeps the first and last characters of s visible.
func MaskString(s string, showFirst, showLast int) string {
	if s == "" {
		return s
	}
	if len(s) <= showFirst+showLast+3 {
		return MaskedValue
	}
	return s[:showFirst] + "***" + s[len(s)-showLast:]
}
