package logger

import (
	"log/slog"
	"strings"
)

// Values starting with these prefixes are stored credentials and are never
// printed, whatever the key.
var sensitiveValuePrefixes = []string{
	"$argon2id$",
	"$argon2i$",
}

// Key fragments that mark an attribute as sensitive.
var sensitiveKeyPatterns = []string{
	"password",
	"secret",
	"token",
	"credential",
	"auth",
	"bearer",
}

const redactedValue = "***REDACTED***"

func redactSensitive(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		v := a.Value.String()
		if v == "" {
			return a
		}
		if isSensitiveValue(v) || isSensitiveKey(a.Key) {
			return slog.String(a.Key, redactedValue)
		}
	case slog.KindGroup:
		attrs := a.Value.Group()
		out := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			out[i] = redactSensitive(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}
	}
	return a
}

// isSensitiveKey reports whether key names a credential.
func isSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, p := range sensitiveKeyPatterns {
		if strings.Contains(k, p) {
			return true
		}
	}
	return false
}

// isSensitiveValue reports whether value looks like a stored secret hash.
func isSensitiveValue(value string) bool {
	for _, p := range sensitiveValuePrefixes {
		if strings.HasPrefix(value, p) {
			return true
		}
	}
	return false
}
