package logger

import (
	"log/slog"
	"strings"
)

// Key-encoded secrets carry this prefix, e.g. "smk_3f9a...". The prefix
// survives masking so operators can tell which kind of value was logged.
const linkKeyPrefix = "smk_"

// Key name fragments whose values are never logged.
var sensitiveKeyPatterns = []string{
	"link_key",
	"psk",
	"password",
	"secret",
	"token",
	"credential",
	"auth",
}

const redactedValue = "***REDACTED***"

// redactSensitive masks link keys by value and anything logged under a
// sensitive key name. Groups are walked recursively.
func redactSensitive(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		s := a.Value.String()
		if strings.HasPrefix(s, linkKeyPrefix) {
			return slog.String(a.Key, maskValue(s, linkKeyPrefix))
		}
		if s != "" && IsSensitiveKey(a.Key) {
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

// maskValue keeps the prefix and three characters on each end.
func maskValue(value, prefix string) string {
	body := value[len(prefix):]
	if len(body) <= 6 {
		return prefix + "***"
	}
	return prefix + body[:3] + "..." + body[len(body)-3:]
}

// RedactString masks a link key. Other values are returned unchanged.
func RedactString(value string) string {
	if strings.HasPrefix(value, linkKeyPrefix) {
		return maskValue(value, linkKeyPrefix)
	}
	return value
}

// IsSensitiveKey reports whether a key name suggests secret content.
func IsSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(k, pattern) {
			return true
		}
	}
	return false
}
