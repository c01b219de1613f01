package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

// Keys that MaskField leaves readable. Anything else passed through MaskField
// is replaced with RedactedValue.
var redactionAllowlist = map[string]struct{}{
	"component": {},
	"op":        {},
	"bounty":    {},
	"claim":     {},
	"tip":       {},
	"caller":    {},
	"status":    {},
	"route":     {},
}

// Keys masked by every logger built with New, whatever the call site passed.
// Tip ciphertext, claim proofs and credentials never reach the sink.
var sensitiveKeys = map[string]struct{}{
	"payload":          {},
	"encryptedpayload": {},
	"proof":            {},
	"token":            {},
	"authorization":    {},
	"secret":           {},
	"hmacsecret":       {},
	"signature":        {},
	"passphrase":       {},
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// IsAllowlisted reports whether the provided key is exempt from MaskField.
func IsAllowlisted(key string) bool {
	_, ok := redactionAllowlist[normalizeKey(key)]
	return ok
}

// IsSensitive reports whether key is always masked by the handler.
func IsSensitive(key string) bool {
	_, ok := sensitiveKeys[normalizeKey(key)]
	return ok
}

// MaskValue returns the canonical redacted placeholder for non-empty values. Empty values
// are returned unchanged to avoid introducing noise in logs.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField returns a slog.Attr that redacts the supplied value unless the key is
// explicitly allowlisted. The original key casing is preserved for readability.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

func redactAttr(attr slog.Attr) slog.Attr {
	if !IsSensitive(attr.Key) {
		return attr
	}
	if attr.Value.Kind() == slog.KindString && strings.TrimSpace(attr.Value.String()) == "" {
		return attr
	}
	return slog.String(attr.Key, RedactedValue)
}
