package logging

import (
	"log/slog"
	"strings"
)

// Masked replaces values that must not reach the log sink.
const Masked = "[masked]"

// clearKeys are attribute keys whose values are identifiers, never credentials.
var clearKeys = map[string]bool{
	"service":     true,
	"env":         true,
	"component":   true,
	"operation":   true,
	"reason":      true,
	"error":       true,
	"principal":   true,
	"transaction": true,
	"request_id":  true,
}

func loggedInClear(key string) bool {
	return clearKeys[strings.ToLower(strings.TrimSpace(key))]
}

// MaskField builds a string attribute for a value that may carry a credential,
// such as a bearer token. Values under identifier keys pass through. Empty
// values pass through so a missing credential stays visible.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || loggedInClear(key) {
		return slog.String(key, value)
	}
	return slog.String(key, Masked)
}
