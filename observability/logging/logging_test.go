package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestSetupRenamesKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := setup(&buf, "coinfortd", "test", Options{Level: "debug"})
	logger.Debug("hello", slog.String("operation", "close_transaction"))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	for _, key := range []string{"timestamp", "severity", "message", "service", "env"} {
		if _, ok := line[key]; !ok {
			t.Fatalf("missing %q in %v", key, line)
		}
	}
	if line["severity"] != "DEBUG" || line["message"] != "hello" {
		t.Fatalf("unexpected line: %v", line)
	}
}

func TestSetupRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := setup(&buf, "coinfortd", "", Options{Level: "warn"})
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info line should be filtered at warn level: %s", buf.String())
	}
	if ParseLevel("nonsense") != slog.LevelInfo {
		t.Fatalf("unknown level should default to info")
	}
}

func TestMaskField(t *testing.T) {
	cases := []struct {
		key, value, want string
	}{
		{"token", "eyJhbGciOiJIUzI1NiJ9.e30.sig", Masked},
		{"secret", "hunter2", Masked},
		{"principal", "0xabc", "0xabc"},
		{" Request_ID ", "req-1", "req-1"},
		{"token", " ", " "},
	}
	for _, tc := range cases {
		if got := MaskField(tc.key, tc.value).Value.String(); got != tc.want {
			t.Fatalf("MaskField(%q, %q) = %q, want %q", tc.key, tc.value, got, tc.want)
		}
	}
}
