package credential

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func envLookup(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestSourcePrefersEnvironment(t *testing.T) {
	src := NewSource("COINFORT_TOKEN", "token: ")
	src.lookup = envLookup(map[string]string{"COINFORT_TOKEN": "  abc.def.ghi \n"})
	src.isTerminal = func(int) bool {
		t.Fatalf("terminal must not be consulted when the env var is set")
		return false
	}
	got, err := src.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "abc.def.ghi" {
		t.Fatalf("unexpected token %q", got)
	}
}

func TestSourceRejectsEmptyEnvironment(t *testing.T) {
	src := NewSource("COINFORT_TOKEN", "token: ")
	src.lookup = envLookup(map[string]string{"COINFORT_TOKEN": "   "})
	if _, err := src.Get(); err == nil || !strings.Contains(err.Error(), "set but empty") {
		t.Fatalf("expected empty env error, got %v", err)
	}
}

func TestSourceWithoutTerminal(t *testing.T) {
	src := NewSource("COINFORT_TOKEN", "token: ")
	src.lookup = envLookup(nil)
	src.isTerminal = func(int) bool { return false }
	if _, err := src.Get(); err == nil || !strings.Contains(err.Error(), "COINFORT_TOKEN") {
		t.Fatalf("expected hint about env var, got %v", err)
	}
}

func TestSourcePromptsOnceAndCaches(t *testing.T) {
	var prompts bytes.Buffer
	calls := 0
	src := NewSource("COINFORT_TOKEN", "token: ")
	src.lookup = envLookup(nil)
	src.stderr = &prompts
	src.isTerminal = func(int) bool { return true }
	src.readSecret = func(int) ([]byte, error) {
		calls++
		return []byte("typed-token"), nil
	}
	for i := 0; i < 2; i++ {
		got, err := src.Get()
		if err != nil || got != "typed-token" {
			t.Fatalf("get: %q %v", got, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected a single prompt, got %d", calls)
	}
	if !strings.HasPrefix(prompts.String(), "token: ") {
		t.Fatalf("prompt not written: %q", prompts.String())
	}
}

func TestSourcePromptFailure(t *testing.T) {
	src := NewSource("", "token: ")
	src.stderr = &bytes.Buffer{}
	src.isTerminal = func(int) bool { return true }
	src.readSecret = func(int) ([]byte, error) { return nil, errors.New("tty gone") }
	if _, err := src.Get(); err == nil || !strings.Contains(err.Error(), "tty gone") {
		t.Fatalf("expected read failure, got %v", err)
	}
}
