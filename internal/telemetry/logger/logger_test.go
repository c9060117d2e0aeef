package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "default config", cfg: DefaultConfig()},
		{name: "text format", cfg: Config{Level: "debug", Format: "text"}},
		{name: "console format", cfg: Config{Level: "info", Format: "console"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if l := New(tt.cfg); l == nil {
				t.Fatal("New() returned nil logger")
			}
		})
	}
}

func TestLogger_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "debug", Format: "json", Output: &buf})

	l.Info("test message", "component", "store")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["msg"] != "test message" {
		t.Errorf("msg = %v, want %q", entry["msg"], "test message")
	}
	if entry["component"] != "store" {
		t.Errorf("component = %v, want %q", entry["component"], "store")
	}
}

func TestLogger_TextOutput(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "info", Format: "text", Output: &buf})

	l.Warn("slow command", "command", "KEYS")

	out := buf.String()
	if !strings.Contains(out, "slow command") || !strings.Contains(out, "KEYS") {
		t.Errorf("unexpected text output: %q", out)
	}
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "info", Format: "json", Output: &buf})

	l.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug message logged at info level: %q", buf.String())
	}

	SetLevel("debug")
	defer SetLevel("info")

	l.Debug("visible")
	if buf.Len() == 0 {
		t.Fatal("debug message suppressed after SetLevel(debug)")
	}
	if got := GetLevel(); got != "debug" {
		t.Errorf("GetLevel() = %q, want %q", got, "debug")
	}
}

func TestParseLevel_Fallback(t *testing.T) {
	for _, bad := range []string{"", "verbose", "TRACE"} {
		if got := parseLevel(bad); got.String() != "INFO" {
			t.Errorf("parseLevel(%q) = %v, want INFO", bad, got)
		}
	}
}
