package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"Warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q): expected %s, got %s", tt.in, tt.want, got)
		}
	}
}

func TestJSONOutputRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Level = "WARN"
	l := NewWithWriter(cfg, &buf)

	l.Info().Msg("hidden")
	l.Warn().Str("component", "test").Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("Expected 1 line, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("Expected JSON output: %v", err)
	}
	if entry["message"] != "shown" || entry["service"] != "pdarray-engine" || entry["component"] != "test" {
		t.Errorf("Unexpected entry %v", entry)
	}
}

func TestConsoleOutput(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.JSONFormat = false
	cfg.Output = "stderr"
	l := NewWithWriter(cfg, &buf)

	l.Info().Msg("console line")

	if !strings.Contains(buf.String(), "console line") || strings.HasPrefix(buf.String(), "{") {
		t.Errorf("Expected human readable output, got %q", buf.String())
	}
}

func TestFileOutputIsRotatingWriter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Output = filepath.Join(t.TempDir(), "engine.log")
	l, closer := New(cfg)
	defer closer.Close()

	l.Info().Msg("to file")
}

func TestTraceContext(t *testing.T) {
	var buf bytes.Buffer
	base := NewWithWriter(DefaultConfig(), &buf)

	ctx, l := WithTraceContext(context.Background(), base, "abc123")
	l.Info().Msg("traced")

	if TraceID(ctx) != "abc123" {
		t.Errorf("Expected trace id abc123, got %q", TraceID(ctx))
	}
	if !strings.Contains(buf.String(), `"trace_id":"abc123"`) {
		t.Errorf("Expected trace id in output, got %q", buf.String())
	}

	logger := FromContext(ctx)
	logger.Info().Msg("from context")
	if strings.Count(buf.String(), "abc123") != 2 {
		t.Error("Logger from context should carry the trace id")
	}

	if _, generated := WithTraceContext(context.Background(), base, ""); generated.GetLevel() == zerolog.Disabled {
		t.Error("Generated trace logger should be enabled")
	}
	if len(GenerateTraceID()) != 32 {
		t.Error("Trace ids are 16 hex-encoded bytes")
	}
}
