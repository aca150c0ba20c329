package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestJSONAndTextFormats(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "info", "json").Info("rule triggered", "rule_id", "r1")
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("json output: %v (%s)", err, buf.String())
	}
	if rec["rule_id"] != "r1" {
		t.Fatalf("missing rule_id: %v", rec)
	}

	buf.Reset()
	New(&buf, "warn", "text").Info("suppressed")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level: %s", buf.String())
	}
	New(&buf, "warn", "text").Warn("queue full", "event_id", "e1")
	if !strings.Contains(buf.String(), "event_id=e1") {
		t.Fatalf("text output: %s", buf.String())
	}
}
