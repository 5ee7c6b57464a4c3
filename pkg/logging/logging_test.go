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
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) got=%v want=%v", in, got, want)
		}
	}
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	New("info", true, &buf).Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug records must be filtered at info level: %q", buf.String())
	}
	New("debug", true, &buf).Info("catalog loaded", "metrics", 3)
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected a JSON record, got %q: %v", buf.String(), err)
	}
	if rec["msg"] != "catalog loaded" || rec["metrics"] != float64(3) {
		t.Fatalf("unexpected record: %v", rec)
	}

	buf.Reset()
	New("info", false, &buf).Info("ready")
	if !strings.Contains(buf.String(), "msg=ready") {
		t.Fatalf("expected a text record, got %q", buf.String())
	}
}
