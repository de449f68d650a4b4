package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewLevels(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "WARN", "")
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "component", "supervisor")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "component=supervisor") {
		t.Fatalf("output = %q", out)
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, LevelDebug, FormatJSON)
	if err != nil {
		t.Fatal(err)
	}
	logger.Debug("attempt failed", "attempt", 2)
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("not json: %q", buf.String())
	}
	if rec["msg"] != "attempt failed" || rec["attempt"] != float64(2) {
		t.Fatalf("record = %v", rec)
	}
}

func TestInvalidSettings(t *testing.T) {
	if _, err := New(&bytes.Buffer{}, "verbose", ""); err == nil {
		t.Fatal("expected invalid level error")
	}
	if _, err := New(&bytes.Buffer{}, "", "xml"); err == nil {
		t.Fatal("expected invalid format error")
	}
	if err := Configure("nope", ""); err == nil {
		t.Fatal("Configure must reject invalid level")
	}
}
