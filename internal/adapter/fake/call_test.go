package fake

import (
	"slices"
	"testing"
)

func TestCallRecorder_Record(t *testing.T) {
	var r CallRecorder

	r.record("Build", "mcp-adapter/a:latest")
	r.record("Run", "img")
	r.record("Build", "mcp-adapter/b:latest")

	if got := r.Count("Build"); got != 2 {
		t.Fatalf("expected 2 Build calls, got %d", got)
	}
	builds := r.Calls("Build")
	if builds[0].Args[0] != "mcp-adapter/a:latest" {
		t.Errorf("expected first Build arg tag a, got %v", builds[0].Args[0])
	}
	if want := []string{"Build", "Run", "Build"}; !slices.Equal(r.Methods(), want) {
		t.Errorf("Methods() = %v, want %v", r.Methods(), want)
	}
	if len(r.Calls("Inspect")) != 0 {
		t.Error("expected no Inspect calls")
	}
}

func TestCallRecorder_Reset(t *testing.T) {
	var r CallRecorder

	r.record("Build")
	r.Reset()

	if len(r.Calls("")) != 0 {
		t.Errorf("expected 0 calls after reset, got %d", len(r.Calls("")))
	}
}
