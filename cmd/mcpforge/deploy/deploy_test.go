package deploy

import (
	"bytes"
	"strings"
	"testing"

	"mcpforge/cmd/mcpforge/cmdutil"
	"mcpforge/cmd/mcpforge/ui"
	"mcpforge/internal/coordinator"
	"mcpforge/internal/forge"
)

func TestCmdShape(t *testing.T) {
	cmd := Cmd(&cmdutil.GlobalFlags{})
	if err := cmd.Args(cmd, nil); err == nil {
		t.Fatal("deploy requires a query")
	}
	for _, name := range []string{"offline", "json", "retries"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Fatalf("missing --%s", name)
		}
	}
}

func TestRenderSuccess(t *testing.T) {
	ui.ConfigureInteraction(true)
	var buf bytes.Buffer
	render(&buf, coordinator.Response{
		Status:      coordinator.StatusSuccess,
		Name:        "mcp-git",
		Endpoint:    "http://localhost:49153",
		ContainerID: "abc123",
		Attempts:    2,
		Logs:        "listening on 8080",
	})
	out := buf.String()
	for _, want := range []string{"mcp-git is running", "http://localhost:49153", "abc123", "attempts:", "listening on 8080"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderExhausted(t *testing.T) {
	ui.ConfigureInteraction(true)
	art := forge.ScriptArtifact("print('hi')")
	var buf bytes.Buffer
	render(&buf, coordinator.Response{
		Status:        coordinator.StatusFailed,
		Name:          "mcp-memory",
		TotalAttempts: 2,
		Artifact:      &art,
		ErrorHistory: []forge.AttemptRecord{
			{AttemptNumber: 1, Status: forge.StatusBuildError, Logs: "pip failed"},
			{AttemptNumber: 2, Status: forge.StatusRuntimeError, Logs: "exited 1"},
		},
	})
	out := buf.String()
	for _, want := range []string{"failed after 2 attempts", "attempt 1", "pip failed", "attempt 2", "exited 1", "print('hi')"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "attempt 1") > strings.Index(out, "attempt 2") {
		t.Fatal("history must render in attempt order")
	}
}

func TestRenderError(t *testing.T) {
	ui.ConfigureInteraction(true)
	var buf bytes.Buffer
	render(&buf, coordinator.Response{Status: coordinator.StatusError, Message: "no descriptor matched"})
	if !strings.Contains(buf.String(), "no descriptor matched") {
		t.Fatalf("output = %q", buf.String())
	}
}
