package staging

import (
	"strings"
	"testing"

	"mcpforge/internal/forge"
)

func TestDetectRuntime(t *testing.T) {
	tests := map[string]ScriptRuntime{
		"print('hi')":                      RuntimePython,
		"#!/usr/bin/env python3\nprint(1)": RuntimePython,
		"#!/usr/bin/env node\n":            RuntimeNode,
		"#!/bin/bash\necho hi":             RuntimeShell,
		"\n\n#!/bin/sh\necho hi":           RuntimeShell,
	}
	for script, want := range tests {
		if got := DetectRuntime(script); got != want {
			t.Errorf("DetectRuntime(%q) = %s, want %s", script, got, want)
		}
	}
}

func TestPackageScript(t *testing.T) {
	art, err := PackageScript(forge.ScriptArtifact("print('hello')\n"), 8080)
	if err != nil {
		t.Fatalf("PackageScript() error = %v", err)
	}
	if art.Kind() != forge.ArtifactPackage {
		t.Fatalf("kind = %s", art.Kind())
	}
	if err := art.Validate(); err != nil {
		t.Fatalf("wrapped package invalid: %v", err)
	}
	df := art.Files["Dockerfile"]
	for _, want := range []string{"FROM python:3.11-slim", "COPY main.py", "EXPOSE 8080", `CMD ["python", "/app/main.py"]`} {
		if !strings.Contains(df, want) {
			t.Errorf("Dockerfile missing %q:\n%s", want, df)
		}
	}
	if art.Files["main.py"] != "print('hello')\n" {
		t.Fatalf("script not carried: %q", art.Files["main.py"])
	}
}

func TestPackageScriptPassesPackagesThrough(t *testing.T) {
	pkg := forge.PackageArtifact(map[string]string{"Dockerfile": "FROM alpine"})
	got, err := PackageScript(pkg, 8080)
	if err != nil {
		t.Fatal(err)
	}
	if got.Files["Dockerfile"] != "FROM alpine" || len(got.Files) != 1 {
		t.Fatalf("package changed: %+v", got)
	}
}
