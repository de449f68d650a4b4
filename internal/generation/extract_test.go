package generation

import (
	"strings"
	"testing"

	"mcpforge/internal/forge"
)

func TestExtractArtifact(t *testing.T) {
	tests := []struct {
		name     string
		response string
		kind     forge.ArtifactKind
		check    func(t *testing.T, a forge.Artifact)
	}{
		{
			name:     "file blocks",
			response: "<thinking>need git</thinking>\n<file path=\"Dockerfile\">\nFROM python:3.12-slim\n</file>\n<file path=\"scripts/entrypoint.sh\">\n#!/bin/sh\nexec server\n</file>",
			kind:     forge.ArtifactPackage,
			check: func(t *testing.T, a forge.Artifact) {
				if a.Files["Dockerfile"] != "FROM python:3.12-slim\n" {
					t.Fatalf("Dockerfile = %q", a.Files["Dockerfile"])
				}
				if !strings.HasPrefix(a.Files["scripts/entrypoint.sh"], "#!/bin/sh") {
					t.Fatalf("entrypoint = %q", a.Files["scripts/entrypoint.sh"])
				}
			},
		},
		{
			name:     "fenced file block content",
			response: "<file path=\"Dockerfile\">\n```dockerfile\nFROM alpine\n```\n</file>",
			kind:     forge.ArtifactPackage,
			check: func(t *testing.T, a forge.Artifact) {
				if a.Files["Dockerfile"] != "FROM alpine\n" {
					t.Fatalf("Dockerfile = %q", a.Files["Dockerfile"])
				}
			},
		},
		{
			name:     "fenced dockerfile",
			response: "<thinking>\nslim base\n</thinking>\n```dockerfile\n# syntax=docker/dockerfile:1\nFROM node:20-slim\nCMD [\"node\"]\n```",
			kind:     forge.ArtifactPackage,
			check: func(t *testing.T, a forge.Artifact) {
				if !strings.Contains(a.Files["Dockerfile"], "FROM node:20-slim") {
					t.Fatalf("Dockerfile = %q", a.Files["Dockerfile"])
				}
			},
		},
		{
			name:     "bare dockerfile",
			response: "ARG VERSION=3.12\nFROM python:${VERSION}-slim\n",
			kind:     forge.ArtifactPackage,
		},
		{
			name:     "python script",
			response: "```python\nimport json\nprint(json.dumps({}))\n```",
			kind:     forge.ArtifactScript,
			check: func(t *testing.T, a forge.Artifact) {
				if strings.Contains(a.Script, "```") || !strings.HasPrefix(a.Script, "import json") {
					t.Fatalf("script = %q", a.Script)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := ExtractArtifact(tt.response)
			if err != nil {
				t.Fatal(err)
			}
			if a.Kind() != tt.kind {
				t.Fatalf("kind = %s, want %s", a.Kind(), tt.kind)
			}
			if err := a.Validate(); err != nil {
				t.Fatalf("Validate() = %v", err)
			}
			if tt.check != nil {
				tt.check(t, a)
			}
		})
	}
}

func TestExtractArtifactEmpty(t *testing.T) {
	for _, resp := range []string{"", "   ", "<thinking>only reasoning</thinking>", "```\n```"} {
		if _, err := ExtractArtifact(resp); err == nil {
			t.Errorf("ExtractArtifact(%q) expected error", resp)
		}
	}
}
