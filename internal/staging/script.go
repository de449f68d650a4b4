package staging

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"mcpforge/internal/forge"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var scriptTemplates = template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))

// ScriptRuntime selects the base image used to wrap a bare script.
type ScriptRuntime uint8

const (
	RuntimePython ScriptRuntime = iota + 1
	RuntimeNode
	RuntimeShell
)

func (r ScriptRuntime) String() string {
	switch r {
	case RuntimePython:
		return "python"
	case RuntimeNode:
		return "node"
	case RuntimeShell:
		return "shell"
	default:
		return "unknown"
	}
}

// DetectRuntime reads the script's shebang. Scripts without one are assumed
// to be Python.
func DetectRuntime(script string) ScriptRuntime {
	first, _, _ := strings.Cut(strings.TrimLeft(script, " \t\r\n"), "\n")
	if !strings.HasPrefix(first, "#!") {
		return RuntimePython
	}
	switch {
	case strings.Contains(first, "node"):
		return RuntimeNode
	case strings.Contains(first, "python"):
		return RuntimePython
	case strings.Contains(first, "sh"):
		return RuntimeShell
	default:
		return RuntimePython
	}
}

// ScriptFileName is the file a script artifact is staged as.
func ScriptFileName(script string) string {
	switch DetectRuntime(script) {
	case RuntimeNode:
		return "main.js"
	case RuntimeShell:
		return "main.sh"
	default:
		return "main.py"
	}
}

type scriptData struct {
	Entry string
	Port  uint16
}

// PackageScript wraps a script artifact into a deployment package with a
// Dockerfile for its runtime. Package artifacts are returned unchanged.
func PackageScript(art forge.Artifact, port uint16) (forge.Artifact, error) {
	if art.Kind() != forge.ArtifactScript {
		return art, nil
	}
	if err := art.Validate(); err != nil {
		return forge.Artifact{}, err
	}

	entry := ScriptFileName(art.Script)
	var buf bytes.Buffer
	name := "dockerfile-" + DetectRuntime(art.Script).String() + ".tmpl"
	if err := scriptTemplates.ExecuteTemplate(&buf, name, scriptData{Entry: entry, Port: port}); err != nil {
		return forge.Artifact{}, fmt.Errorf("render %s: %w", name, err)
	}
	return forge.PackageArtifact(map[string]string{
		"Dockerfile": buf.String(),
		entry:        art.Script,
	}), nil
}
