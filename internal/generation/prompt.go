package generation

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"mcpforge/internal/forge"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

var promptTemplates = template.Must(template.ParseFS(promptFS, "prompts/*.tmpl"))

// DefaultContainerPort is the port generated packages are told to listen on.
const DefaultContainerPort = 8080

// Prompts renders the model prompts for a query.
type Prompts struct {
	Port uint16
}

func (p Prompts) port() uint16 {
	if p.Port == 0 {
		return DefaultContainerPort
	}
	return p.Port
}

func (p Prompts) System() (string, error) {
	return render("system.tmpl", struct{ Port uint16 }{p.port()})
}

func (p Prompts) Generate(query string, docs []forge.Descriptor) (string, error) {
	docJSON, err := descriptorsJSON(docs)
	if err != nil {
		return "", err
	}
	return render("generate.tmpl", struct{ Query, Docs string }{query, docJSON})
}

// Regenerate renders the correction prompt. Failures are listed in attempt
// order whatever order the caller passes them in.
func (p Prompts) Regenerate(query string, docs []forge.Descriptor, previous forge.Artifact, failures []forge.AttemptRecord) (string, error) {
	docJSON, err := descriptorsJSON(docs)
	if err != nil {
		return "", err
	}
	ordered := make([]forge.AttemptRecord, len(failures))
	copy(ordered, failures)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].AttemptNumber < ordered[j].AttemptNumber })

	return render("regenerate.tmpl", struct {
		Query, Docs, Previous string
		Failures              []forge.AttemptRecord
	}{query, docJSON, FormatArtifact(previous), ordered})
}

// FormatArtifact renders an artifact in the same file-block form the model is
// asked to answer in.
func FormatArtifact(a forge.Artifact) string {
	if a.Kind() == forge.ArtifactScript {
		return a.Script
	}
	var b strings.Builder
	for _, path := range a.Paths() {
		fmt.Fprintf(&b, "<file path=%q>\n%s\n</file>\n", path, strings.TrimRight(a.Files[path], "\n"))
	}
	return b.String()
}

func descriptorsJSON(docs []forge.Descriptor) (string, error) {
	data, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode descriptors: %w", err)
	}
	return string(data), nil
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := promptTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}
