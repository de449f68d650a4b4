package generation

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"text/template"

	"mcpforge/internal/forge"
)

//go:embed templates/*.tmpl
var packageFS embed.FS

var packageTemplates = template.Must(template.ParseFS(packageFS, "templates/*.tmpl"))

const cloneDir = "/app/src-root"

// variant is one rung of the correction ladder. Each regeneration moves one
// rung further, the last rung repeats.
type variant struct {
	BaseImage      string
	InstallCommand string
	BuildTools     bool
}

var ladder = []variant{
	{BaseImage: "python:3.12-slim-bookworm", InstallCommand: "pip install --no-cache-dir -e ."},
	{BaseImage: "python:3.12-slim-bookworm", InstallCommand: "pip install --no-cache-dir .", BuildTools: true},
	{BaseImage: "python:3.11-slim-bookworm", InstallCommand: "pip install --no-cache-dir --upgrade pip && pip install --no-cache-dir .", BuildTools: true},
}

type packageData struct {
	Variant         int
	BaseImage       string
	InstallCommand  string
	BuildTools      bool
	Name            string
	Description     string
	RepositoryURL   string
	WorkDir         string
	Command         string
	Port            uint16
	RequiredEnvVars []string
}

// TemplateGenerator renders a deterministic deployment package from the top
// descriptor without calling a model. Regenerate walks a fixed ladder of
// build variants.
type TemplateGenerator struct {
	Port uint16
}

var _ forge.Generator = TemplateGenerator{}

func (g TemplateGenerator) Generate(_ context.Context, _ string, docs []forge.Descriptor) (forge.Artifact, error) {
	return g.render(docs, 0)
}

func (g TemplateGenerator) Regenerate(ctx context.Context, _ string, docs []forge.Descriptor, _ forge.Artifact, failures []forge.AttemptRecord) (forge.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return forge.Artifact{}, err
	}
	return g.render(docs, len(failures))
}

func (g TemplateGenerator) render(docs []forge.Descriptor, rung int) (forge.Artifact, error) {
	if len(docs) == 0 {
		return forge.Artifact{}, fmt.Errorf("no descriptor to render")
	}
	d := docs[0]
	if d.InstallationType != forge.InstallInterpreted {
		return forge.Artifact{}, fmt.Errorf("descriptor %s: template packages support interpreted servers only, not %s", d.Name, d.InstallationType)
	}
	if strings.TrimSpace(d.RepositoryURL) == "" {
		return forge.Artifact{}, fmt.Errorf("descriptor %s: repository url is required", d.Name)
	}

	rung = min(rung, len(ladder)-1)
	short := strings.TrimPrefix(forge.SanitizeName(d.Name), "mcp-")
	port := g.Port
	if port == 0 {
		port = DefaultContainerPort
	}
	data := packageData{
		Variant:         rung,
		BaseImage:       ladder[rung].BaseImage,
		InstallCommand:  ladder[rung].InstallCommand,
		BuildTools:      ladder[rung].BuildTools,
		Name:            d.Name,
		Description:     d.Description,
		RepositoryURL:   d.RepositoryURL,
		WorkDir:         path.Join(cloneDir, "src", short),
		Command:         "mcp-server-" + short,
		Port:            port,
		RequiredEnvVars: d.RequiredEnvVars,
	}

	files := make(map[string]string)
	err := fs.WalkDir(packageFS, "templates", func(p string, entry fs.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return err
		}
		name := path.Base(p)
		var buf bytes.Buffer
		if err := packageTemplates.ExecuteTemplate(&buf, name, data); err != nil {
			return fmt.Errorf("render %s: %w", name, err)
		}
		files[strings.TrimSuffix(name, ".tmpl")] = buf.String()
		return nil
	})
	if err != nil {
		return forge.Artifact{}, err
	}
	return forge.PackageArtifact(files), nil
}
