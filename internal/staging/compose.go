package staging

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/compose-spec/compose-go/v2/loader"
	compose "github.com/compose-spec/compose-go/v2/types"

	"mcpforge/internal/forge"
)

// composeFiles are the top-level names the compose CLI picks up by default.
var composeFiles = []string{"compose.yaml", "compose.yml", "docker-compose.yaml", "docker-compose.yml"}

// validateCompose parses any compose file shipped at the package root. The
// supervisor never runs compose, but a generator that emits one expects it to
// describe the same service, so a file that does not load is a malformed
// package.
func validateCompose(ctx context.Context, dir string, art forge.Artifact) error {
	for _, name := range composeFiles {
		content, ok := art.Files[name]
		if !ok {
			continue
		}
		details := compose.ConfigDetails{
			WorkingDir: dir,
			ConfigFiles: []compose.ConfigFile{
				{Filename: filepath.Join(dir, name), Content: []byte(content)},
			},
			Environment: map[string]string{},
		}
		project, err := loader.LoadWithContext(ctx, details, func(o *loader.Options) {
			o.SetProjectName(filepath.Base(dir), true)
		})
		if err != nil {
			return &forge.MalformedArtifactError{Reason: fmt.Sprintf("%s: %v", name, err)}
		}
		if len(project.Services) == 0 {
			return &forge.MalformedArtifactError{Reason: fmt.Sprintf("%s has no services", name)}
		}
	}
	return nil
}
