package forge

import (
	"encoding/json"
	"fmt"
	"maps"
	"path"
	"slices"
	"strings"
)

// BuildDefinitionFiles are the root-level files accepted as an image build
// definition, in lookup order.
var BuildDefinitionFiles = []string{"Dockerfile", "Containerfile"}

// ExecutableExtensions are marked executable when a package is staged.
var ExecutableExtensions = []string{".sh", ".bash"}

type ArtifactKind uint8

const (
	ArtifactScript ArtifactKind = iota + 1
	ArtifactPackage
)

func (k ArtifactKind) String() string {
	switch k {
	case ArtifactScript:
		return "script"
	case ArtifactPackage:
		return "package"
	default:
		return "unknown"
	}
}

// Artifact is a generated deployable unit: either a single executable script
// or a deployment package mapping relative paths to file contents.
type Artifact struct {
	Script string
	Files  map[string]string
}

// ScriptArtifact wraps a single executable script.
func ScriptArtifact(script string) Artifact {
	return Artifact{Script: script}
}

// PackageArtifact wraps a file set. The map is copied.
func PackageArtifact(files map[string]string) Artifact {
	out := make(map[string]string, len(files))
	maps.Copy(out, files)
	return Artifact{Files: out}
}

func (a Artifact) Kind() ArtifactKind {
	if a.Files != nil {
		return ArtifactPackage
	}
	return ArtifactScript
}

func (a Artifact) IsZero() bool {
	return a.Files == nil && a.Script == ""
}

// Paths returns the package paths in lexical order.
func (a Artifact) Paths() []string {
	return slices.Sorted(maps.Keys(a.Files))
}

// BuildDefinition returns the package's build definition path, if any.
func (a Artifact) BuildDefinition() (string, bool) {
	for _, name := range BuildDefinitionFiles {
		if _, ok := a.Files[name]; ok {
			return name, true
		}
	}
	return "", false
}

// Clone returns a deep copy so history snapshots are not aliased.
func (a Artifact) Clone() Artifact {
	if a.Files == nil {
		return Artifact{Script: a.Script}
	}
	return PackageArtifact(a.Files)
}

// Validate checks the structural invariants required before staging.
func (a Artifact) Validate() error {
	if a.Kind() == ArtifactScript {
		if strings.TrimSpace(a.Script) == "" {
			return &MalformedArtifactError{Reason: "script is empty"}
		}
		return nil
	}
	if len(a.Files) == 0 {
		return &MalformedArtifactError{Reason: "package has no files"}
	}
	for _, p := range a.Paths() {
		if err := ValidatePackagePath(p); err != nil {
			return err
		}
	}
	if _, ok := a.BuildDefinition(); !ok {
		return &MalformedArtifactError{
			Reason: fmt.Sprintf("package is missing a build definition (%s)", strings.Join(BuildDefinitionFiles, " or ")),
		}
	}
	return nil
}

// ValidatePackagePath rejects absolute paths and paths escaping the package root.
func ValidatePackagePath(p string) error {
	if strings.TrimSpace(p) == "" {
		return &MalformedArtifactError{Reason: "package contains an empty path"}
	}
	if strings.Contains(p, "\\") {
		return &MalformedArtifactError{Reason: fmt.Sprintf("path %q must use forward slashes", p)}
	}
	if path.IsAbs(p) {
		return &MalformedArtifactError{Reason: fmt.Sprintf("path %q must be relative", p)}
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return &MalformedArtifactError{Reason: fmt.Sprintf("path %q escapes the package root", p)}
	}
	if strings.HasSuffix(p, "/") {
		return &MalformedArtifactError{Reason: fmt.Sprintf("path %q names a directory", p)}
	}
	return nil
}

// IsExecutablePath reports whether a staged file should get the executable bit.
func IsExecutablePath(p string) bool {
	ext := strings.ToLower(path.Ext(p))
	return slices.Contains(ExecutableExtensions, ext)
}

// MarshalJSON encodes a script as a JSON string and a package as an object.
func (a Artifact) MarshalJSON() ([]byte, error) {
	if a.Kind() == ArtifactPackage {
		return json.Marshal(a.Files)
	}
	if a.Script == "" {
		return []byte("null"), nil
	}
	return json.Marshal(a.Script)
}

func (a *Artifact) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	switch {
	case trimmed == "null":
		*a = Artifact{}
		return nil
	case strings.HasPrefix(trimmed, `"`):
		var script string
		if err := json.Unmarshal(data, &script); err != nil {
			return fmt.Errorf("decode script artifact: %w", err)
		}
		*a = ScriptArtifact(script)
		return nil
	default:
		var files map[string]string
		if err := json.Unmarshal(data, &files); err != nil {
			return fmt.Errorf("decode package artifact: %w", err)
		}
		if files == nil {
			files = map[string]string{}
		}
		*a = Artifact{Files: files}
		return nil
	}
}
