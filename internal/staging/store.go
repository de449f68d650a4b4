package staging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"

	"mcpforge/internal/forge"
)

const (
	dirPattern = "mcpforge-stage-*"

	fileMode       os.FileMode = 0o644
	executableMode os.FileMode = 0o755
	dirMode        os.FileMode = 0o755
)

// Store materializes artifacts into isolated temporary directories.
type Store struct {
	root string
	log  *slog.Logger
}

// NewStore returns a Store that creates staging directories under root. An
// empty root uses the system temporary directory.
func NewStore(root string) *Store {
	return &Store{root: root, log: slog.With("component", "staging")}
}

// Handle is a staged artifact. The caller must call Cleanup on every exit
// path; the build system copies the directory into the image so removal
// after a build is always safe.
type Handle struct {
	Dir string

	// BuildDefinition is the package's build file relative to Dir. Empty for
	// a staged script.
	BuildDefinition string

	// Script is the file name a script artifact was written to.
	Script string

	once sync.Once
	log  *slog.Logger
}

// Cleanup removes the staging directory. Safe to call more than once.
func (h *Handle) Cleanup() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		if err := os.RemoveAll(h.Dir); err != nil && h.log != nil {
			h.log.Warn("remove staging dir", "dir", h.Dir, "err", err)
		}
	})
}

// Stage writes art into a fresh directory. A script becomes a single file; a
// package writes every entry, creating parent directories and marking shell
// scripts executable. A package without a build definition, with an unsafe
// path, or with an invalid compose file fails with *forge.MalformedArtifactError
// and leaves nothing on disk.
func (s *Store) Stage(ctx context.Context, art forge.Artifact) (*Handle, error) {
	if err := art.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp(s.root, dirPattern)
	if err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	h := &Handle{Dir: dir, log: s.log}

	if art.Kind() == forge.ArtifactScript {
		h.Script = ScriptFileName(art.Script)
		if err := os.WriteFile(filepath.Join(dir, h.Script), []byte(art.Script), executableMode); err != nil {
			h.Cleanup()
			return nil, fmt.Errorf("write script: %w", err)
		}
		s.log.Debug("staged script", "dir", dir, "file", h.Script)
		return h, nil
	}

	h.BuildDefinition, _ = art.BuildDefinition()
	for _, rel := range art.Paths() {
		if err := writeEntry(dir, rel, art.Files[rel]); err != nil {
			h.Cleanup()
			return nil, err
		}
	}
	if err := validateCompose(ctx, dir, art); err != nil {
		h.Cleanup()
		return nil, err
	}

	s.log.Debug("staged package", "dir", dir, "files", len(art.Files), "build_definition", h.BuildDefinition)
	return h, nil
}

func writeEntry(dir, rel, content string) error {
	dst := filepath.Join(dir, filepath.FromSlash(rel))
	if parent := path.Dir(rel); parent != "." {
		if err := os.MkdirAll(filepath.Join(dir, filepath.FromSlash(parent)), dirMode); err != nil {
			return fmt.Errorf("create directory for %q: %w", rel, err)
		}
	}
	mode := fileMode
	if forge.IsExecutablePath(rel) {
		mode = executableMode
	}
	if err := os.WriteFile(dst, []byte(content), mode); err != nil {
		return fmt.Errorf("write %q: %w", rel, err)
	}
	// WriteFile honours umask; chmod pins the executable bit.
	if err := os.Chmod(dst, mode); err != nil {
		return fmt.Errorf("chmod %q: %w", rel, err)
	}
	return nil
}
