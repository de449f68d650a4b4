package knowledge

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"mcpforge/internal/forge"
)

const frontMatterDelim = "---"

type frontMatter struct {
	Name                 string          `yaml:"name"`
	Description          string          `yaml:"description"`
	InstallationType     string          `yaml:"installation_type"`
	RepositoryURL        string          `yaml:"repository_url"`
	DocumentationSummary string          `yaml:"documentation_summary"`
	RequiredEnvVars      []string        `yaml:"required_env_vars"`
	Examples             []forge.Example `yaml:"examples"`
}

// ParseDocument reads a descriptor from a markdown document with YAML front
// matter. The markdown body, when present, becomes the documentation summary
// unless the front matter sets one.
func ParseDocument(data []byte) (forge.Descriptor, error) {
	head, body, err := splitFrontMatter(data)
	if err != nil {
		return forge.Descriptor{}, err
	}

	var fm frontMatter
	if err := yaml.Unmarshal(head, &fm); err != nil {
		return forge.Descriptor{}, fmt.Errorf("parse front matter: %w", err)
	}
	t, ok := forge.ParseInstallationType(fm.InstallationType)
	if !ok {
		return forge.Descriptor{}, fmt.Errorf("descriptor %q: unknown installation type %q", fm.Name, fm.InstallationType)
	}

	d := forge.Descriptor{
		Name:                 strings.TrimSpace(fm.Name),
		Description:          strings.TrimSpace(fm.Description),
		InstallationType:     t,
		RepositoryURL:        strings.TrimSpace(fm.RepositoryURL),
		DocumentationSummary: strings.TrimSpace(fm.DocumentationSummary),
		RequiredEnvVars:      fm.RequiredEnvVars,
		Examples:             fm.Examples,
	}
	if d.DocumentationSummary == "" {
		d.DocumentationSummary = strings.TrimSpace(string(body))
	}
	if err := d.Validate(); err != nil {
		return forge.Descriptor{}, err
	}
	return d, nil
}

func splitFrontMatter(data []byte) (head, body []byte, err error) {
	text := bytes.TrimLeft(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")), " \t\r\n")
	if !bytes.HasPrefix(text, []byte(frontMatterDelim)) {
		return nil, nil, fmt.Errorf("document has no front matter")
	}
	rest := text[len(frontMatterDelim):]
	for {
		nl := bytes.IndexByte(rest, '\n')
		if nl < 0 {
			break
		}
		line := rest[:nl]
		if bytes.Equal(bytes.TrimSpace(line), []byte(frontMatterDelim)) && len(head) > 0 {
			return head, rest[nl+1:], nil
		}
		head = append(head, line...)
		head = append(head, '\n')
		rest = rest[nl+1:]
	}
	if bytes.Equal(bytes.TrimSpace(rest), []byte(frontMatterDelim)) {
		return head, nil, nil
	}
	return nil, nil, fmt.Errorf("unterminated front matter")
}

// LoadDir parses every *.md file under dir, ordered by path. A document that
// fails to parse fails the whole load with its path in the error.
func LoadDir(dir string) ([]forge.Descriptor, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".md") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Strings(paths)

	docs := make([]forge.Descriptor, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		d, err := ParseDocument(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		docs = append(docs, d)
	}
	return docs, nil
}
