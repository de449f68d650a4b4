package generation

import (
	"errors"
	"regexp"
	"strings"

	"mcpforge/internal/forge"
)

var (
	thinkingBlock = regexp.MustCompile(`(?s)<thinking>.*?</thinking>`)
	fileBlock     = regexp.MustCompile(`(?s)<file\s+path\s*=\s*"([^"]+)"\s*>(.*?)</file>`)
	fencedBlock   = regexp.MustCompile("(?s)```[A-Za-z0-9_+-]*[ \t]*\r?\n(.*?)```")
)

var errEmptyResponse = errors.New("model response contains no artifact")

// ExtractArtifact turns a model response into an artifact. Reasoning blocks
// are dropped. File blocks become a package; otherwise the first fenced code
// block (or the whole response) is used, and content that reads as a
// Dockerfile becomes a single-file package.
func ExtractArtifact(response string) (forge.Artifact, error) {
	text := thinkingBlock.ReplaceAllString(response, "")

	if blocks := fileBlock.FindAllStringSubmatch(text, -1); len(blocks) > 0 {
		files := make(map[string]string, len(blocks))
		for _, m := range blocks {
			path := strings.TrimSpace(m[1])
			files[path] = strings.TrimRight(unfence(strings.Trim(m[2], "\r\n")), "\r\n") + "\n"
		}
		return forge.PackageArtifact(files), nil
	}

	body := strings.TrimSpace(unfence(text))
	if body == "" {
		return forge.Artifact{}, errEmptyResponse
	}
	if looksLikeDockerfile(body) {
		return forge.PackageArtifact(map[string]string{"Dockerfile": body + "\n"}), nil
	}
	return forge.ScriptArtifact(body + "\n"), nil
}

func unfence(s string) string {
	if m := fencedBlock.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

// looksLikeDockerfile reports whether the first instruction, skipping
// comments and parser directives, is FROM or ARG.
func looksLikeDockerfile(s string) bool {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		word, _, _ := strings.Cut(line, " ")
		switch strings.ToUpper(word) {
		case "FROM", "ARG":
			return true
		}
		return false
	}
	return false
}
