package forge

import (
	"encoding/json"
	"fmt"
	"strings"
)

// InstallationType tells the generator how a described service is installed.
type InstallationType uint8

const (
	InstallInterpreted InstallationType = iota + 1
	InstallCompiled
	InstallContainerized
)

func (t InstallationType) String() string {
	switch t {
	case InstallInterpreted:
		return "interpreted"
	case InstallCompiled:
		return "compiled"
	case InstallContainerized:
		return "containerized"
	default:
		return "unknown"
	}
}

func (t InstallationType) IsValid() bool {
	switch t {
	case InstallInterpreted, InstallCompiled, InstallContainerized:
		return true
	default:
		return false
	}
}

// ParseInstallationType accepts the canonical names plus the language and
// runtime aliases found in descriptor documents ("python", "node", "docker").
func ParseInstallationType(raw string) (InstallationType, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "interpreted", "interpreted-language", "python", "node", "nodejs", "npm", "pip":
		return InstallInterpreted, true
	case "compiled", "compiled-binary", "binary", "go", "rust":
		return InstallCompiled, true
	case "containerized", "container", "docker", "oci":
		return InstallContainerized, true
	default:
		return 0, false
	}
}

func (t InstallationType) MarshalJSON() ([]byte, error) {
	if !t.IsValid() {
		return nil, fmt.Errorf("invalid installation type: %d", t)
	}
	return json.Marshal(t.String())
}

func (t *InstallationType) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	next, ok := ParseInstallationType(raw)
	if !ok {
		return fmt.Errorf("invalid installation type: %q", raw)
	}
	*t = next
	return nil
}

// Example is one usage sample attached to a descriptor.
type Example struct {
	UserQuery string `json:"user_query" yaml:"user_query"`
	Code      string `json:"code" yaml:"code"`
}

// Descriptor is a knowledge-base record describing a service that can be
// deployed. Descriptors are immutable once retrieved.
type Descriptor struct {
	Name                 string           `json:"name"`
	Description          string           `json:"description"`
	InstallationType     InstallationType `json:"installation_type"`
	RepositoryURL        string           `json:"repository_url,omitempty"`
	DocumentationSummary string           `json:"documentation_summary,omitempty"`
	RequiredEnvVars      []string         `json:"required_env_vars,omitempty"`
	Examples             []Example        `json:"examples,omitempty"`
}

// Validate checks the fields every stage of the loop relies on.
func (d Descriptor) Validate() error {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return fmt.Errorf("descriptor name is required")
	}
	if strings.ContainsAny(name, " \t\n\r") {
		return fmt.Errorf("descriptor name %q must not contain whitespace", name)
	}
	if strings.TrimSpace(d.Description) == "" {
		return fmt.Errorf("descriptor %q: description is required", name)
	}
	if !d.InstallationType.IsValid() {
		return fmt.Errorf("descriptor %q: installation type is required", name)
	}
	for _, env := range d.RequiredEnvVars {
		if strings.TrimSpace(env) == "" {
			return fmt.Errorf("descriptor %q: empty required env var name", name)
		}
	}
	return nil
}
