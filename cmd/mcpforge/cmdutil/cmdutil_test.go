package cmdutil

import (
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"

	"mcpforge/config"
	"mcpforge/internal/generation"
	"mcpforge/internal/knowledge"
)

func TestGeneratorSelection(t *testing.T) {
	cfg := config.Default()
	cfg.Generator.Offline = true
	gen, err := Generator(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := gen.(generation.TemplateGenerator); !ok {
		t.Fatalf("offline generator = %T", gen)
	}

	cfg.Generator.Offline = false
	cfg.Generator.APIKey = ""
	if _, err := Generator(cfg); err == nil {
		t.Fatal("expected missing api key error")
	}

	cfg.Generator.APIKey = "sk-test"
	gen, err = Generator(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := gen.(*generation.LLMGenerator); !ok {
		t.Fatalf("online generator = %T", gen)
	}
}

func TestOpenIndexSeedsOnce(t *testing.T) {
	cfg := config.Default()
	cfg.KnowledgeDB = filepath.Join(t.TempDir(), "knowledge.db")

	ix, err := OpenIndex(t.Context(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	n, err := ix.Count(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if n != len(knowledge.SeedDescriptors()) {
		t.Fatalf("count = %d", n)
	}
	if err := ix.Close(); err != nil {
		t.Fatal(err)
	}

	ix, err = OpenIndex(t.Context(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer ix.Close()
	if m, _ := ix.Count(t.Context()); m != n {
		t.Fatalf("reseeded: %d != %d", m, n)
	}
}

func TestGlobalFlagsOverrideLogging(t *testing.T) {
	t.Setenv("MCPFORGE_LOG_LEVEL", "warn")
	var flags GlobalFlags
	cmd := &cobra.Command{Use: "x"}
	flags.Bind(cmd)
	if err := cmd.ParseFlags([]string{"--config", filepath.Join(t.TempDir(), "none.yaml"), "--log-format", "json"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := flags.LoadConfig(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LogLevel != "warn" || cfg.LogFormat != "json" {
		t.Fatalf("logging = %q/%q", cfg.LogLevel, cfg.LogFormat)
	}
}
