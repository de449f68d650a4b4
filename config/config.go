// Package config loads mcpforge settings.
//
// Settings come from $XDG_CONFIG_HOME/mcpforge/config.yaml (defaults to
// ~/.config/mcpforge/config.yaml) and are then overridden by environment
// variables. Secrets are only read from the environment.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

const appName = "mcpforge"

type GeneratorConfig struct {
	Model                 string  `yaml:"model" env:"MCPFORGE_GENERATOR_MODEL,overwrite"`
	MaxTokens             int     `yaml:"max_tokens" env:"MCPFORGE_GENERATOR_MAX_TOKENS,overwrite"`
	Temperature           float64 `yaml:"temperature" env:"MCPFORGE_GENERATOR_TEMPERATURE,overwrite"`
	RegenerateTemperature float64 `yaml:"regenerate_temperature" env:"MCPFORGE_GENERATOR_REGENERATE_TEMPERATURE,overwrite"`
	// Offline renders packages from templates instead of calling a model.
	Offline bool   `yaml:"offline" env:"MCPFORGE_OFFLINE,overwrite"`
	APIKey  string `yaml:"-" env:"ANTHROPIC_API_KEY,overwrite"`
}

type NATSConfig struct {
	URL           string `yaml:"url" env:"MCPFORGE_NATS_URL,overwrite"`
	SubjectPrefix string `yaml:"subject_prefix" env:"MCPFORGE_NATS_SUBJECT_PREFIX,overwrite"`
}

type ArchiveConfig struct {
	Endpoint       string `yaml:"endpoint" env:"S3_ENDPOINT,overwrite"`
	Region         string `yaml:"region" env:"S3_REGION,overwrite"`
	Bucket         string `yaml:"bucket" env:"S3_BUCKET,overwrite"`
	Prefix         string `yaml:"prefix" env:"S3_PREFIX,overwrite"`
	DisableTLS     bool   `yaml:"disable_tls" env:"S3_DISABLE_TLS,overwrite"`
	ForcePathStyle bool   `yaml:"force_path_style" env:"S3_FORCE_PATH_STYLE,overwrite"`
	AccessKey      string `yaml:"-" env:"S3_ACCESS_KEY,overwrite"`
	SecretKey      string `yaml:"-" env:"S3_SECRET_KEY,overwrite"`
}

// Enabled reports whether results should be archived.
func (a ArchiveConfig) Enabled() bool {
	return a.Bucket != "" && a.Endpoint != ""
}

type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT,overwrite"`
	ServiceName  string `yaml:"service_name" env:"OTEL_SERVICE_NAME,overwrite"`
}

// Config holds every mcpforge setting.
type Config struct {
	Listen    string `yaml:"listen" env:"MCPFORGE_LISTEN,overwrite"`
	LogLevel  string `yaml:"log_level" env:"MCPFORGE_LOG_LEVEL,overwrite"`
	LogFormat string `yaml:"log_format" env:"MCPFORGE_LOG_FORMAT,overwrite"`

	// MaxRetries is R: a query performs at most R+1 attempts.
	MaxRetries        int           `yaml:"max_retries" env:"MCPFORGE_MAX_RETRIES,overwrite"`
	RetrievalK        int           `yaml:"retrieval_k" env:"MCPFORGE_RETRIEVAL_K,overwrite"`
	LogLimit          int           `yaml:"log_limit" env:"MCPFORGE_LOG_LIMIT,overwrite"`
	SettleInterval    time.Duration `yaml:"settle_interval" env:"MCPFORGE_SETTLE_INTERVAL,overwrite"`
	BuildTimeout      time.Duration `yaml:"build_timeout" env:"MCPFORGE_BUILD_TIMEOUT,overwrite"`
	GenerationTimeout time.Duration `yaml:"generation_timeout" env:"MCPFORGE_GENERATION_TIMEOUT,overwrite"`
	CleanupTimeout    time.Duration `yaml:"cleanup_timeout" env:"MCPFORGE_CLEANUP_TIMEOUT,overwrite"`

	ImagePrefix   string `yaml:"image_prefix" env:"MCPFORGE_IMAGE_PREFIX,overwrite"`
	LabelKey      string `yaml:"label_key" env:"MCPFORGE_LABEL_KEY,overwrite"`
	ContainerPort int    `yaml:"container_port" env:"MCPFORGE_CONTAINER_PORT,overwrite"`
	EndpointHost  string `yaml:"endpoint_host" env:"MCPFORGE_ENDPOINT_HOST,overwrite"`
	StagingDir    string `yaml:"staging_dir" env:"MCPFORGE_STAGING_DIR,overwrite"`
	KnowledgeDB   string `yaml:"knowledge_db" env:"MCPFORGE_KNOWLEDGE_DB,overwrite"`

	Generator GeneratorConfig `yaml:"generator"`
	NATS      NATSConfig      `yaml:"nats"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Listen:            "127.0.0.1:8088",
		LogLevel:          "info",
		LogFormat:         "text",
		MaxRetries:        2,
		RetrievalK:        2,
		LogLimit:          500,
		SettleInterval:    2 * time.Second,
		BuildTimeout:      5 * time.Minute,
		GenerationTimeout: 2 * time.Minute,
		CleanupTimeout:    30 * time.Second,
		ImagePrefix:       "mcp-adapter",
		LabelKey:          "mcpforge.managed",
		ContainerPort:     8080,
		EndpointHost:      "localhost",
		KnowledgeDB:       filepath.Join(dataDir(), "knowledge.db"),
		Generator: GeneratorConfig{
			Model:                 "claude-sonnet-4-5",
			MaxTokens:             2048,
			Temperature:           0.0,
			RegenerateTemperature: 0.1,
		},
		NATS:      NATSConfig{SubjectPrefix: "mcpforge.results"},
		Archive:   ArchiveConfig{Region: "us-east-1", ForcePathStyle: true},
		Telemetry: TelemetryConfig{ServiceName: appName},
	}
}

// Path returns the config file location. It respects XDG_CONFIG_HOME,
// falling back to ~/.config/mcpforge/config.yaml.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".config", appName, "config.yaml")
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, appName, "config.yaml")
}

func dataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".local", "share", appName)
		}
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, appName)
}

// Load reads the config file at Path() and applies the process environment.
func Load(ctx context.Context) (Config, error) {
	return LoadFile(ctx, Path(), envconfig.OsLookuper())
}

// LoadFile reads path, then applies environment overrides from lookuper. A
// missing file yields the defaults.
func LoadFile(ctx context.Context, path string, lookuper envconfig.Lookuper) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return Config{}, fmt.Errorf("apply environment: %w", err)
	}
	if cfg.Generator.APIKey == "" {
		if key, ok := lookuper.Lookup("CLAUDE_API_KEY"); ok {
			cfg.Generator.APIKey = key
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the loop cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max_retries must be >= 0, got %d", c.MaxRetries))
	}
	if c.RetrievalK < 1 {
		errs = append(errs, fmt.Errorf("retrieval_k must be >= 1, got %d", c.RetrievalK))
	}
	if c.BuildTimeout < 30*time.Second {
		errs = append(errs, fmt.Errorf("build_timeout must be at least 30s, got %s", c.BuildTimeout))
	}
	if c.GenerationTimeout < 10*time.Second {
		errs = append(errs, fmt.Errorf("generation_timeout must be at least 10s, got %s", c.GenerationTimeout))
	}
	if c.ContainerPort <= 0 || c.ContainerPort > 65535 {
		errs = append(errs, fmt.Errorf("container_port must be in 1..65535, got %d", c.ContainerPort))
	}
	if c.SettleInterval < 0 || c.CleanupTimeout < 0 {
		errs = append(errs, errors.New("settle_interval and cleanup_timeout must not be negative"))
	}
	if strings.TrimSpace(c.LabelKey) == "" {
		errs = append(errs, errors.New("label_key is required"))
	}
	if c.Generator.Temperature < 0 || c.Generator.RegenerateTemperature < 0 {
		errs = append(errs, errors.New("generator temperatures must not be negative"))
	}
	return errors.Join(errs...)
}
