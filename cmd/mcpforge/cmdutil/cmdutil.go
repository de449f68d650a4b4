// Package cmdutil assembles the runtime stack shared by mcpforge commands.
package cmdutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"mcpforge/config"
	"mcpforge/internal/archive"
	"mcpforge/internal/coordinator"
	"mcpforge/internal/events"
	"mcpforge/internal/forge"
	"mcpforge/internal/generation"
	"mcpforge/internal/infra/docker"
	"mcpforge/internal/knowledge"
	"mcpforge/internal/staging"
	"mcpforge/internal/supervisor"
	"mcpforge/internal/telemetry"
)

// GlobalFlags are bound to the root command and read by every subcommand.
type GlobalFlags struct {
	ConfigPath    string
	LogLevel      string
	LogFormat     string
	NoInteraction bool
}

func (f *GlobalFlags) Bind(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.ConfigPath, "config", config.Path(), "Config file path")
	cmd.PersistentFlags().StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&f.LogFormat, "log-format", "", "Log format (text, json)")
	cmd.PersistentFlags().BoolVar(&f.NoInteraction, "no-interaction", false, "Disable styled output")
}

// LoadConfig reads the config file named by the flags, applies the process
// environment and then any explicit flag overrides.
func (f *GlobalFlags) LoadConfig(ctx context.Context) (config.Config, error) {
	cfg, err := config.LoadFile(ctx, f.ConfigPath, envconfig.OsLookuper())
	if err != nil {
		return config.Config{}, err
	}
	if strings.TrimSpace(f.LogLevel) != "" {
		cfg.LogLevel = f.LogLevel
	}
	if strings.TrimSpace(f.LogFormat) != "" {
		cfg.LogFormat = f.LogFormat
	}
	return cfg, nil
}

// Stack is the fully wired deployment loop.
type Stack struct {
	Config      config.Config
	Driver      *docker.Driver
	Index       *knowledge.Index
	Coordinator *coordinator.Coordinator
	Registry    *prometheus.Registry
	Tracer      trace.Tracer

	closers []func(context.Context) error
}

// Open connects every backend the configuration names. Optional sinks that
// fail to connect are logged and skipped; the runtime, index and generator
// are required.
func Open(ctx context.Context, cfg config.Config) (_ *Stack, err error) {
	s := &Stack{Config: cfg, Registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			s.Close(context.WithoutCancel(ctx))
		}
	}()

	tracer, shutdown, err := telemetry.Setup(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return nil, err
	}
	s.Tracer = tracer
	s.closers = append(s.closers, shutdown)

	s.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(s.Registry)

	s.Driver, err = docker.Connect(ctx, docker.WithEndpointHost(cfg.EndpointHost))
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, func(context.Context) error { return s.Driver.Close() })

	s.Index, err = OpenIndex(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, func(context.Context) error { return s.Index.Close() })

	gen, err := Generator(cfg)
	if err != nil {
		return nil, err
	}

	sup, err := supervisor.New(s.Driver, staging.NewStore(cfg.StagingDir), supervisor.Config{
		ImagePrefix:    cfg.ImagePrefix,
		LabelKey:       cfg.LabelKey,
		ContainerPort:  uint16(cfg.ContainerPort),
		EndpointHost:   cfg.EndpointHost,
		SettleInterval: cfg.SettleInterval,
		BuildTimeout:   cfg.BuildTimeout,
		CleanupTimeout: cfg.CleanupTimeout,
	}, supervisor.WithTracer(tracer))
	if err != nil {
		return nil, err
	}

	s.Coordinator, err = coordinator.New(s.Index, gen, sup, coordinator.Config{
		MaxRetries:        cfg.MaxRetries,
		RetrievalK:        cfg.RetrievalK,
		GenerationTimeout: cfg.GenerationTimeout,
		LogLimit:          cfg.LogLimit,
	},
		coordinator.WithClassifier(coordinator.DriverProbe{Driver: s.Driver}),
		coordinator.WithSinks(s.sinks(ctx, cfg)...),
		coordinator.WithMetrics(metrics),
		coordinator.WithTracer(tracer),
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Stack) sinks(ctx context.Context, cfg config.Config) []coordinator.ResultSink {
	var sinks []coordinator.ResultSink
	if cfg.NATS.URL != "" {
		pub, err := events.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			slog.Warn("result events disabled", "err", err)
		} else {
			sinks = append(sinks, pub)
			s.closers = append(s.closers, func(context.Context) error { pub.Close(); return nil })
		}
	}
	if cfg.Archive.Enabled() {
		sink, err := archive.New(ctx, archive.Config{
			Endpoint:       cfg.Archive.Endpoint,
			Region:         cfg.Archive.Region,
			Bucket:         cfg.Archive.Bucket,
			Prefix:         cfg.Archive.Prefix,
			AccessKey:      cfg.Archive.AccessKey,
			SecretKey:      cfg.Archive.SecretKey,
			DisableTLS:     cfg.Archive.DisableTLS,
			ForcePathStyle: cfg.Archive.ForcePathStyle,
		})
		if err != nil {
			slog.Warn("result archive disabled", "err", err)
		} else {
			sinks = append(sinks, sink)
		}
	}
	return sinks
}

// Close releases backends in reverse order of opening.
func (s *Stack) Close(ctx context.Context) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			slog.Debug("close stack component", "err", err)
		}
	}
	s.closers = nil
}

// OpenIndex opens the knowledge index, seeding the bundled descriptors when
// it is empty.
func OpenIndex(ctx context.Context, cfg config.Config) (*knowledge.Index, error) {
	ix, err := knowledge.Open(cfg.KnowledgeDB)
	if err != nil {
		return nil, fmt.Errorf("open knowledge index: %w", err)
	}
	n, err := ix.Count(ctx)
	if err != nil {
		_ = ix.Close()
		return nil, err
	}
	if n == 0 {
		if err := ix.Upsert(ctx, knowledge.SeedDescriptors()...); err != nil {
			_ = ix.Close()
			return nil, fmt.Errorf("seed knowledge index: %w", err)
		}
		slog.Info("seeded empty knowledge index", "descriptors", len(knowledge.SeedDescriptors()))
	}
	return ix, nil
}

// Generator picks the artifact generator for cfg.
func Generator(cfg config.Config) (forge.Generator, error) {
	port := uint16(cfg.ContainerPort)
	if cfg.Generator.Offline {
		return generation.TemplateGenerator{Port: port}, nil
	}
	if cfg.Generator.APIKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY is not set; export it or run with --offline")
	}
	return generation.NewAnthropic(cfg.Generator.APIKey,
		generation.WithModel(cfg.Generator.Model),
		generation.WithMaxTokens(cfg.Generator.MaxTokens),
		generation.WithTemperatures(cfg.Generator.Temperature, cfg.Generator.RegenerateTemperature),
		generation.WithContainerPort(port),
	)
}

// ConnectDriver connects to the container runtime only, for operator
// commands that never build.
func ConnectDriver(ctx context.Context, cfg config.Config) (*docker.Driver, error) {
	return docker.Connect(ctx, docker.WithEndpointHost(cfg.EndpointHost))
}
