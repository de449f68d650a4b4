package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mcpforge/internal/forge"
	"mcpforge/internal/staging"
	"mcpforge/internal/telemetry"
)

const (
	DefaultContainerPort  = 8080
	DefaultSettleInterval = 2 * time.Second
	DefaultBuildTimeout   = 5 * time.Minute
	DefaultCleanupTimeout = 30 * time.Second
	DefaultEndpointHost   = "localhost"
)

type Config struct {
	ImagePrefix    string
	LabelKey       string
	ContainerPort  uint16
	EndpointHost   string
	SettleInterval time.Duration
	BuildTimeout   time.Duration
	CleanupTimeout time.Duration
	// Env is passed to every container started.
	Env []string
}

func (c Config) withDefaults() Config {
	if c.ImagePrefix == "" {
		c.ImagePrefix = forge.DefaultImagePrefix
	}
	if c.LabelKey == "" {
		c.LabelKey = forge.DefaultLabelKey
	}
	if c.ContainerPort == 0 {
		c.ContainerPort = DefaultContainerPort
	}
	if c.EndpointHost == "" {
		c.EndpointHost = DefaultEndpointHost
	}
	if c.SettleInterval < 0 {
		c.SettleInterval = 0
	}
	if c.BuildTimeout <= 0 {
		c.BuildTimeout = DefaultBuildTimeout
	}
	if c.CleanupTimeout <= 0 {
		c.CleanupTimeout = DefaultCleanupTimeout
	}
	return c
}

// Supervisor runs one build+run attempt at a time per call. It holds no
// per-attempt state, so concurrent queries may share one Supervisor.
type Supervisor struct {
	driver forge.ContainerDriver
	stager Stager
	cfg    Config
	sleep  SleepFunc
	clock  forge.Clock
	tracer trace.Tracer
	log    *slog.Logger
}

type Option func(*Supervisor)

func WithSleep(fn SleepFunc) Option {
	return func(s *Supervisor) {
		if fn != nil {
			s.sleep = fn
		}
	}
}

func WithClock(c forge.Clock) Option {
	return func(s *Supervisor) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Supervisor) { s.tracer = t }
}

func New(driver forge.ContainerDriver, stager Stager, cfg Config, opts ...Option) (*Supervisor, error) {
	if driver == nil {
		return nil, fmt.Errorf("container driver is required")
	}
	if stager == nil {
		return nil, fmt.Errorf("stager is required")
	}
	s := &Supervisor{
		driver: driver,
		stager: stager,
		cfg:    cfg.withDefaults(),
		sleep:  sleepCtx,
		clock:  forge.RealClock{},
		log:    slog.With("component", "supervisor"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Attempt stages, builds and runs art as the deployment called name.
//
// Only a Success outcome carries a Deployment; its container is left running
// and belongs to the caller. Every other exit path, including cancellation of
// ctx, stops and removes any container this call created.
func (s *Supervisor) Attempt(ctx context.Context, art forge.Artifact, name string) forge.Outcome {
	op := s.startOperation(ctx, name)
	if op != nil {
		ctx = op.Context()
	}
	out := s.attempt(ctx, op, art, name)
	op.SetAttributes(attribute.String("mcpforge.attempt.status", out.Status.String()))
	op.End(out.Err)
	return out
}

func (s *Supervisor) attempt(ctx context.Context, op *telemetry.Operation, art forge.Artifact, name string) forge.Outcome {
	log := s.log.With("adapter", name)

	pkg, err := staging.PackageScript(art, s.cfg.ContainerPort)
	if err != nil {
		return failure(err, "")
	}

	var handle *staging.Handle
	err = op.RunStep(ctx, "stage", func(ctx context.Context) error {
		var err error
		handle, err = s.stager.Stage(ctx, pkg)
		return err
	})
	if err != nil {
		log.Debug("stage failed", "err", err)
		return failure(err, "")
	}
	defer handle.Cleanup()

	tag := forge.ImageTag(s.cfg.ImagePrefix, name)
	labels := forge.Labels(s.cfg.LabelKey, name)

	var built forge.BuildResult
	err = op.RunStep(ctx, "build", func(ctx context.Context) error {
		buildCtx, cancel := context.WithTimeout(ctx, s.cfg.BuildTimeout)
		defer cancel()
		var err error
		built, err = s.driver.Build(buildCtx, handle.Dir, forge.BuildRequest{
			Tag:        tag,
			Dockerfile: handle.BuildDefinition,
			Labels:     labels,
		})
		if err != nil && errors.Is(buildCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return &forge.TransportError{Op: "build image", Err: fmt.Errorf("timed out after %s: %w", s.cfg.BuildTimeout, context.DeadlineExceeded)}
		}
		return err
	})
	// The image now holds a copy of the context.
	handle.Cleanup()
	if err != nil {
		log.Info("build failed", "tag", tag, "err", err)
		return failure(err, built.Logs)
	}

	var h forge.ContainerHandle
	err = op.RunStep(ctx, "run", func(ctx context.Context) error {
		var err error
		h, err = s.driver.Run(ctx, forge.RunRequest{
			Image:         tag,
			Name:          forge.ContainerName(name),
			ContainerPort: s.cfg.ContainerPort,
			Env:           s.cfg.Env,
			Labels:        labels,
		})
		return err
	})
	if err != nil {
		log.Info("run failed", "image", tag, "err", err)
		return failure(err, built.Logs)
	}

	handedOff := false
	defer func() {
		if !handedOff {
			s.release(ctx, h)
		}
	}()

	if err := s.sleep(ctx, s.cfg.SettleInterval); err != nil {
		return failure(&forge.TransportError{Op: "wait for container", Err: err}, "")
	}

	var state forge.ContainerState
	err = op.RunStep(ctx, "inspect", func(ctx context.Context) error {
		var err error
		state, err = s.driver.Inspect(ctx, h)
		return err
	})
	if err != nil {
		return failure(err, "")
	}
	if !state.Running {
		log.Info("container not running", "container", h.Name, "status", state.Status)
		return failure(&forge.RuntimeError{
			Message: fmt.Sprintf("container %s is %s, not running", h.Name, statusOrUnknown(state.Status)),
			Logs:    state.Logs,
		}, state.Logs)
	}
	if state.HostPort == 0 {
		log.Info("container port not published", "container", h.Name, "port", s.cfg.ContainerPort)
		return failure(&forge.RuntimeError{
			Message: fmt.Sprintf("container %s is running but port %d/tcp has no host mapping", h.Name, s.cfg.ContainerPort),
			Logs:    state.Logs,
		}, state.Logs)
	}

	endpoint := fmt.Sprintf("http://%s:%d", s.cfg.EndpointHost, state.HostPort)
	handedOff = true
	log.Info("deployment running", "container", h.Name, "endpoint", endpoint)
	return forge.Outcome{
		Status:   forge.StatusSuccess,
		Logs:     built.Logs,
		Endpoint: endpoint,
		Deployment: &forge.Deployment{
			ContainerID:   h.ID,
			ContainerName: h.Name,
			Name:          name,
			ImageTag:      tag,
			Endpoint:      endpoint,
			HostPort:      state.HostPort,
			Status:        forge.DeploymentRunning,
			CreatedAt:     s.clock.Now(),
		},
	}
}

// release stops and removes a container that was not handed off. It runs
// even when ctx is already cancelled.
func (s *Supervisor) release(ctx context.Context, h forge.ContainerHandle) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CleanupTimeout)
	defer cancel()
	s.driver.Stop(cleanupCtx, h)
	s.driver.Remove(cleanupCtx, h)
	s.log.Debug("released container", "container", h.Name, "id", h.ID)
}

func (s *Supervisor) startOperation(ctx context.Context, name string) *telemetry.Operation {
	if s.tracer == nil {
		return nil
	}
	op, err := telemetry.EmitPlan(ctx, s.tracer, "attempt", telemetry.Plan{Steps: []telemetry.PlannedStep{
		{ID: "stage", Title: "Stage artifact"},
		{ID: "build", Title: "Build image"},
		{ID: "run", Title: "Start container"},
		{ID: "inspect", Title: "Inspect container"},
	}}, attribute.String("mcpforge.adapter", name))
	if err != nil {
		s.log.Debug("emit attempt plan", "err", err)
		return nil
	}
	return op
}

// failure builds a non-success outcome. logs falls back to the logs carried
// by err, then to its message, so a failed attempt always has diagnostics.
func failure(err error, logs string) forge.Outcome {
	var (
		be *forge.BuildError
		re *forge.RuntimeError
	)
	switch {
	case errors.As(err, &be) && be.Logs != "":
		logs = be.Logs
	case errors.As(err, &re) && re.Logs != "":
		logs = re.Logs
	}
	if logs == "" {
		logs = err.Error()
	} else if !errors.As(err, &be) {
		logs = logs + "\n" + err.Error()
	}
	return forge.Outcome{Status: forge.StatusFor(err), Logs: logs, Err: err}
}

func statusOrUnknown(status string) string {
	if status == "" {
		return "unknown"
	}
	return status
}
