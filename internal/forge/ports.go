package forge

import (
	"context"
	"time"
)

// Clock abstracts time.Now() for deterministic testing.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the system clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// Retriever maps a query to ranked candidate descriptors. An empty result is
// a valid "no match" outcome, not an error.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]Descriptor, error)
}

// Generator synthesizes deployable artifacts. Regenerate receives the full
// failure history ordered by attempt number, logs already truncated.
type Generator interface {
	Generate(ctx context.Context, query string, docs []Descriptor) (Artifact, error)
	Regenerate(ctx context.Context, query string, docs []Descriptor, previous Artifact, failures []AttemptRecord) (Artifact, error)
}

// BuildRequest describes one image build from a staged context directory.
type BuildRequest struct {
	Tag        string
	Dockerfile string
	Labels     map[string]string
}

type BuildResult struct {
	Logs string
}

// RunRequest starts a container with ContainerPort bound to an OS-assigned
// host port.
type RunRequest struct {
	Image         string
	Name          string
	ContainerPort uint16
	Env           []string
	Labels        map[string]string
}

// ContainerHandle identifies a container created by Run.
type ContainerHandle struct {
	ID            string
	Name          string
	ContainerPort uint16
}

// ContainerState is the result of inspecting a container. HostPort is zero
// when the container port has no host mapping.
type ContainerState struct {
	Status   string
	Running  bool
	HostPort uint16
	Logs     string
}

// ContainerDriver wraps a container runtime. Build fails with *BuildError,
// Run and Inspect with *RuntimeError, and any of them with *TransportError
// when the runtime cannot be reached. Stop and Remove are idempotent and never
// fail the caller's flow.
type ContainerDriver interface {
	Ping(ctx context.Context) error
	Build(ctx context.Context, contextDir string, req BuildRequest) (BuildResult, error)
	Run(ctx context.Context, req RunRequest) (ContainerHandle, error)
	Inspect(ctx context.Context, h ContainerHandle) (ContainerState, error)
	Stop(ctx context.Context, h ContainerHandle)
	Remove(ctx context.Context, h ContainerHandle)
}

// Operator is the driver surface used to reclaim handed-off deployments.
// Every call filters by a namespacing label so unrelated containers on the
// host are never touched.
type Operator interface {
	ListByLabel(ctx context.Context, label string) ([]ContainerSummary, error)
	StopContainer(ctx context.Context, label, id string) error
	RemoveAll(ctx context.Context, label string) (PruneReport, error)
}
