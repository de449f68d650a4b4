package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"mcpforge/internal/forge"
)

var (
	_ forge.ContainerDriver = (*Driver)(nil)
	_ forge.Operator        = (*Driver)(nil)
	_ engineAPI             = (*client.Client)(nil)
)

const (
	defaultLogTail      = 200
	defaultStopTimeout  = 10 * time.Second
	defaultPingTimeout  = 5 * time.Second
	defaultEndpointHost = "localhost"
)

// engineAPI is the subset of the Docker client the driver calls. The client
// is safe for concurrent use, so one Driver serves every in-flight query.
type engineAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	ImageBuild(ctx context.Context, buildContext io.Reader, options build.ImageBuildOptions) (build.ImageBuildResponse, error)
	ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error)
	ImageRemove(ctx context.Context, imageID string, options image.RemoveOptions) ([]image.DeleteResponse, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	Close() error
}

// Driver implements forge.ContainerDriver and forge.Operator over the Docker
// Engine API.
type Driver struct {
	api          engineAPI
	log          *slog.Logger
	endpointHost string
	logTail      int
	stopTimeout  time.Duration
}

type Option func(*Driver)

// WithEndpointHost sets the host used in operator endpoint URLs.
func WithEndpointHost(host string) Option {
	return func(d *Driver) {
		if host != "" {
			d.endpointHost = host
		}
	}
}

// WithLogTail bounds how many container log lines Inspect captures.
func WithLogTail(lines int) Option {
	return func(d *Driver) {
		if lines > 0 {
			d.logTail = lines
		}
	}
}

func WithStopTimeout(timeout time.Duration) Option {
	return func(d *Driver) {
		if timeout > 0 {
			d.stopTimeout = timeout
		}
	}
}

// Connect creates a client from the environment and pings the daemon. An
// unreachable daemon fails here with forge.ErrDriverUnavailable instead of on
// the first query.
func Connect(ctx context.Context, opts ...Option) (*Driver, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("%w: create docker client: %v", forge.ErrDriverUnavailable, err)
	}
	d := newDriver(cli, opts...)

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := d.Ping(pingCtx); err != nil {
		_ = cli.Close()
		return nil, err
	}
	d.log.Debug("docker daemon reachable")
	return d, nil
}

// NewDriverFromClient wraps an existing Docker client without pinging it.
func NewDriverFromClient(cli *client.Client, opts ...Option) *Driver {
	return newDriver(cli, opts...)
}

func newDriver(api engineAPI, opts ...Option) *Driver {
	d := &Driver{
		api:          api,
		log:          slog.With("component", "docker"),
		endpointHost: defaultEndpointHost,
		logTail:      defaultLogTail,
		stopTimeout:  defaultStopTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Ping reports whether the daemon answers. Any failure wraps
// forge.ErrDriverUnavailable.
func (d *Driver) Ping(ctx context.Context) error {
	if _, err := d.api.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", forge.ErrDriverUnavailable, err)
	}
	return nil
}

func (d *Driver) Close() error {
	return d.api.Close()
}

// transportErr classifies err as a transport failure when the daemon could
// not be reached or the context ended. It returns nil otherwise.
func transportErr(op string, err error) error {
	switch {
	case client.IsErrConnectionFailed(err):
		return &forge.TransportError{Op: op, Err: errors.Join(forge.ErrDriverUnavailable, err)}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return &forge.TransportError{Op: op, Err: err}
	default:
		return nil
	}
}
