package fake

import (
	"context"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"mcpforge/internal/adapter/fake/fault"
	"mcpforge/internal/forge"
)

var (
	_ forge.ContainerDriver = (*ContainerDriver)(nil)
	_ forge.Operator        = (*ContainerDriver)(nil)
)

const firstHostPort = 49152

type containerState struct {
	Handle  forge.ContainerHandle
	Image   string
	Labels  map[string]string
	Running bool
	Port    uint16
	Created time.Time
}

// BuildContext is a snapshot of a staged directory taken when Build ran.
type BuildContext struct {
	Tag   string
	Files map[string]string
	Modes map[string]fs.FileMode
}

// ContainerDriver is an in-memory forge.ContainerDriver and forge.Operator.
// Builds succeed and containers run with a published port unless a hook,
// the fault injector, or one of the behaviour flags says otherwise.
type ContainerDriver struct {
	CallRecorder
	mu         sync.Mutex
	containers map[string]*containerState
	images     map[string]map[string]string
	builds     []BuildContext
	nextID     int

	Faults *fault.Injector

	BuildLogs     string
	ContainerLogs string
	// StartExited makes new containers exit immediately after start.
	StartExited bool
	// UnpublishedPort makes Inspect report no host port mapping.
	UnpublishedPort bool

	PingErr    func(ctx context.Context) error
	BuildErr   func(ctx context.Context, contextDir string, req forge.BuildRequest) error
	RunErr     func(ctx context.Context, req forge.RunRequest) error
	InspectErr func(ctx context.Context, h forge.ContainerHandle) error
}

func NewContainerDriver() *ContainerDriver {
	return &ContainerDriver{
		containers: make(map[string]*containerState),
		images:     make(map[string]map[string]string),
		BuildLogs:  "Step 1/1 : FROM scratch\nSuccessfully built fake\n",
	}
}

func (d *ContainerDriver) Ping(ctx context.Context) error {
	d.record("Ping")
	if err := d.Faults.Eval(fault.PointPing); err != nil {
		return err
	}
	if d.PingErr != nil {
		return d.PingErr(ctx)
	}
	return nil
}

func (d *ContainerDriver) Build(ctx context.Context, contextDir string, req forge.BuildRequest) (forge.BuildResult, error) {
	d.record("Build", req.Tag, req.Dockerfile)
	snap, err := snapshot(contextDir)
	if err != nil {
		return forge.BuildResult{}, &forge.BuildError{Err: err}
	}
	snap.Tag = req.Tag

	d.mu.Lock()
	d.builds = append(d.builds, snap)
	d.mu.Unlock()

	if err := d.Faults.Eval(fault.PointBuild, req.Tag); err != nil {
		return forge.BuildResult{}, err
	}
	if d.BuildErr != nil {
		if err := d.BuildErr(ctx, contextDir, req); err != nil {
			return forge.BuildResult{}, err
		}
	}
	if err := ctx.Err(); err != nil {
		return forge.BuildResult{}, &forge.TransportError{Op: "build image", Err: err}
	}
	if _, ok := snap.Files[req.Dockerfile]; !ok {
		return forge.BuildResult{}, &forge.BuildError{Logs: fmt.Sprintf("cannot locate specified Dockerfile: %s", req.Dockerfile)}
	}

	d.mu.Lock()
	d.images[req.Tag] = maps.Clone(req.Labels)
	d.mu.Unlock()
	return forge.BuildResult{Logs: d.BuildLogs}, nil
}

func (d *ContainerDriver) Run(ctx context.Context, req forge.RunRequest) (forge.ContainerHandle, error) {
	d.record("Run", req.Image, req.Name)
	if err := d.Faults.Eval(fault.PointRun, req.Image); err != nil {
		return forge.ContainerHandle{}, err
	}
	if d.RunErr != nil {
		if err := d.RunErr(ctx, req); err != nil {
			return forge.ContainerHandle{}, err
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.images[req.Image]; !ok {
		return forge.ContainerHandle{}, &forge.RuntimeError{Message: fmt.Sprintf("image %s not found", req.Image)}
	}
	d.nextID++
	h := forge.ContainerHandle{
		ID:            fmt.Sprintf("fake-%04d", d.nextID),
		Name:          req.Name,
		ContainerPort: req.ContainerPort,
	}
	d.containers[h.ID] = &containerState{
		Handle:  h,
		Image:   req.Image,
		Labels:  maps.Clone(req.Labels),
		Running: !d.StartExited,
		Port:    uint16(firstHostPort + d.nextID),
		Created: time.Now(),
	}
	return h, nil
}

func (d *ContainerDriver) Inspect(ctx context.Context, h forge.ContainerHandle) (forge.ContainerState, error) {
	d.record("Inspect", h.ID)
	if err := d.Faults.Eval(fault.PointInspect, h.ID); err != nil {
		return forge.ContainerState{}, err
	}
	if d.InspectErr != nil {
		if err := d.InspectErr(ctx, h); err != nil {
			return forge.ContainerState{}, err
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	cs, ok := d.containers[h.ID]
	if !ok {
		return forge.ContainerState{}, &forge.RuntimeError{Message: fmt.Sprintf("container %s disappeared", h.ID)}
	}
	state := forge.ContainerState{Status: "exited", Running: cs.Running, Logs: d.ContainerLogs}
	if cs.Running {
		state.Status = "running"
		if !d.UnpublishedPort {
			state.HostPort = cs.Port
		}
	}
	return state, nil
}

// Stop never fails; stopping an unknown container is a no-op.
func (d *ContainerDriver) Stop(_ context.Context, h forge.ContainerHandle) {
	d.record("Stop", h.ID)
	d.mu.Lock()
	defer d.mu.Unlock()
	if cs, ok := d.containers[h.ID]; ok {
		cs.Running = false
	}
}

// Remove never fails; removing an unknown container is a no-op.
func (d *ContainerDriver) Remove(_ context.Context, h forge.ContainerHandle) {
	d.record("Remove", h.ID)
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.containers, h.ID)
}

func (d *ContainerDriver) ListByLabel(_ context.Context, label string) ([]forge.ContainerSummary, error) {
	d.record("ListByLabel", label)
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []forge.ContainerSummary
	for _, cs := range d.containers {
		if _, ok := cs.Labels[label]; !ok {
			continue
		}
		status := "exited"
		if cs.Running {
			status = "running"
		}
		out = append(out, forge.ContainerSummary{
			ID:        cs.Handle.ID,
			Name:      cs.Handle.Name,
			Adapter:   cs.Labels[forge.LabelAdapter],
			Status:    status,
			Running:   cs.Running,
			Image:     cs.Image,
			Port:      cs.Port,
			Endpoint:  fmt.Sprintf("http://localhost:%d", cs.Port),
			CreatedAt: cs.Created,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *ContainerDriver) StopContainer(_ context.Context, label, id string) error {
	d.record("StopContainer", label, id)
	d.mu.Lock()
	defer d.mu.Unlock()
	cs, ok := d.containers[id]
	if !ok {
		return fmt.Errorf("container %q: %w", id, forge.ErrDeploymentNotFound)
	}
	if _, ok := cs.Labels[label]; !ok {
		return fmt.Errorf("container %q is not labelled %s: %w", id, label, forge.ErrDeploymentNotFound)
	}
	delete(d.containers, id)
	return nil
}

func (d *ContainerDriver) RemoveAll(_ context.Context, label string) (forge.PruneReport, error) {
	d.record("RemoveAll", label)
	d.mu.Lock()
	defer d.mu.Unlock()

	var report forge.PruneReport
	for id, cs := range d.containers {
		if _, ok := cs.Labels[label]; ok {
			delete(d.containers, id)
			report.Containers++
		}
	}
	for tag, labels := range d.images {
		if _, ok := labels[label]; ok {
			delete(d.images, tag)
			report.Images++
		}
	}
	return report, nil
}

// AddContainer seeds a running container, e.g. one not created by mcpforge.
func (d *ContainerDriver) AddContainer(id, name string, labels map[string]string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	d.containers[id] = &containerState{
		Handle:  forge.ContainerHandle{ID: id, Name: name},
		Labels:  maps.Clone(labels),
		Running: true,
		Port:    uint16(firstHostPort + d.nextID),
		Created: time.Now(),
	}
}

// Live returns the ids of containers that exist, running or not.
func (d *ContainerDriver) Live() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.containers))
	for id := range d.containers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Images returns the tags of built images.
func (d *ContainerDriver) Images() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.images))
	for tag := range d.images {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// Builds returns the staged contexts seen by Build, in order.
func (d *ContainerDriver) Builds() []BuildContext {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]BuildContext, len(d.builds))
	copy(out, d.builds)
	return out
}

func snapshot(dir string) (BuildContext, error) {
	snap := BuildContext{Files: map[string]string{}, Modes: map[string]fs.FileMode{}}
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		snap.Files[key] = string(data)
		snap.Modes[key] = info.Mode().Perm()
		return nil
	})
	if err != nil {
		return BuildContext{}, fmt.Errorf("read build context %s: %w", dir, err)
	}
	return snap, nil
}
