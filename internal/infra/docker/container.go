package docker

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"mcpforge/internal/forge"
)

// Run creates and starts a container with ContainerPort published on an
// OS-assigned host port. A container that was created but failed to start is
// removed before returning.
func (d *Driver) Run(ctx context.Context, req forge.RunRequest) (forge.ContainerHandle, error) {
	port := containerPort(req.ContainerPort)
	cc := &container.Config{
		Image:        req.Image,
		Env:          req.Env,
		Labels:       req.Labels,
		ExposedPorts: nat.PortSet{port: struct{}{}},
	}
	hc := &container.HostConfig{
		PortBindings: nat.PortMap{
			port: []nat.PortBinding{{HostIP: "", HostPort: ""}},
		},
	}

	created, err := d.api.ContainerCreate(ctx, cc, hc, nil, nil, req.Name)
	if err != nil {
		if terr := transportErr("create container", err); terr != nil {
			return forge.ContainerHandle{}, terr
		}
		return forge.ContainerHandle{}, &forge.RuntimeError{
			Message: fmt.Sprintf("create container from %s", req.Image),
			Err:     err,
		}
	}
	h := forge.ContainerHandle{ID: created.ID, Name: req.Name, ContainerPort: req.ContainerPort}

	if err := d.api.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		logs := d.logs(context.WithoutCancel(ctx), created.ID)
		d.Remove(context.WithoutCancel(ctx), h)
		if terr := transportErr("start container", err); terr != nil {
			return forge.ContainerHandle{}, terr
		}
		return forge.ContainerHandle{}, &forge.RuntimeError{
			Message: fmt.Sprintf("start container %s", req.Name),
			Logs:    logs,
			Err:     err,
		}
	}
	d.log.Info("container started", "container", req.Name, "id", shortID(created.ID), "image", req.Image)
	return h, nil
}

// Inspect reports the container's state, its mapped host port, and its recent
// logs.
func (d *Driver) Inspect(ctx context.Context, h forge.ContainerHandle) (forge.ContainerState, error) {
	info, err := d.api.ContainerInspect(ctx, h.ID)
	if err != nil {
		if terr := transportErr("inspect container", err); terr != nil {
			return forge.ContainerState{}, terr
		}
		if errdefs.IsNotFound(err) {
			return forge.ContainerState{}, &forge.RuntimeError{Message: fmt.Sprintf("container %s disappeared", h.Name), Err: err}
		}
		return forge.ContainerState{}, &forge.RuntimeError{Message: fmt.Sprintf("inspect container %s", h.Name), Err: err}
	}

	var state forge.ContainerState
	if info.ContainerJSONBase != nil && info.State != nil {
		state.Status = string(info.State.Status)
		state.Running = info.State.Running
	}
	if info.NetworkSettings != nil {
		state.HostPort = hostPort(info.NetworkSettings.Ports, containerPort(h.ContainerPort))
	}
	state.Logs = d.logs(ctx, h.ID)
	return state, nil
}

// Stop stops the container. Errors are logged, never returned.
func (d *Driver) Stop(ctx context.Context, h forge.ContainerHandle) {
	timeout := int(d.stopTimeout.Seconds())
	if err := d.api.ContainerStop(ctx, h.ID, container.StopOptions{Timeout: &timeout}); err != nil {
		if errdefs.IsNotFound(err) {
			return
		}
		d.log.Warn("stop container", "container", h.Name, "id", shortID(h.ID), "err", err)
	}
}

// Remove force-removes the container. Errors are logged, never returned.
func (d *Driver) Remove(ctx context.Context, h forge.ContainerHandle) {
	err := d.api.ContainerRemove(ctx, h.ID, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err == nil || errdefs.IsNotFound(err) {
		return
	}
	// Removal already in progress.
	if errdefs.IsConflict(err) {
		return
	}
	d.log.Warn("remove container", "container", h.Name, "id", shortID(h.ID), "err", err)
}

func (d *Driver) logs(ctx context.Context, id string) string {
	rc, err := d.api.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(d.logTail),
	})
	if err != nil {
		d.log.Debug("container logs", "id", shortID(id), "err", err)
		return ""
	}
	defer rc.Close()

	var out bytes.Buffer
	// Non-TTY containers multiplex stdout and stderr.
	if _, err := stdcopy.StdCopy(&out, &out, rc); err != nil {
		d.log.Debug("demux container logs", "id", shortID(id), "err", err)
	}
	return strings.TrimSpace(out.String())
}

func containerPort(port uint16) nat.Port {
	return nat.Port(fmt.Sprintf("%d/tcp", port))
}

// hostPort returns the first published host port for port, or zero.
func hostPort(ports nat.PortMap, port nat.Port) uint16 {
	for _, binding := range ports[port] {
		p, err := strconv.ParseUint(binding.HostPort, 10, 16)
		if err == nil && p > 0 {
			return uint16(p)
		}
	}
	return 0
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
