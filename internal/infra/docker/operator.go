package docker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"

	"mcpforge/internal/forge"
)

// ListByLabel lists every container, running or not, that carries label.
func (d *Driver) ListByLabel(ctx context.Context, label string) ([]forge.ContainerSummary, error) {
	if strings.TrimSpace(label) == "" {
		return nil, fmt.Errorf("label is required")
	}
	containers, err := d.api.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", label)),
	})
	if err != nil {
		if terr := transportErr("list containers", err); terr != nil {
			return nil, terr
		}
		return nil, fmt.Errorf("list containers: %w", err)
	}

	out := make([]forge.ContainerSummary, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		s := forge.ContainerSummary{
			ID:        c.ID,
			Name:      name,
			Adapter:   c.Labels[forge.LabelAdapter],
			Status:    c.Status,
			Running:   c.State == "running",
			Image:     c.Image,
			CreatedAt: time.Unix(c.Created, 0).UTC(),
		}
		if s.Status == "" {
			s.Status = string(c.State)
		}
		for _, p := range c.Ports {
			if p.PublicPort != 0 {
				s.Port = p.PublicPort
				s.Endpoint = fmt.Sprintf("http://%s:%d", d.endpointHost, p.PublicPort)
				break
			}
		}
		out = append(out, s)
	}
	return out, nil
}

// StopContainer stops and removes the container with id. The container must
// carry label; anything else reports forge.ErrDeploymentNotFound.
func (d *Driver) StopContainer(ctx context.Context, label, id string) error {
	info, err := d.api.ContainerInspect(ctx, id)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return fmt.Errorf("container %q: %w", id, forge.ErrDeploymentNotFound)
		}
		if terr := transportErr("inspect container", err); terr != nil {
			return terr
		}
		return fmt.Errorf("inspect container %q: %w", id, err)
	}
	if info.Config == nil {
		return fmt.Errorf("container %q: %w", id, forge.ErrDeploymentNotFound)
	}
	if _, ok := info.Config.Labels[label]; !ok {
		return fmt.Errorf("container %q is not labelled %s: %w", id, label, forge.ErrDeploymentNotFound)
	}

	h := forge.ContainerHandle{ID: info.ID, Name: strings.TrimPrefix(info.Name, "/")}
	d.Stop(ctx, h)
	d.Remove(ctx, h)
	d.log.Info("deployment stopped", "container", h.Name, "id", shortID(h.ID))
	return nil
}

// RemoveAll force-removes every container carrying label, then every image
// carrying it. Images still in use by unlabelled containers are left alone.
func (d *Driver) RemoveAll(ctx context.Context, label string) (forge.PruneReport, error) {
	var report forge.PruneReport
	containers, err := d.ListByLabel(ctx, label)
	if err != nil {
		return report, err
	}
	for _, c := range containers {
		d.Remove(ctx, forge.ContainerHandle{ID: c.ID, Name: c.Name})
		report.Containers++
	}

	images, err := d.api.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("label", label)),
	})
	if err != nil {
		if terr := transportErr("list images", err); terr != nil {
			return report, terr
		}
		return report, fmt.Errorf("list images: %w", err)
	}
	for _, img := range images {
		if _, err := d.api.ImageRemove(ctx, img.ID, image.RemoveOptions{Force: false, PruneChildren: true}); err != nil {
			if errdefs.IsNotFound(err) {
				continue
			}
			d.log.Warn("remove image", "image", shortID(strings.TrimPrefix(img.ID, "sha256:")), "err", err)
			continue
		}
		report.Images++
	}
	d.log.Info("pruned deployments", "label", label, "containers", report.Containers, "images", report.Images)
	return report, nil
}
