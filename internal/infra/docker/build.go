package docker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/moby/go-archive"

	"mcpforge/internal/forge"
)

// Build tars contextDir and builds it. The returned logs are the build's
// stream output; on failure *forge.BuildError carries the output captured so
// far.
func (d *Driver) Build(ctx context.Context, contextDir string, req forge.BuildRequest) (forge.BuildResult, error) {
	tar, err := archive.TarWithOptions(contextDir, &archive.TarOptions{})
	if err != nil {
		return forge.BuildResult{}, &forge.BuildError{Err: fmt.Errorf("archive build context: %w", err)}
	}
	defer tar.Close()

	dockerfile := req.Dockerfile
	if dockerfile == "" {
		dockerfile = forge.BuildDefinitionFiles[0]
	}
	d.log.Info("building image", "tag", req.Tag, "context", contextDir)
	resp, err := d.api.ImageBuild(ctx, tar, build.ImageBuildOptions{
		Tags:        []string{req.Tag},
		Dockerfile:  dockerfile,
		Remove:      true,
		ForceRemove: true,
		Labels:      req.Labels,
	})
	if err != nil {
		if terr := transportErr("build image", err); terr != nil {
			return forge.BuildResult{}, terr
		}
		return forge.BuildResult{}, &forge.BuildError{Logs: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	logs, err := readBuildStream(resp.Body)
	if err != nil {
		if terr := transportErr("build image", err); terr != nil {
			return forge.BuildResult{Logs: logs}, terr
		}
		return forge.BuildResult{Logs: logs}, &forge.BuildError{Logs: logs, Err: err}
	}
	d.log.Debug("image built", "tag", req.Tag)
	return forge.BuildResult{Logs: logs}, nil
}

// readBuildStream collects the "stream" text of a build response. A message
// carrying an error ends the build; its text is appended to the logs.
func readBuildStream(r io.Reader) (string, error) {
	var logs strings.Builder
	dec := json.NewDecoder(r)
	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return logs.String(), nil
			}
			return logs.String(), fmt.Errorf("read build output: %w", err)
		}
		if msg.Stream != "" {
			logs.WriteString(msg.Stream)
		} else if msg.Status != "" {
			logs.WriteString(msg.Status)
			logs.WriteByte('\n')
		}
		if msg.Error != nil {
			logs.WriteString(msg.Error.Message)
			logs.WriteByte('\n')
			return logs.String(), msg.Error
		}
	}
}
