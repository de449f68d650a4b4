package fake

import (
	"context"
	"slices"
	"sync"

	"mcpforge/internal/adapter/fake/fault"
	"mcpforge/internal/forge"
)

var _ forge.Generator = (*Generator)(nil)

// Generator returns scripted artifacts. Generate returns Artifacts[0]; the
// n-th Regenerate returns Artifacts[n], repeating the last entry once the
// script runs out.
type Generator struct {
	CallRecorder
	mu        sync.Mutex
	artifacts []forge.Artifact
	regens    int
	histories [][]forge.AttemptRecord

	Faults *fault.Injector

	GenerateErr   func(ctx context.Context, query string, docs []forge.Descriptor) error
	RegenerateErr func(ctx context.Context, query string, previous forge.Artifact, failures []forge.AttemptRecord) error
}

func NewGenerator(artifacts ...forge.Artifact) *Generator {
	return &Generator{artifacts: artifacts}
}

func (g *Generator) Generate(ctx context.Context, query string, docs []forge.Descriptor) (forge.Artifact, error) {
	g.record("Generate", query, len(docs))
	if err := g.Faults.Eval(fault.PointGenerate, query); err != nil {
		return forge.Artifact{}, err
	}
	if g.GenerateErr != nil {
		if err := g.GenerateErr(ctx, query, docs); err != nil {
			return forge.Artifact{}, err
		}
	}
	return g.pick(0), nil
}

func (g *Generator) Regenerate(ctx context.Context, query string, _ []forge.Descriptor, previous forge.Artifact, failures []forge.AttemptRecord) (forge.Artifact, error) {
	g.record("Regenerate", query, len(failures))
	g.mu.Lock()
	g.histories = append(g.histories, slices.Clone(failures))
	g.regens++
	n := g.regens
	g.mu.Unlock()

	if err := g.Faults.Eval(fault.PointRegenerate, n); err != nil {
		return forge.Artifact{}, err
	}
	if g.RegenerateErr != nil {
		if err := g.RegenerateErr(ctx, query, previous, failures); err != nil {
			return forge.Artifact{}, err
		}
	}
	return g.pick(n), nil
}

// Histories returns the failure history passed to each Regenerate call.
func (g *Generator) Histories() [][]forge.AttemptRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.histories)
}

func (g *Generator) pick(i int) forge.Artifact {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.artifacts) == 0 {
		return forge.PackageArtifact(map[string]string{"Dockerfile": "FROM scratch\n"})
	}
	if i >= len(g.artifacts) {
		i = len(g.artifacts) - 1
	}
	return g.artifacts[i].Clone()
}
