package supervisor

import (
	"context"
	"time"

	"mcpforge/internal/forge"
	"mcpforge/internal/staging"
)

// Stager materializes an artifact on disk.
// Production: *staging.Store
// Testing: *staging.Store over t.TempDir()
type Stager interface {
	Stage(ctx context.Context, art forge.Artifact) (*staging.Handle, error)
}

// SleepFunc waits for d or until ctx ends.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
