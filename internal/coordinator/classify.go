package coordinator

import (
	"context"
	"fmt"
	"time"

	"mcpforge/internal/forge"
)

// Decision is the classifier's verdict on a failed attempt.
type Decision uint8

const (
	// Regenerate asks the generator for a corrected artifact, if attempts
	// remain.
	Regenerate Decision = iota + 1
	// Abort ends the query as FatalError without spending further attempts.
	Abort
)

func (d Decision) String() string {
	switch d {
	case Regenerate:
		return "regenerate"
	case Abort:
		return "abort"
	default:
		return "unknown"
	}
}

// Classifier decides what a failed attempt means for the rest of the loop.
// A non-nil error accompanies Abort and becomes the query's fatal error.
type Classifier interface {
	Classify(ctx context.Context, rec forge.AttemptRecord, out forge.Outcome) (Decision, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, rec forge.AttemptRecord, out forge.Outcome) (Decision, error)

func (f ClassifierFunc) Classify(ctx context.Context, rec forge.AttemptRecord, out forge.Outcome) (Decision, error) {
	return f(ctx, rec, out)
}

// Pinger is the driver surface DriverProbe needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DriverProbe regenerates after build and runtime errors. After a transport
// error it pings the runtime: an unreachable runtime would fail every later
// attempt the same way, so the query aborts with forge.ErrDriverUnavailable.
type DriverProbe struct {
	Driver  Pinger
	Timeout time.Duration
}

func (p DriverProbe) Classify(ctx context.Context, rec forge.AttemptRecord, _ forge.Outcome) (Decision, error) {
	if rec.Status != forge.StatusTransportError || p.Driver == nil {
		return Regenerate, nil
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := p.Driver.Ping(pingCtx); err != nil {
		return Abort, fmt.Errorf("attempt %d: %w", rec.AttemptNumber, err)
	}
	return Regenerate, nil
}
