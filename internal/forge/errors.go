package forge

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrEmptyQuery rejects a request before any other processing.
	ErrEmptyQuery = errors.New("query is empty")

	// ErrNoMatch means retrieval succeeded but returned no candidates.
	ErrNoMatch = errors.New("no matching descriptor")

	ErrRetrieval         = errors.New("retrieval failed")
	ErrGeneration        = errors.New("generation failed")
	ErrMalformedArtifact = errors.New("malformed artifact")
	ErrBuild             = errors.New("image build failed")
	ErrRuntime           = errors.New("container failed to become reachable")
	ErrTransport         = errors.New("container runtime transport failure")

	// ErrDriverUnavailable is surfaced at startup, and mid-loop when a
	// transport failure turns out to be an unreachable runtime.
	ErrDriverUnavailable = errors.New("container runtime unavailable")

	ErrInvalidTransition = errors.New("invalid phase transition")

	// ErrDeploymentNotFound is returned by operator calls for an id that does
	// not exist or does not carry the namespacing label.
	ErrDeploymentNotFound = errors.New("deployment not found")
)

// RetrievalError wraps a retrieval backend failure or an empty result.
type RetrievalError struct {
	Query string
	Err   error
}

func (e *RetrievalError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("retrieve descriptors for %q: %v", e.Query, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

func (e *RetrievalError) Is(target error) bool { return target == ErrRetrieval }

// GenerationError wraps a text-generation backend failure. Op is "generate"
// or "regenerate".
type GenerationError struct {
	Op  string
	Err error
}

func (e *GenerationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s artifact: %v", e.Op, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

func (e *GenerationError) Is(target error) bool { return target == ErrGeneration }

// MalformedArtifactError reports a structurally invalid generated artifact.
type MalformedArtifactError struct {
	Reason string
}

func (e *MalformedArtifactError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return "malformed artifact: " + e.Reason
}

func (e *MalformedArtifactError) Is(target error) bool { return target == ErrMalformedArtifact }

// BuildError carries the build log captured up to the point of failure.
type BuildError struct {
	Logs string
	Err  error
}

func (e *BuildError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err == nil {
		return ErrBuild.Error()
	}
	return fmt.Sprintf("%v: %v", ErrBuild, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

func (e *BuildError) Is(target error) bool { return target == ErrBuild }

// RuntimeError reports a container that could not reach a reachable running
// state. Logs holds whatever the container printed.
type RuntimeError struct {
	Message string
	Logs    string
	Err     error
}

func (e *RuntimeError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *RuntimeError) Unwrap() error { return e.Err }

func (e *RuntimeError) Is(target error) bool { return target == ErrRuntime }

// TransportError reports a failure talking to the container runtime, a
// timeout, or a cancellation.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// StatusFor maps an attempt error onto the attempt status taxonomy.
// Malformed artifacts count as build errors for retry purposes.
func StatusFor(err error) AttemptStatus {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, ErrMalformedArtifact), errors.Is(err, ErrBuild):
		return StatusBuildError
	case errors.Is(err, ErrTransport),
		errors.Is(err, ErrDriverUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return StatusTransportError
	default:
		return StatusRuntimeError
	}
}
