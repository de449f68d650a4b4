package forge

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DefaultLogLimit bounds the log text embedded in regeneration prompts.
const DefaultLogLimit = 500

const truncatedMarker = "[truncated] "

type AttemptStatus uint8

const (
	StatusSuccess AttemptStatus = iota + 1
	StatusBuildError
	StatusRuntimeError
	StatusTransportError
)

func (s AttemptStatus) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusBuildError:
		return "build_error"
	case StatusRuntimeError:
		return "runtime_error"
	case StatusTransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}

func (s AttemptStatus) IsValid() bool {
	switch s {
	case StatusSuccess, StatusBuildError, StatusRuntimeError, StatusTransportError:
		return true
	default:
		return false
	}
}

func (s AttemptStatus) MarshalJSON() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("invalid attempt status: %d", s)
	}
	return json.Marshal(s.String())
}

func (s *AttemptStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	next, ok := ParseAttemptStatus(raw)
	if !ok {
		return fmt.Errorf("invalid attempt status: %q", raw)
	}
	*s = next
	return nil
}

func ParseAttemptStatus(raw string) (AttemptStatus, bool) {
	switch strings.TrimSpace(raw) {
	case "success":
		return StatusSuccess, true
	case "build_error":
		return StatusBuildError, true
	case "runtime_error":
		return StatusRuntimeError, true
	case "transport_error":
		return StatusTransportError, true
	default:
		return 0, false
	}
}

// AttemptRecord is one entry of a query's failure history.
type AttemptRecord struct {
	AttemptNumber int           `json:"attempt"`
	Artifact      Artifact      `json:"artifact"`
	Status        AttemptStatus `json:"status"`
	Logs          string        `json:"logs"`
	Timestamp     time.Time     `json:"timestamp"`
}

// Truncated returns a copy with logs bounded to limit characters.
func (r AttemptRecord) Truncated(limit int) AttemptRecord {
	r.Logs = TruncateLogs(r.Logs, limit)
	return r
}

// TruncateLogs keeps the last limit characters of logs, where build and
// runtime failures usually report their cause.
func TruncateLogs(logs string, limit int) string {
	if limit <= 0 {
		return logs
	}
	runes := []rune(logs)
	if len(runes) <= limit {
		return logs
	}
	return truncatedMarker + string(runes[len(runes)-limit:])
}

// Outcome is the result of one build+run attempt. Deployment is set only on
// success; ownership of that running container passes to the caller.
type Outcome struct {
	Status     AttemptStatus
	Logs       string
	Endpoint   string
	Deployment *Deployment
	Err        error
}

func (o Outcome) Succeeded() bool {
	return o.Status == StatusSuccess
}
