package forge

import (
	"encoding/json"
	"fmt"
	"time"
)

type DeploymentStatus uint8

const (
	DeploymentStarting DeploymentStatus = iota + 1
	DeploymentRunning
	DeploymentFailed
	DeploymentStopped
)

func (s DeploymentStatus) String() string {
	switch s {
	case DeploymentStarting:
		return "starting"
	case DeploymentRunning:
		return "running"
	case DeploymentFailed:
		return "failed"
	case DeploymentStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

func (s DeploymentStatus) IsValid() bool {
	switch s {
	case DeploymentStarting, DeploymentRunning, DeploymentFailed, DeploymentStopped:
		return true
	default:
		return false
	}
}

// Transition returns the next status, or an error wrapping
// ErrInvalidTransition when the move is not allowed.
func (s DeploymentStatus) Transition(to DeploymentStatus) (DeploymentStatus, error) {
	ok := false
	switch s {
	case DeploymentStarting:
		ok = to == DeploymentRunning || to == DeploymentFailed || to == DeploymentStopped
	case DeploymentRunning:
		ok = to == DeploymentStopped || to == DeploymentFailed
	case DeploymentFailed, DeploymentStopped:
		ok = false
	}
	if !ok {
		return s, fmt.Errorf("%w: deployment %s -> %s", ErrInvalidTransition, s, to)
	}
	return to, nil
}

func (s DeploymentStatus) MarshalJSON() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("invalid deployment status: %d", s)
	}
	return json.Marshal(s.String())
}

// Deployment is a live container produced by a successful attempt.
type Deployment struct {
	ContainerID   string           `json:"container_id"`
	ContainerName string           `json:"container_name"`
	Name          string           `json:"name"`
	ImageTag      string           `json:"image_tag"`
	Endpoint      string           `json:"endpoint"`
	HostPort      uint16           `json:"host_port"`
	Status        DeploymentStatus `json:"status"`
	CreatedAt     time.Time        `json:"created_at"`
}

// ContainerSummary is the operator view of a labelled container.
type ContainerSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Adapter   string    `json:"adapter,omitempty"`
	Status    string    `json:"status"`
	Running   bool      `json:"running"`
	Image     string    `json:"image"`
	Port      uint16    `json:"port,omitempty"`
	Endpoint  string    `json:"endpoint,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// PruneReport counts what RemoveAll reclaimed.
type PruneReport struct {
	Containers int `json:"containers"`
	Images     int `json:"images"`
}
