package coordinator

import (
	"mcpforge/internal/forge"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusError   = "error"
)

// Response is the top-level request/response contract. Failure history is
// only present on failure paths.
type Response struct {
	Status        string                `json:"status"`
	QueryID       string                `json:"queryId,omitempty"`
	Name          string                `json:"name,omitempty"`
	Endpoint      string                `json:"endpoint,omitempty"`
	ContainerID   string                `json:"containerId,omitempty"`
	Artifact      *forge.Artifact       `json:"artifact,omitempty"`
	Logs          string                `json:"logs,omitempty"`
	Attempts      int                   `json:"attempts,omitempty"`
	ErrorDetails  string                `json:"errorDetails,omitempty"`
	ErrorHistory  []forge.AttemptRecord `json:"errorHistory,omitempty"`
	TotalAttempts int                   `json:"totalAttempts,omitempty"`
	Message       string                `json:"message,omitempty"`
}

// NewResponse renders a terminal Result.
func NewResponse(res Result) Response {
	resp := Response{QueryID: res.QueryID, Name: res.Name}
	if !res.Artifact.IsZero() {
		art := res.Artifact.Clone()
		resp.Artifact = &art
	}

	switch res.Phase {
	case forge.PhaseSucceeded:
		resp.Status = StatusSuccess
		resp.Endpoint = res.Endpoint
		resp.Logs = res.Logs
		resp.Attempts = res.Attempts
		if res.Deployment != nil {
			resp.ContainerID = res.Deployment.ContainerID
		}
	case forge.PhaseExhausted:
		resp.Status = StatusFailed
		resp.ErrorDetails = errorDetails(res)
		resp.ErrorHistory = res.History
		resp.TotalAttempts = res.Attempts
	default:
		resp.Status = StatusError
		resp.Message = "query failed"
		if res.Err != nil {
			resp.Message = res.Err.Error()
		}
		resp.ErrorHistory = res.History
		resp.TotalAttempts = res.Attempts
	}
	return resp
}

func errorDetails(res Result) string {
	if n := len(res.History); n > 0 {
		last := res.History[n-1]
		if last.Logs != "" {
			return last.Logs
		}
	}
	if res.Err != nil {
		return res.Err.Error()
	}
	return "all attempts failed"
}
