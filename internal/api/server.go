package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"mcpforge/internal/coordinator"
	"mcpforge/internal/forge"
)

const maxRequestBytes = 64 << 10

// Deployer runs one query to a terminal result.
// Production: *coordinator.Coordinator
type Deployer interface {
	Run(ctx context.Context, query string) coordinator.Result
}

// Pinger reports whether the container runtime is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	LabelKey    string
	ServiceName string
	// Gatherer backs /metrics. Defaults to the prometheus default registry.
	Gatherer prometheus.Gatherer
}

// Server exposes the deploy contract and the operator surface over HTTP.
type Server struct {
	deployer Deployer
	operator forge.Operator
	pinger   Pinger
	cfg      Config
	log      *slog.Logger
}

func New(deployer Deployer, operator forge.Operator, pinger Pinger, cfg Config) (*Server, error) {
	if deployer == nil {
		return nil, errors.New("deployer is required")
	}
	if operator == nil {
		return nil, errors.New("operator is required")
	}
	if cfg.LabelKey == "" {
		cfg.LabelKey = forge.DefaultLabelKey
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "mcpforge"
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		deployer: deployer,
		operator: operator,
		pinger:   pinger,
		cfg:      cfg,
		log:      slog.With("component", "api"),
	}, nil
}

// Routes constructs the router wrapped in HTTP tracing.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/deploy", s.handleDeploy)
		r.Get("/deployments", s.handleListDeployments)
		r.Delete("/deployments", s.handlePruneDeployments)
		r.Delete("/deployments/{id}", s.handleStopDeployment)
	})

	return otelhttp.NewHandler(r, s.cfg.ServiceName)
}

type deployRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	var req deployRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	res := s.deployer.Run(r.Context(), req.Query)
	respondJSON(w, statusCode(res), coordinator.NewResponse(res))
}

// statusCode maps a terminal result to an HTTP status. An exhausted query is
// a completed request whose body reports the failure.
func statusCode(res coordinator.Result) int {
	switch res.Phase {
	case forge.PhaseSucceeded, forge.PhaseExhausted:
		return http.StatusOK
	}
	switch {
	case errors.Is(res.Err, forge.ErrEmptyQuery):
		return http.StatusBadRequest
	case errors.Is(res.Err, forge.ErrNoMatch):
		return http.StatusNotFound
	case errors.Is(res.Err, forge.ErrDriverUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(res.Err, forge.ErrGeneration):
		return http.StatusBadGateway
	case errors.Is(res.Err, context.Canceled), errors.Is(res.Err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	list, err := s.operator.ListByLabel(r.Context(), s.cfg.LabelKey)
	if err != nil {
		respondError(w, operatorStatus(err), err)
		return
	}
	if list == nil {
		list = []forge.ContainerSummary{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"deployments": list})
}

func (s *Server) handleStopDeployment(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, errors.New("deployment id is required"))
		return
	}
	if err := s.operator.StopContainer(r.Context(), s.cfg.LabelKey, id); err != nil {
		respondError(w, operatorStatus(err), err)
		return
	}
	s.log.Info("deployment stopped", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePruneDeployments(w http.ResponseWriter, r *http.Request) {
	report, err := s.operator.RemoveAll(r.Context(), s.cfg.LabelKey)
	if err != nil {
		respondError(w, operatorStatus(err), err)
		return
	}
	s.log.Info("deployments pruned", "containers", report.Containers, "images", report.Images)
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			respondError(w, http.StatusServiceUnavailable, err)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func operatorStatus(err error) int {
	switch {
	case errors.Is(err, forge.ErrDeploymentNotFound):
		return http.StatusNotFound
	case errors.Is(err, forge.ErrDriverUnavailable), errors.Is(err, forge.ErrTransport):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	respondJSON(w, status, map[string]any{"error": err.Error()})
}
