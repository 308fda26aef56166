// Package api exposes the SOAR engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"boundary-soar/internal/correlation"
	"boundary-soar/internal/dispatch"
	soarerr "boundary-soar/internal/errors"
	"boundary-soar/internal/metrics"
	"boundary-soar/internal/soar"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckFunc reports the health of one dependency.
type CheckFunc func(ctx context.Context) error

// Options configures a Server. Engine is required.
type Options struct {
	Engine *soar.Engine
	// Correlation enables the rules endpoint.
	Correlation *correlation.Engine
	// Gatherer serves /metrics. Nil disables the endpoint.
	Gatherer     prometheus.Gatherer
	Checks       map[string]CheckFunc
	MaxBodyBytes int64
	Logger       *slog.Logger
}

// Server holds the HTTP handlers.
type Server struct {
	engine      *soar.Engine
	correlation *correlation.Engine
	gatherer    prometheus.Gatherer
	checks      map[string]CheckFunc
	maxBody     int64
	logger      *slog.Logger
	started     time.Time
}

// APIError is the JSON error body.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewServer creates a server.
func NewServer(opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, errors.New("api: engine is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	return &Server{
		engine:      opts.Engine,
		correlation: opts.Correlation,
		gatherer:    opts.Gatherer,
		checks:      opts.Checks,
		maxBody:     opts.MaxBodyBytes,
		logger:      opts.Logger,
		started:     time.Now(),
	}, nil
}

// RegisterRoutes registers the API routes on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/alerts", s.handleAlert)
	mux.HandleFunc("GET /v1/playbooks", s.handlePlaybooks)
	mux.HandleFunc("GET /v1/playbooks/{id}", s.handlePlaybook)
	mux.HandleFunc("GET /v1/actions", s.handleActions)
	mux.HandleFunc("GET /v1/incidents", s.handleIncidents)
	mux.HandleFunc("GET /v1/incidents/active", s.handleActiveIncidents)
	mux.HandleFunc("GET /v1/incidents/{id}", s.handleIncident)
	mux.HandleFunc("GET /v1/incidents/{id}/executions", s.handleExecutions)
	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.HandleFunc("GET /v1/handoffs/dead-letters", s.handleDeadLetters)
	if s.correlation != nil {
		mux.HandleFunc("GET /v1/correlation/rules", s.handleRules)
	}
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", metrics.Handler(s.gatherer))
	}
}

// Handler returns a mux with every route registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, APIError{Code: code, Message: message})
}

// writeEngineError maps engine errors to HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, soarerr.ErrIncidentNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", soarerr.SafeErrorMessage(err))
	case errors.Is(err, soarerr.ErrInvalidAlert):
		writeError(w, http.StatusBadRequest, "INVALID_ALERT", soarerr.SafeErrorMessage(err))
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL", soarerr.SafeErrorMessage(err))
	}
}

// dispatchStats is implemented by dispatchers that keep delivery records.
type dispatchStats interface {
	DeadLetters() []dispatch.DeliveryRecord
}
