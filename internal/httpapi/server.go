// Package httpapi exposes the turn endpoint the telephony webhook layer
// calls. The surface is deliberately small: one POST route per turn, the
// liveness and readiness probes, an operator listing of recent calls, and
// the Prometheus scrape endpoint. Carrier parsing, audio rendering, and
// authentication live in the webhook layer, not here.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxlinehq/voxline/internal/callstate"
	"github.com/voxlinehq/voxline/internal/observe"
	"github.com/voxlinehq/voxline/internal/pipeline"
	"github.com/voxlinehq/voxline/pkg/types"
)

// maxTurnBody bounds the request body; a transcript is a few sentences, so
// anything near this limit is a misbehaving client.
const maxTurnBody = 64 << 10

// Bounds on the recent-calls listing.
const (
	defaultRecentLimit = 20
	maxRecentLimit     = 100
)

// Server handles the core's inbound HTTP surface.
type Server struct {
	pipe    *pipeline.Pipeline
	checks  []ReadyCheck
	recents callstate.RecentLister
	metrics *observe.Metrics
	log     *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithReadyChecks sets the probes /readyz evaluates. Without any, readiness
// degenerates to liveness.
func WithReadyChecks(checks ...ReadyCheck) Option {
	return func(s *Server) { s.checks = checks }
}

// WithRecentCalls enables GET /v1/calls/recent over the given lister.
func WithRecentCalls(l callstate.RecentLister) Option {
	return func(s *Server) { s.recents = l }
}

// WithMetrics overrides the default metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// New constructs a Server over the turn pipeline.
func New(pipe *pipeline.Pipeline, opts ...Option) *Server {
	s := &Server{
		pipe:    pipe,
		metrics: observe.DefaultMetrics(),
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Routes returns the full handler: routed endpoints wrapped in the tracing
// and metrics middleware.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/turn", s.handleTurn)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	if s.recents != nil {
		mux.HandleFunc("GET /v1/calls/recent", s.handleRecentCalls)
	}
	mux.Handle("GET /metrics", promhttp.Handler())
	return observe.Middleware(s.metrics)(mux)
}

// errorBody is the JSON shape of a rejected request.
type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set("X-Request-ID", requestID)

	var req types.TurnRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTurnBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid turn payload: " + err.Error()})
		return
	}
	if req.TenantID == "" || req.CallID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "tenantId and callId are required"})
		return
	}
	if req.Channel == "" {
		req.Channel = types.ChannelVoice
	}
	if !req.Channel.IsValid() {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unknown channel"})
		return
	}

	resp := s.pipe.Process(r.Context(), req)

	s.log.LogAttrs(r.Context(), slog.LevelDebug, "turn processed",
		slog.String("request_id", requestID),
		slog.String("tenant_id", req.TenantID),
		slog.String("call_id", req.CallID),
		slog.String("lane", string(resp.State.Lane)),
	)
	writeJSON(w, http.StatusOK, resp)
}

// handleRecentCalls lists the tenant's most recently updated calls, newest
// first. Operators use it to see what the runtime is holding for a tenant.
func (s *Server) handleRecentCalls(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant")
	if tenantID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "tenant is required"})
		return
	}
	limit := defaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxRecentLimit)
	}

	calls, err := s.recents.Recent(r.Context(), tenantID, limit)
	if err != nil {
		s.log.Error("httpapi: list recent calls", "tenant", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "listing failed"})
		return
	}
	if calls == nil {
		calls = []callstate.RecentCall{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"calls": calls})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failure"}`, http.StatusInternalServerError)
	}
}
