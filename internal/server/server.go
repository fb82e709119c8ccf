// Package server exposes the Q&A backend over HTTP: the query API, the
// deterministic course-schedule read and the operational endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/coursequery/coursequery/internal/llm"
	"github.com/coursequery/coursequery/internal/orchestrator"
	"github.com/coursequery/coursequery/internal/prompt"
	"github.com/coursequery/coursequery/internal/relstore"
	"github.com/coursequery/coursequery/internal/tracing"
)

// Asker answers queries end to end.
type Asker interface {
	Ask(ctx context.Context, query string, history []prompt.Turn) (*orchestrator.QueryResult, error)
}

// ScheduleStore is the relational surface behind the course-schedule
// read endpoint.
type ScheduleStore interface {
	CourseCodeByTitle(ctx context.Context, title string) (string, error)
	CourseDateRange(ctx context.Context, courseCode string) (relstore.DateRange, error)
	Ping(ctx context.Context) error
}

// HealthChecker reports dense index reachability.
type HealthChecker interface {
	Healthy(ctx context.Context) bool
}

// Server is the backend HTTP service.
type Server struct {
	asker  Asker
	store  ScheduleStore
	dense  HealthChecker
	logger *zap.Logger
}

// New creates a backend server.
func New(asker Asker, store ScheduleStore, dense HealthChecker, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{asker: asker, store: store, dense: dense, logger: logger}
}

// Handler returns the backend's HTTP mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/query", s.handleQuery)
	mux.HandleFunc("GET /api/v1/courses/schedule", s.handleCourseSchedule)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /readiness", s.handleReadiness)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

type queryRequest struct {
	Query     string        `json:"query"`
	History   []prompt.Turn `json:"history,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
}

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.StartHTTPSpan(r, "backend.query")
	defer span.End()

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "query is required"})
		return
	}

	res, err := s.asker.Ask(ctx, req.Query, req.History)
	if err != nil {
		var malformed *llm.MalformedResponseError
		if errors.As(err, &malformed) {
			s.logger.Error("Generator returned malformed output",
				zap.String("provider", malformed.Provider),
				zap.String("reason", malformed.Reason),
			)
			writeJSON(w, http.StatusBadGateway, errorBody{
				Error:   "generator returned malformed output",
				Details: malformed.RawBody,
			})
			return
		}
		s.logger.Error("Query failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "query failed", Details: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type scheduleRange struct {
	Earliest string `json:"earliest,omitempty"`
	Latest   string `json:"latest,omitempty"`
}

type scheduleResponse struct {
	Found      bool           `json:"found"`
	CourseCode string         `json:"course_code,omitempty"`
	Range      *scheduleRange `json:"range,omitempty"`
}

// handleCourseSchedule resolves a course by code or title and returns
// the span of its recorded classes.
func (s *Server) handleCourseSchedule(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.StartHTTPSpan(r, "backend.course_schedule")
	defer span.End()

	code := strings.TrimSpace(r.URL.Query().Get("course_code"))
	title := strings.TrimSpace(r.URL.Query().Get("title"))
	if code == "" && title == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "course_code or title is required"})
		return
	}

	if code == "" {
		resolved, err := s.store.CourseCodeByTitle(ctx, title)
		if errors.Is(err, relstore.ErrNotFound) {
			writeJSON(w, http.StatusOK, scheduleResponse{Found: false})
			return
		}
		if err != nil {
			s.logger.Error("Course lookup failed", zap.String("title", title), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: "course lookup failed"})
			return
		}
		code = resolved
	}

	rng, err := s.store.CourseDateRange(ctx, code)
	if errors.Is(err, relstore.ErrNotFound) {
		writeJSON(w, http.StatusOK, scheduleResponse{Found: false})
		return
	}
	if err != nil {
		s.logger.Error("Course schedule failed", zap.String("course_code", code), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "course schedule failed"})
		return
	}

	writeJSON(w, http.StatusOK, scheduleResponse{
		Found:      true,
		CourseCode: code,
		Range: &scheduleRange{
			Earliest: rng.Earliest.UTC().Format(time.RFC3339),
			Latest:   rng.Latest.UTC().Format(time.RFC3339),
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleReadiness checks the relational store and the dense index.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]bool{
		"database": s.store == nil || s.store.Ping(ctx) == nil,
		"qdrant":   s.dense == nil || s.dense.Healthy(ctx),
	}
	status := http.StatusOK
	for _, ok := range checks {
		if !ok {
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, map[string]interface{}{"checks": checks})
}
