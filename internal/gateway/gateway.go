// Package gateway implements the session-aware front door: it detects
// follow-up queries, rewrites them against the entity the conversation
// is about, forwards to the Q&A backend and refreshes session state
// from the response's source ids.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/coursequery/coursequery/internal/chunk"
	"github.com/coursequery/coursequery/internal/circuitbreaker"
	"github.com/coursequery/coursequery/internal/config"
	"github.com/coursequery/coursequery/internal/metrics"
	"github.com/coursequery/coursequery/internal/prompt"
	"github.com/coursequery/coursequery/internal/session"
	"github.com/coursequery/coursequery/internal/tracing"
)

const (
	sessionHeader    = "X-Session-Id"
	sessionCookie    = "session_id"
	apiKeyHeader     = "x-api-key"
	maxStateSources  = 5
	forwardTimeout   = 120 * time.Second
	scheduleEndpoint = "/api/v1/courses/schedule"
)

// scheduleRe matches follow-ups asking when the course behind the prior
// answer ran. The word "course" must appear: a bare "when is it offered"
// about the active entity goes through the normal rewrite instead.
var scheduleRe = regexp.MustCompile(`(?i)\b(when|schedule|what\s+dates?)\b.*\bcourse\b|\bcourse\b.*\b(schedule|when)\b`)

// HealthChecker reports reachability of the dense index.
type HealthChecker interface {
	Healthy(ctx context.Context) bool
}

// Gateway is the session front door.
type Gateway struct {
	cfg      *config.Config
	sessions session.Store
	payloads *PayloadResolver
	dense    HealthChecker
	backend  *circuitbreaker.HTTPWrapper
	logger   *zap.Logger
}

// New creates a gateway. The backend HTTP client carries the bounded
// forward timeout and a circuit breaker.
func New(cfg *config.Config, sessions session.Store, payloads *PayloadResolver, dense HealthChecker, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		cfg:      cfg,
		sessions: sessions,
		payloads: payloads,
		dense:    dense,
		backend:  circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: forwardTimeout}, "backend", logger),
		logger:   logger,
	}
}

// Handler returns the gateway's HTTP mux.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/query", g.handleQuery)
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /ready", g.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

type queryRequest struct {
	Query     string        `json:"query"`
	History   []prompt.Turn `json:"history,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
}

// queryContext tells the backend which entity the rewritten query is
// anchored to.
type queryContext struct {
	ActiveEntity string `json:"active_entity,omitempty"`
}

type backendRequest struct {
	Query     string        `json:"query"`
	History   []prompt.Turn `json:"history,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
	Context   *queryContext `json:"context,omitempty"`
}

// backendResponse carries the fields the gateway inspects; the raw body
// is passed through to the client untouched.
type backendResponse struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeProblem(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// sessionID resolves the session identifier: header, then cookie, then
// request body, else a fresh one.
func sessionID(r *http.Request, body *queryRequest) (string, bool) {
	if id := strings.TrimSpace(r.Header.Get(sessionHeader)); id != "" {
		return id, false
	}
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value, false
	}
	if body.SessionID != "" {
		return body.SessionID, false
	}
	return uuid.NewString(), true
}

func (g *Gateway) handleQuery(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.StartHTTPSpan(r, "gateway.query")
	defer span.End()

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeProblem(w, http.StatusBadRequest, "query is required")
		return
	}

	sid, fresh := sessionID(r, &req)
	state, err := g.sessions.Get(ctx, sid)
	if errors.Is(err, session.ErrNotFound) {
		state = &session.State{ID: sid}
	} else if err != nil {
		g.logger.Warn("Session load failed, starting fresh", zap.String("session_id", sid), zap.Error(err))
		state = &session.State{ID: sid}
	}

	effective := req.Query
	var fctx *queryContext
	if IsFollowUp(req.Query) {
		// the shortcut covers "when did that course run" about the course
		// owning a prior class; when the active entity IS the course, the
		// plain rewrite already names it
		if scheduleRe.MatchString(req.Query) && state.ActiveCourse != nil &&
			!strings.EqualFold(state.ActiveEntityType, "COURSE") {
			if res, ok := g.courseScheduleShortcut(ctx, r, state.ActiveCourse); ok {
				g.finishSession(ctx, w, sid, fresh, state)
				writeJSON(w, http.StatusOK, res)
				return
			}
			// schedule unknown relationally: anchor the query to the
			// course title and let the RAG backend try
			effective = RewriteQuery(req.Query, state.ActiveCourse.Title)
			if effective == req.Query {
				effective = state.ActiveCourse.Title + ": " + req.Query
			}
			metrics.GatewayRewrites.Inc()
		} else if state.ActiveEntityName != "" {
			rewritten := RewriteQuery(req.Query, state.ActiveEntityName)
			if rewritten != req.Query {
				metrics.GatewayRewrites.Inc()
				effective = rewritten
			}
		}
	}
	if state.ActiveEntityName != "" {
		fctx = &queryContext{ActiveEntity: state.ActiveEntityName}
	}
	if effective != req.Query {
		g.logger.Debug("Rewrote follow-up query",
			zap.String("session_id", sid),
			zap.String("rewritten", effective),
		)
	}

	resp, raw, status, err := g.forward(ctx, r, backendRequest{
		Query:     effective,
		History:   req.History,
		SessionID: sid,
		Context:   fctx,
	})
	if err != nil {
		g.logger.Error("Backend forward failed", zap.Error(err))
		writeProblem(w, http.StatusBadGateway, "backend unavailable")
		return
	}

	if status == http.StatusOK && len(resp.Sources) > 0 {
		g.refreshState(ctx, state, resp.Sources)
	}
	g.finishSession(ctx, w, sid, fresh, state)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}

// forward POSTs to the backend query API, passing the API key through.
func (g *Gateway) forward(ctx context.Context, r *http.Request, body backendRequest) (*backendResponse, []byte, int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, nil, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BackendURL+"/api/v1/query", bytes.NewReader(payload))
	if err != nil {
		return nil, nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if key := r.Header.Get(apiKeyHeader); key != "" {
		req.Header.Set(apiKeyHeader, key)
	}
	tracing.InjectTraceparent(ctx, req)

	httpResp, err := g.backend.Do(req)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("forward query: %w", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, nil, 0, fmt.Errorf("read backend response: %w", err)
	}
	var resp backendResponse
	if httpResp.StatusCode == http.StatusOK {
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, nil, 0, fmt.Errorf("decode backend response: %w", err)
		}
	}
	return &resp, raw, httpResp.StatusCode, nil
}

// scheduleResponse is the backend's course-schedule read shape.
type scheduleResponse struct {
	Found      bool   `json:"found"`
	CourseCode string `json:"course_code,omitempty"`
	Range      *struct {
		Earliest string `json:"earliest,omitempty"`
		Latest   string `json:"latest,omitempty"`
	} `json:"range,omitempty"`
}

// courseScheduleShortcut asks the backend's deterministic schedule read
// for the active course. A hit yields a canonical sentence with a
// SQL:<code> citation, skipping the generative path entirely.
func (g *Gateway) courseScheduleShortcut(ctx context.Context, r *http.Request, course *session.Course) (map[string]interface{}, bool) {
	u := g.cfg.BackendURL + scheduleEndpoint + "?title=" + url.QueryEscape(course.Title)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, false
	}
	if key := r.Header.Get(apiKeyHeader); key != "" {
		req.Header.Set(apiKeyHeader, key)
	}
	httpResp, err := g.backend.Do(req)
	if err != nil {
		g.logger.Warn("Course schedule lookup failed", zap.Error(err))
		return nil, false
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, httpResp.Body)
		return nil, false
	}

	var sched scheduleResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&sched); err != nil || !sched.Found || sched.Range == nil {
		return nil, false
	}

	earliest, err1 := time.Parse(time.RFC3339, sched.Range.Earliest)
	latest, err2 := time.Parse(time.RFC3339, sched.Range.Latest)
	if err1 != nil || err2 != nil {
		return nil, false
	}
	answer := fmt.Sprintf("The course %s ran from %s to %s.",
		course.Title, earliest.Format("January 2, 2006"), latest.Format("January 2, 2006"))
	if earliest.Year() == latest.Year() && earliest.YearDay() == latest.YearDay() {
		answer = fmt.Sprintf("The course %s ran on %s.", course.Title, earliest.Format("January 2, 2006"))
	}
	return map[string]interface{}{
		"answer":     answer,
		"sources":    []string{"SQL:" + sched.CourseCode},
		"intent":     "FACTUAL",
		"confidence": "high",
	}, true
}

func payloadString(p map[string]interface{}, key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

func payloadMetadata(p map[string]interface{}) map[string]interface{} {
	if m, ok := p["metadata"].(map[string]interface{}); ok {
		return m
	}
	return nil
}

// refreshState rebuilds the active entity from the response's top source
// ids, preferring a course-type payload.
func (g *Gateway) refreshState(ctx context.Context, state *session.State, sources []string) {
	top := sources
	if len(top) > maxStateSources {
		top = top[:maxStateSources]
	}
	payloads := g.payloads.Resolve(ctx, top)
	if len(payloads) == 0 {
		return
	}

	chosen := payloads[0]
	for _, p := range payloads {
		if strings.EqualFold(payloadString(p, "chunk_type"), chunk.TypeCourse) {
			chosen = p
			break
		}
	}

	state.ActiveEntityID = payloadString(chosen, "chunk_id")
	state.ActiveEntityName = payloadString(chosen, "title")
	state.ActiveEntityType = strings.ToUpper(payloadString(chosen, "chunk_type"))
	state.LastSources = top
	state.LastPayloads = payloads

	if strings.EqualFold(payloadString(chosen, "chunk_type"), chunk.TypeCourse) {
		code := ""
		if md := payloadMetadata(chosen); md != nil {
			code = payloadString(md, "code")
		}
		state.ActiveCourse = &session.Course{
			ChunkID: state.ActiveEntityID,
			Code:    code,
			Title:   state.ActiveEntityName,
		}
	} else if md := payloadMetadata(chosen); md != nil {
		g.resolveOwningCourse(ctx, state, md)
	}
	metrics.GatewayStateUpdates.Inc()
}

// resolveOwningCourse records the course a class or topic payload points
// at through its metadata.
func (g *Gateway) resolveOwningCourse(ctx context.Context, state *session.State, md map[string]interface{}) {
	courseChunkID := payloadString(md, "course_chunk_id")
	if courseChunkID == "" {
		if v, ok := md["course_id"]; ok {
			courseChunkID = fmt.Sprintf("COURSE-%v", v)
		}
	}
	if courseChunkID == "" {
		return
	}
	payloads := g.payloads.Resolve(ctx, []string{courseChunkID})
	if len(payloads) == 0 {
		return
	}
	p := payloads[0]
	code := ""
	if cmd := payloadMetadata(p); cmd != nil {
		code = payloadString(cmd, "code")
	}
	state.ActiveCourse = &session.Course{
		ChunkID: payloadString(p, "chunk_id"),
		Code:    code,
		Title:   payloadString(p, "title"),
	}
}

// finishSession persists the state and reflects the session id back to
// the client via header and cookie.
func (g *Gateway) finishSession(ctx context.Context, w http.ResponseWriter, sid string, fresh bool, state *session.State) {
	if err := g.sessions.Save(ctx, state); err != nil {
		g.logger.Warn("Session save failed", zap.String("session_id", sid), zap.Error(err))
	}
	w.Header().Set(sessionHeader, sid)
	if fresh {
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    sid,
			Path:     "/",
			MaxAge:   g.cfg.SessionTTLSec,
			HttpOnly: true,
		})
	}
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleReady checks backend and dense index reachability.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]bool{
		"backend": g.backendHealthy(ctx),
		"qdrant":  g.dense == nil || g.dense.Healthy(ctx),
	}
	status := http.StatusOK
	for _, ok := range checks {
		if !ok {
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, map[string]interface{}{"checks": checks})
}

func (g *Gateway) backendHealthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.BackendURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := g.backend.Do(req)
	if err != nil {
		return false
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
