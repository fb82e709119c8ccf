package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/coursequery/coursequery/internal/llm"
	"github.com/coursequery/coursequery/internal/orchestrator"
	"github.com/coursequery/coursequery/internal/prompt"
	"github.com/coursequery/coursequery/internal/relstore"
)

type fakeAsker struct {
	res *orchestrator.QueryResult
	err error
}

func (f *fakeAsker) Ask(context.Context, string, []prompt.Turn) (*orchestrator.QueryResult, error) {
	return f.res, f.err
}

type fakeStore struct {
	codes  map[string]string
	ranges map[string]relstore.DateRange
}

func (f *fakeStore) CourseCodeByTitle(_ context.Context, title string) (string, error) {
	if code, ok := f.codes[title]; ok {
		return code, nil
	}
	return "", relstore.ErrNotFound
}

func (f *fakeStore) CourseDateRange(_ context.Context, code string) (relstore.DateRange, error) {
	if r, ok := f.ranges[code]; ok {
		return r, nil
	}
	return relstore.DateRange{}, relstore.ErrNotFound
}

func (f *fakeStore) Ping(context.Context) error { return nil }

type alwaysHealthy struct{}

func (alwaysHealthy) Healthy(context.Context) bool { return true }

func doPost(t *testing.T, h http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestQueryEndpoint(t *testing.T) {
	asker := &fakeAsker{res: &orchestrator.QueryResult{
		Answer:     "You have 5 classes for C1-T1.",
		Sources:    []string{"SQL-count_classes_C1-T1"},
		Intent:     "FACTUAL",
		Confidence: "high",
		SQL:        "SELECT COUNT(*) FROM classes",
	}}
	s := New(asker, &fakeStore{}, alwaysHealthy{}, zap.NewNop())

	rec := doPost(t, s.Handler(), "/api/v1/query", map[string]string{"query": "How many classes for C1-T1?"})
	require.Equal(t, http.StatusOK, rec.Code)

	var res orchestrator.QueryResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "FACTUAL", res.Intent)
	assert.Contains(t, res.Answer, "You have 5 classes for C1-T1.")
	assert.Contains(t, res.Sources, "SQL-count_classes_C1-T1")
}

func TestQueryMissingQuery(t *testing.T) {
	s := New(&fakeAsker{}, &fakeStore{}, alwaysHealthy{}, zap.NewNop())
	rec := doPost(t, s.Handler(), "/api/v1/query", map[string]string{"query": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryMalformedGeneratorOutputIs502(t *testing.T) {
	asker := &fakeAsker{err: &llm.MalformedResponseError{
		Provider: "llamacpp",
		RawBody:  `{"oops":true}`,
		Reason:   "missing content field",
	}}
	s := New(asker, &fakeStore{}, alwaysHealthy{}, zap.NewNop())

	rec := doPost(t, s.Handler(), "/api/v1/query", map[string]string{"query": "describe the course"})
	require.Equal(t, http.StatusBadGateway, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body["details"], "oops")
}

func TestQueryTransientFailureIs500(t *testing.T) {
	s := New(&fakeAsker{err: errors.New("dense search: connection refused")}, &fakeStore{}, alwaysHealthy{}, zap.NewNop())
	rec := doPost(t, s.Handler(), "/api/v1/query", map[string]string{"query": "describe the course"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func scheduleStore() *fakeStore {
	return &fakeStore{
		codes: map[string]string{"Databases and SQL": "C3"},
		ranges: map[string]relstore.DateRange{
			"C3": {
				Earliest: time.Date(2025, 6, 21, 0, 0, 0, 0, time.UTC),
				Latest:   time.Date(2025, 7, 2, 0, 0, 0, 0, time.UTC),
			},
		},
	}
}

func TestCourseScheduleByTitle(t *testing.T) {
	s := New(&fakeAsker{}, scheduleStore(), alwaysHealthy{}, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/courses/schedule?title=Databases+and+SQL", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp scheduleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Found)
	assert.Equal(t, "C3", resp.CourseCode)
	require.NotNil(t, resp.Range)
	assert.Equal(t, "2025-06-21T00:00:00Z", resp.Range.Earliest)
	assert.Equal(t, "2025-07-02T00:00:00Z", resp.Range.Latest)
}

func TestCourseScheduleByCode(t *testing.T) {
	s := New(&fakeAsker{}, scheduleStore(), alwaysHealthy{}, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/courses/schedule?course_code=C3", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp scheduleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Found)
}

func TestCourseScheduleUnknownTitle(t *testing.T) {
	s := New(&fakeAsker{}, scheduleStore(), alwaysHealthy{}, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/courses/schedule?title=Astrology", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp scheduleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Found)
	assert.Nil(t, resp.Range)
}

func TestCourseScheduleMissingParams(t *testing.T) {
	s := New(&fakeAsker{}, scheduleStore(), alwaysHealthy{}, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/courses/schedule", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndReadiness(t *testing.T) {
	s := New(&fakeAsker{}, scheduleStore(), alwaysHealthy{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/readiness", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
