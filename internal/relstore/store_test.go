package relstore

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewWithDB(sqlx.NewDb(db, "sqlmock"), zap.NewNop()), mock
}

func TestFetchChunksParsesMetadata(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT chunk_id, chunk_type, title, text, metadata FROM chunks WHERE chunk_id = ANY($1)`)).
		WillReturnRows(sqlmock.NewRows([]string{"chunk_id", "chunk_type", "title", "text", "metadata"}).
			AddRow("TOPIC-11", "topic", "Photosynthesis", "Plants convert light.", []byte(`{"course_id":1}`)).
			AddRow("CLASS-3", "class", "Lecture 3", "Covered light reactions.", nil))

	chunks, err := s.FetchChunks(context.Background(), []string{"TOPIC-11", "CLASS-3", "MISSING"})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "Photosynthesis", chunks["TOPIC-11"].Title)
	assert.EqualValues(t, 1, chunks["TOPIC-11"].Metadata["course_id"])
	assert.Nil(t, chunks["CLASS-3"].Metadata)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchChunksEmptyInput(t *testing.T) {
	s, _ := newMockStore(t)
	chunks, err := s.FetchChunks(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestResolveTopicIDNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM topics WHERE UPPER(code) = UPPER($1)`)).
		WithArgs("C9-T9").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.ResolveTopicID(context.Background(), "C9-T9")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLearnedAtRange(t *testing.T) {
	s, mock := newMockStore(t)
	earliest := time.Date(2025, 6, 21, 0, 0, 0, 0, time.UTC)
	latest := time.Date(2025, 6, 28, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM topics WHERE UPPER(code) = UPPER($1)`)).
		WithArgs("C2-T3").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT MIN(learned_at) AS earliest, MAX(learned_at) AS latest FROM classes WHERE topic_id = $1`)).
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"earliest", "latest"}).AddRow(earliest, latest))

	r, err := s.LearnedAtRange(context.Background(), "C2-T3")
	require.NoError(t, err)
	assert.Equal(t, earliest, r.Earliest)
	assert.Equal(t, latest, r.Latest)
	assert.False(t, r.SingleDay())
}

func TestLearnedAtRangeNoClasses(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM topics WHERE UPPER(code) = UPPER($1)`)).
		WithArgs("C2-T3").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT MIN(learned_at) AS earliest, MAX(learned_at) AS latest FROM classes WHERE topic_id = $1`)).
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"earliest", "latest"}).AddRow(nil, nil))

	_, err := s.LearnedAtRange(context.Background(), "C2-T3")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDateRangeSingleDay(t *testing.T) {
	day := time.Date(2025, 6, 21, 0, 0, 0, 0, time.UTC)
	r := DateRange{Earliest: day, Latest: day.Add(3 * time.Hour)}
	assert.True(t, r.SingleDay())
}

func TestCountClassesForTopic(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM topics WHERE UPPER(code) = UPPER($1)`)).
		WithArgs("C1-T1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM classes WHERE topic_id = $1`)).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	n, err := s.CountClassesForTopic(context.Background(), "C1-T1")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestListCourses(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT code, title FROM courses ORDER BY code`)).
		WillReturnRows(sqlmock.NewRows([]string{"code", "title"}).
			AddRow("C1", "Biology").
			AddRow("C2", "Chemistry"))

	courses, err := s.ListCourses(context.Background())
	require.NoError(t, err)
	require.Len(t, courses, 2)
	assert.Equal(t, "C1", courses[0].Code)
	assert.Equal(t, "Chemistry", courses[1].Title)
}

func TestCourseCodeByTitleFallsBackToPrefix(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT code FROM courses WHERE UPPER(title) = UPPER($1)`)).
		WithArgs("Bio").
		WillReturnRows(sqlmock.NewRows([]string{"code"}))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT code FROM courses WHERE title ILIKE $1 || '%' ORDER BY code LIMIT 1`)).
		WithArgs("Bio").
		WillReturnRows(sqlmock.NewRows([]string{"code"}).AddRow("C1"))

	code, err := s.CourseCodeByTitle(context.Background(), "Bio")
	require.NoError(t, err)
	assert.Equal(t, "C1", code)
}

func TestCourseDateRangeNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT MIN").
		WithArgs("C9").
		WillReturnRows(sqlmock.NewRows([]string{"earliest", "latest"}).AddRow(nil, nil))

	_, err := s.CourseDateRange(context.Background(), "C9")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTopicsNeverTaught(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT t.code, t.title FROM topics t").
		WillReturnRows(sqlmock.NewRows([]string{"code", "title"}).AddRow("C1-T9", "Genetics"))

	topics, err := s.TopicsNeverTaught(context.Background())
	require.NoError(t, err)
	require.Len(t, topics, 1)
	assert.Equal(t, "C1-T9", topics[0].Code)
}
