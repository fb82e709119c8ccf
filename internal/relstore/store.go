// Package relstore is the relational source of truth for chunk bodies
// and curriculum facts. All reads are parameterized; the deterministic
// factual answers the router emits come from here.
package relstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/coursequery/coursequery/internal/chunk"
)

// ErrNotFound marks lookups that matched no rows.
var ErrNotFound = errors.New("relstore: not found")

// Store wraps the Postgres connection pool.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// New opens a pooled connection to databaseURL.
func New(databaseURL string, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Store{db: db, logger: logger}, nil
}

// NewWithDB wraps an existing connection, used by tests.
func NewWithDB(db *sqlx.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Ping checks connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close releases the pool.
func (s *Store) Close() error { return s.db.Close() }

type chunkRow struct {
	ChunkID   string         `db:"chunk_id"`
	ChunkType string         `db:"chunk_type"`
	Title     sql.NullString `db:"title"`
	Text      sql.NullString `db:"text"`
	Metadata  []byte         `db:"metadata"`
}

// FetchChunks loads full chunk rows for the given ids. Unknown ids are
// absent from the result map.
func (s *Store) FetchChunks(ctx context.Context, chunkIDs []string) (map[string]chunk.Chunk, error) {
	out := make(map[string]chunk.Chunk, len(chunkIDs))
	if len(chunkIDs) == 0 {
		return out, nil
	}
	var rows []chunkRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT chunk_id, chunk_type, title, text, metadata FROM chunks WHERE chunk_id = ANY($1)`,
		pq.Array(chunkIDs))
	if err != nil {
		return nil, fmt.Errorf("fetch chunks: %w", err)
	}
	for _, r := range rows {
		c := chunk.Chunk{
			ChunkID:   r.ChunkID,
			ChunkType: r.ChunkType,
			Title:     r.Title.String,
			Text:      r.Text.String,
		}
		if len(r.Metadata) > 0 {
			if err := json.Unmarshal(r.Metadata, &c.Metadata); err != nil {
				s.logger.Warn("Skipping malformed chunk metadata",
					zap.String("chunk_id", r.ChunkID), zap.Error(err))
			}
		}
		out[c.ChunkID] = c
	}
	return out, nil
}

// ResolveTopicID maps a topic code like "C1-T1" to its row id.
func (s *Store) ResolveTopicID(ctx context.Context, topicCode string) (int, error) {
	var id int
	err := s.db.GetContext(ctx, &id,
		`SELECT id FROM topics WHERE UPPER(code) = UPPER($1)`, topicCode)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("resolve topic %q: %w", topicCode, err)
	}
	return id, nil
}

// DateRange is an inclusive timestamp interval.
type DateRange struct {
	Earliest time.Time
	Latest   time.Time
}

// SingleDay reports whether the range starts and ends on the same
// calendar day.
func (r DateRange) SingleDay() bool {
	return r.Earliest.Year() == r.Latest.Year() && r.Earliest.YearDay() == r.Latest.YearDay()
}

// LearnedAtRange returns the earliest and latest class timestamps for a
// topic code, ErrNotFound when the topic is unknown or has no classes.
func (s *Store) LearnedAtRange(ctx context.Context, topicCode string) (DateRange, error) {
	topicID, err := s.ResolveTopicID(ctx, topicCode)
	if err != nil {
		return DateRange{}, err
	}
	var row struct {
		Earliest sql.NullTime `db:"earliest"`
		Latest   sql.NullTime `db:"latest"`
	}
	err = s.db.GetContext(ctx, &row,
		`SELECT MIN(learned_at) AS earliest, MAX(learned_at) AS latest FROM classes WHERE topic_id = $1`,
		topicID)
	if err != nil {
		return DateRange{}, fmt.Errorf("learned-at range for %q: %w", topicCode, err)
	}
	if !row.Earliest.Valid && !row.Latest.Valid {
		return DateRange{}, ErrNotFound
	}
	return DateRange{Earliest: row.Earliest.Time, Latest: row.Latest.Time}, nil
}

// CountClassesForTopic counts classes for a topic code.
func (s *Store) CountClassesForTopic(ctx context.Context, topicCode string) (int, error) {
	topicID, err := s.ResolveTopicID(ctx, topicCode)
	if err != nil {
		return 0, err
	}
	var cnt int
	err = s.db.GetContext(ctx, &cnt,
		`SELECT COUNT(*) FROM classes WHERE topic_id = $1`, topicID)
	if err != nil {
		return 0, fmt.Errorf("count classes for %q: %w", topicCode, err)
	}
	return cnt, nil
}

// CodeTitle is a (code, title) listing row.
type CodeTitle struct {
	Code  string `db:"code"`
	Title string `db:"title"`
}

// ListCourses returns all courses ordered by code.
func (s *Store) ListCourses(ctx context.Context) ([]CodeTitle, error) {
	var rows []CodeTitle
	err := s.db.SelectContext(ctx, &rows, `SELECT code, title FROM courses ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	return rows, nil
}

// ListTopics returns all topics ordered by code.
func (s *Store) ListTopics(ctx context.Context) ([]CodeTitle, error) {
	var rows []CodeTitle
	err := s.db.SelectContext(ctx, &rows, `SELECT code, title FROM topics ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	return rows, nil
}

// CourseCodeByTitle resolves a course code from an exact title match,
// falling back to a case-insensitive prefix match.
func (s *Store) CourseCodeByTitle(ctx context.Context, title string) (string, error) {
	var code string
	err := s.db.GetContext(ctx, &code,
		`SELECT code FROM courses WHERE UPPER(title) = UPPER($1)`, title)
	if errors.Is(err, sql.ErrNoRows) {
		err = s.db.GetContext(ctx, &code,
			`SELECT code FROM courses WHERE title ILIKE $1 || '%' ORDER BY code LIMIT 1`, title)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolve course by title %q: %w", title, err)
	}
	return code, nil
}

// CourseDateRange returns the first and last class timestamps across all
// topics of a course code.
func (s *Store) CourseDateRange(ctx context.Context, courseCode string) (DateRange, error) {
	var row struct {
		Earliest sql.NullTime `db:"earliest"`
		Latest   sql.NullTime `db:"latest"`
	}
	err := s.db.GetContext(ctx, &row,
		`SELECT MIN(cl.learned_at) AS earliest, MAX(cl.learned_at) AS latest
		 FROM classes cl
		 JOIN topics t ON cl.topic_id = t.id
		 JOIN courses co ON t.course_id = co.id
		 WHERE UPPER(co.code) = UPPER($1)`, courseCode)
	if err != nil {
		return DateRange{}, fmt.Errorf("course date range for %q: %w", courseCode, err)
	}
	if !row.Earliest.Valid && !row.Latest.Valid {
		return DateRange{}, ErrNotFound
	}
	return DateRange{Earliest: row.Earliest.Time, Latest: row.Latest.Time}, nil
}
