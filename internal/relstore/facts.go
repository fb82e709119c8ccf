package relstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ClassOnDate is a class row joined with its topic.
type ClassOnDate struct {
	ClassID    int       `db:"class_id"`
	LearnedAt  time.Time `db:"learned_at"`
	TopicCode  string    `db:"topic_code"`
	TopicTitle string    `db:"topic_title"`
}

// TopicsOnDate lists classes held on the given calendar day, topic order.
func (s *Store) TopicsOnDate(ctx context.Context, day time.Time) ([]ClassOnDate, error) {
	var rows []ClassOnDate
	err := s.db.SelectContext(ctx, &rows,
		`SELECT c.id AS class_id, c.learned_at, t.code AS topic_code, t.title AS topic_title
		 FROM classes c JOIN topics t ON c.topic_id = t.id
		 WHERE DATE(c.learned_at) = $1 ORDER BY t.code`,
		day.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("topics on date: %w", err)
	}
	return rows, nil
}

// ListClassesOnDate lists classes held on the given day in session order.
func (s *Store) ListClassesOnDate(ctx context.Context, day time.Time) ([]ClassOnDate, error) {
	var rows []ClassOnDate
	err := s.db.SelectContext(ctx, &rows,
		`SELECT c.id AS class_id, c.learned_at, t.code AS topic_code, t.title AS topic_title
		 FROM classes c JOIN topics t ON c.topic_id = t.id
		 WHERE DATE(c.learned_at) = $1 ORDER BY c.learned_at`,
		day.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("classes on date: %w", err)
	}
	return rows, nil
}

// Assignment is an assignment listing row.
type Assignment struct {
	ID      int          `db:"assignment_id"`
	Title   string       `db:"title"`
	DueDate sql.NullTime `db:"due_date"`
}

// AssignmentsDueOnDate lists assignments due on the given day.
func (s *Store) AssignmentsDueOnDate(ctx context.Context, day time.Time) ([]Assignment, error) {
	var rows []Assignment
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id AS assignment_id, title, due_date FROM assignments WHERE due_date = $1 ORDER BY due_date`,
		day.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("assignments due on date: %w", err)
	}
	return rows, nil
}

// AssignmentsForClass lists assignments attached to a class's topic.
func (s *Store) AssignmentsForClass(ctx context.Context, classID, limit int) ([]Assignment, error) {
	var rows []Assignment
	err := s.db.SelectContext(ctx, &rows,
		`SELECT a.id AS assignment_id, a.title, a.due_date
		 FROM assignments a
		 JOIN assignment_topics at ON a.id = at.assignment_id
		 JOIN classes c ON at.topic_id = c.topic_id
		 WHERE c.id = $1 ORDER BY a.due_date LIMIT $2`,
		classID, limit)
	if err != nil {
		return nil, fmt.Errorf("assignments for class %d: %w", classID, err)
	}
	return rows, nil
}

// TopicsNeverTaught lists topics that have no classes.
func (s *Store) TopicsNeverTaught(ctx context.Context) ([]CodeTitle, error) {
	var rows []CodeTitle
	err := s.db.SelectContext(ctx, &rows,
		`SELECT t.code, t.title FROM topics t
		 LEFT JOIN classes c ON c.topic_id = t.id
		 WHERE c.id IS NULL ORDER BY t.code`)
	if err != nil {
		return nil, fmt.Errorf("topics never taught: %w", err)
	}
	return rows, nil
}

// TopicAssignmentCount is a topic with its assignment tally.
type TopicAssignmentCount struct {
	Code  string `db:"code"`
	Title string `db:"title"`
	Count int    `db:"cnt"`
}

// CountAssignmentsPerTopic tallies assignments per topic, zeros included.
func (s *Store) CountAssignmentsPerTopic(ctx context.Context) ([]TopicAssignmentCount, error) {
	var rows []TopicAssignmentCount
	err := s.db.SelectContext(ctx, &rows,
		`SELECT t.code, t.title, COUNT(at.assignment_id) AS cnt
		 FROM topics t LEFT JOIN assignment_topics at ON at.topic_id = t.id
		 GROUP BY t.id, t.code, t.title ORDER BY cnt DESC`)
	if err != nil {
		return nil, fmt.Errorf("count assignments per topic: %w", err)
	}
	return rows, nil
}

// TopicsWithMostAssignments returns the top topics by assignment count.
func (s *Store) TopicsWithMostAssignments(ctx context.Context, limit int) ([]TopicAssignmentCount, error) {
	var rows []TopicAssignmentCount
	err := s.db.SelectContext(ctx, &rows,
		`SELECT t.code, t.title, COUNT(at.assignment_id) AS cnt
		 FROM topics t JOIN assignment_topics at ON at.topic_id = t.id
		 GROUP BY t.id, t.code, t.title ORDER BY cnt DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("topics with most assignments: %w", err)
	}
	return rows, nil
}
