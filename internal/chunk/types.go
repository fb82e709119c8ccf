package chunk

// Chunk type values persisted in the relational store and mirrored into
// vector point payloads.
const (
	TypeCourse       = "course"
	TypeTopic        = "topic"
	TypeTopicSummary = "topic-summary"
	TypeClass        = "class"
	TypeAssignment   = "assignment"
	TypeSQLResult    = "sql-result"
)

// Chunk is the atomic unit of retrievable evidence. The relational store
// owns chunk rows; vector point payloads carry a projection of the same
// fields.
type Chunk struct {
	ChunkID   string                 `json:"chunk_id" db:"chunk_id"`
	ChunkType string                 `json:"chunk_type" db:"chunk_type"`
	Title     string                 `json:"title" db:"title"`
	Text      string                 `json:"text" db:"text"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`

	// SQL holds the statement that produced a synthetic sql-result chunk,
	// kept for display only.
	SQL string `json:"sql,omitempty"`
}

// IsSQLResult reports whether the chunk was synthesized from a relational
// query rather than retrieved from the corpus.
func (c *Chunk) IsSQLResult() bool {
	return c.ChunkType == TypeSQLResult
}

// Candidate is an in-flight retrieval record. Vector and Payload may be nil
// until hydrated via a point fetch.
type Candidate struct {
	ID      string
	Score   float64
	Vector  []float32
	Payload map[string]interface{}
}

// ChunkID returns the corpus identifier for the candidate: the payload
// chunk_id when present, otherwise the point id itself (lexical hits carry
// the chunk id directly).
func (c *Candidate) ChunkID() string {
	if c.Payload != nil {
		if v, ok := c.Payload["chunk_id"].(string); ok && v != "" {
			return v
		}
	}
	return c.ID
}

// KnownType reports whether t is one of the closed set of chunk types.
func KnownType(t string) bool {
	switch t {
	case TypeCourse, TypeTopic, TypeTopicSummary, TypeClass, TypeAssignment, TypeSQLResult:
		return true
	}
	return false
}
