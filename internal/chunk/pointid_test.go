package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Fixed vector shared with the ingestion tooling. Any change here breaks
// point lookups for already-ingested corpora.
const topic11PointID = "4fb7254c-aeba-3e25-9d34-c904efb9f595"

func TestPointIDFixedVector(t *testing.T) {
	assert.Equal(t, topic11PointID, PointIDString("TOPIC-11"))
}

func TestPointIDDeterministic(t *testing.T) {
	ids := []string{"TOPIC-11", "COURSE-1", "SQL-count_classes_C1-T1", "", "C1-T1-CLS-3"}
	for _, id := range ids {
		a := PointID(id)
		b := PointID(id)
		assert.Equal(t, a, b, "point id must be stable for %q", id)
	}
}

func TestPointIDVersionAndVariant(t *testing.T) {
	u := PointID("TOPIC-11")
	require.Equal(t, byte(0x30), u[6]&0xf0, "version nibble must be 3")
	require.Equal(t, byte(0x80), u[8]&0xc0, "variant bits must be RFC 4122")
}

func TestPointIDDistinct(t *testing.T) {
	assert.NotEqual(t, PointID("TOPIC-11"), PointID("TOPIC-12"))
}

func TestCandidateChunkID(t *testing.T) {
	c := &Candidate{ID: topic11PointID, Payload: map[string]interface{}{"chunk_id": "TOPIC-11"}}
	assert.Equal(t, "TOPIC-11", c.ChunkID())

	bare := &Candidate{ID: "TOPIC-11"}
	assert.Equal(t, "TOPIC-11", bare.ChunkID())
}

func TestKnownType(t *testing.T) {
	for _, typ := range []string{TypeCourse, TypeTopic, TypeTopicSummary, TypeClass, TypeAssignment, TypeSQLResult} {
		assert.True(t, KnownType(typ))
	}
	assert.False(t, KnownType("lecture"))
}
