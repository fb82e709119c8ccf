package lexical

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/coursequery/coursequery/internal/chunk"
)

func sampleChunks() []chunk.Chunk {
	return []chunk.Chunk{
		{ChunkID: "TOPIC-11", ChunkType: chunk.TypeTopic, Title: "Photosynthesis", Text: "Plants convert light into chemical energy through photosynthesis."},
		{ChunkID: "TOPIC-12", ChunkType: chunk.TypeTopic, Title: "Cell Respiration", Text: "Cells release energy from glucose during respiration."},
		{ChunkID: "CLASS-3", ChunkType: chunk.TypeClass, Title: "Biology Lecture 3", Text: "Covered photosynthesis and the light-dependent reactions."},
	}
}

func TestSearchMissingIndexReturnsEmpty(t *testing.T) {
	li, err := Open(filepath.Join(t.TempDir(), "absent.bleve"), zap.NewNop())
	require.NoError(t, err)
	defer li.Close()

	hits, err := li.Search(context.Background(), "photosynthesis", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Zero(t, li.DocCount())
}

func TestRebuildAndSearch(t *testing.T) {
	li, err := Open(filepath.Join(t.TempDir(), "lexical.bleve"), zap.NewNop())
	require.NoError(t, err)
	defer li.Close()

	require.NoError(t, li.Rebuild(sampleChunks()))
	assert.EqualValues(t, 3, li.DocCount())

	hits, err := li.Search(context.Background(), "photosynthesis", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.ChunkID)
		assert.Greater(t, h.Score, 0.0)
	}
	assert.Contains(t, ids, "TOPIC-11")
	assert.Contains(t, ids, "CLASS-3")
	assert.NotContains(t, ids, "TOPIC-12")
}

func TestRebuildReplacesContents(t *testing.T) {
	li, err := Open(filepath.Join(t.TempDir(), "lexical.bleve"), zap.NewNop())
	require.NoError(t, err)
	defer li.Close()

	require.NoError(t, li.Rebuild(sampleChunks()))
	require.NoError(t, li.Rebuild([]chunk.Chunk{
		{ChunkID: "TOPIC-99", ChunkType: chunk.TypeTopic, Title: "Mitosis", Text: "Cell division produces two identical daughter cells."},
	}))
	assert.EqualValues(t, 1, li.DocCount())

	hits, err := li.Search(context.Background(), "photosynthesis", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = li.Search(context.Background(), "mitosis", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "TOPIC-99", hits[0].ChunkID)
}

func TestSearchLimit(t *testing.T) {
	li, err := Open(filepath.Join(t.TempDir(), "lexical.bleve"), zap.NewNop())
	require.NoError(t, err)
	defer li.Close()

	require.NoError(t, li.Rebuild(sampleChunks()))
	hits, err := li.Search(context.Background(), "energy photosynthesis respiration", 1)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}
