package verify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursequery/coursequery/internal/chunk"
	"github.com/coursequery/coursequery/internal/prompt"
)

func evidence() []chunk.Chunk {
	return []chunk.Chunk{
		{ChunkID: "TOPIC-11", Text: "Databases and SQL. Total classes: 5. learned at 2025-06-21."},
		{ChunkID: "SQL-count_classes_C1-T1", Text: "SQL_RESULT for topic=C1-T1\nTotal classes: 5\n"},
	}
}

func TestRefusalPasses(t *testing.T) {
	res := New(evidence()).Verify(prompt.Refusal)
	assert.True(t, res.OK)
	assert.True(t, res.IsRefusal)
}

func TestMissingCitationFails(t *testing.T) {
	res := New(evidence()).Verify("There are 5 classes.")
	assert.False(t, res.OK)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "No source citation")
}

func TestValidCitedAnswerPasses(t *testing.T) {
	res := New(evidence()).Verify("You have 5 classes for C1-T1. [source: SQL-count_classes_C1-T1]")
	assert.True(t, res.OK, res.Errors)
	assert.Equal(t, []string{"SQL-count_classes_C1-T1"}, res.Cited)
	assert.False(t, res.IsRefusal)
}

func TestCitationCaseInsensitive(t *testing.T) {
	res := New(evidence()).Verify("Total classes: 5. [source: topic-11]")
	assert.True(t, res.OK, res.Errors)
}

func TestUnknownCitationFails(t *testing.T) {
	res := New(evidence()).Verify("Fact. [source: GHOST-1]")
	assert.False(t, res.OK)
	assert.Contains(t, res.Errors[0], "GHOST-1")
}

func TestCommaSeparatedCitations(t *testing.T) {
	res := New(evidence()).Verify("5 classes on 2025-06-21. [source: TOPIC-11, SQL-count_classes_C1-T1]")
	assert.True(t, res.OK, res.Errors)
	assert.Len(t, res.Cited, 2)
}

func TestUngroundedNumberFails(t *testing.T) {
	res := New(evidence()).Verify("You have 7 classes. [source: TOPIC-11]")
	assert.False(t, res.OK)
	assert.Contains(t, res.Errors[0], "'7'")
}

func TestUngroundedDateFails(t *testing.T) {
	res := New(evidence()).Verify("Learned on 2024-01-01. [source: TOPIC-11]")
	assert.False(t, res.OK)
}

func TestGroundedDatePasses(t *testing.T) {
	res := New(evidence()).Verify("Learned on 2025-06-21. [source: TOPIC-11]")
	assert.True(t, res.OK, res.Errors)
}

func TestCalcCheckPasses(t *testing.T) {
	ev := []chunk.Chunk{{ChunkID: "A", Text: "counts 2 and 3 and 5"}}
	res := New(ev).Verify("Together that is 5 [calc: 2+3=5]. [source: A]")
	assert.True(t, res.OK, res.Errors)
}

func TestCalcMismatchFails(t *testing.T) {
	ev := []chunk.Chunk{{ChunkID: "A", Text: "counts 2 and 3 and 6"}}
	res := New(ev).Verify("Total 6 [calc: 2+3=6]. [source: A]")
	assert.False(t, res.OK)
	assert.Contains(t, res.Errors[0], "Calc mismatch")
}

func TestEvalExpressions(t *testing.T) {
	cases := map[string]float64{
		"2+3":        5,
		"2 + 3 * 4":  14,
		"(2+3)*4":    20,
		"-2+5":       3,
		"+4/2":       2,
		"10/4":       2.5,
		"1.5*2":      3,
		"-(2+1)":     -3,
		"2--3":       5,
	}
	for expr, want := range cases {
		got, err := Eval(expr)
		require.NoError(t, err, expr)
		assert.InDelta(t, want, got, 1e-9, expr)
	}
}

func TestEvalErrors(t *testing.T) {
	for _, expr := range []string{"", "2+", "(2+3", "abc", "2+3)"} {
		_, err := Eval(expr)
		assert.Error(t, err, expr)
	}
}

func TestEmptyOutputFails(t *testing.T) {
	res := New(evidence()).Verify("   ")
	assert.False(t, res.OK)
}
