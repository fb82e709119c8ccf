package prompt

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/coursequery/coursequery/internal/chunk"
)

func ch(id, typ, text string) chunk.Chunk {
	return chunk.Chunk{ChunkID: id, ChunkType: typ, Text: text}
}

func TestWhitespaceTokenizer(t *testing.T) {
	tok := WhitespaceTokenizer{}
	assert.Equal(t, 0, tok.CountTokens(""))
	assert.Equal(t, 0, tok.CountTokens("   "))
	assert.Equal(t, 3, tok.CountTokens("one two three"))
	assert.Equal(t, 2, tok.CountTokens("  padded   words  "))
}

func TestTruncatePreservesFactLines(t *testing.T) {
	text := "Total classes: 5\n" + strings.Repeat("filler sentence about the topic. ", 50) + "\nlearned at: 2025-06-21"
	out := TruncateHeadTailPreserveFacts(text, 200)
	assert.Contains(t, out, "Total classes: 5")
	assert.Contains(t, out, "learned at: 2025-06-21")
	assert.Contains(t, out, "\n...\n")
	assert.Less(t, len(out), len(text))
}

func TestTruncateShortTextUnchanged(t *testing.T) {
	assert.Equal(t, "short", TruncateHeadTailPreserveFacts("short", 100))
	assert.Equal(t, "", TruncateHeadTailPreserveFacts("", 100))
}

func TestTruncateKeepsValidUTF8(t *testing.T) {
	// 3-byte runes: odd byte budgets land the cut points mid-rune
	text := strings.Repeat("日本語テキスト", 60)
	for _, budget := range []int{37, 50, 101, 200} {
		out := TruncateHeadTailPreserveFacts(text, budget)
		assert.True(t, utf8.ValidString(out), "budget %d produced invalid UTF-8", budget)
	}

	// fact-only truncation path as well
	facts := "Total classes: 5 日本語の補足" + strings.Repeat("あ", 40)
	out := TruncateHeadTailPreserveFacts(facts+"\n"+strings.Repeat("x", 300), 25)
	assert.True(t, utf8.ValidString(out))
}

func TestTruncateOnlyFactsFit(t *testing.T) {
	text := "due date: 2025-09-01\n" + strings.Repeat("x", 500)
	out := TruncateHeadTailPreserveFacts(text, 21)
	assert.Contains(t, out, "due date: 2025-09-01")
	assert.LessOrEqual(t, len(out), 21)
}

func TestBuildStrictContainsTemplateSections(t *testing.T) {
	a := NewAssembler(nil, 4096, 400, 200)
	p := a.BuildStrict([]chunk.Chunk{ch("TOPIC-11", "topic", "Databases store data.")}, "Describe databases", 4, nil)

	assert.Contains(t, p, "[SYSTEM]")
	assert.Contains(t, p, "[EVIDENCE]")
	assert.Contains(t, p, "[CHUNK id=TOPIC-11 type=topic]")
	assert.Contains(t, p, "Databases store data.")
	assert.Contains(t, p, "[USER QUESTION]\nDescribe databases")
	assert.Contains(t, p, Refusal)
	assert.Contains(t, p, "[source: <CHUNK_ID>]")
	assert.Contains(t, p, "[OUTPUT FORMAT]")
}

func TestBuildRespectsContextK(t *testing.T) {
	a := NewAssembler(nil, 4096, 400, 200)
	chunks := []chunk.Chunk{
		ch("A", "topic", "first"),
		ch("B", "topic", "second"),
		ch("C", "topic", "third"),
	}
	p := a.BuildStrict(chunks, "q", 2, nil)
	assert.Contains(t, p, "[CHUNK id=A")
	assert.Contains(t, p, "[CHUNK id=B")
	assert.NotContains(t, p, "[CHUNK id=C")
}

func TestBuildRespectsTokenBudget(t *testing.T) {
	tok := WhitespaceTokenizer{}
	// tiny budget: 60 total - 20 reserved - 10 overhead = 30 evidence tokens
	a := NewAssembler(tok, 60, 20, 10)
	long := strings.Repeat("word ", 500)
	p := a.BuildStrict([]chunk.Chunk{ch("BIG", "topic", long)}, "q", 4, nil)

	// the evidence section must have been truncated, not included whole
	assert.Contains(t, p, "[CHUNK id=BIG")
	assert.Less(t, len(p), len(long))
}

func TestZeroFitFallbackIncludesTopChunk(t *testing.T) {
	a := NewAssembler(WhitespaceTokenizer{}, 10, 5, 5) // available = 0
	p := a.BuildStrict([]chunk.Chunk{ch("ONLY", "class", strings.Repeat("text ", 400))}, "q", 4, nil)
	assert.Contains(t, p, "[CHUNK id=ONLY")
}

func TestHistoryKeepsLastSixTurnsAndTailOfLongTurns(t *testing.T) {
	a := NewAssembler(nil, 4096, 400, 200)
	var history []Turn
	for i := 0; i < 8; i++ {
		history = append(history, Turn{Role: "user", Content: strings.Repeat("a", 10) + string(rune('0'+i))})
	}
	longTail := strings.Repeat("z", 900) + "THE-END"
	history = append(history, Turn{Role: "assistant", Content: longTail})

	p := a.BuildStrict([]chunk.Chunk{ch("A", "topic", "x")}, "q", 4, history)
	assert.Contains(t, p, "[HISTORY]")
	assert.Contains(t, p, "THE-END")
	// dropped turns (oldest) must be absent
	assert.NotContains(t, p, "aaaaaaaaaa0")
	// long turn keeps only its tail
	assert.NotContains(t, p, strings.Repeat("z", 900))
}

func TestBuildLenientOmitsRefusalMandate(t *testing.T) {
	a := NewAssembler(nil, 4096, 400, 200)
	p := a.BuildLenient([]chunk.Chunk{ch("A", "topic", "x")}, "q", 4, nil)
	assert.NotContains(t, p, Refusal)
	assert.Contains(t, p, "[source: <CHUNK_ID>]")
}

func TestSafeTypeNormalizesWhitespace(t *testing.T) {
	a := NewAssembler(nil, 4096, 400, 200)
	p := a.BuildStrict([]chunk.Chunk{ch("A", "topic summary", "x")}, "q", 4, nil)
	assert.Contains(t, p, "type=topic_summary]")
}
