// Package prompt assembles the generation prompt from reranked evidence
// under a hard token budget, preserving fact lines when bodies must be
// truncated.
package prompt

import (
	"fmt"
	"strings"

	"github.com/coursequery/coursequery/internal/chunk"
)

// Refusal is the exact phrase the strict prompt instructs the model to
// emit when the evidence cannot support an answer. The verifier matches
// it byte-for-byte.
const Refusal = "I don't have that information in your database."

// Turn is one conversation exchange included as history context.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	defaultHistoryTurns   = 6
	defaultTurnCharLimit  = 800
	zeroFitFallbackBudget = 512
)

// Assembler builds prompts within maxTotalTokens, reserving
// reservedForAnswer tokens for the model's reply and overheadTokens for
// the template scaffolding.
type Assembler struct {
	tokenizer         Tokenizer
	maxTotalTokens    int
	reservedForAnswer int
	overheadTokens    int
}

// NewAssembler creates an assembler with the given budget. A nil
// tokenizer selects the whitespace approximation.
func NewAssembler(tokenizer Tokenizer, maxTotalTokens, reservedForAnswer, overheadTokens int) *Assembler {
	if tokenizer == nil {
		tokenizer = WhitespaceTokenizer{}
	}
	return &Assembler{
		tokenizer:         tokenizer,
		maxTotalTokens:    maxTotalTokens,
		reservedForAnswer: reservedForAnswer,
		overheadTokens:    overheadTokens,
	}
}

func safeType(t string) string {
	if t == "" {
		return "unknown"
	}
	return strings.Join(strings.Fields(t), "_")
}

// buildEvidence packs chunks into [CHUNK] blocks within the available
// token budget, in rerank order, up to contextK chunks.
func (a *Assembler) buildEvidence(contextChunks []chunk.Chunk, contextK int) string {
	available := a.maxTotalTokens - a.reservedForAnswer - a.overheadTokens
	used := 0
	included := 0
	var evidence strings.Builder

	for _, c := range contextChunks {
		if included >= contextK {
			break
		}
		header := fmt.Sprintf("[CHUNK id=%s type=%s]\n", c.ChunkID, safeType(c.ChunkType))
		headerTok := a.tokenizer.CountTokens(header)
		bodyTok := a.tokenizer.CountTokens(c.Text)

		if used+headerTok+bodyTok <= available {
			evidence.WriteString(header)
			evidence.WriteString(c.Text)
			evidence.WriteString("\n[/CHUNK]\n\n")
			used += headerTok + bodyTok
			included++
			continue
		}

		// trim the body to fit; 4 chars per token is a conservative map
		remainingTokens := max(0, available-used-headerTok)
		charBudget := max(80, remainingTokens*4)
		trimmed := TruncateHeadTailPreserveFacts(c.Text, charBudget)
		trimmedTok := a.tokenizer.CountTokens(trimmed)
		if trimmedTok+headerTok <= available-used && len(trimmed) > 0 {
			evidence.WriteString(header)
			evidence.WriteString(trimmed)
			evidence.WriteString("\n[/CHUNK]\n\n")
			used += headerTok + trimmedTok
			included++
		} else {
			break
		}
	}

	if included == 0 && len(contextChunks) > 0 {
		c := contextChunks[0]
		header := fmt.Sprintf("[CHUNK id=%s type=%s]\n", c.ChunkID, safeType(c.ChunkType))
		evidence.WriteString(header)
		evidence.WriteString(TruncateHeadTailPreserveFacts(c.Text, zeroFitFallbackBudget))
		evidence.WriteString("\n[/CHUNK]\n\n")
	}
	return evidence.String()
}

// buildHistory renders up to the last defaultHistoryTurns turns, keeping
// the tail of turns longer than the per-turn cap.
func buildHistory(history []Turn) string {
	if len(history) == 0 {
		return ""
	}
	if len(history) > defaultHistoryTurns {
		history = history[len(history)-defaultHistoryTurns:]
	}
	var sb strings.Builder
	sb.WriteString("[HISTORY]\n")
	for _, t := range history {
		content := t.Content
		if len(content) > defaultTurnCharLimit {
			content = "..." + content[len(content)-defaultTurnCharLimit:]
		}
		sb.WriteString(t.Role)
		sb.WriteString(": ")
		sb.WriteString(content)
		sb.WriteByte('\n')
	}
	sb.WriteByte('\n')
	return sb.String()
}

// BuildStrict produces the citation-enforcing prompt variant.
func (a *Assembler) BuildStrict(contextChunks []chunk.Chunk, userQuestion string, contextK int, history []Turn) string {
	var p strings.Builder
	p.WriteString("[SYSTEM]\n")
	p.WriteString("You are a factual assistant. You may only use the evidence excerpts provided below to answer the user's question. If the evidence does not support the question, say exactly: \"" + Refusal + "\"\n\n")
	p.WriteString("[EVIDENCE]\n")
	p.WriteString(a.buildEvidence(contextChunks, contextK))
	p.WriteString(buildHistory(history))
	p.WriteString("[USER QUESTION]\n")
	p.WriteString(userQuestion)
	p.WriteString("\n\n[INSTRUCTIONS]\n")
	p.WriteString("1. Answer concisely (1-3 sentences).\n")
	p.WriteString("2. Base every factual claim only on the evidence above.\n")
	p.WriteString("3. If you state a fact present in the evidence, append the source bracket(s) for that fact: [source: <CHUNK_ID>].\n")
	p.WriteString("4. Never invent dates, numbers or facts. If a fact is not present, respond: \"" + Refusal + "\"\n")
	p.WriteString("5. If you compute a numeric aggregation, use only numbers explicitly present in the evidence and show the short calculation in square brackets, e.g., \"[calc: 2+3=5]\".\n")
	p.WriteString("6. If the question asks for explanation + fact, put the fact first (with source), then one short explanation sentence that does not include new factual claims.\n\n")
	p.WriteString("[OUTPUT FORMAT]\n")
	p.WriteString("Answer: <one paragraph (1-3 sentences)>\n")
	p.WriteString("Sources: <comma-separated CHUNK_IDs used>\n")
	p.WriteString("Optional SQL: <SQL snippet or \"N/A\">\n\n")
	p.WriteString("[END]\n")
	return p.String()
}

// BuildLenient produces the best-effort variant used on low-confidence
// retrievals. The low-confidence disclaimer is prepended to the answer by
// the caller, not embedded in the prompt.
func (a *Assembler) BuildLenient(contextChunks []chunk.Chunk, userQuestion string, contextK int, history []Turn) string {
	var p strings.Builder
	p.WriteString("[SYSTEM]\n")
	p.WriteString("You are a helpful assistant. Use the evidence excerpts below where relevant, and answer the user's question as best you can. Prefer evidence-backed statements and cite them as [source: <CHUNK_ID>]; clearly hedge anything that goes beyond the evidence.\n\n")
	p.WriteString("[EVIDENCE]\n")
	p.WriteString(a.buildEvidence(contextChunks, contextK))
	p.WriteString(buildHistory(history))
	p.WriteString("[USER QUESTION]\n")
	p.WriteString(userQuestion)
	p.WriteString("\n\n[INSTRUCTIONS]\n")
	p.WriteString("1. Answer concisely (1-3 sentences).\n")
	p.WriteString("2. Cite evidence you rely on with [source: <CHUNK_ID>].\n")
	p.WriteString("3. Do not fabricate specific dates or numbers.\n\n")
	p.WriteString("[END]\n")
	return p.String()
}
