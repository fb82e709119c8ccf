package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/coursequery/coursequery/internal/chunk"
	"github.com/coursequery/coursequery/internal/intent"
	"github.com/coursequery/coursequery/internal/llm"
	"github.com/coursequery/coursequery/internal/metrics"
	"github.com/coursequery/coursequery/internal/prompt"
	"github.com/coursequery/coursequery/internal/rerank"
	"github.com/coursequery/coursequery/internal/retry"
	"github.com/coursequery/coursequery/internal/verify"
)

// Canonical response strings.
const (
	GreetingAnswer = "Hello! How can I help you with your learning topics today?"

	// LowConfidencePrefix is prepended to best-effort answers produced on
	// weak retrievals.
	LowConfidencePrefix = "I couldn't find a matching authoritative record in your database. Based on semantic evidence (low confidence), "
)

// Confidence labels.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// QueryResult is the structured answer returned to the HTTP layer.
type QueryResult struct {
	Answer         string       `json:"answer"`
	Sources        []string     `json:"sources"`
	Intent         string       `json:"intent"`
	Confidence     string       `json:"confidence"`
	SQL            string       `json:"sql,omitempty"`
	RetrievalChain []ChainEntry `json:"retrieval_chain,omitempty"`
}

var (
	listCoursesRe = regexp.MustCompile(`(?i)\b(list|what\s+are\s+the|which|show)\b.*\bcourses?\b`)
	listTopicsRe  = regexp.MustCompile(`(?i)\b(list|what\s+are\s+the|which|show)\b.*\btopics?\b`)
	learnedRe     = regexp.MustCompile(`(?i)\bwhen\b`)
	countRe       = regexp.MustCompile(`(?i)\b(how\s+many|count)\b`)
)

// sqlFact is a successful deterministic relational lookup: the synthetic
// evidence chunk, the display SQL, and the canonical answer sentence.
type sqlFact struct {
	Chunk  chunk.Chunk
	SQL    string
	Answer string
}

func sqlChunk(idSuffix, title, body string) chunk.Chunk {
	return chunk.Chunk{
		ChunkID:   "SQL-" + idSuffix,
		ChunkType: chunk.TypeSQLResult,
		Title:     title,
		Text:      body,
	}
}

func humanDate(t time.Time) string { return t.Format("January 2, 2006") }

// tryFactual attempts the closed set of deterministic relational queries
// in order. A nil result means no handler matched or the store had no
// answer; the caller then falls back to the semantic path.
func (o *Orchestrator) tryFactual(ctx context.Context, query string) (*sqlFact, error) {
	topicCode := intent.ExtractTopicCode(query)

	switch {
	case listCoursesRe.MatchString(query):
		courses, err := o.deps.Facts.ListCourses(ctx)
		if err != nil {
			return nil, err
		}
		if len(courses) == 0 {
			return nil, nil
		}
		parts := make([]string, len(courses))
		var body strings.Builder
		body.WriteString("SQL_RESULT courses\n")
		for i, c := range courses {
			parts[i] = fmt.Sprintf("%s (%s)", c.Code, c.Title)
			fmt.Fprintf(&body, "%s: %s\n", c.Code, c.Title)
		}
		return &sqlFact{
			Chunk:  sqlChunk("list_courses", "Courses", body.String()),
			SQL:    "SELECT code, title FROM courses ORDER BY code",
			Answer: fmt.Sprintf("You have %d courses: %s.", len(courses), strings.Join(parts, ", ")),
		}, nil

	case listTopicsRe.MatchString(query):
		topics, err := o.deps.Facts.ListTopics(ctx)
		if err != nil {
			return nil, err
		}
		if len(topics) == 0 {
			return nil, nil
		}
		parts := make([]string, len(topics))
		var body strings.Builder
		body.WriteString("SQL_RESULT topics\n")
		for i, t := range topics {
			parts[i] = fmt.Sprintf("%s (%s)", t.Code, t.Title)
			fmt.Fprintf(&body, "%s: %s\n", t.Code, t.Title)
		}
		return &sqlFact{
			Chunk:  sqlChunk("list_topics", "Topics", body.String()),
			SQL:    "SELECT code, title FROM topics ORDER BY code",
			Answer: fmt.Sprintf("You have %d topics: %s.", len(topics), strings.Join(parts, ", ")),
		}, nil

	case topicCode != "" && learnedRe.MatchString(query):
		r, err := o.deps.Facts.LearnedAtRange(ctx, topicCode)
		if err != nil {
			// unknown topic falls through to semantic retrieval
			o.deps.Logger.Debug("No learned-at range", zap.String("topic", topicCode), zap.Error(err))
			return nil, nil
		}
		body := fmt.Sprintf("SQL_RESULT for topic=%s\nearliest: %s\nlatest: %s\n",
			topicCode, r.Earliest.Format(time.RFC3339), r.Latest.Format(time.RFC3339))
		answer := fmt.Sprintf("You learned %s between %s and %s.", topicCode, humanDate(r.Earliest), humanDate(r.Latest))
		if r.SingleDay() {
			answer = fmt.Sprintf("You learned %s on %s.", topicCode, humanDate(r.Earliest))
		}
		return &sqlFact{
			Chunk:  sqlChunk("learned_range_"+topicCode, "Learned-at range "+topicCode, body),
			SQL:    "SELECT MIN(learned_at), MAX(learned_at) FROM classes WHERE topic_id = (SELECT id FROM topics WHERE UPPER(code) = UPPER('" + topicCode + "'))",
			Answer: answer,
		}, nil

	case topicCode != "" && countRe.MatchString(query):
		n, err := o.deps.Facts.CountClassesForTopic(ctx, topicCode)
		if err != nil {
			o.deps.Logger.Debug("No class count", zap.String("topic", topicCode), zap.Error(err))
			return nil, nil
		}
		body := fmt.Sprintf("SQL_RESULT for topic=%s\nTotal classes: %d\n", topicCode, n)
		return &sqlFact{
			Chunk:  sqlChunk("count_classes_"+topicCode, "Class count "+topicCode, body),
			SQL:    "SELECT COUNT(*) FROM classes WHERE topic_id = (SELECT id FROM topics WHERE UPPER(code) = UPPER('" + topicCode + "'))",
			Answer: fmt.Sprintf("You have %d classes for %s.", n, topicCode),
		}, nil
	}
	return nil, nil
}

// injectAndRerank puts the SQL chunk in front of the retrieved context
// and re-scores the merged set so relational evidence competes with the
// semantic candidates. The SQL chunk is pinned first regardless of score.
func (o *Orchestrator) injectAndRerank(ctx context.Context, query string, retr *Retrieval, fact *sqlFact) []chunk.Chunk {
	// cached from the retrieval that produced retr; without it the cosine
	// fallback cannot discriminate and only sort stability orders items
	qvec, err := o.embed(ctx, query)
	if err != nil {
		o.deps.Logger.Debug("Query embedding unavailable for rerank", zap.Error(err))
		qvec = nil
	}

	items := make([]rerank.Item, 0, len(retr.Context))
	for _, c := range retr.Context {
		if c.ChunkID == fact.Chunk.ChunkID {
			continue
		}
		items = append(items, rerank.Item{Chunk: c, Vector: retr.Vectors[c.ChunkID]})
	}
	ranked := o.deps.Reranker.Rerank(ctx, query, qvec, items)

	merged := make([]chunk.Chunk, 0, len(ranked)+1)
	merged = append(merged, fact.Chunk)
	for _, it := range ranked {
		if len(merged) >= o.cfg.ContextK {
			break
		}
		merged = append(merged, it.Chunk)
	}
	return merged
}

func sourcesOf(chunks []chunk.Chunk) []string {
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, c.ChunkID)
	}
	return out
}

// Ask answers a query end to end.
func (o *Orchestrator) Ask(ctx context.Context, query string, history []prompt.Turn) (*QueryResult, error) {
	start := time.Now()
	label := intent.Classify(query)
	res, err := o.dispatch(ctx, query, history, label)
	if err != nil {
		return nil, err
	}
	metrics.RecordQuery(res.Intent, res.Confidence, time.Since(start).Seconds())
	return res, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, query string, history []prompt.Turn, label intent.Intent) (*QueryResult, error) {
	switch label {
	case intent.Greeting:
		return &QueryResult{
			Answer:     GreetingAnswer,
			Intent:     string(intent.Greeting),
			Confidence: ConfidenceHigh,
			Sources:    []string{},
		}, nil

	case intent.Factual:
		fact, err := o.tryFactual(ctx, query)
		if err != nil {
			return nil, err
		}
		if fact != nil {
			return o.answerFactual(ctx, query, fact)
		}
		// no relational match: semantic path under the FACTUAL label
		return o.answerSemantic(ctx, query, history, string(intent.Factual))

	case intent.Mixed:
		fact, err := o.tryFactual(ctx, query)
		if err != nil {
			return nil, err
		}
		if fact != nil {
			return o.answerMixed(ctx, query, history, fact)
		}
		return o.answerSemantic(ctx, query, history, string(intent.Mixed))

	default:
		return o.answerSemantic(ctx, query, history, string(intent.Semantic))
	}
}

// answerFactual emits the deterministic sentence; the SQL chunk is still
// injected and reranked against the semantic context so sources and the
// retrieval chain reflect the full evidence set.
func (o *Orchestrator) answerFactual(ctx context.Context, query string, fact *sqlFact) (*QueryResult, error) {
	sources := []string{fact.Chunk.ChunkID}
	var chain []ChainEntry

	retr, err := o.Retrieve(ctx, query)
	if err != nil {
		// the deterministic answer stands even when retrieval is down
		o.deps.Logger.Warn("Retrieval failed on factual path", zap.Error(err))
	} else {
		merged := o.injectAndRerank(ctx, query, retr, fact)
		sources = sourcesOf(merged)
		chain = retr.Chain
	}

	return &QueryResult{
		Answer:         fact.Answer,
		Sources:        sources,
		Intent:         string(intent.Factual),
		Confidence:     ConfidenceHigh,
		SQL:            fact.SQL,
		RetrievalChain: chain,
	}, nil
}

// answerMixed injects the SQL chunk into the RAG context and asks the
// generator to compose fact and explanation.
func (o *Orchestrator) answerMixed(ctx context.Context, query string, history []prompt.Turn, fact *sqlFact) (*QueryResult, error) {
	retr, err := o.Retrieve(ctx, query)
	if err != nil {
		return nil, err
	}
	merged := o.injectAndRerank(ctx, query, retr, fact)

	promptText := o.deps.Assembler.BuildStrict(merged, query, o.cfg.ContextK, history)
	answer, err := o.generate(ctx, promptText)
	if err != nil {
		return nil, err
	}
	confidence := o.verifyConfidence(answer, merged, ConfidenceHigh)

	return &QueryResult{
		Answer:         answer,
		Sources:        sourcesOf(merged),
		Intent:         string(intent.Mixed),
		Confidence:     confidence,
		SQL:            fact.SQL,
		RetrievalChain: retr.Chain,
	}, nil
}

// answerSemantic is pure RAG. Weak retrievals switch to the lenient
// prompt and carry the low-confidence disclaimer.
func (o *Orchestrator) answerSemantic(ctx context.Context, query string, history []prompt.Turn, label string) (*QueryResult, error) {
	retr, err := o.Retrieve(ctx, query)
	if err != nil {
		return nil, err
	}

	lowConfidence := retr.Top1 < o.cfg.RAGScoreFallbackThreshold

	var promptText string
	if lowConfidence {
		promptText = o.deps.Assembler.BuildLenient(retr.Context, query, o.cfg.ContextK, history)
	} else {
		promptText = o.deps.Assembler.BuildStrict(retr.Context, query, o.cfg.ContextK, history)
	}
	answer, err := o.generate(ctx, promptText)
	if err != nil {
		return nil, err
	}

	confidence := ConfidenceHigh
	if lowConfidence {
		answer = LowConfidencePrefix + answer
		confidence = ConfidenceLow
	} else {
		confidence = o.verifyConfidence(answer, retr.Context, ConfidenceHigh)
	}

	return &QueryResult{
		Answer:         answer,
		Sources:        sourcesOf(retr.Context),
		Intent:         label,
		Confidence:     confidence,
		RetrievalChain: retr.Chain,
	}, nil
}

// verifyConfidence downgrades the confidence label when the verifier
// rejects the answer. The raw answer is still returned to the caller.
func (o *Orchestrator) verifyConfidence(answer string, evidence []chunk.Chunk, base string) string {
	res := verify.New(evidence).Verify(answer)
	if res.OK {
		return base
	}
	o.deps.Logger.Info("Verifier rejected answer, downgrading confidence",
		zap.Strings("errors", res.Errors))
	return ConfidenceMedium
}

func (o *Orchestrator) generate(ctx context.Context, promptText string) (string, error) {
	var answer string
	var malformed *llm.MalformedResponseError
	err := retry.Do(ctx, retry.DefaultAttempts, retry.DefaultBaseDelay, func() error {
		var genErr error
		answer, genErr = o.deps.Generator.Generate(ctx, promptText, o.cfg.LLMMaxTokens)
		if errors.As(genErr, &malformed) {
			// parse errors are not transient; surface immediately as 502
			return nil
		}
		return genErr
	})
	if err != nil {
		return "", fmt.Errorf("generate answer: %w", err)
	}
	if malformed != nil {
		return "", malformed
	}
	return strings.TrimSpace(answer), nil
}
