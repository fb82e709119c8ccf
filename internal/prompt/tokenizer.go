package prompt

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Tokenizer estimates token counts for budget accounting. The default is
// a whitespace approximation; a model-bound tokenizer can be swapped in.
type Tokenizer interface {
	CountTokens(text string) int
}

// WhitespaceTokenizer approximates tokens by whitespace-separated words.
type WhitespaceTokenizer struct{}

func (WhitespaceTokenizer) CountTokens(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	return len(strings.Fields(trimmed))
}

// factLineRe matches lines carrying structured facts that must survive
// truncation verbatim.
var factLineRe = regexp.MustCompile(`(?i)^(total\s+classes|due_date|learned at|total assignments|created at|due date)[:\s].*`)

// TruncateHeadTailPreserveFacts trims text to roughly charBudget
// characters. Fact lines are extracted and prepended whole; the rest of
// the body keeps its head and tail halves joined by an ellipsis.
func TruncateHeadTailPreserveFacts(text string, charBudget int) string {
	if text == "" {
		return ""
	}
	if len(text) <= charBudget {
		return text
	}

	var facts, body strings.Builder
	for _, line := range regexp.MustCompile(`\r?\n`).Split(text, -1) {
		if factLineRe.MatchString(strings.TrimSpace(line)) {
			facts.WriteString(line)
			facts.WriteByte('\n')
		} else {
			body.WriteString(line)
			body.WriteByte('\n')
		}
	}

	remaining := charBudget - facts.Len()
	if remaining <= 0 {
		f := facts.String()
		if len(f) > charBudget {
			return f[:runeBoundary(f, charBudget)]
		}
		return f
	}

	bodyStr := strings.TrimSpace(body.String())
	if len(bodyStr) <= remaining {
		return facts.String() + bodyStr
	}
	half := remaining / 2
	head := bodyStr[:runeBoundary(bodyStr, min(half, len(bodyStr)))]
	tail := bodyStr[runeBoundary(bodyStr, max(0, len(bodyStr)-half)):]
	return facts.String() + head + "\n...\n" + tail
}

// runeBoundary moves a byte index left onto the nearest UTF-8 rune start
// so slicing at it cannot split a multi-byte rune.
func runeBoundary(s string, i int) int {
	for i > 0 && i < len(s) && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}
