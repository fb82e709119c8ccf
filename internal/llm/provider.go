// Package llm abstracts the generative backends the orchestrator can
// call: a llama.cpp completion server, an OpenAI-compatible chat API, or
// a generic single-field HTTP endpoint.
package llm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/coursequery/coursequery/internal/circuitbreaker"
	"github.com/coursequery/coursequery/internal/metrics"
)

// Provider generates text from a prompt.
type Provider interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
	Name() string
}

// Config selects and parameterizes a provider.
type Config struct {
	Provider    string // llamacpp, openai, custom
	URL         string
	Model       string
	Temperature float64
	APIKey      string
	Timeout     time.Duration
}

// MalformedResponseError is returned when a provider answers with a body
// that cannot be interpreted as generated text. The raw body is kept for
// diagnostics and surfaced as a 502 by the HTTP layer.
type MalformedResponseError struct {
	Provider string
	RawBody  string
	Reason   string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s returned malformed response (%s): %s", e.Provider, e.Reason, truncate(e.RawBody, 512))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// New builds the provider named by cfg.Provider.
func New(cfg Config, logger *zap.Logger) (Provider, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 180 * time.Second
	}
	hw := circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: cfg.Timeout}, "llm-"+cfg.Provider, logger)
	switch cfg.Provider {
	case "llamacpp":
		return &llamaCppProvider{cfg: cfg, http: hw}, nil
	case "openai":
		return &openAIProvider{cfg: cfg, http: hw}, nil
	case "custom":
		return &customProvider{cfg: cfg, http: hw}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// instrument wraps a raw generate call with request metrics.
func instrument(name string, fn func() (string, error)) (string, error) {
	start := time.Now()
	text, err := fn()
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordGeneration(name, status, time.Since(start).Seconds())
	return text, err
}

func readBody(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	return string(raw)
}
