package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/coursequery/coursequery/internal/circuitbreaker"
	"github.com/coursequery/coursequery/internal/tracing"
)

func postJSON(ctx context.Context, hw *circuitbreaker.HTTPWrapper, url string, apiKey string, payload interface{}) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	tracing.InjectTraceparent(ctx, req)
	return hw.Do(req)
}

// llamaCppProvider targets the llama.cpp server completion endpoint.
type llamaCppProvider struct {
	cfg  Config
	http *circuitbreaker.HTTPWrapper
}

func (p *llamaCppProvider) Name() string { return "llamacpp" }

func (p *llamaCppProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return instrument(p.Name(), func() (string, error) {
		resp, err := postJSON(ctx, p.http, p.cfg.URL+"/completion", p.cfg.APIKey, map[string]interface{}{
			"prompt":      prompt,
			"n_predict":   maxTokens,
			"temperature": p.cfg.Temperature,
		})
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		raw := readBody(resp)
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("llamacpp returned %d: %s", resp.StatusCode, truncate(raw, 512))
		}
		var parsed struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return "", &MalformedResponseError{Provider: p.Name(), RawBody: raw, Reason: err.Error()}
		}
		if parsed.Content == "" {
			return "", &MalformedResponseError{Provider: p.Name(), RawBody: raw, Reason: "missing content field"}
		}
		return parsed.Content, nil
	})
}

// openAIProvider targets any OpenAI-compatible chat completions API.
type openAIProvider struct {
	cfg  Config
	http *circuitbreaker.HTTPWrapper
}

func (p *openAIProvider) Name() string { return "openai" }

func (p *openAIProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return instrument(p.Name(), func() (string, error) {
		resp, err := postJSON(ctx, p.http, p.cfg.URL+"/v1/chat/completions", p.cfg.APIKey, map[string]interface{}{
			"model":       p.cfg.Model,
			"max_tokens":  maxTokens,
			"temperature": p.cfg.Temperature,
			"messages": []map[string]string{
				{"role": "user", "content": prompt},
			},
		})
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		raw := readBody(resp)
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("openai returned %d: %s", resp.StatusCode, truncate(raw, 512))
		}
		var parsed struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return "", &MalformedResponseError{Provider: p.Name(), RawBody: raw, Reason: err.Error()}
		}
		if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
			return "", &MalformedResponseError{Provider: p.Name(), RawBody: raw, Reason: "no choices in response"}
		}
		return parsed.Choices[0].Message.Content, nil
	})
}

// customProvider posts {prompt, max_tokens, temperature} and accepts the
// first recognized text field in the reply.
type customProvider struct {
	cfg  Config
	http *circuitbreaker.HTTPWrapper
}

func (p *customProvider) Name() string { return "custom" }

var customTextFields = []string{"text", "content", "response", "output", "generated_text"}

func (p *customProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return instrument(p.Name(), func() (string, error) {
		resp, err := postJSON(ctx, p.http, p.cfg.URL, p.cfg.APIKey, map[string]interface{}{
			"prompt":      prompt,
			"max_tokens":  maxTokens,
			"temperature": p.cfg.Temperature,
		})
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		raw := readBody(resp)
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("custom provider returned %d: %s", resp.StatusCode, truncate(raw, 512))
		}
		var parsed map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return "", &MalformedResponseError{Provider: p.Name(), RawBody: raw, Reason: err.Error()}
		}
		for _, field := range customTextFields {
			if s, ok := parsed[field].(string); ok && s != "" {
				return s, nil
			}
		}
		return "", &MalformedResponseError{Provider: p.Name(), RawBody: raw, Reason: "no recognized text field"}
	})
}
