package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"draftreview/internal/config"
)

// Provider kinds accepted in configuration.
const (
	KindOpenAI    = "openai"
	KindAnthropic = "anthropic"
)

// Request is one completion call.
type Request struct {
	System string
	Prompt string
}

// Provider is an external text-generation backend.
type Provider interface {
	Name() string
	Model() string
	Complete(ctx context.Context, req Request) (string, error)
}

// StatusError is a non-2xx provider response.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Code, e.Body)
}

// Retryable reports whether the request may succeed if repeated.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// IsRetryable classifies a provider error. Transport errors and timeouts are
// retryable; client errors are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}

// NewProvider builds the HTTP provider for cfg. An empty kind yields nil,
// meaning the slot is not configured.
func NewProvider(cfg config.ProviderConfig, client *http.Client) (Provider, error) {
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}

	switch strings.ToLower(cfg.Kind) {
	case "":
		return nil, nil
	case KindOpenAI:
		base := cfg.BaseURL
		if base == "" {
			base = "https://api.openai.com"
		}
		return &openAIProvider{httpProvider{name: KindOpenAI, model: cfg.Model, baseURL: strings.TrimRight(base, "/"), apiKey: cfg.APIKey, client: client}}, nil
	case KindAnthropic:
		base := cfg.BaseURL
		if base == "" {
			base = "https://api.anthropic.com"
		}
		return &anthropicProvider{httpProvider{name: KindAnthropic, model: cfg.Model, baseURL: strings.TrimRight(base, "/"), apiKey: cfg.APIKey, client: client}}, nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}
}

type httpProvider struct {
	name    string
	model   string
	baseURL string
	apiKey  string
	client  *http.Client
}

func (p *httpProvider) Name() string  { return p.name }
func (p *httpProvider) Model() string { return p.model }

// post sends body as JSON and decodes a 2xx response into out.
func (p *httpProvider) post(ctx context.Context, path string, headers http.Header, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", p.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", p.name, err)
	}
	req.Header = headers
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", p.name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", p.name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Provider: p.name, Code: resp.StatusCode, Body: truncate(string(respBody), 512)}
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", p.name, err)
	}
	return nil
}

type openAIProvider struct{ httpProvider }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (p *openAIProvider) Complete(ctx context.Context, req Request) (string, error) {
	body := map[string]any{
		"model": p.model,
		"messages": []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.Prompt},
		},
	}
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+p.apiKey)

	var out struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	}
	if err := p.post(ctx, "/v1/chat/completions", headers, body, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%s: response has no choices", p.name)
	}
	return out.Choices[0].Message.Content, nil
}

type anthropicProvider struct{ httpProvider }

func (p *anthropicProvider) Complete(ctx context.Context, req Request) (string, error) {
	body := map[string]any{
		"model":      p.model,
		"max_tokens": 8192,
		"system":     req.System,
		"messages":   []chatMessage{{Role: "user", Content: req.Prompt}},
	}
	headers := http.Header{}
	headers.Set("x-api-key", p.apiKey)
	headers.Set("anthropic-version", "2023-06-01")

	var out struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := p.post(ctx, "/v1/messages", headers, body, &out); err != nil {
		return "", err
	}

	var b strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
