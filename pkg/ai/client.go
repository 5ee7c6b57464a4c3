// Package ai talks to chat completion services on behalf of the query assistant.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrNoChoices is returned when the service answers without any completion.
var ErrNoChoices = errors.New("ai: response has no choices")

// Message is one entry of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a model identifier plus an ordered conversation.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

// Choice is one returned completion.
type Choice struct {
	Message Message `json:"message"`
}

// ChatResponse holds the completions returned for a request.
type ChatResponse struct {
	Choices []Choice `json:"choices"`
}

// FirstContent returns the content of the first choice, or "".
func (r *ChatResponse) FirstContent() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// Client is a chat completion service.
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// HTTPClient speaks the OpenAI-compatible, Anthropic and Ollama chat APIs.
type HTTPClient struct {
	cfg  Config
	http *http.Client
}

// NewClient builds a client for cfg. A nil hc uses a client bounded by cfg.Timeout.
func NewClient(cfg Config, hc *http.Client) (*HTTPClient, error) {
	switch cfg.Provider {
	case ProviderOpenAI, ProviderGrok, ProviderClaude, ProviderOllama:
	case "":
		return nil, errors.New("ai: no provider configured")
	default:
		return nil, fmt.Errorf("ai: unknown provider %q", cfg.Provider)
	}
	if cfg.Provider != ProviderOllama && cfg.APIKey == "" {
		return nil, fmt.Errorf("ai: missing api key for %s", cfg.Provider)
	}
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPClient{cfg: cfg, http: hc}, nil
}

// Model returns the configured model identifier.
func (c *HTTPClient) Model() string { return c.cfg.Model }

// Chat sends req, defaulting the model to the configured one.
func (c *HTTPClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if req.Model == "" {
		req.Model = c.cfg.Model
	}
	base := strings.TrimRight(c.cfg.Base, "/")
	switch c.cfg.Provider {
	case ProviderOllama:
		return c.chatOllama(ctx, base+"/api/chat", req)
	case ProviderClaude:
		return c.chatClaude(ctx, base+"/messages", req)
	default:
		var resp ChatResponse
		body := map[string]any{"model": req.Model, "messages": req.Messages, "temperature": 0.2}
		headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
		if err := c.post(ctx, base+"/chat/completions", headers, body, &resp); err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, ErrNoChoices
		}
		return &resp, nil
	}
}

func (c *HTTPClient) chatOllama(ctx context.Context, url string, req ChatRequest) (*ChatResponse, error) {
	var resp struct {
		Message Message `json:"message"`
	}
	body := map[string]any{"model": req.Model, "messages": req.Messages, "stream": false}
	if err := c.post(ctx, url, nil, body, &resp); err != nil {
		return nil, err
	}
	return &ChatResponse{Choices: []Choice{{Message: resp.Message}}}, nil
}

// chatClaude moves system messages to the top-level system field the Messages API expects.
func (c *HTTPClient) chatClaude(ctx context.Context, url string, req ChatRequest) (*ChatResponse, error) {
	var system []string
	msgs := []map[string]any{}
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		msgs = append(msgs, map[string]any{
			"role":    m.Role,
			"content": []map[string]string{{"type": "text", "text": m.Content}},
		})
	}
	body := map[string]any{"model": req.Model, "max_tokens": 800, "messages": msgs}
	if len(system) > 0 {
		body["system"] = strings.Join(system, "\n\n")
	}
	headers := map[string]string{"x-api-key": c.cfg.APIKey, "anthropic-version": "2023-06-01"}
	var resp struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := c.post(ctx, url, headers, body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Content) == 0 {
		return nil, ErrNoChoices
	}
	return &ChatResponse{Choices: []Choice{{Message: Message{Role: RoleAssistant, Content: resp.Content[0].Text}}}}, nil
}

func (c *HTTPClient) post(ctx context.Context, url string, headers map[string]string, body, out any) error {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(body); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("AI HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode AI response: %w", err)
	}
	return nil
}
