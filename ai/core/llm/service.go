// Package llm wraps OpenAI-compatible chat providers behind a small
// completion interface with structured-output and reasoning-effort
// support.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Message represents a chat message.
type Message struct {
	Role    string // system, user, assistant
	Content string
}

// SystemPrompt creates a system message.
func SystemPrompt(content string) Message {
	return Message{Role: "system", Content: content}
}

// UserMessage creates a user message.
func UserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// AssistantMessage creates an assistant message.
func AssistantMessage(content string) Message {
	return Message{Role: "assistant", Content: content}
}

// Schema requests strict JSON-schema constrained output.
type Schema struct {
	Name   string
	Schema json.RawMessage
}

// Request is a single completion request.
type Request struct {
	Model           string
	Messages        []Message
	MaxTokens       int
	Temperature     *float32
	ReasoningEffort string // low, medium, high; empty leaves the provider default
	Schema          *Schema
}

// Usage is the token usage reported by the provider for one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
	CachedTokens int
}

// Result is a completed request.
type Result struct {
	Text  string
	Usage Usage
}

// Service is the completion interface the agent consumes.
type Service interface {
	// Complete performs a synchronous chat completion.
	Complete(ctx context.Context, req *Request) (*Result, error)

	// Provider returns the provider identifier (openai, groq, ...).
	Provider() string
}

// Config represents LLM service configuration.
type Config struct {
	Provider string // openai, groq, or any OpenAI-compatible provider
	APIKey   string
	BaseURL  string
	Timeout  int // Request timeout in seconds (default: 120)
}

type service struct {
	client   *openai.Client
	provider string
	timeout  int
}

// NewService creates a new LLM Service for one provider.
func NewService(cfg *Config) (Service, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key required for provider %q", cfg.Provider)
	}

	httpClient := newHTTPClient()
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.HTTPClient = httpClient

	switch cfg.Provider {
	case "openai":
		if cfg.BaseURL != "" {
			clientConfig.BaseURL = cfg.BaseURL
		}

	case "groq":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://api.groq.com/openai/v1"
		}
		clientConfig.BaseURL = baseURL

	default:
		// Generic fallback for any other OpenAI-compatible provider
		slog.Info("Using generic OpenAI-compatible provider", "provider", cfg.Provider)
		if cfg.BaseURL != "" {
			clientConfig.BaseURL = cfg.BaseURL
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120
	}

	return &service{
		client:   openai.NewClientWithConfig(clientConfig),
		provider: cfg.Provider,
		timeout:  timeout,
	}, nil
}

func (s *service) Provider() string {
	return s.provider
}

func (s *service) Complete(ctx context.Context, req *Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.timeout)*time.Second)
	defer cancel()

	slog.Debug("LLM: completion request",
		"provider", s.provider,
		"model", req.Model,
		"messages_count", len(req.Messages),
		"reasoning_effort", req.ReasoningEffort,
		"structured", req.Schema != nil,
	)

	apiReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: convertMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		apiReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		apiReq.Temperature = *req.Temperature
	}
	if req.ReasoningEffort != "" {
		apiReq.ReasoningEffort = req.ReasoningEffort
	}
	if req.Schema != nil {
		apiReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   req.Schema.Name,
				Schema: req.Schema.Schema,
				Strict: true,
			},
		}
	}

	resp, err := s.client.CreateChatCompletion(ctx, apiReq)
	if err != nil {
		slog.Error("LLM: completion request failed", "provider", s.provider, "model", req.Model, "error", err)
		return nil, fmt.Errorf("LLM completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("LLM: empty response", "provider", s.provider, "model", req.Model)
		return nil, fmt.Errorf("empty response from LLM")
	}

	result := &Result{
		Text: resp.Choices[0].Message.Content,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	if resp.Usage.PromptTokensDetails != nil {
		result.Usage.CachedTokens = resp.Usage.PromptTokensDetails.CachedTokens
	}

	return result, nil
}

func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	converted := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		converted = append(converted, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	return converted
}

// newHTTPClient creates an HTTP client tuned for LLM API calls.
func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}
