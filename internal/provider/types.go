package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Provider is a completion backend that returns schema-constrained JSON.
type Provider interface {
	ID() string
	Name() string
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
	ListModels(ctx context.Context) ([]Model, error)
	HealthCheck(ctx context.Context) error
}

// Completer is the narrow contract the interview core consumes.
type Completer interface {
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest asks for a JSON value conforming to Schema.
type CompletionRequest struct {
	Model       string         `json:"model"`
	Messages    []Message      `json:"messages"`
	Schema      map[string]any `json:"-"`
	SchemaName  string         `json:"-"`
	Temperature float64        `json:"temperature,omitempty"`
	MaxTokens   int            `json:"max_tokens,omitempty"`
}

// CompletionResponse carries the raw structured reply.
type CompletionResponse struct {
	ID           string          `json:"id"`
	Model        string          `json:"model"`
	Content      json.RawMessage `json:"content"`
	FinishReason string          `json:"finish_reason"`
	Usage        Usage           `json:"usage"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Model describes an available LLM model.
type Model struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Provider  string `json:"provider"`
	MaxTokens int    `json:"max_tokens"`
}

// ProviderConfig holds configuration for a provider instance.
type ProviderConfig struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Name     string            `json:"name"`
	Endpoint string            `json:"endpoint"`
	APIKey   string            `json:"api_key"`
	Models   []string          `json:"models,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
	Timeout  time.Duration     `json:"timeout,omitempty"`
}

// APIError is a non-success HTTP response from a provider.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

func schemaName(req *CompletionRequest) string {
	if req.SchemaName != "" {
		return req.SchemaName
	}
	return "result"
}
