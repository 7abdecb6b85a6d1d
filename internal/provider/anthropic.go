package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// anthropicVersion is the Messages API version header value.
const anthropicVersion = "2023-06-01"

// AnthropicProvider implements Provider for the Claude Messages API. The
// output schema is offered as the input schema of a single tool the model is
// forced to call; the tool input is the structured reply.
type AnthropicProvider struct {
	config ProviderConfig
	api    *jsonAPI
	logger *zap.Logger
}

// NewAnthropicProvider creates a new Anthropic provider.
func NewAnthropicProvider(cfg ProviderConfig, logger *zap.Logger) *AnthropicProvider {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.anthropic.com/v1"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnthropicProvider{
		config: cfg,
		api: newJSONAPI(cfg.Endpoint, cfg.Timeout, map[string]string{
			"x-api-key":         cfg.APIKey,
			"anthropic-version": anthropicVersion,
		}),
		logger: logger,
	}
}

func (p *AnthropicProvider) ID() string   { return p.config.ID }
func (p *AnthropicProvider) Name() string { return p.config.Name }

type anthropicRequest struct {
	Model       string          `json:"model"`
	Messages    []anthropicMsg  `json:"messages"`
	System      string          `json:"system,omitempty"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature,omitempty"`
	Tools       []anthropicTool `json:"tools"`
	ToolChoice  anthropicChoice `json:"tool_choice"`
}

type anthropicMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicChoice struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type  string          `json:"type"`
		Text  string          `json:"text"`
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Complete forces a call of the result tool and returns its input.
func (p *AnthropicProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	var claudeResp anthropicResponse
	if err := p.api.do(ctx, http.MethodPost, p.config.Endpoint+"/messages", p.convertRequest(req), &claudeResp); err != nil {
		return nil, err
	}

	name := schemaName(req)
	for _, c := range claudeResp.Content {
		if c.Type == "tool_use" && c.Name == name {
			p.logger.Debug("completion",
				zap.String("provider", p.config.ID),
				zap.String("model", claudeResp.Model),
				zap.Int("output_tokens", claudeResp.Usage.OutputTokens))
			return &CompletionResponse{
				ID:           claudeResp.ID,
				Model:        claudeResp.Model,
				Content:      c.Input,
				FinishReason: claudeResp.StopReason,
				Usage: Usage{
					PromptTokens:     claudeResp.Usage.InputTokens,
					CompletionTokens: claudeResp.Usage.OutputTokens,
					TotalTokens:      claudeResp.Usage.InputTokens + claudeResp.Usage.OutputTokens,
				},
			}, nil
		}
	}
	return nil, fmt.Errorf("response has no %s tool call (stop reason %s)", name, claudeResp.StopReason)
}

func (p *AnthropicProvider) convertRequest(req *CompletionRequest) *anthropicRequest {
	name := schemaName(req)
	ar := &anthropicRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Tools: []anthropicTool{{
			Name:        name,
			Description: "Return the structured result.",
			InputSchema: req.Schema,
		}},
		ToolChoice: anthropicChoice{Type: "tool", Name: name},
	}
	if ar.MaxTokens == 0 {
		ar.MaxTokens = 4096
	}
	var system []string
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		ar.Messages = append(ar.Messages, anthropicMsg{Role: m.Role, Content: m.Content})
	}
	ar.System = strings.Join(system, "\n\n")
	// The Messages API requires the conversation to open with a user turn.
	if len(ar.Messages) == 0 || ar.Messages[0].Role != RoleUser {
		ar.Messages = append([]anthropicMsg{{Role: RoleUser, Content: "Begin."}}, ar.Messages...)
	}
	return ar
}

// ListModels returns available Claude models.
func (p *AnthropicProvider) ListModels(_ context.Context) ([]Model, error) {
	return []Model{
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", Provider: p.config.ID, MaxTokens: 200000},
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", Provider: p.config.ID, MaxTokens: 200000},
		{ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku", Provider: p.config.ID, MaxTokens: 200000},
	}, nil
}

// HealthCheck verifies the provider is reachable.
func (p *AnthropicProvider) HealthCheck(ctx context.Context) error {
	req := &CompletionRequest{
		Model:     "claude-3-5-haiku-20241022",
		Messages:  []Message{{Role: RoleUser, Content: "ping"}},
		Schema:    map[string]any{"type": "object", "properties": map[string]any{"ok": map[string]any{"type": "boolean"}}},
		MaxTokens: 16,
	}
	_, err := p.Complete(ctx, req)
	return err
}
