package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/nidhogg/agent-interview/internal/schema"
	"go.uber.org/zap"
)

// ErrRefused is returned when the model declines to produce the schema.
var ErrRefused = errors.New("model refused")

// OpenAIProvider talks to OpenAI-compatible chat completion endpoints and
// constrains replies with the json_schema response format. Extra keys:
// "path_model" puts the model name in the URL path, "strict" turns on
// strict schema adherence. Strict endpoints get the schema rewritten with
// schema.Strict, and the nulls that rewrite admits are pruned from replies.
type OpenAIProvider struct {
	config ProviderConfig
	api    *jsonAPI
	logger *zap.Logger
}

// NewOpenAIProvider creates a new OpenAI-compatible provider.
func NewOpenAIProvider(cfg ProviderConfig, logger *zap.Logger) *OpenAIProvider {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.openai.com/v1"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	headers := map[string]string{}
	if cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + cfg.APIKey
	}
	return &OpenAIProvider{
		config: cfg,
		api:    newJSONAPI(cfg.Endpoint, cfg.Timeout, headers),
		logger: logger,
	}
}

func (p *OpenAIProvider) ID() string   { return p.config.ID }
func (p *OpenAIProvider) Name() string { return p.config.Name }

func (p *OpenAIProvider) chatURL(model string) string {
	if p.config.Extra["path_model"] == "true" && model != "" {
		return p.config.Endpoint + "/" + model + "/chat/completions"
	}
	return p.config.Endpoint + "/chat/completions"
}

type chatCompletionRequest struct {
	Model          string         `json:"model"`
	Messages       []Message      `json:"messages"`
	ResponseFormat responseFormat `json:"response_format"`
	Temperature    float64        `json:"temperature,omitempty"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
}

type responseFormat struct {
	Type       string `json:"type"`
	JSONSchema struct {
		Name   string         `json:"name"`
		Schema map[string]any `json:"schema"`
		Strict bool           `json:"strict,omitempty"`
	} `json:"json_schema"`
}

type chatCompletion struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// Complete sends a chat completion constrained to req.Schema.
func (p *OpenAIProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	in := chatCompletionRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	in.ResponseFormat.Type = "json_schema"
	in.ResponseFormat.JSONSchema.Name = schemaName(req)
	in.ResponseFormat.JSONSchema.Schema = req.Schema
	strict := p.config.Extra["strict"] == "true"
	if strict {
		in.ResponseFormat.JSONSchema.Schema = schema.Strict(req.Schema)
		in.ResponseFormat.JSONSchema.Strict = true
	}

	var out chatCompletion
	if err := p.api.do(ctx, http.MethodPost, p.chatURL(req.Model), in, &out); err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("empty response from %s", p.config.ID)
	}
	choice := out.Choices[0]
	if choice.Message.Refusal != "" {
		return nil, fmt.Errorf("%w: %s", ErrRefused, choice.Message.Refusal)
	}

	content := json.RawMessage(choice.Message.Content)
	if strict {
		// invalid JSON is left for the caller's validator to report
		if pruned, err := schema.PruneNulls(req.Schema, content); err == nil {
			content = pruned
		}
	}

	p.logger.Debug("completion",
		zap.String("provider", p.config.ID),
		zap.String("model", out.Model),
		zap.String("finish", choice.FinishReason),
		zap.Int("total_tokens", out.Usage.TotalTokens))

	return &CompletionResponse{
		ID:           out.ID,
		Model:        out.Model,
		Content:      content,
		FinishReason: choice.FinishReason,
		Usage:        out.Usage,
	}, nil
}

// ListModels returns the models served by the endpoint.
func (p *OpenAIProvider) ListModels(ctx context.Context) ([]Model, error) {
	var out struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := p.api.do(ctx, http.MethodGet, p.config.Endpoint+"/models", nil, &out); err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	models := make([]Model, 0, len(out.Data))
	for _, m := range out.Data {
		models = append(models, Model{ID: m.ID, Name: m.ID, Provider: p.config.ID})
	}
	return models, nil
}

// HealthCheck lists models, which needs a valid key but no tokens.
func (p *OpenAIProvider) HealthCheck(ctx context.Context) error {
	_, err := p.ListModels(ctx)
	return err
}
