package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// GeminiProvider implements Provider with the Gemini API's structured output.
type GeminiProvider struct {
	config ProviderConfig
	client *genai.Client
	logger *zap.Logger
}

// NewGeminiProvider creates a Gemini provider.
func NewGeminiProvider(ctx context.Context, cfg ProviderConfig, logger *zap.Logger) (*GeminiProvider, error) {
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.Endpoint != "" {
		cc.HTTPOptions.BaseURL = cfg.Endpoint
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeminiProvider{config: cfg, client: client, logger: logger}, nil
}

func (p *GeminiProvider) ID() string   { return p.config.ID }
func (p *GeminiProvider) Name() string { return p.config.Name }

// Complete generates content with req.Schema as the response schema.
func (p *GeminiProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	respSchema, err := toGenaiSchema(req.Schema)
	if err != nil {
		return nil, fmt.Errorf("convert schema: %w", err)
	}

	var system []string
	var contents []*genai.Content
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	if len(contents) == 0 {
		contents = append(contents, genai.NewContentFromText("Begin.", genai.RoleUser))
	}

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   respSchema,
	}
	if len(system) > 0 {
		config.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}
	if req.Temperature > 0 {
		t := float32(req.Temperature)
		config.Temperature = &t
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	res, err := p.client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}
	if len(res.Candidates) == 0 || res.Candidates[0].Content == nil || len(res.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("empty response from provider")
	}

	var text strings.Builder
	for _, part := range res.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	out := &CompletionResponse{
		Model:        req.Model,
		Content:      json.RawMessage(text.String()),
		FinishReason: string(res.Candidates[0].FinishReason),
	}
	if res.UsageMetadata != nil {
		out.Usage = Usage{
			PromptTokens:     int(res.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(res.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(res.UsageMetadata.TotalTokenCount),
		}
	}
	return out, nil
}

// ListModels returns the configured Gemini models.
func (p *GeminiProvider) ListModels(_ context.Context) ([]Model, error) {
	ids := p.config.Models
	if len(ids) == 0 {
		ids = []string{"gemini-2.5-flash", "gemini-2.5-pro"}
	}
	models := make([]Model, len(ids))
	for i, id := range ids {
		models[i] = Model{ID: id, Name: id, Provider: p.config.ID}
	}
	return models, nil
}

// HealthCheck verifies the provider is reachable.
func (p *GeminiProvider) HealthCheck(ctx context.Context) error {
	_, err := p.Complete(ctx, &CompletionRequest{
		Model:    "gemini-2.5-flash",
		Messages: []Message{{Role: RoleUser, Content: "ping"}},
		Schema:   map[string]any{"type": "object", "properties": map[string]any{"ok": map[string]any{"type": "boolean"}}},
	})
	return err
}

var genaiTypes = map[string]genai.Type{
	"string":  genai.TypeString,
	"number":  genai.TypeNumber,
	"integer": genai.TypeInteger,
	"boolean": genai.TypeBoolean,
	"array":   genai.TypeArray,
	"object":  genai.TypeObject,
}

// toGenaiSchema converts the JSON schema subset the interview emits. An
// anyOf of a schema and null becomes a nullable schema.
func toGenaiSchema(doc map[string]any) (*genai.Schema, error) {
	if doc == nil {
		return nil, nil
	}
	if alts, ok := doc["anyOf"].([]any); ok {
		var nonNull []map[string]any
		nullable := false
		for _, a := range alts {
			m, ok := a.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("anyOf entry is %T", a)
			}
			if m["type"] == "null" {
				nullable = true
				continue
			}
			nonNull = append(nonNull, m)
		}
		if len(nonNull) == 1 {
			s, err := toGenaiSchema(nonNull[0])
			if err != nil {
				return nil, err
			}
			if nullable {
				s.Nullable = boolPtr(true)
			}
			return s, nil
		}
		s := &genai.Schema{}
		for _, m := range nonNull {
			sub, err := toGenaiSchema(m)
			if err != nil {
				return nil, err
			}
			s.AnyOf = append(s.AnyOf, sub)
		}
		if nullable {
			s.Nullable = boolPtr(true)
		}
		return s, nil
	}

	s := &genai.Schema{}
	if t, ok := doc["type"].(string); ok {
		gt, known := genaiTypes[t]
		if !known {
			return nil, fmt.Errorf("unsupported type %q", t)
		}
		s.Type = gt
	}
	if d, ok := doc["description"].(string); ok {
		s.Description = d
	}
	switch enum := doc["enum"].(type) {
	case []string:
		s.Enum = enum
	case []any:
		for _, e := range enum {
			s.Enum = append(s.Enum, fmt.Sprint(e))
		}
	}
	if items, ok := doc["items"].(map[string]any); ok {
		sub, err := toGenaiSchema(items)
		if err != nil {
			return nil, fmt.Errorf("items: %w", err)
		}
		s.Items = sub
	}
	if props, ok := doc["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			m, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("property %s is %T", name, raw)
			}
			sub, err := toGenaiSchema(m)
			if err != nil {
				return nil, fmt.Errorf("property %s: %w", name, err)
			}
			s.Properties[name] = sub
		}
	}
	switch req := doc["required"].(type) {
	case []string:
		s.Required = req
	case []any:
		for _, r := range req {
			s.Required = append(s.Required, fmt.Sprint(r))
		}
	}
	return s, nil
}

func boolPtr(b bool) *bool { return &b }
