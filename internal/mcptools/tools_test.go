package mcptools

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/nidhogg/agent-interview/internal/agent"
	"github.com/nidhogg/agent-interview/internal/feature"
	"github.com/nidhogg/agent-interview/internal/provider"
	"go.uber.org/zap"
)

type staticRegistry []feature.Spec

func (r staticRegistry) Features(context.Context) ([]feature.Spec, error) { return r, nil }

var catalog = staticRegistry{
	{
		Name:        "tts",
		Description: "Text to speech.\nGives the agent a voice.",
		Parameters:  map[string]json.RawMessage{"voiceEndpoint": json.RawMessage(`{"type":"string"}`)},
	},
	{
		Name:        "rateLimit",
		Description: "Limit how often users can message the agent.",
		Parameters:  map[string]json.RawMessage{"maxUserMessages": json.RawMessage(`{"type":"number"}`)},
	},
}

// oneShot answers every request with the same reply and keeps the requests.
type oneShot struct {
	mu       sync.Mutex
	reply    string
	requests []*provider.CompletionRequest
}

func (o *oneShot) Complete(_ context.Context, req *provider.CompletionRequest) (*provider.CompletionResponse, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.requests = append(o.requests, req)
	if o.reply == "" {
		return nil, &provider.APIError{Status: 500, Body: "boom"}
	}
	return &provider.CompletionResponse{Content: json.RawMessage(o.reply)}, nil
}

func (o *oneShot) systemPrompt() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.requests) == 0 || len(o.requests[0].Messages) == 0 {
		return ""
	}
	return o.requests[0].Messages[0].Content
}

func newDeps(c provider.Completer) Deps {
	return Deps{
		Completer: c,
		Model:     "test-model",
		Registry:  catalog,
		Logger:    zap.NewNop(),
	}
}

// makeReq builds a mcp.CallToolRequest with the given arguments.
func makeReq(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

// resultText extracts the text content from a tool result.
func resultText(r *mcp.CallToolResult) string {
	if r == nil {
		return ""
	}
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func mustNotError(t *testing.T, r *mcp.CallToolResult, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(r))
	}
}

func mustBeToolError(t *testing.T, r *mcp.CallToolResult, err error, wantSubstr string) {
	t.Helper()
	if err != nil {
		t.Fatalf("expected tool error, got Go error: %v", err)
	}
	if !r.IsError {
		t.Fatalf("expected tool error, got: %s", resultText(r))
	}
	if !strings.Contains(resultText(r), wantSubstr) {
		t.Errorf("tool error %q does not contain %q", resultText(r), wantSubstr)
	}
}

func TestFeaturesTool(t *testing.T) {
	tool := NewFeaturesTool(newDeps(&oneShot{}))
	r, err := tool.Handle(context.Background(), makeReq(nil))
	mustNotError(t, r, err)

	text := resultText(r)
	if !strings.Contains(text, "**tts**: Text to speech.") {
		t.Errorf("missing tts line:\n%s", text)
	}
	if strings.Contains(text, "Gives the agent a voice") {
		t.Errorf("only the first description line belongs in the listing:\n%s", text)
	}
}

func TestCreateAgent(t *testing.T) {
	c := &oneShot{reply: `{"output":{"name":"Blackbeard","bio":"Salty.","description":"Talks like a pirate.","features":{"tts":{"voiceEndpoint":"elevenlabs:drake"},"rateLimit":null}}}`}
	tool := NewCreateTool(newDeps(c))

	r, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"prompt": "Build a pirate bot",
	}))
	mustNotError(t, r, err)

	var got agent.Config
	if err := json.Unmarshal([]byte(resultText(r)), &got); err != nil {
		t.Fatalf("result is not agent JSON: %v\n%s", err, resultText(r))
	}
	if got.Name != "Blackbeard" || got.Bio != "Salty." {
		t.Errorf("got %+v", got)
	}
	if _, ok := got.Features["tts"]; !ok {
		t.Errorf("features = %v, want tts", got.Features)
	}
	if _, ok := got.Features["rateLimit"]; ok {
		t.Error("null feature should have been dropped")
	}
	if got.Model != agent.DefaultDefaults.Model {
		t.Errorf("model = %q, want default %q", got.Model, agent.DefaultDefaults.Model)
	}
	if got.PreviewURL != "" || got.HomespaceURL != "" {
		t.Error("no image backend configured, asset URLs should stay empty")
	}
}

func TestCreateAgentRestrictsFeatures(t *testing.T) {
	c := &oneShot{reply: `{"output":{"name":"Quiet"}}`}
	tool := NewCreateTool(newDeps(c))

	r, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"prompt":   "A quiet helper",
		"features": "rateLimit",
	}))
	mustNotError(t, r, err)

	prompt := c.systemPrompt()
	if !strings.Contains(prompt, "# rateLimit") || strings.Contains(prompt, "# tts") {
		t.Errorf("system prompt should offer only rateLimit:\n%s", prompt)
	}
}

func TestCreateAgentErrors(t *testing.T) {
	tests := []struct {
		name string
		args map[string]interface{}
		c    *oneShot
		want string
	}{
		{"missing prompt", map[string]interface{}{}, &oneShot{}, "'prompt' is required"},
		{"unknown feature", map[string]interface{}{"prompt": "x", "features": "flying"}, &oneShot{}, "flying"},
		{"provider failure", map[string]interface{}{"prompt": "x"}, &oneShot{}, "interview failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewCreateTool(newDeps(tt.c)).Handle(context.Background(), makeReq(tt.args))
			mustBeToolError(t, r, err, tt.want)
		})
	}
}

func TestEditAgent(t *testing.T) {
	c := &oneShot{reply: `{"output":{"bio":"Now grumpy."}}`}
	tool := NewEditTool(newDeps(c))

	r, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"agent_json": `{"name":"Blackbeard","bio":"Salty.","features":{"tts":{}}}`,
		"prompt":     "Make him grumpy",
	}))
	mustNotError(t, r, err)

	var got agent.Config
	if err := json.Unmarshal([]byte(resultText(r)), &got); err != nil {
		t.Fatalf("result is not agent JSON: %v", err)
	}
	if got.Name != "Blackbeard" || got.Bio != "Now grumpy." {
		t.Errorf("got name=%q bio=%q", got.Name, got.Bio)
	}
	if !strings.Contains(c.systemPrompt(), "The available features are") {
		t.Error("edits should be offered the whole catalog")
	}
}

func TestEditAgentErrors(t *testing.T) {
	tool := NewEditTool(newDeps(&oneShot{}))

	r, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{"prompt": "x"}))
	mustBeToolError(t, r, err, "'agent_json' is required")

	r, err = tool.Handle(context.Background(), makeReq(map[string]interface{}{"agent_json": "{", "prompt": "x"}))
	mustBeToolError(t, r, err, "invalid agent_json")
}

func TestEditAgentRejectsBadFeatureParams(t *testing.T) {
	c := &oneShot{reply: `{"output":{"bio":"unused"}}`}
	tool := NewEditTool(newDeps(c))
	tests := []struct {
		name  string
		agent string
		want  string
	}{
		{"wrong type", `{"name":"Nova","features":{"rateLimit":{"maxUserMessages":"five"}}}`, "invalid agent_json features"},
		{"undeclared parameter", `{"name":"Nova","features":{"tts":{"voice":"x"}}}`, "undeclared parameters: voice"},
		{"unknown feature", `{"name":"Nova","features":{"teleport":{}}}`, "teleport"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{"agent_json": tt.agent, "prompt": "x"}))
			mustBeToolError(t, r, err, tt.want)
		})
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.requests) != 0 {
		t.Errorf("provider called %d times for invalid features", len(c.requests))
	}
}
