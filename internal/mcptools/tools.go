// Package mcptools exposes agent interviews as MCP tools.
//
// Every tool runs a non-interactive session: the model gets the caller's
// prompt and is forced to answer with a complete agent config in one turn.
// Handlers report failures as tool errors so the calling model can read them.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/nidhogg/agent-interview/internal/agent"
	"github.com/nidhogg/agent-interview/internal/feature"
	"github.com/nidhogg/agent-interview/internal/imagegen"
	"github.com/nidhogg/agent-interview/internal/interview"
	"github.com/nidhogg/agent-interview/internal/provider"
	"go.uber.org/zap"
)

// Version is reported to MCP clients.
const Version = "0.3.0"

// Deps are the collaborators every tool shares.
type Deps struct {
	Completer provider.Completer
	Model     string
	Registry  feature.Registry
	Images    imagegen.Generator
	Defaults  agent.Defaults
	Logger    *zap.Logger
}

// NewServer builds an MCP server with every interview tool registered.
func NewServer(d Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"agent-interview",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions("Create and edit AI agent configurations. "+
			"Call list_features first to see which features an agent can be given."),
	)

	features := NewFeaturesTool(d)
	s.AddTool(features.Definition(), features.Handle)
	create := NewCreateTool(d)
	s.AddTool(create.Definition(), create.Handle)
	edit := NewEditTool(d)
	s.AddTool(edit.Definition(), edit.Handle)
	return s
}

// FeaturesTool handles list_features.
type FeaturesTool struct {
	registry feature.Registry
}

func NewFeaturesTool(d Deps) *FeaturesTool {
	return &FeaturesTool{registry: d.Registry}
}

func (t *FeaturesTool) Definition() mcp.Tool {
	return mcp.NewTool("list_features",
		mcp.WithDescription("List the features an agent can be configured with."),
	)
}

func (t *FeaturesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	specs, err := t.registry.Features(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load features: %v", err)), nil
	}
	if len(specs) == 0 {
		return mcp.NewToolResultText("No features available."), nil
	}

	var sb strings.Builder
	sb.WriteString("## Features\n\n")
	for _, s := range specs {
		fmt.Fprintf(&sb, "- **%s**: %s\n", s.Name, firstLine(s.Description))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// CreateTool handles create_agent.
type CreateTool struct {
	deps Deps
}

func NewCreateTool(d Deps) *CreateTool {
	return &CreateTool{deps: d}
}

func (t *CreateTool) Definition() mcp.Tool {
	return mcp.NewTool("create_agent",
		mcp.WithDescription("Create a new agent configuration from a description. Returns the agent JSON."),
		mcp.WithString("prompt",
			mcp.Required(),
			mcp.Description("What the agent should be and do"),
		),
		mcp.WithString("features",
			mcp.Description("Comma-separated feature names to offer (default: all)"),
		),
	)
}

func (t *CreateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prompt := strings.TrimSpace(req.GetString("prompt", ""))
	if prompt == "" {
		return mcp.NewToolResultError("'prompt' is required"), nil
	}
	return run(ctx, t.deps, agent.Config{}, prompt, splitNames(req.GetString("features", "")))
}

// EditTool handles edit_agent.
type EditTool struct {
	deps Deps
}

func NewEditTool(d Deps) *EditTool {
	return &EditTool{deps: d}
}

func (t *EditTool) Definition() mcp.Tool {
	return mcp.NewTool("edit_agent",
		mcp.WithDescription("Apply a change request to an existing agent JSON. Returns the updated agent JSON."),
		mcp.WithString("agent_json",
			mcp.Required(),
			mcp.Description("The current agent.json contents"),
		),
		mcp.WithString("prompt",
			mcp.Required(),
			mcp.Description("The edits to make"),
		),
	)
}

func (t *EditTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw := req.GetString("agent_json", "")
	if strings.TrimSpace(raw) == "" {
		return mcp.NewToolResultError("'agent_json' is required"), nil
	}
	prompt := strings.TrimSpace(req.GetString("prompt", ""))
	if prompt == "" {
		return mcp.NewToolResultError("'prompt' is required"), nil
	}
	var object agent.Config
	if err := json.Unmarshal([]byte(raw), &object); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid agent_json: %v", err)), nil
	}
	if len(object.Features) > 0 {
		catalog, err := t.deps.Registry.Features(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to load features: %v", err)), nil
		}
		if err := feature.CheckParams(catalog, object.Features); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid agent_json features: %v", err)), nil
		}
	}
	// edits may add any catalog feature
	return run(ctx, t.deps, object, prompt, []string{})
}

func run(ctx context.Context, d Deps, object agent.Config, prompt string, features []string) (*mcp.CallToolResult, error) {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	catalog, err := d.Registry.Features(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load features: %v", err)), nil
	}

	id := uuid.NewString()
	iv, err := interview.New(interview.Options{
		Object:    object,
		Prompt:    prompt,
		Mode:      interview.ModeAuto,
		Catalog:   catalog,
		Features:  features,
		Completer: d.Completer,
		Model:     d.Model,
		Images:    d.Images,
		Logger:    logger.With(zap.String("session", id)),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	defer iv.Close()

	if err := iv.Start(ctx); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	result, err := iv.Wait(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("interview failed: %v", err)), nil
	}

	result = agent.EnsureDefaults(result, d.Defaults)
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal agent: %w", err)
	}
	return mcp.NewToolResultText(string(out)), nil
}

func splitNames(s string) []string {
	var names []string
	for _, name := range strings.Split(s, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
