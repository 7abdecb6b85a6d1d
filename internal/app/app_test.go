package app

import (
	"context"
	"testing"

	"github.com/nidhogg/agent-interview/internal/config"
	"github.com/nidhogg/agent-interview/internal/feature"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(config.LogConfig{Level: "warn", Format: "json"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("info enabled at warn level")
	}
	if _, err := NewLogger(config.LogConfig{Level: "loud"}); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestProvidersDefault(t *testing.T) {
	cfg := &config.Config{
		Providers: []config.ProviderConfig{
			{ID: "openai", Type: "openai", APIKey: "k"},
			{ID: "anthropic", Type: "anthropic", APIKey: "k"},
		},
		Interview: config.InterviewConfig{Provider: "anthropic"},
	}
	router, err := Providers(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("Providers: %v", err)
	}
	if router.DefaultID() != "anthropic" {
		t.Errorf("default = %s", router.DefaultID())
	}
	p, model, err := router.Resolve("openai:gpt-4o")
	if err != nil || p.ID() != "openai" || model != "gpt-4o" {
		t.Errorf("Resolve = %v, %s, %v", p, model, err)
	}
}

func TestProvidersUnknownType(t *testing.T) {
	cfg := &config.Config{Providers: []config.ProviderConfig{{ID: "x", Type: "carrier-pigeon"}}}
	if _, err := Providers(context.Background(), cfg, zap.NewNop()); err == nil {
		t.Fatal("expected error for unknown provider type")
	}
}

func TestRegistryKind(t *testing.T) {
	if _, ok := Registry(config.RegistryConfig{Type: "builtin"}, zap.NewNop()).(feature.BuiltinRegistry); !ok {
		t.Error("builtin registry not selected")
	}
	if _, ok := Registry(config.RegistryConfig{Type: "hub", URL: "http://hub"}, zap.NewNop()).(*feature.Snapshot); !ok {
		t.Error("hub registry is not cached")
	}
}

func TestDefaults(t *testing.T) {
	d := Defaults(config.InterviewConfig{Model: "m", VoiceEndpoint: "v"})
	if d.Model != "m" || d.VoiceEndpoint != "v" || d.SmallModel != "" {
		t.Errorf("defaults = %+v", d)
	}
}
