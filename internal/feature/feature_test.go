package feature

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/nidhogg/agent-interview/internal/agent"
	"github.com/nidhogg/agent-interview/internal/schema"
)

func catalog(t *testing.T) []Spec {
	t.Helper()
	specs, err := BuiltinRegistry{}.Features(context.Background())
	if err != nil {
		t.Fatalf("builtin features: %v", err)
	}
	return specs
}

func TestBuildAllowAll(t *testing.T) {
	specs := catalog(t)
	set, err := Build(specs, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !set.AllowAll() {
		t.Error("AllowAll = false with no selection")
	}
	if len(set.Names()) != len(specs) {
		t.Errorf("offered %d features, want %d", len(set.Names()), len(specs))
	}
	prompt := set.Prompt()
	if !strings.HasPrefix(prompt, "The available features are:\n") {
		t.Errorf("prompt header: %q", prompt[:40])
	}
	for _, s := range specs {
		if !strings.Contains(prompt, "# "+s.Name+"\n") {
			t.Errorf("prompt missing %s", s.Name)
		}
	}
}

func TestBuildRestricted(t *testing.T) {
	set, err := Build(catalog(t), []string{"tts", "discord", "tts"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if set.AllowAll() {
		t.Error("AllowAll = true with a selection")
	}
	if got := strings.Join(set.Names(), ","); got != "discord,tts" {
		t.Errorf("names = %s", got)
	}
	prompt := set.Prompt()
	if !strings.HasPrefix(prompt, "The agent is given the following features:\n") {
		t.Errorf("prompt header: %q", prompt)
	}
	if strings.Contains(prompt, "# rateLimit") {
		t.Error("unselected feature in prompt")
	}
	props := set.Schema()["properties"].(map[string]any)
	if _, ok := props["rateLimit"]; ok {
		t.Error("unselected feature in schema")
	}
}

func TestBuildUnknownFeature(t *testing.T) {
	_, err := Build(catalog(t), []string{"tts", "teleport"})
	if !errors.Is(err, ErrUnknownFeature) {
		t.Fatalf("err = %v, want ErrUnknownFeature", err)
	}
	if !strings.Contains(err.Error(), "teleport") {
		t.Errorf("error does not name the feature: %v", err)
	}
}

func TestFeatureSchemaValidatesParameters(t *testing.T) {
	set, err := Build(catalog(t), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	v, err := schema.Compile("features", set.Schema())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	ok := `{"tts":{"voiceEndpoint":"elevenlabs:uni:PSAakCTPE63lB4tP9iNQ"},"discord":null}`
	if err := v.Validate(json.RawMessage(ok)); err != nil {
		t.Errorf("valid features rejected: %v", err)
	}
	bad := `{"tts":{"voiceEndpoint":"elevenlabs:nobody:123"}}`
	if err := v.Validate(json.RawMessage(bad)); err == nil {
		t.Error("voice outside the enum accepted")
	}
}

func TestFeatureSchemaIsClosed(t *testing.T) {
	set, err := Build(catalog(t), []string{"tts"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if set.Schema()["additionalProperties"] != false {
		t.Errorf("features schema not closed: %v", set.Schema())
	}
	if !set.Has("tts") || set.Has("rateLimit") {
		t.Errorf("Has disagrees with offer %v", set.Names())
	}
}

func TestRestrictDropsUnofferedFeatures(t *testing.T) {
	set, err := Build(catalog(t), []string{"tts"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	u := agent.Update{Features: map[string]json.RawMessage{
		"tts":       json.RawMessage(`{"voiceEndpoint":"elevenlabs:scillia:kNBPK9DILaezWWUSHpF9"}`),
		"rateLimit": json.RawMessage(`{"maxUserMessages":3}`),
		"teleport":  json.RawMessage(`{}`),
		"discord":   json.RawMessage(`null`),
	}}
	got, dropped := set.Restrict(u)
	if len(got.Features) != 1 || got.Features["tts"] == nil {
		t.Errorf("features = %v, want only tts", got.Features)
	}
	if strings.Join(dropped, ",") != "rateLimit,teleport" {
		t.Errorf("dropped = %v", dropped)
	}

	got, _ = set.Restrict(agent.Update{Features: map[string]json.RawMessage{"teleport": json.RawMessage(`{}`)}})
	if got.Features != nil {
		t.Errorf("features = %v, want nil", got.Features)
	}
}

func TestCheckParams(t *testing.T) {
	specs := catalog(t)
	tests := []struct {
		name     string
		features map[string]json.RawMessage
		wantErr  error
		invalid  bool
	}{
		{"defaults", map[string]json.RawMessage{"tts": json.RawMessage(`{}`)}, nil, false},
		{"null removes", map[string]json.RawMessage{"tts": json.RawMessage(`null`)}, nil, false},
		{"store item", map[string]json.RawMessage{"storeItems": json.RawMessage(`{"items":[{"type":"payment","name":"Art","amount":499,"currency":"usd"}]}`)}, nil, false},
		{"fractional amount", map[string]json.RawMessage{"storeItems": json.RawMessage(`{"items":[{"type":"payment","name":"Art","amount":4.5,"currency":"usd"}]}`)}, nil, true},
		{"voice outside enum", map[string]json.RawMessage{"tts": json.RawMessage(`{"voiceEndpoint":"elevenlabs:nobody:123"}`)}, nil, true},
		{"undeclared parameter", map[string]json.RawMessage{"tts": json.RawMessage(`{"voice":"x"}`)}, nil, true},
		{"not an object", map[string]json.RawMessage{"tts": json.RawMessage(`"x"`)}, nil, true},
		{"unknown feature", map[string]json.RawMessage{"teleport": json.RawMessage(`{}`)}, ErrUnknownFeature, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckParams(specs, tt.features)
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("err = %v, want %v", err, tt.wantErr)
				}
			case tt.invalid:
				if !schema.IsValidationError(err) {
					t.Errorf("err = %v, want a validation error", err)
				}
			case err != nil:
				t.Errorf("CheckParams: %v", err)
			}
		})
	}
}

func TestBuiltinExcludeDev(t *testing.T) {
	specs, _ := BuiltinRegistry{ExcludeDev: true}.Features(context.Background())
	for _, s := range specs {
		if s.Name == "telnyx" || s.Name == "storeItems" {
			t.Errorf("dev feature %s not excluded", s.Name)
		}
	}
}

func TestHubRegistry(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/plugins", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("officialOnly") != "true" {
			t.Errorf("officialOnly not set: %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"plugins":[{"full_name":"elizaos/plugin-solana","description":"Solana"},{"full_name":"elizaos/plugin-image","description":"Images"}]}`))
	})
	mux.HandleFunc("/api/plugins/elizaos/plugin-solana", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"plugin":{"full_name":"elizaos/plugin-solana","description":"Solana wallet"},"agentConfig":{"pluginType":"elizaos:plugin:1.0.0","pluginParameters":{"SOLANA_PUBLIC_KEY":{"type":"string"}}}}`))
	})
	mux.HandleFunc("/api/plugins/elizaos/plugin-image", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"plugin":{"full_name":"elizaos/plugin-image"},"agentConfig":{}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	specs, err := NewHubRegistry(srv.URL+"/api", nil).Features(context.Background())
	if err != nil {
		t.Fatalf("Features: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("got %d specs, want 2", len(specs))
	}
	if specs[0].Name != "elizaos/plugin-solana" || specs[0].Description != "Solana wallet" {
		t.Errorf("spec[0] = %+v", specs[0])
	}
	if _, ok := specs[0].Parameters["SOLANA_PUBLIC_KEY"]; !ok {
		t.Errorf("parameters not decoded: %+v", specs[0].Parameters)
	}
	if specs[1].Description != "Images" {
		t.Errorf("listing description not used as fallback: %q", specs[1].Description)
	}
}

func TestHubRegistryError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := NewHubRegistry(srv.URL, nil).Features(context.Background()); err == nil {
		t.Fatal("expected error from failing hub")
	}
}

type countingRegistry struct{ calls atomic.Int32 }

func (c *countingRegistry) Features(context.Context) ([]Spec, error) {
	c.calls.Add(1)
	return []Spec{{Name: "tts"}}, nil
}

func TestSnapshotReadsOnce(t *testing.T) {
	src := &countingRegistry{}
	snap := NewSnapshot(src)
	for i := 0; i < 3; i++ {
		if _, err := snap.Features(context.Background()); err != nil {
			t.Fatalf("Features: %v", err)
		}
	}
	if n := src.calls.Load(); n != 1 {
		t.Errorf("source called %d times, want 1", n)
	}
}
