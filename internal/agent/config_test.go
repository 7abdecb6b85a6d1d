package agent

import (
	"encoding/json"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func strPtr(s string) *string { return &s }

func TestMergeOnlyTouchesNonNilFields(t *testing.T) {
	orig := Config{
		Name:         "Old",
		Bio:          "old bio",
		Description:  "old desc",
		Model:        "openai:gpt-4o",
		PreviewURL:   "https://example.com/p.png",
		HomespaceURL: "https://example.com/h.png",
		Features:     map[string]json.RawMessage{"tts": json.RawMessage(`{"voiceEndpoint":"x"}`)},
	}
	c := orig.Clone()

	changed := c.Merge(Update{Name: strPtr("Pirate Pete"), VisualDescription: strPtr("eyepatch")})

	if want := []string{FieldName, FieldVisualDescription}; !reflect.DeepEqual(changed, want) {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	if c.Name != "Pirate Pete" || c.VisualDescription != "eyepatch" {
		t.Errorf("update not applied: %+v", c)
	}

	// Everything else is untouched byte for byte.
	c.Name, c.VisualDescription = orig.Name, orig.VisualDescription
	a, _ := json.Marshal(orig)
	b, _ := json.Marshal(c)
	if string(a) != string(b) {
		t.Errorf("untouched fields changed:\n%s\n%s", a, b)
	}
}

func TestMergeEmptyUpdateIsNoop(t *testing.T) {
	c := Config{Name: "A", Private: true}
	if changed := c.Merge(Update{}); len(changed) != 0 {
		t.Fatalf("changed = %v, want none", changed)
	}
	if c.Name != "A" || !c.Private {
		t.Errorf("config mutated: %+v", c)
	}
}

func TestUpdateDecodesNullAsAbsent(t *testing.T) {
	var u Update
	raw := `{"name":"Nova","bio":null,"features":{"tts":null,"discord":{"token":"t"}},"private":false}`
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if u.Bio != nil {
		t.Errorf("bio = %v, want nil", *u.Bio)
	}
	if u.Private == nil || *u.Private {
		t.Errorf("private should be an explicit false")
	}

	f := WithoutNullFeatures(u)
	if _, ok := f.Features["tts"]; ok {
		t.Errorf("null feature kept")
	}
	if _, ok := f.Features["discord"]; !ok {
		t.Errorf("non-null feature dropped")
	}
	if _, ok := u.Features["tts"]; !ok {
		t.Errorf("filter mutated its input")
	}
}

func TestWithoutNullFeaturesAllNull(t *testing.T) {
	u := Update{Features: map[string]json.RawMessage{"tts": json.RawMessage("null")}}
	if u.HasFeatureValues() {
		t.Errorf("HasFeatureValues = true for all-null features")
	}
	f := WithoutNullFeatures(u)
	if f.Features != nil {
		t.Errorf("features = %v, want nil", f.Features)
	}

	c := Config{Features: map[string]json.RawMessage{"tts": json.RawMessage(`{}`)}}
	c.Merge(f)
	if _, ok := c.Features["tts"]; !ok {
		t.Errorf("configured feature clobbered by null update")
	}
}

func TestEditableSerializesNulls(t *testing.T) {
	c := Config{Name: "Nova", PreviewURL: "data:image/png;base64,AAAA"}
	data, err := json.Marshal(c.Editable())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(data)
	if !strings.Contains(s, `"name":"Nova"`) || !strings.Contains(s, `"bio":null`) {
		t.Errorf("unexpected projection: %s", s)
	}
	if strings.Contains(s, "data:image") {
		t.Errorf("asset URL leaked into projection: %s", s)
	}
}

func TestEnsureDefaults(t *testing.T) {
	c := EnsureDefaults(Config{Bio: "kept"}, Defaults{Model: "gemini:flash"})
	if !strings.HasPrefix(c.Name, "AI Agent ") || len(c.Name) != len("AI Agent 12345") {
		t.Errorf("name = %q", c.Name)
	}
	if c.Bio != "kept" {
		t.Errorf("bio overwritten: %q", c.Bio)
	}
	if c.Description != "Created by the AI Agent SDK" {
		t.Errorf("description = %q", c.Description)
	}
	if c.Model != "gemini:flash" || c.SmallModel != DefaultDefaults.SmallModel {
		t.Errorf("models = %q %q", c.Model, c.SmallModel)
	}
	if c.VoiceEndpoint != DefaultDefaults.VoiceEndpoint {
		t.Errorf("voice = %q", c.VoiceEndpoint)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "pirate_pete")
	in := Config{Name: "Pirate Pete", Features: map[string]json.RawMessage{"tts": json.RawMessage(`{"voiceEndpoint":"v"}`)}}

	path, err := Save(dir, in)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if filepath.Base(path) != FileName {
		t.Errorf("path = %s", path)
	}
	out, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out.Name != in.Name || string(out.Features["tts"]) != `{"voiceEndpoint":"v"}` {
		t.Errorf("round trip mismatch: %+v", out)
	}
}

func TestSanitizeDirName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Pirate Pete", "pirate_pete"},
		{"Captain  J. Sparrow", "captain_j_sparrow"},
		{"a--b!!c", "a_b_c"},
	}
	for _, tt := range tests {
		if got := SanitizeDirName(tt.in); got != tt.want {
			t.Errorf("SanitizeDirName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
