package interview

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nidhogg/agent-interview/internal/agent"
	"github.com/nidhogg/agent-interview/internal/feature"
	"github.com/nidhogg/agent-interview/internal/imagegen"
	"github.com/nidhogg/agent-interview/internal/provider"
	"go.uber.org/zap"
)

var testCatalog = []feature.Spec{
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

// script answers completion requests in order.
type script struct {
	mu       sync.Mutex
	replies  []string
	requests []*provider.CompletionRequest
}

func (s *script) Complete(_ context.Context, req *provider.CompletionRequest) (*provider.CompletionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.requests)
	s.requests = append(s.requests, req)
	if i >= len(s.replies) {
		return nil, &provider.APIError{Status: 500, Body: "script exhausted"}
	}
	return &provider.CompletionResponse{Content: json.RawMessage(s.replies[i])}, nil
}

func (s *script) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// painter returns a tiny PNG for every request.
type painter struct {
	calls   atomic.Int32
	prompts sync.Map
}

func (p *painter) Generate(_ context.Context, req imagegen.Request) (*imagegen.Image, error) {
	n := p.calls.Add(1)
	p.prompts.Store(n, req.Prompt)
	return &imagegen.Image{Data: []byte("\x89PNG\r\n\x1a\n"), ContentType: "image/png", Seed: int(n)}, nil
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) listen(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *recorder) count(t EventType) int {
	n := 0
	for _, got := range r.types() {
		if got == t {
			n++
		}
	}
	return n
}

func (r *recorder) first(t EventType) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Type == t {
			return e, true
		}
	}
	return Event{}, false
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func start(t *testing.T, opts Options) (*Interview, *recorder) {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	iv, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(iv.Close)
	rec := &recorder{}
	iv.On(rec.listen)
	if err := iv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return iv, rec
}

const pirateOutput = `{"output":{
	"name":"Captain Saltbeard",
	"bio":"Gruff but fair, loves sea shanties.",
	"description":"Ask him where the treasure is buried.",
	"visualDescription":"old pirate with a red beard, tricorn hat, long coat",
	"homespaceDescription":"wooden pirate ship deck at sunset",
	"features":{"tts":{"voiceEndpoint":"elevenlabs:scillia"},"rateLimit":null}
}}`

func TestAutoModeResolvesOnce(t *testing.T) {
	c := &script{replies: []string{pirateOutput}}
	images := &painter{}
	iv, rec := start(t, Options{
		Prompt:    "Build a pirate bot",
		Mode:      ModeAuto,
		Catalog:   testCatalog,
		Completer: c,
		Images:    images,
	})

	cfg, err := iv.Wait(waitCtx(t))
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if cfg.Name == "" || cfg.Bio == "" || cfg.Description == "" {
		t.Errorf("missing character fields: %+v", cfg)
	}
	if !strings.HasPrefix(cfg.PreviewURL, "data:image/png;base64,") {
		t.Errorf("previewUrl = %q", cfg.PreviewURL)
	}
	if !strings.HasPrefix(cfg.HomespaceURL, "data:image/png;base64,") {
		t.Errorf("homespaceUrl = %q", cfg.HomespaceURL)
	}
	if _, ok := cfg.Features["rateLimit"]; ok {
		t.Error("null feature was kept")
	}
	if string(cfg.Features["tts"]) == "" {
		t.Error("tts feature missing")
	}
	if got := images.calls.Load(); got != 2 {
		t.Errorf("image renders = %d, want 2", got)
	}
	if rec.count(EventFinish) != 1 {
		t.Errorf("finish events = %d, want 1", rec.count(EventFinish))
	}
	if rec.count(EventInput) != 0 {
		t.Errorf("auto mode asked a question")
	}
	if iv.State() != StateDone {
		t.Errorf("state = %s", iv.State())
	}

	req := c.requests[0]
	if req.SchemaName != "output" {
		t.Errorf("auto mode used schema %q, want output", req.SchemaName)
	}
	if !strings.Contains(req.Messages[0].Content, "When you think the session is over, set the `done` flag.") {
		t.Error("auto done guidance missing from system prompt")
	}
	if req.Messages[1].Content != "Build a pirate bot" {
		t.Errorf("user prompt = %q", req.Messages[1].Content)
	}

	// The session stays resolved.
	again, err := iv.Wait(waitCtx(t))
	if err != nil || again.Name != cfg.Name {
		t.Errorf("second Wait = %+v, %v", again, err)
	}
	if turnErr := iv.Write(context.Background(), "more").Err(); !errors.Is(turnErr, ErrSessionDone) {
		t.Errorf("Write after done = %v, want ErrSessionDone", turnErr)
	}
}

func TestInteractiveOpensWithQuestion(t *testing.T) {
	c := &script{}
	iv, rec := start(t, Options{Mode: ModeInteractive, Catalog: testCatalog, Completer: c})

	types := rec.types()
	if len(types) == 0 || types[0] != EventInput {
		t.Fatalf("first event = %v, want input", types)
	}
	ev, _ := rec.first(EventInput)
	if ev.Question != QuestionCreate {
		t.Errorf("question = %q", ev.Question)
	}
	if c.calls() != 0 {
		t.Errorf("provider called %d times before any answer", c.calls())
	}
	if iv.State() != StateInteractiveWait {
		t.Errorf("state = %s", iv.State())
	}
}

func TestEditAndManualOpenings(t *testing.T) {
	_, rec := start(t, Options{Mode: ModeEdit, Catalog: testCatalog, Completer: &script{}})
	if ev, ok := rec.first(EventInput); !ok || ev.Question != QuestionEdit {
		t.Errorf("edit opening = %+v", ev)
	}

	iv, rec := start(t, Options{Mode: ModeManual, Catalog: testCatalog, Completer: &script{}})
	if len(rec.types()) != 0 {
		t.Errorf("manual mode emitted %v", rec.types())
	}
	if iv.State() != StateManualWait {
		t.Errorf("state = %s", iv.State())
	}
}

func TestInteractiveConversation(t *testing.T) {
	c := &script{replies: []string{
		`{"response":"Arr, what should he look like?","updateObject":{"name":"Saltbeard","bio":null,"features":{"tts":null}},"done":false}`,
		`{"response":"Ready to set sail!","updateObject":{"visualDescription":"red beard","private":true},"done":true}`,
	}}
	images := &painter{}
	iv, rec := start(t, Options{Mode: ModeInteractive, Catalog: testCatalog, Completer: c, Images: images})

	if err := iv.Write(context.Background(), "a pirate").Wait(waitCtx(t)); err != nil {
		t.Fatalf("first answer: %v", err)
	}
	if iv.State() != StateInteractiveWait {
		t.Errorf("state after reply = %s", iv.State())
	}
	if err := iv.Write(context.Background(), "red beard").Wait(waitCtx(t)); err != nil {
		t.Fatalf("second answer: %v", err)
	}
	cfg, err := iv.Wait(waitCtx(t))
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}

	want := []EventType{
		EventInput,
		EventProcessing, EventName, EventChange, EventInput, EventProcessing,
		EventProcessing, EventPrivate, EventChange, EventOutput,
	}
	got := rec.types()
	// Preview and finish events race with the trailing processing event.
	var core []EventType
	for _, e := range got {
		if e != EventPreview && e != EventFinish {
			core = append(core, e)
		}
	}
	if len(core) < len(want) {
		t.Fatalf("events = %v", got)
	}
	for i := range want {
		if core[i] != want[i] {
			t.Fatalf("events = %v, want prefix %v", core, want)
		}
	}

	if ev, _ := rec.first(EventName); ev.Value != "Saltbeard" {
		t.Errorf("name event value = %v", ev.Value)
	}
	if rec.count(EventFeatures) != 0 {
		t.Error("features event emitted for all-null features")
	}
	if cfg.Name != "Saltbeard" || !cfg.Private || cfg.VisualDescription != "red beard" {
		t.Errorf("final config = %+v", cfg)
	}
	if cfg.PreviewURL == "" || cfg.HomespaceURL != "" {
		t.Errorf("assets = %q / %q", cfg.PreviewURL, cfg.HomespaceURL)
	}
	if !strings.Contains(c.requests[0].Messages[0].Content, "You might want to confirm with the user beforehand.") {
		t.Error("interactive confirmation hint missing")
	}
	if rec.count(EventPreview) != 1 {
		t.Errorf("preview events = %d", rec.count(EventPreview))
	}
}

func TestUnknownFeatureFailsBeforeNetwork(t *testing.T) {
	c := &script{}
	_, err := New(Options{
		Mode:      ModeAuto,
		Catalog:   testCatalog,
		Features:  []string{"tts", "teleport"},
		Completer: c,
	})
	if !errors.Is(err, feature.ErrUnknownFeature) {
		t.Fatalf("err = %v, want ErrUnknownFeature", err)
	}
	if c.calls() != 0 {
		t.Error("provider was called")
	}
}

func TestObjectFeaturesRestrictOffer(t *testing.T) {
	iv, err := New(Options{
		Mode:      ModeEdit,
		Object:    agent.Config{Features: map[string]json.RawMessage{"tts": json.RawMessage(`{}`)}},
		Catalog:   testCatalog,
		Completer: &script{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer iv.Close()
	if names := iv.Features().Names(); len(names) != 1 || names[0] != "tts" {
		t.Errorf("offered = %v", names)
	}
	if iv.Features().AllowAll() {
		t.Error("restricted set reports allow-all")
	}
}

func TestInvalidModeRejected(t *testing.T) {
	if _, err := New(Options{Mode: "sideways", Completer: &script{}}); err == nil {
		t.Fatal("expected error")
	}
}

func TestSeededAssetsAreKept(t *testing.T) {
	c := &script{replies: []string{`{"output":{"name":"Nova","bio":"b","description":"d"}}`}}
	images := &painter{}
	iv, _ := start(t, Options{
		Object: agent.Config{
			PreviewURL:   "https://cdn.example/nova.png",
			HomespaceURL: "https://cdn.example/home.png",
		},
		Mode:      ModeAuto,
		Catalog:   testCatalog,
		Completer: c,
		Images:    images,
	})
	cfg, err := iv.Wait(waitCtx(t))
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if cfg.PreviewURL != "https://cdn.example/nova.png" || cfg.HomespaceURL != "https://cdn.example/home.png" {
		t.Errorf("assets = %q / %q", cfg.PreviewURL, cfg.HomespaceURL)
	}
	if images.calls.Load() != 0 {
		t.Error("seeded assets were regenerated")
	}
}

func TestEchoedDescriptionsKeepSeededAssets(t *testing.T) {
	c := &script{replies: []string{`{"output":{"name":"Nova","visualDescription":"blue robot","homespaceDescription":"moon base"}}`}}
	images := &painter{}
	iv, _ := start(t, Options{
		Object: agent.Config{
			VisualDescription:    "blue robot",
			HomespaceDescription: "moon base",
			PreviewURL:           "https://cdn.example/nova.png",
			HomespaceURL:         "https://cdn.example/home.png",
		},
		Mode:      ModeAuto,
		Catalog:   testCatalog,
		Completer: c,
		Images:    images,
	})
	cfg, err := iv.Wait(waitCtx(t))
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if cfg.PreviewURL != "https://cdn.example/nova.png" || cfg.HomespaceURL != "https://cdn.example/home.png" {
		t.Errorf("assets = %q / %q", cfg.PreviewURL, cfg.HomespaceURL)
	}
	if n := images.calls.Load(); n != 0 {
		t.Errorf("image renders = %d, want 0", n)
	}
}

func TestChangedDescriptionReplacesSeededAsset(t *testing.T) {
	c := &script{replies: []string{`{"output":{"name":"Nova","visualDescription":"red robot","homespaceDescription":"moon base"}}`}}
	images := &painter{}
	iv, _ := start(t, Options{
		Object: agent.Config{
			VisualDescription:    "blue robot",
			HomespaceDescription: "moon base",
			PreviewURL:           "https://cdn.example/nova.png",
			HomespaceURL:         "https://cdn.example/home.png",
		},
		Mode:      ModeAuto,
		Catalog:   testCatalog,
		Completer: c,
		Images:    images,
	})
	cfg, err := iv.Wait(waitCtx(t))
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !strings.HasPrefix(cfg.PreviewURL, "data:image/png;base64,") {
		t.Errorf("previewUrl = %q, want a fresh render", cfg.PreviewURL)
	}
	if cfg.HomespaceURL != "https://cdn.example/home.png" {
		t.Errorf("homespaceUrl = %q", cfg.HomespaceURL)
	}
	if n := images.calls.Load(); n != 1 {
		t.Errorf("image renders = %d, want 1", n)
	}
}

func TestUnofferedFeaturesAreDropped(t *testing.T) {
	c := &script{replies: []string{`{"output":{"name":"Nova","features":{"tts":{"voiceEndpoint":"x"},"rateLimit":{"maxUserMessages":3},"teleport":{}}}}`}}
	iv, _ := start(t, Options{
		Mode:      ModeAuto,
		Catalog:   testCatalog,
		Features:  []string{"tts"},
		Completer: c,
	})
	cfg, err := iv.Wait(waitCtx(t))
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(cfg.Features) != 1 || string(cfg.Features["tts"]) != `{"voiceEndpoint":"x"}` {
		t.Errorf("features = %v, want only tts", cfg.Features)
	}

	output := c.requests[0].Schema["properties"].(map[string]any)["output"].(map[string]any)
	features := output["properties"].(map[string]any)["features"].(map[string]any)["anyOf"].([]any)[0].(map[string]any)
	if features["additionalProperties"] != false {
		t.Errorf("features schema sent open: %v", features)
	}
}

func TestTurnQueuedBehindDoneIsRejected(t *testing.T) {
	c := &script{replies: []string{
		`{"response":"All set.","updateObject":{"name":"Nova"},"done":true}`,
		`{"response":"late","updateObject":{"name":"Late"},"done":false}`,
	}}
	iv, _ := start(t, Options{Mode: ModeInteractive, Catalog: testCatalog, Completer: c})

	t1 := iv.Write(context.Background(), "first")
	t2 := iv.Write(context.Background(), "second")
	if err := t1.Wait(waitCtx(t)); err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if err := t2.Wait(waitCtx(t)); !errors.Is(err, ErrSessionDone) {
		t.Errorf("second turn = %v, want ErrSessionDone", err)
	}
	cfg, err := iv.Wait(waitCtx(t))
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if cfg.Name != "Nova" {
		t.Errorf("name = %q, want Nova", cfg.Name)
	}
	if n := c.calls(); n != 1 {
		t.Errorf("completion calls = %d, want 1", n)
	}
	for _, m := range iv.Messages() {
		if m.Content == "second" {
			t.Error("rejected turn reached the history")
		}
	}
}

func TestNoImageBackendLeavesAssetsEmpty(t *testing.T) {
	iv, _ := start(t, Options{
		Mode:      ModeAuto,
		Catalog:   testCatalog,
		Completer: &script{replies: []string{pirateOutput}},
	})
	cfg, err := iv.Wait(waitCtx(t))
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if cfg.PreviewURL != "" || cfg.HomespaceURL != "" {
		t.Errorf("assets = %q / %q", cfg.PreviewURL, cfg.HomespaceURL)
	}
}

func TestAutoTurnFailureFailsSession(t *testing.T) {
	iv, rec := start(t, Options{Mode: ModeAuto, Catalog: testCatalog, Completer: &script{}})
	_, err := iv.Wait(waitCtx(t))
	var apiErr *provider.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if rec.count(EventError) != 1 {
		t.Errorf("error events = %d", rec.count(EventError))
	}
	if iv.State() != StateFailed {
		t.Errorf("state = %s", iv.State())
	}
}

func TestInteractiveTurnFailureIsRecoverable(t *testing.T) {
	iv, rec := start(t, Options{Mode: ModeInteractive, Catalog: testCatalog, Completer: &script{}})
	if err := iv.Write(context.Background(), "hello").Wait(waitCtx(t)); err == nil {
		t.Fatal("expected turn failure")
	}
	if iv.State() != StateInteractiveWait {
		t.Errorf("state = %s, want %s", iv.State(), StateInteractiveWait)
	}
	if rec.count(EventError) != 1 {
		t.Errorf("error events = %d", rec.count(EventError))
	}
	select {
	case <-iv.Done():
		t.Error("session resolved after a recoverable failure")
	default:
	}
}

func TestWriteBeforeStart(t *testing.T) {
	iv, err := New(Options{Mode: ModeManual, Catalog: testCatalog, Completer: &script{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer iv.Close()
	if err := iv.Write(context.Background(), "hi").Err(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("err = %v, want ErrNotStarted", err)
	}
	if err := iv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := iv.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start = %v", err)
	}
}

func TestCloseResolvesPendingSession(t *testing.T) {
	iv, rec := start(t, Options{Mode: ModeManual, Catalog: testCatalog, Completer: &script{}})
	iv.Close()
	if _, err := iv.Wait(waitCtx(t)); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("err = %v, want ErrSessionClosed", err)
	}
	if rec.count(EventFinish) != 1 {
		t.Errorf("finish events = %d", rec.count(EventFinish))
	}
}

func TestAssetRef(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    string
		wantErr bool
	}{
		{"nil", nil, "", false},
		{"string", "https://x/y.png", "https://x/y.png", false},
		{"image", &imagegen.Image{Data: []byte{1, 2}, ContentType: "image/jpeg"}, "data:image/jpeg;base64,AQI=", false},
		{"nil image", (*imagegen.Image)(nil), "", false},
		{"other", 42, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := assetRef(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidResultType) {
					t.Fatalf("err = %v, want ErrInvalidResultType", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("assetRef = %q, %v; want %q", got, err, tt.want)
			}
		})
	}
}

func TestEncodeEvent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tests := []struct {
		name string
		ev   Event
		want string
	}{
		{"input", Event{Type: EventInput, Question: "Hi?"}, `{"type":"input","question":"Hi?"}`},
		{"processing off", Event{Type: EventProcessing}, `{"type":"processingStateChange","processing":false}`},
		{"field", Event{Type: EventName, Value: "Nova"}, `{"type":"name","value":"Nova"}`},
		{"aborted preview", Event{Type: EventPreview, Signal: ctx, Asset: &imagegen.Image{Data: []byte{1, 2, 3}, ContentType: "image/png", Seed: 7}},
			`{"type":"preview","asset":{"aborted":true,"contentType":"image/png","size":3,"seed":7}}`},
		{"error", Event{Type: EventError, Err: errors.New("boom")}, `{"type":"error","error":"boom"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := EncodeEvent(tt.ev)
			if err != nil {
				t.Fatalf("EncodeEvent: %v", err)
			}
			if string(b) != tt.want {
				t.Errorf("got %s\nwant %s", b, tt.want)
			}
		})
	}
}

func TestSystemPromptListsFeatures(t *testing.T) {
	set, err := feature.Build(testCatalog, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	p := SystemPrompt(ModeInteractive, set)
	for _, want := range []string{"`private` is a boolean", "The available features are:", "# tts\n", "# rateLimit\n"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt lacks %q", want)
		}
	}
}
