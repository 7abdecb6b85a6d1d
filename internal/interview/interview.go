// Package interview drives one agent-configuration session: a schema-bound
// conversation plus background avatar and homespace rendering.
package interview

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/nidhogg/agent-interview/internal/agent"
	"github.com/nidhogg/agent-interview/internal/feature"
	"github.com/nidhogg/agent-interview/internal/imagegen"
	"github.com/nidhogg/agent-interview/internal/interactor"
	"github.com/nidhogg/agent-interview/internal/provider"
	"github.com/nidhogg/agent-interview/internal/queue"
	"github.com/nidhogg/agent-interview/internal/schema"
	"github.com/nidhogg/agent-interview/internal/updater"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrSessionDone       = errors.New("interview is already finished")
	ErrSessionClosed     = errors.New("interview closed")
	ErrNotStarted        = errors.New("interview not started")
	ErrAlreadyStarted    = errors.New("interview already started")
	ErrInvalidResultType = errors.New("invalid result type")
	ErrInvalidMode       = errors.New("invalid mode")
)

// Mode selects how a session opens.
type Mode string

const (
	ModeAuto        Mode = "auto"
	ModeInteractive Mode = "interactive"
	ModeEdit        Mode = "edit"
	ModeManual      Mode = "manual"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeAuto, ModeInteractive, ModeEdit, ModeManual:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

const (
	QuestionCreate = "What do you want your agent to do?"
	QuestionEdit   = "What edits do you want to make?"
)

const instructions = "Configure an AI agent as specified by the user.\n" +
	"\n" +
	"`name`, `bio`, `description`, and `visualDescription` describe the character.\n" +
	"`bio` describes the personality and character traits of the agent.\n" +
	"`description` explains why other agents or users would want to interact with this agent. Keep it intriguing and concise.\n" +
	"`visualDescription` visually describes the character without referring to their pose or emotion. This is an image prompt to use for an image generator. Update it whenever the character's visual description changes.\n" +
	"e.g. 'girl with medium blond hair and blue eyes, purple dress, green hoodie, jean shorts, sneakers'\n" +
	"`homespaceDescription` visually describes the character's homespace. This is also an image prompt, meant to describe the natural habitat of the character. Update it whenever the character's homespace changes.\n" +
	"e.g. 'neotokyo, sakura trees, neon lights, path, ancient ruins, jungle, lush curved vine plants'\n" +
	"`private` is a boolean that determines whether the agent is private (true) or public (false).\n" +
	"\n" +
	"Do not use placeholder values for fields and do not copy the above examples. Instead, make up something unique and appropriate for the character.\n"

// SystemPrompt assembles the interview instructions for mode and features.
func SystemPrompt(mode Mode, features *feature.Set) string {
	var b strings.Builder
	b.WriteString(instructions)
	if mode == ModeAuto {
		b.WriteString("When you think the session is over, set the `done` flag.")
	} else {
		b.WriteString("When you think the session is over, then set the `done` flag. You might want to confirm with the user beforehand.")
	}
	b.WriteString("\n\n")
	b.WriteString(features.Prompt())
	return b.String()
}

// ObjectSchema is the shape of the config object the model may update.
// Every field may be null, meaning unchanged.
func ObjectSchema(features *feature.Set) schema.Doc {
	return schema.Object(map[string]schema.Doc{
		agent.FieldName:                 schema.Nullable(schema.String("Name of the agent.")),
		agent.FieldBio:                  schema.Nullable(schema.String("Personality and character traits.")),
		agent.FieldDescription:          schema.Nullable(schema.String("Why others would want to talk to the agent.")),
		agent.FieldVisualDescription:    schema.Nullable(schema.String("Image prompt describing the character.")),
		agent.FieldHomespaceDescription: schema.Nullable(schema.String("Image prompt describing the character's homespace.")),
		agent.FieldFeatures:             schema.Nullable(features.Schema()),
		agent.FieldPrivate:              schema.Nullable(schema.Boolean("Whether the agent is private.")),
	})
}

// Options configures a session.
type Options struct {
	Object agent.Config
	Prompt string
	Mode   Mode
	// Catalog is the feature registry snapshot for this session.
	Catalog []feature.Spec
	// Features restricts the offered features. Nil means the object's
	// configured features; empty after that means the whole catalog.
	Features  []string
	Completer provider.Completer
	Model     string
	Images    imagegen.Generator
	Recorder  interactor.Recorder
	Logger    *zap.Logger
}

type assetUpdater = updater.Updater[string, any]

// Interview is one running session.
type Interview struct {
	mode       Mode
	logger     *zap.Logger
	features   *feature.Set
	interactor *interactor.Interactor
	preview    *assetUpdater
	homespace  *assetUpdater

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	machine   *Machine
	object    agent.Config
	listeners []Listener

	emitMu sync.Mutex

	finished   chan struct{}
	finishOnce sync.Once
	result     agent.Config
	err        error
}

// New validates the feature selection and prepares a session. Nothing is
// sent to the completion provider until Start.
func New(opts Options) (*Interview, error) {
	if opts.Completer == nil {
		return nil, fmt.Errorf("interview: completer is required")
	}
	if _, err := ParseMode(string(opts.Mode)); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	selected := opts.Features
	if selected == nil {
		selected = opts.Object.FeatureNames()
	}
	set, err := feature.Build(opts.Catalog, selected)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	iv := &Interview{
		mode:     opts.Mode,
		logger:   logger,
		features: set,
		ctx:      ctx,
		cancel:   cancel,
		machine:  NewMachine(),
		object:   opts.Object.Clone(),
		finished: make(chan struct{}),
	}

	iv.interactor, err = interactor.New(interactor.Options{
		Completer:    opts.Completer,
		Model:        opts.Model,
		SystemPrompt: SystemPrompt(opts.Mode, set),
		UserPrompt:   opts.Prompt,
		Object:       opts.Object,
		ObjectSchema: ObjectSchema(set),
		Filter:       iv.restrictFeatures,
		Guard:        iv.acceptingTurns,
		Observer:     iv,
		Recorder:     opts.Recorder,
		Logger:       logger,
	})
	if err != nil {
		cancel()
		return nil, err
	}

	images := opts.Images
	iv.preview = updater.New(ctx, render(images, imagegen.CharacterRequest),
		updater.WithOnChange[string, any](iv.assetChanged(EventPreview)),
		updater.WithLogger[string, any]("preview", logger))
	iv.homespace = updater.New(ctx, render(images, imagegen.BackgroundRequest),
		updater.WithOnChange[string, any](iv.assetChanged(EventHomespace)),
		updater.WithLogger[string, any]("homespace", logger))
	seed(iv.preview, opts.Object.VisualDescription, opts.Object.PreviewURL)
	seed(iv.homespace, opts.Object.HomespaceDescription, opts.Object.HomespaceURL)
	return iv, nil
}

// seed installs a saved asset. With its description recorded too, a reply
// that repeats the description does not render the asset again.
func seed(u *assetUpdater, description, url string) {
	switch {
	case url == "":
	case description == "":
		u.SetResult(url)
	default:
		u.Seed(description, url)
	}
}

// restrictFeatures keeps the model from adding features the session did not
// offer, including names missing from the catalog.
func (iv *Interview) restrictFeatures(u agent.Update) agent.Update {
	u, dropped := iv.features.Restrict(u)
	if len(dropped) > 0 {
		iv.logger.Warn("dropped features that were not offered", zap.Strings("features", dropped))
	}
	return u
}

func render(images imagegen.Generator, build func(string) imagegen.Request) updater.Transform[string, any] {
	return func(ctx context.Context, description string) (any, error) {
		if images == nil {
			return nil, imagegen.ErrNoImageProvider
		}
		img, err := images.Generate(ctx, build(description))
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return img, nil
	}
}

// Features returns the feature set offered to the model.
func (iv *Interview) Features() *feature.Set { return iv.features }

// Mode returns the session mode.
func (iv *Interview) Mode() Mode { return iv.mode }

// On registers a listener. Register listeners before Start to see every event.
func (iv *Interview) On(l Listener) {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	iv.listeners = append(iv.listeners, l)
}

// State returns the current lifecycle state.
func (iv *Interview) State() State {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	return iv.machine.State()
}

// Object returns a snapshot of the config being built.
func (iv *Interview) Object() agent.Config {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	return iv.object.Clone()
}

// Messages returns the conversation history.
func (iv *Interview) Messages() []provider.Message {
	return iv.interactor.Messages()
}

// Start dispatches on the mode: auto forces a final answer, interactive and
// edit ask an opening question, manual waits for Write.
func (iv *Interview) Start(ctx context.Context) error {
	iv.mu.Lock()
	if iv.machine.State() != StateInitializing {
		iv.mu.Unlock()
		return ErrAlreadyStarted
	}
	var trigger Trigger
	switch iv.mode {
	case ModeAuto:
		trigger = TriggerAuto
	case ModeInteractive:
		trigger = TriggerInteractive
	case ModeEdit:
		trigger = TriggerEdit
	default:
		trigger = TriggerManual
	}
	_, err := iv.machine.Fire(trigger)
	iv.mu.Unlock()
	if err != nil {
		return err
	}

	iv.logger.Info("interview started", zap.String("mode", string(iv.mode)), zap.Strings("features", iv.features.Names()))
	switch iv.mode {
	case ModeAuto:
		iv.interactor.End(ctx, "")
	case ModeInteractive:
		iv.emit(Event{Type: EventInput, Question: QuestionCreate})
	case ModeEdit:
		iv.emit(Event{Type: EventInput, Question: QuestionEdit})
	}
	return nil
}

// acceptingTurns reports why no turn may run now. It is checked when a turn
// is submitted and again when the queue reaches it, since an earlier turn
// may have finished the session meanwhile.
func (iv *Interview) acceptingTurns() error {
	state := iv.State()
	switch {
	case state == StateInitializing:
		return ErrNotStarted
	case state == StateFinalizing || state.Terminal():
		return ErrSessionDone
	}
	return nil
}

// Write answers the pending question.
func (iv *Interview) Write(ctx context.Context, answer string) *queue.Turn {
	if err := iv.acceptingTurns(); err != nil {
		return queue.Failed(err)
	}
	return iv.interactor.Write(ctx, answer)
}

// End forces the model to produce a complete config now.
func (iv *Interview) End(ctx context.Context, text string) *queue.Turn {
	if err := iv.acceptingTurns(); err != nil {
		return queue.Failed(err)
	}
	return iv.interactor.End(ctx, text)
}

// Wait blocks until the session resolves and returns the final config.
func (iv *Interview) Wait(ctx context.Context) (agent.Config, error) {
	select {
	case <-iv.finished:
		return iv.result.Clone(), iv.err
	case <-ctx.Done():
		return agent.Config{}, ctx.Err()
	}
}

// Done is closed once the session has resolved.
func (iv *Interview) Done() <-chan struct{} { return iv.finished }

// Close abandons the session and stops image rendering. A session that has
// not resolved yet resolves with ErrSessionClosed.
func (iv *Interview) Close() {
	iv.cancel()
	iv.preview.Close()
	iv.homespace.Close()
	iv.fail(ErrSessionClosed)
}

// ProcessingStateChanged implements interactor.Observer.
func (iv *Interview) ProcessingStateChanged(processing bool) {
	trigger := TriggerIdle
	if processing {
		trigger = TriggerBusy
	}
	iv.mu.Lock()
	if _, err := iv.machine.Fire(trigger); err != nil {
		iv.logger.Debug("ignored processing change", zap.Error(err))
	}
	iv.mu.Unlock()
	iv.emit(Event{Type: EventProcessing, Processing: processing})
}

// TurnFailed implements interactor.Observer. A failed auto turn fails the
// session since no one is there to re-prompt.
func (iv *Interview) TurnFailed(err error) {
	iv.emit(Event{Type: EventError, Err: err})
	if iv.mode == ModeAuto {
		iv.fail(err)
	}
}

// MessageReceived implements interactor.Observer.
func (iv *Interview) MessageReceived(msg interactor.Message) {
	trigger := TriggerReply
	if msg.Done {
		trigger = TriggerDone
	}
	iv.mu.Lock()
	if _, err := iv.machine.Fire(trigger); err != nil {
		iv.mu.Unlock()
		iv.logger.Warn("dropping reply", zap.Error(err))
		return
	}
	iv.object = msg.Object.Clone()
	iv.mu.Unlock()

	if u := msg.Update; u != nil {
		for _, ev := range fieldEvents(*u) {
			iv.emit(ev)
		}
		iv.emit(Event{Type: EventChange, Update: u, Object: msg.Object})

		if u.VisualDescription != nil && *u.VisualDescription != "" {
			iv.preview.Set(*u.VisualDescription)
		}
		if u.HomespaceDescription != nil && *u.HomespaceDescription != "" {
			iv.homespace.Set(*u.HomespaceDescription)
		}
	}

	if !msg.Done {
		iv.emit(Event{Type: EventInput, Question: msg.Response})
		return
	}
	if msg.Response != "" {
		iv.emit(Event{Type: EventOutput, Text: msg.Response})
	}
	go iv.finalize()
}

func fieldEvents(u agent.Update) []Event {
	var events []Event
	if u.Name != nil {
		events = append(events, Event{Type: EventName, Value: *u.Name})
	}
	if u.Bio != nil {
		events = append(events, Event{Type: EventBio, Value: *u.Bio})
	}
	if u.Description != nil {
		events = append(events, Event{Type: EventDesc, Value: *u.Description})
	}
	if u.HasFeatureValues() {
		events = append(events, Event{Type: EventFeatures, Value: u.Features})
	}
	if u.Private != nil {
		events = append(events, Event{Type: EventPrivate, Value: *u.Private})
	}
	return events
}

func (iv *Interview) assetChanged(t EventType) func(updater.Change[any]) {
	return func(c updater.Change[any]) {
		iv.emit(Event{Type: t, Asset: c.Result, Signal: c.Signal, Err: c.Err})
	}
}

func (iv *Interview) finalize() {
	var previewURL, homespaceURL string
	g, ctx := errgroup.WithContext(iv.ctx)
	g.Go(func() error {
		ref, err := iv.join(ctx, "preview", iv.preview)
		previewURL = ref
		return err
	})
	g.Go(func() error {
		ref, err := iv.join(ctx, "homespace", iv.homespace)
		homespaceURL = ref
		return err
	})
	if err := g.Wait(); err != nil {
		iv.fail(err)
		return
	}

	iv.mu.Lock()
	iv.object.PreviewURL = previewURL
	iv.object.HomespaceURL = homespaceURL
	result := iv.object.Clone()
	if _, err := iv.machine.Fire(TriggerFinalized); err != nil {
		iv.mu.Unlock()
		iv.logger.Debug("finalized after close", zap.Error(err))
		return
	}
	iv.mu.Unlock()

	iv.resolve(result, nil)
}

// join waits for an updater and turns its result into a storable reference.
// A missing image backend leaves the reference empty.
func (iv *Interview) join(ctx context.Context, name string, u *assetUpdater) (string, error) {
	res, err := u.WaitForLoad(ctx)
	if errors.Is(err, imagegen.ErrNoImageProvider) {
		iv.logger.Warn("no image backend, leaving asset empty", zap.String("asset", name))
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	ref, err := assetRef(res)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return ref, nil
}

func assetRef(v any) (string, error) {
	switch r := v.(type) {
	case nil:
		return "", nil
	case string:
		return r, nil
	case *imagegen.Image:
		if r == nil {
			return "", nil
		}
		return r.DataURL(), nil
	case []byte:
		return "data:" + http.DetectContentType(r) + ";base64," + base64.StdEncoding.EncodeToString(r), nil
	default:
		return "", fmt.Errorf("%w: %T", ErrInvalidResultType, v)
	}
}

func (iv *Interview) fail(err error) {
	iv.mu.Lock()
	_, ferr := iv.machine.Fire(TriggerFail)
	iv.mu.Unlock()
	if ferr != nil {
		return
	}
	iv.resolve(agent.Config{}, err)
}

func (iv *Interview) resolve(result agent.Config, err error) {
	iv.finishOnce.Do(func() {
		iv.result = result
		iv.err = err
		if err != nil {
			iv.logger.Warn("interview failed", zap.Error(err))
		} else {
			iv.logger.Info("interview finished", zap.String("name", result.Name))
		}
		iv.emit(Event{Type: EventFinish, Object: result, Err: err})
		close(iv.finished)
	})
}

func (iv *Interview) emit(ev Event) {
	iv.mu.Lock()
	listeners := append([]Listener(nil), iv.listeners...)
	iv.mu.Unlock()

	iv.emitMu.Lock()
	defer iv.emitMu.Unlock()
	for _, l := range listeners {
		l(ev)
	}
}
