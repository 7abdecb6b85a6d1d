// Package interactor runs one schema-constrained conversation that fills in
// an agent config turn by turn.
package interactor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nidhogg/agent-interview/internal/agent"
	"github.com/nidhogg/agent-interview/internal/provider"
	"github.com/nidhogg/agent-interview/internal/queue"
	"github.com/nidhogg/agent-interview/internal/schema"
	"go.uber.org/zap"
)

const preamble = `You are an interactive configuration assistant designed to update a JSON configuration object on behalf of the user.
Prompt the user for a question you need answered to update the configuration object.
Be informal and succinct; do not directly ask for the fields. Hide the complexity and internal state, and auto-fill details where you can.
Feel free to use artistic license or ask clarifying questions.

Reply with a JSON object including a response to the user, an optional update object to merge with the existing one, and a done flag when you think it's time to end the conversation.`

// Message is emitted after every completed turn.
type Message struct {
	Response string
	// Update is the filtered update that was merged, nil when the model sent none.
	Update *agent.Update
	Done   bool
	// Object is a snapshot of the config after the merge.
	Object agent.Config
}

// Observer receives interactor events. Calls happen on the turn goroutine.
type Observer interface {
	ProcessingStateChanged(processing bool)
	MessageReceived(msg Message)
	TurnFailed(err error)
}

// Recorder persists every message appended to the history.
type Recorder interface {
	Record(ctx context.Context, msg provider.Message) error
}

// Filter post-processes an update before it is merged.
type Filter func(agent.Update) agent.Update

// Guard is consulted when a queued turn starts; a non-nil error fails the
// turn before anything is sent or recorded.
type Guard func() error

// Options configures an Interactor.
type Options struct {
	Completer    provider.Completer
	Model        string
	SystemPrompt string
	UserPrompt   string
	Object       agent.Config
	// ObjectSchema describes the editable object; it is embedded in both
	// reply schemas.
	ObjectSchema schema.Doc
	Filter       Filter
	Guard        Guard
	Observer     Observer
	Recorder     Recorder
	Logger       *zap.Logger
}

type turnReply struct {
	Response     string          `json:"response"`
	UpdateObject json.RawMessage `json:"updateObject"`
	Done         bool            `json:"done"`
}

type finalReply struct {
	Output json.RawMessage `json:"output"`
}

// Interactor owns a conversation's history and live config object.
type Interactor struct {
	completer provider.Completer
	model     string
	filter    Filter
	guard     Guard
	observer  Observer
	recorder  Recorder
	logger    *zap.Logger
	queue     *queue.Queue

	turnSchema  *schema.Validator
	finalSchema *schema.Validator

	mu         sync.Mutex
	messages   []provider.Message
	recorded   int
	object     agent.Config
	processing bool
}

// New builds an interactor and its opening messages. It compiles both reply
// schemas up front so a bad feature schema fails before any request.
func New(opts Options) (*Interactor, error) {
	if opts.Completer == nil {
		return nil, fmt.Errorf("interactor: completer is required")
	}
	if opts.ObjectSchema == nil {
		return nil, fmt.Errorf("interactor: object schema is required")
	}

	turnSchema, err := schema.Compile("result", TurnSchema(opts.ObjectSchema))
	if err != nil {
		return nil, err
	}
	finalSchema, err := schema.Compile("output", FinalSchema(opts.ObjectSchema))
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	filter := opts.Filter
	if filter == nil {
		filter = func(u agent.Update) agent.Update { return u }
	}

	it := &Interactor{
		completer:   opts.Completer,
		model:       opts.Model,
		filter:      filter,
		guard:       opts.Guard,
		observer:    opts.Observer,
		recorder:    opts.Recorder,
		logger:      logger,
		queue:       queue.New(),
		turnSchema:  turnSchema,
		finalSchema: finalSchema,
		object:      opts.Object.Clone(),
	}

	initial, err := json.MarshalIndent(it.object.Editable(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal initial state: %w", err)
	}
	system := preamble + "\n\n# Instructions\n" + opts.SystemPrompt + "\n\n# Initial state\n" + string(initial)
	it.messages = []provider.Message{{Role: provider.RoleSystem, Content: system}}
	if opts.UserPrompt != "" {
		it.messages = append(it.messages, provider.Message{Role: provider.RoleUser, Content: opts.UserPrompt})
	}
	return it, nil
}

// TurnSchema is the reply schema of an iterative turn.
func TurnSchema(object schema.Doc) schema.Doc {
	return schema.Object(map[string]schema.Doc{
		"response":     schema.String("Message to the user. A question when the session is not done."),
		"updateObject": schema.Nullable(object),
		"done":         schema.Boolean("Whether the configuration is complete."),
	}, "response", "updateObject", "done")
}

// FinalSchema is the reply schema of a forced final answer.
func FinalSchema(object schema.Doc) schema.Doc {
	return schema.Object(map[string]schema.Doc{"output": object}, "output")
}

// Write queues a turn answering with text. An empty text sends no user message.
func (it *Interactor) Write(ctx context.Context, text string) *queue.Turn {
	return it.queue.Submit(ctx, func(ctx context.Context) error {
		return it.turn(ctx, text, false)
	})
}

// End queues a turn that forces a schema-complete final answer. The
// resulting message always has Done set.
func (it *Interactor) End(ctx context.Context, text string) *queue.Turn {
	return it.queue.Submit(ctx, func(ctx context.Context) error {
		return it.turn(ctx, text, true)
	})
}

// Object returns a snapshot of the live config.
func (it *Interactor) Object() agent.Config {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.object.Clone()
}

// Messages returns a copy of the history.
func (it *Interactor) Messages() []provider.Message {
	it.mu.Lock()
	defer it.mu.Unlock()
	return append([]provider.Message(nil), it.messages...)
}

// Processing reports whether a turn is waiting on the completion provider.
func (it *Interactor) Processing() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.processing
}

func (it *Interactor) setProcessing(v bool) {
	it.mu.Lock()
	it.processing = v
	it.mu.Unlock()
	if it.observer != nil {
		it.observer.ProcessingStateChanged(v)
	}
}

func (it *Interactor) turn(ctx context.Context, text string, final bool) error {
	if it.guard != nil {
		if err := it.guard(); err != nil {
			return err
		}
	}
	it.setProcessing(true)
	defer it.setProcessing(false)

	err := it.exchange(ctx, text, final)
	if err != nil {
		it.logger.Warn("turn failed", zap.Bool("final", final), zap.Error(err))
		if it.observer != nil {
			it.observer.TurnFailed(err)
		}
	}
	return err
}

func (it *Interactor) exchange(ctx context.Context, text string, final bool) error {
	if text != "" {
		it.appendMessage(ctx, provider.Message{Role: provider.RoleUser, Content: text})
	}

	validator := it.turnSchema
	if final {
		validator = it.finalSchema
	}
	resp, err := it.completer.Complete(ctx, &provider.CompletionRequest{
		Model:      it.model,
		Messages:   it.Messages(),
		Schema:     validator.Doc(),
		SchemaName: validator.Name(),
	})
	if err != nil {
		return fmt.Errorf("completion: %w", err)
	}
	if err := validator.Validate(resp.Content); err != nil {
		return err
	}

	var reply turnReply
	if final {
		var fr finalReply
		if err := json.Unmarshal(resp.Content, &fr); err != nil {
			return fmt.Errorf("decode final reply: %w", err)
		}
		reply = turnReply{UpdateObject: fr.Output, Done: true}
	} else if err := json.Unmarshal(resp.Content, &reply); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}

	var update *agent.Update
	if len(reply.UpdateObject) > 0 && !bytes.Equal(bytes.TrimSpace(reply.UpdateObject), []byte("null")) {
		var u agent.Update
		if err := json.Unmarshal(reply.UpdateObject, &u); err != nil {
			return fmt.Errorf("decode update: %w", err)
		}
		u = it.filter(u)
		update = &u
	}

	content, err := json.MarshalIndent(reply, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal reply: %w", err)
	}

	it.mu.Lock()
	if update != nil {
		it.object.Merge(*update)
	}
	snapshot := it.object.Clone()
	it.mu.Unlock()
	it.appendMessage(ctx, provider.Message{Role: provider.RoleAssistant, Content: string(content)})

	it.logger.Debug("turn completed",
		zap.Bool("final", final),
		zap.Bool("done", reply.Done),
		zap.Bool("updated", update != nil))

	if it.observer != nil {
		it.observer.MessageReceived(Message{
			Response: reply.Response,
			Update:   update,
			Done:     reply.Done,
			Object:   snapshot,
		})
	}
	return nil
}

func (it *Interactor) appendMessage(ctx context.Context, msg provider.Message) {
	it.mu.Lock()
	it.messages = append(it.messages, msg)
	// the opening system and prompt messages go out with the first append
	pending := append([]provider.Message(nil), it.messages[it.recorded:]...)
	it.recorded = len(it.messages)
	it.mu.Unlock()
	if it.recorder == nil {
		return
	}
	for _, m := range pending {
		if err := it.recorder.Record(ctx, m); err != nil {
			it.logger.Warn("record message failed", zap.String("role", m.Role), zap.Error(err))
		}
	}
}
