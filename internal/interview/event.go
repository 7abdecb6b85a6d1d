package interview

import (
	"context"
	"encoding/json"

	"github.com/nidhogg/agent-interview/internal/agent"
	"github.com/nidhogg/agent-interview/internal/imagegen"
)

// EventType names an interview event.
type EventType string

const (
	EventInput      EventType = "input"
	EventOutput     EventType = "output"
	EventProcessing EventType = "processingStateChange"
	EventName       EventType = agent.FieldName
	EventBio        EventType = agent.FieldBio
	EventDesc       EventType = agent.FieldDescription
	EventFeatures   EventType = agent.FieldFeatures
	EventPrivate    EventType = agent.FieldPrivate
	EventChange     EventType = "change"
	EventPreview    EventType = "preview"
	EventHomespace  EventType = "homespace"
	EventError      EventType = "error"
	EventFinish     EventType = "finish"
)

// Event is delivered to listeners. Only the fields relevant to Type are set.
type Event struct {
	Type EventType

	// Question is set on input events.
	Question string
	// Text is set on output events.
	Text string
	// Processing is set on processingStateChange events.
	Processing bool
	// Value is the new value on field events.
	Value any

	// Update and Object are set on change and finish events.
	Update *agent.Update
	Object agent.Config

	// Asset and Signal are set on preview and homespace events.
	Asset  any
	Signal context.Context

	Err error
}

// Aborted reports whether an asset event belongs to a superseded render.
func (e Event) Aborted() bool {
	return e.Signal != nil && e.Signal.Err() != nil
}

// Listener receives events one at a time, in emission order. Listeners run
// on session goroutines and must not call Close.
type Listener func(Event)

type wireAsset struct {
	Aborted     bool   `json:"aborted"`
	URL         string `json:"url,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Size        int    `json:"size,omitempty"`
	Seed        int    `json:"seed,omitempty"`
	Error       string `json:"error,omitempty"`
}

type wireEvent struct {
	Type       EventType     `json:"type"`
	Question   *string       `json:"question,omitempty"`
	Text       *string       `json:"text,omitempty"`
	Processing *bool         `json:"processing,omitempty"`
	Value      any           `json:"value,omitempty"`
	Update     *agent.Update `json:"updateObject,omitempty"`
	Object     *agent.Config `json:"agentJson,omitempty"`
	Asset      *wireAsset    `json:"asset,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// EncodeEvent renders an event as JSON for streaming clients. Image bytes
// are summarized, not embedded.
func EncodeEvent(e Event) ([]byte, error) {
	w := wireEvent{Type: e.Type}
	switch e.Type {
	case EventInput:
		w.Question = &e.Question
	case EventOutput:
		w.Text = &e.Text
	case EventProcessing:
		w.Processing = &e.Processing
	case EventChange:
		w.Update = e.Update
		w.Object = &e.Object
	case EventPreview, EventHomespace:
		a := &wireAsset{Aborted: e.Aborted()}
		switch v := e.Asset.(type) {
		case string:
			a.URL = v
		case *imagegen.Image:
			if v != nil {
				a.ContentType = v.ContentType
				a.Size = len(v.Data)
				a.Seed = v.Seed
			}
		}
		if e.Err != nil {
			a.Error = e.Err.Error()
		}
		w.Asset = a
	case EventFinish:
		if e.Err == nil {
			w.Object = &e.Object
		}
	default:
		w.Value = e.Value
	}
	if e.Err != nil && w.Asset == nil {
		w.Error = e.Err.Error()
	}
	return json.Marshal(w)
}
