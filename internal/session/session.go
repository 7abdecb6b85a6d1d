package session

import (
	"sync"
	"time"

	"github.com/nidhogg/agent-interview/internal/agent"
	"github.com/nidhogg/agent-interview/internal/interview"
)

// Status is the coarse lifecycle of a managed session.
type Status string

const (
	StatusRunning   Status = "running"
	StatusFinished  Status = "finished"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Session is one managed interview.
type Session struct {
	ID        string
	AgentID   string
	Mode      interview.Mode
	Platform  string
	ChannelID string
	CreatedAt time.Time

	iv *interview.Interview

	mu          sync.Mutex
	status      Status
	question    string
	processing  bool
	err         error
	history     []interview.Event
	subscribers map[int]chan Entry
	nextSub     int
	closed      bool
}

// Entry is a recorded event with its index in the session history.
type Entry struct {
	Seq int
	interview.Event
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	ID         string          `json:"id"`
	AgentID    string          `json:"agent_id"`
	Mode       interview.Mode  `json:"mode"`
	State      interview.State `json:"state"`
	Status     Status          `json:"status"`
	Platform   string          `json:"platform,omitempty"`
	ChannelID  string          `json:"channel_id,omitempty"`
	Question   string          `json:"question,omitempty"`
	Processing bool            `json:"processing"`
	Object     agent.Config    `json:"object"`
	Error      string          `json:"error,omitempty"`
	Events     int             `json:"events"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Snapshot returns the session's current view.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ID:         s.ID,
		AgentID:    s.AgentID,
		Mode:       s.Mode,
		State:      s.iv.State(),
		Status:     s.status,
		Platform:   s.Platform,
		ChannelID:  s.ChannelID,
		Question:   s.question,
		Processing: s.processing,
		Object:     s.iv.Object(),
		Events:     len(s.history),
		CreatedAt:  s.CreatedAt,
	}
	if s.err != nil {
		snap.Error = s.err.Error()
	}
	return snap
}

// Interview exposes the underlying session.
func (s *Session) Interview() *interview.Interview { return s.iv }

// Events returns the events emitted after index since.
func (s *Session) Events(since int) []interview.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if since < 0 {
		since = 0
	}
	if since >= len(s.history) {
		return nil
	}
	return append([]interview.Event(nil), s.history[since:]...)
}

// Subscribe returns the events so far and a channel of later ones. The
// channel closes when the session ends or cancel is called. A subscriber
// that falls behind by more than the buffer loses events; the gap shows in
// the entry sequence and can be refilled with Events.
func (s *Session) Subscribe() (past []Entry, live <-chan Entry, cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	past = make([]Entry, len(s.history))
	for i, ev := range s.history {
		past[i] = Entry{Seq: i, Event: ev}
	}
	ch := make(chan Entry, 64)
	if s.closed {
		close(ch)
		return past, ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = ch
	return past, ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(c)
		}
	}
}

func (s *Session) record(ev interview.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := Entry{Seq: len(s.history), Event: ev}
	s.history = append(s.history, ev)
	switch ev.Type {
	case interview.EventInput:
		s.question = ev.Question
	case interview.EventProcessing:
		s.processing = ev.Processing
	}
	for _, ch := range s.subscribers {
		select {
		case ch <- entry:
		default:
		}
	}
}

func (s *Session) finish(status Status, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.err = err
	s.question = ""
	s.closed = true
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
}

// Status returns the lifecycle status and failure, if any.
func (s *Session) Status() (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.err
}
