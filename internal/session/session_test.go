package session

import (
	"testing"

	"github.com/nidhogg/agent-interview/internal/interview"
)

func TestLiveEntriesKeepHistoryIndex(t *testing.T) {
	s := &Session{subscribers: make(map[int]chan Entry)}
	s.record(interview.Event{Type: interview.EventInput, Question: "Hi?"})

	past, live, cancel := s.Subscribe()
	defer cancel()
	if len(past) != 1 || past[0].Seq != 0 || past[0].Question != "Hi?" {
		t.Fatalf("past = %+v", past)
	}

	// overflow the subscription buffer so later entries are dropped
	for i := 0; i < 100; i++ {
		s.record(interview.Event{Type: interview.EventProcessing, Processing: i%2 == 0})
	}
	for want := 1; want <= cap(live); want++ {
		e := <-live
		if e.Seq != want {
			t.Fatalf("entry seq = %d, want %d", e.Seq, want)
		}
	}

	s.record(interview.Event{Type: interview.EventOutput, Text: "done"})
	e := <-live
	if e.Seq != 101 || e.Type != interview.EventOutput {
		t.Errorf("entry = %+v, want seq 101 output", e)
	}
	if missed := s.Events(cap(live) + 1); len(missed) != 101-cap(live) {
		t.Errorf("history refill has %d events, want %d", len(missed), 101-cap(live))
	}
}
