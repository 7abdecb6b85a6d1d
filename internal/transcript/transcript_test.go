package transcript

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nidhogg/agent-interview/internal/provider"
)

func TestTranscriptRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "transcripts.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.Begin(ctx, Session{ID: "s1", Mode: "interactive"}); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	rec := s.Recorder("s1")
	if err := rec.Record(ctx, provider.Message{Role: provider.RoleSystem, Content: "sys"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := rec.Record(ctx, provider.Message{Role: provider.RoleUser, Content: "a pirate"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := s.Finish(ctx, "s1", "finished", "/tmp/pete"); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	msgs, err := s.Messages(ctx, "s1")
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 2 || msgs[1].Content != "a pirate" {
		t.Errorf("messages = %+v", msgs)
	}

	sessions, err := s.Sessions(ctx, 0)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Status != "finished" || sessions[0].Dir != "/tmp/pete" || sessions[0].FinishedAt.IsZero() {
		t.Errorf("sessions = %+v", sessions)
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.db")
	for i := 0; i < 2; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open #%d: %v", i, err)
		}
		s.Close()
	}
}
