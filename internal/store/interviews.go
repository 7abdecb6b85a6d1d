package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/nidhogg/agent-interview/internal/provider"
)

// Interview statuses.
const (
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// InterviewRecord is the stored summary of one session.
type InterviewRecord struct {
	ID         string     `json:"id"`
	Mode       string     `json:"mode"`
	Prompt     string     `json:"prompt"`
	Platform   string     `json:"platform,omitempty"`
	ChannelID  string     `json:"channel_id,omitempty"`
	Status     string     `json:"status"`
	AgentID    string     `json:"agent_id,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// CreateInterview inserts a running interview.
func (s *Store) CreateInterview(ctx context.Context, rec InterviewRecord) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO interviews (id, mode, prompt, platform, channel_id, status)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.Mode, rec.Prompt, rec.Platform, rec.ChannelID, StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("create interview %s: %w", rec.ID, err)
	}
	return nil
}

// FinishInterview marks an interview finished (agentID set) or failed (cause set).
func (s *Store) FinishInterview(ctx context.Context, id, agentID string, cause error) error {
	status, errText := StatusFinished, ""
	var agentRef *string
	if cause != nil {
		status, errText = StatusFailed, cause.Error()
	} else if agentID != "" {
		agentRef = &agentID
	}
	_, err := s.db.Exec(ctx, `
		UPDATE interviews SET status = $2, agent_id = $3, error = $4, finished_at = NOW()
		WHERE id = $1`,
		id, status, agentRef, errText,
	)
	if err != nil {
		return fmt.Errorf("finish interview %s: %w", id, err)
	}
	return nil
}

// GetInterview retrieves an interview summary.
func (s *Store) GetInterview(ctx context.Context, id string) (*InterviewRecord, error) {
	var rec InterviewRecord
	var agentID *string
	err := s.db.QueryRow(ctx, `
		SELECT id, mode, prompt, platform, channel_id, status, agent_id, error, created_at, finished_at
		FROM interviews WHERE id = $1`, id).Scan(
		&rec.ID, &rec.Mode, &rec.Prompt, &rec.Platform, &rec.ChannelID,
		&rec.Status, &agentID, &rec.Error, &rec.CreatedAt, &rec.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get interview %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get interview %s: %w", id, err)
	}
	if agentID != nil {
		rec.AgentID = *agentID
	}
	return &rec, nil
}

// AppendMessage stores one transcript message of an interview.
func (s *Store) AppendMessage(ctx context.Context, interviewID string, msg provider.Message) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO interview_messages (interview_id, role, content)
		VALUES ($1, $2, $3)`,
		interviewID, msg.Role, msg.Content,
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// GetMessages returns an interview transcript in append order. A limit of
// zero or less returns every message.
func (s *Store) GetMessages(ctx context.Context, interviewID string, limit int) ([]provider.Message, error) {
	query := `
		SELECT role, content
		FROM interview_messages
		WHERE interview_id = $1
		ORDER BY id ASC`
	args := []any{interviewID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var msgs []provider.Message
	for rows.Next() {
		var msg provider.Message
		if err := rows.Scan(&msg.Role, &msg.Content); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// MessageRecorder appends interview messages to the store.
type MessageRecorder struct {
	store       *Store
	interviewID string
}

// Recorder returns a recorder bound to one interview.
func (s *Store) Recorder(interviewID string) *MessageRecorder {
	return &MessageRecorder{store: s, interviewID: interviewID}
}

// Record implements interactor.Recorder.
func (r *MessageRecorder) Record(ctx context.Context, msg provider.Message) error {
	return r.store.AppendMessage(ctx, r.interviewID, msg)
}
