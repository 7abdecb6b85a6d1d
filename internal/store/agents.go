package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/nidhogg/agent-interview/internal/agent"
)

// AgentRecord is a stored agent config.
type AgentRecord struct {
	ID        string       `json:"id"`
	Config    agent.Config `json:"config"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// SaveAgent upserts an agent config.
func (s *Store) SaveAgent(ctx context.Context, id string, cfg agent.Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal agent %s: %w", id, err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO agents (id, name, config, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			config = EXCLUDED.config,
			updated_at = NOW(),
			deleted_at = NULL`,
		id, cfg.Name, data,
	)
	if err != nil {
		return fmt.Errorf("save agent %s: %w", id, err)
	}
	return nil
}

// GetAgent retrieves a single agent by ID.
func (s *Store) GetAgent(ctx context.Context, id string) (*AgentRecord, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, config, created_at, updated_at
		FROM agents WHERE id = $1 AND deleted_at IS NULL`, id)
	rec, err := scanAgent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get agent %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get agent %s: %w", id, err)
	}
	return rec, nil
}

// ListAgents returns all non-deleted agents, oldest first.
func (s *Store) ListAgents(ctx context.Context) ([]*AgentRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, config, created_at, updated_at
		FROM agents WHERE deleted_at IS NULL
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []*AgentRecord
	for rows.Next() {
		rec, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, rec)
	}
	return agents, rows.Err()
}

// DeleteAgent soft-deletes an agent.
func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE agents SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("delete agent %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete agent %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanAgent(row pgx.Row) (*AgentRecord, error) {
	var rec AgentRecord
	var data []byte
	if err := row.Scan(&rec.ID, &data, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &rec.Config); err != nil {
		return nil, fmt.Errorf("decode agent %s: %w", rec.ID, err)
	}
	return &rec, nil
}
