// Package transcript keeps local interview transcripts in a SQLite file.
package transcript

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nidhogg/agent-interview/internal/provider"
	_ "modernc.org/sqlite"
)

// Session is one recorded interview.
type Session struct {
	ID         string
	Mode       string
	Prompt     string
	Dir        string
	Status     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Store is a SQLite transcript database.
type Store struct {
	db *sql.DB
	mu sync.Mutex // serializes writes to avoid SQLITE_BUSY
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create transcript directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open transcript db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping transcript db: %w", err)
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		prompt TEXT NOT NULL DEFAULT '',
		dir TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'running',
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);
	`)
	if err != nil {
		return fmt.Errorf("create transcript schema: %w", err)
	}
	return nil
}

// Begin records the start of a session.
func (s *Store) Begin(ctx context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, mode, prompt, dir, status, started_at) VALUES (?, ?, ?, ?, 'running', ?)`,
		sess.ID, sess.Mode, sess.Prompt, sess.Dir, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("begin session %s: %w", sess.ID, err)
	}
	return nil
}

// Finish sets the final status and output directory of a session.
func (s *Store) Finish(ctx context.Context, id, status, dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, dir = ?, finished_at = ? WHERE id = ?`,
		status, dir, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("finish session %s: %w", id, err)
	}
	return nil
}

// Append adds one message to a session transcript.
func (s *Store) Append(ctx context.Context, sessionID string, msg provider.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, msg.Role, msg.Content, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// Messages returns a transcript in append order.
func (s *Store) Messages(ctx context.Context, sessionID string) ([]provider.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content FROM messages WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []provider.Message
	for rows.Next() {
		var m provider.Message
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Sessions lists recorded sessions, newest first.
func (s *Store) Sessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mode, prompt, dir, status, started_at, finished_at
		FROM sessions ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		var started, finished int64
		if err := rows.Scan(&sess.ID, &sess.Mode, &sess.Prompt, &sess.Dir, &sess.Status, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.StartedAt = time.Unix(started, 0)
		if finished > 0 {
			sess.FinishedAt = time.Unix(finished, 0)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Recorder appends messages of one session.
type Recorder struct {
	store     *Store
	sessionID string
}

// Recorder returns a recorder bound to sessionID.
func (s *Store) Recorder(sessionID string) *Recorder {
	return &Recorder{store: s, sessionID: sessionID}
}

// Record implements interactor.Recorder.
func (r *Recorder) Record(ctx context.Context, msg provider.Message) error {
	return r.store.Append(ctx, r.sessionID, msg)
}
