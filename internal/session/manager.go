// Package session runs interviews on behalf of remote clients: the HTTP API
// and the chat gateways.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/agent-interview/internal/agent"
	"github.com/nidhogg/agent-interview/internal/feature"
	"github.com/nidhogg/agent-interview/internal/imagegen"
	"github.com/nidhogg/agent-interview/internal/interview"
	"github.com/nidhogg/agent-interview/internal/provider"
	"github.com/nidhogg/agent-interview/internal/queue"
	"github.com/nidhogg/agent-interview/internal/store"
	"go.uber.org/zap"
)

var (
	ErrNotFound      = errors.New("session not found")
	ErrChannelBusy   = errors.New("an interview is already running in this channel")
	ErrNoAgentStore  = errors.New("agent storage is not configured")
	ErrAgentRequired = errors.New("edit needs an agent id or object")
)

// Store persists sessions and finished agents. *store.Store implements it.
type Store interface {
	CreateInterview(ctx context.Context, rec store.InterviewRecord) error
	FinishInterview(ctx context.Context, id, agentID string, cause error) error
	AppendMessage(ctx context.Context, interviewID string, msg provider.Message) error
	SaveAgent(ctx context.Context, id string, cfg agent.Config) error
	GetAgent(ctx context.Context, id string) (*store.AgentRecord, error)
}

// Publisher mirrors session events to other processes. *events.Bus implements it.
type Publisher interface {
	Listener(sessionID string) interview.Listener
	Expire(ctx context.Context, sessionID string, ttl time.Duration) error
}

// Config wires a Manager.
type Config struct {
	Completer provider.Completer
	Model     string
	Registry  feature.Registry
	Images    imagegen.Generator
	Defaults  agent.Defaults
	Store     Store
	Publisher Publisher
	// StreamTTL is how long published events outlive their session.
	StreamTTL time.Duration
	// Retention is how long a finished session stays retrievable before
	// it is evicted.
	Retention time.Duration
	Logger    *zap.Logger
}

// StartRequest describes a new session.
type StartRequest struct {
	// Mode defaults to auto with a prompt and interactive (edit when an
	// agent is given) without one.
	Mode     string        `json:"mode,omitempty"`
	Prompt   string        `json:"prompt,omitempty"`
	AgentID  string        `json:"agent_id,omitempty"`
	Object   *agent.Config `json:"object,omitempty"`
	Features []string      `json:"features,omitempty"`
	Model    string        `json:"model,omitempty"`

	Platform  string `json:"-"`
	ChannelID string `json:"-"`
}

// Manager owns the running sessions.
type Manager struct {
	cfg    Config
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	sessions map[string]*Session
	channels map[string]string
}

// NewManager creates a session manager.
func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StreamTTL == 0 {
		cfg.StreamTTL = time.Hour
	}
	if cfg.Retention == 0 {
		cfg.Retention = 15 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:      cfg,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
		channels: make(map[string]string),
	}
}

func channelKey(platform, channelID string) string {
	return platform + ":" + channelID
}

// Catalog returns the feature registry snapshot new sessions would see.
func (m *Manager) Catalog(ctx context.Context) ([]feature.Spec, error) {
	if m.cfg.Registry == nil {
		return nil, nil
	}
	return m.cfg.Registry.Features(ctx)
}

// Start creates and starts a session.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*Session, error) {
	var key string
	if req.ChannelID != "" {
		key = channelKey(req.Platform, req.ChannelID)
		m.mu.RLock()
		_, busy := m.channels[key]
		m.mu.RUnlock()
		if busy {
			return nil, ErrChannelBusy
		}
	}

	object, agentID, err := m.resolveObject(ctx, req)
	if err != nil {
		return nil, err
	}
	mode, err := pickMode(req)
	if err != nil {
		return nil, err
	}
	if mode == interview.ModeEdit && req.AgentID == "" && req.Object == nil {
		return nil, ErrAgentRequired
	}

	catalog, err := m.Catalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("load feature catalog: %w", err)
	}

	id := uuid.NewString()
	opts := interview.Options{
		Object:    object,
		Prompt:    req.Prompt,
		Mode:      mode,
		Catalog:   catalog,
		Features:  req.Features,
		Completer: m.cfg.Completer,
		Model:     req.Model,
		Images:    m.cfg.Images,
		Logger:    m.logger.With(zap.String("session", id)),
	}
	if opts.Model == "" {
		opts.Model = m.cfg.Model
	}
	if m.cfg.Store != nil {
		opts.Recorder = recorder{store: m.cfg.Store, id: id}
	}
	iv, err := interview.New(opts)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		ID:          id,
		AgentID:     agentID,
		Mode:        mode,
		Platform:    req.Platform,
		ChannelID:   req.ChannelID,
		CreatedAt:   time.Now(),
		iv:          iv,
		status:      StatusRunning,
		subscribers: make(map[int]chan Entry),
	}

	if m.cfg.Store != nil {
		err := m.cfg.Store.CreateInterview(ctx, store.InterviewRecord{
			ID:        id,
			Mode:      string(mode),
			Prompt:    req.Prompt,
			Platform:  req.Platform,
			ChannelID: req.ChannelID,
		})
		if err != nil {
			iv.Close()
			return nil, err
		}
	}

	m.mu.Lock()
	if key != "" {
		if _, busy := m.channels[key]; busy {
			m.mu.Unlock()
			iv.Close()
			return nil, ErrChannelBusy
		}
		m.channels[key] = id
	}
	m.sessions[id] = sess
	m.mu.Unlock()

	iv.On(sess.record)
	if m.cfg.Publisher != nil {
		iv.On(m.cfg.Publisher.Listener(id))
	}

	m.wg.Add(1)
	go m.watch(sess)

	if err := iv.Start(m.ctx); err != nil {
		iv.Close()
		return nil, err
	}
	m.logger.Info("session started",
		zap.String("session", id),
		zap.String("mode", string(mode)),
		zap.String("platform", req.Platform))
	return sess, nil
}

func (m *Manager) resolveObject(ctx context.Context, req StartRequest) (agent.Config, string, error) {
	switch {
	case req.AgentID != "":
		if m.cfg.Store == nil {
			return agent.Config{}, "", ErrNoAgentStore
		}
		rec, err := m.cfg.Store.GetAgent(ctx, req.AgentID)
		if err != nil {
			return agent.Config{}, "", err
		}
		return rec.Config, rec.ID, nil
	case req.Object != nil:
		return req.Object.Clone(), uuid.NewString(), nil
	default:
		return agent.Config{}, uuid.NewString(), nil
	}
}

func pickMode(req StartRequest) (interview.Mode, error) {
	if req.Mode != "" {
		return interview.ParseMode(req.Mode)
	}
	switch {
	case req.Prompt != "":
		return interview.ModeAuto, nil
	case req.AgentID != "" || req.Object != nil:
		return interview.ModeEdit, nil
	default:
		return interview.ModeInteractive, nil
	}
}

// watch persists the outcome once the session resolves, then evicts the
// session after the retention period.
func (m *Manager) watch(sess *Session) {
	defer m.wg.Done()
	cfg, err := sess.iv.Wait(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	status := StatusFinished
	switch {
	case errors.Is(err, interview.ErrSessionClosed):
		status = StatusCancelled
	case err != nil:
		status = StatusFailed
	}

	agentID := ""
	if err == nil {
		cfg = agent.EnsureDefaults(cfg, m.cfg.Defaults)
		agentID = sess.AgentID
		if m.cfg.Store != nil {
			if serr := m.cfg.Store.SaveAgent(ctx, agentID, cfg); serr != nil {
				m.logger.Error("save agent failed", zap.String("session", sess.ID), zap.Error(serr))
				status, err, agentID = StatusFailed, serr, ""
			}
		}
	}
	if m.cfg.Store != nil {
		if ferr := m.cfg.Store.FinishInterview(ctx, sess.ID, agentID, err); ferr != nil {
			m.logger.Warn("finish interview failed", zap.String("session", sess.ID), zap.Error(ferr))
		}
	}
	if m.cfg.Publisher != nil {
		if xerr := m.cfg.Publisher.Expire(ctx, sess.ID, m.cfg.StreamTTL); xerr != nil {
			m.logger.Warn("expire stream failed", zap.String("session", sess.ID), zap.Error(xerr))
		}
	}

	sess.finish(status, err)

	m.mu.Lock()
	if sess.ChannelID != "" {
		key := channelKey(sess.Platform, sess.ChannelID)
		if m.channels[key] == sess.ID {
			delete(m.channels, key)
		}
	}
	m.mu.Unlock()

	m.logger.Info("session ended",
		zap.String("session", sess.ID),
		zap.String("status", string(status)),
		zap.Error(err))

	select {
	case <-time.After(m.cfg.Retention):
	case <-m.ctx.Done():
	}
	m.mu.Lock()
	delete(m.sessions, sess.ID)
	m.mu.Unlock()
	m.logger.Debug("session evicted", zap.String("session", sess.ID))
}

// Get returns a session by ID.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// ByChannel returns the running session bound to a chat channel.
func (m *Manager) ByChannel(platform, channelID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.channels[channelKey(platform, channelID)]
	if !ok {
		return nil, false
	}
	sess, ok := m.sessions[id]
	return sess, ok
}

// Answer queues an answer for a session. Errors known up front (unknown
// session, finished interview) are returned directly.
func (m *Manager) Answer(id, text string) (*queue.Turn, error) {
	sess, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	turn := sess.iv.Write(m.ctx, text)
	select {
	case <-turn.Done():
		if err := turn.Err(); err != nil {
			return nil, err
		}
	default:
	}
	return turn, nil
}

// Finish asks the model to complete the config now.
func (m *Manager) Finish(id, text string) (*queue.Turn, error) {
	sess, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	turn := sess.iv.End(m.ctx, text)
	select {
	case <-turn.Done():
		if err := turn.Err(); err != nil {
			return nil, err
		}
	default:
	}
	return turn, nil
}

// Cancel abandons a session.
func (m *Manager) Cancel(id string) error {
	sess, err := m.Get(id)
	if err != nil {
		return err
	}
	sess.iv.Close()
	return nil
}

// List returns snapshots of every known session, newest first.
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	out := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Close cancels every session and waits for their outcomes to be persisted.
func (m *Manager) Close() {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	m.cancel()
	for _, s := range sessions {
		s.iv.Close()
	}
	m.wg.Wait()
}

type recorder struct {
	store Store
	id    string
}

func (r recorder) Record(ctx context.Context, msg provider.Message) error {
	return r.store.AppendMessage(ctx, r.id, msg)
}
