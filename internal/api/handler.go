// Package api serves the interview HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/agent-interview/internal/events"
	"github.com/nidhogg/agent-interview/internal/feature"
	"github.com/nidhogg/agent-interview/internal/gateway"
	"github.com/nidhogg/agent-interview/internal/interview"
	"github.com/nidhogg/agent-interview/internal/queue"
	"github.com/nidhogg/agent-interview/internal/session"
	"github.com/nidhogg/agent-interview/internal/store"
	"go.uber.org/zap"
)

// Sessions is the session manager surface the API drives.
type Sessions interface {
	Start(ctx context.Context, req session.StartRequest) (*session.Session, error)
	Get(id string) (*session.Session, error)
	Answer(id, text string) (*queue.Turn, error)
	Finish(id, text string) (*queue.Turn, error)
	Cancel(id string) error
	List() []session.Snapshot
	Catalog(ctx context.Context) ([]feature.Spec, error)
}

// Agents reads and removes stored agents. *store.Store implements it.
type Agents interface {
	ListAgents(ctx context.Context) ([]*store.AgentRecord, error)
	GetAgent(ctx context.Context, id string) (*store.AgentRecord, error)
	DeleteAgent(ctx context.Context, id string) error
}

// Stream replays events of sessions owned by other processes.
// *events.Bus implements it.
type Stream interface {
	Subscribe(ctx context.Context, sessionID, from string) <-chan *events.Message
}

// Gateways reports chat adapter health. *gateway.Gateway implements it.
type Gateways interface {
	StatusAll() []gateway.AdapterStatus
}

// Handler holds dependencies for HTTP handlers. Agents, Stream and
// Gateways may be nil; their routes then answer 503 or fall back.
type Handler struct {
	sessions  Sessions
	agents    Agents
	stream    Stream
	gateways  Gateways
	heartbeat time.Duration
	logger    *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(sessions Sessions, agents Agents, stream Stream, gateways Gateways, logger *zap.Logger) *Handler {
	return &Handler{
		sessions:  sessions,
		agents:    agents,
		stream:    stream,
		gateways:  gateways,
		heartbeat: 15 * time.Second,
		logger:    logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Last-Event-ID"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/features", h.listFeatures)

		r.Get("/interviews", h.listInterviews)
		r.Post("/interviews", h.startInterview)
		r.Get("/interviews/{id}", h.getInterview)
		r.Delete("/interviews/{id}", h.cancelInterview)
		r.Post("/interviews/{id}/answers", h.answer)
		r.Post("/interviews/{id}/finish", h.finish)
		r.Get("/interviews/{id}/messages", h.messages)
		r.Get("/interviews/{id}/events", h.streamEvents)

		r.Get("/agents", h.listAgents)
		r.Get("/agents/{id}", h.getAgent)
		r.Delete("/agents/{id}", h.deleteAgent)

		r.Get("/gateway/status", h.gatewayStatus)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) listFeatures(w http.ResponseWriter, r *http.Request) {
	specs, err := h.sessions.Catalog(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	if specs == nil {
		specs = []feature.Spec{}
	}
	writeJSON(w, http.StatusOK, specs)
}

func (h *Handler) listInterviews(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessions.List())
}

func (h *Handler) startInterview(w http.ResponseWriter, r *http.Request) {
	var req session.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sess, err := h.sessions.Start(r.Context(), req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, sess.Snapshot())
}

func (h *Handler) getInterview(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (h *Handler) cancelInterview(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Cancel(chi.URLParam(r, "id")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type answerRequest struct {
	Text string `json:"text"`
}

// answer queues the text and returns at once; results arrive on the
// event stream.
func (h *Handler) answer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, errors.New("text is required"))
		return
	}
	if _, err := h.sessions.Answer(chi.URLParam(r, "id"), req.Text); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (h *Handler) finish(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if _, err := h.sessions.Finish(chi.URLParam(r, "id"), req.Text); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (h *Handler) messages(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Interview().Messages())
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	if h.agents == nil {
		writeError(w, http.StatusServiceUnavailable, session.ErrNoAgentStore)
		return
	}
	recs, err := h.agents.ListAgents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if recs == nil {
		recs = []*store.AgentRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *Handler) getAgent(w http.ResponseWriter, r *http.Request) {
	if h.agents == nil {
		writeError(w, http.StatusServiceUnavailable, session.ErrNoAgentStore)
		return
	}
	rec, err := h.agents.GetAgent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) deleteAgent(w http.ResponseWriter, r *http.Request) {
	if h.agents == nil {
		writeError(w, http.StatusServiceUnavailable, session.ErrNoAgentStore)
		return
	}
	if err := h.agents.DeleteAgent(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) gatewayStatus(w http.ResponseWriter, r *http.Request) {
	if h.gateways == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("gateway not initialized"))
		return
	}
	writeJSON(w, http.StatusOK, h.gateways.StatusAll())
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, interview.ErrInvalidMode),
		errors.Is(err, feature.ErrUnknownFeature),
		errors.Is(err, session.ErrAgentRequired):
		return http.StatusBadRequest
	case errors.Is(err, interview.ErrSessionDone),
		errors.Is(err, interview.ErrNotStarted),
		errors.Is(err, session.ErrChannelBusy):
		return http.StatusConflict
	case errors.Is(err, session.ErrNoAgentStore):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
