package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nidhogg/agent-interview/internal/events"
	"github.com/nidhogg/agent-interview/internal/interview"
	"github.com/nidhogg/agent-interview/internal/session"
	"go.uber.org/zap"
)

// streamEvents serves a session's events as server-sent events. Sessions
// owned by this process replay from memory; others are read from the
// event bus when one is configured. The stream ends after the finish event.
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	sess, err := h.sessions.Get(id)
	switch {
	case err == nil:
		startSSE(w)
		h.streamLocal(w, flusher, r, sess)
	case errors.Is(err, session.ErrNotFound) && h.stream != nil:
		startSSE(w)
		h.streamRemote(w, flusher, r, id)
	default:
		writeError(w, statusFor(err), err)
	}
}

func startSSE(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
}

// streamLocal resumes after the numeric Last-Event-ID, if any. Event IDs
// are history indexes, so they stay stable across reconnects.
func (h *Handler) streamLocal(w http.ResponseWriter, flusher http.Flusher, r *http.Request, sess *session.Session) {
	past, live, cancel := sess.Subscribe()
	defer cancel()

	next := 0
	if last := r.Header.Get("Last-Event-ID"); last != "" {
		if n, err := strconv.Atoi(last); err == nil {
			next = n + 1
		}
	}

	write := func(seq int, ev interview.Event) bool {
		next = seq + 1
		data, err := interview.EncodeEvent(ev)
		if err != nil {
			h.logger.Warn("encode event", zap.String("session", sess.ID), zap.Error(err))
			return true
		}
		writeSSE(w, strconv.Itoa(seq), string(ev.Type), data)
		flusher.Flush()
		return ev.Type != interview.EventFinish
	}
	send := func(e session.Entry) bool {
		if e.Seq < next {
			return true
		}
		if e.Seq > next {
			// the subscription dropped entries; refill them from history
			missed := sess.Events(next)
			for i := 0; i < len(missed) && next < e.Seq; i++ {
				if !write(next, missed[i]) {
					return false
				}
			}
		}
		return write(e.Seq, e.Event)
	}

	for _, e := range past {
		if !send(e) {
			return
		}
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case e, ok := <-live:
			if !ok {
				for _, ev := range sess.Events(next) {
					if !write(next, ev) {
						return
					}
				}
				return
			}
			if !send(e) {
				return
			}
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// streamRemote resumes after the stream entry ID in Last-Event-ID.
func (h *Handler) streamRemote(w http.ResponseWriter, flusher http.Flusher, r *http.Request, id string) {
	from := r.Header.Get("Last-Event-ID")
	if from == "" {
		from = events.FromStart
	}
	msgs := h.stream.Subscribe(r.Context(), id, from)

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			writeSSE(w, msg.ID, msg.Type, msg.Payload)
			flusher.Flush()
			if msg.Type == string(interview.EventFinish) {
				return
			}
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeSSE(w http.ResponseWriter, id, event string, data []byte) {
	fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", id, event, data)
}
