package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"socratic-ai-service/internal/domain/model"
)

// heartbeatInterval keeps intermediaries from closing idle event streams.
const heartbeatInterval = 25 * time.Second

// handleEvents subscribes the caller to a conversation's event stream over
// SSE. The connection stays open until the client disconnects; every
// pipeline event for the conversation is written as an `event: message`
// frame whose data is the envelope JSON.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFrom(r.Context())
	convID := chi.URLParam(r, "id")

	// Ownership gate before any stream state is allocated.
	if _, err := s.convUC.Get(r.Context(), claims.UserID, convID); err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// The broadcaster's writer goroutine and the heartbeat ticker both write
	// to the response; the mutex keeps frames from interleaving.
	var wmu sync.Mutex
	emit := func(env model.EventEnvelope) error {
		payload, err := json.Marshal(env)
		if err != nil {
			return err
		}
		wmu.Lock()
		defer wmu.Unlock()
		if _, err := fmt.Fprintf(w, "event: message\ndata: %s\n\n", payload); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	connID := uuid.NewString()
	s.events.AddConnection(convID, claims.UserID, connID, emit)
	defer s.events.RemoveConnection(convID, connID)

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			wmu.Lock()
			_, err := fmt.Fprint(w, ": ping\n\n")
			if err == nil {
				flusher.Flush()
			}
			wmu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
