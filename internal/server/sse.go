package server

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// handleEvents streams lifecycle events over SSE with the standard
// `event: <type>` / `data: <json>` framing.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, cancel := s.engine.Bus().Subscribe(128)
	defer cancel()

	s.logger.Debug().Str("remote", r.RemoteAddr).Msg("SSE subscriber connected")

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug().Str("remote", r.RemoteAddr).Msg("SSE subscriber disconnected")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				s.logger.Error().Err(err).Msg("Failed to marshal SSE event")
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
