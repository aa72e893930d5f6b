package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// handleEvents streams Doc's spoken lines for one conversation as server-sent
// events. Disconnecting removes the subscriber.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	id := sessionID(r.URL.Query().Get("session"))
	channel := h.registry.Channel(id)
	sub := channel.Subscribe()
	defer func() {
		channel.Unsubscribe(sub)
		h.registry.ReleaseChannel(id)
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "retry: 1000\n\n")
	flusher.Flush()

	logger := h.logger.With().Str("session_id", id).Str("subscriber_id", sub.ID).Logger()
	logger.Debug().Msg("Event stream opened")

	for {
		select {
		case <-r.Context().Done():
			logger.Debug().Msg("Event stream closed by client")
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				logger.Error().Err(err).Msg("Failed to encode event")
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
