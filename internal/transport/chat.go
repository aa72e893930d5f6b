package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/medtwin/doc-voice/internal/session"
)

type chatRequest struct {
	Text    string `json:"text"`
	Session string `json:"session"`
}

// handleChat answers one typed turn. The answer is also spoken on the
// conversation's event stream.
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "text required")
		return
	}

	s, err := h.registry.Open(sessionID(req.Session))
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	advice, err := s.Ask(r.Context(), req.Text)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, advice)
	case errors.Is(err, session.ErrEmptyUtterance):
		respondError(w, http.StatusBadRequest, "text required")
	case errors.Is(err, session.ErrSessionClosed):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		// The client went away.
		h.logger.Debug().Err(err).Msg("Chat request abandoned")
	}
}

type intentRequest struct {
	Text string `json:"text"`
}

// handleIntent classifies text without recording anything.
func (h *Handler) handleIntent(w http.ResponseWriter, r *http.Request) {
	if h.intents == nil {
		respondError(w, http.StatusServiceUnavailable, "intent routing unavailable")
		return
	}

	var req intentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "text required")
		return
	}

	routed, err := h.intents.Route(r.Context(), req.Text, time.Now())
	if err != nil {
		h.logger.Warn().Err(err).Msg("Intent routing failed")
		respondError(w, http.StatusBadGateway, "intent routing failed")
		return
	}
	respondJSON(w, http.StatusOK, routed)
}
