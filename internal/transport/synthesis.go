package transport

import (
	"errors"
	"io"
	"net/http"

	"github.com/medtwin/doc-voice/internal/tts"
)

// handleTTS proxies synthesized audio for ?text= to the caller.
func (h *Handler) handleTTS(w http.ResponseWriter, r *http.Request) {
	if h.synthesizer == nil {
		respondError(w, http.StatusServiceUnavailable, tts.ErrNotConfigured.Error())
		return
	}

	text := r.URL.Query().Get("text")
	if text == "" {
		text = tts.DefaultText
	}

	stream, err := h.synthesizer.Synthesize(r.Context(), text)
	if err != nil {
		if errors.Is(err, tts.ErrNotConfigured) {
			respondError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		h.logger.Warn().Err(err).Msg("Synthesis failed")
		respondError(w, http.StatusBadGateway, "TTS failed: "+err.Error())
		return
	}
	defer stream.Body.Close()

	w.Header().Set("Content-Type", stream.ContentType)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	if _, err := io.Copy(flushWriter{w: w, flusher: flusher}, stream.Body); err != nil {
		h.logger.Warn().Err(err).Msg("Synthesis stream interrupted")
	}
}

// flushWriter pushes each chunk to the client as soon as it is written.
type flushWriter struct {
	w       io.Writer
	flusher http.Flusher
}

func (fw flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if fw.flusher != nil {
		fw.flusher.Flush()
	}
	return n, err
}
