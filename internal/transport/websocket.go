package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/medtwin/doc-voice/internal/observability"
	"github.com/medtwin/doc-voice/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The page and the gateway are served from different local ports.
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Inbound message types sent by the client.
const (
	msgListen          = "listen"
	msgCaptureAcquired = "capture_acquired"
	msgCaptureFailed   = "capture_failed"
	msgTranscript      = "transcript"
	msgPlaybackStarted = "playback_started"
	msgPlaybackEnded   = "playback_ended"
	msgEnergy          = "energy"
	msgOutputLevel     = "output_level"
	msgMode            = "mode"
	msgText            = "text"
)

// InboundMessage is a device event or typed text from the client. Binary
// frames carry PCM16LE mono capture audio instead.
type InboundMessage struct {
	Type    string  `json:"type"`
	On      bool    `json:"on,omitempty"`
	Text    string  `json:"text,omitempty"`
	Final   bool    `json:"final,omitempty"`
	Mic     float64 `json:"mic,omitempty"`
	Output  float64 `json:"output,omitempty"`
	Level   float64 `json:"level,omitempty"`
	Mode    string  `json:"mode,omitempty"`
	Message string  `json:"message,omitempty"`
}

// handleSessionSocket attaches one client to a session. Device events flow
// in; state changes, device commands and errors flow out. The session is
// closed when the socket goes away.
func (h *Handler) handleSessionSocket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if !h.attach(id) {
		respondError(w, http.StatusConflict, "session already has a client")
		return
	}
	defer h.detach(id)

	s, err := h.registry.Attach(id)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
		h.registry.Remove(id)
		return
	}
	defer conn.Close()

	logger := observability.WithSession(id)
	logger.Info().Str("remote", r.RemoteAddr).Msg("Session socket connected")

	ctx, cancel := context.WithCancel(r.Context())
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeOutbound(ctx, conn, s, logger)
	}()

	h.readInbound(conn, s, logger)

	cancel()
	<-writerDone
	h.registry.Remove(id)
	logger.Info().Msg("Session socket disconnected")
}

func (h *Handler) attach(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.attached[id] {
		return false
	}
	h.attached[id] = true
	return true
}

func (h *Handler) detach(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.attached, id)
}

// readInbound runs until the client disconnects or the session closes.
func (h *Handler) readInbound(conn *websocket.Conn, s *session.Session, logger zerolog.Logger) {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if kind == websocket.BinaryMessage {
			s.WriteAudio(data)
			continue
		}

		var msg InboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warn().Err(err).Msg("Failed to parse client message")
			continue
		}
		if !h.dispatch(s, msg, logger) {
			return
		}
	}
}

// dispatch applies one client message. It reports false once the session is
// closed.
func (h *Handler) dispatch(s *session.Session, msg InboundMessage, logger zerolog.Logger) bool {
	switch msg.Type {
	case msgListen:
		return s.Post(session.ListenToggled{On: msg.On})
	case msgCaptureAcquired:
		return s.Post(session.CaptureAcquired{})
	case msgCaptureFailed:
		reason := msg.Message
		if reason == "" {
			reason = "capture failed"
		}
		return s.Post(session.CaptureFailed{Err: errors.New(reason)})
	case msgTranscript:
		return s.Post(session.TranscriptPartial{Text: msg.Text, Final: msg.Final, At: time.Now()})
	case msgPlaybackStarted:
		return s.Post(session.PlaybackStarted{})
	case msgPlaybackEnded:
		return s.Post(session.PlaybackEnded{})
	case msgEnergy:
		s.ReportOutputLevel(msg.Output)
		s.ReportEnergy(msg.Mic)
	case msgOutputLevel:
		s.ReportOutputLevel(msg.Level)
	case msgMode:
		mode, ok := session.ParseMode(msg.Mode)
		if !ok {
			logger.Warn().Str("mode", msg.Mode).Msg("Unknown mode")
			return true
		}
		return s.Post(session.ModeSwitched{Mode: mode})
	case msgText:
		err := s.Submit(context.Background(), msg.Text)
		if errors.Is(err, session.ErrSessionClosed) {
			return false
		}
		if err != nil {
			logger.Debug().Err(err).Msg("Typed text ignored")
		}
	default:
		logger.Warn().Str("type", msg.Type).Msg("Unknown client message")
	}
	return true
}

// writeOutbound owns all writes to conn.
func (h *Handler) writeOutbound(ctx context.Context, conn *websocket.Conn, s *session.Session, logger zerolog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case <-s.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"), time.Now().Add(writeWait))
			return
		case msg := <-s.Outbound():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				logger.Warn().Err(err).Msg("Failed to write to client")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
