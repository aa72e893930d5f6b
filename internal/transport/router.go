// Package transport exposes sessions over HTTP: server-sent events for
// spoken text, a synthesis proxy, chat and intent endpoints and the duplex
// session websocket.
package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/medtwin/doc-voice/internal/observability"
	"github.com/medtwin/doc-voice/internal/reasoning"
	"github.com/medtwin/doc-voice/internal/session"
	"github.com/medtwin/doc-voice/internal/tts"
)

// DefaultSessionID is used when a request names no session.
const DefaultSessionID = "default"

// IntentRouter classifies free text.
type IntentRouter interface {
	Route(ctx context.Context, text string, today time.Time) (reasoning.RoutedIntent, error)
}

// Deps are the services the handlers call into.
type Deps struct {
	Registry    *session.Registry
	Synthesizer tts.Synthesizer // nil disables /tts
	Intents     IntentRouter    // nil disables /intent
	Checks      map[string]observability.HealthCheckFunc
	Metrics     bool
	Logger      zerolog.Logger
}

// Handler serves the gateway's HTTP surface.
type Handler struct {
	registry    *session.Registry
	synthesizer tts.Synthesizer
	intents     IntentRouter
	logger      zerolog.Logger

	mu       sync.Mutex
	attached map[string]bool // sessions with a live websocket
}

// New creates the handler.
func New(deps Deps) *Handler {
	return &Handler{
		registry:    deps.Registry,
		synthesizer: deps.Synthesizer,
		intents:     deps.Intents,
		logger:      deps.Logger.With().Str("component", "transport").Logger(),
		attached:    make(map[string]bool),
	}
}

// NewRouter wires every route.
func NewRouter(deps Deps) http.Handler {
	h := New(deps)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/health", observability.HealthCheckHandler())
	r.Get("/ready", observability.ReadinessHandler(deps.Checks))
	if deps.Metrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers the session routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/events", h.handleEvents)
	r.Get("/tts", h.handleTTS)
	r.Post("/chat", h.handleChat)
	r.Post("/intent", h.handleIntent)
	r.Get("/ws/session/{sessionID}", h.handleSessionSocket)
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Str("request_id", middleware.GetReqID(r.Context())).
			Dur("elapsed", time.Since(start)).
			Msg("Request served")
	})
}

func sessionID(raw string) string {
	if raw == "" {
		return DefaultSessionID
	}
	return raw
}

// respondJSON writes payload as JSON.
func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// respondError writes {"error": message}.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
