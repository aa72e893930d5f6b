package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/medtwin/doc-voice/internal/broadcast"
	"github.com/medtwin/doc-voice/internal/observability"
)

var (
	// ErrDeviceUnavailable is returned when another session holds the capture device.
	ErrDeviceUnavailable = errors.New("capture device unavailable")

	// ErrTooManySessions is returned when the registry is full and every live
	// session is attached or answering a turn.
	ErrTooManySessions = errors.New("too many sessions")
)

// RegistryDeps are shared by every session the registry creates.
type RegistryDeps struct {
	Reasoner Reasoner
	Patient  SnapshotSource
	// NewTranscriber builds server-side recognition for one session. Nil means
	// clients recognize speech themselves.
	NewTranscriber  func(sessionID string) Transcriber
	Clock           Clock
	BroadcastBuffer int
	Logger          zerolog.Logger
}

// Registry owns the live sessions, one broadcast channel per conversation
// and the capture device lease.
type Registry struct {
	cfg    Config
	deps   RegistryDeps
	logger zerolog.Logger

	mu            sync.Mutex
	sessions      map[string]*Session
	lastUsed      map[string]time.Time
	attached      map[string]bool // sessions held open by a client socket
	channels      map[string]*broadcast.Channel
	captureHolder string
	closed        bool
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config, deps RegistryDeps) *Registry {
	if deps.Clock == nil {
		deps.Clock = RealClock()
	}
	return &Registry{
		cfg:      cfg,
		deps:     deps,
		logger:   deps.Logger.With().Str("component", "session_registry").Logger(),
		sessions: make(map[string]*Session),
		lastUsed: make(map[string]time.Time),
		attached: make(map[string]bool),
		channels: make(map[string]*broadcast.Channel),
	}
}

// Session returns the session for id, starting it if needed. It returns nil
// once the registry is closed or when no room can be made for a new session.
func (r *Registry) Session(id string) *Session {
	s, err := r.Open(id)
	if err != nil {
		return nil
	}
	return s
}

// Open returns the session for id, starting it if needed. When the registry
// is full the least recently used idle session is evicted first.
func (r *Registry) Open(id string) (*Session, error) {
	return r.open(id, false)
}

// Attach opens the session for id and holds it for a client socket. Held
// sessions are never reaped or evicted.
func (r *Registry) Attach(id string) (*Session, error) {
	return r.open(id, true)
}

// Detach drops the client hold on id. The session stays live until it is
// removed or reaped.
func (r *Registry) Detach(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; ok {
		r.lastUsed[id] = r.deps.Clock.Now()
	}
	delete(r.attached, id)
}

func (r *Registry) open(id string, attach bool) (*Session, error) {
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, ErrSessionClosed
		}

		now := r.deps.Clock.Now()
		s, ok := r.sessions[id]
		if !ok && (r.cfg.MaxSessions <= 0 || len(r.sessions) < r.cfg.MaxSessions) {
			s = r.startLocked(id)
			ok = true
		}
		if ok {
			r.lastUsed[id] = now
			if attach {
				r.attached[id] = true
			}
			r.mu.Unlock()
			return s, nil
		}

		victim, since, found := r.leastRecentlyUsedLocked()
		r.mu.Unlock()
		if !found {
			return nil, ErrTooManySessions
		}
		if r.retireIdle(victim, since) {
			observability.RecordSessionReaped("evicted")
			r.logger.Info().Str("session_id", victim).Msg("Evicted idle session to make room")
		}
	}
}

func (r *Registry) startLocked(id string) *Session {
	deps := Deps{
		Reasoner: r.deps.Reasoner,
		Patient:  r.deps.Patient,
		Channel:  r.channelLocked(id),
		Leases:   r,
		Clock:    r.deps.Clock,
		Logger:   r.logger,
	}
	if r.deps.NewTranscriber != nil {
		deps.Transcriber = r.deps.NewTranscriber(id)
	}
	s := New(id, r.cfg, deps)
	r.sessions[id] = s
	return s
}

func (r *Registry) idleLocked(id string, s *Session) bool {
	return !r.attached[id] && !s.Busy()
}

func (r *Registry) leastRecentlyUsedLocked() (string, time.Time, bool) {
	var (
		victim string
		oldest time.Time
		found  bool
	)
	for id, s := range r.sessions {
		if !r.idleLocked(id, s) {
			continue
		}
		if used := r.lastUsed[id]; !found || used.Before(oldest) {
			victim, oldest, found = id, used, true
		}
	}
	return victim, oldest, found
}

// retireIdle removes id if it is still idle and has not been used after
// since. It reports whether the session was removed.
func (r *Registry) retireIdle(id string, since time.Time) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok || !r.idleLocked(id, s) || r.lastUsed[id].After(since) {
		r.mu.Unlock()
		return false
	}
	r.forgetLocked(id)
	r.mu.Unlock()

	r.closeSession(id, s)
	return true
}

// Reap removes every idle session unused for the configured idle timeout and
// returns how many it removed.
func (r *Registry) Reap() int {
	if r.cfg.IdleTimeout <= 0 {
		return 0
	}

	r.mu.Lock()
	cutoff := r.deps.Clock.Now().Add(-r.cfg.IdleTimeout)
	var stale []string
	for id, s := range r.sessions {
		if r.idleLocked(id, s) && !r.lastUsed[id].After(cutoff) {
			stale = append(stale, id)
		}
	}
	r.mu.Unlock()

	reaped := 0
	for _, id := range stale {
		if r.retireIdle(id, cutoff) {
			reaped++
			observability.RecordSessionReaped("idle")
		}
	}
	if reaped > 0 {
		r.logger.Info().Int("reaped", reaped).Msg("Reaped idle sessions")
	}
	return reaped
}

// RunReaper calls Reap every interval until ctx is done.
func (r *Registry) RunReaper(ctx context.Context, interval time.Duration) {
	if r.cfg.IdleTimeout <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Reap()
		}
	}
}

// Lookup returns the session for id without creating it.
func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Channel returns the broadcast channel for conversation id, creating it if
// needed. Subscribers may attach before any session exists.
func (r *Registry) Channel(id string) *broadcast.Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channelLocked(id)
}

func (r *Registry) channelLocked(id string) *broadcast.Channel {
	if c, ok := r.channels[id]; ok {
		return c
	}
	c := broadcast.NewChannel(r.deps.BroadcastBuffer, r.logger.With().Str("session_id", id).Logger())
	if r.closed {
		c.Close()
		return c
	}
	r.channels[id] = c
	return c
}

// ReleaseChannel drops the channel for id when nothing uses it anymore.
func (r *Registry) ReleaseChannel(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseChannelLocked(id)
}

func (r *Registry) releaseChannelLocked(id string) {
	c, ok := r.channels[id]
	if !ok {
		return
	}
	if _, live := r.sessions[id]; live || c.Len() > 0 {
		return
	}
	c.Close()
	delete(r.channels, id)
}

// Remove closes and forgets the session for id.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.forgetLocked(id)
	r.mu.Unlock()

	if ok {
		r.closeSession(id, s)
	}
}

func (r *Registry) forgetLocked(id string) {
	delete(r.sessions, id)
	delete(r.lastUsed, id)
	delete(r.attached, id)
}

// closeSession runs outside the lock: the run loop may still call back into
// the lease.
func (r *Registry) closeSession(id string, s *Session) {
	s.Close()

	r.mu.Lock()
	r.releaseChannelLocked(id)
	r.mu.Unlock()
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// AcquireCapture grants the capture device to sessionID. Re-acquiring by the
// holder succeeds.
func (r *Registry) AcquireCapture(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.captureHolder != "" && r.captureHolder != sessionID {
		return ErrDeviceUnavailable
	}
	r.captureHolder = sessionID
	return nil
}

// ReleaseCapture returns the device if sessionID holds it.
func (r *Registry) ReleaseCapture(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.captureHolder == sessionID {
		r.captureHolder = ""
	}
}

// CaptureHolder returns the session holding the capture device, if any.
func (r *Registry) CaptureHolder() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.captureHolder
}

// Close stops every session and closes every channel.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		sessions = append(sessions, s)
		r.forgetLocked(id)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}

	r.mu.Lock()
	for id, c := range r.channels {
		c.Close()
		delete(r.channels, id)
	}
	r.mu.Unlock()
}
