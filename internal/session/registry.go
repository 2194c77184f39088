// internal/session/registry.go
package session

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/markreid/faceoff/internal/models"
)

// idleExpiry is how long a session may go without a heartbeat before the
// sweep drops it (unless it is seated in a live match).
const idleExpiry = 5 * time.Minute

// PushConn is a live outbound channel to one client. The WebSocket handler
// provides the real implementation; tests substitute fakes.
type PushConn interface {
	Send(ctx context.Context, data []byte) error
}

// Registry tracks every known session, its live push connection (if any)
// and its heartbeat-derived connection health.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
	health   map[string]*models.ConnectionHealth
	conns    map[string]PushConn
	log      *logrus.Logger
}

// NewRegistry initializes an empty registry.
func NewRegistry(log *logrus.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*models.Session),
		health:   make(map[string]*models.ConnectionHealth),
		conns:    make(map[string]PushConn),
		log:      log,
	}
}

// Touch creates the session on first contact and refreshes its heartbeat.
// A non-empty name updates the display name.
func (r *Registry) Touch(sessionID, name string) *models.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		s = &models.Session{
			ID:              sessionID,
			ConnectionState: "connected",
		}
		r.sessions[sessionID] = s
		r.health[sessionID] = &models.ConnectionHealth{
			SessionID:    sessionID,
			QualityScore: 1.0,
		}
	}
	if name != "" {
		s.DisplayName = name
	}
	s.LastHeartbeatAt = time.Now()
	s.ConnectionState = "connected"
	return s
}

// Get looks up a session by ID.
func (r *Registry) Get(sessionID string) (*models.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

// Attach associates a live push connection with the session.
func (r *Registry) Attach(sessionID string, conn PushConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[sessionID] = conn
	if s, ok := r.sessions[sessionID]; ok {
		s.ConnectionState = "connected"
		s.LastHeartbeatAt = time.Now()
	}
}

// Detach drops the live connection, marking the session disconnected. The
// session itself survives until the idle sweep or match end.
func (r *Registry) Detach(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, sessionID)
	if s, ok := r.sessions[sessionID]; ok {
		s.ConnectionState = "disconnected"
	}
}

// Conn returns the live push connection for a session, if one exists.
func (r *Registry) Conn(sessionID string) (PushConn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[sessionID]
	return c, ok
}

// LiveConns snapshots all currently attached connections for the heartbeat
// sweep.
func (r *Registry) LiveConns() map[string]PushConn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]PushConn, len(r.conns))
	for id, c := range r.conns {
		out[id] = c
	}
	return out
}

// SetCurrentMatch records the session's weak reference to its match.
func (r *Registry) SetCurrentMatch(sessionID, matchID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		s.CurrentMatchID = matchID
	}
}

// RecordPing notes an outbound heartbeat probe.
func (r *Registry) RecordPing(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.health[sessionID]; ok {
		h.PingCount++
		h.LastPing = time.Now()
	}
}

// RecordMissedPing decays the connection quality after a failed probe.
func (r *Registry) RecordMissedPing(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.health[sessionID]; ok {
		h.MissedPings++
		h.QualityScore *= 0.9
	}
}

// RecordPong handles a heartbeat acknowledgment: missed pings reset,
// quality recovers, and the session's heartbeat timestamp refreshes.
func (r *Registry) RecordPong(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.health[sessionID]; ok {
		h.MissedPings = 0
		h.QualityScore = min(1.0, h.QualityScore+0.1)
		h.LastPong = time.Now()
	}
	if s, ok := r.sessions[sessionID]; ok {
		s.LastHeartbeatAt = time.Now()
	}
}

// SetQuality overwrites the quality score with a client-reported value.
func (r *Registry) SetQuality(sessionID string, quality float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.health[sessionID]; ok {
		h.QualityScore = min(1.0, max(0.0, quality))
	}
}

// Health returns a copy of the session's connection health.
func (r *Registry) Health(sessionID string) (models.ConnectionHealth, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.health[sessionID]
	if !ok {
		return models.ConnectionHealth{}, false
	}
	return *h, true
}

// RunSweeper drops sessions idle past the expiry window every interval,
// sparing any session the inMatch predicate reports as seated in a live
// room.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration, inMatch func(sessionID string) bool) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.expire(time.Now().Add(-idleExpiry), inMatch)
		}
	}
}

func (r *Registry) expire(cutoff time.Time, inMatch func(string) bool) {
	r.mu.Lock()
	var stale []string
	for id, s := range r.sessions {
		if s.LastHeartbeatAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	r.mu.Unlock()

	for _, id := range stale {
		if inMatch != nil && inMatch(id) {
			continue
		}
		r.mu.Lock()
		delete(r.sessions, id)
		delete(r.health, id)
		delete(r.conns, id)
		r.mu.Unlock()
		r.log.Infof("session registry: expired idle session %s", id)
	}
}
