// internal/handlers/api.go
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/markreid/faceoff/internal/lobby"
	"github.com/markreid/faceoff/internal/service"
	"github.com/markreid/faceoff/internal/session"
)

// API is the HTTP surface for gameplay and lobby operations. Every handler
// is a thin JSON shim over the service façade.
type API struct {
	svc      *service.Service
	registry *session.Registry
	log      *logrus.Logger
}

// NewAPI builds the HTTP handler set.
func NewAPI(svc *service.Service, registry *session.Registry, log *logrus.Logger) *API {
	return &API{svc: svc, registry: registry, log: log}
}

// Register mounts every route on the mux, wrapped by the given middleware.
func (a *API) Register(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	routes := map[string]http.HandlerFunc{
		"/api/join":       a.Join,
		"/api/create":     a.CreateMatch,
		"/api/matches":    a.ListMatches,
		"/api/join-match": a.JoinMatch,
		"/api/move":       a.Move,
		"/api/state":      a.State,
		"/api/stats":      a.Stats,
		"/api/connection": a.Connection,
	}
	for path, h := range routes {
		mux.Handle(path, wrap(h))
	}
}

type joinRequest struct {
	SessionID string `json:"sessionId"`
	Name      string `json:"name"`
	Game      string `json:"game"`
	Label     string `json:"label,omitempty"`
	MatchID   string `json:"matchId,omitempty"`
}

type moveRequest struct {
	SessionID string `json:"sessionId"`
	MatchID   string `json:"matchId,omitempty"`
	Cell      int    `json:"cell"`
}

// Join requests a quick match for the caller's session.
func (a *API) Join(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.SessionID == "" || req.Name == "" {
		a.fail(w, http.StatusBadRequest, "sessionId and name are required")
		return
	}
	a.json(w, http.StatusOK, a.svc.Join(req.SessionID, req.Name, req.Game))
}

// CreateMatch opens a named match hosted by the caller.
func (a *API) CreateMatch(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.SessionID == "" || req.Name == "" {
		a.fail(w, http.StatusBadRequest, "sessionId and name are required")
		return
	}
	a.json(w, http.StatusOK, a.svc.CreateMatch(req.SessionID, req.Name, req.Game, req.Label))
}

// ListMatches lists the joinable named matches for a game kind.
func (a *API) ListMatches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.fail(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	matches := a.svc.ListMatches(r.URL.Query().Get("game"))
	if matches == nil {
		matches = []lobby.OpenMatch{}
	}
	a.json(w, http.StatusOK, map[string]interface{}{"matches": matches})
}

// JoinMatch seats the caller into a named match by ID.
func (a *API) JoinMatch(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.SessionID == "" || req.Name == "" || req.MatchID == "" {
		a.fail(w, http.StatusBadRequest, "sessionId, name and matchId are required")
		return
	}
	a.json(w, http.StatusOK, a.svc.JoinMatch(req.SessionID, req.Name, req.MatchID))
}

// Move applies one move for the caller's current match.
func (a *API) Move(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		a.fail(w, http.StatusBadRequest, "sessionId is required")
		return
	}
	a.json(w, http.StatusOK, a.svc.Move(req.SessionID, req.MatchID, req.Cell))
}

// State returns the caller's current match view for pull-based clients.
func (a *API) State(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.fail(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		a.fail(w, http.StatusBadRequest, "sessionId is required")
		return
	}
	a.json(w, http.StatusOK, a.svc.PollState(sessionID))
}

// Stats returns a player's cumulative win/loss record.
func (a *API) Stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.fail(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	name := r.URL.Query().Get("player")
	if name == "" {
		a.fail(w, http.StatusBadRequest, "player is required")
		return
	}
	stats, err := a.svc.Stats(r.Context(), name)
	if err != nil {
		a.log.Errorf("api: stats for %s: %v", name, err)
		a.fail(w, http.StatusInternalServerError, "stats unavailable")
		return
	}
	a.json(w, http.StatusOK, stats)
}

// Connection reports a session's heartbeat-derived connection health.
func (a *API) Connection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.fail(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		a.fail(w, http.StatusBadRequest, "sessionId is required")
		return
	}
	health, ok := a.registry.Health(sessionID)
	if !ok {
		a.fail(w, http.StatusNotFound, "unknown session")
		return
	}
	a.json(w, http.StatusOK, health)
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Method != http.MethodPost {
		a.fail(w, http.StatusMethodNotAllowed, "POST only")
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		a.fail(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (a *API) json(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Errorf("api: encoding response: %v", err)
	}
}

func (a *API) fail(w http.ResponseWriter, status int, msg string) {
	a.json(w, status, map[string]interface{}{"error": msg})
}
