// internal/service/service.go
package service

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/markreid/faceoff/internal/journal"
	"github.com/markreid/faceoff/internal/lobby"
	"github.com/markreid/faceoff/internal/models"
	"github.com/markreid/faceoff/internal/notify"
	"github.com/markreid/faceoff/internal/room"
	"github.com/markreid/faceoff/internal/session"
	"github.com/markreid/faceoff/internal/store"
)

const storeTimeout = 5 * time.Second

// Service is the façade every transport goes through: it owns the wiring
// between sessions, the lobby, rooms, the notifier and persistence, so the
// HTTP and WebSocket handlers stay thin.
type Service struct {
	registry *session.Registry
	rooms    *room.Store
	lobby    *lobby.Manager
	notifier *notify.Notifier
	store    store.Store
	journal  *journal.Journal
	log      *logrus.Logger
}

// New wires the service together. The lobby is built here so every room it
// creates carries the notifier send hook and the archival finish hook.
func New(registry *session.Registry, rooms *room.Store, st store.Store,
	notifier *notify.Notifier, jrnl *journal.Journal, log *logrus.Logger) *Service {

	s := &Service{
		registry: registry,
		rooms:    rooms,
		notifier: notifier,
		store:    st,
		journal:  jrnl,
		log:      log,
	}
	s.lobby = lobby.NewManager(rooms, s.newRoom, log)
	return s
}

func (s *Service) newRoom(id string, kind models.GameKind, host room.Seat) *room.Room {
	return room.New(id, kind, host, s.notifier.Send, s.onMatchFinished, s.log)
}

// Join requests a quick match. The caller is paired against a waiting player
// of the same kind when one exists, otherwise queued; a queued caller gets a
// "waiting" push so flapping clients still learn their queue position took.
func (s *Service) Join(sessionID, name, gameID string) map[string]interface{} {
	s.registry.Touch(sessionID, name)
	kind := models.KindFromID(gameID)
	p := room.Seat{SessionID: sessionID, Name: name}

	matchID, waiting := s.lobby.RequestQuickMatch(p, kind)
	if waiting {
		s.notifier.Send(sessionID, "waiting", map[string]interface{}{
			"game":     string(kind),
			"gameName": kind.DisplayName(),
		})
		return map[string]interface{}{"status": "waiting", "game": string(kind)}
	}
	s.bindMatch(matchID)
	return map[string]interface{}{"status": "matched", "matchId": matchID, "game": string(kind)}
}

// CreateMatch opens a named, browsable match hosted by the caller.
func (s *Service) CreateMatch(sessionID, name, gameID, label string) map[string]interface{} {
	s.registry.Touch(sessionID, name)
	kind := models.KindFromID(gameID)
	host := room.Seat{SessionID: sessionID, Name: name}

	matchID := s.lobby.CreateNamedMatch(host, kind, label)
	s.registry.SetCurrentMatch(sessionID, matchID)
	return map[string]interface{}{"status": "created", "matchId": matchID, "game": string(kind)}
}

// ListMatches returns the joinable named matches for a kind.
func (s *Service) ListMatches(gameID string) []lobby.OpenMatch {
	return s.lobby.ListOpen(models.KindFromID(gameID))
}

// JoinMatch seats the caller into a named match by ID.
func (s *Service) JoinMatch(sessionID, name, matchID string) map[string]interface{} {
	s.registry.Touch(sessionID, name)
	p := room.Seat{SessionID: sessionID, Name: name}

	if reason := s.lobby.JoinNamedMatch(p, matchID); reason != lobby.JoinOK {
		return map[string]interface{}{"status": "rejected", "reason": string(reason)}
	}
	s.bindMatch(matchID)
	return map[string]interface{}{"status": "joined", "matchId": matchID}
}

// Move applies one move attempt. A supplied matchID routes the move to that
// room and requires the caller to be seated there; without one the session's
// current room is resolved. Accepted moves are journaled; rejections carry a
// machine-readable reason.
func (s *Service) Move(sessionID, matchID string, cell int) map[string]interface{} {
	s.registry.Touch(sessionID, "")
	r, ok := s.resolveRoom(sessionID, matchID)
	if !ok {
		return map[string]interface{}{"accepted": false, "reason": "NO_MATCH"}
	}
	seat := r.SeatOf(sessionID)
	accepted, reason := r.ApplyMove(sessionID, cell)
	if accepted {
		s.journal.RecordMove(context.Background(), r.ID, string(r.Kind), sessionID, seat, cell)
		return map[string]interface{}{"accepted": true}
	}
	out := map[string]interface{}{"accepted": false}
	if reason != room.RejectNone {
		out["reason"] = string(reason)
	}
	return out
}

// PollState returns the session's current match view, or hasMatch=false when
// the session is not in any room. Polling counts as liveness.
func (s *Service) PollState(sessionID string) map[string]interface{} {
	s.registry.Touch(sessionID, "")
	r, ok := s.rooms.FindBySession(sessionID)
	if !ok {
		return map[string]interface{}{"hasMatch": false}
	}
	return r.View(sessionID)
}

// Stats returns a player's cumulative record; unknown players get a zeroed
// record rather than an error.
func (s *Service) Stats(ctx context.Context, name string) (models.PlayerStats, error) {
	stats, _, err := s.store.PlayerStats(ctx, name)
	return stats, err
}

// Leave abandons or forfeits the session's current match.
func (s *Service) Leave(sessionID string) {
	if r, ok := s.rooms.FindBySession(sessionID); ok {
		r.Leave(sessionID)
	}
}

// OnDisconnect handles a push-connection close: the session is detached and
// any queued or seated presence is resolved.
func (s *Service) OnDisconnect(sessionID string) {
	s.notifier.Unregister(sessionID)
	s.lobby.OnDisconnect(sessionID)
}

// resolveRoom locates the room a move is addressed to. An explicit matchID
// must name an existing room the session is seated in.
func (s *Service) resolveRoom(sessionID, matchID string) (*room.Room, bool) {
	if matchID == "" {
		return s.rooms.FindBySession(sessionID)
	}
	r, ok := s.rooms.Get(matchID)
	if !ok || !r.HasSession(sessionID) {
		return nil, false
	}
	return r, true
}

// bindMatch points every seated session at its new match.
func (s *Service) bindMatch(matchID string) {
	r, ok := s.rooms.Get(matchID)
	if !ok {
		return
	}
	for _, seat := range r.Players() {
		s.registry.SetCurrentMatch(seat.SessionID, matchID)
	}
}

// onMatchFinished archives the completed match, journals the result and
// folds the outcome into both players' stats. It runs on its own goroutine
// per room, so storage latency never holds a room lock.
func (s *Service) onMatchFinished(rec models.MatchRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	s.registry.SetCurrentMatch(rec.Session1, "")
	s.registry.SetCurrentMatch(rec.Session2, "")

	s.journal.RecordResult(ctx, rec.MatchID, string(rec.GameKind), rec.Result)

	if err := s.store.ArchiveMatch(ctx, rec); err != nil {
		s.log.Errorf("service: archiving match %s: %v", rec.MatchID, err)
	}
	if rec.Result == "abandoned" {
		return
	}

	winner, draw, decided := outcome(rec.Result)
	if !decided {
		s.log.Warnf("service: unrecognized result %q for %s, skipping stats", rec.Result, rec.MatchID)
		return
	}
	s.applyStats(ctx, rec.Player1, draw, winner == 1)
	s.applyStats(ctx, rec.Player2, draw, winner == 2)
}

// applyStats folds one match outcome into a player's record.
func (s *Service) applyStats(ctx context.Context, name string, draw, won bool) {
	stats, _, err := s.store.PlayerStats(ctx, name)
	if err != nil {
		s.log.Errorf("service: loading stats for %s: %v", name, err)
		return
	}
	stats.PlayerName = name
	stats.TotalGames++
	switch {
	case draw:
		stats.Draws++
	case won:
		stats.Wins++
	default:
		stats.Losses++
	}
	stats.WinRate = float64(stats.Wins) / float64(stats.TotalGames)
	if err := s.store.UpsertPlayerStats(ctx, stats); err != nil {
		s.log.Errorf("service: writing stats for %s: %v", name, err)
	}
}

// outcome decodes a terminal result string into a winning seat (1 or 2), a
// draw, or neither. Forfeit and timeout results embed the winner's mark
// after the colon; "timeout:draw" is a draw.
func outcome(result string) (winner int, draw, decided bool) {
	token := result
	if i := strings.IndexByte(result, ':'); i >= 0 {
		token = result[i+1:]
	}
	switch token {
	case "draw":
		return 0, true, true
	case "X_wins", "X", "P1":
		return 1, false, true
	case "O_wins", "O", "P2":
		return 2, false, true
	}
	return 0, false, false
}
