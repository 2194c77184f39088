// internal/lobby/lobby.go
package lobby

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/markreid/faceoff/internal/models"
	"github.com/markreid/faceoff/internal/room"
)

// JoinFailure is the reason a named-match join was refused.
type JoinFailure string

const (
	JoinOK          JoinFailure = ""
	JoinNotFound    JoinFailure = "NOT_FOUND"
	JoinAlreadyFull JoinFailure = "ALREADY_FULL"
	JoinSelfJoin    JoinFailure = "SELF_JOIN"
)

// RoomFactory builds a fully wired room for a match ID and host seat. The
// service supplies it so rooms get their send and archival hooks without the
// lobby knowing about either.
type RoomFactory func(id string, kind models.GameKind, host room.Seat) *room.Room

// OpenMatch is one row of the match browser.
type OpenMatch struct {
	MatchID   string    `json:"matchId"`
	HostName  string    `json:"hostName"`
	Label     string    `json:"label,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	Players   int       `json:"playersCount"`
	Max       int       `json:"maxPlayers"`
}

// Manager owns the quick-match waiting queues and named-match creation. All
// pairing decisions happen under a single mutex so two concurrent requests
// can never both claim the same waiting player, or both conclude nobody is
// waiting.
type Manager struct {
	mu      sync.Mutex
	queues  map[models.GameKind][]room.Seat
	rooms   *room.Store
	factory RoomFactory
	log     *logrus.Logger
}

// NewManager builds a lobby manager over the shared room store.
func NewManager(rooms *room.Store, factory RoomFactory, log *logrus.Logger) *Manager {
	return &Manager{
		queues:  make(map[models.GameKind][]room.Seat),
		rooms:   rooms,
		factory: factory,
		log:     log,
	}
}

// RequestQuickMatch pairs the caller with the first waiting player of the
// same kind, or enqueues the caller. Pop-if-present-else-push is one atomic
// step under the lobby lock; the room start (which pushes notifications)
// runs after the lock is released. Re-requesting while already queued is an
// idempotent no-op that stays waiting.
func (m *Manager) RequestQuickMatch(p room.Seat, kind models.GameKind) (matchID string, waiting bool) {
	m.mu.Lock()
	var r *room.Room

	queue := m.queues[kind]
	idx := -1
	for i, w := range queue {
		if w.SessionID != p.SessionID {
			idx = i
			break
		}
	}
	switch {
	case idx >= 0:
		other := queue[idx]
		m.queues[kind] = append(queue[:idx], queue[idx+1:]...)
		matchID = newMatchID()
		r = m.factory(matchID, kind, other)
		r.SeatSecond(p)
		m.rooms.Add(r)
	case queued(queue, p.SessionID):
		// Already the waiting entry for this session.
	default:
		m.queues[kind] = append(queue, p)
	}
	m.mu.Unlock()

	if r == nil {
		return "", true
	}
	r.Start()
	m.log.Infof("lobby: quick-matched %s into %s (%s)", p.Name, matchID, kind)
	return matchID, false
}

// CreateNamedMatch opens a browsable match hosted by the caller. The room
// sits in the waiting state until someone joins it.
func (m *Manager) CreateNamedMatch(host room.Seat, kind models.GameKind, label string) string {
	id := newMatchID()
	r := m.factory(id, kind, host)
	r.Label = label
	m.rooms.Add(r)
	m.log.Infof("lobby: %s created named match %s (%s)", host.Name, id, kind)
	return id
}

// JoinNamedMatch seats the caller into an open match. Seat admission is
// atomic on the room itself, so a join racing another join loses cleanly
// with ALREADY_FULL.
func (m *Manager) JoinNamedMatch(p room.Seat, matchID string) JoinFailure {
	r, ok := m.rooms.Get(matchID)
	if !ok {
		return JoinNotFound
	}
	if r.HasSession(p.SessionID) {
		return JoinSelfJoin
	}
	if !r.SeatSecond(p) {
		return JoinAlreadyFull
	}
	r.Start()
	m.log.Infof("lobby: %s joined match %s", p.Name, matchID)
	return JoinOK
}

// ListOpen returns the joinable matches of a kind.
func (m *Manager) ListOpen(kind models.GameKind) []OpenMatch {
	var out []OpenMatch
	for _, r := range m.rooms.Waiting(kind) {
		if r.Seats() != 1 {
			continue
		}
		out = append(out, OpenMatch{
			MatchID:   r.ID,
			HostName:  r.HostName(),
			Label:     r.Label,
			CreatedAt: r.CreatedAt(),
			Players:   1,
			Max:       2,
		})
	}
	return out
}

// OnDisconnect removes a queued session from every waiting queue and, when
// the session is seated in a live room, forwards to the room's leave
// handler: leaving mid-match is a forfeit.
func (m *Manager) OnDisconnect(sessionID string) {
	m.mu.Lock()
	for kind, queue := range m.queues {
		for i, w := range queue {
			if w.SessionID == sessionID {
				m.queues[kind] = append(queue[:i], queue[i+1:]...)
				break
			}
		}
	}
	m.mu.Unlock()

	if r, ok := m.rooms.FindBySession(sessionID); ok && r.Status() != room.StatusFinished {
		r.Leave(sessionID)
	}
}

// QueueLen reports the waiting-queue depth for a kind.
func (m *Manager) QueueLen(kind models.GameKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues[kind])
}

func queued(queue []room.Seat, sessionID string) bool {
	for _, w := range queue {
		if w.SessionID == sessionID {
			return true
		}
	}
	return false
}

func newMatchID() string {
	return "M-" + uuid.NewString()
}
