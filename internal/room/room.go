// internal/room/room.go
package room

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/markreid/faceoff/internal/models"
)

// Status is a room's lifecycle phase. Transitions only ever move forward:
// waiting -> active -> finished.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusActive   Status = "active"
	StatusFinished Status = "finished"
)

// Seat binds one player slot to a session.
type Seat struct {
	SessionID string
	Name      string
}

// SendFunc delivers a typed push message to one session. The room never
// learns whether delivery succeeded; transport failures are the notifier's
// problem.
type SendFunc func(sessionID, msgType string, payload map[string]interface{})

// FinishFunc is invoked exactly once when a room reaches finished, with the
// archival record already assembled. It runs on its own goroutine so it may
// block on storage.
type FinishFunc func(rec models.MatchRecord)

// Room is the generic per-match state machine. All mutation goes through
// its mutex; rooms are independent of each other.
type Room struct {
	ID   string
	Kind models.GameKind

	// Label is an optional display name for named matches. Set once at
	// creation, before the room is published to the store.
	Label string

	// ForfeitDeadline is how long the room waits for progress before the
	// timeout outcome fires. Defaulted from the game kind; tests shorten it.
	ForfeitDeadline time.Duration

	mu           sync.Mutex
	status       Status
	seats        [2]Seat
	rules        Rules
	result       string
	createdAt    time.Time
	lastUpdateAt time.Time
	forfeitTimer *time.Timer

	send     SendFunc
	onFinish FinishFunc
	log      *logrus.Logger
}

// New builds a room in the waiting state with seat 1 filled by the host.
// Quick-matched rooms get seat 2 via SeatSecond and Start immediately after.
func New(id string, kind models.GameKind, host Seat, send SendFunc, onFinish FinishFunc, log *logrus.Logger) *Room {
	var rules Rules
	if kind == models.KindTicTacToe {
		rules = NewTicTacToe()
	} else {
		rules = NewCounter(kind)
	}
	now := time.Now()
	return &Room{
		ID:              id,
		Kind:            kind,
		ForfeitDeadline: kind.ForfeitTimeout(),

		status:       StatusWaiting,
		seats:        [2]Seat{host, {}},
		rules:        rules,
		result:       "ongoing",
		createdAt:    now,
		lastUpdateAt: now,
		send:         send,
		onFinish:     onFinish,
		log:          log,
	}
}

// SeatSecond fills seat 2. It fails once the room has left the waiting
// state or when the seat is already taken.
func (r *Room) SeatSecond(s Seat) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != StatusWaiting || r.seats[1].SessionID != "" {
		return false
	}
	r.seats[1] = s
	r.lastUpdateAt = time.Now()
	return true
}

// Start transitions the room to active, notifies both seats of their
// assignment, broadcasts the initial state and arms the forfeit deadline.
func (r *Room) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != StatusWaiting || r.seats[0].SessionID == "" || r.seats[1].SessionID == "" {
		return
	}
	r.status = StatusActive
	r.lastUpdateAt = time.Now()

	for i := 0; i < 2; i++ {
		seat := i + 1
		opponent := r.seats[1-i].Name
		r.send(r.seats[i].SessionID, "match", map[string]interface{}{
			"match":        r.ID,
			"game":         string(r.Kind),
			"seat":         seat,
			"mark":         r.rules.Mark(seat),
			"yourTurn":     r.rules.YourTurn(seat),
			"opponentName": opponent,
		})
	}
	r.broadcastStateLocked()
	r.scheduleTimerLocked()
	r.log.Infof("room %s (%s) started: %s vs %s", r.ID, r.Kind, r.seats[0].Name, r.seats[1].Name)
}

// ApplyMove processes one move attempt from a session. Moves from sessions
// not seated here are ignored. On an accepted move the terminal condition is
// re-evaluated; a still-running game rearms the forfeit deadline and
// broadcasts state.
func (r *Room) ApplyMove(sessionID string, cell int) (bool, RejectReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != StatusActive {
		return false, RejectNone
	}
	seat := r.seatOfLocked(sessionID)
	if seat == 0 {
		return false, RejectNone
	}
	if reason := r.rules.Apply(seat, cell); reason != RejectNone {
		r.log.Debugf("room %s: move by seat %d rejected: %s", r.ID, seat, reason)
		return false, reason
	}
	r.lastUpdateAt = time.Now()

	if result, over := r.rules.Terminal(); over {
		r.finishLocked(result)
		return true, RejectNone
	}
	r.scheduleTimerLocked()
	r.broadcastStateLocked()
	return true, RejectNone
}

// Leave handles a seated session disconnecting or abandoning the match. An
// active or waiting room ends immediately with a forfeit crediting the other
// seat; a waiting room with only the host simply finishes unrated.
func (r *Room) Leave(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == StatusFinished {
		return
	}
	seat := r.seatOfLocked(sessionID)
	if seat == 0 {
		return
	}
	if r.status == StatusWaiting {
		// Host left before anyone joined; nothing to forfeit.
		r.finishLocked("abandoned")
		return
	}
	r.finishLocked("forfeit:" + r.rules.ForfeitWinner(seat))
}

// Status returns the current lifecycle phase.
func (r *Room) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Result returns the room's result string ("ongoing" until finished).
func (r *Room) Result() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// HostName returns seat 1's display name, for match listings.
func (r *Room) HostName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seats[0].Name
}

// CreatedAt returns the room creation time.
func (r *Room) CreatedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createdAt
}

// Seats reports how many seats are filled.
func (r *Room) Seats() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.seats {
		if s.SessionID != "" {
			n++
		}
	}
	return n
}

// Players returns the filled seats in seat order.
func (r *Room) Players() []Seat {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Seat
	for _, s := range r.seats {
		if s.SessionID != "" {
			out = append(out, s)
		}
	}
	return out
}

// SeatOf maps a session to its seat number, 0 if not seated.
func (r *Room) SeatOf(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seatOfLocked(sessionID)
}

// HasSession reports whether the session occupies a seat here.
func (r *Room) HasSession(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seatOfLocked(sessionID) != 0
}

// FinishedSince reports whether the room finished before the given cutoff,
// for eviction sweeps.
func (r *Room) FinishedSince(cutoff time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status == StatusFinished && r.lastUpdateAt.Before(cutoff)
}

// View assembles the point-in-time state payload for a pull-based client.
func (r *Room) View(sessionID string) map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	seat := r.seatOfLocked(sessionID)
	view := map[string]interface{}{
		"hasMatch": true,
		"matchId":  r.ID,
		"game":     string(r.Kind),
		"status":   string(r.status),
		"result":   r.result,
	}
	for k, v := range r.rules.Snapshot() {
		view[k] = v
	}
	if seat != 0 {
		view["yourMark"] = r.rules.Mark(seat)
		view["yourTurn"] = r.status == StatusActive && r.rules.YourTurn(seat)
	}
	return view
}

// seatOfLocked maps a session to its seat number, 0 if not seated.
func (r *Room) seatOfLocked(sessionID string) int {
	for i, s := range r.seats {
		if s.SessionID != "" && s.SessionID == sessionID {
			return i + 1
		}
	}
	return 0
}

// finishLocked performs the single status->finished transition: result is
// set exactly once, the deadline is cancelled, "over" goes out to both
// seats, and archival runs on its own goroutine.
func (r *Room) finishLocked(result string) {
	if r.status == StatusFinished {
		return
	}
	r.status = StatusFinished
	r.result = result
	r.lastUpdateAt = time.Now()
	r.cancelTimerLocked()

	payload := map[string]interface{}{
		"match":  r.ID,
		"result": result,
	}
	for i := range r.seats {
		if r.seats[i].SessionID != "" {
			r.send(r.seats[i].SessionID, "over", payload)
		}
	}
	r.log.Infof("room %s finished: %s", r.ID, result)

	if r.onFinish != nil && r.seats[1].SessionID != "" {
		rec := r.recordLocked()
		go r.onFinish(rec)
	}
}

// recordLocked snapshots the archival record while the lock is held.
func (r *Room) recordLocked() models.MatchRecord {
	p1, p2 := r.rules.Scores()
	state, _ := json.Marshal(r.rules.Snapshot())
	return models.MatchRecord{
		MatchID:      r.ID,
		GameKind:     r.Kind,
		Player1:      r.seats[0].Name,
		Player2:      r.seats[1].Name,
		Session1:     r.seats[0].SessionID,
		Session2:     r.seats[1].SessionID,
		Result:       r.result,
		RuleState:    state,
		Player1Score: p1,
		Player2Score: p2,
		CreatedAt:    r.createdAt,
		FinishedAt:   r.lastUpdateAt,
	}
}

func (r *Room) broadcastStateLocked() {
	payload := map[string]interface{}{
		"match":  r.ID,
		"result": r.result,
	}
	for k, v := range r.rules.Snapshot() {
		payload[k] = v
	}
	for i := range r.seats {
		if r.seats[i].SessionID != "" {
			r.send(r.seats[i].SessionID, "state", payload)
		}
	}
}

// scheduleTimerLocked cancels any armed deadline and arms a fresh one. The
// fired callback re-checks that it is still the current timer so a stale
// expiry after a reschedule is a no-op.
func (r *Room) scheduleTimerLocked() {
	r.cancelTimerLocked()
	var timer *time.Timer
	timer = time.AfterFunc(r.ForfeitDeadline, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.forfeitTimer != timer || r.status != StatusActive {
			return
		}
		r.forfeitTimer = nil
		r.finishLocked("timeout:" + r.rules.TimeoutWinner())
	})
	r.forfeitTimer = timer
}

func (r *Room) cancelTimerLocked() {
	if r.forfeitTimer != nil {
		r.forfeitTimer.Stop()
		r.forfeitTimer = nil
	}
}

// Shutdown cancels the forfeit timer without finishing the room; used on
// process teardown.
func (r *Room) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelTimerLocked()
}
