// internal/room/counter.go
package room

import "github.com/markreid/faceoff/internal/models"

// Counter implements Rules for the objective-counter kinds (duck hunt,
// puzzle, ping pong, space shooter): each seat races an independent counter
// to a fixed per-kind target. There are no turns and no invalid cells; every
// input increments the caller's counter.
type Counter struct {
	target int
	p1     int
	p2     int
}

// NewCounter builds the counter rules for a kind, taking the objective
// threshold from the kind catalogue.
func NewCounter(kind models.GameKind) *Counter {
	return &Counter{target: kind.CounterTarget()}
}

func (c *Counter) Apply(seat, cell int) RejectReason {
	if seat == 1 {
		c.p1++
	} else {
		c.p2++
	}
	return RejectNone
}

func (c *Counter) Terminal() (string, bool) {
	if c.p1 >= c.target {
		return "P1", true
	}
	if c.p2 >= c.target {
		return "P2", true
	}
	return "ongoing", false
}

// TimeoutWinner credits the higher counter; equal progress is a draw.
func (c *Counter) TimeoutWinner() string {
	switch {
	case c.p1 > c.p2:
		return "P1"
	case c.p2 > c.p1:
		return "P2"
	default:
		return "draw"
	}
}

func (c *Counter) ForfeitWinner(leavingSeat int) string {
	if leavingSeat == 1 {
		return "P2"
	}
	return "P1"
}

// YourTurn is always true: racing kinds have no turn order.
func (c *Counter) YourTurn(seat int) bool { return true }

func (c *Counter) Mark(seat int) string {
	if seat == 1 {
		return "P1"
	}
	return "P2"
}

func (c *Counter) Scores() (int, int) { return c.p1, c.p2 }

func (c *Counter) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"p1_score": c.p1,
		"p2_score": c.p2,
		"target":   c.target,
	}
}
