// internal/room/rules.go
package room

// RejectReason explains why a move was refused. Empty means accepted.
type RejectReason string

const (
	RejectNone         RejectReason = ""
	RejectNotYourTurn  RejectReason = "NOT_YOUR_TURN"
	RejectOutOfRange   RejectReason = "OUT_OF_RANGE"
	RejectCellOccupied RejectReason = "CELL_OCCUPIED"
)

// Rules is the game-specific plugin a Room drives. Implementations are not
// safe for concurrent use; the owning Room serializes every call under its
// lock.
type Rules interface {
	// Apply attempts an input for the given seat (1 or 2). It mutates rule
	// state only when the move is accepted.
	Apply(seat, cell int) RejectReason

	// Terminal reports the result reached by the rule state ("X_wins",
	// "P1", "draw", ...) and whether the game is over.
	Terminal() (result string, over bool)

	// TimeoutWinner names the mark credited when the forfeit deadline
	// expires, or "draw".
	TimeoutWinner() string

	// ForfeitWinner names the mark credited when the given seat leaves.
	ForfeitWinner(leavingSeat int) string

	// YourTurn reports whether the seat may act right now. Counter kinds
	// always return true.
	YourTurn(seat int) bool

	// Mark returns the seat's label ("X"/"O" or "P1"/"P2").
	Mark(seat int) string

	// Scores returns each seat's raw progress for archival.
	Scores() (p1, p2 int)

	// Snapshot returns the wire fields of a "state" broadcast.
	Snapshot() map[string]interface{}
}
