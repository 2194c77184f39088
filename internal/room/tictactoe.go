// internal/room/tictactoe.go
package room

// TicTacToe implements Rules for the classic 3x3 grid. The board is held as
// two 9-bit occupancy masks, bit i covering cell i (row-major from the top
// left).
type TicTacToe struct {
	xMask int
	oMask int
	xTurn bool
}

// winMasks are the eight winning lines: three rows, three columns, two
// diagonals.
var winMasks = [8]int{
	0b000000111, 0b000111000, 0b111000000,
	0b001001001, 0b010010010, 0b100100100,
	0b100010001, 0b001010100,
}

const fullBoard = 0b111111111

// NewTicTacToe returns a fresh board with X (seat 1) to move.
func NewTicTacToe() *TicTacToe {
	return &TicTacToe{xTurn: true}
}

func (t *TicTacToe) Apply(seat, cell int) RejectReason {
	isX := seat == 1
	if t.xTurn != isX {
		return RejectNotYourTurn
	}
	if cell < 0 || cell > 8 {
		return RejectOutOfRange
	}
	bit := 1 << cell
	if (t.xMask|t.oMask)&bit != 0 {
		return RejectCellOccupied
	}
	if isX {
		t.xMask |= bit
	} else {
		t.oMask |= bit
	}
	t.xTurn = !t.xTurn
	return RejectNone
}

func (t *TicTacToe) Terminal() (string, bool) {
	for _, w := range winMasks {
		if t.xMask&w == w {
			return "X_wins", true
		}
		if t.oMask&w == w {
			return "O_wins", true
		}
	}
	if t.xMask|t.oMask == fullBoard {
		return "draw", true
	}
	return "ongoing", false
}

// TimeoutWinner credits the side not on turn: the side to move failed to
// act before the deadline.
func (t *TicTacToe) TimeoutWinner() string {
	if t.xTurn {
		return "O"
	}
	return "X"
}

func (t *TicTacToe) ForfeitWinner(leavingSeat int) string {
	if leavingSeat == 1 {
		return "O"
	}
	return "X"
}

func (t *TicTacToe) YourTurn(seat int) bool {
	return t.xTurn == (seat == 1)
}

func (t *TicTacToe) Mark(seat int) string {
	if seat == 1 {
		return "X"
	}
	return "O"
}

// Scores counts placed marks per side.
func (t *TicTacToe) Scores() (int, int) {
	return popcount(t.xMask), popcount(t.oMask)
}

func (t *TicTacToe) Snapshot() map[string]interface{} {
	next := "O"
	if t.xTurn {
		next = "X"
	}
	return map[string]interface{}{
		"board": t.BoardString(),
		"next":  next,
	}
}

// BoardString renders cells 0..8 as 'X', 'O' or '.'.
func (t *TicTacToe) BoardString() string {
	buf := make([]byte, 9)
	for i := 0; i < 9; i++ {
		bit := 1 << i
		switch {
		case t.xMask&bit != 0:
			buf[i] = 'X'
		case t.oMask&bit != 0:
			buf[i] = 'O'
		default:
			buf[i] = '.'
		}
	}
	return string(buf)
}

func popcount(mask int) int {
	n := 0
	for mask != 0 {
		mask &= mask - 1
		n++
	}
	return n
}
