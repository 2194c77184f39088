// internal/models/models.go
package models

import (
	"encoding/json"
	"time"
)

// GameKind identifies one of the supported head-to-head game variants.
type GameKind string

const (
	KindTicTacToe    GameKind = "tictactoe"
	KindDuckHunt     GameKind = "duckhunt"
	KindPuzzle       GameKind = "puzzle"
	KindPingPong     GameKind = "pingpong"
	KindSpaceShooter GameKind = "spaceshooter"
)

// kindInfo is the per-kind catalogue: human name, forfeit-deadline timeout,
// and the objective target for counter games (0 for turn-based kinds).
type kindInfo struct {
	display string
	timeout time.Duration
	target  int
}

var kinds = map[GameKind]kindInfo{
	KindTicTacToe:    {"Tic-Tac-Toe", 120 * time.Second, 0},
	KindDuckHunt:     {"Duck Hunt", 120 * time.Second, 50},
	KindPuzzle:       {"Puzzle", 300 * time.Second, 100},
	KindPingPong:     {"Ping Pong", 180 * time.Second, 1000},
	KindSpaceShooter: {"Space Shooter", 180 * time.Second, 200},
}

// KindFromID maps a wire identifier to a GameKind, defaulting to Tic-Tac-Toe
// for unknown values.
func KindFromID(id string) GameKind {
	if _, ok := kinds[GameKind(id)]; ok {
		return GameKind(id)
	}
	return KindTicTacToe
}

func (k GameKind) DisplayName() string { return kinds[k].display }

// ForfeitTimeout is how long a room waits for progress before declaring a
// timeout result.
func (k GameKind) ForfeitTimeout() time.Duration { return kinds[k].timeout }

// CounterTarget is the objective threshold for counter kinds; zero means the
// kind is turn-based rather than a race.
func (k GameKind) CounterTarget() int { return kinds[k].target }

// Session is one client's presence on the server, identified by an opaque
// client-chosen ID. The live push connection, if any, is tracked separately
// by the session registry.
type Session struct {
	ID              string    `json:"sessionId"`
	DisplayName     string    `json:"displayName"`
	ConnectionState string    `json:"connectionState"` // "connected" | "disconnected"
	LastHeartbeatAt time.Time `json:"lastHeartbeatAt"`
	CurrentMatchID  string    `json:"currentMatchId,omitempty"`
}

// ConnectionHealth tracks heartbeat-derived quality for one session's push
// connection. QualityScore stays in [0, 1].
type ConnectionHealth struct {
	SessionID    string    `json:"sessionId"`
	PingCount    int       `json:"pingCount"`
	MissedPings  int       `json:"missedPings"`
	QualityScore float64   `json:"qualityScore"`
	LastPing     time.Time `json:"lastPing"`
	LastPong     time.Time `json:"lastPong"`
}

// PendingNotification is one durably queued push message awaiting delivery.
type PendingNotification struct {
	ID          int64     `json:"id"`
	SessionID   string    `json:"sessionId"`
	Type        string    `json:"type"`
	Payload     []byte    `json:"payload"`
	Attempts    int       `json:"attempts"`
	NextRetryAt time.Time `json:"nextRetryAt"`
	Delivered   bool      `json:"delivered"`
	CreatedAt   time.Time `json:"createdAt"`
}

// PlayerStats is the cumulative record for one player name.
type PlayerStats struct {
	PlayerName string  `json:"playerName"`
	TotalGames int     `json:"totalGames"`
	Wins       int     `json:"wins"`
	Losses     int     `json:"losses"`
	Draws      int     `json:"draws"`
	WinRate    float64 `json:"winRate"`
}

// MatchRecord is the archived form of a finished match.
type MatchRecord struct {
	MatchID      string          `json:"matchId"`
	GameKind     GameKind        `json:"gameKind"`
	Player1      string          `json:"player1"`
	Player2      string          `json:"player2"`
	Session1     string          `json:"session1"`
	Session2     string          `json:"session2"`
	Result       string          `json:"result"`
	RuleState    json.RawMessage `json:"ruleState"`
	Player1Score int             `json:"player1Score"`
	Player2Score int             `json:"player2Score"`
	CreatedAt    time.Time       `json:"createdAt"`
	FinishedAt   time.Time       `json:"finishedAt"`
}
