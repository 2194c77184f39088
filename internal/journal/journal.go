// internal/journal/journal.go
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// MoveRecord is one journaled gameplay event, pushed to a Redis list for
// out-of-process consumers (replay tooling, analytics).
type MoveRecord struct {
	MatchID   string `json:"match_id"`
	GameKind  string `json:"game_kind"`
	SessionID string `json:"session_id"`
	Seat      int    `json:"seat"`
	Cell      int    `json:"cell"`
	Event     string `json:"event"` // "move" | "result"
	Result    string `json:"result,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Journal appends gameplay events to a Redis list. It is strictly
// best-effort: a dead Redis never blocks or fails a match, failures are
// logged and dropped.
type Journal struct {
	rdb  *redis.Client
	list string
	log  *logrus.Logger
}

// Connect builds a Journal over a verified Redis connection.
func Connect(ctx context.Context, addr string, db int, list string, log *logrus.Logger) (*Journal, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	return &Journal{rdb: rdb, list: list, log: log}, nil
}

// RecordMove journals one accepted move.
func (j *Journal) RecordMove(ctx context.Context, matchID, gameKind, sessionID string, seat, cell int) {
	j.push(ctx, MoveRecord{
		MatchID:   matchID,
		GameKind:  gameKind,
		SessionID: sessionID,
		Seat:      seat,
		Cell:      cell,
		Event:     "move",
		Timestamp: time.Now().UnixMilli(),
	})
}

// RecordResult journals a match's terminal result.
func (j *Journal) RecordResult(ctx context.Context, matchID, gameKind, result string) {
	j.push(ctx, MoveRecord{
		MatchID:   matchID,
		GameKind:  gameKind,
		Event:     "result",
		Result:    result,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (j *Journal) push(ctx context.Context, rec MoveRecord) {
	if j == nil || j.rdb == nil {
		return
	}
	data, err := json.Marshal(rec)
	if err != nil {
		j.log.Errorf("journal: marshal record for %s: %v", rec.MatchID, err)
		return
	}
	pushCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := j.rdb.RPush(pushCtx, j.list, data).Err(); err != nil {
		j.log.Warnf("journal: rpush to %s failed: %v", j.list, err)
	}
}

// Close releases the Redis client.
func (j *Journal) Close() error {
	if j == nil || j.rdb == nil {
		return nil
	}
	return j.rdb.Close()
}
