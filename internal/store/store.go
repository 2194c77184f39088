// internal/store/store.go
package store

import (
	"context"
	"time"

	"github.com/markreid/faceoff/internal/models"
)

// Store is the durable persistence target: completed matches, player
// statistics and the pending-notification queue, all as simple keyed
// reads and writes. Game logic only ever sees this interface; runtime
// store errors are logged by callers and never block in-memory gameplay.
type Store interface {
	// EnqueueNotification durably stores an undelivered push message and
	// returns it with its assigned ID.
	EnqueueNotification(ctx context.Context, n models.PendingNotification) (models.PendingNotification, error)

	// UndeliveredFor lists a session's undelivered messages in original
	// enqueue order, for the flush on (re)connect.
	UndeliveredFor(ctx context.Context, sessionID string) ([]models.PendingNotification, error)

	// DuePending lists undelivered messages whose retry time has passed
	// and whose attempts are below the given limit.
	DuePending(ctx context.Context, now time.Time, maxAttempts int) ([]models.PendingNotification, error)

	// MarkDelivered flags a queued message as delivered.
	MarkDelivered(ctx context.Context, id int64) error

	// Reschedule updates a message's attempt count and next retry time.
	Reschedule(ctx context.Context, id int64, attempts int, next time.Time) error

	// ArchiveMatch persists a finished match.
	ArchiveMatch(ctx context.Context, rec models.MatchRecord) error

	// PlayerStats fetches a player's record; found is false for players
	// with no games yet.
	PlayerStats(ctx context.Context, name string) (stats models.PlayerStats, found bool, err error)

	// UpsertPlayerStats writes a player's full record.
	UpsertPlayerStats(ctx context.Context, stats models.PlayerStats) error
}
