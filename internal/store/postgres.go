// internal/store/postgres.go
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/markreid/faceoff/internal/models"
)

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to the database and verifies the connection. A
// failure here is fatal to startup; callers abort the process.
func NewPostgres(ctx context.Context, url string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse pgx config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// EnsureSchema creates the tables if they do not exist yet.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS matches (
			match_id     TEXT PRIMARY KEY,
			game_kind    TEXT NOT NULL,
			player1      TEXT NOT NULL,
			player2      TEXT NOT NULL,
			session1     TEXT NOT NULL,
			session2     TEXT NOT NULL,
			result       TEXT NOT NULL,
			rule_state   JSONB,
			p1_score     INTEGER NOT NULL DEFAULT 0,
			p2_score     INTEGER NOT NULL DEFAULT 0,
			created_at   TIMESTAMPTZ NOT NULL,
			finished_at  TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS player_stats (
			player_name  TEXT PRIMARY KEY,
			total_games  INTEGER NOT NULL DEFAULT 0,
			wins         INTEGER NOT NULL DEFAULT 0,
			losses       INTEGER NOT NULL DEFAULT 0,
			draws        INTEGER NOT NULL DEFAULT 0,
			win_rate     DOUBLE PRECISION NOT NULL DEFAULT 0,
			last_game    TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS pending_notifications (
			id                BIGSERIAL PRIMARY KEY,
			session_id        TEXT NOT NULL,
			notification_type TEXT NOT NULL,
			payload           BYTEA NOT NULL,
			attempts          INTEGER NOT NULL DEFAULT 0,
			next_retry        TIMESTAMPTZ NOT NULL,
			delivered         BOOLEAN NOT NULL DEFAULT FALSE,
			created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_session
			ON pending_notifications (session_id) WHERE NOT delivered`,
	}
	for _, q := range stmts {
		if _, err := p.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (p *Postgres) EnqueueNotification(ctx context.Context, n models.PendingNotification) (models.PendingNotification, error) {
	q := `
		INSERT INTO pending_notifications (session_id, notification_type, payload, attempts, next_retry)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	err := p.pool.QueryRow(ctx, q, n.SessionID, n.Type, n.Payload, n.Attempts, n.NextRetryAt).
		Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return n, fmt.Errorf("enqueue notification: %w", err)
	}
	return n, nil
}

func (p *Postgres) UndeliveredFor(ctx context.Context, sessionID string) ([]models.PendingNotification, error) {
	q := `
		SELECT id, session_id, notification_type, payload, attempts, next_retry, delivered, created_at
		FROM pending_notifications
		WHERE session_id = $1 AND NOT delivered
		ORDER BY created_at, id
	`
	rows, err := p.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list undelivered: %w", err)
	}
	defer rows.Close()
	return scanPending(rows)
}

func (p *Postgres) DuePending(ctx context.Context, now time.Time, maxAttempts int) ([]models.PendingNotification, error) {
	q := `
		SELECT id, session_id, notification_type, payload, attempts, next_retry, delivered, created_at
		FROM pending_notifications
		WHERE NOT delivered AND attempts < $1 AND next_retry <= $2
		ORDER BY created_at, id
	`
	rows, err := p.pool.Query(ctx, q, maxAttempts, now)
	if err != nil {
		return nil, fmt.Errorf("list due pending: %w", err)
	}
	defer rows.Close()
	return scanPending(rows)
}

func scanPending(rows pgx.Rows) ([]models.PendingNotification, error) {
	var out []models.PendingNotification
	for rows.Next() {
		var n models.PendingNotification
		if err := rows.Scan(&n.ID, &n.SessionID, &n.Type, &n.Payload,
			&n.Attempts, &n.NextRetryAt, &n.Delivered, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pending notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkDelivered(ctx context.Context, id int64) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE pending_notifications SET delivered = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return nil
}

func (p *Postgres) Reschedule(ctx context.Context, id int64, attempts int, next time.Time) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE pending_notifications SET attempts = $1, next_retry = $2 WHERE id = $3`,
		attempts, next, id)
	if err != nil {
		return fmt.Errorf("reschedule notification: %w", err)
	}
	return nil
}

func (p *Postgres) ArchiveMatch(ctx context.Context, rec models.MatchRecord) error {
	q := `
		INSERT INTO matches (match_id, game_kind, player1, player2, session1, session2,
			result, rule_state, p1_score, p2_score, created_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (match_id) DO UPDATE SET
			result = EXCLUDED.result,
			rule_state = EXCLUDED.rule_state,
			p1_score = EXCLUDED.p1_score,
			p2_score = EXCLUDED.p2_score,
			finished_at = EXCLUDED.finished_at
	`
	_, err := p.pool.Exec(ctx, q, rec.MatchID, string(rec.GameKind), rec.Player1, rec.Player2,
		rec.Session1, rec.Session2, rec.Result, rec.RuleState,
		rec.Player1Score, rec.Player2Score, rec.CreatedAt, rec.FinishedAt)
	if err != nil {
		return fmt.Errorf("archive match %s: %w", rec.MatchID, err)
	}
	return nil
}

func (p *Postgres) PlayerStats(ctx context.Context, name string) (models.PlayerStats, bool, error) {
	var s models.PlayerStats
	q := `
		SELECT player_name, total_games, wins, losses, draws, win_rate
		FROM player_stats WHERE player_name = $1
	`
	err := p.pool.QueryRow(ctx, q, name).
		Scan(&s.PlayerName, &s.TotalGames, &s.Wins, &s.Losses, &s.Draws, &s.WinRate)
	if err == pgx.ErrNoRows {
		return models.PlayerStats{PlayerName: name}, false, nil
	}
	if err != nil {
		return s, false, fmt.Errorf("get player stats: %w", err)
	}
	return s, true, nil
}

func (p *Postgres) UpsertPlayerStats(ctx context.Context, s models.PlayerStats) error {
	q := `
		INSERT INTO player_stats (player_name, total_games, wins, losses, draws, win_rate, last_game)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (player_name) DO UPDATE SET
			total_games = EXCLUDED.total_games,
			wins = EXCLUDED.wins,
			losses = EXCLUDED.losses,
			draws = EXCLUDED.draws,
			win_rate = EXCLUDED.win_rate,
			last_game = NOW()
	`
	_, err := p.pool.Exec(ctx, q, s.PlayerName, s.TotalGames, s.Wins, s.Losses, s.Draws, s.WinRate)
	if err != nil {
		return fmt.Errorf("upsert player stats: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}
