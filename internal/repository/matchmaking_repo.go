package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/duelbackend/arena/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// QueueRepository persists matchmaking queue entries (§4.6). The in-memory
// queues are the source of truth during normal operation; this table exists
// so a restart can rehydrate pending entries rather than silently dropping
// players who were waiting.
type QueueRepository struct {
	db *sqlx.DB
}

// NewQueueRepository creates a new QueueRepository.
func NewQueueRepository(db *sqlx.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

// Enqueue inserts a queue entry. Fails with domain.ErrAlreadyQueued if the
// player already has an entry for this (duration, bet) pair.
func (r *QueueRepository) Enqueue(ctx context.Context, e *domain.QueueEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO queue_entries (player, duration_seconds, bet_amount, elo_rating, enqueued_at)
		VALUES ($1, $2, $3, $4, $5)`,
		e.Player, e.Duration, e.Bet, e.EloRating, e.EnqueuedAt)
	if err != nil {
		if isPgUniqueViolation(err, "queue_entries_pkey") {
			return domain.ErrAlreadyQueued
		}
		return fmt.Errorf("queue_repo.Enqueue: %w", err)
	}
	return nil
}

// Dequeue removes a player's queue entry for a (duration, bet) pair.
func (r *QueueRepository) Dequeue(ctx context.Context, player string, duration int64, bet interface{}) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM queue_entries WHERE player = $1 AND duration_seconds = $2 AND bet_amount = $3`,
		player, duration, bet)
	if err != nil {
		return fmt.Errorf("queue_repo.Dequeue: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrQueueEntryNotFound
	}
	return nil
}

// ListAll returns every queue entry, for rehydrating in-memory queues on
// startup.
func (r *QueueRepository) ListAll(ctx context.Context) ([]*domain.QueueEntry, error) {
	var entries []*domain.QueueEntry
	err := r.db.SelectContext(ctx, &entries, `SELECT * FROM queue_entries ORDER BY enqueued_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("queue_repo.ListAll: %w", err)
	}
	return entries, nil
}

// DequeuePair removes both matched players' entries atomically once a Match
// has been created for them.
func (r *QueueRepository) DequeuePair(ctx context.Context, tx *sqlx.Tx, p1, p2 string, duration int64, bet interface{}) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM queue_entries WHERE duration_seconds = $1 AND bet_amount = $2 AND player IN ($3, $4)`,
		duration, bet, p1, p2)
	if err != nil {
		return fmt.Errorf("queue_repo.DequeuePair: %w", err)
	}
	return nil
}

// SumBetsByPlayer sums the bet_amount of every queue entry belonging to
// player, used by reconcileFrozenBalance to recompute the queue side of a
// player's frozen total (§4.2).
func (r *QueueRepository) SumBetsByPlayer(ctx context.Context, player string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.db.GetContext(ctx, &total,
		`SELECT COALESCE(SUM(bet_amount), 0) FROM queue_entries WHERE player = $1`, player)
	if err != nil {
		return decimal.Zero, fmt.Errorf("queue_repo.SumBetsByPlayer: %w", err)
	}
	return total, nil
}

// ChallengeRepository persists direct challenges (§4.6 supplemental feature).
type ChallengeRepository struct {
	db *sqlx.DB
}

// NewChallengeRepository creates a new ChallengeRepository.
func NewChallengeRepository(db *sqlx.DB) *ChallengeRepository {
	return &ChallengeRepository{db: db}
}

// Create inserts a new pending challenge.
func (r *ChallengeRepository) Create(ctx context.Context, c *domain.Challenge) error {
	query := `
		INSERT INTO challenges
			(id, from_address, to_address, duration_seconds, bet_amount, status, created_at, expires_at)
		VALUES
			(:id, :from, :to, :duration, :bet, :status, :created_at, :expires_at)`
	if _, err := r.db.NamedExecContext(ctx, query, c); err != nil {
		return fmt.Errorf("challenge_repo.Create: %w", err)
	}
	return nil
}

// GetByID fetches a challenge by its primary key.
func (r *ChallengeRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Challenge, error) {
	var c domain.Challenge
	err := r.db.GetContext(ctx, &c, `SELECT * FROM challenges WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrChallengeNotFound
		}
		return nil, fmt.Errorf("challenge_repo.GetByID: %w", err)
	}
	return &c, nil
}

// GetPendingExpired returns pending challenges whose TTL has elapsed, for
// the expiry sweep loop (§4.12).
func (r *ChallengeRepository) GetPendingExpired(ctx context.Context, now time.Time) ([]*domain.Challenge, error) {
	var challenges []*domain.Challenge
	err := r.db.SelectContext(ctx, &challenges,
		`SELECT * FROM challenges WHERE status = 'pending' AND expires_at <= $1`, now)
	if err != nil {
		return nil, fmt.Errorf("challenge_repo.GetPendingExpired: %w", err)
	}
	return challenges, nil
}

// GetPendingForPlayer returns pending challenges sent to or from a player.
func (r *ChallengeRepository) GetPendingForPlayer(ctx context.Context, player string) ([]*domain.Challenge, error) {
	var challenges []*domain.Challenge
	err := r.db.SelectContext(ctx, &challenges, `
		SELECT * FROM challenges
		WHERE status = 'pending' AND (from_address = $1 OR to_address = $1)
		ORDER BY created_at DESC`,
		player)
	if err != nil {
		return nil, fmt.Errorf("challenge_repo.GetPendingForPlayer: %w", err)
	}
	return challenges, nil
}

// Accept transitions a pending challenge to matched, recording the created
// match. Only succeeds if the challenge is still pending.
func (r *ChallengeRepository) Accept(ctx context.Context, tx *sqlx.Tx, id, matchID uuid.UUID) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE challenges SET status = 'matched', match_id = $1 WHERE id = $2 AND status = 'pending'`,
		matchID, id)
	if err != nil {
		return fmt.Errorf("challenge_repo.Accept: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrChallengeNotPending
	}
	return nil
}

// Decline transitions a pending challenge to declined.
func (r *ChallengeRepository) Decline(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE challenges SET status = 'declined' WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("challenge_repo.Decline: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrChallengeNotPending
	}
	return nil
}

// ExpireBatch marks a batch of challenges as expired inside tx.
func (r *ChallengeRepository) ExpireBatch(ctx context.Context, tx *sqlx.Tx, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`UPDATE challenges SET status = 'expired' WHERE id IN (?) AND status = 'pending'`, ids)
	if err != nil {
		return fmt.Errorf("challenge_repo.ExpireBatch build: %w", err)
	}
	query = tx.Rebind(query)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("challenge_repo.ExpireBatch: %w", err)
	}
	return nil
}
