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

// MatchRepository handles all database operations for Matches (§4.7).
type MatchRepository struct {
	db *sqlx.DB
}

// NewMatchRepository creates a new MatchRepository.
func NewMatchRepository(db *sqlx.DB) *MatchRepository {
	return &MatchRepository{db: db}
}

// Create inserts a new match row in awaiting_deposits status.
func (r *MatchRepository) Create(ctx context.Context, m *domain.Match) error {
	query := `
		INSERT INTO matches
			(id, player1, player2, duration_seconds, bet_amount, status,
			 start_time, end_time, deposit_deadline, onchain_game_id,
			 onchain_settled, onchain_retries, created_at)
		VALUES
			(:id, :player1, :player2, :duration_seconds, :bet_amount, :status,
			 :start_time, :end_time, :deposit_deadline, :onchain_game_id,
			 :onchain_settled, :onchain_retries, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, m); err != nil {
		return fmt.Errorf("match_repo.Create: %w", err)
	}
	return nil
}

// GetByID fetches a match by its primary key.
func (r *MatchRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Match, error) {
	var m domain.Match
	err := r.db.GetContext(ctx, &m, `SELECT * FROM matches WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMatchNotFound
		}
		return nil, fmt.Errorf("match_repo.GetByID: %w", err)
	}
	return &m, nil
}

// GetActive returns all matches currently in the awaiting_deposits or active
// status, used to rehydrate the in-memory match registry on process start
// (§4.8); Rehydrate keeps only the active ones.
func (r *MatchRepository) GetActive(ctx context.Context) ([]*domain.Match, error) {
	var matches []*domain.Match
	err := r.db.SelectContext(ctx, &matches,
		`SELECT * FROM matches WHERE status IN ('awaiting_deposits','active') ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("match_repo.GetActive: %w", err)
	}
	return matches, nil
}

// GetExpiredActive returns active matches whose end_time has passed and are
// due for settlement (§4.11).
func (r *MatchRepository) GetExpiredActive(ctx context.Context, now time.Time) ([]*domain.Match, error) {
	var matches []*domain.Match
	err := r.db.SelectContext(ctx, &matches,
		`SELECT * FROM matches WHERE status = 'active' AND end_time <= $1 ORDER BY end_time ASC`,
		now)
	if err != nil {
		return nil, fmt.Errorf("match_repo.GetExpiredActive: %w", err)
	}
	return matches, nil
}

// GetExpiredDeposits returns matches still awaiting_deposits whose deposit
// deadline has passed, due for forfeit/cancellation (§4.9).
func (r *MatchRepository) GetExpiredDeposits(ctx context.Context, now time.Time) ([]*domain.Match, error) {
	var matches []*domain.Match
	err := r.db.SelectContext(ctx, &matches,
		`SELECT * FROM matches WHERE status = 'awaiting_deposits' AND deposit_deadline <= $1 ORDER BY deposit_deadline ASC`,
		now)
	if err != nil {
		return nil, fmt.Errorf("match_repo.GetExpiredDeposits: %w", err)
	}
	return matches, nil
}

// GetUnsettledOnChain returns completed/tied/forfeited matches that have not
// yet been confirmed settled on-chain, for the settlement-retry loop (§4.12).
func (r *MatchRepository) GetUnsettledOnChain(ctx context.Context, maxRetries int) ([]*domain.Match, error) {
	var matches []*domain.Match
	err := r.db.SelectContext(ctx, &matches, `
		SELECT * FROM matches
		WHERE status IN ('completed','tied','forfeited')
		  AND onchain_settled = false
		  AND onchain_retries < $1
		ORDER BY settled_at ASC`,
		maxRetries)
	if err != nil {
		return nil, fmt.Errorf("match_repo.GetUnsettledOnChain: %w", err)
	}
	return matches, nil
}

// SumActiveBetsByPlayer sums the bet_amount of every awaiting_deposits/active
// match involving player, used by reconcileFrozenBalance to recompute the
// match side of a player's frozen total (§4.2).
func (r *MatchRepository) SumActiveBetsByPlayer(ctx context.Context, player string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.db.GetContext(ctx, &total, `
		SELECT COALESCE(SUM(bet_amount), 0) FROM matches
		WHERE (player1 = $1 OR player2 = $1)
		  AND status IN ('awaiting_deposits','active')`, player)
	if err != nil {
		return decimal.Zero, fmt.Errorf("match_repo.SumActiveBetsByPlayer: %w", err)
	}
	return total, nil
}

// Activate transitions a match from awaiting_deposits to active once both
// players have deposited, setting start_time/end_time.
func (r *MatchRepository) Activate(ctx context.Context, id uuid.UUID, start, end time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE matches
		SET status = 'active', start_time = $1, end_time = $2
		WHERE id = $3 AND status = 'awaiting_deposits'`,
		start, end, id)
	if err != nil {
		return fmt.Errorf("match_repo.Activate: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

// Settle transitions an active match to its terminal status with the
// computed winner/ROIs (§4.11 step 5). status must be one of completed,
// tied, or forfeited.
func (r *MatchRepository) Settle(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, status domain.MatchStatus, winner *string, p1Roi, p2Roi decimal.Decimal, now time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE matches
		SET status = $1, winner = $2, player1_roi = $3, player2_roi = $4, settled_at = $5
		WHERE id = $6 AND status = 'active'`,
		string(status), winner, p1Roi, p2Roi, now, id)
	if err != nil {
		return fmt.Errorf("match_repo.Settle: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

// Cancel marks an awaiting_deposits match as cancelled (the counterparty
// never deposited in time).
func (r *MatchRepository) Cancel(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE matches SET status = 'cancelled'
		WHERE id = $1 AND status = 'awaiting_deposits'`,
		id)
	if err != nil {
		return fmt.Errorf("match_repo.Cancel: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

// MarkOnChainSettled records a successful on-chain settlement confirmation.
func (r *MatchRepository) MarkOnChainSettled(ctx context.Context, id uuid.UUID, gameID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE matches SET onchain_settled = true, onchain_game_id = $1 WHERE id = $2`,
		gameID, id)
	if err != nil {
		return fmt.Errorf("match_repo.MarkOnChainSettled: %w", err)
	}
	return nil
}

// IncrementOnChainRetries bumps the retry counter after a failed settlement
// attempt (§4.12).
func (r *MatchRepository) IncrementOnChainRetries(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE matches SET onchain_retries = onchain_retries + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("match_repo.IncrementOnChainRetries: %w", err)
	}
	return nil
}

// History returns a player's completed matches, most recent first.
func (r *MatchRepository) History(ctx context.Context, player string, limit, offset int) ([]*domain.Match, error) {
	var matches []*domain.Match
	err := r.db.SelectContext(ctx, &matches, `
		SELECT * FROM matches
		WHERE (player1 = $1 OR player2 = $1)
		  AND status IN ('completed','tied','forfeited')
		ORDER BY settled_at DESC
		LIMIT $2 OFFSET $3`,
		player, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("match_repo.History: %w", err)
	}
	return matches, nil
}

// List returns a paginated slice of matches, optionally filtered by status
// (back-office surface, §6.1). status="" returns all statuses.
func (r *MatchRepository) List(ctx context.Context, limit, offset int, status string) ([]*domain.Match, int, error) {
	var matches []*domain.Match
	var total int
	if status != "" {
		if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM matches WHERE status = $1`, status); err != nil {
			return nil, 0, fmt.Errorf("match_repo.List count: %w", err)
		}
		if err := r.db.SelectContext(ctx, &matches,
			`SELECT * FROM matches WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
			status, limit, offset); err != nil {
			return nil, 0, fmt.Errorf("match_repo.List select: %w", err)
		}
		return matches, total, nil
	}
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM matches`); err != nil {
		return nil, 0, fmt.Errorf("match_repo.List count: %w", err)
	}
	if err := r.db.SelectContext(ctx, &matches,
		`SELECT * FROM matches ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("match_repo.List select: %w", err)
	}
	return matches, total, nil
}
