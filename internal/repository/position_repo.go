package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/duelbackend/arena/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// PositionRepository handles all database operations for Positions (§4.4).
type PositionRepository struct {
	db *sqlx.DB
}

// NewPositionRepository creates a new PositionRepository.
func NewPositionRepository(db *sqlx.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// Create inserts a new open position inside an existing transaction.
func (r *PositionRepository) Create(ctx context.Context, tx *sqlx.Tx, p *domain.Position) error {
	query := `
		INSERT INTO positions
			(id, match_id, player_address, asset_symbol, is_long, entry_price,
			 size, leverage, sl, tp, opened_at)
		VALUES
			(:id, :match_id, :player_address, :asset_symbol, :is_long, :entry_price,
			 :size, :leverage, :sl, :tp, :opened_at)`
	if _, err := tx.NamedExecContext(ctx, query, p); err != nil {
		return fmt.Errorf("position_repo.Create: %w", err)
	}
	return nil
}

// GetByID fetches a position by its client-supplied idempotency key.
func (r *PositionRepository) GetByID(ctx context.Context, id string) (*domain.Position, error) {
	var p domain.Position
	err := r.db.GetContext(ctx, &p, `SELECT * FROM positions WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPositionNotFound
		}
		return nil, fmt.Errorf("position_repo.GetByID: %w", err)
	}
	return &p, nil
}

// GetOpenByMatch returns every open position belonging to a match, across
// both players — used by the tick loop to evaluate SL/TP/liquidation (§4.8).
func (r *PositionRepository) GetOpenByMatch(ctx context.Context, matchID uuid.UUID) ([]*domain.Position, error) {
	var positions []*domain.Position
	err := r.db.SelectContext(ctx, &positions,
		`SELECT * FROM positions WHERE match_id = $1 AND closed_at IS NULL ORDER BY opened_at ASC`,
		matchID)
	if err != nil {
		return nil, fmt.Errorf("position_repo.GetOpenByMatch: %w", err)
	}
	return positions, nil
}

// GetOpenByPlayer returns a player's open positions within one match.
func (r *PositionRepository) GetOpenByPlayer(ctx context.Context, matchID uuid.UUID, player string) ([]*domain.Position, error) {
	var positions []*domain.Position
	err := r.db.SelectContext(ctx, &positions,
		`SELECT * FROM positions WHERE match_id = $1 AND player_address = $2 AND closed_at IS NULL ORDER BY opened_at ASC`,
		matchID, player)
	if err != nil {
		return nil, fmt.Errorf("position_repo.GetOpenByPlayer: %w", err)
	}
	return positions, nil
}

// GetAllByMatch returns every position (open and closed) for a match,
// across both players — used by settlement to sum realized + to-be-realized
// PnL once every position has been closed at the frozen price.
func (r *PositionRepository) GetAllByMatch(ctx context.Context, matchID uuid.UUID) ([]*domain.Position, error) {
	var positions []*domain.Position
	err := r.db.SelectContext(ctx, &positions,
		`SELECT * FROM positions WHERE match_id = $1 ORDER BY opened_at ASC`,
		matchID)
	if err != nil {
		return nil, fmt.Errorf("position_repo.GetAllByMatch: %w", err)
	}
	return positions, nil
}

// History returns a player's closed positions across all matches, paginated.
func (r *PositionRepository) History(ctx context.Context, player string, limit, offset int) ([]*domain.Position, error) {
	var positions []*domain.Position
	err := r.db.SelectContext(ctx, &positions, `
		SELECT * FROM positions
		WHERE player_address = $1 AND closed_at IS NOT NULL
		ORDER BY closed_at DESC
		LIMIT $2 OFFSET $3`,
		player, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("position_repo.History: %w", err)
	}
	return positions, nil
}

// Close persists the closed state of a position computed by domain.Position.Close
// or PartialClose. Only updates rows that are still open (closed_at IS NULL),
// making the write itself idempotent against a concurrent duplicate close.
func (r *PositionRepository) Close(ctx context.Context, tx *sqlx.Tx, p *domain.Position) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE positions
		SET exit_price = $1, pnl = $2, closed_at = $3, close_reason = $4
		WHERE id = $5 AND closed_at IS NULL`,
		p.ExitPrice, p.Pnl, p.ClosedAt, p.CloseReason, p.ID)
	if err != nil {
		return fmt.Errorf("position_repo.Close: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrPositionNotOpen
	}
	return nil
}

// ShrinkSize persists a reduced size after a partial close, inside the same
// transaction that inserts the new split-off closed position.
func (r *PositionRepository) ShrinkSize(ctx context.Context, tx *sqlx.Tx, id string, newSize interface{}) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE positions SET size = $1 WHERE id = $2 AND closed_at IS NULL`,
		newSize, id)
	if err != nil {
		return fmt.Errorf("position_repo.ShrinkSize: %w", err)
	}
	return nil
}

// SetSLTP updates a position's stop-loss/take-profit triggers.
func (r *PositionRepository) SetSLTP(ctx context.Context, id string, sl, tp interface{}) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE positions SET sl = $1, tp = $2 WHERE id = $3 AND closed_at IS NULL`,
		sl, tp, id)
	if err != nil {
		return fmt.Errorf("position_repo.SetSLTP: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrPositionNotOpen
	}
	return nil
}

// List returns a paginated slice of positions, optionally filtered by match
// (back-office surface).
func (r *PositionRepository) List(ctx context.Context, limit, offset int, matchID *uuid.UUID) ([]*domain.Position, int, error) {
	var positions []*domain.Position
	var total int
	if matchID != nil {
		if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM positions WHERE match_id = $1`, *matchID); err != nil {
			return nil, 0, fmt.Errorf("position_repo.List count: %w", err)
		}
		if err := r.db.SelectContext(ctx, &positions,
			`SELECT * FROM positions WHERE match_id = $1 ORDER BY opened_at DESC LIMIT $2 OFFSET $3`,
			*matchID, limit, offset); err != nil {
			return nil, 0, fmt.Errorf("position_repo.List select: %w", err)
		}
		return positions, total, nil
	}
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM positions`); err != nil {
		return nil, 0, fmt.Errorf("position_repo.List count: %w", err)
	}
	if err := r.db.SelectContext(ctx, &positions,
		`SELECT * FROM positions ORDER BY opened_at DESC LIMIT $1 OFFSET $2`, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("position_repo.List select: %w", err)
	}
	return positions, total, nil
}
