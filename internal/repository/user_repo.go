package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/duelbackend/arena/internal/domain"
	"github.com/jmoiron/sqlx"
)

// UserRepository handles all database operations for Users, keyed by their
// on-chain wallet address rather than a surrogate id (§3).
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetOrCreate fetches the user row for address, inserting a fresh zero-stat
// row on first sight (lazy account creation, §3, §4.10 auth handshake).
func (r *UserRepository) GetOrCreate(ctx context.Context, address string) (*domain.User, error) {
	u, err := r.GetByAddress(ctx, address)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, domain.ErrWalletNotFound) {
		return nil, err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO users (address, gamer_tag, created_at, updated_at)
		VALUES ($1, $2, now(), now())
		ON CONFLICT (address) DO NOTHING`,
		address, defaultGamerTag(address))
	if err != nil {
		return nil, fmt.Errorf("user_repo.GetOrCreate insert: %w", err)
	}
	return r.GetByAddress(ctx, address)
}

// GetByAddress fetches a user by wallet address. Returns
// domain.ErrWalletNotFound (reused as the user-not-found sentinel, since a
// user and its ledger entry share the same owner key) if no row exists.
func (r *UserRepository) GetByAddress(ctx context.Context, address string) (*domain.User, error) {
	var u domain.User
	err := r.db.GetContext(ctx, &u, `SELECT * FROM users WHERE address = $1`, address)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, fmt.Errorf("user_repo.GetByAddress: %w", err)
	}
	return &u, nil
}

// SetGamerTag updates a user's display name (§4.10 SetGamerTag command).
func (r *UserRepository) SetGamerTag(ctx context.Context, address, gamerTag string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET gamer_tag = $1, updated_at = now() WHERE address = $2`,
		gamerTag, address)
	if err != nil {
		return fmt.Errorf("user_repo.SetGamerTag: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrWalletNotFound
	}
	return nil
}

// RecordResult persists the updated running stats for a settled match
// (§4.11 settlement step 6). Callers mutate the in-memory User via
// domain.User.RecordResult first, then pass the result here.
func (r *UserRepository) RecordResult(ctx context.Context, tx *sqlx.Tx, u *domain.User) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE users SET
			wins = $1, losses = $2, ties = $3, total_pnl = $4,
			games_played = $5, current_streak = $6, best_streak = $7,
			updated_at = now()
		WHERE address = $8`,
		u.Wins, u.Losses, u.Ties, u.TotalPnl,
		u.GamesPlayed, u.CurrentStreak, u.BestStreak, u.Address)
	if err != nil {
		return fmt.Errorf("user_repo.RecordResult: %w", err)
	}
	return nil
}

// Leaderboard returns the top users ordered by total PnL descending, for the
// leaderboard read model (§4.3).
func (r *UserRepository) Leaderboard(ctx context.Context, limit int) ([]*domain.User, error) {
	var users []*domain.User
	err := r.db.SelectContext(ctx, &users,
		`SELECT * FROM users ORDER BY total_pnl DESC, games_played DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("user_repo.Leaderboard: %w", err)
	}
	return users, nil
}

// List returns a paginated list of all users, for the back-office surface.
func (r *UserRepository) List(ctx context.Context, limit, offset int) ([]*domain.User, int, error) {
	var users []*domain.User
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM users`); err != nil {
		return nil, 0, fmt.Errorf("user_repo.List count: %w", err)
	}
	if err := r.db.SelectContext(ctx, &users,
		`SELECT * FROM users ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("user_repo.List select: %w", err)
	}
	return users, total, nil
}

// defaultGamerTag derives a placeholder display name from an address's
// first six characters, used until the player sets one explicitly.
func defaultGamerTag(address string) string {
	if len(address) <= 6 {
		return address
	}
	return address[:6]
}

// isPgUniqueViolation checks whether err is a PostgreSQL unique constraint
// violation for the given constraint name.
func isPgUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	return contains(err.Error(), "unique constraint") &&
		contains(err.Error(), constraintName)
}

func contains(s, sub string) bool {
	return len(s) >= len(sub) && containsStr(s, sub)
}

func containsStr(s, sub string) bool {
	for i := 0; i <= len(s)-len(sub); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
