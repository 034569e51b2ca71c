package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/duelbackend/arena/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// LedgerRepository handles all database operations for ledger entries,
// balance events, and deposit signatures (§4.2, §4.3).
type LedgerRepository struct {
	db *sqlx.DB
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// GetByOwner fetches a user's ledger entry. Returns domain.ErrWalletNotFound
// if none exists yet; EnsureExists is what creates a zero-balance entry.
func (r *LedgerRepository) GetByOwner(ctx context.Context, owner string) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	err := r.db.GetContext(ctx, &e, `SELECT * FROM ledger_entries WHERE owner = $1`, owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, fmt.Errorf("ledger_repo.GetByOwner: %w", err)
	}
	return &e, nil
}

// EnsureExists inserts a zero-balance ledger entry for owner if one does not
// already exist. Safe to call repeatedly (ON CONFLICT DO NOTHING).
func (r *LedgerRepository) EnsureExists(ctx context.Context, owner string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ledger_entries (owner, total, frozen, created_at, updated_at)
		VALUES ($1, 0, 0, now(), now())
		ON CONFLICT (owner) DO NOTHING`, owner)
	if err != nil {
		return fmt.Errorf("ledger_repo.EnsureExists: %w", err)
	}
	return nil
}

// LockRow locks and returns the caller's ledger entry inside tx, for
// read-modify-write sequences (freeze/debit/etc., §4.2).
func (r *LedgerRepository) LockRow(ctx context.Context, tx *sqlx.Tx, owner string) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	err := tx.GetContext(ctx, &e, `SELECT * FROM ledger_entries WHERE owner = $1 FOR UPDATE`, owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, fmt.Errorf("ledger_repo.LockRow: %w", err)
	}
	return &e, nil
}

// Credit adds amount to total inside tx (deposit, win payout).
func (r *LedgerRepository) Credit(ctx context.Context, tx *sqlx.Tx, owner string, amount decimal.Decimal) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE ledger_entries SET total = total + $1, updated_at = now() WHERE owner = $2`,
		amount, owner)
	if err != nil {
		return fmt.Errorf("ledger_repo.Credit: %w", err)
	}
	return nil
}

// Debit subtracts amount from total inside tx, failing with
// ErrInsufficientBalance if available balance (total-frozen) would go
// negative. Caller must have locked the row first via LockRow.
func (r *LedgerRepository) Debit(ctx context.Context, tx *sqlx.Tx, owner string, amount decimal.Decimal) error {
	var available decimal.Decimal
	err := tx.GetContext(ctx, &available,
		`SELECT (total - frozen) FROM ledger_entries WHERE owner = $1 FOR UPDATE`, owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrWalletNotFound
		}
		return fmt.Errorf("ledger_repo.Debit lock: %w", err)
	}
	if available.LessThan(amount) {
		return domain.ErrInsufficientBalance
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE ledger_entries SET total = total - $1, updated_at = now() WHERE owner = $2`,
		amount, owner)
	if err != nil {
		return fmt.Errorf("ledger_repo.Debit update: %w", err)
	}
	return nil
}

// Freeze increments frozen by amount, failing with ErrInsufficientBalance if
// it would exceed total. Used to reserve a player's bet on match entry.
func (r *LedgerRepository) Freeze(ctx context.Context, tx *sqlx.Tx, owner string, amount decimal.Decimal) error {
	var e domain.LedgerEntry
	err := tx.GetContext(ctx, &e, `SELECT * FROM ledger_entries WHERE owner = $1 FOR UPDATE`, owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrWalletNotFound
		}
		return fmt.Errorf("ledger_repo.Freeze lock: %w", err)
	}
	if e.Available().LessThan(amount) {
		return domain.ErrInsufficientBalance
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE ledger_entries SET frozen = frozen + $1, updated_at = now() WHERE owner = $2`,
		amount, owner)
	if err != nil {
		return fmt.Errorf("ledger_repo.Freeze update: %w", err)
	}
	return nil
}

// Unfreeze decrements frozen by amount, floored at 0 (settlement releasing a
// matched bet, or queue withdrawal).
func (r *LedgerRepository) Unfreeze(ctx context.Context, tx *sqlx.Tx, owner string, amount decimal.Decimal) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE ledger_entries SET frozen = GREATEST(frozen - $1, 0), updated_at = now() WHERE owner = $2`,
		amount, owner)
	if err != nil {
		return fmt.Errorf("ledger_repo.Unfreeze: %w", err)
	}
	return nil
}

// SetFrozen overwrites frozen to an absolute value inside tx, used by
// reconcileFrozenBalance to correct drift rather than applying a delta.
// Caller must have locked the row first via LockRow.
func (r *LedgerRepository) SetFrozen(ctx context.Context, tx *sqlx.Tx, owner string, frozen decimal.Decimal) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE ledger_entries SET frozen = $1, updated_at = now() WHERE owner = $2`,
		frozen, owner)
	if err != nil {
		return fmt.Errorf("ledger_repo.SetFrozen: %w", err)
	}
	return nil
}

// LogEvent inserts an audit record into balance_events inside tx.
func (r *LedgerRepository) LogEvent(ctx context.Context, tx *sqlx.Tx, ev *domain.BalanceEvent) error {
	query := `
		INSERT INTO balance_events
			(id, owner, type, amount, signature, ref_id, created_at)
		VALUES
			(:id, :owner, :type, :amount, :signature, :ref_id, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, ev); err != nil {
		return fmt.Errorf("ledger_repo.LogEvent: %w", err)
	}
	return nil
}

// GetEvents returns paginated balance events for a user, most recent first.
func (r *LedgerRepository) GetEvents(ctx context.Context, owner string, limit, offset int) ([]*domain.BalanceEvent, error) {
	var evs []*domain.BalanceEvent
	err := r.db.SelectContext(ctx, &evs, `
		SELECT * FROM balance_events
		WHERE owner = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		owner, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ledger_repo.GetEvents: %w", err)
	}
	return evs, nil
}

// ── Deposit signature replay guard (§3, §6.4) ────────────────────────────────

// ClaimSignature inserts the signature as consumed inside tx; the unique
// constraint on signature makes double-spend a conflict rather than a
// silent duplicate credit. Returns domain.ErrSignatureUsed on conflict.
func (r *LedgerRepository) ClaimSignature(ctx context.Context, tx *sqlx.Tx, sig *domain.DepositSignature) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO deposit_signatures (signature, owner, created_at)
		VALUES ($1, $2, $3)`,
		sig.Signature, sig.Owner, sig.CreatedAt)
	if err != nil {
		if isPgUniqueViolation(err, "deposit_signatures_pkey") {
			return domain.ErrSignatureUsed
		}
		return fmt.Errorf("ledger_repo.ClaimSignature: %w", err)
	}
	return nil
}

// UnclaimSignature removes a previously claimed signature, used when the
// on-chain verification call itself fails after the signature was already
// claimed (§4.2 confirmDeposit) — a transaction that was never actually
// verified must not permanently block a retry with the same signature.
func (r *LedgerRepository) UnclaimSignature(ctx context.Context, signature string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM deposit_signatures WHERE signature = $1`, signature)
	if err != nil {
		return fmt.Errorf("ledger_repo.UnclaimSignature: %w", err)
	}
	return nil
}

// ── Admin helpers (back-office, §6.1) ─────────────────────────────────────────

// AdminAdjustBalance applies a signed decimal adjustment to a user's total
// directly (positive = credit, negative = debit). Used only by back-office.
func (r *LedgerRepository) AdminAdjustBalance(ctx context.Context, owner string, amount decimal.Decimal) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE ledger_entries SET total = total + $1, updated_at = now() WHERE owner = $2`,
		amount, owner)
	if err != nil {
		return fmt.Errorf("ledger_repo.AdminAdjustBalance: %w", err)
	}
	return nil
}

// LogEventDirect writes an audit record outside of a transaction (admin
// adjustments that run without an explicit tx).
func (r *LedgerRepository) LogEventDirect(ctx context.Context, ev *domain.BalanceEvent) error {
	query := `
		INSERT INTO balance_events
			(id, owner, type, amount, signature, ref_id, created_at)
		VALUES
			(:id, :owner, :type, :amount, :signature, :ref_id, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, ev); err != nil {
		return fmt.Errorf("ledger_repo.LogEventDirect: %w", err)
	}
	return nil
}

// ListAll returns every ledger entry, for the back-office balances view.
func (r *LedgerRepository) ListAll(ctx context.Context, limit, offset int) ([]*domain.LedgerEntry, error) {
	var entries []*domain.LedgerEntry
	err := r.db.SelectContext(ctx, &entries, `
		SELECT * FROM ledger_entries
		ORDER BY updated_at DESC
		LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ledger_repo.ListAll: %w", err)
	}
	return entries, nil
}
