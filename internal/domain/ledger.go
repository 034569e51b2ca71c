package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// LedgerEntry
// ──────────────────────────────────────────────────────────────────────────────

// LedgerEntry is a user's platform-balance record (§3). `available` is
// always derived, never stored: total − frozen.
type LedgerEntry struct {
	Owner     string          `json:"owner"     db:"owner"`
	Total     decimal.Decimal `json:"total"     db:"total"`
	Frozen    decimal.Decimal `json:"frozen"    db:"frozen"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time       `json:"updatedAt" db:"updated_at"`
}

// Available returns total − frozen. Invariant: frozen ≤ total, so this is
// never negative for a well-formed entry.
func (l *LedgerEntry) Available() decimal.Decimal {
	return l.Total.Sub(l.Frozen)
}

// BalanceSnapshot is the API-facing {total, frozen, available} view.
type BalanceSnapshot struct {
	Total     decimal.Decimal `json:"total"`
	Frozen    decimal.Decimal `json:"frozen"`
	Available decimal.Decimal `json:"available"`
}

// ToSnapshot converts a LedgerEntry to its API view.
func (l *LedgerEntry) ToSnapshot() BalanceSnapshot {
	return BalanceSnapshot{Total: l.Total, Frozen: l.Frozen, Available: l.Available()}
}

// ──────────────────────────────────────────────────────────────────────────────
// BalanceEvent — audit log
// ──────────────────────────────────────────────────────────────────────────────

// BalanceEventType enumerates the kinds of balance-affecting events logged
// for a user, mirroring the teacher's wallet_transactions audit pattern.
type BalanceEventType string

const (
	EventDeposit    BalanceEventType = "DEPOSIT"
	EventWithdraw   BalanceEventType = "WITHDRAW"
	EventFreeze     BalanceEventType = "FREEZE"
	EventUnfreeze   BalanceEventType = "UNFREEZE"
	EventCredit     BalanceEventType = "CREDIT"
	EventDebit      BalanceEventType = "DEBIT"
	EventRake       BalanceEventType = "RAKE"
)

// PlatformRakeAccount is the sentinel ledger owner the platform's rake
// skim accrues to (§4.11 step 6, §6.1 admin/withdraw-rake). Not a real
// wallet address, so it can never collide with a player's.
const PlatformRakeAccount = "platform:rake"

// BalanceEvent is an immutable audit record for every ledger mutation.
type BalanceEvent struct {
	ID        uuid.UUID         `json:"id"        db:"id"`
	Owner     string            `json:"owner"     db:"owner"`
	Type      BalanceEventType  `json:"type"      db:"type"`
	Amount    decimal.Decimal   `json:"amount"    db:"amount"`
	Signature *string           `json:"signature,omitempty" db:"signature"`
	RefID     *string           `json:"refId,omitempty"     db:"ref_id"`
	CreatedAt time.Time         `json:"createdAt" db:"created_at"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Deposit signature / withdraw request
// ──────────────────────────────────────────────────────────────────────────────

// DepositSignature records a consumed on-chain transaction signature; a
// row's existence is the replay guard (§3 — "Each signature used at most
// once").
type DepositSignature struct {
	Signature string    `json:"signature" db:"signature"`
	Owner     string    `json:"owner"     db:"owner"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
