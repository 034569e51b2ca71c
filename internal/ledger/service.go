// Package ledger implements the platform balance ledger (§4.2): deposit
// confirmation, freeze/unfreeze for match entry, credit/debit for payouts,
// and withdrawal processing, all backed by Postgres row locking.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/duelbackend/arena/internal/config"
	"github.com/duelbackend/arena/internal/domain"
	"github.com/duelbackend/arena/internal/onchain"
	"github.com/duelbackend/arena/internal/repository"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// Service orchestrates all ledger-balance mutations. Every mutation that
// touches total/frozen happens inside a single Postgres transaction with the
// row locked, mirroring the teacher's wallet_repo.go pattern.
type Service struct {
	db      *sqlx.DB
	repo    *repository.LedgerRepository
	matches *repository.MatchRepository
	queue   *repository.QueueRepository
	chain   onchain.Client
	cfg     *config.Config
}

// New creates a ledger Service. matches and queue are consulted by
// ReconcileFrozenBalance; chain is consulted by ConfirmDeposit and
// ProcessWithdrawal.
func New(db *sqlx.DB, repo *repository.LedgerRepository, matches *repository.MatchRepository, queue *repository.QueueRepository, chain onchain.Client, cfg *config.Config) *Service {
	return &Service{db: db, repo: repo, matches: matches, queue: queue, chain: chain, cfg: cfg}
}

// GetBalance returns the caller's current {total, frozen, available} view,
// creating a zero-balance ledger entry on first access.
func (s *Service) GetBalance(ctx context.Context, owner string) (domain.BalanceSnapshot, error) {
	if err := s.repo.EnsureExists(ctx, owner); err != nil {
		return domain.BalanceSnapshot{}, err
	}
	entry, err := s.repo.GetByOwner(ctx, owner)
	if err != nil {
		return domain.BalanceSnapshot{}, err
	}
	return entry.ToSnapshot(), nil
}

// ConfirmDeposit verifies a claimed on-chain deposit and credits it to
// owner's balance (§4.2). The signature is claimed atomically first
// (domain.ErrSignatureUsed on replay, so retried client/poll deliveries
// never double-credit), then the transaction is looked up on-chain and
// validated: recipient must be the platform vault, sender must be owner,
// mint must be USDC, amount must be positive. If the on-chain lookup itself
// fails or the transaction fails validation, the claim is released so the
// same signature can be retried; once validated, the signature is
// permanently consumed even if the credit step below fails.
func (s *Service) ConfirmDeposit(ctx context.Context, owner, signature string) (domain.BalanceSnapshot, error) {
	if err := s.repo.EnsureExists(ctx, owner); err != nil {
		return domain.BalanceSnapshot{}, err
	}

	now := time.Now().UTC()
	claimTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.BalanceSnapshot{}, fmt.Errorf("ledger.ConfirmDeposit: begin claim tx: %w", err)
	}
	sig := &domain.DepositSignature{Signature: signature, Owner: owner, CreatedAt: now}
	if err = s.repo.ClaimSignature(ctx, claimTx, sig); err != nil {
		_ = claimTx.Rollback()
		return domain.BalanceSnapshot{}, fmt.Errorf("ledger.ConfirmDeposit: claim signature: %w", err)
	}
	if err = claimTx.Commit(); err != nil {
		return domain.BalanceSnapshot{}, fmt.Errorf("ledger.ConfirmDeposit: commit claim: %w", err)
	}

	info, err := s.chain.VerifyDeposit(ctx, signature, owner)
	if err != nil {
		_ = s.repo.UnclaimSignature(ctx, signature)
		if errors.Is(err, onchain.ErrUnavailable) {
			return domain.BalanceSnapshot{}, domain.ErrOnChainUnavailable
		}
		return domain.BalanceSnapshot{}, fmt.Errorf("ledger.ConfirmDeposit: verify: %w", err)
	}
	if !s.depositValid(info, owner) {
		_ = s.repo.UnclaimSignature(ctx, signature)
		return domain.BalanceSnapshot{}, domain.ErrSignatureInvalid
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.BalanceSnapshot{}, fmt.Errorf("ledger.ConfirmDeposit: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.repo.Credit(ctx, tx, owner, info.Amount); err != nil {
		return domain.BalanceSnapshot{}, fmt.Errorf("ledger.ConfirmDeposit: credit: %w", err)
	}

	sigCopy := signature
	ev := &domain.BalanceEvent{
		ID:        uuid.New(),
		Owner:     owner,
		Type:      domain.EventDeposit,
		Amount:    info.Amount,
		Signature: &sigCopy,
		CreatedAt: now,
	}
	if err = s.repo.LogEvent(ctx, tx, ev); err != nil {
		return domain.BalanceSnapshot{}, fmt.Errorf("ledger.ConfirmDeposit: log event: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return domain.BalanceSnapshot{}, fmt.Errorf("ledger.ConfirmDeposit: commit: %w", err)
	}

	entry, err := s.repo.GetByOwner(ctx, owner)
	if err != nil {
		return domain.BalanceSnapshot{}, err
	}
	return entry.ToSnapshot(), nil
}

func (s *Service) depositValid(info onchain.DepositInfo, owner string) bool {
	return strings.EqualFold(info.Recipient, s.cfg.OnChain.VaultAddress) &&
		strings.EqualFold(info.Sender, owner) &&
		strings.EqualFold(info.Mint, s.cfg.OnChain.USDCMint) &&
		info.Amount.IsPositive()
}

// Freeze reserves amount against owner's available balance for a pending
// match entry (§4.6 queue admission), logging a FREEZE event. refID is the
// match or queue identifier the freeze is tied to.
func (s *Service) Freeze(ctx context.Context, owner string, amount decimal.Decimal, refID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger.Freeze: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.repo.Freeze(ctx, tx, owner, amount); err != nil {
		return fmt.Errorf("ledger.Freeze: %w", err)
	}
	if err = s.logEvent(ctx, tx, owner, domain.EventFreeze, amount, refID); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("ledger.Freeze: commit: %w", err)
	}
	return nil
}

// Unfreeze releases a previously frozen amount back to the owner's
// available balance (match settlement, queue withdrawal, forfeit refund).
func (s *Service) Unfreeze(ctx context.Context, owner string, amount decimal.Decimal, refID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger.Unfreeze: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.repo.Unfreeze(ctx, tx, owner, amount); err != nil {
		return fmt.Errorf("ledger.Unfreeze: %w", err)
	}
	if err = s.logEvent(ctx, tx, owner, domain.EventUnfreeze, amount, refID); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("ledger.Unfreeze: commit: %w", err)
	}
	return nil
}

// SettleMatch releases both players' frozen bets and credits the net payout
// in a single transaction (§4.11 step 5): the loser's frozen stake is
// debited from total, the winner's is unfrozen and the loser's stake
// credited on top, minus the platform rake which accrues to
// domain.PlatformRakeAccount. Call with winner="" for a tie (both sides
// simply unfrozen, no transfer, no rake).
func (s *Service) SettleMatch(ctx context.Context, tx *sqlx.Tx, player1, player2 string, bet decimal.Decimal, winner string, matchID uuid.UUID) error {
	refID := matchID.String()
	now := time.Now().UTC()

	if winner == "" {
		if err := s.repo.Unfreeze(ctx, tx, player1, bet); err != nil {
			return fmt.Errorf("ledger.SettleMatch: unfreeze p1: %w", err)
		}
		if err := s.repo.Unfreeze(ctx, tx, player2, bet); err != nil {
			return fmt.Errorf("ledger.SettleMatch: unfreeze p2: %w", err)
		}
		return s.logTieEvents(ctx, tx, player1, player2, bet, refID, now)
	}

	loser := player2
	if winner == player2 {
		loser = player1
	}

	rake := bet.Mul(decimal.NewFromFloat(s.cfg.Ledger.RakeFraction)).Round(8)
	winnerNet := bet.Sub(rake)

	if err := s.repo.Unfreeze(ctx, tx, winner, bet); err != nil {
		return fmt.Errorf("ledger.SettleMatch: unfreeze winner: %w", err)
	}
	if err := s.repo.Unfreeze(ctx, tx, loser, bet); err != nil {
		return fmt.Errorf("ledger.SettleMatch: unfreeze loser: %w", err)
	}
	if err := s.repo.Debit(ctx, tx, loser, bet); err != nil {
		return fmt.Errorf("ledger.SettleMatch: debit loser: %w", err)
	}
	if err := s.repo.Credit(ctx, tx, winner, winnerNet); err != nil {
		return fmt.Errorf("ledger.SettleMatch: credit winner: %w", err)
	}

	if err := s.logEvent(ctx, tx, winner, domain.EventCredit, winnerNet, refID); err != nil {
		return err
	}
	if err := s.logEvent(ctx, tx, loser, domain.EventDebit, bet, refID); err != nil {
		return err
	}

	if rake.IsPositive() {
		if err := s.repo.EnsureExists(ctx, domain.PlatformRakeAccount); err != nil {
			return fmt.Errorf("ledger.SettleMatch: ensure rake account: %w", err)
		}
		if err := s.repo.Credit(ctx, tx, domain.PlatformRakeAccount, rake); err != nil {
			return fmt.Errorf("ledger.SettleMatch: credit rake: %w", err)
		}
		if err := s.logEvent(ctx, tx, domain.PlatformRakeAccount, domain.EventRake, rake, refID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) logTieEvents(ctx context.Context, tx *sqlx.Tx, p1, p2 string, bet decimal.Decimal, refID string, now time.Time) error {
	for _, owner := range []string{p1, p2} {
		ev := &domain.BalanceEvent{ID: uuid.New(), Owner: owner, Type: domain.EventUnfreeze, Amount: bet, RefID: &refID, CreatedAt: now}
		if err := s.repo.LogEvent(ctx, tx, ev); err != nil {
			return fmt.Errorf("ledger.logTieEvents: %w", err)
		}
	}
	return nil
}

// ProcessWithdrawal debits amount from owner's available balance after
// checking the configured minimum and daily cap, then submits the matching
// on-chain USDC transfer (§4.2). If the transfer fails, the debit is
// refunded and the error surfaced — a withdrawal either debits once and
// sends once, or not at all (§8).
func (s *Service) ProcessWithdrawal(ctx context.Context, owner string, amount decimal.Decimal) (string, error) {
	minWithdraw := decimal.NewFromFloat(s.cfg.Ledger.MinWithdraw)
	if amount.LessThan(minWithdraw) {
		return "", domain.ErrWithdrawTooSmall
	}

	dailyTotal, err := s.dailyWithdrawTotal(ctx, owner)
	if err != nil {
		return "", err
	}
	maxDaily := decimal.NewFromFloat(s.cfg.Ledger.MaxDailyWithdraw)
	if dailyTotal.Add(amount).GreaterThan(maxDaily) {
		return "", domain.ErrWithdrawLimitReached
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("ledger.ProcessWithdrawal: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.repo.Debit(ctx, tx, owner, amount); err != nil {
		return "", fmt.Errorf("ledger.ProcessWithdrawal: debit: %w", err)
	}
	if err = s.logEvent(ctx, tx, owner, domain.EventWithdraw, amount, ""); err != nil {
		return "", err
	}
	if err = tx.Commit(); err != nil {
		return "", fmt.Errorf("ledger.ProcessWithdrawal: commit: %w", err)
	}

	result, xferErr := s.chain.Transfer(ctx, owner, amount)
	if xferErr != nil {
		if refundErr := s.refund(ctx, owner, amount); refundErr != nil {
			return "", fmt.Errorf("ledger.ProcessWithdrawal: transfer failed (%v) and refund failed: %w", xferErr, refundErr)
		}
		if errors.Is(xferErr, onchain.ErrUnavailable) {
			return "", domain.ErrOnChainUnavailable
		}
		return "", fmt.Errorf("ledger.ProcessWithdrawal: transfer: %w", xferErr)
	}
	return result.TxSignature, nil
}

// refund reverses a reserved withdrawal debit after the on-chain transfer
// failed, in its own transaction since the debit was already committed.
func (s *Service) refund(ctx context.Context, owner string, amount decimal.Decimal) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger.refund: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = s.repo.Credit(ctx, tx, owner, amount); err != nil {
		return fmt.Errorf("ledger.refund: credit: %w", err)
	}
	if err = s.logEvent(ctx, tx, owner, domain.EventCredit, amount, "withdrawal-refund"); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("ledger.refund: commit: %w", err)
	}
	return nil
}

// ReconcileFrozenBalance recomputes owner's frozen total from the live set
// of active matches and queue entries and writes it back, correcting any
// drift left by a crash between a freeze and its matching unfreeze or
// settlement. Called on every WS connection (§4.10).
func (s *Service) ReconcileFrozenBalance(ctx context.Context, owner string) (domain.BalanceSnapshot, error) {
	if err := s.repo.EnsureExists(ctx, owner); err != nil {
		return domain.BalanceSnapshot{}, err
	}

	matchFrozen, err := s.matches.SumActiveBetsByPlayer(ctx, owner)
	if err != nil {
		return domain.BalanceSnapshot{}, fmt.Errorf("ledger.ReconcileFrozenBalance: matches: %w", err)
	}
	queueFrozen, err := s.queue.SumBetsByPlayer(ctx, owner)
	if err != nil {
		return domain.BalanceSnapshot{}, fmt.Errorf("ledger.ReconcileFrozenBalance: queue: %w", err)
	}
	want := matchFrozen.Add(queueFrozen)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.BalanceSnapshot{}, fmt.Errorf("ledger.ReconcileFrozenBalance: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = s.repo.LockRow(ctx, tx, owner); err != nil {
		return domain.BalanceSnapshot{}, fmt.Errorf("ledger.ReconcileFrozenBalance: lock row: %w", err)
	}
	if err = s.repo.SetFrozen(ctx, tx, owner, want); err != nil {
		return domain.BalanceSnapshot{}, fmt.Errorf("ledger.ReconcileFrozenBalance: set frozen: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return domain.BalanceSnapshot{}, fmt.Errorf("ledger.ReconcileFrozenBalance: commit: %w", err)
	}

	entry, err := s.repo.GetByOwner(ctx, owner)
	if err != nil {
		return domain.BalanceSnapshot{}, err
	}
	return entry.ToSnapshot(), nil
}

// dailyWithdrawTotal sums today's withdraw events for owner.
func (s *Service) dailyWithdrawTotal(ctx context.Context, owner string) (decimal.Decimal, error) {
	events, err := s.repo.GetEvents(ctx, owner, 1000, 0)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger.dailyWithdrawTotal: %w", err)
	}
	startOfDay := time.Now().UTC().Truncate(24 * time.Hour)
	total := decimal.Zero
	for _, ev := range events {
		if ev.Type == domain.EventWithdraw && ev.CreatedAt.After(startOfDay) {
			total = total.Add(ev.Amount)
		}
	}
	return total, nil
}

// History returns a user's paginated balance-event audit log.
func (s *Service) History(ctx context.Context, owner string, limit, offset int) ([]*domain.BalanceEvent, error) {
	return s.repo.GetEvents(ctx, owner, limit, offset)
}

// AdminAdjust applies a signed adjustment directly to a user's total,
// outside of the normal freeze/credit/debit flow. Back-office only.
func (s *Service) AdminAdjust(ctx context.Context, owner string, amount decimal.Decimal) error {
	if err := s.repo.EnsureExists(ctx, owner); err != nil {
		return err
	}
	if err := s.repo.AdminAdjustBalance(ctx, owner, amount); err != nil {
		return err
	}
	evType := domain.EventCredit
	if amount.IsNegative() {
		evType = domain.EventDebit
	}
	ev := &domain.BalanceEvent{ID: uuid.New(), Owner: owner, Type: evType, Amount: amount.Abs(), CreatedAt: time.Now().UTC()}
	return s.repo.LogEventDirect(ctx, ev)
}

func (s *Service) logEvent(ctx context.Context, tx *sqlx.Tx, owner string, evType domain.BalanceEventType, amount decimal.Decimal, refID string) error {
	ev := &domain.BalanceEvent{ID: uuid.New(), Owner: owner, Type: evType, Amount: amount, CreatedAt: time.Now().UTC()}
	if refID != "" {
		ev.RefID = &refID
	}
	if err := s.repo.LogEvent(ctx, tx, ev); err != nil {
		return fmt.Errorf("ledger.logEvent(%s): %w", evType, err)
	}
	return nil
}
