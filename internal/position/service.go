// Package position implements the leveraged position engine (§4.4-4.5):
// opening, closing, and partially closing positions against a live price
// snapshot, serialized per-position by Closer.
package position

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/duelbackend/arena/internal/config"
	"github.com/duelbackend/arena/internal/domain"
	"github.com/duelbackend/arena/internal/repository"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// PriceSource is the subset of the price oracle the position engine needs.
// Declared locally to avoid an import cycle with internal/priceoracle.
type PriceSource interface {
	GetSnapshot(ctx context.Context) (domain.PriceSnapshot, error)
}

// Service opens, closes, and partially closes positions.
type Service struct {
	db     *sqlx.DB
	repo   *repository.PositionRepository
	prices PriceSource
	closer *Closer
	cfg    *config.Config
}

// New creates a position Service.
func New(db *sqlx.DB, repo *repository.PositionRepository, prices PriceSource, closer *Closer, cfg *config.Config) *Service {
	return &Service{db: db, repo: repo, prices: prices, closer: closer, cfg: cfg}
}

// Open validates and persists a new position at the current snapshot price.
// The caller (Match Controller) has already verified match/player validity;
// this validates only position-local invariants (leverage bound, SL/TP
// direction, price freshness) plus the per-match open-position cap.
func (s *Service) Open(ctx context.Context, p *domain.Position) (*domain.Position, error) {
	if !domain.IsValidPositionID(p.ID) {
		return nil, domain.ErrInvalidPositionID
	}

	if existing, err := s.repo.GetByID(ctx, p.ID); err == nil {
		if existing.MatchID == p.MatchID && existing.PlayerAddress == p.PlayerAddress {
			return existing, nil
		}
		return nil, domain.ErrPositionIDConflict
	} else if !errors.Is(err, domain.ErrPositionNotFound) {
		return nil, fmt.Errorf("position.Open: idempotency check: %w", err)
	}

	if p.Leverage < 1 || p.Leverage > s.cfg.Match.MaxLeverage {
		return nil, domain.ErrInvalidLeverage
	}
	if p.Size.LessThanOrEqual(decimal.Zero) {
		return nil, domain.ErrInvalidSize
	}

	open, err := s.repo.GetOpenByPlayer(ctx, p.MatchID, p.PlayerAddress)
	if err != nil {
		return nil, fmt.Errorf("position.Open: count open: %w", err)
	}
	if len(open) >= s.cfg.Match.MaxOpenPositions {
		return nil, domain.ErrBalanceExceeded
	}
	openSize := decimal.Zero
	for _, o := range open {
		openSize = openSize.Add(o.Size)
	}
	demoBalance := decimal.NewFromFloat(s.cfg.Match.DemoBalance)
	if p.Size.Add(openSize).GreaterThan(demoBalance) {
		return nil, domain.ErrBalanceExceeded
	}

	snap, err := s.prices.GetSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("position.Open: %w", err)
	}
	if snap.IsStale(time.Now()) {
		return nil, domain.ErrPriceStale
	}
	price, ok := snap.For(p.Asset)
	if !ok {
		return nil, domain.ErrUnknownAsset
	}
	p.EntryPrice = price
	p.OpenedAt = time.Now().UTC()

	if err := p.ValidateSLTP(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("position.Open: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.repo.Create(ctx, tx, p); err != nil {
		return nil, fmt.Errorf("position.Open: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("position.Open: commit: %w", err)
	}
	return p, nil
}

// Close closes a position manually at the current snapshot price (§4.5).
// Returns domain.ErrPositionClosing if another caller is already closing it.
func (s *Service) Close(ctx context.Context, id string) (*domain.Position, error) {
	return s.closeWithReason(ctx, id, domain.CloseManual, nil)
}

// AutoClose closes a position at the exact trigger price the match tick
// loop computed for the liquidation/SL/TP that fired (§4.8) — never the
// live tick price, which may have already moved past the trigger. reason
// must not be domain.CloseManual.
func (s *Service) AutoClose(ctx context.Context, id string, reason domain.CloseReason, exitPrice decimal.Decimal) (*domain.Position, error) {
	if reason == domain.CloseManual {
		return nil, fmt.Errorf("position.AutoClose: reason must not be manual")
	}
	return s.closeWithReason(ctx, id, reason, &exitPrice)
}

// closeWithReason closes a position at exitPrice if given, otherwise at the
// current live snapshot price (the manual-close path, where there is no
// trigger price to honor).
func (s *Service) closeWithReason(ctx context.Context, id string, reason domain.CloseReason, exitPrice *decimal.Decimal) (*domain.Position, error) {
	if !s.closer.TryAcquire(id) {
		return nil, domain.ErrPositionClosing
	}
	defer s.closer.Release(id)

	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsOpen() {
		return nil, domain.ErrPositionNotOpen
	}

	var exit decimal.Decimal
	if exitPrice != nil {
		exit = *exitPrice
	} else {
		snap, err := s.prices.GetSnapshot(ctx)
		if err != nil {
			return nil, fmt.Errorf("position.closeWithReason: %w", err)
		}
		if snap.IsStale(time.Now()) {
			return nil, domain.ErrPriceStale
		}
		var ok bool
		exit, ok = snap.For(p.Asset)
		if !ok {
			return nil, domain.ErrUnknownAsset
		}
	}

	p.Close(exit, reason, time.Now().UTC())

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("position.closeWithReason: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = s.repo.Close(ctx, tx, p); err != nil {
		return nil, fmt.Errorf("position.closeWithReason: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("position.closeWithReason: commit: %w", err)
	}
	return p, nil
}

// PartialClose splits off fraction of a position's size at the current
// price, returning the newly closed partial position. The original remains
// open with its reduced size.
func (s *Service) PartialClose(ctx context.Context, id string, fraction decimal.Decimal) (*domain.Position, error) {
	if !s.closer.TryAcquire(id) {
		return nil, domain.ErrPositionClosing
	}
	defer s.closer.Release(id)

	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsOpen() {
		return nil, domain.ErrPositionNotOpen
	}

	snap, err := s.prices.GetSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("position.PartialClose: %w", err)
	}
	if snap.IsStale(time.Now()) {
		return nil, domain.ErrPriceStale
	}
	current, ok := snap.For(p.Asset)
	if !ok {
		return nil, domain.ErrUnknownAsset
	}

	partial, err := p.PartialClose(fraction, current, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("position.PartialClose: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = s.repo.Create(ctx, tx, partial); err != nil {
		return nil, fmt.Errorf("position.PartialClose: create partial: %w", err)
	}
	if err = s.repo.ShrinkSize(ctx, tx, p.ID, p.Size); err != nil {
		return nil, fmt.Errorf("position.PartialClose: shrink: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("position.PartialClose: commit: %w", err)
	}
	return partial, nil
}

// SetSLTP updates a position's stop-loss/take-profit triggers without
// closing it.
func (s *Service) SetSLTP(ctx context.Context, id string, sl, tp *decimal.Decimal) error {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !p.IsOpen() {
		return domain.ErrPositionNotOpen
	}
	p.SL = sl
	p.TP = tp
	if err := p.ValidateSLTP(); err != nil {
		return err
	}
	return s.repo.SetSLTP(ctx, id, sl, tp)
}

// CloseAtFrozenPrice closes a position at a caller-supplied exit price and
// reason, used by match-end settlement, which has already resolved the exit
// price and holds the §4.5 guard itself. The auto-close tick loop goes
// through AutoClose instead.
func (s *Service) CloseAtFrozenPrice(ctx context.Context, tx *sqlx.Tx, p *domain.Position, exit decimal.Decimal, reason domain.CloseReason, now time.Time) error {
	p.Close(exit, reason, now)
	return s.repo.Close(ctx, tx, p)
}

// Acquire exposes the single-closer guard to callers (match tick loops,
// settlement) that need to close positions outside the per-call helpers
// above while still respecting §4.5.
func (s *Service) Acquire(id string) bool {
	return s.closer.TryAcquire(id)
}

// ReleaseGuard releases a guard acquired via Acquire.
func (s *Service) ReleaseGuard(id string) {
	s.closer.Release(id)
}

// Repo exposes the underlying repository for tick-loop scans (GetOpenByMatch,
// History) that don't need the guard/validation wrapping above.
func (s *Service) Repo() *repository.PositionRepository {
	return s.repo
}
