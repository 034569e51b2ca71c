package matchmaking

import (
	"context"
	"fmt"
	"time"

	"github.com/duelbackend/arena/internal/domain"
	"github.com/duelbackend/arena/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ChallengeService manages direct player-to-player challenges, a
// supplemental feature alongside the anonymous FIFO queues: players pick
// their opponent instead of waiting for a match.
type ChallengeService struct {
	svc  *Service
	repo *repository.ChallengeRepository
}

// NewChallengeService creates a ChallengeService sharing the matchmaking
// Service's db/ledger/match wiring.
func NewChallengeService(svc *Service, repo *repository.ChallengeRepository) *ChallengeService {
	return &ChallengeService{svc: svc, repo: repo}
}

// Create issues a pending challenge from one player to another for a
// (duration, bet) pair, expiring after domain.ChallengeExpiry.
func (c *ChallengeService) Create(ctx context.Context, from, to string, duration int64, bet decimal.Decimal) (*domain.Challenge, error) {
	if err := c.svc.validate(duration, bet); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	ch := &domain.Challenge{
		ID:        uuid.New(),
		From:      from,
		To:        to,
		Duration:  duration,
		Bet:       bet,
		Status:    domain.ChallengePending,
		CreatedAt: now,
		ExpiresAt: now.Add(domain.ChallengeExpiry),
	}
	if err := c.repo.Create(ctx, ch); err != nil {
		return nil, fmt.Errorf("challenge.Create: %w", err)
	}
	return ch, nil
}

// Accept freezes both players' stakes and creates a Match for a pending
// challenge addressed to `by`.
func (c *ChallengeService) Accept(ctx context.Context, challengeID uuid.UUID, by string) (*domain.Match, error) {
	ch, err := c.repo.GetByID(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if ch.Status != domain.ChallengePending {
		return nil, domain.ErrChallengeNotPending
	}
	if ch.To != by {
		return nil, domain.ErrNotChallengeTarget
	}
	if ch.IsExpired(time.Now()) {
		return nil, domain.ErrChallengeNotPending
	}

	refFrom := fmt.Sprintf("challenge:%s:from", ch.ID)
	refTo := fmt.Sprintf("challenge:%s:to", ch.ID)
	if err := c.svc.ledger.Freeze(ctx, ch.From, ch.Bet, refFrom); err != nil {
		return nil, fmt.Errorf("challenge.Accept: freeze challenger: %w", err)
	}
	if err := c.svc.ledger.Freeze(ctx, ch.To, ch.Bet, refTo); err != nil {
		_ = c.svc.ledger.Unfreeze(ctx, ch.From, ch.Bet, refFrom)
		return nil, fmt.Errorf("challenge.Accept: freeze recipient: %w", err)
	}

	now := time.Now().UTC()
	match := &domain.Match{
		ID:              uuid.New(),
		Player1:         ch.From,
		Player2:         ch.To,
		DurationSeconds: ch.Duration,
		BetAmount:       ch.Bet,
		Status:          domain.MatchActive,
		StartTime:       now,
		EndTime:         now.Add(time.Duration(ch.Duration) * time.Second),
		CreatedAt:       now,
	}

	if err := c.svc.matchRepo.Create(ctx, match); err != nil {
		return nil, fmt.Errorf("challenge.Accept: create match: %w", err)
	}

	tx, err := c.svc.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("challenge.Accept: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = c.repo.Accept(ctx, tx, ch.ID, match.ID); err != nil {
		return nil, fmt.Errorf("challenge.Accept: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("challenge.Accept: commit: %w", err)
	}
	return match, nil
}

// Decline rejects a pending challenge; no ledger effect since neither side
// was ever frozen.
func (c *ChallengeService) Decline(ctx context.Context, id uuid.UUID) error {
	return c.repo.Decline(ctx, id)
}

// PendingFor returns a player's pending incoming and outgoing challenges.
func (c *ChallengeService) PendingFor(ctx context.Context, player string) ([]*domain.Challenge, error) {
	return c.repo.GetPendingForPlayer(ctx, player)
}

// ExpireSweep marks every pending challenge past its TTL as expired (§4.12).
func (c *ChallengeService) ExpireSweep(ctx context.Context, now time.Time) (int, error) {
	expired, err := c.repo.GetPendingExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("challenge.ExpireSweep: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}
	ids := make([]uuid.UUID, len(expired))
	for i, ch := range expired {
		ids[i] = ch.ID
	}

	tx, err := c.svc.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("challenge.ExpireSweep: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = c.repo.ExpireBatch(ctx, tx, ids); err != nil {
		return 0, fmt.Errorf("challenge.ExpireSweep: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("challenge.ExpireSweep: commit: %w", err)
	}
	return len(expired), nil
}
