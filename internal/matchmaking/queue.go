// Package matchmaking implements queue-based and direct-challenge pairing
// (§4.6): FIFO queues keyed by (duration, bet), admission freezes the bet
// amount, and pairing creates a Match.
package matchmaking

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/duelbackend/arena/internal/config"
	"github.com/duelbackend/arena/internal/domain"
	"github.com/duelbackend/arena/internal/repository"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// Ledger is the subset of ledger.Service the matchmaking layer needs.
// Declared locally to avoid an import cycle with internal/ledger.
type Ledger interface {
	Freeze(ctx context.Context, owner string, amount decimal.Decimal, refID string) error
	Unfreeze(ctx context.Context, owner string, amount decimal.Decimal, refID string) error
}

// queueKey identifies one (duration, bet) queue.
type queueKey struct {
	duration int64
	bet      string // decimal.String() — comparable map key
}

func keyOf(duration int64, bet decimal.Decimal) queueKey {
	return queueKey{duration: duration, bet: bet.String()}
}

// QueueStats reports the waiting count for one (duration, bet) pair (§4.6
// getQueueStats).
type QueueStats struct {
	Duration int64           `json:"duration"`
	Bet      decimal.Decimal `json:"bet"`
	Waiting  int             `json:"waiting"`
}

// Service owns the in-memory queues (source of truth during normal
// operation) plus the Postgres-backed rehydration table.
type Service struct {
	db        *sqlx.DB
	queueRepo *repository.QueueRepository
	matchRepo *repository.MatchRepository
	ledger    Ledger
	cfg       *config.Config

	mu     sync.Mutex // guards queues: admission/pairing is a critical section (§4.6 step 3)
	queues map[queueKey][]*domain.QueueEntry
}

// New creates a matchmaking Service with empty in-memory queues.
func New(db *sqlx.DB, queueRepo *repository.QueueRepository, matchRepo *repository.MatchRepository, ledger Ledger, cfg *config.Config) *Service {
	return &Service{
		db:        db,
		queueRepo: queueRepo,
		matchRepo: matchRepo,
		ledger:    ledger,
		cfg:       cfg,
		queues:    make(map[queueKey][]*domain.QueueEntry),
	}
}

// Rehydrate loads persisted queue entries into memory on process start.
func (s *Service) Rehydrate(ctx context.Context) error {
	entries, err := s.queueRepo.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("matchmaking.Rehydrate: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		k := keyOf(e.Duration, e.Bet)
		s.queues[k] = append(s.queues[k], e)
	}
	return nil
}

func (s *Service) validate(duration int64, bet decimal.Decimal) error {
	durationOK := false
	for _, d := range s.cfg.Match.AllowedDurations {
		if d == duration {
			durationOK = true
			break
		}
	}
	if !durationOK {
		return domain.ErrInvalidDuration
	}
	betOK := false
	for _, b := range s.cfg.Match.AllowedBets {
		if decimal.NewFromFloat(b).Equal(bet) {
			betOK = true
			break
		}
	}
	if !betOK {
		return domain.ErrInvalidBet
	}
	return nil
}

// JoinQueue admits a player into the (duration, bet) queue, pairing them
// immediately with the oldest waiting opponent if one exists (§4.6 step 3).
// Returns the created Match when a pairing happens, or nil when the player
// was simply enqueued.
func (s *Service) JoinQueue(ctx context.Context, player string, duration int64, bet decimal.Decimal, eloRating *int) (*domain.Match, error) {
	if err := s.validate(duration, bet); err != nil {
		return nil, err
	}

	refID := fmt.Sprintf("queue:%d:%s", duration, bet.String())
	if err := s.ledger.Freeze(ctx, player, bet, refID); err != nil {
		return nil, fmt.Errorf("matchmaking.JoinQueue: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := keyOf(duration, bet)
	waiting := s.queues[k]

	if len(waiting) == 0 {
		entry := &domain.QueueEntry{Player: player, Duration: duration, Bet: bet, EloRating: eloRating, EnqueuedAt: time.Now().UTC()}
		if err := s.queueRepo.Enqueue(ctx, entry); err != nil {
			_ = s.ledger.Unfreeze(ctx, player, bet, refID)
			return nil, fmt.Errorf("matchmaking.JoinQueue: %w", err)
		}
		s.queues[k] = append(waiting, entry)
		return nil, nil
	}

	opponent := waiting[0]
	s.queues[k] = waiting[1:]

	now := time.Now().UTC()
	end := now.Add(time.Duration(duration) * time.Second)
	match := &domain.Match{
		ID:              uuid.New(),
		Player1:         opponent.Player,
		Player2:         player,
		DurationSeconds: duration,
		BetAmount:       bet,
		Status:          domain.MatchActive,
		StartTime:       now,
		EndTime:         end,
		CreatedAt:       now,
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("matchmaking.JoinQueue: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.matchRepo.Create(ctx, match); err != nil {
		return nil, fmt.Errorf("matchmaking.JoinQueue: create match: %w", err)
	}
	if err = s.queueRepo.DequeuePair(ctx, tx, opponent.Player, player, duration, bet); err != nil {
		return nil, fmt.Errorf("matchmaking.JoinQueue: dequeue pair: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("matchmaking.JoinQueue: commit: %w", err)
	}
	return match, nil
}

// LeaveQueue removes a player's single queue entry and refunds their freeze.
func (s *Service) LeaveQueue(ctx context.Context, player string, duration int64, bet decimal.Decimal) error {
	s.mu.Lock()
	k := keyOf(duration, bet)
	entries := s.queues[k]
	idx := -1
	for i, e := range entries {
		if e.Player == player {
			idx = i
			break
		}
	}
	if idx == -1 {
		s.mu.Unlock()
		return domain.ErrQueueEntryNotFound
	}
	s.queues[k] = append(entries[:idx], entries[idx+1:]...)
	s.mu.Unlock()

	if err := s.queueRepo.Dequeue(ctx, player, duration, bet); err != nil {
		return fmt.Errorf("matchmaking.LeaveQueue: %w", err)
	}
	refID := fmt.Sprintf("queue:%d:%s", duration, bet.String())
	if err := s.ledger.Unfreeze(ctx, player, bet, refID); err != nil {
		return fmt.Errorf("matchmaking.LeaveQueue: unfreeze: %w", err)
	}
	return nil
}

// RemoveFromAllQueues removes every entry belonging to player across all
// (duration, bet) queues, refunding each freeze. Called on final-connection
// disconnect (§4.6 step 4).
func (s *Service) RemoveFromAllQueues(ctx context.Context, player string) error {
	s.mu.Lock()
	var removed []*domain.QueueEntry
	for k, entries := range s.queues {
		kept := entries[:0:0]
		for _, e := range entries {
			if e.Player == player {
				removed = append(removed, e)
				continue
			}
			kept = append(kept, e)
		}
		s.queues[k] = kept
	}
	s.mu.Unlock()

	for _, e := range removed {
		if err := s.queueRepo.Dequeue(ctx, player, e.Duration, e.Bet); err != nil && err != domain.ErrQueueEntryNotFound {
			return fmt.Errorf("matchmaking.RemoveFromAllQueues: %w", err)
		}
		refID := fmt.Sprintf("queue:%d:%s", e.Duration, e.Bet.String())
		if err := s.ledger.Unfreeze(ctx, player, e.Bet, refID); err != nil {
			return fmt.Errorf("matchmaking.RemoveFromAllQueues: unfreeze: %w", err)
		}
	}
	return nil
}

// Stats aggregates waiting counts grouped by (duration, bet), sorted by
// duration then bet for deterministic UI display.
func (s *Service) Stats() []QueueStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make([]QueueStats, 0, len(s.queues))
	for k, entries := range s.queues {
		if len(entries) == 0 {
			continue
		}
		stats = append(stats, QueueStats{Duration: k.duration, Bet: entries[0].Bet, Waiting: len(entries)})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Duration != stats[j].Duration {
			return stats[i].Duration < stats[j].Duration
		}
		return stats[i].Bet.LessThan(stats[j].Bet)
	})
	return stats
}
