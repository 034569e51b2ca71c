// Package admin runs the background loops that are not tied to any single
// match's lifecycle: sweeping expired challenges, and retrying on-chain
// settlement for matches the escrow program hasn't yet confirmed (§4.12).
// Grounded on internal/scheduler/scheduler.go's resolutionLoop ticker idiom.
package admin

import (
	"context"
	"log/slog"
	"time"

	"github.com/duelbackend/arena/internal/config"
	"github.com/duelbackend/arena/internal/onchain"
	"github.com/duelbackend/arena/internal/repository"
)

// ChallengeExpirer is the subset of matchmaking.ChallengeService the loop
// needs. Declared locally to avoid an import cycle with internal/matchmaking.
type ChallengeExpirer interface {
	ExpireSweep(ctx context.Context, now time.Time) (int, error)
}

// Loops owns the challenge-expiry and settlement-retry tickers.
type Loops struct {
	challenges ChallengeExpirer
	matches    *repository.MatchRepository
	chain      onchain.Client
	cfg        *config.AdminConfig
}

// New creates a Loops. chain may be onchain.NoopClient{} when no escrow RPC
// is configured.
func New(challenges ChallengeExpirer, matches *repository.MatchRepository, chain onchain.Client, cfg *config.Config) *Loops {
	return &Loops{challenges: challenges, matches: matches, chain: chain, cfg: &cfg.Admin}
}

// Start launches both loops; cancel ctx to stop them.
func (l *Loops) Start(ctx context.Context) {
	go l.runLoop(ctx, "challenge-expiry", l.cfg.ChallengeExpirySweep, l.tickChallengeExpiry)
	go l.runLoop(ctx, "settlement-retry", l.cfg.SettlementRetryTick, l.tickSettlementRetry)
}

func (l *Loops) runLoop(ctx context.Context, name string, interval time.Duration, tick func(context.Context)) {
	defer l.recoverAndLog(name)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

func (l *Loops) recoverAndLog(name string) {
	if r := recover(); r != nil {
		slog.Error("admin: loop panicked", "loop", name, "panic", r)
	}
}

func (l *Loops) tickChallengeExpiry(ctx context.Context) {
	n, err := l.challenges.ExpireSweep(ctx, time.Now().UTC())
	if err != nil {
		slog.Error("admin: challenge expiry sweep failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("admin: expired stale challenges", "count", n)
	}
}

// tickSettlementRetry attempts to confirm every settled-but-not-onchain
// match with the escrow program, up to cfg.MaxSettlementRetries attempts
// per match. Each match's failure is isolated — one match's RPC error does
// not block the rest of the batch.
func (l *Loops) tickSettlementRetry(ctx context.Context) {
	pending, err := l.matches.GetUnsettledOnChain(ctx, l.cfg.MaxSettlementRetries)
	if err != nil {
		slog.Error("admin: settlement retry: list unsettled failed", "error", err)
		return
	}

	for _, m := range pending {
		winner := ""
		if m.Winner != nil {
			winner = *m.Winner
		}
		req := onchain.SettlementRequest{
			MatchID:   m.ID.String(),
			Player1:   m.Player1,
			Player2:   m.Player2,
			BetAmount: m.BetAmount.String(),
			Winner:    winner,
		}

		result, err := l.chain.Settle(ctx, req)
		if err != nil {
			slog.Warn("admin: on-chain settlement attempt failed", "match", m.ID, "retries", m.OnChainRetries, "error", err)
			if incErr := l.matches.IncrementOnChainRetries(ctx, m.ID); incErr != nil {
				slog.Error("admin: increment retry count failed", "match", m.ID, "error", incErr)
			}
			continue
		}

		if err := l.matches.MarkOnChainSettled(ctx, m.ID, result.GameID); err != nil {
			slog.Error("admin: mark on-chain settled failed", "match", m.ID, "error", err)
		}
	}
}
