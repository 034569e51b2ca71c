package match

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/duelbackend/arena/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// matchEnd mirrors session.MsgMatchEnd's wire shape.
type matchEnd struct {
	Type       string           `json:"type"`
	MatchID    uuid.UUID        `json:"matchId"`
	Status     domain.MatchStatus `json:"status"`
	Winner     *string          `json:"winner,omitempty"`
	Player1Roi decimal.Decimal  `json:"player1Roi"`
	Player2Roi decimal.Decimal  `json:"player2Roi"`
}

// settleTimeExpiry is the ordinary settlement path: the match's clock ran
// out (§4.11). status is decided from ROI comparison.
func (c *Controller) settleTimeExpiry(ctx context.Context, m *domain.Match) error {
	return c.settle(ctx, m, "")
}

// settleForfeit settles a match early because one player failed to
// reconnect within the forfeit grace window (§4.9); the other player is
// awarded the win outright regardless of ROI.
func (c *Controller) settleForfeit(ctx context.Context, m *domain.Match, winner string) error {
	return c.settle(ctx, m, winner)
}

// settle runs the settlement sequence (§4.11):
//  1. freeze prices — one snapshot used for every remaining open position
//  2. close every still-open position at that frozen price
//  3. sum realised PnL per player across every position in the match
//  4. compute ROI and decide the winner (unless forcedWinner is set, e.g. a
//     forfeit, which skips the ROI comparison)
//  5. persist the match's terminal status/winner/ROIs
//  6. settle the ledger (unfreeze/credit/debit) and update running user stats
//  7. broadcast match_end
//  8. on-chain settlement is NOT done here — the admin settlement-retry loop
//     owns it (picks up rows with onchain_settled=false)
//  9. clear the match from the in-memory registry and cancel its timers
func (c *Controller) settle(ctx context.Context, m *domain.Match, forcedWinner string) error {
	c.mu.RLock()
	_, stillActive := c.active[m.ID]
	c.mu.RUnlock()
	if !stillActive {
		return nil // already settled by a concurrent forfeit/expiry race
	}

	snap, err := c.prices.GetSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("match.settle: price snapshot: %w", err)
	}

	if err := c.closeRemainingPositions(ctx, m, snap); err != nil {
		return fmt.Errorf("match.settle: close positions: %w", err)
	}

	p1Pnl, p2Pnl, err := c.realizedPnl(ctx, m)
	if err != nil {
		return fmt.Errorf("match.settle: realized pnl: %w", err)
	}

	demoBalance := decimal.NewFromFloat(c.cfg.Match.DemoBalance)
	p1Roi := domain.ROI(p1Pnl, demoBalance)
	p2Roi := domain.ROI(p2Pnl, demoBalance)

	var winnerAddr string
	var status domain.MatchStatus
	if forcedWinner != "" {
		winnerAddr = forcedWinner
		status = domain.MatchForfeited
	} else {
		label, isTie := domain.DecideOutcome(p1Roi, p2Roi)
		if isTie {
			status = domain.MatchTied
		} else {
			status = domain.MatchCompleted
			if label == "player1" {
				winnerAddr = m.Player1
			} else {
				winnerAddr = m.Player2
			}
		}
	}

	now := time.Now().UTC()
	var winnerPtr *string
	if winnerAddr != "" {
		winnerPtr = &winnerAddr
	}

	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("match.settle: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = c.matches.Settle(ctx, tx, m.ID, status, winnerPtr, p1Roi, p2Roi, now); err != nil {
		return fmt.Errorf("match.settle: persist match: %w", err)
	}
	if err = c.ledger.SettleMatch(ctx, tx, m.Player1, m.Player2, m.BetAmount, winnerAddr, m.ID); err != nil {
		return fmt.Errorf("match.settle: ledger: %w", err)
	}
	if err = c.recordUserStats(ctx, tx, m, winnerAddr, status, p1Pnl, p2Pnl); err != nil {
		return fmt.Errorf("match.settle: user stats: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("match.settle: commit: %w", err)
	}

	c.broadcastMatchEnd(m.ID, status, winnerPtr, p1Roi, p2Roi)

	c.mu.Lock()
	delete(c.active, m.ID)
	c.mu.Unlock()
	c.clearForfeitTimers(m.ID)

	return nil
}

// closeRemainingPositions closes every still-open position in the match at
// the single frozen snapshot, inside its own short-lived transaction per
// position so the §4.5 single-closer guard composes with the rest of the
// position engine.
func (c *Controller) closeRemainingPositions(ctx context.Context, m *domain.Match, snap domain.PriceSnapshot) error {
	open, err := c.positions.Repo().GetOpenByMatch(ctx, m.ID)
	if err != nil {
		return err
	}
	for _, p := range open {
		price, ok := snap.For(p.Asset)
		if !ok {
			slog.Warn("match.settle: unknown asset, leaving position open", "position", p.ID, "asset", p.Asset)
			continue
		}
		if !c.positions.Acquire(p.ID) {
			slog.Warn("match.settle: position busy closing elsewhere, skipping", "position", p.ID)
			continue
		}
		err := c.closeOneAtFrozenPrice(ctx, p, price)
		c.positions.ReleaseGuard(p.ID)
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) closeOneAtFrozenPrice(ctx context.Context, p *domain.Position, price decimal.Decimal) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = closeAtFrozenPrice(ctx, c.positions, tx, p, price); err != nil {
		return err
	}
	return tx.Commit()
}

// closeAtFrozenPrice is a thin wrapper so this file reads as "close it",
// without repeating the position.Service method's full signature at every
// call site.
func closeAtFrozenPrice(ctx context.Context, svc interface {
	CloseAtFrozenPrice(ctx context.Context, tx *sqlx.Tx, p *domain.Position, exit decimal.Decimal, reason domain.CloseReason, now time.Time) error
}, tx *sqlx.Tx, p *domain.Position, exit decimal.Decimal) error {
	return svc.CloseAtFrozenPrice(ctx, tx, p, exit, domain.CloseMatchEnd, time.Now().UTC())
}

// realizedPnl sums every position's stored Pnl (now that every position in
// the match is closed) grouped by player.
func (c *Controller) realizedPnl(ctx context.Context, m *domain.Match) (p1, p2 decimal.Decimal, err error) {
	all, err := c.positions.Repo().GetAllByMatch(ctx, m.ID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	for _, p := range all {
		if p.Pnl == nil {
			continue // still open: GetOpenByMatch loop above should have closed everything, but don't fail settlement on a straggler
		}
		switch p.PlayerAddress {
		case m.Player1:
			p1 = p1.Add(*p.Pnl)
		case m.Player2:
			p2 = p2.Add(*p.Pnl)
		}
	}
	return p1, p2, nil
}

func (c *Controller) recordUserStats(ctx context.Context, tx *sqlx.Tx, m *domain.Match, winner string, status domain.MatchStatus, p1Pnl, p2Pnl decimal.Decimal) error {
	u1, err := c.users.GetOrCreate(ctx, m.Player1)
	if err != nil {
		return err
	}
	u2, err := c.users.GetOrCreate(ctx, m.Player2)
	if err != nil {
		return err
	}

	outcome1, outcome2 := domain.OutcomeTie, domain.OutcomeTie
	if status != domain.MatchTied {
		if winner == m.Player1 {
			outcome1, outcome2 = domain.OutcomeWin, domain.OutcomeLoss
		} else {
			outcome1, outcome2 = domain.OutcomeLoss, domain.OutcomeWin
		}
	}

	u1.RecordResult(outcome1, p1Pnl)
	u2.RecordResult(outcome2, p2Pnl)

	if err := c.users.RecordResult(ctx, tx, u1); err != nil {
		return err
	}
	return c.users.RecordResult(ctx, tx, u2)
}

func (c *Controller) broadcastMatchEnd(matchID uuid.UUID, status domain.MatchStatus, winner *string, p1Roi, p2Roi decimal.Decimal) {
	payload := matchEnd{Type: "match_end", MatchID: matchID, Status: status, Winner: winner, Player1Roi: p1Roi, Player2Roi: p2Roi}
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	c.hub.BroadcastToMatchAndSpectators(matchID, b)
}
