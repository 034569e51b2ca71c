package match

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/duelbackend/arena/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Tick cadences (§4.8): broadcast is the slower, UI-facing update; auto-close
// needs to catch a liquidation/SL/TP trigger quickly; expiry only needs to
// notice a match's clock ran out, which happens at most once per match.
const (
	broadcastInterval   = 2 * time.Second
	autoCloseInterval   = 750 * time.Millisecond
	expiryCheckInterval = 1 * time.Second
)

// priceUpdate mirrors session.MsgPriceUpdate's wire shape without an import
// cycle — this package's Broadcaster interface takes raw bytes, same as
// internal/session.Client does when it marshals its own outbound messages.
type priceUpdate struct {
	Type string `json:"type"`
	domain.PriceSnapshot
}

type playerSummary struct {
	Player        string          `json:"player"`
	UnrealizedPnl string          `json:"unrealizedPnl"`
	OpenPositions int             `json:"openPositions"`
	Positions     []*domain.Position `json:"positions,omitempty"`
}

type opponentUpdate struct {
	Type    string          `json:"type"`
	MatchID uuid.UUID       `json:"matchId"`
	Players []playerSummary `json:"players"`
}

func (c *Controller) tickBroadcast(ctx context.Context) {
	matches := c.snapshotActive()
	if len(matches) == 0 {
		return
	}

	snap, err := c.prices.GetSnapshot(ctx)
	if err != nil {
		slog.Warn("match: broadcast tick: price snapshot unavailable", "error", err)
		return
	}

	for _, m := range matches {
		c.broadcastPriceUpdate(m.ID, snap)
		c.broadcastPositionSummaries(ctx, m, snap)
	}
}

func (c *Controller) broadcastPriceUpdate(matchID uuid.UUID, snap domain.PriceSnapshot) {
	payload := priceUpdate{Type: "price_update", PriceSnapshot: snap}
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	c.hub.BroadcastToMatchAndSpectators(matchID, b)
}

// broadcastPositionSummaries sends the compact "opponent_update" view (just
// aggregate PnL/count) to participants, and the richer "spectator_update"
// view (every open position) to onlookers.
func (c *Controller) broadcastPositionSummaries(ctx context.Context, m *domain.Match, snap domain.PriceSnapshot) {
	open, err := c.positions.Repo().GetOpenByMatch(ctx, m.ID)
	if err != nil {
		slog.Warn("match: broadcast tick: open positions lookup failed", "match", m.ID, "error", err)
		return
	}

	byPlayer := map[string][]*domain.Position{m.Player1: nil, m.Player2: nil}
	for _, p := range open {
		byPlayer[p.PlayerAddress] = append(byPlayer[p.PlayerAddress], p)
	}

	summaryFor := func(player string) playerSummary {
		positions := byPlayer[player]
		pnl := decimalSum(positions, snap)
		return playerSummary{Player: player, UnrealizedPnl: pnl.String(), OpenPositions: len(positions)}
	}

	participantView := opponentUpdate{
		Type:    "opponent_update",
		MatchID: m.ID,
		Players: []playerSummary{summaryFor(m.Player1), summaryFor(m.Player2)},
	}
	if b, err := json.Marshal(participantView); err == nil {
		c.hub.BroadcastToMatch(m.ID, b)
	}

	spectatorView := opponentUpdate{
		Type:    "spectator_update",
		MatchID: m.ID,
		Players: []playerSummary{
			{Player: m.Player1, UnrealizedPnl: decimalSum(byPlayer[m.Player1], snap).String(), OpenPositions: len(byPlayer[m.Player1]), Positions: byPlayer[m.Player1]},
			{Player: m.Player2, UnrealizedPnl: decimalSum(byPlayer[m.Player2], snap).String(), OpenPositions: len(byPlayer[m.Player2]), Positions: byPlayer[m.Player2]},
		},
	}
	if b, err := json.Marshal(spectatorView); err == nil {
		c.hub.BroadcastToSpectators(m.ID, b)
	}
}

func decimalSum(positions []*domain.Position, snap domain.PriceSnapshot) (total decimal.Decimal) {
	for _, p := range positions {
		price, ok := snap.For(p.Asset)
		if !ok {
			continue
		}
		total = total.Add(p.UnrealizedPnl(price))
	}
	return total
}

// tickAutoClose evaluates every open position in every active match against
// the current snapshot, closing at most one trigger per position in
// liquidation -> SL -> TP priority order (§4.5, §4.8).
func (c *Controller) tickAutoClose(ctx context.Context) {
	matches := c.snapshotActive()
	if len(matches) == 0 {
		return
	}

	snap, err := c.prices.GetSnapshot(ctx)
	if err != nil {
		slog.Warn("match: autoclose tick: price snapshot unavailable", "error", err)
		return
	}
	if snap.IsStale(time.Now()) {
		return
	}

	for _, m := range matches {
		c.autoCloseMatch(ctx, m, snap)
	}
}

func (c *Controller) autoCloseMatch(ctx context.Context, m *domain.Match, snap domain.PriceSnapshot) {
	open, err := c.positions.Repo().GetOpenByMatch(ctx, m.ID)
	if err != nil {
		slog.Warn("match: autoclose: open positions lookup failed", "match", m.ID, "error", err)
		return
	}

	for _, p := range open {
		price, ok := snap.For(p.Asset)
		if !ok {
			continue
		}

		var reason domain.CloseReason
		var trigger decimal.Decimal
		switch {
		case p.IsLiquidated(price):
			reason = domain.CloseLiquidation
			trigger = p.LiquidationPrice()
		case p.HitSL(price):
			reason = domain.CloseSL
			trigger = *p.SL
		case p.HitTP(price):
			reason = domain.CloseTP
			trigger = *p.TP
		default:
			continue
		}

		closed, err := c.positions.AutoClose(ctx, p.ID, reason, trigger)
		if err != nil {
			if err != domain.ErrPositionClosing && err != domain.ErrPositionNotOpen {
				slog.Warn("match: autoclose: close failed", "position", p.ID, "reason", reason, "error", err)
			}
			continue
		}
		c.broadcastPositionClosed(m.ID, closed)
	}
}

func (c *Controller) broadcastPositionClosed(matchID uuid.UUID, p *domain.Position) {
	payload := struct {
		Type     string           `json:"type"`
		Position *domain.Position `json:"position"`
	}{Type: "position_closed", Position: p}
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	c.hub.BroadcastToMatchAndSpectators(matchID, b)
}

// tickExpiry settles every active match whose end time has passed.
func (c *Controller) tickExpiry(ctx context.Context) {
	now := time.Now()
	for _, m := range c.snapshotActive() {
		if m.TimeRemaining(now) > 0 {
			continue
		}
		if err := c.settleTimeExpiry(ctx, m); err != nil {
			slog.Error("match: settlement failed", "match", m.ID, "error", err)
		}
	}
}
