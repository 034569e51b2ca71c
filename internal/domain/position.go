package domain

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Asset
// ──────────────────────────────────────────────────────────────────────────────

// Asset enumerates the tradable symbols (§3).
type Asset string

const (
	AssetBTC Asset = "BTC"
	AssetETH Asset = "ETH"
	AssetSOL Asset = "SOL"
)

// IsValidAsset reports whether a is one of the enumerated symbols.
func IsValidAsset(a Asset) bool {
	return a == AssetBTC || a == AssetETH || a == AssetSOL
}

// ──────────────────────────────────────────────────────────────────────────────
// CloseReason
// ──────────────────────────────────────────────────────────────────────────────

// CloseReason records why a position was closed.
type CloseReason string

const (
	CloseManual      CloseReason = "manual"
	CloseSL          CloseReason = "sl"
	CloseTP          CloseReason = "tp"
	CloseLiquidation CloseReason = "liquidation"
	ClosePartial     CloseReason = "partial"
	CloseMatchEnd    CloseReason = "match_end"
)

// positionIDPattern matches the required client-supplied idempotency key
// shape: [A-Za-z0-9_-]{1,64}.
var positionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// IsValidPositionID reports whether id satisfies the idempotency-key shape.
func IsValidPositionID(id string) bool {
	return positionIDPattern.MatchString(id)
}

// ──────────────────────────────────────────────────────────────────────────────
// Position
// ──────────────────────────────────────────────────────────────────────────────

// Position is a single leveraged long/short position inside a Match.
type Position struct {
	ID             string           `json:"id"             db:"id"`
	MatchID        uuid.UUID        `json:"matchId"        db:"match_id"`
	PlayerAddress  string           `json:"playerAddress"  db:"player_address"`
	Asset          Asset            `json:"assetSymbol"    db:"asset_symbol"`
	IsLong         bool             `json:"isLong"         db:"is_long"`
	EntryPrice     decimal.Decimal  `json:"entryPrice"     db:"entry_price"`
	Size           decimal.Decimal  `json:"size"           db:"size"`
	Leverage       int              `json:"leverage"       db:"leverage"`
	SL             *decimal.Decimal `json:"sl,omitempty"   db:"sl"`
	TP             *decimal.Decimal `json:"tp,omitempty"   db:"tp"`
	OpenedAt       time.Time        `json:"openedAt"       db:"opened_at"`
	ExitPrice      *decimal.Decimal `json:"exitPrice,omitempty" db:"exit_price"`
	Pnl            *decimal.Decimal `json:"pnl,omitempty"       db:"pnl"`
	ClosedAt       *time.Time       `json:"closedAt,omitempty"  db:"closed_at"`
	CloseReason    *CloseReason     `json:"closeReason,omitempty" db:"close_reason"`
}

// IsOpen reports whether the position has not yet been closed.
func (p *Position) IsOpen() bool {
	return p.ClosedAt == nil
}

// UnrealizedPnl computes the position's PnL at the given price (§4.4):
//
//	long:  (exit − entry) · size · leverage / entry
//	short: negated
func (p *Position) UnrealizedPnl(price decimal.Decimal) decimal.Decimal {
	diff := price.Sub(p.EntryPrice)
	pnl := diff.Mul(p.Size).Mul(decimal.NewFromInt(int64(p.Leverage))).Div(p.EntryPrice)
	if !p.IsLong {
		pnl = pnl.Neg()
	}
	return pnl
}

// LiquidationPrice solves pnl = -size for the entry/leverage pair (§4.4),
// i.e. the price at which 100% of margin is lost:
//
//	long:  entry · (1 − 1/leverage)
//	short: entry · (1 + 1/leverage)
//
// At leverage=1 this returns 0 for longs (no liquidation possible since
// price cannot go negative) and 2·entry for shorts; IsLiquidated treats
// leverage=1 shorts as non-liquidatable too, consistent with spec §8's
// "leverage = 1 ⇒ no liquidation trigger possible" boundary behavior.
func (p *Position) LiquidationPrice() decimal.Decimal {
	one := decimal.NewFromInt(1)
	lev := decimal.NewFromInt(int64(p.Leverage))
	inv := one.Div(lev)
	if p.IsLong {
		return p.EntryPrice.Mul(one.Sub(inv))
	}
	return p.EntryPrice.Mul(one.Add(inv))
}

// IsLiquidated reports whether price has crossed the liquidation price.
// Leverage=1 never liquidates, long or short (for longs the liquidation
// price is 0; for shorts the 2·entry price is not checked).
func (p *Position) IsLiquidated(price decimal.Decimal) bool {
	if p.Leverage <= 1 {
		return false
	}
	liq := p.LiquidationPrice()
	if p.IsLong {
		return price.LessThanOrEqual(liq)
	}
	return price.GreaterThanOrEqual(liq)
}

// HitSL reports whether price has crossed the stop-loss trigger, if set.
func (p *Position) HitSL(price decimal.Decimal) bool {
	if p.SL == nil {
		return false
	}
	if p.IsLong {
		return price.LessThanOrEqual(*p.SL)
	}
	return price.GreaterThanOrEqual(*p.SL)
}

// HitTP reports whether price has crossed the take-profit trigger, if set.
func (p *Position) HitTP(price decimal.Decimal) bool {
	if p.TP == nil {
		return false
	}
	if p.IsLong {
		return price.GreaterThanOrEqual(*p.TP)
	}
	return price.LessThanOrEqual(*p.TP)
}

// ValidateSLTP checks SL/TP are on the correct side of entry for the
// position's direction (§3): SL for long < entry, for short > entry;
// TP for long > entry, for short < entry. Nil fields are skipped.
func (p *Position) ValidateSLTP() error {
	if p.SL != nil {
		if p.IsLong && !p.SL.LessThan(p.EntryPrice) {
			return ErrInvalidSLTP
		}
		if !p.IsLong && !p.SL.GreaterThan(p.EntryPrice) {
			return ErrInvalidSLTP
		}
	}
	if p.TP != nil {
		if p.IsLong && !p.TP.GreaterThan(p.EntryPrice) {
			return ErrInvalidSLTP
		}
		if !p.IsLong && !p.TP.LessThan(p.EntryPrice) {
			return ErrInvalidSLTP
		}
	}
	return nil
}

// Close finalises the position at exitPrice with the given reason,
// computing and storing Pnl. The caller must hold the single-closer guard
// for p.ID before calling this (§4.5); Close does not itself synchronise.
func (p *Position) Close(exitPrice decimal.Decimal, reason CloseReason, now time.Time) {
	pnl := p.UnrealizedPnl(exitPrice)
	p.ExitPrice = &exitPrice
	p.Pnl = &pnl
	p.ClosedAt = &now
	p.CloseReason = &reason
}

// PartialClose splits off `fraction` of the position's size into a new,
// already-closed Position at the current price, and shrinks the receiver
// by the same amount (§4.4). fraction must be in (0, 1) exclusive; callers
// validate this before calling (ErrInvalidFraction). The new position's id
// is deterministic: "<origId>_partial_<unixMilli>".
func (p *Position) PartialClose(fraction decimal.Decimal, currentPrice decimal.Decimal, now time.Time) (*Position, error) {
	if fraction.LessThanOrEqual(decimal.Zero) || fraction.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, ErrInvalidFraction
	}
	closedSize := p.Size.Mul(fraction)

	partial := &Position{
		ID:            fmt.Sprintf("%s_partial_%d", p.ID, now.UnixMilli()),
		MatchID:       p.MatchID,
		PlayerAddress: p.PlayerAddress,
		Asset:         p.Asset,
		IsLong:        p.IsLong,
		EntryPrice:    p.EntryPrice,
		Size:          closedSize,
		Leverage:      p.Leverage,
		OpenedAt:      p.OpenedAt,
	}
	pnl := partial.UnrealizedPnl(currentPrice)
	partial.ExitPrice = &currentPrice
	partial.Pnl = &pnl
	partial.ClosedAt = &now
	reason := ClosePartial
	partial.CloseReason = &reason

	p.Size = p.Size.Sub(closedSize)
	return partial, nil
}

// ROI computes totalPnl / demoBalance, the per-player return metric (§4.4,
// glossary). Not capped server-side; UI callers cap at >= -1 themselves.
func ROI(totalPnl, demoBalance decimal.Decimal) decimal.Decimal {
	if demoBalance.IsZero() {
		return decimal.Zero
	}
	return totalPnl.Div(demoBalance)
}
