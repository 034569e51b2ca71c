package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// Scenario 1 (clean match) from the spec's worked examples: long BTC
// entry=100000 size=10000 leverage=10, price drifts to 101000.
// Expected PnL = (101000-100000)*10000*10/100000 = 1000.
func TestUnrealizedPnl_CleanMatchLong(t *testing.T) {
	p := &Position{
		IsLong:     true,
		EntryPrice: decimal.NewFromInt(100000),
		Size:       decimal.NewFromInt(10000),
		Leverage:   10,
	}
	pnl := p.UnrealizedPnl(decimal.NewFromInt(101000))
	want := decimal.NewFromInt(1000)
	if !pnl.Equal(want) {
		t.Fatalf("pnl = %s, want %s", pnl, want)
	}
}

// Short ETH entry=2000 size=5000 leverage=5, price drifts to 1960.
// Expected PnL = (2000-1960)*5000*5/2000 = 500.
func TestUnrealizedPnl_CleanMatchShort(t *testing.T) {
	p := &Position{
		IsLong:     false,
		EntryPrice: decimal.NewFromInt(2000),
		Size:       decimal.NewFromInt(5000),
		Leverage:   5,
	}
	pnl := p.UnrealizedPnl(decimal.NewFromInt(1960))
	want := decimal.NewFromInt(500)
	if !pnl.Equal(want) {
		t.Fatalf("pnl = %s, want %s", pnl, want)
	}
}

// Scenario 2 (liquidation): long SOL entry=200 leverage=50.
// Liquidation price = 200*(1-1/50) = 196.
func TestLiquidationPrice_Long(t *testing.T) {
	p := &Position{
		IsLong:     true,
		EntryPrice: decimal.NewFromInt(200),
		Size:       decimal.NewFromInt(100),
		Leverage:   50,
	}
	liq := p.LiquidationPrice()
	want := decimal.NewFromInt(196)
	if !liq.Equal(want) {
		t.Fatalf("liquidation price = %s, want %s", liq, want)
	}
	if !p.IsLiquidated(decimal.NewFromInt(195)) {
		t.Fatalf("expected liquidation at price 195")
	}
	if p.IsLiquidated(decimal.NewFromInt(197)) {
		t.Fatalf("did not expect liquidation at price 197")
	}
}

// Boundary behavior: leverage=1 makes liquidation price 0 (long) and never
// triggers, regardless of price.
func TestLiquidation_LeverageOneNeverTriggers(t *testing.T) {
	p := &Position{IsLong: true, EntryPrice: decimal.NewFromInt(100), Size: decimal.NewFromInt(10), Leverage: 1}
	if p.IsLiquidated(decimal.NewFromInt(1)) {
		t.Fatalf("leverage=1 must never liquidate")
	}
	short := &Position{IsLong: false, EntryPrice: decimal.NewFromInt(100), Size: decimal.NewFromInt(10), Leverage: 1}
	if short.IsLiquidated(decimal.NewFromInt(1000000)) {
		t.Fatalf("leverage=1 short must never liquidate")
	}
}

// Scenario 6 (partial close): long BTC size=10000 leverage=10 entry=100000,
// current price 100500, fraction=0.4.
// Expected: new size=4000, pnl=(500/100000)*4000*10=200; original size=6000.
func TestPartialClose(t *testing.T) {
	p := &Position{
		ID:         "orig",
		EntryPrice: decimal.NewFromInt(100000),
		Size:       decimal.NewFromInt(10000),
		Leverage:   10,
		IsLong:     true,
	}
	now := time.UnixMilli(1_700_000_000_000)
	partial, err := p.PartialClose(decimal.NewFromFloat(0.4), decimal.NewFromInt(100500), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !partial.Size.Equal(decimal.NewFromInt(4000)) {
		t.Fatalf("partial size = %s, want 4000", partial.Size)
	}
	if !partial.Pnl.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("partial pnl = %s, want 200", *partial.Pnl)
	}
	if !p.Size.Equal(decimal.NewFromInt(6000)) {
		t.Fatalf("remaining size = %s, want 6000", p.Size)
	}
	if partial.CloseReason == nil || *partial.CloseReason != ClosePartial {
		t.Fatalf("expected close reason partial")
	}
}

// fraction = 0 or fraction >= 1 must be rejected.
func TestPartialClose_RejectsOutOfRangeFraction(t *testing.T) {
	p := &Position{EntryPrice: decimal.NewFromInt(100), Size: decimal.NewFromInt(10), Leverage: 1}
	now := time.Now()
	if _, err := p.PartialClose(decimal.Zero, decimal.NewFromInt(100), now); err != ErrInvalidFraction {
		t.Fatalf("fraction=0 should be rejected, got %v", err)
	}
	if _, err := p.PartialClose(decimal.NewFromInt(1), decimal.NewFromInt(100), now); err != ErrInvalidFraction {
		t.Fatalf("fraction=1 should be rejected, got %v", err)
	}
}

func TestValidPositionID(t *testing.T) {
	cases := map[string]bool{
		"abc_123":  true,
		"A-b_9":    true,
		"":         false,
		"has space": false,
		"semi;colon": false,
	}
	for id, want := range cases {
		if got := IsValidPositionID(id); got != want {
			t.Errorf("IsValidPositionID(%q) = %v, want %v", id, got, want)
		}
	}
}
