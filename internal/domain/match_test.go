package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// Scenario 3 (tie): player1 ROI 0.05002, player2 ROI 0.050015 — delta
// 0.000005 is below TieEpsilon so the match ties.
func TestDecideOutcome_Tie(t *testing.T) {
	p1 := decimal.NewFromFloat(0.05002)
	p2 := decimal.NewFromFloat(0.050015)
	winner, tie := DecideOutcome(p1, p2)
	if !tie || winner != "" {
		t.Fatalf("expected tie, got winner=%q tie=%v", winner, tie)
	}
}

func TestDecideOutcome_Player1Wins(t *testing.T) {
	p1 := decimal.NewFromFloat(0.10)
	p2 := decimal.NewFromFloat(0.05)
	winner, tie := DecideOutcome(p1, p2)
	if tie || winner != "player1" {
		t.Fatalf("expected player1 win, got winner=%q tie=%v", winner, tie)
	}
}

func TestDecideOutcome_Player2Wins(t *testing.T) {
	p1 := decimal.NewFromFloat(-0.02)
	p2 := decimal.NewFromFloat(0.01)
	winner, tie := DecideOutcome(p1, p2)
	if tie || winner != "player2" {
		t.Fatalf("expected player2 win, got winner=%q tie=%v", winner, tie)
	}
}

func TestMatchStatus_Transitions(t *testing.T) {
	if !CanTransitionTo(MatchAwaitingDeposits, MatchActive) {
		t.Fatalf("awaiting_deposits -> active should be legal")
	}
	if !CanTransitionTo(MatchActive, MatchCompleted) {
		t.Fatalf("active -> completed should be legal")
	}
	if CanTransitionTo(MatchCompleted, MatchActive) {
		t.Fatalf("terminal status must not transition")
	}
	if CanTransitionTo(MatchAwaitingDeposits, MatchCompleted) {
		t.Fatalf("awaiting_deposits -> completed should skip active and be illegal")
	}
}

func TestChallenge_IsExpired(t *testing.T) {
	now := time.Now()
	c := &Challenge{ExpiresAt: now.Add(-time.Second)}
	if !c.IsExpired(now) {
		t.Fatalf("expected challenge to be expired")
	}
	c2 := &Challenge{ExpiresAt: now.Add(time.Minute)}
	if c2.IsExpired(now) {
		t.Fatalf("expected challenge to still be pending")
	}
}

func TestMatch_OpponentAndTimeRemaining(t *testing.T) {
	m := &Match{Player1: "alice", Player2: "bob", EndTime: time.Now().Add(10 * time.Second)}
	if m.Opponent("alice") != "bob" || m.Opponent("bob") != "alice" {
		t.Fatalf("opponent lookup failed")
	}
	if m.Opponent("carol") != "" {
		t.Fatalf("non-participant should have no opponent")
	}
	if m.TimeRemaining(m.EndTime.Add(time.Second)) != 0 {
		t.Fatalf("time remaining should floor at 0 past end time")
	}
}

func TestMatch_IsStale(t *testing.T) {
	activeStale := 5 * time.Minute
	depositStale := 2 * time.Minute

	end := time.Now()
	m := &Match{Status: MatchActive, EndTime: end}
	if m.IsStale(end.Add(time.Minute), activeStale, depositStale) {
		t.Fatalf("active match just past endTime should not be stale yet")
	}
	if !m.IsStale(end.Add(activeStale+time.Second), activeStale, depositStale) {
		t.Fatalf("active match well past endTime+activeStaleAfter should be stale")
	}

	deadline := time.Now()
	awaiting := &Match{Status: MatchAwaitingDeposits, DepositDeadline: &deadline}
	if awaiting.IsStale(deadline.Add(time.Minute), activeStale, depositStale) {
		t.Fatalf("awaiting-deposits match just past deadline should not be stale yet")
	}
	if !awaiting.IsStale(deadline.Add(depositStale+time.Second), activeStale, depositStale) {
		t.Fatalf("awaiting-deposits match well past deadline+depositStaleAfter should be stale")
	}

	completed := &Match{Status: MatchCompleted, EndTime: end}
	if completed.IsStale(end.Add(24*time.Hour), activeStale, depositStale) {
		t.Fatalf("terminal status should never read as stale")
	}
}
