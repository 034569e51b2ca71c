package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// MatchStatus
// ──────────────────────────────────────────────────────────────────────────────

// MatchStatus represents the lifecycle state of a Match. Transitions are
// one-way; terminal states are absorbing (see Match.CanTransitionTo).
type MatchStatus string

const (
	MatchAwaitingDeposits MatchStatus = "awaiting_deposits"
	MatchActive           MatchStatus = "active"
	MatchCompleted        MatchStatus = "completed"
	MatchTied             MatchStatus = "tied"
	MatchForfeited        MatchStatus = "forfeited"
	MatchCancelled        MatchStatus = "cancelled"
)

// terminalMatchStatuses are absorbing; no further transition is valid.
var terminalMatchStatuses = map[MatchStatus]bool{
	MatchCompleted: true,
	MatchTied:      true,
	MatchForfeited: true,
	MatchCancelled: true,
}

// IsTerminal reports whether s is a terminal (absorbing) status.
func (s MatchStatus) IsTerminal() bool {
	return terminalMatchStatuses[s]
}

// validMatchTransitions enumerates the one-way transitions allowed by §4.7.
var validMatchTransitions = map[MatchStatus]map[MatchStatus]bool{
	MatchAwaitingDeposits: {MatchActive: true, MatchCancelled: true},
	MatchActive: {
		MatchCompleted: true,
		MatchTied:      true,
		MatchForfeited: true,
		MatchCancelled: true,
	},
}

// CanTransitionTo reports whether moving from 'from' to 'to' is a legal
// one-way transition per the match lifecycle state machine.
func CanTransitionTo(from, to MatchStatus) bool {
	if from.IsTerminal() {
		return false
	}
	return validMatchTransitions[from][to]
}

// TieEpsilon is the ROI-equality tolerance: |p1Roi - p2Roi| < TieEpsilon
// means the match is a tie. Pinned per spec design notes (1e-5 in ROI,
// i.e. 0.001 percent), consistent with 2-decimal-percent display.
var TieEpsilon = decimal.NewFromFloat(0.00001)

// ──────────────────────────────────────────────────────────────────────────────
// Match
// ──────────────────────────────────────────────────────────────────────────────

// Match is a two-player contest with an immutable duration and bet.
type Match struct {
	ID               uuid.UUID        `json:"id"               db:"id"`
	Player1          string           `json:"player1"          db:"player1"`
	Player2          string           `json:"player2"          db:"player2"`
	DurationSeconds  int64            `json:"durationSeconds"  db:"duration_seconds"`
	BetAmount        decimal.Decimal  `json:"betAmount"        db:"bet_amount"`
	Status           MatchStatus      `json:"status"           db:"status"`
	StartTime        time.Time        `json:"startTime"        db:"start_time"`
	EndTime          time.Time        `json:"endTime"          db:"end_time"`
	DepositDeadline  *time.Time       `json:"depositDeadline,omitempty" db:"deposit_deadline"`
	OnChainGameID    *string          `json:"onChainGameId,omitempty"   db:"onchain_game_id"`
	Winner           *string          `json:"winner,omitempty"          db:"winner"`
	Player1Roi       *decimal.Decimal `json:"player1Roi,omitempty"      db:"player1_roi"`
	Player2Roi       *decimal.Decimal `json:"player2Roi,omitempty"      db:"player2_roi"`
	OnChainSettled   bool             `json:"onChainSettled"            db:"onchain_settled"`
	OnChainRetries   int              `json:"onChainRetries"            db:"onchain_retries"`
	SettledAt        *time.Time       `json:"settledAt,omitempty"       db:"settled_at"`
	CreatedAt        time.Time        `json:"createdAt"        db:"created_at"`
}

// HasPlayer reports whether address is one of the two match participants.
func (m *Match) HasPlayer(address string) bool {
	return m.Player1 == address || m.Player2 == address
}

// Opponent returns the other player's address given one player's address.
// Returns "" if address is not a participant.
func (m *Match) Opponent(address string) string {
	switch address {
	case m.Player1:
		return m.Player2
	case m.Player2:
		return m.Player1
	default:
		return ""
	}
}

// TimeRemaining returns the duration left until EndTime, floored at 0.
func (m *Match) TimeRemaining(now time.Time) time.Duration {
	d := m.EndTime.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// IsStale reports whether this match should read as null to a "player's
// active match" query rather than its true row (§4.12): an active match
// past endTime+activeStaleAfter, or an awaiting_deposits match past
// depositDeadline+depositStaleAfter. Read-side only — the actual terminal
// transition is owned by the settlement-retry / deposit-timeout loops, not
// this predicate.
func (m *Match) IsStale(now time.Time, activeStaleAfter, depositStaleAfter time.Duration) bool {
	switch m.Status {
	case MatchActive:
		return now.After(m.EndTime.Add(activeStaleAfter))
	case MatchAwaitingDeposits:
		if m.DepositDeadline == nil {
			return false
		}
		return now.After(m.DepositDeadline.Add(depositStaleAfter))
	default:
		return false
	}
}

// DecideOutcome computes winner/tie/loss given both players' ROI, following
// §4.11 step 4: tie if the absolute ROI delta is below TieEpsilon, else the
// higher ROI wins.
func DecideOutcome(p1Roi, p2Roi decimal.Decimal) (winner string, isTie bool) {
	delta := p1Roi.Sub(p2Roi).Abs()
	if delta.LessThan(TieEpsilon) {
		return "", true
	}
	if p1Roi.GreaterThan(p2Roi) {
		return "player1", false
	}
	return "player2", false
}

// ──────────────────────────────────────────────────────────────────────────────
// Queue entry
// ──────────────────────────────────────────────────────────────────────────────

// QueueEntry is one player's admission into the matchmaking queue for a
// given (duration, bet) pair. At most one entry per (player, duration, bet).
type QueueEntry struct {
	Player      string    `json:"player"      db:"player"`
	Duration    int64     `json:"duration"    db:"duration_seconds"`
	Bet         decimal.Decimal `json:"bet"   db:"bet_amount"`
	EloRating   *int      `json:"eloRating,omitempty" db:"elo_rating"`
	EnqueuedAt  time.Time `json:"enqueuedAt"  db:"enqueued_at"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Challenge
// ──────────────────────────────────────────────────────────────────────────────

// ChallengeStatus represents the lifecycle of a direct challenge.
type ChallengeStatus string

const (
	ChallengePending  ChallengeStatus = "pending"
	ChallengeMatched  ChallengeStatus = "matched"
	ChallengeDeclined ChallengeStatus = "declined"
	ChallengeExpired  ChallengeStatus = "expired"
)

// ChallengeExpiry is the fixed TTL for a pending challenge (§3).
const ChallengeExpiry = 5 * time.Minute

// Challenge is a direct invitation from one player to another for a
// specific (duration, bet) pair.
type Challenge struct {
	ID        uuid.UUID       `json:"id"        db:"id"`
	From      string          `json:"from"      db:"from_address"`
	To        string          `json:"to"        db:"to_address"`
	Duration  int64           `json:"duration"  db:"duration_seconds"`
	Bet       decimal.Decimal `json:"bet"       db:"bet_amount"`
	Status    ChallengeStatus `json:"status"    db:"status"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
	ExpiresAt time.Time       `json:"expiresAt" db:"expires_at"`
	MatchID   *uuid.UUID      `json:"matchId,omitempty" db:"match_id"`
}

// IsExpired reports whether the challenge's TTL has elapsed.
func (c *Challenge) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
