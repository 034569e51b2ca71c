package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// User
// ──────────────────────────────────────────────────────────────────────────────

// User identifies a player by their on-chain wallet address. The account is
// created lazily on first successful auth; there is no registration flow
// (auth/JWT issuance itself is out of scope, see spec §1 Non-goals).
type User struct {
	Address       string          `json:"address"        db:"address"`
	GamerTag      string          `json:"gamerTag"       db:"gamer_tag"`
	Wins          int             `json:"wins"           db:"wins"`
	Losses        int             `json:"losses"         db:"losses"`
	Ties          int             `json:"ties"           db:"ties"`
	TotalPnl      decimal.Decimal `json:"totalPnl"       db:"total_pnl"`
	GamesPlayed   int             `json:"gamesPlayed"    db:"games_played"`
	CurrentStreak int             `json:"currentStreak"  db:"current_streak"`
	BestStreak    int             `json:"bestStreak"     db:"best_streak"`
	ClanID        *string         `json:"clanId,omitempty" db:"clan_id"`
	CreatedAt     time.Time       `json:"createdAt"      db:"created_at"`
	UpdatedAt     time.Time       `json:"updatedAt"      db:"updated_at"`
}

// SanitizeGamerTag strips C0 control characters and DEL, trims to 16 runes,
// and reports whether anything printable remains. Mirrors the chat-content
// sanitisation used for chat_message (see Position engine / session layer).
func SanitizeGamerTag(raw string) (string, bool) {
	clean := stripControlChars(raw)
	clean = strings.TrimSpace(clean)
	if clean == "" {
		return "", false
	}
	runes := []rune(clean)
	if len(runes) > 16 {
		runes = runes[:16]
	}
	return string(runes), true
}

// stripControlChars removes C0 control characters (0x00-0x1f) and DEL
// (0x7f) from s. Used for gamer tags and chat content alike.
func stripControlChars(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == 0x7f || r < 0x20 {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// MatchOutcome enumerates the per-player result of one settled match, used
// to update running stats.
type MatchOutcome string

const (
	OutcomeWin  MatchOutcome = "win"
	OutcomeLoss MatchOutcome = "loss"
	OutcomeTie  MatchOutcome = "tie"
)

// RecordResult applies the outcome of one settled match to the user's
// running stats. pnl is the player's own realised PnL for that match (may
// be negative). Call exactly once per settled match per player; stats are
// monotone except on explicit admin reversal (see spec §3).
func (u *User) RecordResult(outcome MatchOutcome, pnl decimal.Decimal) {
	u.GamesPlayed++
	u.TotalPnl = u.TotalPnl.Add(pnl)
	switch outcome {
	case OutcomeWin:
		u.Wins++
		u.CurrentStreak++
		if u.CurrentStreak > u.BestStreak {
			u.BestStreak = u.CurrentStreak
		}
	case OutcomeLoss:
		u.Losses++
		u.CurrentStreak = 0
	case OutcomeTie:
		u.Ties++
	}
}
