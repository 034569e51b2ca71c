package match

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// forfeitKey identifies one player's pending forfeit timer within a match.
type forfeitKey struct {
	matchID uuid.UUID
	player  string
}

// forfeitGrace is how long a disconnected player has to reconnect before
// their opponent is awarded the match by forfeit (§4.9).
const forfeitGrace = 60 * time.Second

// startForfeitTimer arms a new forfeit timer for (matchID, player),
// replacing any timer already running for that key so reconnect/
// disconnect churn within the grace window does not stack timers.
func (c *Controller) startForfeitTimer(matchID uuid.UUID, player string) {
	key := forfeitKey{matchID: matchID, player: player}

	c.mu.Lock()
	if existing, ok := c.forfeits[key]; ok {
		existing.Stop()
	}
	timer := time.AfterFunc(forfeitGrace, func() {
		c.onForfeitExpiry(matchID, player)
	})
	c.forfeits[key] = timer
	c.mu.Unlock()

	c.broadcastOpponentDisconnect(matchID, player)
}

// cancelForfeitTimer disarms a pending forfeit timer, called when the
// player reconnects within the grace window.
func (c *Controller) cancelForfeitTimer(matchID uuid.UUID, player string) {
	key := forfeitKey{matchID: matchID, player: player}

	c.mu.Lock()
	timer, ok := c.forfeits[key]
	if ok {
		timer.Stop()
		delete(c.forfeits, key)
	}
	c.mu.Unlock()
}

// onForfeitExpiry runs when a disconnected player's grace window elapses
// without a reconnect: the match is settled as a forfeit in the
// opponent's favor. Idempotent against the match already having been
// settled by the expiry tick loop in the meantime — settle no-ops if
// the match is no longer in the registry.
func (c *Controller) onForfeitExpiry(matchID uuid.UUID, player string) {
	c.mu.RLock()
	e, ok := c.active[matchID]
	c.mu.RUnlock()
	if !ok {
		return
	}
	if e.connected[player] {
		return // reconnected in the narrow race between timer fire and cancel
	}

	opponent := e.match.Opponent(player)
	if opponent == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.settleForfeit(ctx, e.match, opponent); err != nil {
		slog.Error("match: forfeit settlement failed", "match", matchID, "forfeiter", player, "error", err)
	}
}

func (c *Controller) clearForfeitTimers(matchID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, timer := range c.forfeits {
		if key.matchID == matchID {
			timer.Stop()
			delete(c.forfeits, key)
		}
	}
}

// wsOpponentDisconnect/wsOpponentReconnect mirror
// session.MsgOpponentDisconnect/MsgOpponentReconnect's wire values without
// importing internal/session (which would reintroduce the cycle this
// package's Broadcaster interface exists to avoid).
const (
	wsOpponentDisconnect = "opponent_disconnected"
	wsOpponentReconnect  = "opponent_reconnected"
)

func (c *Controller) broadcastOpponentDisconnect(matchID uuid.UUID, player string) {
	payload := struct {
		Type    string    `json:"type"`
		MatchID uuid.UUID `json:"matchId"`
		Player  string    `json:"player"`
	}{Type: wsOpponentDisconnect, MatchID: matchID, Player: player}
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	c.hub.BroadcastToMatchAndSpectators(matchID, b)
}

func (c *Controller) broadcastOpponentReconnect(matchID uuid.UUID, opponent, player string) {
	payload := struct {
		Type    string    `json:"type"`
		MatchID uuid.UUID `json:"matchId"`
		Player  string    `json:"player"`
	}{Type: wsOpponentReconnect, MatchID: matchID, Player: player}
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	c.hub.BroadcastToMatchAndSpectators(matchID, b)
	_ = opponent // unused; the payload names only the reconnecting player
}
