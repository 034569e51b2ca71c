// Package match drives the in-memory lifecycle of every active match:
// tracking which players are connected, ticking price/auto-close loops,
// running the per-player forfeit timer, and settling a match once its
// clock runs out or a player fails to reconnect (§4.7-§4.11). Grounded on
// the teacher's internal/scheduler/scheduler.go ticker/goroutine idiom,
// generalized from a single shared market loop into a registry the
// Controller ticks over once per interval.
package match

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/duelbackend/arena/internal/config"
	"github.com/duelbackend/arena/internal/domain"
	"github.com/duelbackend/arena/internal/ledger"
	"github.com/duelbackend/arena/internal/position"
	"github.com/duelbackend/arena/internal/repository"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Broadcaster is the subset of session.Hub the match controller needs to
// push events to connected clients. Declared locally so this package does
// not import internal/session; the session layer in turn reaches the
// Controller through its own locally declared MatchGateway interface.
type Broadcaster interface {
	BroadcastToUser(addr string, msg []byte)
	BroadcastToMatch(matchID uuid.UUID, msg []byte)
	BroadcastToSpectators(matchID uuid.UUID, msg []byte)
	BroadcastToMatchAndSpectators(matchID uuid.UUID, msg []byte)
}

// PriceSource is the subset of the price oracle the controller needs.
// Declared locally, same as internal/position.PriceSource.
type PriceSource interface {
	GetSnapshot(ctx context.Context) (domain.PriceSnapshot, error)
}

// entry is one live match tracked by the registry, plus the set of
// addresses currently connected to it (for forfeit/reconnect bookkeeping).
type entry struct {
	match     *domain.Match
	connected map[string]bool
}

// Controller owns the in-memory registry of active matches and the
// background loops that broadcast state, auto-close triggered positions,
// and settle matches at their end time.
type Controller struct {
	db        *sqlx.DB
	matches   *repository.MatchRepository
	users     *repository.UserRepository
	positions *position.Service
	ledger    *ledger.Service
	prices    PriceSource
	hub       Broadcaster
	cfg       *config.Config

	mu       sync.RWMutex
	active   map[uuid.UUID]*entry
	forfeits map[forfeitKey]*time.Timer
}

// New creates a Controller with an empty registry. Call Rehydrate before
// Start to pick up matches that were active when the process last stopped.
func New(db *sqlx.DB, matches *repository.MatchRepository, users *repository.UserRepository, positions *position.Service, ledgerSvc *ledger.Service, prices PriceSource, hub Broadcaster, cfg *config.Config) *Controller {
	return &Controller{
		db:        db,
		matches:   matches,
		users:     users,
		positions: positions,
		ledger:    ledgerSvc,
		prices:    prices,
		hub:       hub,
		cfg:       cfg,
		active:    make(map[uuid.UUID]*entry),
		forfeits:  make(map[forfeitKey]*time.Timer),
	}
}

// SetBroadcaster wires the hub in after construction, resolving the
// circular dependency between Controller (which session.Hub's Deps needs as
// a MatchGateway) and the hub itself (which Controller needs to push
// events). Mirrors the teacher's SetRefunder/SetRebalancer setter-injection
// idiom for the same kind of cycle.
func (c *Controller) SetBroadcaster(hub Broadcaster) {
	c.hub = hub
}

// Rehydrate loads every active match from Postgres into the registry on
// process start, so a restart does not orphan live matches.
func (c *Controller) Rehydrate(ctx context.Context) error {
	matches, err := c.matches.GetActive(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range matches {
		if m.Status != domain.MatchActive {
			continue
		}
		c.active[m.ID] = &entry{match: m, connected: make(map[string]bool)}
	}
	return nil
}

// Register adds a freshly created match to the registry, called by the
// matchmaking/challenge services right after they persist it.
func (c *Controller) Register(m *domain.Match) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active[m.ID] = &entry{match: m, connected: make(map[string]bool)}
}

// Start launches the broadcast and auto-close tick loops. Each loop
// recovers from panics and logs rather than taking the process down,
// mirroring the teacher's recoverAndLog wrapper.
func (c *Controller) Start(ctx context.Context) {
	go c.runLoop(ctx, "match-broadcast", broadcastInterval, c.tickBroadcast)
	go c.runLoop(ctx, "match-autoclose", autoCloseInterval, c.tickAutoClose)
	go c.runLoop(ctx, "match-expiry", expiryCheckInterval, c.tickExpiry)
}

func (c *Controller) runLoop(ctx context.Context, name string, interval time.Duration, tick func(context.Context)) {
	defer c.recoverAndLog(name)
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

func (c *Controller) recoverAndLog(name string) {
	if r := recover(); r != nil {
		slog.Error("match: loop panicked", "loop", name, "panic", r)
	}
}

func (c *Controller) snapshotActive() []*domain.Match {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*domain.Match, 0, len(c.active))
	for _, e := range c.active {
		out = append(out, e.match)
	}
	return out
}

// ──────────────────────────────────────────────────────────────────────────────
// session.MatchGateway implementation
// ──────────────────────────────────────────────────────────────────────────────

// IsParticipant reports whether player is one of matchID's two players.
func (c *Controller) IsParticipant(matchID uuid.UUID, player string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.active[matchID]
	if !ok {
		return false
	}
	return e.match.HasPlayer(player)
}

// MatchExists reports whether matchID is a currently tracked (active)
// match, used by the session layer to reject a spectate_match for an
// unknown match with close code 4004.
func (c *Controller) MatchExists(matchID uuid.UUID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.active[matchID]
	return ok
}

// GetMatch returns matchID's current state, preferring the live in-memory
// record and falling back to the persisted row for a match that already
// settled and left the registry — the session layer's join_match
// snapshot/match_end re-send needs both views (§4.10).
func (c *Controller) GetMatch(ctx context.Context, matchID uuid.UUID) (*domain.Match, error) {
	c.mu.RLock()
	e, ok := c.active[matchID]
	c.mu.RUnlock()
	if ok {
		return e.match, nil
	}
	return c.matches.GetByID(ctx, matchID)
}

// PlayerJoined marks a participant as connected, cancelling any pending
// forfeit timer for them (§4.9).
func (c *Controller) PlayerJoined(ctx context.Context, matchID uuid.UUID, player string) error {
	c.mu.Lock()
	e, ok := c.active[matchID]
	if !ok {
		c.mu.Unlock()
		return domain.ErrMatchNotFound
	}
	if !e.match.HasPlayer(player) {
		c.mu.Unlock()
		return domain.ErrNotAPlayer
	}
	e.connected[player] = true
	c.mu.Unlock()

	c.cancelForfeitTimer(matchID, player)
	return nil
}

// PlayerDisconnected starts the forfeit grace timer for player if this was
// their last live connection to the match (§4.9). Called from the session
// layer's connection cleanup path; it does not itself know whether the
// player has another tab open, so the caller (Client.cleanup) only calls
// this when no other connection of the player remains in that match's
// room.
func (c *Controller) PlayerDisconnected(ctx context.Context, matchID uuid.UUID, player string) {
	c.mu.Lock()
	e, ok := c.active[matchID]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(e.connected, player)
	c.mu.Unlock()

	c.startForfeitTimer(matchID, player)
}

// PlayerReconnected is an explicit hook mirroring PlayerJoined for the
// "was already spectating/joined, rejoined the same match" path in the
// session layer's handshake; forfeit cancellation already happens in
// PlayerJoined, so this only broadcasts the reconnect notice.
func (c *Controller) PlayerReconnected(ctx context.Context, matchID uuid.UUID, player string) {
	c.mu.RLock()
	e, ok := c.active[matchID]
	c.mu.RUnlock()
	if !ok {
		return
	}
	opponent := e.match.Opponent(player)
	c.broadcastOpponentReconnect(matchID, opponent, player)
}
