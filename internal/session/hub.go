package session

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/duelbackend/arena/internal/config"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Hub owns every live connection and the rooms they belong to: one room per
// authenticated user (duplicate tabs/devices), one per match for the two
// players, and one per match for spectators. Grounded on the teacher's
// register/unregister/broadcast channel Hub, expanded from a server-push-only
// broadcaster into a room-addressable fan-out.
type Hub struct {
	mu sync.RWMutex

	byUser      map[string]map[*Client]bool
	byMatch     map[uuid.UUID]map[*Client]bool
	bySpectator map[uuid.UUID]map[*Client]bool
	connPerUser map[string]int
	maxConnUser int

	cfg      *config.Config
	deps     Deps
	upgrader websocket.Upgrader
}

// NewHub creates an empty Hub. allowedOrigins empty means dev mode (allow
// all); deps are handed to every Client this hub creates via ServeWS.
func NewHub(cfg *config.Config, deps Deps, allowedOrigins []string) *Hub {
	return &Hub{
		byUser:      make(map[string]map[*Client]bool),
		byMatch:     make(map[uuid.UUID]map[*Client]bool),
		bySpectator: make(map[uuid.UUID]map[*Client]bool),
		connPerUser: make(map[string]int),
		maxConnUser: cfg.Session.MaxConnectionsPerUser,
		cfg:         cfg,
		deps:        deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowedOrigins) == 0 {
					return true
				}
				origin := r.Header.Get("Origin")
				for _, o := range allowedOrigins {
					if o == "*" || o == origin {
						return true
					}
				}
				return false
			},
		},
	}
}

// ServeWS upgrades an HTTP request to a WebSocket connection and runs the
// resulting Client until it disconnects. The auth/spectate handshake
// happens inside Client.Run, not here — the teacher authenticates via a
// query-param token before upgrading; this protocol instead sends the
// first WS frame, so every connection starts anonymous.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("session: ws upgrade failed", "error", err)
		return
	}
	client := NewClient(h, conn, h.cfg, h.deps)
	client.Run(r.Context())
}

// RegisterUser admits an authenticated client, rejecting it if the owner
// already has maxConnUser live connections.
func (h *Hub) RegisterUser(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.maxConnUser > 0 && h.connPerUser[c.playerAddr] >= h.maxConnUser {
		return false
	}
	set, ok := h.byUser[c.playerAddr]
	if !ok {
		set = make(map[*Client]bool)
		h.byUser[c.playerAddr] = set
	}
	set[c] = true
	h.connPerUser[c.playerAddr]++
	return true
}

// UnregisterUser removes a client from its user room and any match/spectator
// rooms it had joined.
func (h *Hub) UnregisterUser(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if set, ok := h.byUser[c.playerAddr]; ok {
		if _, present := set[c]; present {
			delete(set, c)
			h.connPerUser[c.playerAddr]--
			if len(set) == 0 {
				delete(h.byUser, c.playerAddr)
				delete(h.connPerUser, c.playerAddr)
			}
		}
	}
	for matchID, set := range h.byMatch {
		if _, present := set[c]; present {
			delete(set, c)
			if len(set) == 0 {
				delete(h.byMatch, matchID)
			}
		}
	}
	for matchID, set := range h.bySpectator {
		if _, present := set[c]; present {
			delete(set, c)
			if len(set) == 0 {
				delete(h.bySpectator, matchID)
			}
		}
	}
}

// JoinMatchRoom adds a client (a participant, not a spectator) to a match
// room so it receives price/position/opponent events for that match.
func (h *Hub) JoinMatchRoom(matchID uuid.UUID, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.byMatch[matchID]
	if !ok {
		set = make(map[*Client]bool)
		h.byMatch[matchID] = set
	}
	set[c] = true
}

// JoinSpectatorRoom adds a read-only observer to a match's spectator room.
func (h *Hub) JoinSpectatorRoom(matchID uuid.UUID, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.bySpectator[matchID]
	if !ok {
		set = make(map[*Client]bool)
		h.bySpectator[matchID] = set
	}
	set[c] = true
}

// ConnectedUsers reports how many distinct user connections are currently
// attached to a match's primary room.
func (h *Hub) ConnectedUsers(matchID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byMatch[matchID])
}

// BroadcastToUser sends a message to every connection belonging to one
// player address (duplicate tabs/devices all receive it).
func (h *Hub) BroadcastToUser(addr string, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.byUser[addr] {
		c.enqueue(msg)
	}
}

// BroadcastToMatch sends a message to a match's two participants only.
func (h *Hub) BroadcastToMatch(matchID uuid.UUID, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.byMatch[matchID] {
		c.enqueue(msg)
	}
}

// BroadcastToSpectators sends a message to a match's spectator room only.
func (h *Hub) BroadcastToSpectators(matchID uuid.UUID, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.bySpectator[matchID] {
		c.enqueue(msg)
	}
}

// BroadcastToMatchAndSpectators is the common case: an event both
// participants and onlookers should see (price ticks, position changes,
// match end).
func (h *Hub) BroadcastToMatchAndSpectators(matchID uuid.UUID, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.byMatch[matchID] {
		c.enqueue(msg)
	}
	for c := range h.bySpectator[matchID] {
		c.enqueue(msg)
	}
}
