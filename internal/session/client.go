package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/duelbackend/arena/internal/config"
	"github.com/duelbackend/arena/internal/domain"
	"github.com/duelbackend/arena/internal/ledger"
	"github.com/duelbackend/arena/internal/matchmaking"
	"github.com/duelbackend/arena/internal/position"
	"github.com/duelbackend/arena/internal/repository"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// authTimeout bounds how long an unauthenticated connection may sit idle
// before the server closes it (§4.10 handshake).
const authTimeout = 5 * time.Second

// WS close codes (§6.2).
const (
	closeCodeAuthTimeout        = 4001
	closeCodeSpectateNoMatch    = 4004
	closeCodeTooManyConnections = 4008
)

// MatchGateway is the subset of the match controller (match.Controller) the
// session layer needs: joining an existing match's room and reacting to
// connect/disconnect for the forfeit timer. Declared locally so this package
// does not import internal/match; the controller in turn broadcasts through
// its own locally declared Broadcaster interface.
type MatchGateway interface {
	PlayerJoined(ctx context.Context, matchID uuid.UUID, player string) error
	PlayerDisconnected(ctx context.Context, matchID uuid.UUID, player string)
	PlayerReconnected(ctx context.Context, matchID uuid.UUID, player string)
	IsParticipant(matchID uuid.UUID, player string) bool
	MatchExists(matchID uuid.UUID) bool
	Register(m *domain.Match)
	GetMatch(ctx context.Context, matchID uuid.UUID) (*domain.Match, error)
}

// PriceSource is the subset of the price oracle the session layer needs to
// push a fresh price_update on join_match. Declared locally, same as
// internal/position.PriceSource and internal/match.PriceSource.
type PriceSource interface {
	GetSnapshot(ctx context.Context) (domain.PriceSnapshot, error)
}

// Client is one authenticated (or pending-auth) WebSocket connection.
// Grounded on the teacher's ws.Client, expanded with auth state, a
// per-connection rate limiter, and the match/spectator room it has joined.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	cfg *config.Config

	queue     *matchmaking.Service
	positions *position.Service
	matches   MatchGateway
	ledger    *ledger.Service
	users     *repository.UserRepository
	prices    PriceSource

	limiter *connLimiter

	playerAddr string
	authed     bool

	spectating  uuid.UUID
	isSpectator bool
}

// Deps bundles the service collaborators a Client dispatches commands to.
type Deps struct {
	Queue     *matchmaking.Service
	Positions *position.Service
	Matches   MatchGateway
	Ledger    *ledger.Service
	Users     *repository.UserRepository
	Prices    PriceSource
}

// NewClient wraps an upgraded WS connection. The caller must start Run in
// its own goroutine.
func NewClient(hub *Hub, conn *websocket.Conn, cfg *config.Config, deps Deps) *Client {
	return &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, 256),
		cfg:       cfg,
		queue:     deps.Queue,
		positions: deps.Positions,
		matches:   deps.Matches,
		ledger:    deps.Ledger,
		users:     deps.Users,
		prices:    deps.Prices,
		limiter:   newConnLimiter(cfg.Session.RateLimitPerSecond, cfg.Session.RateLimitBurst),
	}
}

// enqueue drops the message if the send buffer is full rather than blocking
// the hub — a slow reader must not stall broadcasts to everyone else.
func (c *Client) enqueue(msg []byte) {
	select {
	case c.send <- msg:
	default:
		slog.Warn("session: send buffer full, dropping message", "player", c.playerAddr)
	}
}

// Run drives the connection: the auth/spectate handshake, then the
// read/write pumps, until the connection closes.
func (c *Client) Run(ctx context.Context) {
	defer c.cleanup(ctx)

	if !c.handshake(ctx) {
		return
	}

	go c.writePump()
	c.readPump(ctx)
}

// handshake waits for the first message to be `auth` or `spectate_match`
// within authTimeout, closing the connection on timeout or invalid token.
func (c *Client) handshake(ctx context.Context) bool {
	_ = c.conn.SetReadDeadline(time.Now().Add(authTimeout))
	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		return false
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.closeWithCode(closeCodeAuthTimeout, "invalid handshake")
		return false
	}

	switch env.Type {
	case MsgAuth:
		var p AuthPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			c.closeWithCode(closeCodeAuthTimeout, "invalid auth payload")
			return false
		}
		addr, err := verifyToken([]byte(c.cfg.JWT.AccessSecret), p.Token)
		if err != nil {
			c.closeWithCode(closeCodeAuthTimeout, "invalid token")
			return false
		}
		c.playerAddr = addr
		c.authed = true
		if !c.hub.RegisterUser(c) {
			c.sendError("", "too_many_connections", domain.ErrTooManyConnections.Error())
			c.closeWithCode(closeCodeTooManyConnections, "too many connections")
			return false
		}
		c.sendJSON(struct {
			Type MsgType `json:"type"`
		}{Type: MsgAuthOK})
		if snap, err := c.ledger.ReconcileFrozenBalance(ctx, c.playerAddr); err != nil {
			slog.Warn("session: reconcile frozen balance failed", "player", c.playerAddr, "error", err)
		} else {
			c.sendJSON(BalanceUpdate{Type: MsgBalanceUpdate, BalanceSnapshot: snap})
		}
		return true

	case MsgSpectateMatch:
		var p SpectateMatchPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			c.closeWithCode(closeCodeAuthTimeout, "invalid spectate payload")
			return false
		}
		if !c.matches.MatchExists(p.MatchID) {
			c.closeWithCode(closeCodeSpectateNoMatch, "match not found")
			return false
		}
		c.isSpectator = true
		c.spectating = p.MatchID
		c.hub.JoinSpectatorRoom(p.MatchID, c)
		return true

	default:
		c.closeWithCode(closeCodeAuthTimeout, "first message must be auth or spectate_match")
		return false
	}
}

func (c *Client) closeWithCode(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = c.conn.Close()
}

func (c *Client) cleanup(ctx context.Context) {
	c.hub.UnregisterUser(c)
	_ = c.conn.Close()
	if c.authed && !c.isSpectator && c.spectating != uuid.Nil {
		c.hub.mu.RLock()
		stillConnected := false
		for other := range c.hub.byMatch[c.spectating] {
			if other.playerAddr == c.playerAddr {
				stillConnected = true
				break
			}
		}
		c.hub.mu.RUnlock()
		if !stillConnected {
			c.matches.PlayerDisconnected(ctx, c.spectating, c.playerAddr)
		}
	}
}

// writePump drains send and forwards it to the socket, pinging on an idle
// timer per the teacher's pattern.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.Session.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump dispatches inbound commands, rejecting oversized messages and
// over-limit callers before decoding.
func (c *Client) readPump(ctx context.Context) {
	c.conn.SetReadLimit(c.cfg.Session.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.Session.PongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.Session.PongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if !c.limiter.allow() {
			c.sendError(rejectedPositionID(raw), "rate_limited", domain.ErrRateLimited.Error())
			continue
		}
		c.dispatch(ctx, raw)
	}
}

// rejectedPositionID pulls the client-supplied positionId out of a
// rate-limited open_position frame so the client can roll back its
// optimistic UI entry (§4.10); any other message type, or a malformed
// frame, yields an empty id.
func rejectedPositionID(raw []byte) string {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type != MsgOpenPosition {
		return ""
	}
	var p OpenPositionPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return ""
	}
	return p.PositionID
}

func (c *Client) dispatch(ctx context.Context, raw []byte) {
	if c.isSpectator {
		c.sendError("", "forbidden", domain.ErrSpectatorForbidden.Error())
		return
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.sendError("", "bad_request", "malformed message")
		return
	}

	switch env.Type {
	case MsgJoinQueue:
		c.handleJoinQueue(ctx, raw)
	case MsgLeaveQueue:
		c.handleLeaveQueue(ctx, raw)
	case MsgJoinMatch:
		c.handleJoinMatch(ctx, raw)
	case MsgOpenPosition:
		c.handleOpenPosition(ctx, raw)
	case MsgClosePosition:
		c.handleClosePosition(ctx, raw)
	case MsgPartialClose:
		c.handlePartialClose(ctx, raw)
	case MsgChatMessage:
		c.handleChatMessage(ctx, raw)
	default:
		c.sendError("", "unknown_event_type", domain.ErrUnknownEventType.Error())
	}
}

func (c *Client) handleJoinQueue(ctx context.Context, raw []byte) {
	var p JoinQueuePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		c.sendError("", "bad_request", "invalid join_queue payload")
		return
	}
	match, err := c.queue.JoinQueue(ctx, c.playerAddr, p.Duration, p.Bet, nil)
	if err != nil {
		c.sendError("", "queue_error", err.Error())
		return
	}
	if match == nil {
		c.sendJSON(struct {
			Type MsgType `json:"type"`
		}{Type: MsgQueueJoined})
		c.sendBalanceUpdate(ctx)
		return
	}
	c.matches.Register(match)
	c.notifyMatchFound(match.ID, match.Player1, match.Player2)
	c.sendBalanceUpdate(ctx)
}

// sendBalanceUpdate pushes the caller's current {total,frozen,available}
// view (§4.2, §4.10), sent after any command that may have moved the
// caller's balance or frozen amount.
func (c *Client) sendBalanceUpdate(ctx context.Context) {
	snap, err := c.ledger.GetBalance(ctx, c.playerAddr)
	if err != nil {
		slog.Warn("session: balance lookup failed", "player", c.playerAddr, "error", err)
		return
	}
	c.sendJSON(BalanceUpdate{Type: MsgBalanceUpdate, BalanceSnapshot: snap})
}

func (c *Client) notifyMatchFound(matchID uuid.UUID, p1, p2 string) {
	payload := struct {
		Type    MsgType   `json:"type"`
		MatchID uuid.UUID `json:"matchId"`
	}{Type: MsgMatchFound, MatchID: matchID}
	b, _ := json.Marshal(payload)
	c.hub.BroadcastToUser(p1, b)
	c.hub.BroadcastToUser(p2, b)
}

func (c *Client) handleLeaveQueue(ctx context.Context, raw []byte) {
	var p LeaveQueuePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		c.sendError("", "bad_request", "invalid leave_queue payload")
		return
	}
	var err error
	if p.Duration != nil && p.Bet != nil {
		err = c.queue.LeaveQueue(ctx, c.playerAddr, *p.Duration, *p.Bet)
	} else {
		err = c.queue.RemoveFromAllQueues(ctx, c.playerAddr)
	}
	if err != nil {
		c.sendError("", "queue_error", err.Error())
		return
	}
	c.sendJSON(struct {
		Type MsgType `json:"type"`
	}{Type: MsgQueueLeft})
	c.sendBalanceUpdate(ctx)
}

func (c *Client) handleJoinMatch(ctx context.Context, raw []byte) {
	var p JoinMatchPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		c.sendError("", "bad_request", "invalid join_match payload")
		return
	}
	if !c.matches.IsParticipant(p.MatchID, c.playerAddr) {
		c.sendError("", "forbidden", "not a participant in this match")
		return
	}
	reconnecting := c.spectating != uuid.Nil && c.spectating == p.MatchID
	c.spectating = p.MatchID
	c.hub.JoinMatchRoom(p.MatchID, c)
	if err := c.matches.PlayerJoined(ctx, p.MatchID, c.playerAddr); err != nil {
		c.sendError("", "match_error", err.Error())
		return
	}
	if reconnecting {
		c.matches.PlayerReconnected(ctx, p.MatchID, c.playerAddr)
	}
	c.sendJoinMatchState(ctx, p.MatchID)
}

// sendJoinMatchState brings a freshly joined or reconnected client up to
// speed (§4.10): a price_update snapshot, then either the match's live
// positions or — if it already settled before the client joined — its
// terminal result, so the client never has to wait for the next tick to
// see where things stand.
func (c *Client) sendJoinMatchState(ctx context.Context, matchID uuid.UUID) {
	if snap, err := c.prices.GetSnapshot(ctx); err != nil {
		slog.Warn("session: join_match: price snapshot unavailable", "match", matchID, "error", err)
	} else {
		c.sendJSON(struct {
			Type MsgType `json:"type"`
			domain.PriceSnapshot
		}{Type: MsgPriceUpdate, PriceSnapshot: snap})
	}

	m, err := c.matches.GetMatch(ctx, matchID)
	if err != nil {
		slog.Warn("session: join_match: match lookup failed", "match", matchID, "error", err)
		return
	}

	if m.Status.IsTerminal() {
		var p1Roi, p2Roi decimal.Decimal
		if m.Player1Roi != nil {
			p1Roi = *m.Player1Roi
		}
		if m.Player2Roi != nil {
			p2Roi = *m.Player2Roi
		}
		c.sendJSON(MatchEndPayload{
			Type:       MsgMatchEnd,
			MatchID:    m.ID,
			Status:     m.Status,
			Winner:     m.Winner,
			Player1Roi: p1Roi,
			Player2Roi: p2Roi,
		})
		return
	}

	positions, err := c.positions.Repo().GetOpenByMatch(ctx, matchID)
	if err != nil {
		slog.Warn("session: join_match: open positions lookup failed", "match", matchID, "error", err)
	}
	balance, err := c.ledger.GetBalance(ctx, c.playerAddr)
	if err != nil {
		slog.Warn("session: join_match: balance lookup failed", "player", c.playerAddr, "error", err)
	}
	c.sendJSON(MatchSnapshot{
		Type:      MsgMatchSnapshot,
		MatchID:   matchID,
		Positions: positions,
		Balance:   balance,
	})
}

func (c *Client) handleOpenPosition(ctx context.Context, raw []byte) {
	var p OpenPositionPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		c.sendError("", "bad_request", "invalid open_position payload")
		return
	}
	if !c.matches.IsParticipant(p.MatchID, c.playerAddr) {
		c.sendError(p.PositionID, "forbidden", "not a participant in this match")
		return
	}
	pos := &domain.Position{
		ID:            p.PositionID,
		MatchID:       p.MatchID,
		PlayerAddress: c.playerAddr,
		Asset:         domain.Asset(p.Asset),
		IsLong:        p.IsLong,
		Size:          p.Size,
		Leverage:      p.Leverage,
		SL:            p.SL,
		TP:            p.TP,
	}
	opened, err := c.positions.Open(ctx, pos)
	if err != nil {
		c.sendError(p.PositionID, "position_error", err.Error())
		return
	}
	c.broadcastPositionEvent(MsgPositionOpened, p.MatchID, opened)
}

func (c *Client) handleClosePosition(ctx context.Context, raw []byte) {
	var p ClosePositionPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		c.sendError("", "bad_request", "invalid close_position payload")
		return
	}
	closed, err := c.positions.Close(ctx, p.PositionID)
	if err != nil {
		c.sendError(p.PositionID, "position_error", err.Error())
		return
	}
	c.broadcastPositionEvent(MsgPositionClosed, p.MatchID, closed)
}

func (c *Client) handlePartialClose(ctx context.Context, raw []byte) {
	var p PartialClosePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		c.sendError("", "bad_request", "invalid partial_close payload")
		return
	}
	closed, err := c.positions.PartialClose(ctx, p.PositionID, p.Fraction)
	if err != nil {
		c.sendError(p.PositionID, "position_error", err.Error())
		return
	}
	c.broadcastPositionEvent(MsgPositionClosed, p.MatchID, closed)
}

func (c *Client) broadcastPositionEvent(t MsgType, matchID uuid.UUID, pos *domain.Position) {
	payload := struct {
		Type     MsgType          `json:"type"`
		Position *domain.Position `json:"position"`
	}{Type: t, Position: pos}
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	c.hub.BroadcastToMatchAndSpectators(matchID, b)
}

func (c *Client) handleChatMessage(ctx context.Context, raw []byte) {
	var p ChatMessagePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		c.sendError("", "bad_request", "invalid chat_message payload")
		return
	}
	if !c.matches.IsParticipant(p.MatchID, c.playerAddr) {
		c.sendError("", "forbidden", "not a participant in this match")
		return
	}
	clean, ok := domain.SanitizeGamerTag(p.Content)
	if !ok {
		c.sendError("", "bad_request", "empty chat content")
		return
	}
	senderTag := c.playerAddr
	if u, err := c.users.GetByAddress(ctx, c.playerAddr); err == nil && u.GamerTag != "" {
		senderTag = u.GamerTag
	}
	msg := ChatBroadcast{
		Type:      MsgChatMessage,
		MatchID:   p.MatchID,
		Sender:    c.playerAddr,
		SenderTag: senderTag,
		Content:   clean,
		Timestamp: time.Now().UTC(),
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.hub.BroadcastToMatchAndSpectators(p.MatchID, b)
}

func (c *Client) sendJSON(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.enqueue(b)
}

func (c *Client) sendError(positionID, code, message string) {
	c.sendJSON(ErrorMessage{Type: MsgError, Code: code, Message: message, PositionID: positionID})
}
