// Package session implements the WebSocket session layer (§4.10): the
// auth/spectate handshake, heartbeats, per-connection rate limiting, rooms
// (user/match/spectator), and the bidirectional command protocol.
package session

import (
	"time"

	"github.com/duelbackend/arena/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MsgType identifies the kind of WS message so clients can switch on it.
type MsgType string

const (
	// Client → server
	MsgAuth          MsgType = "auth"
	MsgSpectateMatch MsgType = "spectate_match"
	MsgJoinQueue     MsgType = "join_queue"
	MsgLeaveQueue    MsgType = "leave_queue"
	MsgJoinMatch     MsgType = "join_match"
	MsgOpenPosition  MsgType = "open_position"
	MsgClosePosition MsgType = "close_position"
	MsgPartialClose  MsgType = "partial_close"
	MsgChatMessage   MsgType = "chat_message"

	// Server → client
	MsgAuthOK             MsgType = "auth_ok"
	MsgError              MsgType = "error"
	MsgBalanceUpdate      MsgType = "balance_update"
	MsgQueueJoined        MsgType = "queue_joined"
	MsgQueueLeft          MsgType = "queue_left"
	MsgMatchFound         MsgType = "match_found"
	MsgMatchSnapshot      MsgType = "match_snapshot"
	MsgMatchEnd           MsgType = "match_end"
	MsgPriceUpdate        MsgType = "price_update"
	MsgOpponentUpdate     MsgType = "opponent_update"
	MsgSpectatorUpdate    MsgType = "spectator_update"
	MsgPositionOpened     MsgType = "position_opened"
	MsgPositionClosed     MsgType = "position_closed"
	MsgOpponentDisconnect MsgType = "opponent_disconnected"
	MsgOpponentReconnect  MsgType = "opponent_reconnected"
)

// Envelope is the outer shape every inbound command must have; Payload is
// re-decoded per command type once Type is known.
type Envelope struct {
	Type MsgType `json:"type"`
}

// AuthPayload is the first message on a new connection (§4.10 handshake).
type AuthPayload struct {
	Token string `json:"token"`
}

// SpectateMatchPayload flags a connection read-only and joins a match's
// spectator room.
type SpectateMatchPayload struct {
	MatchID uuid.UUID `json:"matchId"`
}

// JoinQueuePayload admits the caller into a (duration, bet) queue.
type JoinQueuePayload struct {
	Duration int64           `json:"duration"`
	Bet      decimal.Decimal `json:"bet"`
}

// LeaveQueuePayload removes the caller from one or all queues.
type LeaveQueuePayload struct {
	Duration *int64           `json:"duration,omitempty"`
	Bet      *decimal.Decimal `json:"bet,omitempty"`
}

// JoinMatchPayload requests joining an existing match's room.
type JoinMatchPayload struct {
	MatchID uuid.UUID `json:"matchId"`
}

// OpenPositionPayload opens a new leveraged position.
type OpenPositionPayload struct {
	MatchID    uuid.UUID        `json:"matchId"`
	Asset      string           `json:"asset"`
	IsLong     bool             `json:"isLong"`
	Size       decimal.Decimal  `json:"size"`
	Leverage   int              `json:"leverage"`
	SL         *decimal.Decimal `json:"sl,omitempty"`
	TP         *decimal.Decimal `json:"tp,omitempty"`
	PositionID string           `json:"positionId,omitempty"`
}

// ClosePositionPayload manually closes an open position.
type ClosePositionPayload struct {
	MatchID    uuid.UUID `json:"matchId"`
	PositionID string    `json:"positionId"`
}

// PartialClosePayload splits off a fraction of an open position.
type PartialClosePayload struct {
	MatchID    uuid.UUID       `json:"matchId"`
	PositionID string          `json:"positionId"`
	Fraction   decimal.Decimal `json:"fraction"`
}

// ChatMessagePayload is a match-room chat line.
type ChatMessagePayload struct {
	MatchID uuid.UUID `json:"matchId"`
	Content string    `json:"content"`
}

// ── Outbound envelopes ──────────────────────────────────────────────────────

// ErrorMessage is sent directly to one client on a rejected command.
type ErrorMessage struct {
	Type       MsgType `json:"type"`
	Code       string  `json:"code"`
	Message    string  `json:"message"`
	PositionID string  `json:"positionId,omitempty"`
}

// ChatBroadcast is relayed to a match room and its spectators.
type ChatBroadcast struct {
	Type      MsgType   `json:"type"`
	MatchID   uuid.UUID `json:"matchId"`
	Sender    string    `json:"sender"`
	SenderTag string    `json:"senderTag"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// BalanceUpdate pushes the caller's current {total,frozen,available} view.
// Sent after the handshake and after join_queue/leave_queue (§4.2, §4.10) —
// anywhere a mutation may have moved the caller's balance or frozen amount.
// On join_match the balance travels inside MatchSnapshot instead.
type BalanceUpdate struct {
	Type MsgType `json:"type"`
	domain.BalanceSnapshot
}

// MatchSnapshot is sent on join_match for a still-active match, so a fresh
// join or a reconnect picks up the match's live state immediately instead
// of waiting for the next broadcast tick (§4.10).
type MatchSnapshot struct {
	Type      MsgType                `json:"type"`
	MatchID   uuid.UUID              `json:"matchId"`
	Positions []*domain.Position     `json:"positions"`
	Balance   domain.BalanceSnapshot `json:"balance"`
}

// MatchEndPayload re-sends the terminal result of a match that already
// settled by the time the caller joins or reconnects (§4.10), mirroring the
// wire shape internal/match's own settlement broadcast uses.
type MatchEndPayload struct {
	Type       MsgType            `json:"type"`
	MatchID    uuid.UUID          `json:"matchId"`
	Status     domain.MatchStatus `json:"status"`
	Winner     *string            `json:"winner,omitempty"`
	Player1Roi decimal.Decimal    `json:"player1Roi"`
	Player2Roi decimal.Decimal    `json:"player2Roi"`
}
