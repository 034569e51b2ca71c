package handler

import (
	"net/http"

	"github.com/duelbackend/arena/internal/api/middleware"
	"github.com/duelbackend/arena/internal/match"
	"github.com/duelbackend/arena/internal/matchmaking"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// QueueHandler serves matchmaking-queue reads and mutations (§4.6). The WS
// layer drives join/leave for connected clients directly; these endpoints
// exist for callers that don't hold an open socket (e.g. re-joining after a
// drop, or an out-of-band dashboard).
type QueueHandler struct {
	queue    *matchmaking.Service
	matches  *match.Controller
}

// NewQueueHandler creates a QueueHandler.
func NewQueueHandler(queue *matchmaking.Service, matches *match.Controller) *QueueHandler {
	return &QueueHandler{queue: queue, matches: matches}
}

// Join godoc
// POST /queue/join [auth required]
func (h *QueueHandler) Join(c *gin.Context) {
	var body struct {
		Duration  int64           `json:"duration"  binding:"required"`
		Bet       decimal.Decimal `json:"bet"       binding:"required"`
		EloRating *int            `json:"eloRating"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	address := middleware.GetAddress(c)
	m, err := h.queue.JoinQueue(c.Request.Context(), address, body.Duration, body.Bet, body.EloRating)
	if err != nil {
		respondDomainErr(c, err)
		return
	}
	if m == nil {
		respondSuccess(c, http.StatusOK, gin.H{"queued": true})
		return
	}
	h.matches.Register(m)
	respondSuccess(c, http.StatusOK, gin.H{"queued": false, "match": m})
}

// Leave godoc
// DELETE /queue/leave [auth required]
func (h *QueueHandler) Leave(c *gin.Context) {
	var body struct {
		Duration int64           `json:"duration" binding:"required"`
		Bet      decimal.Decimal `json:"bet"      binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	address := middleware.GetAddress(c)
	if err := h.queue.LeaveQueue(c.Request.Context(), address, body.Duration, body.Bet); err != nil {
		respondDomainErr(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"left": true})
}

// Stats godoc
// GET /queue/stats
func (h *QueueHandler) Stats(c *gin.Context) {
	respondSuccess(c, http.StatusOK, h.queue.Stats())
}
