package handler

import (
	"net/http"

	"github.com/duelbackend/arena/internal/api/middleware"
	"github.com/duelbackend/arena/internal/match"
	"github.com/duelbackend/arena/internal/matchmaking"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ChallengeHandler serves the direct-challenge surface (§4.8): create,
// accept, decline, and list pending.
type ChallengeHandler struct {
	challenges *matchmaking.ChallengeService
	matches    *match.Controller
}

// NewChallengeHandler creates a ChallengeHandler.
func NewChallengeHandler(challenges *matchmaking.ChallengeService, matches *match.Controller) *ChallengeHandler {
	return &ChallengeHandler{challenges: challenges, matches: matches}
}

// Pending godoc
// GET /challenge/pending [auth required]
func (h *ChallengeHandler) Pending(c *gin.Context) {
	address := middleware.GetAddress(c)
	list, err := h.challenges.PendingFor(c.Request.Context(), address)
	if err != nil {
		respondDomainErr(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, list)
}

// Create godoc
// POST /challenge/create [auth required]
func (h *ChallengeHandler) Create(c *gin.Context) {
	var body struct {
		To       string          `json:"to"       binding:"required"`
		Duration int64           `json:"duration" binding:"required"`
		Bet      decimal.Decimal `json:"bet"      binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	from := middleware.GetAddress(c)
	ch, err := h.challenges.Create(c.Request.Context(), from, body.To, body.Duration, body.Bet)
	if err != nil {
		respondDomainErr(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, ch)
}

// Accept godoc
// POST /challenge/:id/accept [auth required]
func (h *ChallengeHandler) Accept(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "invalid challenge id")
		return
	}

	address := middleware.GetAddress(c)
	m, err := h.challenges.Accept(c.Request.Context(), id, address)
	if err != nil {
		respondDomainErr(c, err)
		return
	}
	h.matches.Register(m)
	respondSuccess(c, http.StatusOK, m)
}

// Decline godoc
// POST /challenge/:id/decline [auth required]
func (h *ChallengeHandler) Decline(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "invalid challenge id")
		return
	}

	if err := h.challenges.Decline(c.Request.Context(), id); err != nil {
		respondDomainErr(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"declined": true})
}
