package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/duelbackend/arena/internal/config"
	"github.com/duelbackend/arena/internal/repository"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MatchHandler serves match reads, history, and claim info (§4.7, §4.11,
// §6.1). Settlement retry is an authority-only operation and lives in
// internal/backoffice instead.
type MatchHandler struct {
	matches   *repository.MatchRepository
	positions *repository.PositionRepository
	cfg       *config.AdminConfig
}

// NewMatchHandler creates a MatchHandler.
func NewMatchHandler(matches *repository.MatchRepository, positions *repository.PositionRepository, cfg *config.AdminConfig) *MatchHandler {
	return &MatchHandler{matches: matches, positions: positions, cfg: cfg}
}

// GetByID godoc
// GET /match/:id
func (h *MatchHandler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "invalid match id")
		return
	}
	m, err := h.matches.GetByID(c.Request.Context(), id)
	if err != nil {
		respondDomainErr(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, m)
}

// ActiveList godoc
// GET /match/active/list
func (h *MatchHandler) ActiveList(c *gin.Context) {
	list, err := h.matches.GetActive(c.Request.Context())
	if err != nil {
		respondDomainErr(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, list)
}

// ActiveForAddress godoc
// GET /match/active/:address — returns null for a match that reads as
// stale per Match.IsStale (§4.12), even though its row hasn't transitioned
// to a terminal status yet.
func (h *MatchHandler) ActiveForAddress(c *gin.Context) {
	address := c.Param("address")
	list, err := h.matches.GetActive(c.Request.Context())
	if err != nil {
		respondDomainErr(c, err)
		return
	}

	now := time.Now().UTC()
	for _, m := range list {
		if !m.HasPlayer(address) {
			continue
		}
		if m.IsStale(now, h.cfg.ActiveStaleAfter, h.cfg.DepositStaleAfter) {
			respondSuccess(c, http.StatusOK, nil)
			return
		}
		respondSuccess(c, http.StatusOK, m)
		return
	}
	respondSuccess(c, http.StatusOK, nil)
}

// Positions godoc
// GET /match/:id/positions
func (h *MatchHandler) Positions(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "invalid match id")
		return
	}
	list, err := h.positions.GetAllByMatch(c.Request.Context(), id)
	if err != nil {
		respondDomainErr(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, list)
}

// History godoc
// GET /match/history/:address?page&limit
func (h *MatchHandler) History(c *gin.Context) {
	address := c.Param("address")
	page, limit := parsePageLimit(c, 20)

	list, err := h.matches.History(c.Request.Context(), address, limit, (page-1)*limit)
	if err != nil {
		respondDomainErr(c, err)
		return
	}
	respondList(c, list, len(list), page, limit)
}

// ClaimInfo godoc
// GET /match/:id/claim-info — the fields a client needs to submit an
// on-chain claim once a match is settled.
func (h *MatchHandler) ClaimInfo(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "invalid match id")
		return
	}
	m, err := h.matches.GetByID(c.Request.Context(), id)
	if err != nil {
		respondDomainErr(c, err)
		return
	}
	if !m.Status.IsTerminal() {
		respondError(c, http.StatusConflict, "ERR_NOT_SETTLED", "match has not settled yet")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"matchId":        m.ID,
		"status":         m.Status,
		"winner":         m.Winner,
		"betAmount":      m.BetAmount,
		"onChainGameId":  m.OnChainGameID,
		"onChainSettled": m.OnChainSettled,
		"settledAt":      m.SettledAt,
	})
}

func parsePageLimit(c *gin.Context, defaultLimit int) (page, limit int) {
	page, limit = 1, defaultLimit
	if v := c.Query("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	return page, limit
}
