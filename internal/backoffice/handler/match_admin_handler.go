package handler

import (
	"net/http"

	"github.com/duelbackend/arena/internal/onchain"
	"github.com/duelbackend/arena/internal/repository"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MatchAdminHandler serves the authority-only match operations: listing
// matches pending on-chain settlement and retrying a stuck settlement
// (§6.4).
type MatchAdminHandler struct {
	matches *repository.MatchRepository
	chain   onchain.Client
	cfg     matchAdminConfig
}

// matchAdminConfig holds the one config.AdminConfig field this handler
// needs, passed in as a plain int by NewMatchAdminHandler.
type matchAdminConfig struct {
	MaxSettlementRetries int
}

// NewMatchAdminHandler creates a MatchAdminHandler.
func NewMatchAdminHandler(matches *repository.MatchRepository, chain onchain.Client, maxRetries int) *MatchAdminHandler {
	return &MatchAdminHandler{matches: matches, chain: chain, cfg: matchAdminConfig{MaxSettlementRetries: maxRetries}}
}

// Unsettled godoc
// GET /admin/matches/unsettled — matches that have settled off-chain but
// still haven't confirmed on the escrow program, within the retry budget.
func (h *MatchAdminHandler) Unsettled(c *gin.Context) {
	list, err := h.matches.GetUnsettledOnChain(c.Request.Context(), h.cfg.MaxSettlementRetries)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		return
	}
	respondSuccess(c, http.StatusOK, list)
}

// RetrySettlement godoc
// POST /admin/matches/:id/retry-settlement — forces one more on-chain
// settlement attempt outside the scheduler's own retry tick.
func (h *MatchAdminHandler) RetrySettlement(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "invalid match id")
		return
	}

	ctx := c.Request.Context()
	m, err := h.matches.GetByID(ctx, id)
	if err != nil {
		respondError(c, http.StatusNotFound, "ERR_NOT_FOUND", err.Error())
		return
	}
	if m.OnChainSettled {
		respondSuccess(c, http.StatusOK, gin.H{"alreadySettled": true, "onChainGameId": m.OnChainGameID})
		return
	}

	winner := ""
	if m.Winner != nil {
		winner = *m.Winner
	}
	req := onchain.SettlementRequest{
		MatchID:   m.ID.String(),
		Player1:   m.Player1,
		Player2:   m.Player2,
		BetAmount: m.BetAmount.String(),
		Winner:    winner,
	}

	res, err := h.chain.Settle(ctx, req)
	if err != nil {
		_ = h.matches.IncrementOnChainRetries(ctx, id)
		respondError(c, http.StatusBadGateway, "ERR_ONCHAIN_UNAVAILABLE", err.Error())
		return
	}
	if err := h.matches.MarkOnChainSettled(ctx, id, res.GameID); err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"alreadySettled": false, "onChainGameId": res.GameID})
}
