package handler

import (
	"net/http"

	"github.com/duelbackend/arena/internal/domain"
	"github.com/duelbackend/arena/internal/ledger"
	"github.com/duelbackend/arena/internal/repository"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// LedgerAdminHandler serves the authority-only rake reconciliation surface
// (§4.11 step 6, §6.1): the rake account's running balance, a paginated
// dump of every ledger entry for auditing, and manual rake withdrawal.
type LedgerAdminHandler struct {
	ledger *ledger.Service
	repo   *repository.LedgerRepository
}

// NewLedgerAdminHandler creates a LedgerAdminHandler.
func NewLedgerAdminHandler(ledgerSvc *ledger.Service, repo *repository.LedgerRepository) *LedgerAdminHandler {
	return &LedgerAdminHandler{ledger: ledgerSvc, repo: repo}
}

// RakeBalance godoc
// GET /admin/ledger/rake
func (h *LedgerAdminHandler) RakeBalance(c *gin.Context) {
	snap, err := h.ledger.GetBalance(c.Request.Context(), domain.PlatformRakeAccount)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		return
	}
	respondSuccess(c, http.StatusOK, snap)
}

// Stats godoc
// GET /admin/ledger?page&limit — a paginated dump of every ledger entry.
func (h *LedgerAdminHandler) Stats(c *gin.Context) {
	page, limit := adminPagination(c)
	entries, err := h.repo.ListAll(c.Request.Context(), limit, (page-1)*limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		return
	}
	respondList(c, entries, len(entries), page, limit)
}

// WithdrawRake godoc
// POST /admin/ledger/rake/withdraw — sweeps the entire available rake
// balance out of the ledger (the actual on-chain payout to the platform
// treasury is out of scope here; this only zeroes the internal account).
func (h *LedgerAdminHandler) WithdrawRake(c *gin.Context) {
	ctx := c.Request.Context()
	snap, err := h.ledger.GetBalance(ctx, domain.PlatformRakeAccount)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		return
	}
	if snap.Available.LessThanOrEqual(decimal.Zero) {
		respondSuccess(c, http.StatusOK, gin.H{"withdrawn": decimal.Zero})
		return
	}
	if err := h.ledger.AdminAdjust(ctx, domain.PlatformRakeAccount, snap.Available.Neg()); err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"withdrawn": snap.Available})
}
