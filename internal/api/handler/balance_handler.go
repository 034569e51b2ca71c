package handler

import (
	"net/http"
	"strconv"

	"github.com/duelbackend/arena/internal/api/middleware"
	"github.com/duelbackend/arena/internal/config"
	"github.com/duelbackend/arena/internal/ledger"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// BalanceHandler serves the player-facing ledger surface: balance reads,
// deposit confirmation, withdrawal, and transaction history. The admin-only
// reconciliation/rake endpoints live in internal/backoffice instead (§6.1).
type BalanceHandler struct {
	ledger *ledger.Service
	cfg    *config.Config
}

// NewBalanceHandler creates a BalanceHandler.
func NewBalanceHandler(ledgerSvc *ledger.Service, cfg *config.Config) *BalanceHandler {
	return &BalanceHandler{ledger: ledgerSvc, cfg: cfg}
}

// GetBalance godoc
// GET /balance [auth required]
func (h *BalanceHandler) GetBalance(c *gin.Context) {
	address := middleware.GetAddress(c)
	snap, err := h.ledger.GetBalance(c.Request.Context(), address)
	if err != nil {
		respondDomainErr(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, snap)
}

// GetVault godoc
// GET /balance/vault
func (h *BalanceHandler) GetVault(c *gin.Context) {
	respondSuccess(c, http.StatusOK, gin.H{"vaultAddress": h.cfg.OnChain.VaultAddress})
}

// Deposit godoc
// POST /balance/deposit [auth required]
//
// The request carries only the transaction signature; the deposit amount
// is never client-supplied — it is derived entirely from the on-chain
// transaction ConfirmDeposit looks up and validates (§4.2).
func (h *BalanceHandler) Deposit(c *gin.Context) {
	var body struct {
		TxSignature string `json:"txSignature" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	address := middleware.GetAddress(c)
	snap, err := h.ledger.ConfirmDeposit(c.Request.Context(), address, body.TxSignature)
	if err != nil {
		respondDomainErr(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"newBalance": snap})
}

// Withdraw godoc
// POST /balance/withdraw [auth required]
func (h *BalanceHandler) Withdraw(c *gin.Context) {
	var body struct {
		Amount decimal.Decimal `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	address := middleware.GetAddress(c)
	txSig, err := h.ledger.ProcessWithdrawal(c.Request.Context(), address, body.Amount)
	if err != nil {
		respondDomainErr(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"txSignature": txSig})
}

// Transactions godoc
// GET /balance/transactions?limit= [auth required]
func (h *BalanceHandler) Transactions(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	address := middleware.GetAddress(c)
	events, err := h.ledger.History(c.Request.Context(), address, limit, 0)
	if err != nil {
		respondDomainErr(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, events)
}
