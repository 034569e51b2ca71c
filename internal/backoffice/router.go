package backoffice

import (
	"net/http"
	"strings"

	"github.com/duelbackend/arena/internal/api/middleware"
	"github.com/duelbackend/arena/internal/backoffice/handler"
	"github.com/duelbackend/arena/internal/config"
	"github.com/duelbackend/arena/internal/ledger"
	"github.com/duelbackend/arena/internal/onchain"
	"github.com/duelbackend/arena/internal/repository"
	"github.com/gin-gonic/gin"
)

// BackofficeDeps bundles every dependency needed for the admin router.
type BackofficeDeps struct {
	LedgerSvc  *ledger.Service
	LedgerRepo *repository.LedgerRepository
	Matches    *repository.MatchRepository
	Chain      onchain.Client
	Cfg        *config.Config
}

// SetupBackofficeRouter creates the admin Gin engine on its own port
// (config.ServerConfig.BackofficePort). Authorization is two layers: an IP
// allowlist ahead of everything else, then the same bearer-token check as
// the player-facing API plus a check against the authority allowlist
// (§6.1, §6.4).
func SetupBackofficeRouter(deps BackofficeDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(ipWhitelistMiddleware(deps.Cfg.Server.BackofficeAllowedIPs))

	ledgerH := handler.NewLedgerAdminHandler(deps.LedgerSvc, deps.LedgerRepo)
	matchH := handler.NewMatchAdminHandler(deps.Matches, deps.Chain, deps.Cfg.Admin.MaxSettlementRetries)

	authMW := middleware.AuthMiddleware(&deps.Cfg.JWT)
	adminMW := middleware.AdminMiddleware(&deps.Cfg.Admin)

	admin := r.Group("/admin")
	admin.Use(authMW, adminMW)
	{
		ledgerGrp := admin.Group("/ledger")
		{
			ledgerGrp.GET("", ledgerH.Stats)
			ledgerGrp.GET("/rake", ledgerH.RakeBalance)
			ledgerGrp.POST("/rake/withdraw", ledgerH.WithdrawRake)
		}

		matchGrp := admin.Group("/matches")
		{
			matchGrp.GET("/unsettled", matchH.Unsettled)
			matchGrp.POST("/:id/retry-settlement", matchH.RetrySettlement)
		}
	}

	return r
}

// ── IP whitelist middleware ───────────────────────────────────────────────────

// ipWhitelistMiddleware blocks requests from IPs not in the allowlist.
// allowedIPs is a comma-separated string; empty means allow all.
func ipWhitelistMiddleware(allowedIPs string) gin.HandlerFunc {
	if allowedIPs == "" {
		return func(c *gin.Context) { c.Next() } // dev mode: no restriction
	}

	allowed := make(map[string]bool)
	for _, ip := range strings.Split(allowedIPs, ",") {
		ip = strings.TrimSpace(ip)
		if ip != "" {
			allowed[ip] = true
		}
	}

	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		if !allowed[clientIP] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "access denied: your IP is not whitelisted",
			})
			return
		}
		c.Next()
	}
}
