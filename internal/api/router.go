package api

import (
	"net/http"

	"github.com/duelbackend/arena/internal/api/handler"
	"github.com/duelbackend/arena/internal/api/middleware"
	"github.com/duelbackend/arena/internal/config"
	"github.com/duelbackend/arena/internal/ledger"
	"github.com/duelbackend/arena/internal/match"
	"github.com/duelbackend/arena/internal/matchmaking"
	"github.com/duelbackend/arena/internal/repository"
	"github.com/duelbackend/arena/internal/session"
	"github.com/gin-gonic/gin"
)

// RouterDeps bundles every dependency needed to build the router. Populated
// once in main() and passed to SetupRouter.
type RouterDeps struct {
	Users      *repository.UserRepository
	LedgerSvc  *ledger.Service
	Queue      *matchmaking.Service
	Challenges *matchmaking.ChallengeService
	Matches    *repository.MatchRepository
	Positions  *repository.PositionRepository
	Controller *match.Controller
	Hub        *session.Hub
	Cfg        *config.Config
}

// SetupRouter creates and configures the main Gin engine: CORS, per-group
// rate limiting, JWT auth on the authenticated group, and the WS upgrade
// endpoint (§6.1, §6.2).
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(corsMiddleware(deps.Cfg))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	userH := handler.NewUserHandler(deps.Users)
	balanceH := handler.NewBalanceHandler(deps.LedgerSvc, deps.Cfg)
	queueH := handler.NewQueueHandler(deps.Queue, deps.Controller)
	challengeH := handler.NewChallengeHandler(deps.Challenges, deps.Controller)
	matchH := handler.NewMatchHandler(deps.Matches, deps.Positions, &deps.Cfg.Admin)

	authMW := middleware.AuthMiddleware(&deps.Cfg.JWT)
	generalRL := middleware.RateLimitMiddleware(30)
	queueRL := middleware.RateLimitMiddleware(10)

	// Issuing access tokens is out of scope (§1 Non-goals): the JWT
	// config only verifies tokens minted by the external auth provider
	// the wallet-signature challenge talks to, so no /auth/nonce or
	// /auth/verify route lives here. The authority-only reconciliation
	// and settlement-retry surface lives on internal/backoffice's
	// separate port instead of this router.

	r.GET("/user/:address", userH.GetByAddress)
	r.PUT("/user/gamer-tag", authMW, userH.SetGamerTag)

	balance := r.Group("/balance")
	{
		balance.GET("", authMW, balanceH.GetBalance)
		balance.GET("/vault", balanceH.GetVault)
		balance.POST("/deposit", authMW, generalRL, balanceH.Deposit)
		balance.POST("/withdraw", authMW, generalRL, balanceH.Withdraw)
		balance.GET("/transactions", authMW, balanceH.Transactions)
	}

	queue := r.Group("/queue")
	queue.Use(authMW, queueRL)
	{
		queue.POST("/join", queueH.Join)
		queue.DELETE("/leave", queueH.Leave)
	}
	r.GET("/queue/stats", queueH.Stats)

	challenge := r.Group("/challenge")
	challenge.Use(authMW)
	{
		challenge.GET("/pending", challengeH.Pending)
		challenge.POST("/create", challengeH.Create)
		challenge.POST("/:id/accept", challengeH.Accept)
		challenge.POST("/:id/decline", challengeH.Decline)
	}

	matchGrp := r.Group("/match")
	{
		matchGrp.GET("/:id", matchH.GetByID)
		matchGrp.GET("/active/list", matchH.ActiveList)
		matchGrp.GET("/active/:address", matchH.ActiveForAddress)
		matchGrp.GET("/:id/positions", matchH.Positions)
		matchGrp.GET("/history/:address", matchH.History)
		matchGrp.GET("/:id/claim-info", matchH.ClaimInfo)
	}

	if deps.Hub != nil {
		r.GET("/ws", func(c *gin.Context) {
			deps.Hub.ServeWS(c.Writer, c.Request)
		})
	}

	return r
}

// ── CORS helper ───────────────────────────────────────────────────────────────

// corsMiddleware returns a gin middleware that sets appropriate CORS headers.
// In non-prod all origins are allowed; in production only configured origins.
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if !cfg.IsProd() {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			for _, allowed := range cfg.Server.AllowedOrigins {
				if allowed == origin {
					c.Header("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
