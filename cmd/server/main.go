// Package main is the entry point for the duel arena match server. It wires
// together every domain service and starts the player-facing HTTP API
// alongside the WebSocket hub and the background match/admin loops.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/duelbackend/arena/internal/admin"
	"github.com/duelbackend/arena/internal/api"
	"github.com/duelbackend/arena/internal/config"
	"github.com/duelbackend/arena/internal/ledger"
	"github.com/duelbackend/arena/internal/match"
	"github.com/duelbackend/arena/internal/matchmaking"
	"github.com/duelbackend/arena/internal/onchain"
	"github.com/duelbackend/arena/internal/position"
	"github.com/duelbackend/arena/internal/priceoracle"
	"github.com/duelbackend/arena/internal/repository"
	"github.com/duelbackend/arena/internal/session"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
)

func main() {
	// ── 1. Logger ─────────────────────────────────────────────────────────────
	cfg := config.MustLoad()

	var logHandler slog.Handler
	if cfg.IsProd() {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting duel arena server", "env", cfg.Server.Env, "port", cfg.Server.Port)

	// ── 2. Database ───────────────────────────────────────────────────────────
	db, err := sqlx.Connect("postgres", cfg.DB.DSN)
	if err != nil {
		logger.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	db.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	db.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

	if err = db.Ping(); err != nil {
		logger.Error("database ping failed", "err", err)
		os.Exit(1)
	}
	logger.Info("database connected")

	// ── 3. Migrations ─────────────────────────────────────────────────────────
	if err = runMigrations(db, "migrations"); err != nil {
		logger.Error("migrations failed", "err", err)
		os.Exit(1)
	}
	logger.Info("migrations applied")

	// ── 4. Repositories ───────────────────────────────────────────────────────
	userRepo := repository.NewUserRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	matchRepo := repository.NewMatchRepository(db)
	positionRepo := repository.NewPositionRepository(db)
	queueRepo := repository.NewQueueRepository(db)
	challengeRepo := repository.NewChallengeRepository(db)

	// ── 5. Services (order matters for injection) ──────────────────────────────
	priceSvc := priceoracle.New(cfg)

	var chain onchain.Client
	if cfg.OnChain.RPCURL != "" {
		chain = onchain.NewHTTPClient(cfg)
	} else {
		chain = onchain.NoopClient{Vault: cfg.OnChain.VaultAddress, USDCMint: cfg.OnChain.USDCMint}
		logger.Warn("onchain settlement disabled: ONCHAIN_RPC_URL not set, using no-op client")
	}

	ledgerSvc := ledger.New(db, ledgerRepo, matchRepo, queueRepo, chain, cfg)
	positionCloser := position.NewCloser()
	positionSvc := position.New(db, positionRepo, priceSvc, positionCloser, cfg)
	queueSvc := matchmaking.New(db, queueRepo, matchRepo, ledgerSvc, cfg)
	challengeSvc := matchmaking.NewChallengeService(queueSvc, challengeRepo)

	// ── 6. WebSocket Hub + Match Controller ─────────────────────────────────────
	var allowedOrigins []string
	if ori := os.Getenv("WS_ALLOWED_ORIGINS"); ori != "" {
		for _, o := range strings.Split(ori, ",") {
			allowedOrigins = append(allowedOrigins, strings.TrimSpace(o))
		}
	}

	controller := match.New(db, matchRepo, userRepo, positionSvc, ledgerSvc, priceSvc, nil, cfg)
	hub := session.NewHub(cfg, session.Deps{
		Queue:     queueSvc,
		Positions: positionSvc,
		Matches:   controller,
		Ledger:    ledgerSvc,
		Users:     userRepo,
		Prices:    priceSvc,
	}, allowedOrigins)
	controller.SetBroadcaster(hub)

	// ── 7. Root context + signal handling ───────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err = controller.Rehydrate(ctx); err != nil {
		logger.Error("match rehydrate failed", "err", err)
		os.Exit(1)
	}

	// ── 8. Background loops ──────────────────────────────────────────────────────
	controller.Start(ctx)
	logger.Info("match controller started")

	loops := admin.New(challengeSvc, matchRepo, chain, cfg)
	loops.Start(ctx)
	logger.Info("admin loops started")

	// ── 9. HTTP Router ───────────────────────────────────────────────────────────
	router := api.SetupRouter(api.RouterDeps{
		Users:      userRepo,
		LedgerSvc:  ledgerSvc,
		Queue:      queueSvc,
		Challenges: challengeSvc,
		Matches:    matchRepo,
		Positions:  positionRepo,
		Controller: controller,
		Hub:        hub,
		Cfg:        cfg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// ── 10. Start server ─────────────────────────────────────────────────────────
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
			stop() // trigger graceful shutdown
		}
	}()

	// ── 11. Graceful shutdown ────────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received, draining connections…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "err", err)
	}

	db.Close()
	logger.Info("server stopped cleanly")
}

// runMigrations reads all *.sql files from dir, sorted by name, and executes
// them sequentially. Idempotent: SQL files should use IF NOT EXISTS / ON CONFLICT.
func runMigrations(db *sqlx.DB, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("runMigrations: read dir %q: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("runMigrations: read %q: %w", f, err)
		}
		if _, err = db.Exec(string(data)); err != nil {
			return fmt.Errorf("runMigrations: exec %q: %w", f, err)
		}
		slog.Info("migration applied", "file", filepath.Base(f))
	}
	return nil
}
