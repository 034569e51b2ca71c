// Package main is the entry point for the duel arena back-office admin
// server. Runs on its own port and exposes authority-only endpoints for
// rake reconciliation and settlement retry, behind an IP allowlist.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/duelbackend/arena/internal/backoffice"
	"github.com/duelbackend/arena/internal/config"
	"github.com/duelbackend/arena/internal/ledger"
	"github.com/duelbackend/arena/internal/onchain"
	"github.com/duelbackend/arena/internal/repository"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

func main() {
	// ── Logger ────────────────────────────────────────────────────────────────
	cfg := config.MustLoad()

	var logHandler slog.Handler
	if cfg.IsProd() {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting duel arena backoffice server",
		"env", cfg.Server.Env, "port", cfg.Server.BackofficePort)

	// ── Database ──────────────────────────────────────────────────────────────
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

	// ── Repositories + services ───────────────────────────────────────────────
	ledgerRepo := repository.NewLedgerRepository(db)
	matchRepo := repository.NewMatchRepository(db)
	queueRepo := repository.NewQueueRepository(db)

	var chain onchain.Client
	if cfg.OnChain.RPCURL != "" {
		chain = onchain.NewHTTPClient(cfg)
	} else {
		chain = onchain.NoopClient{Vault: cfg.OnChain.VaultAddress, USDCMint: cfg.OnChain.USDCMint}
		logger.Warn("onchain settlement disabled: ONCHAIN_RPC_URL not set, using no-op client")
	}

	ledgerSvc := ledger.New(db, ledgerRepo, matchRepo, queueRepo, chain, cfg)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Router ────────────────────────────────────────────────────────────────
	router := backoffice.SetupBackofficeRouter(backoffice.BackofficeDeps{
		LedgerSvc:  ledgerSvc,
		LedgerRepo: ledgerRepo,
		Matches:    matchRepo,
		Chain:      chain,
		Cfg:        cfg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.BackofficePort,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// ── Start ─────────────────────────────────────────────────────────────────
	go func() {
		logger.Info("backoffice http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("backoffice server error", "err", err)
			stop()
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("backoffice shutdown error", "err", err)
	}

	db.Close()
	logger.Info("backoffice server stopped cleanly")
}
