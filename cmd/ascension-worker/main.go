package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ascension/internal/config"
	"ascension/internal/game"
	"ascension/internal/ledger"
	"ascension/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	defs, err := ledger.LoadDefinitions(cfg.Store.DefinitionsPath)
	if err != nil {
		logger.Error("load definitions failed", "err", err)
		os.Exit(1)
	}
	st, err := store.Open(ctx, cfg.Store.Options(), defs)
	if err != nil {
		logger.Error("store open failed", "backend", cfg.Store.Backend, "err", err)
		os.Exit(1)
	}
	defer st.Close()

	svc := game.NewService(st, defs, logger, game.Options{})

	if cfg.RunOnce {
		report, err := svc.RunWeeklyReset(ctx)
		if err != nil {
			logger.Error("weekly reset failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed", "winners", len(report.Winners), "next_reset", report.NextReset)
		return
	}

	ticker := time.NewTicker(cfg.Tick)
	defer ticker.Stop()

	logger.Info("worker started", "tick_every", cfg.Tick.String(), "store", cfg.Store.Backend)
	check := func() {
		report, err := svc.DueWeeklyReset(ctx)
		if err != nil {
			logger.Error("weekly reset check failed", "err", err)
			return
		}
		if !report.Ran {
			logger.Debug("weekly reset not due", "next_reset", report.NextReset)
		}
	}
	check()
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutdown")
			return
		case <-ticker.C:
			check()
		}
	}
}
