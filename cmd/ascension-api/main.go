package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ascension/internal/api"
	"ascension/internal/bot"
	"ascension/internal/config"
	"ascension/internal/game"
	"ascension/internal/ledger"
	"ascension/internal/store"
	"ascension/internal/telegram"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
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

	gameSvc := game.NewService(st, defs, logger, cfg.Game.Options())

	var updates api.UpdateDispatcher
	var dispatcher *telegram.Dispatcher
	if cfg.Telegram.Token != "" {
		client := telegram.NewClient(cfg.Telegram.BaseURL, cfg.Telegram.Token)
		router := bot.NewRouter(gameSvc, logger, bot.WithBrand(cfg.Brand))
		dispatcher = telegram.NewDispatcher(client, router, logger, cfg.Telegram.Workers)
		updates = dispatcher
		if cfg.Telegram.WebhookURL != "" {
			if err := client.SetWebhook(ctx, cfg.Telegram.WebhookURL, cfg.Telegram.WebhookSecret); err != nil {
				logger.Error("telegram set webhook failed", "err", err)
				os.Exit(1)
			}
			logger.Info("telegram webhook registered", "url", cfg.Telegram.WebhookURL)
		}
	}

	server := api.New(ctx, cfg, logger, gameSvc, updates)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	if cfg.APITokenHash == "" && cfg.AdminTokenHash == "" {
		logger.Warn("no token hash set, the actions and admin routes will answer 403")
	}
	logger.Info("ascension api listening", "addr", cfg.Addr, "store", cfg.Store.Backend, "telegram", dispatcher != nil)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
	if dispatcher != nil {
		dispatcher.Wait()
	}
}
