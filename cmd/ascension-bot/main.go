package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"ascension/internal/bot"
	"ascension/internal/config"
	"ascension/internal/discord"
	"ascension/internal/game"
	"ascension/internal/ledger"
	"ascension/internal/store"
	"ascension/internal/telegram"
	"ascension/internal/whatsapp"
)

type transport struct {
	name string
	run  func(context.Context) error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadBotFromEnv()
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
	router := bot.NewRouter(gameSvc, logger, bot.WithBrand(cfg.Brand))

	var transports []transport
	if cfg.Telegram.Token != "" {
		client := telegram.NewClient(cfg.Telegram.BaseURL, cfg.Telegram.Token)
		dispatcher := telegram.NewDispatcher(client, router, logger.With("transport", "telegram"), cfg.Telegram.Workers)
		poller := telegram.NewPoller(client, dispatcher, logger.With("transport", "telegram"), cfg.Telegram.PollTimeout)
		transports = append(transports, transport{name: "telegram", run: poller.Run})
	}
	if cfg.DiscordToken != "" {
		dc := discord.New(cfg.DiscordToken, cfg.DiscordGuildID, router, logger.With("transport", "discord"))
		transports = append(transports, transport{name: "discord", run: dc.Run})
	}
	if cfg.WhatsAppDatabaseURL != "" {
		var qrOut io.Writer
		if cfg.QRCode {
			qrOut = os.Stdout
		}
		wa := whatsapp.New(cfg.WhatsAppDatabaseURL, router, logger.With("transport", "whatsapp"), qrOut)
		transports = append(transports, transport{name: "whatsapp", run: wa.Run})
	}

	// one failing transport takes the others down with it
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for _, t := range transports {
		wg.Add(1)
		go func(t transport) {
			defer wg.Done()
			logger.Info("transport starting", "transport", t.name)
			err := t.run(runCtx)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("transport stopped", "transport", t.name, "err", err)
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				cancel()
			}
		}(t)
	}
	wg.Wait()
	if firstErr != nil {
		os.Exit(1)
	}
	logger.Info("bot shutdown")
}
