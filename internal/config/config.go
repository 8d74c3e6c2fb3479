package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"ascension/internal/game"
	"ascension/internal/store"
)

var validate = validator.New()

type StoreConfig struct {
	Backend         string `validate:"oneof=file sqlite postgres"`
	Path            string `validate:"required_unless=Backend postgres"`
	DatabaseURL     string `validate:"required_if=Backend postgres"`
	DefinitionsPath string
}

type GameConfig struct {
	GrindCooldown time.Duration `validate:"gt=0"`
	SessionTTL    time.Duration `validate:"gt=0"`
}

type TelegramConfig struct {
	Token         string
	BaseURL       string        `validate:"omitempty,url"`
	WebhookURL    string        `validate:"omitempty,url"`
	WebhookSecret string        `validate:"required_with=WebhookURL"`
	PollTimeout   time.Duration `validate:"gte=0"`
	Workers       int           `validate:"gte=1,lte=256"`
}

type APIConfig struct {
	Addr           string `validate:"required"`
	Brand          string
	AdminTokenHash string
	APITokenHash   string
	Store          StoreConfig
	Game           GameConfig
	Telegram       TelegramConfig
}

type BotConfig struct {
	Brand               string
	Store               StoreConfig
	Game                GameConfig
	Telegram            TelegramConfig
	DiscordToken        string
	DiscordGuildID      string
	WhatsAppDatabaseURL string
	QRCode              bool
}

type WorkerConfig struct {
	Store   StoreConfig
	Tick    time.Duration `validate:"gt=0"`
	RunOnce bool
}

type CLIConfig struct {
	APIBaseURL string `validate:"required,url"`
	SessionDir string `validate:"required"`
}

func (c StoreConfig) Options() store.Options {
	return store.Options{Backend: c.Backend, Path: c.Path, DatabaseURL: c.DatabaseURL}
}

func (c GameConfig) Options() game.Options {
	return game.Options{GrindCooldown: c.GrindCooldown, SessionTTL: c.SessionTTL}
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("ASCENSION_API_ADDR", ":8080")
	}

	cfg := APIConfig{
		Addr:           addr,
		Brand:          envDefault("ASCENSION_BRAND", "Ascension"),
		AdminTokenHash: strings.TrimSpace(os.Getenv("ASCENSION_ADMIN_TOKEN_HASH")),
		APITokenHash:   strings.TrimSpace(os.Getenv("ASCENSION_API_TOKEN_HASH")),
		Store:          loadStore(),
		Game:           loadGame(),
		Telegram:       loadTelegram(),
	}
	if err := validate.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid api config: %w", err)
	}
	return cfg, nil
}

func LoadBotFromEnv() (BotConfig, error) {
	cfg := BotConfig{
		Brand:               envDefault("ASCENSION_BRAND", "Ascension"),
		Store:               loadStore(),
		Game:                loadGame(),
		Telegram:            loadTelegram(),
		DiscordToken:        strings.TrimSpace(os.Getenv("DISCORD_BOT_TOKEN")),
		DiscordGuildID:      strings.TrimSpace(os.Getenv("DISCORD_GUILD_ID")),
		WhatsAppDatabaseURL: strings.TrimSpace(os.Getenv("WHATSAPP_DATABASE_URL")),
		QRCode:              envBoolDefault("WHATSAPP_PRINT_QR", true),
	}
	if err := validate.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid bot config: %w", err)
	}
	if cfg.Telegram.Token == "" && cfg.DiscordToken == "" && cfg.WhatsAppDatabaseURL == "" {
		return cfg, errors.New("no transport configured: set TELEGRAM_TOKEN, DISCORD_BOT_TOKEN or WHATSAPP_DATABASE_URL")
	}
	return cfg, nil
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	cfg := WorkerConfig{
		Store:   loadStore(),
		Tick:    envDurationDefault("ASCENSION_WORKER_TICK", time.Minute),
		RunOnce: envBoolDefault("ASCENSION_WORKER_RUN_ONCE", false),
	}
	if err := validate.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid worker config: %w", err)
	}
	return cfg, nil
}

func LoadCLIFromEnv() (CLIConfig, error) {
	home, _ := os.UserHomeDir()
	cfg := CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("ASC_API_BASE_URL", "http://localhost:8080"), "/"),
		SessionDir: envDefault("ASC_HOME", filepath.Join(home, ".asc")),
	}
	if err := validate.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid cli config: %w", err)
	}
	return cfg, nil
}

func loadStore() StoreConfig {
	backend := strings.ToLower(envDefault("ASCENSION_STORE", store.BackendFile))
	path := "ascension.json"
	if backend == store.BackendSQLite {
		path = "ascension.db"
	}
	return StoreConfig{
		Backend:         backend,
		Path:            envDefault("ASCENSION_STORE_PATH", path),
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DefinitionsPath: strings.TrimSpace(os.Getenv("ASCENSION_DEFINITIONS_FILE")),
	}
}

func loadGame() GameConfig {
	return GameConfig{
		GrindCooldown: envDurationDefault("ASCENSION_GRIND_COOLDOWN", game.DefaultGrindCooldown),
		SessionTTL:    envDurationDefault("ASCENSION_SESSION_TTL", game.DefaultSessionTTL),
	}
}

func loadTelegram() TelegramConfig {
	return TelegramConfig{
		Token:         strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN")),
		BaseURL:       strings.TrimRight(strings.TrimSpace(os.Getenv("TELEGRAM_API_URL")), "/"),
		WebhookURL:    strings.TrimSpace(os.Getenv("TELEGRAM_WEBHOOK_URL")),
		WebhookSecret: strings.TrimSpace(os.Getenv("TELEGRAM_WEBHOOK_SECRET")),
		PollTimeout:   envDurationDefault("TELEGRAM_POLL_TIMEOUT", 50*time.Second),
		Workers:       envIntDefault("ASCENSION_DISPATCH_WORKERS", 8),
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
