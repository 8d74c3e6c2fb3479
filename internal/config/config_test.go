package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadAPIDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ASCENSION_STORE", "")
	cfg, err := LoadAPIFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8080" || cfg.Store.Backend != "file" || cfg.Store.Path != "ascension.json" {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.Game.GrindCooldown != 30*time.Second || cfg.Game.SessionTTL != 2*time.Minute {
		t.Fatalf("game=%+v", cfg.Game)
	}
	if cfg.Telegram.Workers != 8 || cfg.Telegram.PollTimeout != 50*time.Second {
		t.Fatalf("telegram=%+v", cfg.Telegram)
	}
}

func TestLoadAPIFromPort(t *testing.T) {
	t.Setenv("PORT", "9000")
	cfg, err := LoadAPIFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9000" {
		t.Fatalf("addr=%q", cfg.Addr)
	}
}

func TestLoadAPISecretsAndDefinitions(t *testing.T) {
	t.Setenv("ASCENSION_ADMIN_TOKEN_HASH", " $2a$10$admin ")
	t.Setenv("ASCENSION_API_TOKEN_HASH", "$2a$10$api")
	t.Setenv("ASCENSION_DEFINITIONS_FILE", " /etc/ascension/defs.toml ")
	cfg, err := LoadAPIFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AdminTokenHash != "$2a$10$admin" || cfg.APITokenHash != "$2a$10$api" {
		t.Fatalf("hashes admin=%q api=%q", cfg.AdminTokenHash, cfg.APITokenHash)
	}
	if cfg.Store.DefinitionsPath != "/etc/ascension/defs.toml" {
		t.Fatalf("definitions=%q", cfg.Store.DefinitionsPath)
	}
}

func TestStoreValidation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{name: "sqlite default path", env: map[string]string{"ASCENSION_STORE": "SQLite"}},
		{name: "postgres needs url", env: map[string]string{"ASCENSION_STORE": "postgres", "DATABASE_URL": ""}, wantErr: "DatabaseURL"},
		{name: "postgres", env: map[string]string{"ASCENSION_STORE": "postgres", "DATABASE_URL": "postgres://localhost/asc"}},
		{name: "unknown backend", env: map[string]string{"ASCENSION_STORE": "redis"}, wantErr: "Backend"},
		{name: "bad cooldown falls back", env: map[string]string{"ASCENSION_GRIND_COOLDOWN": "soon"}},
		{name: "negative cooldown", env: map[string]string{"ASCENSION_GRIND_COOLDOWN": "-1s"}, wantErr: "GrindCooldown"},
		{name: "webhook needs secret", env: map[string]string{"TELEGRAM_WEBHOOK_URL": "https://example.com/webhook/telegram", "TELEGRAM_WEBHOOK_SECRET": ""}, wantErr: "WebhookSecret"},
		{name: "workers bounded", env: map[string]string{"ASCENSION_DISPATCH_WORKERS": "0"}, wantErr: "Workers"},
	}
	for _, tc := range tests {
		for k, v := range tc.env {
			t.Setenv(k, v)
		}
		cfg, err := LoadAPIFromEnv()
		if tc.wantErr == "" && err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if tc.wantErr != "" && (err == nil || !strings.Contains(err.Error(), tc.wantErr)) {
			t.Fatalf("%s: got %v want error mentioning %s", tc.name, err, tc.wantErr)
		}
		if tc.name == "sqlite default path" && (cfg.Store.Backend != "sqlite" || cfg.Store.Path != "ascension.db") {
			t.Fatalf("store=%+v", cfg.Store)
		}
		for k := range tc.env {
			t.Setenv(k, "")
		}
	}
}

func TestLoadBotNeedsTransport(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "")
	t.Setenv("DISCORD_BOT_TOKEN", "")
	t.Setenv("WHATSAPP_DATABASE_URL", "")
	if _, err := LoadBotFromEnv(); err == nil || !strings.Contains(err.Error(), "no transport") {
		t.Fatalf("got %v", err)
	}
	t.Setenv("DISCORD_BOT_TOKEN", "abc")
	cfg, err := LoadBotFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DiscordToken != "abc" || !cfg.QRCode {
		t.Fatalf("cfg=%+v", cfg)
	}
}

func TestLoadWorker(t *testing.T) {
	t.Setenv("ASCENSION_WORKER_TICK", "15s")
	t.Setenv("ASCENSION_WORKER_RUN_ONCE", "true")
	cfg, err := LoadWorkerFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Tick != 15*time.Second || !cfg.RunOnce {
		t.Fatalf("cfg=%+v", cfg)
	}
	t.Setenv("ASCENSION_WORKER_TICK", "0s")
	if _, err := LoadWorkerFromEnv(); err == nil {
		t.Fatalf("zero tick accepted")
	}
}

func TestLoadCLI(t *testing.T) {
	t.Setenv("ASC_API_BASE_URL", "https://asc.example.com/")
	t.Setenv("ASC_HOME", t.TempDir())
	cfg, err := LoadCLIFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIBaseURL != "https://asc.example.com" {
		t.Fatalf("base url=%q", cfg.APIBaseURL)
	}
	t.Setenv("ASC_API_BASE_URL", "not a url")
	if _, err := LoadCLIFromEnv(); err == nil {
		t.Fatalf("bad url accepted")
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("X_INT", "12")
	t.Setenv("X_BAD_INT", "twelve")
	t.Setenv("X_BOOL", "yes")
	if envIntDefault("X_INT", 1) != 12 || envIntDefault("X_BAD_INT", 1) != 1 || envIntDefault("X_MISSING", 3) != 3 {
		t.Fatalf("envIntDefault")
	}
	if envBoolDefault("X_BOOL", true) != true || envBoolDefault("X_MISSING", false) {
		t.Fatalf("envBoolDefault")
	}
}
