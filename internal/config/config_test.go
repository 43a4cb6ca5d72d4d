package config

import (
	"log/slog"
	"slices"
	"testing"
	"time"
)

// --- LoadConfig ---

func TestLoadConfig(t *testing.T) {
	// Helper sets the minimum required env vars for a valid config
	setRequired := func(t *testing.T) {
		t.Helper()
		t.Setenv("DATABASE_URL", "postgres://localhost/wenclerfic")
	}

	t.Run("returns valid config with only DATABASE_URL", func(t *testing.T) {
		setRequired(t)
		t.Setenv("REDIS_URL", "")

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.DatabaseURL != "postgres://localhost/wenclerfic" {
			t.Errorf("DatabaseURL: expected %q, got %q", "postgres://localhost/wenclerfic", cfg.DatabaseURL)
		}
		if cfg.RedisURL != "" {
			t.Errorf("RedisURL: expected empty, got %q", cfg.RedisURL)
		}
	})

	t.Run("errors when DATABASE_URL is missing", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "")

		_, err := LoadConfig()
		if err == nil {
			t.Fatal("expected error for missing DATABASE_URL, got nil")
		}
	})

	t.Run("defaults", func(t *testing.T) {
		setRequired(t)
		for _, k := range []string{"PORT", "LOG_LEVEL", "SESSION_TTL", "SESSION_REMEMBER_ME_TTL",
			"PENDING_PROFILE_TTL", "ALLOW_LEGACY_PLAINTEXT", "ALLOW_LEGACY_TOKENS", "CORS_ORIGINS"} {
			t.Setenv(k, "")
		}

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Port != "3000" {
			t.Errorf("Port: expected 3000, got %q", cfg.Port)
		}
		if cfg.LogLevel != slog.LevelInfo {
			t.Errorf("LogLevel: expected info, got %v", cfg.LogLevel)
		}
		if cfg.SessionTTL != 168*time.Hour || cfg.SessionRememberTTL != 720*time.Hour {
			t.Errorf("session TTLs: got %v / %v", cfg.SessionTTL, cfg.SessionRememberTTL)
		}
		if cfg.PendingProfileTTL != 15*time.Minute {
			t.Errorf("PendingProfileTTL: expected 15m, got %v", cfg.PendingProfileTTL)
		}
		if !cfg.AllowLegacyPlaintext {
			t.Error("AllowLegacyPlaintext should default to true")
		}
		if cfg.AllowLegacyTokens {
			t.Error("AllowLegacyTokens should default to false")
		}
		if cfg.RateLoginEmailMax != 10 || cfg.RateLoginEmailWindow != 10*time.Minute || cfg.RateLoginEmailLockout != 15*time.Minute {
			t.Errorf("login rate limit: got %d/%v/%v", cfg.RateLoginEmailMax, cfg.RateLoginEmailWindow, cfg.RateLoginEmailLockout)
		}
		if cfg.GoogleEnabled() || cfg.FacebookEnabled() {
			t.Error("no OAuth provider should be enabled by default")
		}
	})

	t.Run("reads overrides", func(t *testing.T) {
		setRequired(t)
		t.Setenv("PORT", "8080")
		t.Setenv("LOG_LEVEL", "DEBUG")
		t.Setenv("COOKIE_SECURE", "true")
		t.Setenv("CORS_ORIGINS", "https://a.example, ,https://b.example")
		t.Setenv("SESSION_TTL", "2h")
		t.Setenv("ALLOW_LEGACY_PLAINTEXT", "false")
		t.Setenv("PASSWORD_MIN_LENGTH", "10")
		t.Setenv("PASSWORD_REQUIRE_DIGIT", "1")
		t.Setenv("RATE_IP_PER_SECOND", "0.5")

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Port != "8080" || cfg.LogLevel != slog.LevelDebug || !cfg.CookieSecure {
			t.Errorf("unexpected port/level/secure: %q %v %v", cfg.Port, cfg.LogLevel, cfg.CookieSecure)
		}
		if !slices.Equal(cfg.CORSOrigins, []string{"https://a.example", "https://b.example"}) {
			t.Errorf("CORSOrigins: got %v", cfg.CORSOrigins)
		}
		if cfg.SessionTTL != 2*time.Hour {
			t.Errorf("SessionTTL: expected 2h, got %v", cfg.SessionTTL)
		}
		if cfg.AllowLegacyPlaintext {
			t.Error("AllowLegacyPlaintext should be false")
		}
		if cfg.PasswordMinLength != 10 || !cfg.PasswordRequireDigit {
			t.Errorf("password policy: got min=%d digit=%v", cfg.PasswordMinLength, cfg.PasswordRequireDigit)
		}
		if cfg.RateIPPerSecond != 0.5 {
			t.Errorf("RateIPPerSecond: expected 0.5, got %v", cfg.RateIPPerSecond)
		}
	})

	t.Run("invalid values fall back to defaults", func(t *testing.T) {
		setRequired(t)
		t.Setenv("SESSION_TTL", "forever")
		t.Setenv("RATE_LOGIN_EMAIL_MAX", "-4")
		t.Setenv("ALLOW_LEGACY_TOKENS", "maybe")

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.SessionTTL != 168*time.Hour {
			t.Errorf("SessionTTL: expected default, got %v", cfg.SessionTTL)
		}
		if cfg.RateLoginEmailMax != 10 {
			t.Errorf("RateLoginEmailMax: expected default, got %d", cfg.RateLoginEmailMax)
		}
		if cfg.AllowLegacyTokens {
			t.Error("AllowLegacyTokens: expected default false")
		}
	})

	t.Run("oauth provider requires a state secret", func(t *testing.T) {
		setRequired(t)
		t.Setenv("GOOGLE_CLIENT_ID", "id")
		t.Setenv("GOOGLE_CLIENT_SECRET", "secret")
		t.Setenv("GOOGLE_REDIRECT_URL", "https://app.example/api/auth/oauth/google/callback")
		t.Setenv("OAUTH_STATE_SECRET", "short")

		if _, err := LoadConfig(); err == nil {
			t.Fatal("expected error for a short OAUTH_STATE_SECRET")
		}

		t.Setenv("OAUTH_STATE_SECRET", "0123456789abcdef0123456789abcdef")
		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if !cfg.GoogleEnabled() {
			t.Error("Google should be enabled")
		}
	})

	t.Run("rejects inconsistent password bounds", func(t *testing.T) {
		setRequired(t)
		t.Setenv("PASSWORD_MIN_LENGTH", "20")
		t.Setenv("PASSWORD_MAX_LENGTH", "10")

		if _, err := LoadConfig(); err == nil {
			t.Fatal("expected error when min exceeds max")
		}
	})

	t.Run("rejects zero argon2 threads", func(t *testing.T) {
		setRequired(t)
		t.Setenv("ARGON2_THREADS", "0")

		if _, err := LoadConfig(); err == nil {
			t.Fatal("expected error for ARGON2_THREADS=0")
		}
	})
}
