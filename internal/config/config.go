// config.go

// Environment variable loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all env configuration vars for the wenclerfic server.
type Config struct {
	DatabaseURL string
	// RedisURL is optional; empty disables the session cache and the per-email limiter.
	RedisURL     string
	Port         string
	LogLevel     slog.Level
	CookieSecure bool
	CookieDomain string
	CORSOrigins  []string

	// Session lifetimes. Defaults: 168h standard, 720h (30d) remember-me.
	SessionTTL         time.Duration
	SessionRememberTTL time.Duration
	PendingProfileTTL  time.Duration
	SweepInterval      time.Duration

	// Argon2id cost for new hashes. Defaults: t=3, m=64 MiB, p=2.
	Argon2Time      int
	Argon2MemoryKiB int
	Argon2Threads   int

	// Legacy migration switches. Plaintext defaults on, bare legacy tokens off.
	AllowLegacyPlaintext bool
	AllowLegacyTokens    bool

	// Optional complexity rules on top of the 6..128 length check. Zero/false disables.
	PasswordMinLength        int
	PasswordMaxLength        int
	PasswordRequireUppercase bool
	PasswordRequireDigit     bool
	PasswordRequireSpecial   bool

	// Rate limit policy for login attempts per email.
	// Defaults: max=10, window=10m, lockout=15m.
	RateLoginEmailMax     int
	RateLoginEmailWindow  time.Duration
	RateLoginEmailLockout time.Duration

	// Per-IP token bucket on /api/auth. Defaults: 5 rps, burst 20.
	RateIPPerSecond float64
	RateIPBurst     int

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	FacebookAppID       string
	FacebookAppSecret   string
	FacebookRedirectURL string

	// OAuthStateSecret signs the state cookie. Required once any provider is set.
	OAuthStateSecret string

	// TurnstileSecret enables captcha on registration when set.
	TurnstileSecret string

	SentryDSN         string
	SentryEnvironment string
}

// GoogleEnabled reports whether all Google OAuth settings are present.
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
}

// FacebookEnabled reports whether all Facebook OAuth settings are present.
func (c *Config) FacebookEnabled() bool {
	return c.FacebookAppID != "" && c.FacebookAppSecret != "" && c.FacebookRedirectURL != ""
}

// LoadConfig reads environment variables and returns a validated Config.
// Returns an error if DATABASE_URL is missing or OAuth is half configured.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	cfg.RedisURL = os.Getenv("REDIS_URL")

	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		cfg.Port = "3000"
	}

	// Parse log level, default to info
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	default:
		cfg.LogLevel = slog.LevelInfo
	}

	cfg.CookieSecure = envBool("COOKIE_SECURE", false)
	cfg.CookieDomain = os.Getenv("COOKIE_DOMAIN")
	cfg.CORSOrigins = envList("CORS_ORIGINS", []string{"http://localhost:5173"})

	cfg.SessionTTL = envDuration("SESSION_TTL", 168*time.Hour)
	cfg.SessionRememberTTL = envDuration("SESSION_REMEMBER_ME_TTL", 720*time.Hour)
	cfg.PendingProfileTTL = envDuration("PENDING_PROFILE_TTL", 15*time.Minute)
	cfg.SweepInterval = envDuration("SESSION_SWEEP_INTERVAL", time.Hour)

	cfg.Argon2Time = envInt("ARGON2_TIME", 3)
	cfg.Argon2MemoryKiB = envInt("ARGON2_MEMORY_KIB", 64*1024)
	cfg.Argon2Threads = envInt("ARGON2_THREADS", 2)
	if cfg.Argon2Time < 1 || cfg.Argon2Threads < 1 || cfg.Argon2Threads > 255 {
		return nil, fmt.Errorf("ARGON2_TIME must be at least 1 and ARGON2_THREADS between 1 and 255")
	}
	if cfg.Argon2MemoryKiB < 8*cfg.Argon2Threads {
		return nil, fmt.Errorf("ARGON2_MEMORY_KIB must be at least 8 per thread")
	}

	cfg.AllowLegacyPlaintext = envBool("ALLOW_LEGACY_PLAINTEXT", true)
	cfg.AllowLegacyTokens = envBool("ALLOW_LEGACY_TOKENS", false)

	cfg.PasswordMinLength = envInt("PASSWORD_MIN_LENGTH", 0)
	cfg.PasswordMaxLength = envInt("PASSWORD_MAX_LENGTH", 0)
	cfg.PasswordRequireUppercase = envBool("PASSWORD_REQUIRE_UPPERCASE", false)
	cfg.PasswordRequireDigit = envBool("PASSWORD_REQUIRE_DIGIT", false)
	cfg.PasswordRequireSpecial = envBool("PASSWORD_REQUIRE_SPECIAL", false)
	if cfg.PasswordMaxLength > 0 && cfg.PasswordMinLength > cfg.PasswordMaxLength {
		return nil, fmt.Errorf("PASSWORD_MIN_LENGTH must not exceed PASSWORD_MAX_LENGTH")
	}

	// Rate limit: login by email. If any value is missing or invalid, fall back to
	// the default so a misconfigured env doesn't silently disable rate limiting.
	cfg.RateLoginEmailMax = envInt("RATE_LOGIN_EMAIL_MAX", 10)
	cfg.RateLoginEmailWindow = envDuration("RATE_LOGIN_EMAIL_WINDOW", 10*time.Minute)
	cfg.RateLoginEmailLockout = envDuration("RATE_LOGIN_EMAIL_LOCKOUT", 15*time.Minute)

	cfg.RateIPPerSecond = envFloat("RATE_IP_PER_SECOND", 5)
	cfg.RateIPBurst = envInt("RATE_IP_BURST", 20)

	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	cfg.GoogleRedirectURL = os.Getenv("GOOGLE_REDIRECT_URL")
	cfg.FacebookAppID = os.Getenv("FACEBOOK_APP_ID")
	cfg.FacebookAppSecret = os.Getenv("FACEBOOK_APP_SECRET")
	cfg.FacebookRedirectURL = os.Getenv("FACEBOOK_REDIRECT_URL")
	cfg.OAuthStateSecret = os.Getenv("OAUTH_STATE_SECRET")

	// A state secret shorter than 32 bytes makes the signed cookie guessable.
	if cfg.GoogleEnabled() || cfg.FacebookEnabled() {
		if len(cfg.OAuthStateSecret) < 32 {
			return nil, fmt.Errorf("OAUTH_STATE_SECRET must be at least 32 bytes when an OAuth provider is configured")
		}
	}

	cfg.TurnstileSecret = os.Getenv("TURNSTILE_SECRET")

	cfg.SentryDSN = os.Getenv("SENTRY_DSN")
	cfg.SentryEnvironment = os.Getenv("SENTRY_ENVIRONMENT")
	if cfg.SentryEnvironment == "" {
		cfg.SentryEnvironment = "development"
	}

	return cfg, nil
}

// envInt reads an env var as a non-negative int, returning def if missing or unparseable.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

// envFloat reads an env var as a positive float, returning def if missing or unparseable.
func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return f
}

// envDuration reads an env var as time.Duration, returning def if missing or unparseable.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

// envBool reads an env var with strconv.ParseBool, returning def if missing or unparseable.
func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return b
}

// envList splits a comma-separated env var, dropping blanks.
func envList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
