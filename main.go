package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"

	"github.com/wenclerfic/wenclerfic/internal/auth"
	"github.com/wenclerfic/wenclerfic/internal/captcha"
	"github.com/wenclerfic/wenclerfic/internal/config"
	"github.com/wenclerfic/wenclerfic/internal/fics"
	"github.com/wenclerfic/wenclerfic/internal/metrics"
	"github.com/wenclerfic/wenclerfic/internal/oauth"
	"github.com/wenclerfic/wenclerfic/internal/store"
)

// Embeds the migration files INTO the go bin

//go:embed migrations/*.sql
var migrationsDir embed.FS

func main() {
	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	// Load config first so we can set log level
	cfg, err := config.LoadConfig()
	if err != nil {
		// Fallback logger before config is available
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}

	// Include source location in log entries at debug level only.
	addSrc := cfg.LogLevel == slog.LevelDebug

	// Set up slog to output as json with configured level
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     cfg.LogLevel,
		AddSource: addSrc,
	})))

	// Cancel ctx on SIGINT/SIGTERM; run() shuts down when ctx is done.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run() is a separate func so deferred closes always execute before os.Exit.
	if err := run(ctx, cfg, nil); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// run holds all server logic and returns error instead of calling os.Exit,
// so deferred resource cleanup always runs.
// Shuts down when ctx is cancelled (signal handling is the caller's concern).
// If ready is non-nil, the server's base URL is sent on it once the listener is bound.
func run(ctx context.Context, cfg *config.Config, ready chan<- string) error {
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.SentryEnvironment,
			AttachStacktrace: true,
		}); err != nil {
			slog.Error("sentry init failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	ps, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to set up postgres store: %w", err)
	}
	defer ps.Close()

	migrationsFS, err := fs.Sub(migrationsDir, "migrations")
	if err != nil {
		return fmt.Errorf("failed to access embedded migrations: %w", err)
	}
	if err := ps.Migrate(ctx, migrationsFS); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Redis is optional. Without it sessions resolve from Postgres and the
	// per-email login limit is off; the per-IP limiter still applies.
	var cache auth.SessionCache = store.NoopSessionCache{}
	var limiter auth.RateLimiter = store.NoopRateLimiter{}
	if cfg.RedisURL != "" {
		rdb, err := store.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to set up redis client: %w", err)
		}
		defer rdb.Close()
		cache = store.NewRedisStore(rdb)
		limiter = store.NewRedisRateLimiter(rdb)
	} else {
		slog.Warn("REDIS_URL not set, session cache and per-email login limit disabled")
	}

	providers, err := buildProviders(ctx, cfg)
	if err != nil {
		return err
	}

	h := newAuthHandler(cfg, ps, cache, limiter, providers)
	fh := fics.NewHandler(ps)
	ipLimiter := auth.NewIPRateLimiter(ctx, cfg.RateIPPerSecond, cfg.RateIPBurst)

	// Bind listener; ":0" picks a free port (useful in tests).
	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	server := &http.Server{
		Handler:           buildRouter(cfg, h, fh, ipLimiter.Middleware),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Expiry sweeper; stops when run() returns.
	sweepCtx, cancelSweep := context.WithCancel(ctx)
	defer cancelSweep()
	go auth.RunSweeper(sweepCtx, ps, cfg.SweepInterval)

	// Start server in a goroutine; run() continues past this.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("wenclerfic listening", "addr", ln.Addr().String())
		// Send error only if server stops for a reason other than explicit shutdown.
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Signal readiness to caller (used by tests; nil in production).
	if ready != nil {
		ready <- "http://" + ln.Addr().String()
	}

	// Wait for server error or shutdown signal from ctx.
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	// Shutdown stops accepting connections and waits for in-flight requests.
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// buildProviders returns the configured OAuth providers keyed by route name.
func buildProviders(ctx context.Context, cfg *config.Config) (map[string]oauth.Provider, error) {
	providers := make(map[string]oauth.Provider)
	if cfg.GoogleEnabled() {
		g, err := oauth.NewGoogleProvider(ctx, cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
		if err != nil {
			return nil, fmt.Errorf("failed to set up google oauth: %w", err)
		}
		providers[g.Name()] = g
	}
	if cfg.FacebookEnabled() {
		f := oauth.NewFacebookProvider(cfg.FacebookAppID, cfg.FacebookAppSecret, cfg.FacebookRedirectURL)
		providers[f.Name()] = f
	}
	slog.Info("oauth providers configured", "count", len(providers))
	return providers, nil
}

// newAuthHandler assembles the auth stack from config. ps also backs the
// session manager and the profile flow.
func newAuthHandler(cfg *config.Config, ps auth.Store, cache auth.SessionCache, limiter auth.RateLimiter, providers map[string]oauth.Provider) *auth.AuthHandler {
	hasher := auth.Hasher{
		Time:                 uint32(cfg.Argon2Time),
		MemoryKiB:            uint32(cfg.Argon2MemoryKiB),
		Threads:              uint8(cfg.Argon2Threads),
		AllowLegacyPlaintext: cfg.AllowLegacyPlaintext,
	}
	sessions := &auth.SessionManager{
		Store:             ps,
		Cache:             cache,
		TTL:               cfg.SessionTTL,
		RememberTTL:       cfg.SessionRememberTTL,
		AllowLegacyTokens: cfg.AllowLegacyTokens,
	}

	h := &auth.AuthHandler{
		PS:       ps,
		RS:       cache,
		RL:       limiter,
		Sessions: sessions,
		Profiles: &auth.ProfileFlow{
			Store:      ps,
			Sessions:   sessions,
			Hasher:     hasher,
			PendingTTL: cfg.PendingProfileTTL,
		},
		Hasher: hasher,
		Policy: auth.PasswordPolicy{
			MinLength:        cfg.PasswordMinLength,
			MaxLength:        cfg.PasswordMaxLength,
			RequireUppercase: cfg.PasswordRequireUppercase,
			RequireDigit:     cfg.PasswordRequireDigit,
			RequireSpecial:   cfg.PasswordRequireSpecial,
		},
		OAuthProviders:   providers,
		OAuthStateSecret: []byte(cfg.OAuthStateSecret),
		Cookie:           auth.CookieOptions{Secure: cfg.CookieSecure, Domain: cfg.CookieDomain},
		LoginRateLimit: store.RateLimit{
			MaxAttempts: cfg.RateLoginEmailMax,
			Window:      cfg.RateLoginEmailWindow,
			LockoutTTL:  cfg.RateLoginEmailLockout,
		},
	}
	if cfg.TurnstileSecret != "" {
		h.Captcha = captcha.NewTurnstileVerifier(cfg.TurnstileSecret)
	}
	return h
}

// buildRouter wires all routes and middleware.
// authLimit guards /api/auth; tests pass a pass-through.
func buildRouter(cfg *config.Config, h *auth.AuthHandler, fh *fics.Handler, authLimit func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	// Repanic hands the panic back to Recoverer after Sentry records it.
	r.Use(sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", h.CheckHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(h.LoadUser)

		r.Route("/auth", func(r chi.Router) {
			r.Use(authLimit)
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
			r.Get("/session", h.Session)
			r.Post("/logout", h.Logout)
			r.Get("/oauth/{provider}", h.OAuthRedirect)
			r.Get("/oauth/{provider}/callback", h.OAuthCallback)
			r.Post("/complete-profile", h.CompleteProfile)

			r.Group(func(r chi.Router) {
				r.Use(h.RequireAuth)
				r.Post("/logout-all", h.LogoutAll)
				r.Post("/password/change", h.PasswordChange)
			})
		})

		r.Mount("/fics", fh.Routes(h.RequireAuth))
		r.Mount("/users", fh.UserRoutes(h.RequireAuth))
	})

	return r
}
