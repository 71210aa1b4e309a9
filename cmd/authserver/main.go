package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/relayhq/relay-auth/pkg/authz"
	"github.com/relayhq/relay-auth/pkg/config"
	"github.com/relayhq/relay-auth/pkg/externalprovider"
	"github.com/relayhq/relay-auth/pkg/flowattempt"
	"github.com/relayhq/relay-auth/pkg/jwks"
	"github.com/relayhq/relay-auth/pkg/notification"
	"github.com/relayhq/relay-auth/pkg/oauth2"
	oauth2api "github.com/relayhq/relay-auth/pkg/oauth2/api"
	"github.com/relayhq/relay-auth/pkg/oauth2client"
	clientapi "github.com/relayhq/relay-auth/pkg/oauth2client/api"
	"github.com/relayhq/relay-auth/pkg/otplogin"
	"github.com/relayhq/relay-auth/pkg/ratelimit"
	"github.com/relayhq/relay-auth/pkg/tokenservice"
	"github.com/relayhq/relay-auth/pkg/usermap"
	"github.com/relayhq/relay-auth/pkg/wellknown"
)

// repositories groups the storage backends, in-memory or Postgres depending
// on configuration
type repositories struct {
	keys        jwks.KeyRepository
	clients     oauth2client.ClientRepository
	attempts    flowattempt.AttemptRepository
	revocations tokenservice.RevocationRepository
	users       usermap.UserMapRepository
}

func buildRepositories(ctx context.Context, cfg config.DbConfig) (*repositories, error) {
	if !cfg.Enabled {
		slog.Info("Using in-memory stores")
		return &repositories{
			keys:        jwks.NewInMemoryKeyRepository(),
			clients:     oauth2client.NewInMemoryClientRepository(),
			attempts:    flowattempt.NewInMemoryAttemptRepository(),
			revocations: tokenservice.NewInMemoryRevocationRepository(),
			users:       usermap.NewInMemoryUserMapRepository(),
		}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}
	slog.Info("Connected to Postgres", "host", cfg.Host, "database", cfg.Database)

	keys, err := jwks.NewPostgresKeyRepository(pool)
	if err != nil {
		return nil, err
	}
	clients, err := oauth2client.NewPostgresClientRepository(pool)
	if err != nil {
		return nil, err
	}
	attempts, err := flowattempt.NewPostgresAttemptRepository(pool)
	if err != nil {
		return nil, err
	}
	revocations, err := tokenservice.NewPostgresRevocationRepository(pool)
	if err != nil {
		return nil, err
	}
	users, err := usermap.NewPostgresUserMapRepository(pool)
	if err != nil {
		return nil, err
	}
	return &repositories{
		keys:        keys,
		clients:     clients,
		attempts:    attempts,
		revocations: revocations,
		users:       users,
	}, nil
}

func buildNotificationManager(cfg config.Config) *notification.NotificationManager {
	manager := notification.NewNotificationManager()

	if cfg.SMTP.Host != "" {
		emailNotifier, err := notification.NewEmailNotifier(notification.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			TLS:      cfg.SMTP.TLS,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
		if err != nil {
			slog.Error("Failed to create email notifier", "error", err)
		} else {
			manager.RegisterNotifier(notification.EmailSystem, emailNotifier)
		}
	} else {
		slog.Warn("SMTP not configured, login codes over email are disabled")
	}

	if cfg.Twilio.TwilioAccountSid != "" {
		manager.RegisterNotifier(notification.SMSSystem, notification.NewSMSNotifier(cfg.Twilio))
	} else {
		slog.Warn("Twilio not configured, login codes over SMS are disabled")
	}

	manager.RegisterNotice(notification.LoginCodeNotice, notification.EmailSystem, notification.NoticeTemplate{
		Subject: "Your Relay sign-in code",
		Text:    "Your sign-in code is {{.code}}. It expires in {{.expires_minutes}} minutes.",
		Html:    "<p>Your sign-in code is <strong>{{.code}}</strong>. It expires in {{.expires_minutes}} minutes.</p>",
	})
	manager.RegisterNotice(notification.LoginCodeNotice, notification.SMSSystem, notification.NoticeTemplate{
		Text: "Relay sign-in code: {{.code}}",
	})

	return manager
}

func buildProviderRegistry(cfg config.Config) *externalprovider.InMemoryProviderRepository {
	registry := externalprovider.NewInMemoryProviderRepository()

	if cfg.Google.Enabled {
		err := registry.CreateProvider(&externalprovider.ExternalProvider{
			ID:           "google",
			DisplayName:  "Google",
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			AuthURL:      "https://accounts.google.com/o/oauth2/v2/auth",
			TokenURL:     "https://oauth2.googleapis.com/token",
			UserInfoURL:  "https://openidconnect.googleapis.com/v1/userinfo",
			Scopes:       []string{"openid", "email", "profile"},
			Enabled:      true,
		})
		if err != nil {
			slog.Error("Failed to register Google provider", "error", err)
		}
	}

	if cfg.Slack.Enabled {
		err := registry.CreateProvider(&externalprovider.ExternalProvider{
			ID:           "slack",
			DisplayName:  "Slack",
			ClientID:     cfg.Slack.ClientID,
			ClientSecret: cfg.Slack.ClientSecret,
			AuthURL:      "https://slack.com/openid/connect/authorize",
			TokenURL:     "https://slack.com/api/openid.connect.token",
			UserInfoURL:  "https://slack.com/api/openid.connect.userInfo",
			Scopes:       []string{"openid", "email", "profile"},
			Enabled:      true,
		})
		if err != nil {
			slog.Error("Failed to register Slack provider", "error", err)
		}
	}

	return registry
}

func main() {
	godotenv.Load()

	cfg := config.Config{}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(-1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repos, err := buildRepositories(ctx, cfg.Db)
	if err != nil {
		slog.Error("Failed to build repositories", "error", err)
		os.Exit(-1)
	}

	// Key material and rotation
	jwksService := jwks.NewJWKSService(repos.keys,
		jwks.WithKeySize(cfg.Jwks.KeySize),
		jwks.WithGraceWindow(2*cfg.Jwks.RotationInterval),
	)
	if _, err := jwksService.Rotate(ctx); err != nil {
		slog.Error("Bootstrap key rotation failed", "error", err)
		os.Exit(-1)
	}

	clientService := oauth2client.NewClientService(repos.clients)
	tokenService := tokenservice.NewTokenService(jwksService, clientService, repos.attempts, repos.revocations,
		cfg.Server.BaseURL,
		tokenservice.WithAccessTokenTTL(cfg.Token.AccessTokenTTL),
		tokenservice.WithRefreshTokenTTL(cfg.Token.RefreshTokenTTL),
	)
	authorizer := authz.NewAuthorizer(tokenService)

	userMapService := usermap.NewUserMapService(repos.users)
	notificationManager := buildNotificationManager(cfg)
	otpService := otplogin.NewOTPLoginService(repos.attempts, userMapService, notificationManager)

	providerRegistry := buildProviderRegistry(cfg)
	externalService := externalprovider.NewExternalProviderService(providerRegistry, repos.attempts, userMapService,
		externalprovider.WithBaseURL(cfg.Server.BaseURL),
	)

	authorizeService := oauth2.NewAuthorizeService(clientService, repos.attempts,
		oauth2.WithAttemptTTL(cfg.Flow.AttemptTTL),
	)

	limiter := ratelimit.NewMiddleware(ratelimit.DefaultConfig())

	oauth2Handle := oauth2api.NewHandle(authorizeService, otpService, externalService, tokenService, jwksService, authorizer).
		WithSecureCookies(cfg.Server.SecureCookies).
		WithUserRateLimit(limiter.UserHandler)
	clientHandle := clientapi.NewHandle(clientService)
	wellknownHandler := wellknown.NewHandler(wellknown.Config{Issuer: cfg.Server.BaseURL})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(limiter.Handler)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	oauth2Handle.Routes(r)
	wellknownHandler.Routes(r)
	r.Group(func(r chi.Router) {
		r.Use(authorizer.Verifier)
		r.Use(limiter.UserHandler)
		r.Use(authorizer.RequireScopes(cfg.Authz.AdminScope))
		clientHandle.Routes(r)
	})

	// Background rotation and sweeping
	go runTicker(ctx, cfg.Jwks.RotationInterval, func() {
		if _, err := jwksService.Rotate(ctx); err != nil {
			slog.Error("Scheduled key rotation failed", "error", err)
		}
	})
	go runTicker(ctx, cfg.Flow.SweepInterval, func() {
		if n, err := repos.attempts.DeleteExpired(ctx); err != nil {
			slog.Error("Flow attempt sweep failed", "error", err)
		} else if n > 0 {
			slog.Info("Swept expired flow attempts", "count", n)
		}
		if _, err := repos.revocations.DeleteExpired(ctx); err != nil {
			slog.Error("Revocation sweep failed", "error", err)
		}
	})

	server := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: r,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown failed", "error", err)
		}
	}()

	slog.Info("Starting authorization server", "addr", cfg.Server.Addr(), "issuer", cfg.Server.BaseURL)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server failed", "error", err)
		os.Exit(-1)
	}
}

func runTicker(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
