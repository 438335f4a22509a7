package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	ginapi "github.com/pilab-dev/shadow-auth/api/gin"
	"github.com/pilab-dev/shadow-auth/cache"
	"github.com/pilab-dev/shadow-auth/config"
	"github.com/pilab-dev/shadow-auth/domain"
	"github.com/pilab-dev/shadow-auth/internal/audit"
	"github.com/pilab-dev/shadow-auth/internal/auth"
	"github.com/pilab-dev/shadow-auth/internal/metrics"
	"github.com/pilab-dev/shadow-auth/internal/server"
	"github.com/pilab-dev/shadow-auth/log"
	"github.com/pilab-dev/shadow-auth/middleware"
	"github.com/pilab-dev/shadow-auth/services"
	"github.com/pilab-dev/shadow-auth/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		zerolog.New(os.Stderr).With().Timestamp().Logger().
			Error().Err(err).Msg("shadow-auth exited with error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	level, levelErr := log.ParseLevel(cfg.LogLevel)
	zl := log.NewZerolog(os.Stderr, level, cfg.LogPretty)
	log.SetGlobal(zl)
	audit.SetOutput(zl.With().Str("stream", "audit").Logger())
	appLogger := log.FromZerolog(zl)
	if levelErr != nil {
		appLogger.Warn(context.Background(), "Invalid log level, defaulting to info", log.Fields{"log_level": cfg.LogLevel})
	}
	if cfg.JWT.Secret == config.DevJWTSecret {
		appLogger.Warn(context.Background(), "Using the development JWT secret; set SHADOW_AUTH_JWT_SECRET")
	}
	if !cfg.LogPretty {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.InitTracerProvider(ctx, cfg.OtelServiceName, cfg.TracingEnabled, nil)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.InitCustomMetrics(reg)

	stores, err := openBackends(ctx, cfg, appLogger)
	if err != nil {
		return err
	}

	providers, err := buildProviders(cfg, appLogger)
	if err != nil {
		stores.close(context.Background())
		return fmt.Errorf("init providers: %w", err)
	}

	signer := services.NewTokenSigner(cfg.JWT.Issuer)
	signer.AddKeySigner(cfg.JWT.KeyID, cfg.JWT.Secret)

	authService, err := services.NewAuthService(services.Dependencies{
		Accounts:         stores.accounts,
		Bindings:         stores.bindings,
		Logins:           stores.logins,
		GroupPermissions: stores.groups,
		Store:            stores.kv,
		Providers:        providers,
		Hasher:           auth.NewBcryptPasswordHasher(bcrypt.DefaultCost),
		Signer:           signer,
		Mailer:           services.LogMailer{RevealCode: cfg.Email.LogCodes},
	}, services.Options{
		AccessTTL:                    cfg.Auth.AccessTTL,
		RefreshTTL:                   cfg.Auth.RefreshTTL,
		BindTicketTTL:                cfg.Auth.BindTicketTTL,
		RotateRefreshToken:           cfg.Auth.RotateRefreshToken,
		TrustUnverifiedProviderEmail: cfg.Auth.TrustUnverifiedProviderEmail,
		Email: services.EmailVerificationOptions{
			CodeTTL:     cfg.Email.CodeTTL,
			Cooldown:    cfg.Email.Cooldown,
			MaxAttempts: cfg.Email.MaxAttempts,
		},
	})
	if err != nil {
		stores.close(context.Background())
		return fmt.Errorf("init auth service: %w", err)
	}

	tokenCache := cache.NewTokenCache[*domain.Principal](cfg.Auth.TokenCacheTTL, cfg.Auth.TokenCacheSize)
	authAPI := ginapi.NewAuthAPI(authService, middleware.NewAuthenticator(authService, tokenCache))

	httpServer := server.NewHTTPServer(cfg, appLogger, server.Options{
		Gatherer:     reg,
		HealthChecks: stores.checks,
	}, authAPI)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		appLogger.Info(gctx, "HTTP server listening", log.Fields{
			"port":         cfg.HTTPPort,
			"providers":    providers.Codes(),
			"kv_store":     cfg.Store.KV,
			"durable_type": cfg.Store.Durable,
		})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info(context.Background(), "Shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	stores.close(shutdownCtx)
	if err := shutdownTracing(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "TracerProvider shutdown error", err)
	}

	appLogger.Info(shutdownCtx, "Server gracefully stopped.")
	return runErr
}
