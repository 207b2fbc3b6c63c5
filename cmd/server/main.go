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

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/harmoni/backend/internal/config"
	"github.com/harmoni/backend/internal/devicestore"
	"github.com/harmoni/backend/internal/logger"
	"github.com/harmoni/backend/internal/observability"
	"github.com/harmoni/backend/internal/repository"
	"github.com/harmoni/backend/internal/service"
	"github.com/harmoni/backend/pkg/crypto"
	"github.com/harmoni/backend/pkg/gotrue"
	"github.com/harmoni/backend/pkg/payment"
)

func main() {
	// .env is optional outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(!cfg.IsProduction(), cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := repository.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	if err := repository.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	log.Info("database connected and migrated")

	enc, err := crypto.NewEncryptor(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("encryption: %w", err)
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient, err = devicestore.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer redisClient.Close()
		log.Info("redis connected", zap.String("addr", cfg.RedisAddr))
	}

	var store devicestore.Store
	switch cfg.DeviceStore {
	case config.DeviceStoreRedis:
		store = devicestore.NewRedis(redisClient, cfg.DeviceTTL)
	case config.DeviceStorePostgres:
		store = repository.NewDeviceStateRepository(db)
	default:
		store = devicestore.NewMemory()
	}
	log.Info("device store ready", zap.String("backend", cfg.DeviceStore))

	users := repository.NewUserRepository(db)
	transactions := repository.NewTransactionRepository(db, users)

	var idp service.IdentityProvider
	if cfg.UseHostedAuth() {
		client := gotrue.NewClient(cfg.SupabaseURL, cfg.SupabaseAnonKey, cfg.PaymentTimeout)
		idp = service.NewSupabaseIdentity(client, cfg.SupabaseURL, cfg.SupabaseJWTSecret)
		log.Info("identity provider: hosted", zap.String("url", cfg.SupabaseURL), zap.Bool("local_verification", cfg.SupabaseJWTSecret != ""))
	} else {
		idp = service.NewLocalIdentity(cfg.JWTSecret, repository.NewCredentialRepository(db))
		log.Info("identity provider: local")
	}

	var gateway payment.Gateway
	if cfg.PaymentProvider == config.PaymentMock {
		gateway = payment.NewMockGateway()
		log.Warn("using mock payment gateway")
	} else {
		mp := payment.NewMercadoPago(cfg.MercadoPagoAccessToken, cfg.MercadoPagoBaseURL, cfg.PaymentTimeout)
		if !mp.Configured() {
			log.Warn("MERCADO_PAGO_ACCESS_TOKEN not set; checkout will fail")
		}
		gateway = mp
	}

	hub := service.NewEntitlementHub()
	var publisher service.Publisher = hub
	if redisClient != nil {
		relay := service.NewEntitlementRelay(redisClient, hub, log)
		publisher = relay
		go func() {
			if err := relay.Run(ctx, nil); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("entitlement relay stopped", zap.Error(err))
			}
		}()
	}

	metrics := observability.NewMetrics()
	flag := service.NewLocalFlag(store)
	a := &app{
		cfg:     cfg,
		log:     log,
		db:      db,
		redis:   redisClient,
		idp:     idp,
		users:   users,
		metrics: metrics,
		flag:    flag,
		// Claims use their own key so a session token never verifies as one.
		claims: service.NewClaimIssuer(cfg.JWTSecret+":entitlement", cfg.ClaimTTL),
		sessions: service.NewSessions(service.SessionsConfig{
			Identity: idp,
			Profiles: service.NewProfileResolver(users, log),
			Store:    store,
			Flag:     flag,
			Sealer:   enc,
			Hub:      hub,
			Logger:   log,
		}),
		checkout:      service.NewCheckoutService(gateway, cfg.BaseURL()),
		subscriptions: service.NewSubscriptionService(transactions, publisher, cfg.ExpiryPolicy, log),
		gateway:       gateway,
	}

	router, closeRouter := a.routes()
	defer closeRouter()

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// WriteTimeout stays 0 for the long-lived session event websocket.
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", addr), zap.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
