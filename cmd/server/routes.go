package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/unrolled/secure"
	"go.uber.org/zap"

	"github.com/harmoni/backend/internal/config"
	"github.com/harmoni/backend/internal/handler"
	appMiddleware "github.com/harmoni/backend/internal/middleware"
	"github.com/harmoni/backend/internal/observability"
	"github.com/harmoni/backend/internal/service"
	"github.com/harmoni/backend/internal/ws"
	"github.com/harmoni/backend/pkg/payment"
)

type app struct {
	cfg     *config.Config
	log     *zap.Logger
	db      *pgxpool.Pool
	redis   *redis.Client
	idp     service.IdentityProvider
	users   service.UserStore
	metrics *observability.Metrics
	flag    *service.LocalFlag
	claims  *service.ClaimIssuer

	sessions      *service.Sessions
	checkout      *service.CheckoutService
	subscriptions *service.SubscriptionService
	gateway       payment.Gateway
}

// routes builds the router. The returned func releases background
// resources owned by the middleware.
func (a *app) routes() (http.Handler, func()) {
	secureCookies := a.cfg.IsProduction()

	authHandler := handler.NewAuthHandler(a.sessions, a.claims, a.log, secureCookies)
	paymentHandler := handler.NewPaymentHandler(a.checkout, a.subscriptions, a.flag, a.log)
	webhookHandler := handler.NewWebhookHandler(a.gateway, a.subscriptions, a.cfg.MercadoPagoWebhookSecret, a.metrics, a.log)
	accessHandler := handler.NewAccessHandler(a.claims, a.flag, a.log, secureCookies)
	pageHandler := handler.NewPageHandler(a.flag, a.log)
	plansHandler := handler.NewPlansHandler()
	adminHandler := handler.NewAdminHandler(a.db, a.subscriptions, a.log)
	eventsHandler := ws.NewEventsHandler(a.sessions, a.cfg.CORSOrigins, a.log)

	checks := map[string]handler.Pinger{"database": a.db}
	if a.redis != nil {
		client := a.redis
		checks["redis"] = handler.PingFunc(func(ctx context.Context) error { return client.Ping(ctx).Err() })
	}
	healthHandler := handler.NewHealthHandler(checks)

	auth := appMiddleware.NewAuthenticator(a.idp, a.sessions, a.log)
	premium := appMiddleware.NewPremium(a.claims, secureCookies)
	gate := appMiddleware.NewGate(appMiddleware.GateConfig{
		Lookup:        service.NewStatusLookup(a.idp, a.users),
		Claims:        a.claims,
		Metrics:       a.metrics,
		Logger:        a.log,
		SecureCookies: secureCookies,
	})

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(appMiddleware.Logger(a.log))
	r.Use(appMiddleware.Recovery(a.log))
	r.Use(secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
		SSLRedirect:        a.cfg.IsProduction(),
		SSLProxyHeaders:    map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:      !a.cfg.IsProduction(),
	}).Handler)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   a.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", appMiddleware.DeviceHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(a.metrics.Middleware)

	// Global rate limiter (20 req/sec per IP, burst of 40)
	globalRL := appMiddleware.NewRateLimiter(20, 40)
	r.Use(globalRL.Middleware())
	r.Use(appMiddleware.Device(secureCookies))

	// Operational endpoints
	r.Get("/health", healthHandler.Check)
	r.Handle("/metrics", a.metrics.Handler())

	// Public API
	r.Get("/api/plans", plansHandler.List)
	r.Get("/api/webhook", webhookHandler.Status)
	r.Post("/api/webhook", webhookHandler.Receive)

	// Auth routes act on the calling device's session store.
	r.Group(func(r chi.Router) {
		r.Use(appMiddleware.StrictRateLimiter(10, time.Minute))
		r.Post("/api/auth/signin", authHandler.SignIn)
		r.Post("/api/auth/signup", authHandler.SignUp)
	})
	r.Post("/api/auth/signout", authHandler.SignOut)
	r.Get("/api/auth/session", authHandler.Session)
	r.Post("/api/auth/refresh", authHandler.Refresh)

	// Checkout works for guests and attaches the user when signed in.
	r.Group(func(r chi.Router) {
		r.Use(auth.Optional)
		r.Post("/api/create-preference", paymentHandler.CreatePreference)
		r.Post("/api/subscription/free", paymentHandler.ChooseFree)
		r.Get("/api/shell", accessHandler.Shell)
	})

	// Protected API routes
	r.Group(func(r chi.Router) {
		r.Use(auth.Required)

		r.Get("/api/auth/me", authHandler.Me)
		r.Post("/api/auth/me/refresh", authHandler.RefreshMe)
		r.Get("/api/access", accessHandler.Access)
		r.Get("/api/access/features/{feature}", accessHandler.Feature)
		r.Get("/api/entitlement", accessHandler.Entitlement)
		r.Get("/api/transactions", paymentHandler.Transactions)
		r.Get("/api/session/events", eventsHandler.Handle)

		// Premium API: every feature requires paid.
		r.With(premium.RequireFeature("")).Get("/api/premium/{feature}", accessHandler.Feature)
	})

	// Admin routes
	r.Group(func(r chi.Router) {
		r.Use(appMiddleware.AdminOnly(a.cfg.AdminToken))
		r.Get("/api/admin/stats", adminHandler.GetStats)
		r.Post("/api/admin/users/{id}/expire", adminHandler.ExpireUser)
		r.Post("/api/admin/expire-lapsed", adminHandler.ExpireLapsed)
		r.Post("/api/payment/simulate", paymentHandler.Simulate)
	})

	// Pages: the edge gate runs first, then the in-page check for premium ones.
	r.Group(func(r chi.Router) {
		r.Use(gate.Middleware)
		r.Use(auth.Optional)

		r.Get("/auth", pageHandler.Auth)
		r.Get("/subscription", pageHandler.Subscription)
		r.Get("/payment/success", pageHandler.PaymentSuccess)
		r.Get("/payment/failure", pageHandler.PaymentFailure)
		r.Get("/payment/pending", pageHandler.PaymentPending)

		r.Group(func(r chi.Router) {
			r.Use(premium.PremiumPage)
			r.Get("/", pageHandler.Premium("home"))
			r.Get("/weekly-plan", pageHandler.Premium("weekly-plan"))
			r.Get("/workout-full-plan", pageHandler.Premium("workout-full-plan"))
		})
	})

	return r, globalRL.Close
}
