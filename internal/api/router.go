package api

import (
	"net/http"

	"github.com/ayo6706/personal-ledger/internal/api/handler"
	"github.com/ayo6706/personal-ledger/internal/api/middleware"
	"github.com/ayo6706/personal-ledger/internal/api/spec"
	"github.com/ayo6706/personal-ledger/internal/idempotency"
	"github.com/ayo6706/personal-ledger/internal/observability"
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Deps are the collaborators the HTTP surface forwards to.
type Deps struct {
	Logger      *zap.Logger
	Accounts    handler.Accounts
	Ledger      handler.Ledger
	History     handler.History
	Webhooks    handler.DepositWebhooks
	Idempotency *idempotency.Store
	Health      map[string]handler.Pinger
	PublicRPS   int
	AuthRPS     int
}

type Router struct {
	deps Deps
}

func NewRouter(deps Deps) *Router {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.PublicRPS <= 0 {
		deps.PublicRPS = 10
	}
	if deps.AuthRPS <= 0 {
		deps.AuthRPS = 100
	}
	return &Router{deps: deps}
}

func (api *Router) Routes() chi.Router {
	d := api.deps
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.RecoverMiddleware(d.Logger))
	r.Use(middleware.LoggingMiddleware(d.Logger))
	r.Use(middleware.MetricsMiddleware)

	healthHandler := handler.NewHealthHandler(d.Health)
	authHandler := handler.NewAuthHandler(d.Accounts)
	accountHandler := handler.NewAccountHandler(d.Accounts)
	txHandler := handler.NewTransactionHandler(d.Accounts, d.Ledger, d.History)

	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	r.Method(http.MethodGet, "/metrics", observability.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	// Public Routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(d.PublicRPS))
		r.Post("/v1/auth/login", authHandler.Login)
		r.Post("/v1/accounts", accountHandler.OpenAccount)
		if d.Webhooks != nil {
			r.Post("/v1/webhooks/deposits", handler.NewWebhookHandler(d.Webhooks).HandleDepositWebhook)
		}
	})

	// Protected Routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(d.AuthRPS))

		r.Get("/v1/account/details", accountHandler.Details)
		r.Get("/v1/account/balance", accountHandler.Balance)
		r.Get("/v1/transactions/history", txHandler.History)

		r.Group(func(r chi.Router) {
			r.Use(middleware.IdempotencyMiddleware(d.Idempotency, d.Logger))
			r.Post("/v1/transactions/deposit", txHandler.Deposit)
			r.Post("/v1/transactions/withdraw", txHandler.Withdraw)
			r.Post("/v1/transactions/transfer", txHandler.Transfer)
		})
	})

	return r
}
