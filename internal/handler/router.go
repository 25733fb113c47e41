package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blocknetdx/eth-payment-processor/internal/middleware"
	"github.com/blocknetdx/eth-payment-processor/internal/service"
)

// RouterConfig carries everything the HTTP layer is wired to.
type RouterConfig struct {
	Quotes         Quoter
	Projects       *service.ProjectService
	Meter          Meter
	Lookup         middleware.ProjectLookup
	Health         *HealthHandler
	AdminToken     string
	CORSOrigins    []string
	QuoteRateLimit int
	QuoteValid     time.Duration
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(middleware.RequireJSON)

	authLimiter := middleware.NewAuthAttemptLimiter(10, 5*time.Minute, 15*time.Minute)
	quoteLimiter := middleware.NewRateLimiter()
	admin := middleware.AdminAuth(cfg.AdminToken, authLimiter)

	r.Method(http.MethodGet, "/health", cfg.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.With(middleware.PerIPRateLimit(quoteLimiter, "quote", cfg.QuoteRateLimit, time.Hour)).
			Method(http.MethodPost, "/projects", NewCreateProjectHandler(cfg.Quotes))
		r.With(middleware.PerIPRateLimit(quoteLimiter, "quote", cfg.QuoteRateLimit, time.Hour)).
			Method(http.MethodPost, "/projects/{projectID}/extend", NewExtendProjectHandler(cfg.Quotes))

		r.With(middleware.ProjectAuth(cfg.Lookup, authLimiter)).
			Method(http.MethodGet, "/usage", NewUsageHandler(cfg.Meter))

		r.Group(func(r chi.Router) {
			r.Use(admin)
			r.Method(http.MethodGet, "/projects", NewListProjectsHandler(cfg.Projects))
			r.Method(http.MethodGet, "/projects/{projectID}", NewGetProjectHandler(cfg.Projects))
			r.Method(http.MethodPost, "/projects/{projectID}/api_count", NewAPICountHandler(cfg.Meter))
			r.Method(http.MethodGet, "/deposits/{chain}/{address}", NewDepositStatusHandler(cfg.Projects, cfg.QuoteValid))
		})
	})

	return r
}
