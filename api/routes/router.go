package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/shopbot-backend/api/controllers"
	"github.com/angelmondragon/shopbot-backend/api/middleware"
	"github.com/angelmondragon/shopbot-backend/internal/purchases"
	"github.com/angelmondragon/shopbot-backend/pkg/config"
	"github.com/angelmondragon/shopbot-backend/pkg/db"
	"github.com/angelmondragon/shopbot-backend/pkg/logger"
	"github.com/angelmondragon/shopbot-backend/pkg/redis"
)

type counterStore interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// Params wires the API surface. Redis and Gatherer are optional: without
// redis the idempotency and rate limit layers are skipped.
type Params struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         db.Pinger
	Redis      *redis.Client
	Gatherer   prometheus.Gatherer
	Settings   controllers.SettingsSource
	Purchases  purchases.Service
	Listing    controllers.PurchaseLister
	Users      controllers.UserFinder
	Gate       controllers.EligibilityChecker
	Dispatcher controllers.PurchaseDeliverer
}

func NewRouter(p Params) http.Handler {
	cfg, logg := p.Config, p.Logger
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.Recoverer(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.Admin.CORSOrigins...),
	)

	var (
		redisPinger controllers.Pinger
		idemStore   redis.IdempotencyStore
		rateStore   counterStore
	)
	if p.Redis != nil {
		redisPinger = p.Redis
		idemStore = p.Redis
		rateStore = p.Redis
	}
	var dbPinger controllers.Pinger
	if p.DB != nil {
		dbPinger = p.DB
	}

	purchasePolicy := middleware.NewRateLimitPolicy("purchase", time.Minute, 0, cfg.Purchases.RateLimitPerMinute)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbPinger, redisPinger))
	})

	if p.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(p.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Idempotency(idemStore, cfg.Eventing.PurchaseIdempotencyTTL, logg))
		r.With(middleware.RateLimit(purchasePolicy, rateStore, logg)).
			Post("/purchases", controllers.PurchaseCreate(p.Purchases, p.Settings, logg))
		r.Get("/purchases/{purchaseId}", controllers.PurchaseDetail(p.Purchases, logg))
		r.Get("/users/{userId}/eligibility", controllers.UserEligibility(p.Users, p.Gate, p.Settings, logg))
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(middleware.AdminToken(cfg.Admin.Token, logg))
		r.Use(middleware.Idempotency(idemStore, 0, logg))
		r.Get("/ping", controllers.AdminPing())
		r.Route("/v1/purchases", func(r chi.Router) {
			r.Get("/", controllers.AdminListPurchases(p.Listing, logg))
			r.Post("/{purchaseId}/deliver", controllers.AdminDeliverPurchase(p.Dispatcher, logg))
		})
	})

	return r
}
