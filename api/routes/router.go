package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/auctionhouse-backend/api/controllers"
	ordercontrollers "github.com/angelmondragon/auctionhouse-backend/api/controllers/orders"
	webhookcontrollers "github.com/angelmondragon/auctionhouse-backend/api/controllers/webhooks"
	"github.com/angelmondragon/auctionhouse-backend/api/middleware"
	"github.com/angelmondragon/auctionhouse-backend/internal/auctions"
	"github.com/angelmondragon/auctionhouse-backend/internal/orders"
	"github.com/angelmondragon/auctionhouse-backend/pkg/config"
	"github.com/angelmondragon/auctionhouse-backend/pkg/db"
	"github.com/angelmondragon/auctionhouse-backend/pkg/enums"
	"github.com/angelmondragon/auctionhouse-backend/pkg/logger"
	"github.com/angelmondragon/auctionhouse-backend/pkg/redis"
)

// requestStore is the Redis surface the HTTP layer needs: replay records,
// rate-limit counters and readiness.
type requestStore interface {
	redis.IdempotencyStore
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Ping(ctx context.Context) error
}

type auctionFinalizer interface {
	FinalizeAuction(ctx context.Context, auctionID uuid.UUID) (*auctions.Outcome, error)
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	store requestStore,
	metricsHandler http.Handler,
	auctionService auctions.Service,
	finalizer auctionFinalizer,
	ordersSvc orders.Service,
	paymentGateway webhookcontrollers.PaymentGateway,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.HTTP.CORSOrigins),
	)

	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	bidPolicy := middleware.NewRateLimitPolicy(
		"bids",
		cfg.RateLimit.BidWindow,
		cfg.RateLimit.BidUserLimit,
		cfg.RateLimit.BidIPLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, store))
	})
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	r.Post("/webhooks/payment", webhookcontrollers.PaymentWebhook(paymentGateway, logg))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(store, logg))

		r.With(middleware.RateLimit(bidPolicy, store, logg)).Post("/bids", controllers.PlaceBid(auctionService, logg))
		r.Get("/auctions/{auctionId}/bids", controllers.ListAuctionBids(auctionService, logg))

		r.Get("/orders/{orderId}", ordercontrollers.Get(ordersSvc, logg))
		r.Post("/orders/{orderId}", ordercontrollers.Action(ordersSvc, logg))

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(enums.UserRoleAdmin, logg))
			r.Post("/auctions/{auctionId}/finalize", controllers.AdminFinalizeAuction(finalizer, logg))
		})
	})

	return r
}
