package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/billflow-backend/api/controllers"
	billingcontrollers "github.com/angelmondragon/billflow-backend/api/controllers/billing"
	subscriptioncontrollers "github.com/angelmondragon/billflow-backend/api/controllers/subscriptions"
	webhookcontrollers "github.com/angelmondragon/billflow-backend/api/controllers/webhooks"
	"github.com/angelmondragon/billflow-backend/api/middleware"
	billingsvc "github.com/angelmondragon/billflow-backend/internal/billing"
	"github.com/angelmondragon/billflow-backend/internal/charges"
	"github.com/angelmondragon/billflow-backend/internal/paymentmethods"
	subscriptionsvc "github.com/angelmondragon/billflow-backend/internal/subscriptions"
	webhookpaystack "github.com/angelmondragon/billflow-backend/internal/webhooks/paystack"
	"github.com/angelmondragon/billflow-backend/pkg/config"
	"github.com/angelmondragon/billflow-backend/pkg/db"
	"github.com/angelmondragon/billflow-backend/pkg/logger"
	"github.com/angelmondragon/billflow-backend/pkg/paystack"
	"github.com/angelmondragon/billflow-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	billingService *billingsvc.Service,
	subscriptionsService subscriptionsvc.Service,
	paymentMethodsService *paymentmethods.Service,
	chargesService *charges.Service,
	planCatalog *paystack.Catalog,
	webhookService *webhookpaystack.Service,
	webhookGuard *webhookpaystack.IdempotencyGuard,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.CORS.AllowedOrigins),
	)

	apiPolicy := middleware.NewRateLimitPolicy(
		"api",
		cfg.RateLimit.Window,
		cfg.RateLimit.IPLimit,
		cfg.RateLimit.CustomerLimit,
	)
	webhookPolicy := middleware.NewRateLimitPolicy(
		"webhooks",
		cfg.RateLimit.Window,
		cfg.RateLimit.WebhookIPLimit,
		0,
	)

	var cache db.Pinger
	if redisClient != nil {
		cache = redisClient
	}
	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, dbP, cache, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/webhooks", func(r chi.Router) {
			r.Use(middleware.RateLimit(webhookPolicy, redisClient, logg))
			r.Post("/paystack", webhookcontrollers.PaystackWebhook(webhookService, cfg.Paystack, webhookGuard, logg))
		})

		// Customer onboarding issues the token, so it sits outside the auth group.
		r.With(middleware.RateLimit(apiPolicy, redisClient, logg)).
			Post("/customers", controllers.CustomerCreate(billingService, cfg.JWT, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.Use(middleware.RateLimit(apiPolicy, redisClient, logg))
			r.Use(middleware.Idempotency(redisClient, logg))

			r.Route("/customers/me", func(r chi.Router) {
				r.Get("/", controllers.CustomerProfile(billingService, logg))
				r.Put("/tax", controllers.CustomerSetTaxPercent(billingService, logg))
			})

			r.Route("/subscriptions", func(r chi.Router) {
				r.Post("/", subscriptioncontrollers.Subscribe(subscriptionsService, billingService, logg))
				r.Get("/", subscriptioncontrollers.List(subscriptionsService, logg))
				r.Route("/{name}", func(r chi.Router) {
					r.Get("/", subscriptioncontrollers.Current(subscriptionsService, logg))
					r.Post("/cancel", subscriptioncontrollers.Cancel(subscriptionsService, logg))
					r.Post("/cancel-now", subscriptioncontrollers.CancelNow(subscriptionsService, logg))
					r.Post("/resume", subscriptioncontrollers.Resume(subscriptionsService, logg))
					r.Post("/swap", subscriptioncontrollers.Swap(subscriptionsService, logg))
					r.Post("/coupon", subscriptioncontrollers.ApplyCoupon(subscriptionsService, logg))
					r.Put("/quantity", subscriptioncontrollers.UpdateQuantity(subscriptionsService, logg))
				})
			})

			r.Route("/payment-methods", func(r chi.Router) {
				r.Get("/", billingcontrollers.PaymentMethodList(paymentMethodsService, logg))
				r.Post("/{id}/default", billingcontrollers.PaymentMethodSetDefault(paymentMethodsService, logg))
				r.Delete("/{id}", billingcontrollers.PaymentMethodDeactivate(paymentMethodsService, logg))
				r.Post("/{id}/check-funds", billingcontrollers.PaymentMethodCheckFunds(paymentMethodsService, logg))
			})

			r.Route("/charges", func(r chi.Router) {
				r.Post("/", billingcontrollers.ChargeCreate(chargesService, logg))
				r.Get("/", billingcontrollers.ChargeList(billingService, logg))
				r.Get("/{reference}", billingcontrollers.ChargeGet(chargesService, logg))
			})

			r.Route("/invoices", func(r chi.Router) {
				r.Post("/", billingcontrollers.InvoiceCreate(chargesService, logg))
				r.Get("/", billingcontrollers.InvoiceList(chargesService, logg))
			})

			r.Route("/plans", func(r chi.Router) {
				r.Get("/", billingcontrollers.PlanList(planCatalog, logg))
				r.Get("/{code}", billingcontrollers.PlanGet(planCatalog, logg))
			})
		})
	})

	return r
}
