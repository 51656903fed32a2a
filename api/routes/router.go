package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/repurposehub/checkout-service/api/controllers"
	"github.com/repurposehub/checkout-service/api/middleware"
	"github.com/repurposehub/checkout-service/internal/authctx"
	"github.com/repurposehub/checkout-service/internal/journal"
	"github.com/repurposehub/checkout-service/internal/orchestrator"
	"github.com/repurposehub/checkout-service/internal/provider"
	"github.com/repurposehub/checkout-service/pkg/config"
	"github.com/repurposehub/checkout-service/pkg/logger"
)

// NewRouter wires the checkout API surface. tokens and attempts are
// optional; their routes are omitted when nil.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	registry *orchestrator.Registry,
	gateway *provider.Adapter,
	tokens *authctx.Holder,
	attempts journal.Reader,
	promRegistry *prometheus.Registry,
	readiness map[string]controllers.Pinger,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	checkout := controllers.NewCheckoutController(registry, gateway, attempts, cfg, logg)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness))
	})

	if promRegistry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	}

	if tokens != nil {
		ops := controllers.NewOpsController(tokens, logg)
		r.Post("/internal/tokens/reload", ops.TokenReload)
	}

	r.Route("/api/v1/checkout", func(r chi.Router) {
		r.Use(
			middleware.Auth(cfg.JWT, logg),
			middleware.Visit(logg),
		)

		r.Get("/attempt", checkout.Attempt)
		r.Post("/attempt", checkout.Submit)
		r.Post("/attempt/retry", checkout.Retry)
		r.Post("/attempt/cancel", checkout.Cancel)
		r.Post("/attempt/abandon", checkout.Abandon)
		r.Post("/attempt/continue", checkout.Continue)

		r.Get("/pending", checkout.Pending)
		r.Post("/pending/resume", checkout.Resume)
		r.Delete("/pending", checkout.Discard)

		r.Post("/callbacks/success", checkout.CallbackSuccess)
		r.Post("/callbacks/failure", checkout.CallbackFailure)
		r.Post("/callbacks/dismiss", checkout.CallbackDismiss)

		if attempts != nil {
			r.Get("/history", checkout.History)
			r.Get("/history/{key}", checkout.HistoryByKey)
		}
	})

	return r
}
