package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/packfinderz-cart/api/controllers"
	"github.com/angelmondragon/packfinderz-cart/api/middleware"
	"github.com/angelmondragon/packfinderz-cart/pkg/config"
	"github.com/angelmondragon/packfinderz-cart/pkg/logger"
)

// Deps are the collaborators the HTTP surface drives.
type Deps struct {
	Config   *config.Config
	Logger   *logger.Logger
	Store    controllers.CartStore
	Tokens   controllers.SessionTokens
	Gatherer prometheus.Gatherer
	// Ready lists dependencies checked by /health/ready, keyed by name.
	Ready map[string]controllers.Pinger
}

func NewRouter(d Deps) http.Handler {
	cfg := d.Config
	if cfg == nil {
		cfg = &config.Config{}
	}
	logg := d.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, d.Ready))
	})

	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/session", func(r chi.Router) {
			r.Put("/", controllers.SessionSet(d.Tokens, d.Store, logg))
			r.Delete("/", controllers.SessionClear(d.Tokens, d.Store, logg))
		})

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", controllers.CartGet(d.Store, logg))
			r.Delete("/", controllers.CartClear(d.Store, logg))
			r.Post("/items", controllers.CartAddItem(d.Store, logg))
			r.Patch("/items/{itemID}", controllers.CartUpdateItem(d.Store, logg))
			r.Delete("/items/{itemID}", controllers.CartRemoveItem(d.Store, logg))
			r.Post("/totals", controllers.CartTotals(d.Store, logg))
			r.Get("/lookup", controllers.CartLookup(d.Store, logg))
			r.Post("/validate", controllers.CartValidate(d.Store, logg))
			r.Post("/coupon", controllers.CartApplyCoupon(d.Store, logg))
			r.Post("/merge", controllers.CartMerge(d.Store, logg))
			r.Post("/reload", controllers.CartReload(d.Store, logg))
			r.Post("/reconcile", controllers.CartReconcile(d.Store, logg))
		})
	})

	return r
}
