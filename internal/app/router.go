package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/cafepos/cafepos/internal/availability"
	"github.com/cafepos/cafepos/internal/deduction"
	"github.com/cafepos/cafepos/internal/inventory"
	"github.com/cafepos/cafepos/internal/observability"
	"github.com/cafepos/cafepos/internal/platform/httpx"
	"github.com/cafepos/cafepos/internal/recipes"
	"github.com/cafepos/cafepos/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger              *slog.Logger
	Config              *Config
	InventoryHandler    *inventory.Handler
	RecipesHandler      *recipes.Handler
	AvailabilityHandler *availability.Handler
	DeductionHandler    *deduction.Handler
	JobHandler          *jobs.Handler
	Metrics             *observability.Metrics
	// Health reports store reachability for /healthz. Nil means always healthy.
	Health func(ctx context.Context) error
}

// NewRouter constructs the chi.Router with cafepos defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if params.Health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := params.Health(ctx); err != nil {
				params.Logger.Warn("health check", slog.Any("error", err))
				httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if params.InventoryHandler != nil {
		r.Route("/inventory", params.InventoryHandler.MountRoutes)
	}
	if params.RecipesHandler != nil {
		r.Route("/recipes", params.RecipesHandler.MountRoutes)
	}
	if params.AvailabilityHandler != nil {
		r.Route("/availability", params.AvailabilityHandler.MountRoutes)
	}
	if params.DeductionHandler != nil {
		params.DeductionHandler.MountRoutes(r)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
