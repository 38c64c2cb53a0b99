package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cafepos/cafepos/internal/availability"
	"github.com/cafepos/cafepos/internal/deduction"
	"github.com/cafepos/cafepos/internal/inventory"
	"github.com/cafepos/cafepos/internal/observability"
	"github.com/cafepos/cafepos/internal/recipes"
	"github.com/cafepos/cafepos/jobs"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServices(t *testing.T) *Services {
	t.Helper()
	cfg := &Config{
		StoreDriver:          StoreMemory,
		NotifyDriver:         NotifyLocal,
		StockLowThreshold:    10,
		DeductionPolicy:      "block",
		BroadcastConcurrency: 2,
		RateLimitPerMinute:   1000,
		CatalogSeedPath:      filepath.Join("..", "..", "configs", "catalog.yaml"),
	}
	svc, err := BuildServices(context.Background(), cfg, quietLogger(), observability.NewMetrics())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	require.NoError(t, svc.SeedCatalog(context.Background(), quietLogger()))
	return svc
}

func newTestRouter(svc *Services, health func(context.Context) error) http.Handler {
	logger := quietLogger()
	return NewRouter(RouterParams{
		Logger:              logger,
		Config:              svc.Config,
		InventoryHandler:    inventory.NewHandler(logger, svc.Inventory),
		RecipesHandler:      recipes.NewHandler(logger, svc.Recipes),
		AvailabilityHandler: availability.NewHandler(logger, svc.Classifier, svc.Broadcaster, svc.Recipes),
		DeductionHandler:    deduction.NewHandler(logger, svc.Deduction),
		JobHandler:          jobs.NewHandler(nil, logger),
		Metrics:             svc.Metrics,
		Health:              health,
	})
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouterServesSeededCafe(t *testing.T) {
	svc := newTestServices(t)
	router := newTestRouter(svc, svc.Stores.Ping)

	rec := do(t, router, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = do(t, router, http.MethodGet, "/availability/101", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodPost, "/sales/S-1/deductions", `{"lines":[{"product_id":103,"menu_item_name":"Americano","quantity":2}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodGet, "/inventory/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodGet, "/jobs/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `cafepos_deductions_total{outcome="committed"} 1`)
	require.Contains(t, rec.Body.String(), `route="/sales/{saleID}/deductions"`)
}

func TestHealthzReportsStoreFailure(t *testing.T) {
	svc := newTestServices(t)
	router := newTestRouter(svc, func(context.Context) error { return errors.New("down") })
	rec := do(t, router, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
