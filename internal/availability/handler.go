package availability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/cafepos/cafepos/internal/bom"
	"github.com/cafepos/cafepos/internal/platform/httpx"
	"github.com/cafepos/cafepos/internal/recipes"
)

// VariantLookup resolves the recipe an order line would use.
type VariantLookup interface {
	LookupVariant(ctx context.Context, productID int64, variant, size string) (recipes.Recipe, bool, error)
}

// Handler exposes availability checks and the live snapshot stream.
type Handler struct {
	logger      *slog.Logger
	classifier  *Classifier
	broadcaster *Broadcaster
	recipes     VariantLookup
	validator   *validator.Validate
	keepAlive   time.Duration
}

// NewHandler constructs availability handler.
func NewHandler(logger *slog.Logger, classifier *Classifier, broadcaster *Broadcaster, lookup VariantLookup) *Handler {
	return &Handler{
		logger:      logger,
		classifier:  classifier,
		broadcaster: broadcaster,
		recipes:     lookup,
		validator:   validator.New(),
		keepAlive:   25 * time.Second,
	}
}

// MountRoutes registers availability routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/resolve", h.handleResolve)
	r.Get("/snapshot", h.handleSnapshot)
	r.Get("/stream", h.handleStream)
	r.Get("/{productID}", h.handleCheck)
}

type resolveRequest struct {
	ProductID int64    `json:"product_id" validate:"gt=0"`
	Variant   string   `json:"variant" validate:"max=60"`
	Size      string   `json:"size" validate:"max=30"`
	AddOns    []string `json:"add_ons" validate:"dive,max=60"`
	Quantity  int      `json:"quantity" validate:"gte=0"`
}

type resolveResponse struct {
	ProductID int64      `json:"product_id"`
	Variant   string     `json:"variant"`
	Size      string     `json:"size"`
	Quantity  int        `json:"quantity"`
	Lines     []bom.Line `json:"lines"`
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	rec, ok, err := h.recipes.LookupVariant(r.Context(), req.ProductID, req.Variant, req.Size)
	if err != nil {
		h.logger.Error("resolve lookup", slog.Any("error", err), slog.Int64("product_id", req.ProductID))
		httpx.RespondError(w, err)
		return
	}
	if !ok {
		httpx.RespondError(w, httpx.Classify(recipes.ErrRecipeNotFound, httpx.ErrNotFound))
		return
	}
	size := req.Size
	if size == "" {
		size = rec.DefaultSize()
	}
	unit, err := bom.Resolve(rec, size, req.AddOns)
	if err != nil {
		httpx.RespondError(w, httpx.Classify(err, httpx.ErrUnprocessable))
		return
	}
	var total bom.Demand
	if err := total.Merge(unit, float64(req.Quantity)); err != nil {
		httpx.RespondError(w, httpx.Classify(err, httpx.ErrUnprocessable))
		return
	}
	httpx.JSON(w, http.StatusOK, resolveResponse{
		ProductID: req.ProductID,
		Variant:   rec.VariantName,
		Size:      size,
		Quantity:  req.Quantity,
		Lines:     total.Lines(),
	})
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil || productID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid product id")
		return
	}
	q := r.URL.Query()
	res, err := h.classifier.CheckSelection(r.Context(), productID, q.Get("size"), q["add_on"])
	if err != nil {
		h.logger.Error("check availability", slog.Any("error", err), slog.Int64("product_id", productID))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := h.broadcaster.Current()
	if snap == nil {
		var err error
		snap, err = h.broadcaster.Refresh(r.Context())
		if err != nil {
			h.logger.Warn("snapshot refresh", slog.Any("error", err))
			httpx.Problem(w, http.StatusServiceUnavailable, "Snapshot Unavailable", "availability has not been computed yet")
			return
		}
	}
	httpx.JSON(w, http.StatusOK, snap.View())
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpx.Problem(w, http.StatusInternalServerError, "Streaming Unsupported", "response writer cannot flush")
		return
	}
	id, snapshots := h.broadcaster.Subscribe(r.Context(), r.URL.Query().Get("observer"))
	h.logger.Info("availability stream opened", slog.String("observer", id))
	defer h.logger.Info("availability stream closed", slog.String("observer", id))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Observer-ID", id)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			payload, err := json.Marshal(snap.View())
			if err != nil {
				h.logger.Error("encode snapshot", slog.Any("error", err))
				return
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: snapshot\ndata: %s\n\n", snap.Generation(), payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
