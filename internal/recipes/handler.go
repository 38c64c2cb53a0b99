package recipes

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cafepos/cafepos/internal/platform/httpx"
	"github.com/cafepos/cafepos/internal/shared"
)

// Handler exposes the recipe editor API.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs recipes handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers recipe routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{productID}", h.handleList)
	r.Get("/{productID}/{variant}", h.handleGet)
	r.Put("/{productID}/{variant}", h.handleSave)
	r.Delete("/{productID}/{variant}", h.handleDelete)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}
	list, err := h.service.ListByProduct(r.Context(), productID)
	if err != nil {
		h.logger.Error("list recipes", slog.Any("error", err), slog.Int64("product_id", productID))
		httpx.RespondError(w, err)
		return
	}
	if list == nil {
		list = []Recipe{}
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}
	rec, err := h.service.Get(r.Context(), productID, chi.URLParam(r, "variant"))
	if err != nil {
		httpx.RespondError(w, MapError(err))
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request) {
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}
	var rec Recipe
	if err := httpx.DecodeJSON(r, &rec); err != nil {
		httpx.RespondError(w, err)
		return
	}
	rec.ProductID = productID
	rec.VariantName = chi.URLParam(r, "variant")
	saved, err := h.service.Save(r.Context(), rec, shared.ActorFromContext(r.Context()))
	if err != nil {
		if !errors.Is(err, ErrInvalidRecipe) {
			h.logger.Error("save recipe", slog.Any("error", err), slog.Int64("product_id", productID))
		}
		httpx.RespondError(w, MapError(err))
		return
	}
	httpx.JSON(w, http.StatusOK, saved)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), productID, chi.URLParam(r, "variant"), shared.ActorFromContext(r.Context())); err != nil {
		httpx.RespondError(w, MapError(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MapError translates catalog errors into httpx sentinels.
func MapError(err error) error {
	switch {
	case errors.Is(err, ErrRecipeNotFound):
		return httpx.Classify(err, httpx.ErrNotFound)
	case errors.Is(err, ErrInvalidRecipe):
		return httpx.Classify(err, httpx.ErrUnprocessable)
	}
	return err
}

func productIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid product id")
		return 0, false
	}
	return id, true
}
