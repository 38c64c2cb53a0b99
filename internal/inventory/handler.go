package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/cafepos/cafepos/internal/platform/httpx"
	"github.com/cafepos/cafepos/internal/shared"
)

// Handler wires HTTP endpoints for the stock ledger.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/summary", h.handleSummary)
	r.Route("/materials", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleCreate)
		r.Get("/{materialID}", h.handleGet)
		r.Delete("/{materialID}", h.handleDelete)
		r.Post("/{materialID}/restock", h.handleRestock)
		r.Post("/{materialID}/adjust", h.handleAdjust)
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{IncludeDeleted: q.Get("include_deleted") == "true"}
	if raw := q.Get("category"); raw != "" {
		category, err := ParseCategory(raw)
		if err != nil {
			httpx.RespondError(w, httpx.Classify(err, httpx.ErrValidation))
			return
		}
		filter.Category = category
	}
	if raw := q.Get("status"); raw != "" {
		status, err := ParseStatus(raw)
		if err != nil {
			httpx.RespondError(w, httpx.Classify(err, httpx.ErrValidation))
			return
		}
		filter.Status = status
	}
	materials, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, "list materials", err)
		return
	}
	if materials == nil {
		materials = []RawMaterial{}
	}
	httpx.JSON(w, http.StatusOK, materials)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := materialID(w, r)
	if !ok {
		return
	}
	material, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get material", err)
		return
	}
	httpx.JSON(w, http.StatusOK, material)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var input CreateInput
	if err := httpx.DecodeAndValidate(r, h.validator, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input.ActorID = shared.ActorFromContext(r.Context())
	material, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.fail(w, "create material", err)
		return
	}
	h.logger.Info("raw material created", slog.Int64("material_id", material.ID), slog.String("name", material.Name))
	httpx.JSON(w, http.StatusCreated, material)
}

func (h *Handler) handleRestock(w http.ResponseWriter, r *http.Request) {
	id, ok := materialID(w, r)
	if !ok {
		return
	}
	var input RestockInput
	if err := httpx.DecodeAndValidate(r, h.validator, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input.MaterialID = id
	input.ActorID = shared.ActorFromContext(r.Context())
	material, err := h.service.Restock(r.Context(), input)
	if err != nil {
		h.fail(w, "restock material", err)
		return
	}
	httpx.JSON(w, http.StatusOK, material)
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	id, ok := materialID(w, r)
	if !ok {
		return
	}
	var input AdjustInput
	if err := httpx.DecodeAndValidate(r, h.validator, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input.MaterialID = id
	input.ActorID = shared.ActorFromContext(r.Context())
	material, err := h.service.Adjust(r.Context(), input)
	if err != nil {
		h.fail(w, "adjust material", err)
		return
	}
	httpx.JSON(w, http.StatusOK, material)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := materialID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		h.fail(w, "delete material", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Summary(r.Context())
	if err != nil {
		h.fail(w, "stock summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	mapped := MapError(err)
	if errors.Is(mapped, httpx.ErrNotFound) || errors.Is(mapped, httpx.ErrValidation) || errors.Is(mapped, httpx.ErrConflict) || errors.Is(mapped, httpx.ErrDuplicate) {
		h.logger.Info(op+" rejected", slog.Any("error", err))
	} else {
		h.logger.Error(op+" failed", slog.Any("error", err))
	}
	httpx.RespondError(w, mapped)
}

// MapError translates ledger errors into httpx sentinels.
func MapError(err error) error {
	switch {
	case errors.Is(err, ErrMaterialNotFound):
		return httpx.Classify(err, httpx.ErrNotFound)
	case errors.Is(err, ErrDuplicateMaterial):
		return httpx.Classify(err, httpx.ErrDuplicate)
	case errors.Is(err, ErrMaterialDeleted):
		return httpx.Classify(err, httpx.ErrConflict)
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrNegativeStock), errors.Is(err, ErrInvalidCategory), errors.Is(err, ErrMissingFields):
		return httpx.Classify(err, httpx.ErrValidation)
	}
	return err
}

func materialID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "materialID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid material id")
		return 0, false
	}
	return id, true
}
