package deduction

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

// Handler exposes checkout deductions and their audit trail.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs deduction handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers deduction routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/sales/{saleID}/deductions", h.handleCommit)
	r.Get("/sales/{saleID}/deductions", h.handleListBySale)
	r.Get("/materials/{materialID}/deductions", h.handleListByMaterial)
}

type commitRequest struct {
	Lines []LineItem `json:"lines" validate:"required,min=1,dive"`
}

type insufficientProblem struct {
	httpx.ProblemDetail
	Items []Insufficient `json:"items"`
}

type materialHistory struct {
	Items      []Deduction       `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) handleCommit(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	saleID := chi.URLParam(r, "saleID")
	result, err := h.service.Commit(r.Context(), saleID, req.Lines)
	if err != nil {
		var short *InsufficientStockError
		if errors.As(err, &short) {
			httpx.JSON(w, http.StatusConflict, insufficientProblem{
				ProblemDetail: httpx.ProblemDetail{Title: "Insufficient Stock", Status: http.StatusConflict, Detail: err.Error()},
				Items:         short.Items,
			})
			return
		}
		httpx.RespondError(w, MapError(err))
		return
	}
	h.logger.Info("sale deducted",
		slog.String("sale_id", result.SaleID),
		slog.Int("materials", len(result.Applied)),
		slog.Int("insufficient", len(result.Insufficient)))
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) handleListBySale(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.ListBySale(r.Context(), chi.URLParam(r, "saleID"))
	if err != nil {
		h.logger.Error("list sale deductions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if len(rows) == 0 {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no deductions recorded for sale")
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) handleListByMaterial(w http.ResponseWriter, r *http.Request) {
	materialID, err := strconv.ParseInt(chi.URLParam(r, "materialID"), 10, 64)
	if err != nil || materialID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid material id")
		return
	}
	page, perPage := shared.PageFromQuery(r.URL.Query())
	pg := shared.NewPagination(page, perPage, 0)
	rows, total, err := h.service.ListByMaterial(r.Context(), materialID, pg.PerPage, pg.Offset())
	if err != nil {
		h.logger.Error("list material deductions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if rows == nil {
		rows = []Deduction{}
	}
	httpx.JSON(w, http.StatusOK, materialHistory{Items: rows, Pagination: shared.NewPagination(page, perPage, total)})
}

// MapError translates deduction errors into httpx sentinels.
func MapError(err error) error {
	switch {
	case errors.Is(err, ErrSaleAlreadyCommitted), errors.Is(err, ErrInsufficientStock):
		return httpx.Classify(err, httpx.ErrConflict)
	case errors.Is(err, ErrInvalidOrder):
		return httpx.Classify(err, httpx.ErrValidation)
	case errors.Is(err, ErrUnitMismatch):
		return httpx.Classify(err, httpx.ErrUnprocessable)
	}
	return err
}
