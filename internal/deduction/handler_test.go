package deduction_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/cafepos/cafepos/internal/deduction"
	"github.com/cafepos/cafepos/internal/testing/fixture"
)

func serve(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func deductionRouter(t *testing.T) (*fixture.Cafe, http.Handler) {
	t.Helper()
	cafe := seeded(t, deduction.ServiceConfig{})
	r := chi.NewRouter()
	deduction.NewHandler(fixture.Logger(), cafe.Deduction).MountRoutes(r)
	return cafe, r
}

func TestCommitEndpoint(t *testing.T) {
	cafe, router := deductionRouter(t)
	body := `{"lines":[{"product_id":101,"menu_item_name":"Matcha Latte","quantity":2}]}`

	rec := serve(t, router, http.MethodPost, "/sales/S-1/deductions", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var result deduction.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Equal(t, "S-1", result.SaleID)
	require.Len(t, result.Applied, 3)

	rec = serve(t, router, http.MethodPost, "/sales/S-1/deductions", body)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = serve(t, router, http.MethodGet, "/sales/S-1/deductions", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, router, http.MethodGet, "/sales/S-404/deductions", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	path := "/materials/" + strconv.FormatInt(cafe.Materials["Matcha Powder"], 10) + "/deductions?per_page=1"
	rec = serve(t, router, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var history struct {
		Items      []deduction.Deduction `json:"items"`
		Pagination struct {
			Total int `json:"total"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history.Items, 1)
	require.Equal(t, 30.0, history.Items[0].Quantity)
}

func TestCommitEndpointReportsInsufficientItems(t *testing.T) {
	cafe, router := deductionRouter(t)
	cafe.SetQuantity(t, "Fresh Milk", 100)

	rec := serve(t, router, http.MethodPost, "/sales/S-2/deductions", `{"lines":[{"product_id":101,"quantity":1}]}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	var problem struct {
		Title string                   `json:"title"`
		Items []deduction.Insufficient `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Equal(t, "Insufficient Stock", problem.Title)
	require.Len(t, problem.Items, 1)
	require.Equal(t, "Fresh Milk", problem.Items[0].Name)
}

func TestCommitEndpointValidatesBody(t *testing.T) {
	_, router := deductionRouter(t)
	rec := serve(t, router, http.MethodPost, "/sales/S-3/deductions", `{"lines":[]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = serve(t, router, http.MethodPost, "/sales/S-3/deductions", `{"lines":[{"product_id":101,"quantity":0}]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
