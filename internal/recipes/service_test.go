package recipes_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/cafepos/cafepos/internal/bom"
	"github.com/cafepos/cafepos/internal/inventory"
	"github.com/cafepos/cafepos/internal/recipes"
	"github.com/cafepos/cafepos/internal/shared"
	"github.com/cafepos/cafepos/internal/store/memory"
)

type recordingPublisher struct {
	events []inventory.ChangeEvent
}

func (p *recordingPublisher) Publish(_ context.Context, evt inventory.ChangeEvent) error {
	p.events = append(p.events, evt)
	return nil
}

func newService() (*recipes.Service, *shared.AuditBuffer, *recordingPublisher) {
	audit := shared.NewAuditBuffer(10)
	pub := &recordingPublisher{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return recipes.NewService(memory.New().Recipes(), audit, pub, bom.ValidateRecipe, logger), audit, pub
}

func matchaLatte(variant string) recipes.Recipe {
	return recipes.Recipe{
		ProductID:   101,
		VariantName: variant,
		Ingredients: []recipes.Ingredient{
			{RawMaterialID: 1, RawMaterialName: " Matcha ", Quantity: 15, Unit: " g ", Required: true},
			{RawMaterialID: 2, Quantity: 200, Unit: "ml", Required: true, AddOnName: "ignored"},
		},
	}
}

func TestSaveNormalisesAndAudits(t *testing.T) {
	svc, audit, pub := newService()
	ctx := context.Background()

	saved, err := svc.Save(ctx, matchaLatte(" "), 9)
	require.NoError(t, err)
	require.Equal(t, recipes.DefaultVariant, saved.VariantName)
	require.Equal(t, "g", saved.Ingredients[0].Unit)
	require.Empty(t, saved.Ingredients[1].AddOnName)
	require.False(t, saved.UpdatedAt.IsZero())

	entries := audit.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, "recipes:save", entries[0].Action)
	require.Equal(t, "101:Default", entries[0].EntityID)
	require.Equal(t, int64(9), entries[0].ActorID)
	require.Len(t, pub.events, 1)

	got, err := svc.Get(ctx, 101, "")
	require.NoError(t, err)
	require.Equal(t, saved.ID, got.ID)
}

func TestSaveRejectsInvalidRecipes(t *testing.T) {
	svc, audit, _ := newService()
	ctx := context.Background()

	_, err := svc.Save(ctx, recipes.Recipe{ProductID: 0, VariantName: "Default"}, 0)
	require.ErrorIs(t, err, recipes.ErrInvalidRecipe)

	bad := matchaLatte("Default")
	bad.Ingredients = append(bad.Ingredients, recipes.Ingredient{RawMaterialID: 1, Quantity: 5, Unit: "ml", Required: true})
	_, err = svc.Save(ctx, bad, 0)
	require.ErrorIs(t, err, recipes.ErrInvalidRecipe)
	require.ErrorContains(t, err, "conflicts")

	sized := matchaLatte("Default")
	sized.Sizes = []string{"Regular", "Large"}
	sized.Ingredients[1].SizeVariant = "Venti Plus"
	_, err = svc.Save(ctx, sized, 0)
	require.ErrorIs(t, err, recipes.ErrInvalidRecipe)

	require.Empty(t, audit.Entries())
}

func TestLookupPrefersVariantThenSize(t *testing.T) {
	svc, _, _ := newService()
	ctx := context.Background()

	_, err := svc.Save(ctx, matchaLatte("Default"), 0)
	require.NoError(t, err)
	large := matchaLatte("Large")
	large.Ingredients[1].Quantity = 300
	_, err = svc.Save(ctx, large, 0)
	require.NoError(t, err)
	oat := matchaLatte("Oat")
	oat.Ingredients[1].RawMaterialID = 3
	_, err = svc.Save(ctx, oat, 0)
	require.NoError(t, err)

	rec, ok, err := svc.Lookup(ctx, 101, "venti")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Large", rec.VariantName)

	rec, ok, err = svc.LookupVariant(ctx, 101, "oat", "Large")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Oat", rec.VariantName)

	rec, ok, err = svc.LookupVariant(ctx, 101, "Soy", "")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, recipes.DefaultVariant, rec.VariantName)

	_, ok, err = svc.Lookup(ctx, 404, "")
	require.NoError(t, err)
	require.False(t, ok)

	ids, err := svc.ProductIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{101}, ids)
}

func TestDeleteVariant(t *testing.T) {
	svc, audit, pub := newService()
	ctx := context.Background()
	_, err := svc.Save(ctx, matchaLatte("Default"), 0)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, 101, "default", 3))
	_, err = svc.Get(ctx, 101, "Default")
	require.ErrorIs(t, err, recipes.ErrRecipeNotFound)
	require.ErrorIs(t, svc.Delete(ctx, 101, "Default", 3), recipes.ErrRecipeNotFound)

	require.Equal(t, "recipes:delete", audit.Entries()[1].Action)
	require.Len(t, pub.events, 2)
}

func serve(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerRoutes(t *testing.T) {
	svc, _, _ := newService()
	r := chi.NewRouter()
	r.Route("/recipes", recipes.NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc).MountRoutes)

	body := `{"ingredients":[{"raw_material_id":1,"quantity":18,"unit":"g"}]}`
	rec := serve(t, r, http.MethodPut, "/recipes/103/Default", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), `"required":true`)

	rec = serve(t, r, http.MethodGet, "/recipes/103", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"variant_name":"Default"`)

	rec = serve(t, r, http.MethodGet, "/recipes/104", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())

	rec = serve(t, r, http.MethodPut, "/recipes/103/Default", `{"ingredients":[{"raw_material_id":0,"quantity":1}]}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = serve(t, r, http.MethodGet, "/recipes/abc/Default", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, r, http.MethodDelete, "/recipes/103/Default", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = serve(t, r, http.MethodGet, "/recipes/103/Default", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}
