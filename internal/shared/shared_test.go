package shared

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUserSafeMessage(t *testing.T) {
	require.Equal(t, "", UserSafeMessage(nil))
	require.Equal(t, "material not found", UserSafeMessage(errors.New("inventory: material not found")))
	require.Equal(t, "recipe for product 7: boom", UserSafeMessage(fmt.Errorf("availability: recipe for product 7: %w", errors.New("boom"))))
	require.Equal(t, "invalid product id \"x\"", UserSafeMessage(errors.New("invalid product id \"x\"")))
}

func TestPagination(t *testing.T) {
	page, perPage := PageFromQuery(url.Values{"page": {"3"}, "per_page": {"500"}})
	require.Equal(t, 3, page)
	require.Equal(t, 200, perPage)

	page, perPage = PageFromQuery(url.Values{})
	require.Equal(t, 1, page)
	require.Equal(t, 50, perPage)

	p := NewPagination(2, 10, 25)
	require.Equal(t, 3, p.TotalPages)
	require.Equal(t, 10, p.Offset())
}

func TestActorMiddleware(t *testing.T) {
	var got int64
	h := ActorMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ActorFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(ActorHeader, "42")
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, int64(42), got)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(ActorHeader, "nope")
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.Zero(t, got)

	require.Zero(t, ActorFromContext(context.Background()))
}

func TestAuditBufferKeepsNewest(t *testing.T) {
	b := NewAuditBuffer(2)
	ctx := context.Background()
	for _, action := range []string{"a", "b", "c"} {
		require.NoError(t, b.Record(ctx, AuditLog{Action: action, Entity: "raw_material", EntityID: "1"}))
	}
	entries := b.Entries()
	require.Len(t, entries, 2)
	require.Equal(t, "b", entries[0].Action)
	require.Equal(t, "c", entries[1].Action)
}
