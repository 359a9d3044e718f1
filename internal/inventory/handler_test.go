package inventory

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/ledgerdesk/ledgerdesk/internal/shared"
)

func newHandlerRouter(svc *Service, actor int64) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if actor > 0 {
				req = req.WithContext(shared.ContextWithActor(req.Context(), actor))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Route("/products", NewHandler(nil, svc).MountRoutes)
	return r
}

func doRequest(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlerUpdateRefusesQuantity(t *testing.T) {
	repo := newMemoryRepo()
	product := repo.seed(Product{OwnerID: 3, Name: "Cable", SKU: "CB-1", Quantity: 4, SellingPrice: 10})
	router := newHandlerRouter(NewService(repo, nil, nil, nil, nil), 3)
	path := "/products?id=" + product.ID.String()

	rec := doRequest(router, http.MethodPut, path, `{"name":"Cable","sku":"CB-1","quantity":40,"sellingPrice":12}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), `"quantity"`)
	require.Equal(t, 4, repo.quantity(product.ID))
	require.InDelta(t, 10, repo.state.products[product.ID].SellingPrice, 1e-9)

	rec = doRequest(router, http.MethodPut, path, `{"name":"Cable 2m","sku":"CB-1","sellingPrice":12}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var updated Product
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	require.Equal(t, "Cable 2m", updated.Name)
	require.Equal(t, 4, updated.Quantity)

	rec = doRequest(router, http.MethodPut, "/products?id=nope", `{"name":"Cable","sku":"CB-1"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), `"id"`)
}

func TestHandlerAdjustQuantity(t *testing.T) {
	repo := newMemoryRepo()
	product := repo.seed(Product{OwnerID: 3, Name: "Cable", SKU: "CB-1", Quantity: 4})
	router := newHandlerRouter(NewService(repo, nil, nil, nil, nil), 3)
	path := "/products/" + product.ID.String() + "/quantity"

	rec := doRequest(router, http.MethodPut, path, `{"delta":-3,"reference":"count"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, repo.quantity(product.ID))

	rec = doRequest(router, http.MethodPut, path, `{"delta":-2}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, 1, repo.quantity(product.ID))

	rec = doRequest(router, http.MethodPut, path, `{"delta":1,"reason":"sales"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(router, http.MethodGet, "/products/"+product.ID.String()+"/movements", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var movements []Movement
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &movements))
	require.Len(t, movements, 2)
	require.Equal(t, -3, movements[0].Delta)
	require.Equal(t, ReasonManual, movements[0].Reason)
}

func TestHandlerProductsNeedOwner(t *testing.T) {
	repo := newMemoryRepo()
	product := repo.seed(Product{OwnerID: 3, Name: "Cable", SKU: "CB-1", Quantity: 4})

	rec := doRequest(newHandlerRouter(NewService(repo, nil, nil, nil, nil), 0), http.MethodGet, "/products", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(newHandlerRouter(NewService(repo, nil, nil, nil, nil), 4), http.MethodGet, "/products/"+product.ID.String(), "")
	require.Equal(t, http.StatusForbidden, rec.Code)
}
