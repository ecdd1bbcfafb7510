package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/abgdnv/bakery/internal/cart/service"
	"github.com/abgdnv/bakery/internal/cart/store"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// brokenStorage fails every write.
type brokenStorage struct{}

func (brokenStorage) Get(context.Context, string) (string, bool, error) { return "", false, nil }
func (brokenStorage) Set(context.Context, string, string) error {
	return errors.New("quota exceeded")
}

func newTestRouter(t *testing.T, storage store.Storage) (http.Handler, service.CartStore) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cart := service.NewCartStore(storage, logger)
	mux := chi.NewRouter()
	NewAPI(cart, logger).RegisterRoutes(mux)
	return mux, cart
}

func doRequest(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func Test_CartAPI_AddItem(t *testing.T) {
	testCases := []struct {
		name         string
		body         string
		expectedCode int
		expectedBody string
	}{
		{
			name:         "Success - explicit price, default quantity",
			body:         `{"id":"bread-1","name":"Sourdough","price":45}`,
			expectedCode: http.StatusOK,
			expectedBody: `{"item_count":1,"total_price":45,"items":[{"id":"bread-1","name":"Sourdough","price":45,"quantity":1}]}`,
		},
		{
			name:         "Success - price label",
			body:         `{"id":"cake-2","name":"Cheesecake","price_label":"From R120","quantity":2}`,
			expectedCode: http.StatusOK,
			expectedBody: `{"item_count":2,"total_price":240,"items":[{"id":"cake-2","name":"Cheesecake","price":120,"quantity":2}]}`,
		},
		{
			name:         "Success - percentage promotion",
			body:         `{"id":"promo-1","name":"Croissant Box","price_label":"20% OFF","original_price_label":"R150.00"}`,
			expectedCode: http.StatusOK,
			expectedBody: `{"item_count":1,"total_price":120,"items":[{"id":"promo-1","name":"Croissant Box","price":120,"quantity":1}]}`,
		},
		{
			name:         "Error - promotion without original price",
			body:         `{"id":"promo-1","name":"Croissant Box","price_label":"20% OFF"}`,
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "Error - no price at all",
			body:         `{"id":"bread-1","name":"Sourdough"}`,
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "Error - negative price",
			body:         `{"id":"x","name":"X","price":-5}`,
			expectedCode: http.StatusBadRequest,
			expectedBody: `{"validation_errors":{"Price":"failed on rule: gte"}}`,
		},
		{
			name:         "Error - zero quantity",
			body:         `{"id":"x","name":"X","price":5,"quantity":0}`,
			expectedCode: http.StatusBadRequest,
			expectedBody: `{"validation_errors":{"Quantity":"failed on rule: gte"}}`,
		},
		{
			name:         "Error - missing id",
			body:         `{"name":"X","price":5}`,
			expectedCode: http.StatusBadRequest,
			expectedBody: `{"validation_errors":{"ID":"failed on rule: required"}}`,
		},
		{
			name:         "Error - invalid json",
			body:         `{"id":`,
			expectedCode: http.StatusBadRequest,
			expectedBody: `{"error":"Invalid request body"}`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// given
			router, cart := newTestRouter(t, store.NewInMemoryStore())

			// when
			rr := doRequest(router, http.MethodPost, "/api/v1/cart/items", tc.body)

			// then
			assert.Equal(t, tc.expectedCode, rr.Code, "status code should match")
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
			if tc.expectedBody != "" {
				assert.JSONEq(t, tc.expectedBody, rr.Body.String(), "response body should match")
			}
			if tc.expectedCode != http.StatusOK {
				assert.Equal(t, 0, cart.TotalItemCount(), "rejected requests must not change the cart")
			}
		})
	}
}

func Test_CartAPI_AddItem_MergesSameID(t *testing.T) {
	// given
	router, _ := newTestRouter(t, store.NewInMemoryStore())

	// when
	doRequest(router, http.MethodPost, "/api/v1/cart/items", `{"id":"bread-1","name":"Sourdough","price":45,"quantity":2}`)
	rr := doRequest(router, http.MethodPost, "/api/v1/cart/items", `{"id":"bread-1","name":"Sourdough","price":45}`)

	// then
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"item_count":3,"total_price":135,"items":[{"id":"bread-1","name":"Sourdough","price":45,"quantity":3}]}`, rr.Body.String())
}

func Test_CartAPI_PersistenceFailure(t *testing.T) {
	// given
	router, cart := newTestRouter(t, brokenStorage{})

	// when
	rr := doRequest(router, http.MethodPost, "/api/v1/cart/items", `{"id":"bread-1","name":"Sourdough","price":45}`)

	// then
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "false", rr.Header().Get(PersistedHeader))
	assert.Equal(t, 1, cart.TotalItemCount(), "the change must be kept in memory")
}

func Test_CartAPI_SetQuantity(t *testing.T) {
	testCases := []struct {
		name          string
		itemID        string
		body          string
		expectedCode  int
		expectedCount int
	}{
		{name: "Success - update", itemID: "bread-1", body: `{"quantity":4}`, expectedCode: http.StatusOK, expectedCount: 4},
		{name: "Success - zero removes", itemID: "bread-1", body: `{"quantity":0}`, expectedCode: http.StatusOK, expectedCount: 0},
		{name: "Error - not found", itemID: "nope", body: `{"quantity":4}`, expectedCode: http.StatusNotFound, expectedCount: 2},
		{name: "Error - missing quantity", itemID: "bread-1", body: `{}`, expectedCode: http.StatusBadRequest, expectedCount: 2},
		{name: "Error - invalid json", itemID: "bread-1", body: `nope`, expectedCode: http.StatusBadRequest, expectedCount: 2},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// given
			router, cart := newTestRouter(t, store.NewInMemoryStore())
			_, err := cart.AddItem(context.Background(), "bread-1", "Sourdough", 45, 2)
			require.NoError(t, err)

			// when
			rr := doRequest(router, http.MethodPut, "/api/v1/cart/items/"+tc.itemID, tc.body)

			// then
			assert.Equal(t, tc.expectedCode, rr.Code)
			assert.Equal(t, tc.expectedCount, cart.TotalItemCount())
		})
	}
}

func Test_CartAPI_SetQuantity_NotFoundBody(t *testing.T) {
	// given
	router, _ := newTestRouter(t, store.NewInMemoryStore())

	// when
	rr := doRequest(router, http.MethodPut, "/api/v1/cart/items/999", `{"quantity":1}`)

	// then
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.JSONEq(t, `{"error":"Item with ID 999 not found in cart"}`, rr.Body.String())
}

func Test_CartAPI_RemoveItem(t *testing.T) {
	// given
	router, cart := newTestRouter(t, store.NewInMemoryStore())
	_, err := cart.AddItem(context.Background(), "cake-2", "Cheesecake", 120, 1)
	require.NoError(t, err)

	// when
	first := doRequest(router, http.MethodDelete, "/api/v1/cart/items/cake-2", "")
	second := doRequest(router, http.MethodDelete, "/api/v1/cart/items/cake-2", "")

	// then
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusOK, second.Code, "removing an absent item is not an error")
	assert.JSONEq(t, `{"item_count":0,"total_price":0,"items":[]}`, second.Body.String())
}

func Test_CartAPI_GetCartAndCount(t *testing.T) {
	// given
	router, cart := newTestRouter(t, store.NewInMemoryStore())
	ctx := context.Background()
	_, err := cart.AddItem(ctx, "bread-1", "Sourdough", 45.5, 2)
	require.NoError(t, err)
	_, err = cart.AddItem(ctx, "bun-3", "Cinnamon Bun", 18, 1)
	require.NoError(t, err)

	// when
	cartResp := doRequest(router, http.MethodGet, "/api/v1/cart/", "")
	countResp := doRequest(router, http.MethodGet, "/api/v1/cart/count", "")

	// then
	assert.Equal(t, http.StatusOK, cartResp.Code)
	assert.JSONEq(t, `{"item_count":3,"total_price":109,"items":[
		{"id":"bread-1","name":"Sourdough","price":45.5,"quantity":2},
		{"id":"bun-3","name":"Cinnamon Bun","price":18,"quantity":1}
	]}`, cartResp.Body.String())
	assert.Equal(t, http.StatusOK, countResp.Code)
	assert.JSONEq(t, `{"item_count":3}`, countResp.Body.String())
}

func Test_CartAPI_Clear(t *testing.T) {
	// given
	router, cart := newTestRouter(t, store.NewInMemoryStore())
	_, err := cart.AddItem(context.Background(), "bread-1", "Sourdough", 45, 2)
	require.NoError(t, err)

	// when
	rr := doRequest(router, http.MethodDelete, "/api/v1/cart/", "")

	// then
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, rr.Body.String())
	assert.Equal(t, 0, cart.TotalItemCount())
}

func Test_CartAPI_Import(t *testing.T) {
	testCases := []struct {
		name          string
		body          string
		expectedCode  int
		expectedCount int
	}{
		{
			name:          "Success - browser payload",
			body:          `[{"id":"bread-1","name":"Sourdough","price":45,"quantity":2},{"id":"cake-2","name":"Cheesecake","price":120,"quantity":1}]`,
			expectedCode:  http.StatusOK,
			expectedCount: 3,
		},
		{name: "Error - truncated payload", body: `[{"id":"bread-1"`, expectedCode: http.StatusBadRequest, expectedCount: 1},
		{name: "Error - duplicate ids", body: `[{"id":"a","name":"A","price":1,"quantity":1},{"id":"a","name":"A","price":1,"quantity":1}]`, expectedCode: http.StatusBadRequest, expectedCount: 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// given
			router, cart := newTestRouter(t, store.NewInMemoryStore())
			_, err := cart.AddItem(context.Background(), "old", "Old", 1, 1)
			require.NoError(t, err)

			// when
			rr := doRequest(router, http.MethodPost, "/api/v1/cart/import", tc.body)

			// then
			assert.Equal(t, tc.expectedCode, rr.Code)
			assert.Equal(t, tc.expectedCount, cart.TotalItemCount())
		})
	}
}

func Test_CartAPI_HealthCheck(t *testing.T) {
	router, _ := newTestRouter(t, store.NewInMemoryStore())
	rr := doRequest(router, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}
