// Package handler provides the HTTP adapter that turns cart requests into CartStore commands.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	carterrors "github.com/abgdnv/bakery/internal/cart/errors"
	"github.com/abgdnv/bakery/internal/cart/pricing"
	"github.com/abgdnv/bakery/internal/cart/service"
	"github.com/abgdnv/bakery/internal/platform/contextkeys"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// PersistedHeader is set to "false" when a mutation was applied but could not be saved.
const PersistedHeader = "X-Cart-Persisted"

const maxImportBytes = 1 << 20

// CartAPI defines HTTP handlers for cart endpoints.
type CartAPI interface {
	GetCart(w http.ResponseWriter, r *http.Request)
	Count(w http.ResponseWriter, r *http.Request)
	AddItem(w http.ResponseWriter, r *http.Request)
	SetQuantity(w http.ResponseWriter, r *http.Request)
	RemoveItem(w http.ResponseWriter, r *http.Request)
	Clear(w http.ResponseWriter, r *http.Request)
	Import(w http.ResponseWriter, r *http.Request)

	HealthCheck(w http.ResponseWriter, r *http.Request)

	RegisterRoutes(r chi.Router)
}

type api struct {
	cart     service.CartStore
	validate *validator.Validate
	logger   *slog.Logger
}

// NewAPI creates a new instance of CartAPI with the provided cart store.
func NewAPI(cart service.CartStore, logger *slog.Logger) CartAPI {
	return &api{
		cart:     cart,
		validate: validator.New(),
		logger:   logger.With("component", "api"),
	}
}

// AddItemRequest is the body of POST /items. Either Price or PriceLabel must be set.
// Quantity defaults to 1.
type AddItemRequest struct {
	ID                 string   `json:"id" validate:"required,max=100"`
	Name               string   `json:"name" validate:"required,max=200"`
	Price              *float64 `json:"price" validate:"omitempty,gte=0"`
	PriceLabel         string   `json:"price_label" validate:"max=50"`
	OriginalPriceLabel string   `json:"original_price_label" validate:"max=50"`
	Quantity           *int     `json:"quantity" validate:"omitempty,gte=1"`
}

// SetQuantityRequest is the body of PUT /items/{id}. Zero or negative removes the item.
type SetQuantityRequest struct {
	Quantity *int `json:"quantity" validate:"required"`
}

// ItemResponse is a single cart line.
type ItemResponse struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

// SummaryResponse is the cart as shown to the page.
type SummaryResponse struct {
	ItemCount  int            `json:"item_count"`
	TotalPrice float64        `json:"total_price"`
	Items      []ItemResponse `json:"items"`
}

// CountResponse feeds the cart badge.
type CountResponse struct {
	ItemCount int `json:"item_count"`
}

// RegisterRoutes wires the cart endpoints into r.
func (a *api) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/cart", func(r chi.Router) {
		r.Get("/", a.GetCart)
		r.Delete("/", a.Clear)
		r.Get("/count", a.Count)
		r.Post("/items", a.AddItem)
		r.Post("/import", a.Import)
		r.Route("/items/{id}", func(r chi.Router) {
			r.Put("/", a.SetQuantity)
			r.Delete("/", a.RemoveItem)
		})
	})
	r.Get("/healthz", a.HealthCheck)
}

// GetCart returns the full cart summary.
func (a *api) GetCart(w http.ResponseWriter, r *http.Request) {
	mLogger := loggerWithReqID(r, a)
	respondJSON(w, mLogger, http.StatusOK, toSummaryResponse(a.cart.Summary()))
}

// Count returns the total item count for the cart badge.
func (a *api) Count(w http.ResponseWriter, r *http.Request) {
	mLogger := loggerWithReqID(r, a)
	respondJSON(w, mLogger, http.StatusOK, CountResponse{ItemCount: a.cart.TotalItemCount()})
}

// AddItem adds an item to the cart.
func (a *api) AddItem(w http.ResponseWriter, r *http.Request) {
	mLogger := loggerWithReqID(r, a)
	var req AddItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		mLogger.ErrorContext(r.Context(), "Error decoding request body", "error", err)
		respondError(w, mLogger, http.StatusBadRequest, "Invalid request body")
		return
	}
	mLogger.DebugContext(r.Context(), "Received request to add item", "item", req)
	if !a.validateBody(w, r, mLogger, req) {
		return
	}

	price, err := resolvePrice(req)
	if err != nil {
		mLogger.WarnContext(r.Context(), "Unresolvable item price", "ID", req.ID, "error", err)
		respondError(w, mLogger, http.StatusBadRequest, err.Error())
		return
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	_, err = a.cart.AddItem(r.Context(), req.ID, req.Name, price, quantity)
	if !a.handleMutationErr(w, r, mLogger, req.ID, err) {
		return
	}
	mLogger.InfoContext(r.Context(), "Item added to cart", "ID", req.ID, "quantity", quantity)
	respondJSON(w, mLogger, http.StatusOK, toSummaryResponse(a.cart.Summary()))
}

// SetQuantity sets the quantity of an item already in the cart.
func (a *api) SetQuantity(w http.ResponseWriter, r *http.Request) {
	mLogger := loggerWithReqID(r, a)
	id := chi.URLParam(r, "id")
	var req SetQuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		mLogger.ErrorContext(r.Context(), "Error decoding request body", "error", err)
		respondError(w, mLogger, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !a.validateBody(w, r, mLogger, req) {
		return
	}

	mLogger.DebugContext(r.Context(), "Received request to set quantity", "ID", id, "quantity", *req.Quantity)
	_, err := a.cart.SetQuantity(r.Context(), id, *req.Quantity)
	if !a.handleMutationErr(w, r, mLogger, id, err) {
		return
	}
	respondJSON(w, mLogger, http.StatusOK, toSummaryResponse(a.cart.Summary()))
}

// RemoveItem removes an item from the cart. Removing an absent item succeeds.
func (a *api) RemoveItem(w http.ResponseWriter, r *http.Request) {
	mLogger := loggerWithReqID(r, a)
	id := chi.URLParam(r, "id")
	mLogger.DebugContext(r.Context(), "Received request to remove item", "ID", id)
	_, err := a.cart.RemoveItem(r.Context(), id)
	if !a.handleMutationErr(w, r, mLogger, id, err) {
		return
	}
	respondJSON(w, mLogger, http.StatusOK, toSummaryResponse(a.cart.Summary()))
}

// Clear empties the cart.
func (a *api) Clear(w http.ResponseWriter, r *http.Request) {
	mLogger := loggerWithReqID(r, a)
	err := a.cart.Clear(r.Context())
	if !a.handleMutationErr(w, r, mLogger, "", err) {
		return
	}
	mLogger.InfoContext(r.Context(), "Cart cleared")
	w.WriteHeader(http.StatusNoContent)
}

// Import replaces the cart with a payload saved by the bakery site in browser storage.
func (a *api) Import(w http.ResponseWriter, r *http.Request) {
	mLogger := loggerWithReqID(r, a)
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		mLogger.ErrorContext(r.Context(), "Error reading request body", "error", err)
		respondError(w, mLogger, http.StatusBadRequest, "Invalid request body")
		return
	}
	items, err := service.DecodeItems(string(body))
	if err != nil {
		mLogger.WarnContext(r.Context(), "Rejected cart import", "error", err)
		respondError(w, mLogger, http.StatusBadRequest, err.Error())
		return
	}
	_, err = a.cart.Replace(r.Context(), items)
	if !a.handleMutationErr(w, r, mLogger, "", err) {
		return
	}
	mLogger.InfoContext(r.Context(), "Cart imported", "lines", len(items))
	respondJSON(w, mLogger, http.StatusOK, toSummaryResponse(a.cart.Summary()))
}

// HealthCheck is a simple health check endpoint.
func (a *api) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// handleMutationErr writes the error response for err and reports whether the caller should
// go on to write a success response. Persistence failures keep the change, so they continue.
func (a *api) handleMutationErr(w http.ResponseWriter, r *http.Request, logger *slog.Logger, id string, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, carterrors.ErrPersistence):
		logger.ErrorContext(r.Context(), "Cart change applied but not saved", "ID", id, "error", err)
		w.Header().Set(PersistedHeader, "false")
		return true
	case errors.Is(err, carterrors.ErrInvalidArgument):
		logger.WarnContext(r.Context(), "Rejected cart command", "ID", id, "error", err)
		respondError(w, logger, http.StatusBadRequest, err.Error())
	case errors.Is(err, carterrors.ErrNotFound):
		logger.WarnContext(r.Context(), "Item not found in cart", "ID", id)
		respondError(w, logger, http.StatusNotFound, fmt.Sprintf("Item with ID %s not found in cart", id))
	default:
		logger.ErrorContext(r.Context(), "Error updating cart", "ID", id, "error", err)
		respondError(w, logger, http.StatusInternalServerError, "Failed to update cart")
	}
	return false
}

// validateBody runs struct validation and writes a 400 with per-field errors on failure.
func (a *api) validateBody(w http.ResponseWriter, r *http.Request, logger *slog.Logger, body any) bool {
	err := a.validate.Struct(body)
	if err == nil {
		return true
	}
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		errorResponse := make(map[string]string)
		for _, fieldErr := range validationErrors {
			errorResponse[fieldErr.Field()] = "failed on rule: " + fieldErr.Tag()
		}
		logger.WarnContext(r.Context(), "Validation errors occurred", "errors", errorResponse)
		respondJSON(w, logger, http.StatusBadRequest, map[string]any{"validation_errors": errorResponse})
		return false
	}
	logger.ErrorContext(r.Context(), "Error validating request body", "error", err)
	respondError(w, logger, http.StatusBadRequest, "Invalid request body")
	return false
}

// resolvePrice picks the unit price from an explicit price or from the card labels.
func resolvePrice(req AddItemRequest) (float64, error) {
	if req.Price != nil {
		return *req.Price, nil
	}
	if req.PriceLabel == "" {
		return 0, fmt.Errorf("%w: price or price_label is required", carterrors.ErrInvalidArgument)
	}
	price, err := pricing.Resolve(req.PriceLabel, req.OriginalPriceLabel)
	if err != nil {
		return 0, err
	}
	return price.InexactFloat64(), nil
}

func toSummaryResponse(s service.Summary) SummaryResponse {
	items := make([]ItemResponse, len(s.Items))
	for i, item := range s.Items {
		items[i] = ItemResponse{
			ID:       item.ID,
			Name:     item.Name,
			Price:    item.UnitPrice.InexactFloat64(),
			Quantity: item.Quantity,
		}
	}
	return SummaryResponse{
		ItemCount:  s.ItemCount,
		TotalPrice: s.TotalPrice.InexactFloat64(),
		Items:      items,
	}
}

func respondJSON(w http.ResponseWriter, logger *slog.Logger, status int, payload any) {
	// Handle nil payload
	if payload == nil {
		w.WriteHeader(status)
		return
	}

	response, err := json.Marshal(payload)
	if err != nil {
		logger.Error("Error encoding response to JSON", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(response)
}

func respondError(w http.ResponseWriter, logger *slog.Logger, status int, message string) {
	respondJSON(w, logger, status, map[string]string{"error": message})
}

// loggerWithReqID creates a logger with the request ID from the context.
func loggerWithReqID(r *http.Request, a *api) *slog.Logger {
	reqID, found := contextkeys.GetRequestID(r.Context())
	if !found {
		reqID = "unknown"
	}
	return a.logger.With("request_id", reqID)
}
