package service

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	carterrors "github.com/abgdnv/bakery/internal/cart/errors"
	"github.com/shopspring/decimal"
)

// record is the persisted shape of a line item. It matches the payload the
// bakery site kept in browser local storage, so those carts can be imported as is.
type record struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Price    *float64 `json:"price"`
	Quantity *int     `json:"quantity"`
}

// EncodeItems serializes items to the persisted JSON array format.
func EncodeItems(items []LineItem) (string, error) {
	records := make([]record, len(items))
	for i, item := range items {
		price := item.UnitPrice.InexactFloat64()
		quantity := item.Quantity
		records[i] = record{
			ID:       item.ID,
			Name:     item.Name,
			Price:    &price,
			Quantity: &quantity,
		}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("failed to encode cart: %w", err)
	}
	return string(data), nil
}

// DecodeItems parses a persisted payload. An empty or null payload is an empty cart.
// Any payload that would break the cart invariants is rejected as a whole with ErrMalformedData.
func DecodeItems(payload string) ([]LineItem, error) {
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}

	var records []record
	if err := json.Unmarshal([]byte(trimmed), &records); err != nil {
		return nil, fmt.Errorf("%w: %v", carterrors.ErrMalformedData, err)
	}

	items := make([]LineItem, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for i, rec := range records {
		id := strings.TrimSpace(rec.ID)
		switch {
		case id == "":
			return nil, fmt.Errorf("%w: entry %d has no id", carterrors.ErrMalformedData, i)
		case rec.Price == nil || !validPrice(*rec.Price):
			return nil, fmt.Errorf("%w: entry %q has an invalid price", carterrors.ErrMalformedData, id)
		case rec.Quantity == nil || *rec.Quantity < 1:
			return nil, fmt.Errorf("%w: entry %q has an invalid quantity", carterrors.ErrMalformedData, id)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", carterrors.ErrMalformedData, id)
		}
		seen[id] = struct{}{}
		items = append(items, LineItem{
			ID:        id,
			Name:      rec.Name,
			UnitPrice: decimal.NewFromFloat(*rec.Price),
			Quantity:  *rec.Quantity,
		})
	}
	return items, nil
}

func validPrice(price float64) bool {
	return price >= 0 && !math.IsInf(price, 0) && !math.IsNaN(price)
}
