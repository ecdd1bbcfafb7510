package service

import "github.com/shopspring/decimal"

// LineItem is one distinct product in the cart.
// Quantity is always at least 1; an item whose quantity drops to zero is removed.
type LineItem struct {
	ID        string
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
}

// Subtotal returns UnitPrice × Quantity.
func (i LineItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Summary is the read-only view of the cart handed to display collaborators.
type Summary struct {
	ItemCount  int
	TotalPrice decimal.Decimal
	Items      []LineItem
}

func summarize(items []LineItem) Summary {
	out := Summary{
		TotalPrice: decimal.Zero,
		Items:      make([]LineItem, len(items)),
	}
	copy(out.Items, items)
	for _, item := range items {
		out.ItemCount += item.Quantity
		out.TotalPrice = out.TotalPrice.Add(item.Subtotal())
	}
	return out
}
