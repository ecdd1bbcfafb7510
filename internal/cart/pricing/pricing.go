// Package pricing turns the price labels shown on menu and promotion cards
// ("R45.00", "From R120", "20% OFF") into unit prices for the cart.
package pricing

import (
	"fmt"
	"regexp"
	"strings"

	carterrors "github.com/abgdnv/bakery/internal/cart/errors"
	"github.com/shopspring/decimal"
)

var (
	hundred      = decimal.NewFromInt(100)
	percentRe    = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)
	offRe        = regexp.MustCompile(`(?i)\bOFF\b`)
	labelCleaner = strings.NewReplacer("R", "", ",", "", " ", "")
)

// ParseLabel parses a plain price label such as "R45.00" or "From R120".
func ParseLabel(label string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(label)
	cleaned = strings.TrimPrefix(cleaned, "From")
	cleaned = labelCleaner.Replace(cleaned)
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("%w: empty price label", carterrors.ErrInvalidArgument)
	}
	price, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: unreadable price label %q", carterrors.ErrInvalidArgument, label)
	}
	if price.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: negative price label %q", carterrors.ErrInvalidArgument, label)
	}
	return price, nil
}

// IsDiscount reports whether label describes a discount rather than a price.
func IsDiscount(label string) bool {
	return strings.Contains(label, "%") || offRe.MatchString(label)
}

// Resolve returns the unit price for a promotion card.
//
// A plain promoLabel is parsed as a price. A percentage label ("20% OFF") is
// applied to originalLabel, an amount label ("R15 OFF") is subtracted from it.
// A discount with no original price fails with ErrUnpricedDiscount.
func Resolve(promoLabel, originalLabel string) (decimal.Decimal, error) {
	if !IsDiscount(promoLabel) {
		return ParseLabel(promoLabel)
	}
	if strings.TrimSpace(originalLabel) == "" {
		return decimal.Zero, fmt.Errorf("%w: %q", carterrors.ErrUnpricedDiscount, promoLabel)
	}
	base, err := ParseLabel(originalLabel)
	if err != nil {
		return decimal.Zero, err
	}

	if m := percentRe.FindStringSubmatch(promoLabel); m != nil {
		pct, err := decimal.NewFromString(m[1])
		if err != nil || pct.GreaterThan(hundred) {
			return decimal.Zero, fmt.Errorf("%w: percentage out of range in %q", carterrors.ErrInvalidArgument, promoLabel)
		}
		return base.Mul(hundred.Sub(pct)).Div(hundred).Round(2), nil
	}

	amountLabel := strings.TrimSpace(offRe.ReplaceAllString(promoLabel, ""))
	amount, err := ParseLabel(amountLabel)
	if err != nil {
		return decimal.Zero, err
	}
	price := base.Sub(amount)
	if price.IsNegative() {
		return decimal.Zero, nil
	}
	return price, nil
}
