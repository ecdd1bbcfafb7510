// Package errors provides the error kinds returned by cart operations.
package errors

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument is returned when a command carries a bad quantity, price or id.
var ErrInvalidArgument = errors.New("invalid argument")

// ErrNotFound is returned when a command references an item that is not in the cart.
var ErrNotFound = errors.New("item not found")

// ErrPersistence is returned when the cart could not be read from or written to storage.
// The in-memory cart is still updated when this error is returned from a mutation.
var ErrPersistence = errors.New("cart persistence failed")

// ErrMalformedData marks a persisted payload that could not be decoded.
var ErrMalformedData = errors.New("malformed cart data")

// ErrUnpricedDiscount is returned when a discount promotion has no base price to apply to.
// It is an ErrInvalidArgument.
var ErrUnpricedDiscount = fmt.Errorf("%w: discount without original price", ErrInvalidArgument)
