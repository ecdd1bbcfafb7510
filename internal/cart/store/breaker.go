package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerSettings configures the circuit breaker placed in front of a Storage.
type BreakerSettings struct {
	Name                string
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

// breakerStore wraps a Storage in a circuit breaker so a dead backend fails fast
// instead of stalling every cart mutation.
type breakerStore struct {
	next Storage
	cb   *gobreaker.CircuitBreaker[any]
}

// NewBreakerStore decorates next with a circuit breaker. While the breaker is open,
// calls return ErrStorageUnavailable without reaching next.
func NewBreakerStore(next Storage, cfg BreakerSettings) Storage {
	st := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			// A caller giving up is not a backend failure.
			return err == nil || errors.Is(err, context.Canceled)
		},
	}
	return &breakerStore{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[any](st),
	}
}

// Get retrieves the value stored under key through the breaker.
func (b *breakerStore) Get(ctx context.Context, key string) (string, bool, error) {
	var (
		value string
		found bool
	)
	_, err := b.cb.Execute(func() (any, error) {
		var err error
		value, found, err = b.next.Get(ctx, key)
		return nil, err
	})
	if err != nil {
		return "", false, mapBreakerErr(err)
	}
	return value, found, nil
}

// Set stores value under key through the breaker.
func (b *breakerStore) Set(ctx context.Context, key, value string) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.next.Set(ctx, key, value)
	})
	return mapBreakerErr(err)
}

func mapBreakerErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return err
}
