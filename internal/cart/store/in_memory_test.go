package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStore(t *testing.T) {
	// given
	ctx := context.Background()
	s := NewInMemoryStore()

	// when
	_, found, err := s.Get(ctx, "bakeryCart")

	// then
	require.NoError(t, err)
	assert.False(t, found, "empty store must report absent keys")

	// when
	require.NoError(t, s.Set(ctx, "bakeryCart", `[{"id":"a"}]`))
	require.NoError(t, s.Set(ctx, "bakeryCart", `[]`))
	value, found, err := s.Get(ctx, "bakeryCart")

	// then
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `[]`, value, "last write wins")
}
