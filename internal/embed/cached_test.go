package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProvider struct {
	calls int
	inner Provider
}

func (c *countingProvider) Embed(ctx context.Context, req EmbedRequest) (EmbedResponse, error) {
	c.calls++
	return c.inner.Embed(ctx, req)
}
func (c *countingProvider) ModelName() string                 { return c.inner.ModelName() }
func (c *countingProvider) Available(ctx context.Context) bool { return c.inner.Available(ctx) }
func (c *countingProvider) Close() error                       { return c.inner.Close() }

func TestCached_AvoidsRecomputingSameText(t *testing.T) {
	inner := &countingProvider{inner: NewStaticProvider()}
	c := NewCached(inner, 10)
	ctx := context.Background()

	_, err := c.Embed(ctx, EmbedRequest{Inputs: []string{"repeat me"}, Dimensions: 8})
	require.NoError(t, err)
	_, err = c.Embed(ctx, EmbedRequest{Inputs: []string{"repeat me"}, Dimensions: 8})
	require.NoError(t, err)

	assert.Equal(t, 1, inner.calls)
}

func TestCached_MixedHitAndMissBatchCallsInnerOnlyForMisses(t *testing.T) {
	inner := &countingProvider{inner: NewStaticProvider()}
	c := NewCached(inner, 10)
	ctx := context.Background()

	_, err := c.Embed(ctx, EmbedRequest{Inputs: []string{"cached"}, Dimensions: 8})
	require.NoError(t, err)

	resp, err := c.Embed(ctx, EmbedRequest{Inputs: []string{"cached", "fresh"}, Dimensions: 8})
	require.NoError(t, err)

	assert.Equal(t, 2, inner.calls) // one for priming, one for the "fresh" miss
	assert.Len(t, resp.Vectors, 2)
}

func TestCached_DifferentDimsAreDistinctCacheEntries(t *testing.T) {
	inner := &countingProvider{inner: NewStaticProvider()}
	c := NewCached(inner, 10)
	ctx := context.Background()

	_, err := c.Embed(ctx, EmbedRequest{Inputs: []string{"x"}, Dimensions: 8})
	require.NoError(t, err)
	_, err = c.Embed(ctx, EmbedRequest{Inputs: []string{"x"}, Dimensions: 16})
	require.NoError(t, err)

	assert.Equal(t, 2, inner.calls)
}

func TestCached_EmptyInputsShortCircuits(t *testing.T) {
	inner := &countingProvider{inner: NewStaticProvider()}
	c := NewCached(inner, 10)

	resp, err := c.Embed(context.Background(), EmbedRequest{Inputs: []string{}})
	require.NoError(t, err)
	assert.Empty(t, resp.Vectors)
	assert.Equal(t, 0, inner.calls)
}
