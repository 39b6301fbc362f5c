package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider_DefaultsToStaticWithoutCredentials(t *testing.T) {
	p := NewProvider(context.Background(), Config{})
	inner := p.(*Cached).Inner()
	_, ok := inner.(*StaticProvider)
	assert.True(t, ok)
}

func TestNewProvider_UsesHTTPWhenBaseURLAndKeyPresent(t *testing.T) {
	p := NewProvider(context.Background(), Config{BaseURL: "http://example.invalid", APIKey: "k"})
	inner := p.(*Cached).Inner()
	_, ok := inner.(*HTTPProvider)
	assert.True(t, ok)
}

func TestNewProvider_ExplicitStaticIgnoresCredentials(t *testing.T) {
	p := NewProvider(context.Background(), Config{Provider: "static", BaseURL: "http://example.invalid", APIKey: "k"})
	inner := p.(*Cached).Inner()
	_, ok := inner.(*StaticProvider)
	assert.True(t, ok)
}

func TestNewProvider_ExplicitHTTPFallsBackToStaticWithoutKey(t *testing.T) {
	p := NewProvider(context.Background(), Config{Provider: "http", BaseURL: "http://example.invalid"})
	inner := p.(*Cached).Inner()
	_, ok := inner.(*StaticProvider)
	assert.True(t, ok)
}

func TestNewProvider_ReturnsWorkingCachedProvider(t *testing.T) {
	p := NewProvider(context.Background(), Config{})
	resp, err := p.Embed(context.Background(), EmbedRequest{Inputs: []string{"x"}, Dimensions: 4})
	require.NoError(t, err)
	assert.Len(t, resp.Vectors, 1)
}
