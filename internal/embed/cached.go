package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the default number of query embeddings Cached keeps.
const DefaultCacheSize = 1000

// Cached wraps a Provider with LRU caching keyed on (text, model,
// dims), so repeated query embeddings during retrieval skip
// recomputation.
type Cached struct {
	inner Provider
	cache *lru.Cache[string, []float32]
}

// NewCached wraps inner with an LRU cache of the given size (falls
// back to DefaultCacheSize if size <= 0).
func NewCached(inner Provider, size int) *Cached {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, _ := lru.New[string, []float32](size)
	return &Cached{inner: inner, cache: cache}
}

func (c *Cached) cacheKey(text, model string, dims int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%s\x00%d", text, model, dims)))
	return hex.EncodeToString(h[:])
}

// Embed returns cached vectors where available and only calls the
// inner provider for the remaining, uncached inputs.
func (c *Cached) Embed(ctx context.Context, req EmbedRequest) (EmbedResponse, error) {
	if len(req.Inputs) == 0 {
		return EmbedResponse{Model: req.Model, Vectors: [][]float32{}, Dims: req.Dimensions}, nil
	}

	model := req.Model
	if model == "" {
		model = c.inner.ModelName()
	}

	results := make([][]float32, len(req.Inputs))
	var missIdx []int
	var missTexts []string

	for i, text := range req.Inputs {
		key := c.cacheKey(text, model, req.Dimensions)
		if v, ok := c.cache.Get(key); ok {
			results[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	dims := req.Dimensions
	if len(missTexts) > 0 {
		resp, err := c.inner.Embed(ctx, EmbedRequest{Inputs: missTexts, Model: req.Model, Dimensions: req.Dimensions})
		if err != nil {
			return EmbedResponse{}, err
		}
		dims = resp.Dims
		for j, idx := range missIdx {
			results[idx] = resp.Vectors[j]
			c.cache.Add(c.cacheKey(req.Inputs[idx], model, req.Dimensions), resp.Vectors[j])
		}
	} else if dims == 0 && len(results) > 0 {
		dims = len(results[0])
	}

	return EmbedResponse{Model: model, Vectors: results, Dims: dims}, nil
}

// ModelName passes through to the inner provider.
func (c *Cached) ModelName() string {
	return c.inner.ModelName()
}

// Available passes through to the inner provider.
func (c *Cached) Available(ctx context.Context) bool {
	return c.inner.Available(ctx)
}

// Close closes the inner provider.
func (c *Cached) Close() error {
	return c.inner.Close()
}

// Inner returns the wrapped provider.
func (c *Cached) Inner() Provider {
	return c.inner
}
