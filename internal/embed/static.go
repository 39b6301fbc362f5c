package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"
)

// StaticProvider generates embeddings with no network calls and no
// corpus state: every component is derived from sha256(text,
// component index) alone, so the same (text, dims) pair always
// produces the same vector, on any machine, forever.
type StaticProvider struct {
	mu     sync.RWMutex
	closed bool
}

// NewStaticProvider creates a static embedding provider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{}
}

// Embed generates deterministic vectors for each input text.
func (p *StaticProvider) Embed(ctx context.Context, req EmbedRequest) (EmbedResponse, error) {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return EmbedResponse{}, fmt.Errorf("embed: static provider is closed")
	}

	dims := req.Dimensions
	if dims <= 0 {
		dims = DefaultDimensions
	}

	vectors := make([][]float32, len(req.Inputs))
	for i, text := range req.Inputs {
		vectors[i] = normalizeVector(staticVector(text, dims))
	}

	return EmbedResponse{Model: p.ModelName(), Vectors: vectors, Dims: dims}, nil
}

// staticVector derives dims pseudo-random unit-range components from
// text by hashing (text, componentIndex) and mapping the digest's
// leading bytes onto [-1, 1].
func staticVector(text string, dims int) []float32 {
	vec := make([]float32, dims)
	for i := 0; i < dims; i++ {
		h := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%d", text, i)))
		u := binary.BigEndian.Uint32(h[:4])
		vec[i] = float32(u)/float32(^uint32(0))*2 - 1
	}
	return vec
}

// ModelName returns the provider identifier embeddings are recorded under.
func (p *StaticProvider) ModelName() string {
	return "static-sha256"
}

// Available is true until Close is called: the provider has no
// external dependency.
func (p *StaticProvider) Available(_ context.Context) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.closed
}

// Close marks the provider closed; subsequent Embed calls fail.
func (p *StaticProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
