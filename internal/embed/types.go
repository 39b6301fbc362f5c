// Package embed implements the embedding provider contract: a uniform
// request/response shape two implementations satisfy
// (embed.StaticProvider, embed.HTTPProvider), plus an LRU caching
// decorator (embed.Cached) used during retrieval.
package embed

import (
	"context"
	"math"
)

const (
	// MinBatchSize is the smallest batch size build_embeddings accepts.
	MinBatchSize = 1

	// MaxBatchSize caps a single embedding request, preventing memory
	// exhaustion on pathologically large batch inputs.
	MaxBatchSize = 2048

	// DefaultBatchSize is used when build_embeddings does not specify one.
	DefaultBatchSize = 128

	// DefaultDimensions is the vector width StaticProvider generates
	// when the caller does not request a specific dimensionality.
	DefaultDimensions = 768

	// DefaultMaxRetries is the default number of HTTPProvider retry attempts.
	DefaultMaxRetries = 3
)

// EmbedRequest is the provider contract's input: a batch of texts to
// embed against a named model, with an optional dimensionality hint.
type EmbedRequest struct {
	Inputs     []string
	Model      string
	Dimensions int
}

// EmbedResponse is the provider contract's output. len(Vectors) ==
// len(request.Inputs); every vector has length Dims.
type EmbedResponse struct {
	Model   string
	Vectors [][]float32
	Dims    int
}

// Provider embeds batches of text into fixed-width vectors.
type Provider interface {
	Embed(ctx context.Context, req EmbedRequest) (EmbedResponse, error)

	// ModelName returns the default model identifier this provider embeds with.
	ModelName() string

	// Available reports whether the provider is currently reachable/usable.
	Available(ctx context.Context) bool

	// Close releases any held resources (connections, caches).
	Close() error
}

// normalizeVector rescales v to unit length, or returns it unchanged
// if it is the zero vector.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
