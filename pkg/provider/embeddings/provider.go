// Package embeddings defines the Provider interface for text embedding
// backends. Embeddings index turn transcripts for similarity search over
// conversation history.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider maps text to dense float32 vectors.
//
// Every vector returned by one Provider has length Dimensions(). Vectors from
// providers with different ModelID values must not be compared.
type Provider interface {
	// Embed computes the vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes one vector per text in a single call. result[i]
	// corresponds to texts[i]. On error no partial result is returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed vector length.
	Dimensions() int

	// ModelID returns the backend model identifier.
	ModelID() string
}
