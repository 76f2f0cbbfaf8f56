// Package mock provides a test double for the embeddings.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voiceturn/pkg/provider/embeddings"
)

var _ embeddings.Provider = (*Provider)(nil)

// Provider is a deterministic embeddings.Provider. Without a configured
// Vector every text maps to a vector derived from its bytes, so equal texts
// embed equally.
type Provider struct {
	mu sync.Mutex

	// Vector, when non-nil, is returned for every text.
	Vector []float32

	// Err, when non-nil, is returned by Embed and EmbedBatch.
	Err error

	// Dims is returned by Dimensions. Defaults to 4.
	Dims int

	// Model is returned by ModelID.
	Model string

	// Texts records every text submitted, in order.
	Texts []string
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Texts = append(p.Texts, text)
	if p.Err != nil {
		return nil, p.Err
	}
	return p.vectorFor(text), nil
}

// EmbedBatch implements embeddings.Provider.
func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Texts = append(p.Texts, texts...)
	if p.Err != nil {
		return nil, p.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.vectorFor(t)
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dims()
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string {
	return p.Model
}

// Calls returns a copy of the recorded texts.
func (p *Provider) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Texts))
	copy(out, p.Texts)
	return out
}

func (p *Provider) dims() int {
	if p.Dims > 0 {
		return p.Dims
	}
	return 4
}

// vectorFor must be called with p.mu held.
func (p *Provider) vectorFor(text string) []float32 {
	if p.Vector != nil {
		out := make([]float32, len(p.Vector))
		copy(out, p.Vector)
		return out
	}
	vec := make([]float32, p.dims())
	for i := range len(text) {
		vec[i%len(vec)] += float32(text[i]) / 255
	}
	return vec
}
