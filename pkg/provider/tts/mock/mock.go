// Package mock provides a test double for the tts.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voiceturn/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Ctx context.Context
	Req tts.Request
}

// Provider is a configurable tts.Provider. When Block is true, Synthesize
// waits for ctx to be cancelled and returns its error.
type Provider struct {
	mu sync.Mutex

	// Speech is returned by Synthesize when Err is nil.
	Speech tts.Speech

	// Err, when non-nil, is returned by Synthesize.
	Err error

	// Block makes Synthesize wait for context cancellation.
	Block bool

	calls []SynthesizeCall
}

var _ tts.Provider = (*Provider)(nil)

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (tts.Speech, error) {
	p.mu.Lock()
	p.calls = append(p.calls, SynthesizeCall{Ctx: ctx, Req: req})
	block, speech, err := p.Block, p.Speech, p.Err
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return tts.Speech{}, ctx.Err()
	}
	if err != nil {
		return tts.Speech{}, err
	}
	return speech, nil
}

// Calls returns a copy of all recorded Synthesize invocations.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeCall, len(p.calls))
	copy(out, p.calls)
	return out
}

// Reset clears the recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}
