// Package mock provides a test double for stt.Provider.
//
// Example:
//
//	p := &mock.Provider{Transcript: stt.Transcript{Text: "hello"}}
//	tr, _ := p.Transcribe(ctx, req)
//	calls := p.Calls()
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voiceturn/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Req is the request passed to Transcribe.
	Req stt.Request
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Transcript is returned by Transcribe when Err is nil.
	Transcript stt.Transcript

	// Err, if non-nil, is returned by Transcribe.
	Err error

	// Block makes Transcribe wait for ctx to end and return ctx.Err().
	Block bool

	// Started, if non-nil, receives a value when a call begins. Sends do
	// not block.
	Started chan struct{}

	calls []TranscribeCall
}

// Transcribe records the call and returns the configured result.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	p.mu.Lock()
	p.calls = append(p.calls, TranscribeCall{Ctx: ctx, Req: req})
	block, started := p.Block, p.Started
	tr, err := p.Transcript, p.Err
	p.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if block {
		<-ctx.Done()
		return stt.Transcript{}, ctx.Err()
	}
	if err != nil {
		return stt.Transcript{}, err
	}
	return tr, nil
}

// Calls returns a copy of the recorded calls. Thread-safe.
func (p *Provider) Calls() []TranscribeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]TranscribeCall, len(p.calls))
	copy(out, p.calls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}

var _ stt.Provider = (*Provider)(nil)
