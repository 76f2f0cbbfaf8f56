package resilience

import (
	"context"

	"github.com/MrWong99/voiceturn/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with failover across synthesis
// backends.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional TTS provider.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Synthesize renders text with the first healthy provider.
func (f *TTSFallback) Synthesize(ctx context.Context, req tts.Request) (tts.Speech, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (tts.Speech, error) {
		return p.Synthesize(ctx, req)
	})
}
