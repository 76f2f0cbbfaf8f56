// Package tts defines the Provider interface for text-to-speech backends.
//
// A provider renders one reply into a single audio payload. The payload is
// forwarded to the client unchanged, so its encoding is whatever the backend
// was configured to produce; Speech.Format names it.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Request is one text to synthesise.
type Request struct {
	// Text to speak. Providers reject empty text.
	Text string

	// VoiceID selects a backend voice. Empty uses the provider default.
	VoiceID string
}

// Speech is synthesised audio.
type Speech struct {
	// Audio holds the encoded audio bytes.
	Audio []byte

	// Format names the encoding, e.g. "pcm_16000", "mp3" or "wav".
	Format string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders req.Text to audio.
	Synthesize(ctx context.Context, req Request) (Speech, error)
}
