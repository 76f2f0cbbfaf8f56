// Package stt defines the Provider interface for speech-to-text backends.
//
// A provider transcribes one complete utterance per call. The audio is raw
// mono PCM; each backend wraps it in whatever container its API expects.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"time"
)

// Request is one utterance to transcribe.
type Request struct {
	// Audio is signed 16-bit little-endian PCM.
	Audio []byte

	// SampleRate of Audio in Hz.
	SampleRate int

	// Channels in Audio. Zero means mono.
	Channels int

	// Language is a BCP-47 hint. Empty lets the backend decide.
	Language string
}

// ChannelCount returns Channels, defaulting to 1.
func (r Request) ChannelCount() int {
	if r.Channels <= 0 {
		return 1
	}
	return r.Channels
}

// Transcript is the result of a transcription.
type Transcript struct {
	// Text is the recognised speech. It may be empty when the audio held
	// no words.
	Text string

	// Confidence in [0, 1]. Zero if the backend does not report one.
	Confidence float64

	// Language detected or used by the backend, if reported.
	Language string

	// Duration of the audio as reported by the backend, if any.
	Duration time.Duration
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe converts one utterance into text. It returns an error when
	// the backend cannot be reached, rejects the request, or ctx ends.
	Transcribe(ctx context.Context, req Request) (Transcript, error)
}
