// Package vad defines the per-frame speech classifier used by the voice
// activity state machine.
//
// A classifier answers one question per frame: does this frame contain
// speech? Smoothing and hysteresis are not its concern; they live in the
// state machine that consumes the answers. Engines hand out one classifier
// per audio stream so that stateful backends can keep per-stream history.
//
// Engines must be safe for concurrent use. A Classifier is owned by a single
// stream and need not be.
package vad

import "errors"

// ErrFrameSize is returned by classifiers for frames whose length does not
// match the configured frame duration.
var ErrFrameSize = errors.New("vad: frame size mismatch")

// Config holds the parameters for one classifier.
type Config struct {
	// SampleRate is the rate of the PCM frames passed to IsSpeech, in Hz.
	SampleRate int

	// FrameSizeMs is the duration of each frame in milliseconds.
	FrameSizeMs int

	// Threshold is the engine-specific decision threshold. Zero selects the
	// engine default.
	Threshold float64
}

// FrameBytes returns the expected length of one int16 frame.
func (c Config) FrameBytes() int {
	return c.SampleRate * c.FrameSizeMs / 1000 * 2
}

// Classifier decides whether single frames of mono int16 PCM contain speech.
type Classifier interface {
	// IsSpeech classifies one frame. It returns an error for frames it cannot
	// classify, such as frames of the wrong size.
	IsSpeech(frame []byte) (bool, error)

	// Close releases resources held by the classifier. Calling Close more
	// than once is safe.
	Close() error
}

// Engine creates classifiers.
type Engine interface {
	// NewClassifier returns a classifier ready to accept frames described by
	// cfg, or an error if the configuration is unsupported.
	NewClassifier(cfg Config) (Classifier, error)
}
