// Package energy provides an RMS energy speech classifier.
//
// It needs no model files and no cgo, and is the default classifier. It is a
// level gate, not an acoustic model: any sufficiently loud frame counts as
// speech.
package energy

import (
	"fmt"

	"github.com/MrWong99/voiceturn/pkg/audio"
	"github.com/MrWong99/voiceturn/pkg/provider/vad"
)

// DefaultThreshold is the normalised RMS level above which a frame is
// speech.
const DefaultThreshold = 0.015

// Engine creates energy classifiers.
type Engine struct {
	threshold float64
}

var _ vad.Engine = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

// WithThreshold sets the default threshold for classifiers whose Config
// leaves Threshold at zero.
func WithThreshold(t float64) Option {
	return func(e *Engine) { e.threshold = t }
}

// New returns an energy Engine.
func New(opts ...Option) *Engine {
	e := &Engine{threshold: DefaultThreshold}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewClassifier implements vad.Engine.
func (e *Engine) NewClassifier(cfg vad.Config) (vad.Classifier, error) {
	if cfg.SampleRate <= 0 || cfg.FrameSizeMs <= 0 {
		return nil, fmt.Errorf("energy: invalid frame layout %d Hz / %d ms", cfg.SampleRate, cfg.FrameSizeMs)
	}
	threshold := cfg.Threshold
	if threshold == 0 {
		threshold = e.threshold
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("energy: threshold %.3f out of range [0, 1]", threshold)
	}
	return &Classifier{frameBytes: cfg.FrameBytes(), threshold: threshold}, nil
}

// Classifier is a stateless RMS gate.
type Classifier struct {
	frameBytes int
	threshold  float64
}

var _ vad.Classifier = (*Classifier)(nil)

// IsSpeech implements vad.Classifier.
func (c *Classifier) IsSpeech(frame []byte) (bool, error) {
	if len(frame) != c.frameBytes {
		return false, fmt.Errorf("%w: got %d bytes, want %d", vad.ErrFrameSize, len(frame), c.frameBytes)
	}
	return audio.RMS(frame) >= c.threshold, nil
}

// Close implements vad.Classifier.
func (c *Classifier) Close() error { return nil }
