// Package mock provides test doubles for the vad package interfaces.
//
// Classifier replays a script of decisions, which makes frame-exact state
// machine tests possible without crafting audio:
//
//	c := &mock.Classifier{Script: []bool{false, true, true}}
//	eng := &mock.Engine{Classifier: c}
package mock

import (
	"sync"

	"github.com/MrWong99/voiceturn/pkg/provider/vad"
)

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Classifier is returned by NewClassifier. If nil, a new default
	// Classifier is returned.
	Classifier vad.Classifier

	// NewClassifierErr, if non-nil, is returned from NewClassifier.
	NewClassifierErr error

	// NewClassifierCalls records the Config of every call in order.
	NewClassifierCalls []vad.Config
}

// NewClassifier records the call and returns Classifier, NewClassifierErr.
func (e *Engine) NewClassifier(cfg vad.Config) (vad.Classifier, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewClassifierCalls = append(e.NewClassifierCalls, cfg)
	if e.NewClassifierErr != nil {
		return nil, e.NewClassifierErr
	}
	if e.Classifier != nil {
		return e.Classifier, nil
	}
	return &Classifier{}, nil
}

var _ vad.Engine = (*Engine)(nil)

// Classifier is a mock implementation of vad.Classifier.
type Classifier struct {
	mu sync.Mutex

	// Script holds the decisions returned by successive IsSpeech calls.
	// Once exhausted, Default is returned.
	Script []bool

	// Default is returned after Script is exhausted.
	Default bool

	// Errs maps a zero-based call index to an error returned for that call.
	Errs map[int]error

	// Frames counts IsSpeech calls.
	Frames int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// IsSpeech returns the next scripted decision.
func (c *Classifier) IsSpeech(_ []byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.Frames
	c.Frames++
	if err, ok := c.Errs[i]; ok {
		return false, err
	}
	if i < len(c.Script) {
		return c.Script[i], nil
	}
	return c.Default, nil
}

// Close records the call.
func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCallCount++
	return nil
}

// Calls returns the number of IsSpeech calls so far.
func (c *Classifier) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Frames
}

var _ vad.Classifier = (*Classifier)(nil)
