// Package activity turns per-frame speech decisions into a debounced
// speaking / not-speaking state.
//
// A [Machine] counts consecutive speech and silence frames. Speaking is
// confirmed after MinSpeechFrames speech frames and released after more than
// MaxSilenceFrames silence frames. Every speech frame is reported as active
// even before confirmation, so callers can start buffering audio early.
//
// A Machine belongs to one audio stream and is not safe for concurrent use.
package activity

import (
	"log/slog"

	"github.com/MrWong99/voiceturn/pkg/provider/vad"
)

const (
	// DefaultMinSpeechFrames is the number of speech frames that confirm
	// the start of speech.
	DefaultMinSpeechFrames = 3

	// DefaultMaxSilenceFrames is the number of silence frames tolerated
	// inside speech. One more ends it.
	DefaultMaxSilenceFrames = 15
)

// Config holds the hysteresis thresholds.
type Config struct {
	MinSpeechFrames  int
	MaxSilenceFrames int
}

// DefaultConfig returns the 3 / 15 frame thresholds.
func DefaultConfig() Config {
	return Config{
		MinSpeechFrames:  DefaultMinSpeechFrames,
		MaxSilenceFrames: DefaultMaxSilenceFrames,
	}
}

// Transition reports a change of the speaking state caused by one frame.
type Transition int

const (
	// None means the speaking state did not change.
	None Transition = iota

	// Started means speech was just confirmed.
	Started

	// Stopped means confirmed speech just ended.
	Stopped
)

// String returns a lowercase name for the transition.
func (t Transition) String() string {
	switch t {
	case Started:
		return "started"
	case Stopped:
		return "stopped"
	default:
		return "none"
	}
}

// State is a snapshot of the machine's counters.
type State struct {
	Speaking      bool
	SpeechFrames  int
	SilenceFrames int
}

// Result is the outcome of one frame.
type Result struct {
	// Speech is the classifier decision for the frame. Classifier errors
	// yield false.
	Speech bool

	// Active is the per-frame activity report: true for every speech frame.
	Active bool

	// Transition is the change of the confirmed speaking state, if any.
	Transition Transition
}

// Machine is the voice activity state machine.
type Machine struct {
	cfg        Config
	classifier vad.Classifier
	logger     *slog.Logger
	state      State
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the logger used for classifier failures.
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// New returns a Machine fed by classifier. Non-positive thresholds in cfg
// are replaced by the defaults.
func New(classifier vad.Classifier, cfg Config, opts ...Option) *Machine {
	if cfg.MinSpeechFrames <= 0 {
		cfg.MinSpeechFrames = DefaultMinSpeechFrames
	}
	if cfg.MaxSilenceFrames <= 0 {
		cfg.MaxSilenceFrames = DefaultMaxSilenceFrames
	}
	m := &Machine{cfg: cfg, classifier: classifier, logger: slog.Default()}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Process classifies frame and advances the machine. A frame the
// classifier rejects is treated as silence.
func (m *Machine) Process(frame []byte) Result {
	speech, err := m.classifier.IsSpeech(frame)
	if err != nil {
		m.logger.Warn("activity: classifier failed, treating frame as silence",
			"bytes", len(frame), "err", err)
		speech = false
	}
	return m.Update(speech)
}

// Update advances the machine with an already classified frame.
func (m *Machine) Update(speech bool) Result {
	s := &m.state
	if speech {
		s.SpeechFrames++
		s.SilenceFrames = 0
		res := Result{Speech: true, Active: true}
		if !s.Speaking && s.SpeechFrames >= m.cfg.MinSpeechFrames {
			s.Speaking = true
			res.Transition = Started
		}
		return res
	}

	s.SilenceFrames++
	if s.SilenceFrames <= m.cfg.MaxSilenceFrames {
		return Result{}
	}
	if s.Speaking {
		s.Speaking = false
		s.SpeechFrames = 0
		return Result{Transition: Stopped}
	}
	// Unconfirmed speech separated by a long pause does not accumulate.
	s.SpeechFrames = 0
	return Result{}
}

// Speaking reports whether speech is currently confirmed.
func (m *Machine) Speaking() bool { return m.state.Speaking }

// State returns a snapshot of the counters.
func (m *Machine) State() State { return m.state }

// Reset returns the machine to its initial not-speaking state.
func (m *Machine) Reset() { m.state = State{} }
