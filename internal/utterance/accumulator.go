// Package utterance buffers the audio of one spoken turn and decides when
// the turn is complete.
package utterance

import (
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voiceturn/pkg/audio"
)

// DefaultSilenceDuration is the trailing silence that completes a turn.
const DefaultSilenceDuration = 1500 * time.Millisecond

// Turn is a completed utterance. It is never modified after the
// accumulator emits it.
type Turn struct {
	// ID uniquely identifies the turn.
	ID string

	// Audio is mono int16 little-endian PCM, including the trailing
	// silence that completed the turn.
	Audio []byte

	// SampleRate of Audio in Hz.
	SampleRate int

	// Frames is the number of frames in Audio.
	Frames int

	// CapturedAt is when the turn was flushed.
	CapturedAt time.Time
}

// Duration returns the playback length of the turn's audio.
func (t Turn) Duration() time.Duration {
	return audio.Duration(t.Audio, t.SampleRate)
}

// FlushFrames returns the number of consecutive silence frames that make up
// silence, rounding up. It returns at least 1.
func FlushFrames(silence, frame time.Duration) int {
	if frame <= 0 {
		return 1
	}
	n := int((silence + frame - 1) / frame)
	return max(n, 1)
}

// Accumulator collects frames between the first speech frame and the end of
// the turn. It belongs to one stream and is not safe for concurrent use.
type Accumulator struct {
	format     audio.Format
	flushAfter int
	now        func() time.Time

	buf     []byte
	frames  int
	silence int
}

// Option configures an Accumulator.
type Option func(*Accumulator)

// WithClock overrides the time source used for Turn.CapturedAt.
func WithClock(now func() time.Time) Option {
	return func(a *Accumulator) { a.now = now }
}

// New returns an Accumulator for frames of format that flushes after
// silence of trailing non-speech.
func New(format audio.Format, silence time.Duration, opts ...Option) *Accumulator {
	frame := time.Duration(format.FrameMs) * time.Millisecond
	a := &Accumulator{
		format:     format,
		flushAfter: FlushFrames(silence, frame),
		now:        time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// OnVoiceActive appends a speech frame and restarts the silence count.
func (a *Accumulator) OnVoiceActive(frame []byte) {
	a.buf = append(a.buf, frame...)
	a.frames++
	a.silence = 0
}

// OnSilence records a non-speech frame. Frames are only buffered and
// counted once the turn has started. When the silence count reaches the
// flush threshold the buffered turn is returned with ok set, and the
// accumulator is emptied.
func (a *Accumulator) OnSilence(frame []byte) (turn Turn, ok bool) {
	if len(a.buf) == 0 {
		return Turn{}, false
	}
	a.buf = append(a.buf, frame...)
	a.frames++
	a.silence++
	if a.silence < a.flushAfter {
		return Turn{}, false
	}

	turn = Turn{
		ID:         uuid.NewString(),
		Audio:      a.buf,
		SampleRate: a.format.SampleRate,
		Frames:     a.frames,
		CapturedAt: a.now(),
	}
	a.buf = nil
	a.frames = 0
	a.silence = 0
	return turn, true
}

// Reset discards any buffered audio without emitting a turn.
func (a *Accumulator) Reset() {
	a.buf = nil
	a.frames = 0
	a.silence = 0
}

// Len returns the number of buffered bytes.
func (a *Accumulator) Len() int { return len(a.buf) }

// SilenceFrames returns the current count of consecutive silence frames.
func (a *Accumulator) SilenceFrames() int { return a.silence }

// FlushAfter returns the flush threshold in frames.
func (a *Accumulator) FlushAfter() int { return a.flushAfter }
