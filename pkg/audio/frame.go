// Package audio slices raw client audio into fixed-duration PCM frames and
// wraps PCM in WAV containers.
//
// All PCM produced by this package is mono, signed 16-bit, little-endian.
package audio

import (
	"encoding/binary"
	"iter"
	"math"
)

const (
	// DefaultSampleRate is the sample rate assumed for client audio.
	DefaultSampleRate = 16000

	// DefaultFrameMs is the duration of one classification frame.
	DefaultFrameMs = 30

	// BytesPerSample is the width of one int16 PCM sample.
	BytesPerSample = 2

	float32Width = 4

	// minPlausibleFloat is the smallest non-zero magnitude accepted in a
	// float32 interpretation. int16 PCM reinterpreted as float32 produces
	// denormal or near-denormal values, real float audio does not.
	minPlausibleFloat = 1e-10
)

// Encoding is the sample encoding detected in a raw client buffer.
type Encoding int

const (
	// EncodingInt16 is signed 16-bit little-endian PCM.
	EncodingInt16 Encoding = iota

	// EncodingFloat32 is IEEE-754 32-bit little-endian float PCM in [-1, 1].
	EncodingFloat32
)

// String returns "int16" or "float32".
func (e Encoding) String() string {
	if e == EncodingFloat32 {
		return "float32"
	}
	return "int16"
}

// Format describes the frame layout of a stream.
type Format struct {
	SampleRate int
	FrameMs    int
}

// DefaultFormat returns the 16 kHz / 30 ms frame layout.
func DefaultFormat() Format {
	return Format{SampleRate: DefaultSampleRate, FrameMs: DefaultFrameMs}
}

// FrameSamples returns the number of samples in one frame.
func (f Format) FrameSamples() int {
	return f.SampleRate * f.FrameMs / 1000
}

// FrameBytes returns the size of one int16 frame in bytes.
func (f Format) FrameBytes() int {
	return f.FrameSamples() * BytesPerSample
}

// Split cuts int16 PCM into whole frames. The sequence yields sub-slices of
// pcm; rest holds the trailing bytes that did not fill a frame. Ranging over
// the sequence more than once yields the same frames.
func (f Format) Split(pcm []byte) (frames iter.Seq[[]byte], rest []byte) {
	size := f.FrameBytes()
	if size <= 0 {
		return func(func([]byte) bool) {}, pcm
	}
	n := len(pcm) / size
	whole := pcm[:n*size]
	frames = func(yield func([]byte) bool) {
		for off := 0; off < len(whole); off += size {
			if !yield(whole[off : off+size : off+size]) {
				return
			}
		}
	}
	return frames, pcm[n*size:]
}

// Frames normalises raw and returns its whole frames. Bytes that do not fill
// a frame are dropped; callers streaming audio should use [Normalize] and
// [Format.Split] and carry the remainder themselves.
func (f Format) Frames(raw []byte) iter.Seq[[]byte] {
	pcm, _ := Normalize(raw)
	frames, _ := f.Split(pcm)
	return frames
}

// Normalize converts a raw client buffer into int16 PCM. The buffer is
// first read as float32 and, if that interpretation is implausible, as
// int16. Misaligned input is zero-padded to the sample width before
// decoding, so no input sample is lost.
//
// An all-zero buffer decodes to silence either way and is read as int16,
// so a muted int16 stream keeps its real duration.
func Normalize(raw []byte) ([]byte, Encoding) {
	if len(raw) == 0 {
		return nil, EncodingInt16
	}
	if allZero(raw) {
		return pad(raw, BytesPerSample), EncodingInt16
	}
	if samples, ok := decodeFloat32(pad(raw, float32Width)); ok {
		return floatToInt16(samples), EncodingFloat32
	}
	return pad(raw, BytesPerSample), EncodingInt16
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// pad returns b extended with zero bytes to a multiple of width. b is
// returned unchanged when already aligned.
func pad(b []byte, width int) []byte {
	n := (width - len(b)%width) % width
	if n == 0 {
		return b
	}
	out := make([]byte, len(b)+n)
	copy(out, b)
	return out
}

func decodeFloat32(b []byte) ([]float32, bool) {
	samples := make([]float32, len(b)/float32Width)
	for i := range samples {
		v := math.Float32frombits(binary.LittleEndian.Uint32(b[i*float32Width:]))
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, false
		}
		abs := math.Abs(float64(v))
		if abs > 1 || (abs != 0 && abs < minPlausibleFloat) {
			return nil, false
		}
		samples[i] = v
	}
	return samples, true
}

func floatToInt16(samples []float32) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		v := math.Round(float64(s) * math.MaxInt16)
		v = max(math.MinInt16, min(math.MaxInt16, v))
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(int16(v)))
	}
	return out
}

// RMS returns the root-mean-square amplitude of int16 PCM, normalised to
// [0, 1]. It returns 0 for buffers shorter than one sample.
func RMS(pcm []byte) float64 {
	n := len(pcm) / BytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*BytesPerSample:])))
		sum += v * v
	}
	return math.Sqrt(sum/float64(n)) / math.MaxInt16
}
