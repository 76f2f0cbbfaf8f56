package energy_test

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/MrWong99/voiceturn/pkg/provider/vad"
	"github.com/MrWong99/voiceturn/pkg/provider/vad/energy"
)

func frame(samples int, amplitude int16) []byte {
	buf := make([]byte, samples*2)
	for i := range samples {
		v := amplitude
		if i%2 == 1 {
			v = -amplitude
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

func TestClassifier_IsSpeech(t *testing.T) {
	t.Parallel()

	c, err := energy.New().NewClassifier(vad.Config{SampleRate: 16000, FrameSizeMs: 30})
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	defer c.Close()

	tests := []struct {
		name      string
		amplitude int16
		want      bool
	}{
		{name: "silence", amplitude: 0, want: false},
		{name: "noise floor", amplitude: 100, want: false},
		{name: "speech", amplitude: 4000, want: true},
	}
	for _, tc := range tests {
		got, err := c.IsSpeech(frame(480, tc.amplitude))
		if err != nil {
			t.Fatalf("%s: IsSpeech: %v", tc.name, err)
		}
		if got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestClassifier_WrongFrameSize(t *testing.T) {
	t.Parallel()

	c, err := energy.New().NewClassifier(vad.Config{SampleRate: 16000, FrameSizeMs: 30})
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	_, err = c.IsSpeech(frame(100, 4000))
	if !errors.Is(err, vad.ErrFrameSize) {
		t.Fatalf("got %v, want ErrFrameSize", err)
	}
}

func TestEngine_Threshold(t *testing.T) {
	t.Parallel()

	// A high engine default suppresses the frame, a config override admits it.
	eng := energy.New(energy.WithThreshold(0.9))
	strict, err := eng.NewClassifier(vad.Config{SampleRate: 16000, FrameSizeMs: 30})
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	loose, err := eng.NewClassifier(vad.Config{SampleRate: 16000, FrameSizeMs: 30, Threshold: 0.01})
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	f := frame(480, 4000)
	if ok, _ := strict.IsSpeech(f); ok {
		t.Error("strict classifier reported speech")
	}
	if ok, _ := loose.IsSpeech(f); !ok {
		t.Error("loose classifier reported silence")
	}
}

func TestEngine_InvalidConfig(t *testing.T) {
	t.Parallel()

	eng := energy.New()
	for _, cfg := range []vad.Config{
		{SampleRate: 0, FrameSizeMs: 30},
		{SampleRate: 16000, FrameSizeMs: 0},
		{SampleRate: 16000, FrameSizeMs: 30, Threshold: 2},
	} {
		if _, err := eng.NewClassifier(cfg); err == nil {
			t.Errorf("config %+v: expected error", cfg)
		}
	}
}
