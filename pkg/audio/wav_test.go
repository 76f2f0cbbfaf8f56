package audio_test

import (
	"bytes"
	"testing"

	"github.com/MrWong99/voiceturn/pkg/audio"
)

func TestParseWAV_RoundTrip(t *testing.T) {
	t.Parallel()

	pcm := samplesToBytes([]int16{5, -5, 10})
	wav := audio.EncodeWAV(pcm, 22050, 1)

	info, err := audio.ParseWAV(wav)
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}
	if info.DataOffset != 44 || info.SampleRate != 22050 || info.Channels != 1 {
		t.Fatalf("info: %+v", info)
	}
	if !bytes.Equal(wav[info.DataOffset:], pcm) {
		t.Error("data does not match")
	}
}

func TestParseWAV_SkipsExtraChunks(t *testing.T) {
	t.Parallel()

	wav := audio.EncodeWAV(samplesToBytes([]int16{1}), 16000, 1)
	// Insert an odd-sized LIST chunk (padded to 4 bytes) between fmt and data.
	list := []byte{'L', 'I', 'S', 'T', 3, 0, 0, 0, 'a', 'b', 'c', 0}
	withList := append(append(append([]byte{}, wav[:36]...), list...), wav[36:]...)

	info, err := audio.ParseWAV(withList)
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}
	if info.DataOffset != 44+len(list) {
		t.Errorf("data offset: got %d, want %d", info.DataOffset, 44+len(list))
	}
}

func TestParseWAV_Invalid(t *testing.T) {
	t.Parallel()

	for name, b := range map[string][]byte{
		"short":   []byte("RIFF"),
		"not wav": []byte("RIFF\x00\x00\x00\x00AVI LIST"),
		"no data": audio.EncodeWAV(nil, 16000, 1)[:36],
	} {
		if _, err := audio.ParseWAV(b); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestResampleMono16(t *testing.T) {
	t.Parallel()

	in := samplesToBytes([]int16{0, 100, 200, 300})
	if got := audio.ResampleMono16(in, 16000, 16000); !bytes.Equal(got, in) {
		t.Error("same rate should return input")
	}

	up := bytesToSamples(audio.ResampleMono16(in, 8000, 16000))
	if len(up) != 8 {
		t.Fatalf("upsample length: got %d, want 8", len(up))
	}
	if up[0] != 0 || up[1] != 50 || up[2] != 100 {
		t.Errorf("upsample interpolation: got %v", up[:3])
	}

	down := bytesToSamples(audio.ResampleMono16(in, 16000, 8000))
	if len(down) != 2 || down[0] != 0 || down[1] != 200 {
		t.Errorf("downsample: got %v", down)
	}
}
