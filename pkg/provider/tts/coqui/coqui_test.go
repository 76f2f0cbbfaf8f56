package coqui_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/voiceturn/pkg/audio"
	"github.com/MrWong99/voiceturn/pkg/provider/tts"
	"github.com/MrWong99/voiceturn/pkg/provider/tts/coqui"
)

func wavOf(samples []int16, rate int) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return audio.EncodeWAV(pcm, rate, 1)
}

func TestNew_EmptyURL(t *testing.T) {
	if _, err := coqui.New(""); err == nil {
		t.Fatal("expected error for empty serverURL")
	}
}

func TestSynthesize_Standard(t *testing.T) {
	var gotText, gotSpeaker, gotLang string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/tts" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		gotText, gotSpeaker, gotLang = q.Get("text"), q.Get("speaker_id"), q.Get("language_id")
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(wavOf([]int16{1, 2, 3, 4}, 22050))
	}))
	defer srv.Close()

	p, _ := coqui.New(srv.URL, coqui.WithVoice("p225"))
	speech, err := p.Synthesize(context.Background(), tts.Request{Text: "Hello there."})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if gotText != "Hello there." || gotSpeaker != "p225" || gotLang != "en" {
		t.Errorf("query: text=%q speaker=%q lang=%q", gotText, gotSpeaker, gotLang)
	}
	if len(speech.Audio) != 8 || speech.Format != "pcm_22050" {
		t.Errorf("speech: %d bytes, format %q", len(speech.Audio), speech.Format)
	}
}

func TestSynthesize_XTTSResamples(t *testing.T) {
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/tts_to_audio/" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write(wavOf(make([]int16, 480), 24000))
	}))
	defer srv.Close()

	p, _ := coqui.New(srv.URL,
		coqui.WithAPIMode(coqui.APIModeXTTS),
		coqui.WithOutputSampleRate(16000),
		coqui.WithLanguage("de"),
	)
	speech, err := p.Synthesize(context.Background(), tts.Request{Text: "Guten Tag", VoiceID: "ref.wav"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if body["text"] != "Guten Tag" || body["speaker_wav"] != "ref.wav" || body["language"] != "de" {
		t.Errorf("body: %v", body)
	}
	if len(speech.Audio) != 320*2 || speech.Format != "pcm_16000" {
		t.Errorf("speech: %d bytes, format %q", len(speech.Audio), speech.Format)
	}
}

func TestSynthesize_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("text") == "bad wav" {
			_, _ = w.Write([]byte("not a wav"))
			return
		}
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, _ := coqui.New(srv.URL)
	for _, text := range []string{"", "hello", "bad wav"} {
		if _, err := p.Synthesize(context.Background(), tts.Request{Text: text}); err == nil {
			t.Errorf("text %q: expected error", text)
		}
	}
}
