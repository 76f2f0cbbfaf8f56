// Package coqui provides a TTS provider for a locally running Coqui TTS
// server. It implements the tts.Provider interface.
//
// Two API modes are supported:
//
//   - APIModeStandard (default): the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu), GET /api/tts with query parameters.
//
//   - APIModeXTTS: the Coqui XTTS v2 API server, POST /tts_to_audio/ with a
//     JSON body.
//
// Both return WAV. The provider strips the container and, when an output
// sample rate is configured, resamples mono audio so that replies match the
// client's PCM format.
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/voiceturn/pkg/audio"
	"github.com/MrWong99/voiceturn/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second
	ttsEndpoint     = "/tts_to_audio/"
	apiTTSEndpoint  = "/api/tts"
)

// APIMode selects which Coqui server API the provider will target.
type APIMode string

const (
	// APIModeXTTS targets the Coqui XTTS v2 API server (/tts_to_audio/).
	APIModeXTTS APIMode = "xtts"

	// APIModeStandard targets the standard Coqui TTS server (/api/tts).
	APIModeStandard APIMode = "standard"
)

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithLanguage sets the language code sent to the TTS server. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithAPIMode sets the server API mode.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) {
		p.apiMode = mode
	}
}

// WithOutputSampleRate resamples mono output to rate. Zero keeps the
// model's native rate.
func WithOutputSampleRate(rate int) Option {
	return func(p *Provider) {
		p.outputRate = rate
	}
}

// WithVoice sets the default speaker (speaker_id in standard mode, the
// speaker_wav reference in XTTS mode).
func WithVoice(voice string) Option {
	return func(p *Provider) {
		p.voice = voice
	}
}

// Provider implements tts.Provider backed by a Coqui server.
type Provider struct {
	serverURL  string
	language   string
	voice      string
	httpClient *http.Client
	apiMode    APIMode
	outputRate int
}

// New creates a Provider for the server at serverURL
// (e.g. "http://localhost:5002").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		apiMode:    APIModeStandard,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ttsRequest is the JSON body sent to POST /tts_to_audio/ (XTTS mode).
type ttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (tts.Speech, error) {
	if strings.TrimSpace(req.Text) == "" {
		return tts.Speech{}, errors.New("coqui: text must not be empty")
	}
	voice := req.VoiceID
	if voice == "" {
		voice = p.voice
	}

	var (
		httpReq *http.Request
		err     error
	)
	if p.apiMode == APIModeXTTS {
		httpReq, err = p.xttsRequest(ctx, req.Text, voice)
	} else {
		httpReq, err = p.standardRequest(ctx, req.Text, voice)
	}
	if err != nil {
		return tts.Speech{}, err
	}
	httpReq.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return tts.Speech{}, fmt.Errorf("coqui: %s %s: %w", httpReq.Method, httpReq.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return tts.Speech{}, fmt.Errorf("coqui: %s %s returned status %d", httpReq.Method, httpReq.URL.Path, resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.Speech{}, fmt.Errorf("coqui: read WAV response: %w", err)
	}
	info, err := audio.ParseWAV(wav)
	if err != nil {
		return tts.Speech{}, fmt.Errorf("coqui: %w", err)
	}

	pcm := wav[info.DataOffset:]
	rate := info.SampleRate
	if p.outputRate > 0 && rate != p.outputRate && info.Channels == 1 {
		pcm = audio.ResampleMono16(pcm, rate, p.outputRate)
		rate = p.outputRate
	}
	return tts.Speech{Audio: pcm, Format: "pcm_" + strconv.Itoa(rate)}, nil
}

func (p *Provider) xttsRequest(ctx context.Context, text, voice string) (*http.Request, error) {
	data, err := json.Marshal(ttsRequest{Text: text, SpeakerWav: voice, Language: p.language})
	if err != nil {
		return nil, fmt.Errorf("coqui: marshal tts request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+ttsEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (p *Provider) standardRequest(ctx context.Context, text, voice string) (*http.Request, error) {
	params := url.Values{}
	params.Set("text", text)
	if voice != "" {
		params.Set("speaker_id", voice)
	}
	if p.language != "" {
		params.Set("language_id", p.language)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+apiTTSEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	return req, nil
}
