// Package openai provides a TTS provider backed by the OpenAI speech API.
//
// Speech is requested in the raw "pcm" response format (24 kHz, mono,
// signed 16-bit little-endian) and optionally resampled.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/voiceturn/pkg/audio"
	"github.com/MrWong99/voiceturn/pkg/provider/tts"
)

const (
	// DefaultModel is the speech model used when none is configured.
	DefaultModel = string(oai.SpeechModelTTS1)

	// DefaultVoice is the voice used when neither the provider nor the
	// request names one.
	DefaultVoice = string(oai.AudioSpeechNewParamsVoiceAlloy)

	// nativeSampleRate is the rate of the API's "pcm" response format.
	nativeSampleRate = 24000
)

var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider using the OpenAI API.
type Provider struct {
	client     oai.Client
	model      string
	voice      string
	outputRate int
}

type config struct {
	baseURL    string
	voice      string
	outputRate int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithVoice sets the default voice.
func WithVoice(voice string) Option {
	return func(c *config) { c.voice = voice }
}

// WithOutputSampleRate resamples the 24 kHz output to rate.
func WithOutputSampleRate(rate int) Option {
	return func(c *config) { c.outputRate = rate }
}

// New constructs an OpenAI TTS Provider. An empty model selects
// [DefaultModel].
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai tts: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	cfg := &config{voice: DefaultVoice}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.outputRate < 0 {
		return nil, fmt.Errorf("openai tts: output sample rate must not be negative, got %d", cfg.outputRate)
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	return &Provider{
		client:     oai.NewClient(reqOpts...),
		model:      model,
		voice:      cfg.voice,
		outputRate: cfg.outputRate,
	}, nil
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (tts.Speech, error) {
	if strings.TrimSpace(req.Text) == "" {
		return tts.Speech{}, errors.New("openai tts: text must not be empty")
	}
	voice := req.VoiceID
	if voice == "" {
		voice = p.voice
	}

	resp, err := p.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Input:          req.Text,
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		return tts.Speech{}, fmt.Errorf("openai tts: %w", err)
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.Speech{}, fmt.Errorf("openai tts: read audio: %w", err)
	}
	if len(pcm) == 0 {
		return tts.Speech{}, errors.New("openai tts: empty audio response")
	}

	rate := nativeSampleRate
	if p.outputRate > 0 && p.outputRate != rate {
		pcm = audio.ResampleMono16(pcm, rate, p.outputRate)
		rate = p.outputRate
	}
	return tts.Speech{Audio: pcm, Format: "pcm_" + strconv.Itoa(rate)}, nil
}
