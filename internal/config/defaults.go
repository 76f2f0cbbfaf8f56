package config

import "time"

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr          = ":8080"
	DefaultReadLimitBytes      = 1 << 20
	DefaultShutdownTimeout     = 10 * time.Second
	DefaultSampleRate          = 16000
	DefaultFrameMs             = 30
	DefaultMinSpeechFrames     = 3
	DefaultMaxSilenceFrames    = 15
	DefaultSilenceDuration     = 1500 * time.Millisecond
	DefaultSystemPrompt        = "You are a helpful AI assistant. Keep responses concise."
	DefaultSTTTimeout          = 15 * time.Second
	DefaultLLMTimeout          = 20 * time.Second
	DefaultTTSTimeout          = 20 * time.Second
	DefaultQueueSize           = 64
	DefaultEmbeddingDimensions = 1536
	DefaultRecordTimeout       = 10 * time.Second
	DefaultServiceName         = "voiceturn"
	DefaultVADProvider         = "energy"
)

// ApplyDefaults fills every unset field of cfg with its default. Provider
// names are left alone except for the VAD, which defaults to "energy".
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	setDefault(&s.ListenAddr, DefaultListenAddr)
	setDefault(&s.LogLevel, LogInfo)
	setDefault(&s.ReadLimitBytes, DefaultReadLimitBytes)
	setDefault(&s.ShutdownTimeout, DefaultShutdownTimeout)

	setDefault(&cfg.Audio.SampleRate, DefaultSampleRate)
	setDefault(&cfg.Audio.FrameMs, DefaultFrameMs)

	setDefault(&cfg.VAD.MinSpeechFrames, DefaultMinSpeechFrames)
	setDefault(&cfg.VAD.MaxSilenceFrames, DefaultMaxSilenceFrames)

	t := &cfg.Turn
	setDefault(&t.SilenceDuration, DefaultSilenceDuration)
	setDefault(&t.SystemPrompt, DefaultSystemPrompt)
	setDefault(&t.STTTimeout, DefaultSTTTimeout)
	setDefault(&t.LLMTimeout, DefaultLLMTimeout)
	setDefault(&t.TTSTimeout, DefaultTTSTimeout)
	setDefault(&t.QueueSize, DefaultQueueSize)

	setDefault(&cfg.Providers.VAD.Name, DefaultVADProvider)

	if cfg.Memory.PostgresDSN != "" {
		setDefault(&cfg.Memory.EmbeddingDimensions, DefaultEmbeddingDimensions)
	}
	setDefault(&cfg.Memory.RecordTimeout, DefaultRecordTimeout)

	setDefault(&cfg.Observability.ServiceName, DefaultServiceName)
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}
