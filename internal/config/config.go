// Package config provides the configuration schema, loader, and provider
// registry for the voxmemo voice-capture daemon.
package config

import "time"

// LogLevel controls log verbosity for the daemon.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Auth       AuthConfig       `yaml:"auth"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Voice      VoiceConfig      `yaml:"voice"`
	Resilience ResilienceConfig `yaml:"resilience"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address for the host API and probes (e.g., "127.0.0.1:8420").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// AuthConfig supplies the bearer token sent to the transcription backend.
// At most one of Token and TokenFile may be set.
type AuthConfig struct {
	// Token is a static bearer token.
	Token string `yaml:"token"`

	// TokenFile is re-read on every request, so an external process can
	// rotate the token without a restart.
	TokenFile string `yaml:"token_file"`
}

// ProvidersConfig selects the transcriber chain and the microphone.
type ProvidersConfig struct {
	// Transcriber is the preferred transcription provider.
	Transcriber ProviderEntry `yaml:"transcriber"`

	// Fallbacks are tried in order when the preferred provider fails or its
	// circuit breaker is open.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	// Microphone selects the capture device implementation.
	Microphone ProviderEntry `yaml:"microphone"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered implementation (e.g., "backend", "openai", "ffmpeg").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "whisper-1").
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the fields above.
	Options map[string]any `yaml:"options"`
}

// OptionString returns Options[key] as a string, or def when it is absent or
// not a string.
func (p ProviderEntry) OptionString(key, def string) string {
	if v, ok := p.Options[key].(string); ok && v != "" {
		return v
	}
	return def
}

// VoiceConfig tunes the capture pipeline.
type VoiceConfig struct {
	// SampleRate and Channels set the chunk format sent for transcription.
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`

	// ChunkInterval is the audio length of one encoder chunk.
	ChunkInterval time.Duration `yaml:"chunk_interval"`

	// AnalysisRateHz is how often the level analyzer takes a reading.
	AnalysisRateHz float64 `yaml:"analysis_rate_hz"`

	// FFTSize is the analyzer window; a power of two in [32, 32768].
	FFTSize int `yaml:"fft_size"`

	// SpeakingThreshold is the level (0-100) above which the user counts as
	// speaking. Hot-reloadable.
	SpeakingThreshold float64 `yaml:"speaking_threshold"`

	// SilenceThreshold is the continuous silence that ends a segment.
	// Hot-reloadable.
	SilenceThreshold time.Duration `yaml:"silence_threshold"`

	// MinChunks is the fewest chunks a segment needs before silence ends it.
	MinChunks int `yaml:"min_chunks"`

	// MinSegmentBytes is the smallest segment worth uploading.
	MinSegmentBytes int `yaml:"min_segment_bytes"`

	// DuplicateCooldown suppresses a repeated transcript. Hot-reloadable.
	DuplicateCooldown time.Duration `yaml:"duplicate_cooldown"`

	// DuplicateSimilarity is the Jaro-Winkler score at which two transcripts
	// count as the same; 1.0 means exact. Hot-reloadable.
	DuplicateSimilarity float64 `yaml:"duplicate_similarity"`

	// SuspiciousPhrases replaces the built-in denylist when set. Hot-reloadable.
	SuspiciousPhrases []string `yaml:"suspicious_phrases"`

	// MaxSegment forces a segment end after this much audio. 0 disables it.
	// Hot-reloadable.
	MaxSegment time.Duration `yaml:"max_segment"`

	// RequestTimeout bounds one transcription request. Hot-reloadable.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Language is an optional hint for the transcriber. Hot-reloadable.
	Language string `yaml:"language"`
}

// ResilienceConfig configures the circuit breaker placed in front of every
// transcriber.
type ResilienceConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// Defaults used by [ApplyDefaults].
const (
	DefaultListenAddr          = "127.0.0.1:8420"
	DefaultTranscriber         = "backend"
	DefaultMicrophone          = "ffmpeg"
	DefaultSampleRate          = 16000
	DefaultChannels            = 1
	DefaultChunkInterval       = time.Second
	DefaultAnalysisRateHz      = 60
	DefaultFFTSize             = 256
	DefaultSpeakingThreshold   = 15
	DefaultSilenceThreshold    = 4 * time.Second
	DefaultMinChunks           = 2
	DefaultMinSegmentBytes     = 1024
	DefaultDuplicateCooldown   = 3 * time.Second
	DefaultDuplicateSimilarity = 1.0
	DefaultRequestTimeout      = 30 * time.Second
	DefaultMaxFailures         = 3
	DefaultResetTimeout        = 30 * time.Second
	DefaultHalfOpenMax         = 1
)

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Providers.Transcriber.Name == "" {
		cfg.Providers.Transcriber.Name = DefaultTranscriber
	}
	if cfg.Providers.Microphone.Name == "" {
		cfg.Providers.Microphone.Name = DefaultMicrophone
	}

	v := &cfg.Voice
	if v.SampleRate == 0 {
		v.SampleRate = DefaultSampleRate
	}
	if v.Channels == 0 {
		v.Channels = DefaultChannels
	}
	if v.ChunkInterval == 0 {
		v.ChunkInterval = DefaultChunkInterval
	}
	if v.AnalysisRateHz == 0 {
		v.AnalysisRateHz = DefaultAnalysisRateHz
	}
	if v.FFTSize == 0 {
		v.FFTSize = DefaultFFTSize
	}
	if v.SpeakingThreshold == 0 {
		v.SpeakingThreshold = DefaultSpeakingThreshold
	}
	if v.SilenceThreshold == 0 {
		v.SilenceThreshold = DefaultSilenceThreshold
	}
	if v.MinChunks == 0 {
		v.MinChunks = DefaultMinChunks
	}
	if v.MinSegmentBytes == 0 {
		v.MinSegmentBytes = DefaultMinSegmentBytes
	}
	if v.DuplicateCooldown == 0 {
		v.DuplicateCooldown = DefaultDuplicateCooldown
	}
	if v.DuplicateSimilarity == 0 {
		v.DuplicateSimilarity = DefaultDuplicateSimilarity
	}
	if v.RequestTimeout == 0 {
		v.RequestTimeout = DefaultRequestTimeout
	}

	r := &cfg.Resilience
	if r.MaxFailures == 0 {
		r.MaxFailures = DefaultMaxFailures
	}
	if r.ResetTimeout == 0 {
		r.ResetTimeout = DefaultResetTimeout
	}
	if r.HalfOpenMax == 0 {
		r.HalfOpenMax = DefaultHalfOpenMax
	}
}
