package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/bits"
	"net/url"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"transcriber": {"backend", "openai", "whisper"},
	"microphone":  {"ffmpeg"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Auth
	if cfg.Auth.Token != "" && cfg.Auth.TokenFile != "" {
		errs = append(errs, errors.New("auth.token and auth.token_file are mutually exclusive"))
	}

	// Providers
	entries := append([]ProviderEntry{cfg.Providers.Transcriber}, cfg.Providers.Fallbacks...)
	for i, p := range entries {
		prefix := "providers.transcriber"
		if i > 0 {
			prefix = fmt.Sprintf("providers.fallbacks[%d]", i-1)
		}
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		validateProviderName("transcriber", p.Name)
		if p.BaseURL != "" {
			if u, err := url.Parse(p.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
				errs = append(errs, fmt.Errorf("%s.base_url %q is not an absolute URL", prefix, p.BaseURL))
			}
		}
		switch p.Name {
		case "backend", "whisper":
			if p.BaseURL == "" {
				errs = append(errs, fmt.Errorf("%s: provider %q requires base_url", prefix, p.Name))
			}
		case "openai":
			if p.APIKey == "" {
				errs = append(errs, fmt.Errorf("%s: provider %q requires api_key", prefix, p.Name))
			}
		}
		if p.Name == "backend" && cfg.Auth.Token == "" && cfg.Auth.TokenFile == "" {
			slog.Warn("backend transcriber configured without auth.token or auth.token_file; requests will be unauthenticated",
				"provider", prefix)
		}
	}
	validateProviderName("microphone", cfg.Providers.Microphone.Name)

	// Voice
	v := cfg.Voice
	if v.SampleRate < 8000 || v.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("voice.sample_rate %d is out of range [8000, 192000]", v.SampleRate))
	}
	if v.Channels < 1 || v.Channels > 2 {
		errs = append(errs, fmt.Errorf("voice.channels %d is invalid; valid values: 1, 2", v.Channels))
	}
	if v.ChunkInterval < 0 {
		errs = append(errs, fmt.Errorf("voice.chunk_interval %s must be positive", v.ChunkInterval))
	}
	if v.AnalysisRateHz < 1 || v.AnalysisRateHz > 1000 {
		errs = append(errs, fmt.Errorf("voice.analysis_rate_hz %v is out of range [1, 1000]", v.AnalysisRateHz))
	}
	if v.FFTSize < 32 || v.FFTSize > 32768 || bits.OnesCount(uint(v.FFTSize)) != 1 {
		errs = append(errs, fmt.Errorf("voice.fft_size %d must be a power of two in [32, 32768]", v.FFTSize))
	}
	if v.SpeakingThreshold < 0 || v.SpeakingThreshold > 100 {
		errs = append(errs, fmt.Errorf("voice.speaking_threshold %v is out of range [0, 100]", v.SpeakingThreshold))
	}
	if v.SilenceThreshold < 0 {
		errs = append(errs, fmt.Errorf("voice.silence_threshold %s must be positive", v.SilenceThreshold))
	}
	if v.MinChunks < 0 {
		errs = append(errs, fmt.Errorf("voice.min_chunks %d must not be negative", v.MinChunks))
	}
	if v.MinSegmentBytes < 0 {
		errs = append(errs, fmt.Errorf("voice.min_segment_bytes %d must not be negative", v.MinSegmentBytes))
	}
	if v.DuplicateCooldown < 0 {
		errs = append(errs, fmt.Errorf("voice.duplicate_cooldown %s must not be negative", v.DuplicateCooldown))
	}
	if v.DuplicateSimilarity < 0 || v.DuplicateSimilarity > 1 {
		errs = append(errs, fmt.Errorf("voice.duplicate_similarity %v is out of range (0, 1]", v.DuplicateSimilarity))
	}
	if v.MaxSegment < 0 {
		errs = append(errs, fmt.Errorf("voice.max_segment %s must not be negative", v.MaxSegment))
	}
	if v.MaxSegment > 0 && v.MaxSegment < 2*v.ChunkInterval {
		slog.Warn("voice.max_segment is shorter than two chunks; segments will end on the second chunk",
			"max_segment", v.MaxSegment, "chunk_interval", v.ChunkInterval)
	}
	if v.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("voice.request_timeout %s must not be negative", v.RequestTimeout))
	}

	// Resilience
	if cfg.Resilience.MaxFailures < 0 || cfg.Resilience.HalfOpenMax < 0 || cfg.Resilience.ResetTimeout < 0 {
		errs = append(errs, errors.New("resilience values must not be negative"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a custom registration",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
