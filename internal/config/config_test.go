package config_test

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/voxmemo/voxmemo/internal/config"
	"github.com/voxmemo/voxmemo/pkg/audio"
	audiomock "github.com/voxmemo/voxmemo/pkg/audio/mock"
	"github.com/voxmemo/voxmemo/pkg/provider/stt"
	sttmock "github.com/voxmemo/voxmemo/pkg/provider/stt/mock"
)

const fullYAML = `
server:
  listen_addr: ":9000"
  log_level: debug
auth:
  token_file: /run/secrets/voxmemo-token
providers:
  transcriber:
    name: backend
    base_url: https://app.example.com
  fallbacks:
    - name: openai
      api_key: sk-test
      model: whisper-1
  microphone:
    name: ffmpeg
    options:
      input_format: pulse
      input_device: default
voice:
  sample_rate: 48000
  channels: 2
  chunk_interval: 500ms
  fft_size: 512
  speaking_threshold: 20
  silence_threshold: 3s
  duplicate_cooldown: 5s
  duplicate_similarity: 0.92
  suspicious_phrases:
    - "subscribe to my channel"
  max_segment: 2m
  request_timeout: 15s
  language: de
resilience:
  max_failures: 5
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9000" {
		t.Errorf("listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":9000")
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogDebug)
	}
	if cfg.Auth.TokenFile != "/run/secrets/voxmemo-token" {
		t.Errorf("token_file: got %q", cfg.Auth.TokenFile)
	}
	if len(cfg.Providers.Fallbacks) != 1 || cfg.Providers.Fallbacks[0].Model != "whisper-1" {
		t.Errorf("fallbacks: got %+v", cfg.Providers.Fallbacks)
	}
	if got := cfg.Providers.Microphone.OptionString("input_format", "alsa"); got != "pulse" {
		t.Errorf("microphone input_format: got %q, want %q", got, "pulse")
	}
	if got := cfg.Providers.Microphone.OptionString("command", "ffmpeg"); got != "ffmpeg" {
		t.Errorf("microphone command default: got %q", got)
	}

	v := cfg.Voice
	if v.SampleRate != 48000 || v.Channels != 2 {
		t.Errorf("format: got %d Hz x%d", v.SampleRate, v.Channels)
	}
	if v.ChunkInterval != 500*time.Millisecond {
		t.Errorf("chunk_interval: got %s", v.ChunkInterval)
	}
	if v.SilenceThreshold != 3*time.Second {
		t.Errorf("silence_threshold: got %s", v.SilenceThreshold)
	}
	if v.DuplicateSimilarity != 0.92 {
		t.Errorf("duplicate_similarity: got %v", v.DuplicateSimilarity)
	}
	if v.MaxSegment != 2*time.Minute {
		t.Errorf("max_segment: got %s", v.MaxSegment)
	}
	if v.Language != "de" {
		t.Errorf("language: got %q", v.Language)
	}
	// Unset fields fall back to defaults.
	if v.MinChunks != config.DefaultMinChunks {
		t.Errorf("min_chunks: got %d, want default %d", v.MinChunks, config.DefaultMinChunks)
	}
	if cfg.Resilience.MaxFailures != 5 || cfg.Resilience.ResetTimeout != config.DefaultResetTimeout {
		t.Errorf("resilience: got %+v", cfg.Resilience)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  transcriber:
    base_url: http://localhost:3000
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"listen_addr", cfg.Server.ListenAddr, config.DefaultListenAddr},
		{"log_level", cfg.Server.LogLevel, config.LogInfo},
		{"transcriber", cfg.Providers.Transcriber.Name, config.DefaultTranscriber},
		{"microphone", cfg.Providers.Microphone.Name, config.DefaultMicrophone},
		{"sample_rate", cfg.Voice.SampleRate, config.DefaultSampleRate},
		{"channels", cfg.Voice.Channels, config.DefaultChannels},
		{"chunk_interval", cfg.Voice.ChunkInterval, config.DefaultChunkInterval},
		{"fft_size", cfg.Voice.FFTSize, config.DefaultFFTSize},
		{"silence_threshold", cfg.Voice.SilenceThreshold, config.DefaultSilenceThreshold},
		{"min_segment_bytes", cfg.Voice.MinSegmentBytes, config.DefaultMinSegmentBytes},
		{"duplicate_cooldown", cfg.Voice.DuplicateCooldown, config.DefaultDuplicateCooldown},
		{"duplicate_similarity", cfg.Voice.DuplicateSimilarity, config.DefaultDuplicateSimilarity},
		{"max_segment", cfg.Voice.MaxSegment, time.Duration(0)},
		{"half_open_max", cfg.Resilience.HalfOpenMax, config.DefaultHalfOpenMax},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestLoadFromReader_EmptyNeedsBackendURL(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(""))
	if err == nil {
		t.Fatal("expected error: default backend transcriber has no base_url")
	}
	if !strings.Contains(err.Error(), "base_url") {
		t.Errorf("error should mention base_url, got: %v", err)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	yaml := `
voice:
  silence_treshold: 2s
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for misspelled field, got nil")
	}
	if !strings.Contains(err.Error(), "silence_treshold") {
		t.Errorf("error should name the unknown field, got: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load("/nonexistent/voxmemo.yaml")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if config.LogLevel("trace").IsValid() {
		t.Error(`"trace" should not be valid`)
	}
}

func TestRegistry_Unknown(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	_, err := reg.CreateTranscriber(config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("transcriber: expected ErrProviderNotRegistered, got %v", err)
	}
	_, err = reg.CreateMicrophone(config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("microphone: expected ErrProviderNotRegistered, got %v", err)
	}
}

func TestRegistry_Registered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	wantTr := &sttmock.Transcriber{}
	var gotEntry config.ProviderEntry
	reg.RegisterTranscriber("stub", func(e config.ProviderEntry) (stt.Transcriber, error) {
		gotEntry = e
		return wantTr, nil
	})
	wantMic := &audiomock.Microphone{}
	reg.RegisterMicrophone("stub", func(config.ProviderEntry) (audio.Microphone, error) {
		return wantMic, nil
	})

	tr, err := reg.CreateTranscriber(config.ProviderEntry{Name: "stub", Model: "tiny"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr != wantTr {
		t.Error("returned transcriber is not the expected instance")
	}
	if gotEntry.Model != "tiny" {
		t.Errorf("factory received model %q, want %q", gotEntry.Model, "tiny")
	}

	mic, err := reg.CreateMicrophone(config.ProviderEntry{Name: "stub"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mic != wantMic {
		t.Error("returned microphone is not the expected instance")
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	wantErr := errors.New("factory boom")
	reg.RegisterTranscriber("broken", func(config.ProviderEntry) (stt.Transcriber, error) {
		return nil, wantErr
	})
	_, err := reg.CreateTranscriber(config.ProviderEntry{Name: "broken"})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected factory error %v, got %v", wantErr, err)
	}
}

func TestRegistry_Transcribers(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	for _, name := range []string{"whisper", "backend", "openai"} {
		reg.RegisterTranscriber(name, func(config.ProviderEntry) (stt.Transcriber, error) { return nil, nil })
	}
	got := reg.Transcribers()
	want := []string{"backend", "openai", "whisper"}
	if !slices.Equal(got, want) {
		t.Errorf("Transcribers() = %v, want %v", got, want)
	}

	_, err := reg.CreateTranscriber(config.ProviderEntry{Name: "azure"})
	if err == nil || !strings.Contains(err.Error(), "whisper") {
		t.Errorf("unknown-provider error %v should list registered names", err)
	}
}
