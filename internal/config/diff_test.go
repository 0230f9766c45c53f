package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/voxmemo/voxmemo/internal/config"
)

func baseConfig() *config.Config {
	cfg := &config.Config{
		Providers: config.ProvidersConfig{
			Transcriber: config.ProviderEntry{Name: "backend", BaseURL: "http://localhost:3000"},
		},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	d := config.Diff(cfg, baseConfig())
	if !d.Empty() {
		t.Errorf("expected empty diff for identical configs, got %+v", d)
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		check   func(config.ConfigDiff) bool
		restart []string
	}{
		{
			name:   "log level",
			mutate: func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			check:  func(d config.ConfigDiff) bool { return d.LogLevelChanged && d.NewLogLevel == config.LogDebug },
		},
		{
			name:   "speaking threshold",
			mutate: func(c *config.Config) { c.Voice.SpeakingThreshold = 30 },
			check:  func(d config.ConfigDiff) bool { return d.SpeakingThresholdChanged },
		},
		{
			name:   "silence threshold",
			mutate: func(c *config.Config) { c.Voice.SilenceThreshold = 2 * time.Second },
			check:  func(d config.ConfigDiff) bool { return d.DetectorChanged },
		},
		{
			name:   "max segment",
			mutate: func(c *config.Config) { c.Voice.MaxSegment = time.Minute },
			check:  func(d config.ConfigDiff) bool { return d.DetectorChanged },
		},
		{
			name:   "suspicious phrases",
			mutate: func(c *config.Config) { c.Voice.SuspiciousPhrases = []string{"like and subscribe"} },
			check:  func(d config.ConfigDiff) bool { return d.SubmitPolicyChanged },
		},
		{
			name:   "language",
			mutate: func(c *config.Config) { c.Voice.Language = "fr" },
			check:  func(d config.ConfigDiff) bool { return d.SubmitPolicyChanged },
		},
		{
			name:    "listen addr",
			mutate:  func(c *config.Config) { c.Server.ListenAddr = ":9999" },
			check:   func(d config.ConfigDiff) bool { return !d.SubmitPolicyChanged },
			restart: []string{"server.listen_addr"},
		},
		{
			name: "provider and format",
			mutate: func(c *config.Config) {
				c.Providers.Fallbacks = []config.ProviderEntry{{Name: "openai", APIKey: "k"}}
				c.Voice.SampleRate = 48000
			},
			check:   func(d config.ConfigDiff) bool { return !d.DetectorChanged },
			restart: []string{"providers", "voice.sample_rate"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, new := baseConfig(), baseConfig()
			tt.mutate(new)

			d := config.Diff(old, new)
			if d.Empty() {
				t.Fatal("expected a non-empty diff")
			}
			if !tt.check(d) {
				t.Errorf("unexpected diff: %+v", d)
			}
			if !slices.Equal(d.RestartRequired, tt.restart) {
				t.Errorf("RestartRequired: got %v, want %v", d.RestartRequired, tt.restart)
			}
		})
	}
}
