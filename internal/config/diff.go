package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SpeakingThresholdChanged is applied to the running level analyzer.
	SpeakingThresholdChanged bool

	// DetectorChanged covers silence_threshold and max_segment, which the
	// controller applies between readings.
	DetectorChanged bool

	// SubmitPolicyChanged covers the transcript acceptance filter, the
	// request timeout and the language hint.
	SubmitPolicyChanged bool

	// RestartRequired lists dotted field paths that changed but only take
	// effect after a restart.
	RestartRequired []string
}

// Empty reports whether d carries no change at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.SpeakingThresholdChanged && !d.DetectorChanged &&
		!d.SubmitPolicyChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and sorts each change into what can be
// applied live and what needs a restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	ov, nv := old.Voice, new.Voice
	d.SpeakingThresholdChanged = ov.SpeakingThreshold != nv.SpeakingThreshold
	d.DetectorChanged = ov.SilenceThreshold != nv.SilenceThreshold || ov.MaxSegment != nv.MaxSegment
	d.SubmitPolicyChanged = ov.MinSegmentBytes != nv.MinSegmentBytes ||
		ov.DuplicateCooldown != nv.DuplicateCooldown ||
		ov.DuplicateSimilarity != nv.DuplicateSimilarity ||
		!slices.Equal(ov.SuspiciousPhrases, nv.SuspiciousPhrases) ||
		ov.RequestTimeout != nv.RequestTimeout ||
		ov.Language != nv.Language

	restart := func(path string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, path)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.tls", !reflect.DeepEqual(old.Server.TLS, new.Server.TLS))
	restart("auth", old.Auth != new.Auth)
	restart("providers", !reflect.DeepEqual(old.Providers, new.Providers))
	restart("voice.sample_rate", ov.SampleRate != nv.SampleRate)
	restart("voice.channels", ov.Channels != nv.Channels)
	restart("voice.chunk_interval", ov.ChunkInterval != nv.ChunkInterval)
	restart("voice.analysis_rate_hz", ov.AnalysisRateHz != nv.AnalysisRateHz)
	restart("voice.fft_size", ov.FFTSize != nv.FFTSize)
	restart("voice.min_chunks", ov.MinChunks != nv.MinChunks)
	restart("resilience", old.Resilience != new.Resilience)

	return d
}
