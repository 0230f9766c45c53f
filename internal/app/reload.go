package app

import (
	"log/slog"

	"github.com/voxmemo/voxmemo/internal/config"
)

// ApplyConfig pushes the hot-reloadable fields of next into the running
// pipeline. Fields that need a restart are logged and ignored. It is meant
// to be the [config.Watcher] callback.
func (a *App) ApplyConfig(prev, next *config.Config) {
	d := config.Diff(prev, next)
	if d.Empty() {
		return
	}

	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.SpeakingThresholdChanged && a.analyzer != nil {
		a.analyzer.SetSpeakingThreshold(next.Voice.SpeakingThreshold)
		slog.Info("speaking threshold changed", "threshold", next.Voice.SpeakingThreshold)
	}
	if d.DetectorChanged {
		a.controller.Tune(next.Voice.SilenceThreshold, next.Voice.MaxSegment)
		slog.Info("segment detection retuned",
			"silence_threshold", next.Voice.SilenceThreshold,
			"max_segment", next.Voice.MaxSegment)
	}
	if d.SubmitPolicyChanged {
		a.submitter.SetConfig(submitConfig(next.Voice))
		slog.Info("submission policy changed")
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "fields", d.RestartRequired)
	}
}

// SlogLevel maps a configured log level onto slog.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
