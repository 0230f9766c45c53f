package voice

import (
	"encoding/json"
	"time"

	"github.com/voxmemo/voxmemo/internal/voice/capture"
)

// Status is a snapshot of the pipeline for UI indicators.
type Status struct {
	State             State
	Listening         capture.State
	Enabled           bool
	AssistantSpeaking bool
	Level             float64
	Speaking          bool
	Chunks            int
	Countdown         time.Duration
	ListeningFor      time.Duration
	Degraded          bool
	LastError         string
}

type coarseStatus struct {
	state     State
	listening capture.State
	enabled   bool
	assistant bool
	chunks    int
	degraded  bool
	lastErr   string
}

// coarse drops the fields that change on every analyzer tick.
func (s Status) coarse() coarseStatus {
	return coarseStatus{
		state:     s.State,
		listening: s.Listening,
		enabled:   s.Enabled,
		assistant: s.AssistantSpeaking,
		chunks:    s.Chunks,
		degraded:  s.Degraded,
		lastErr:   s.LastError,
	}
}

// MarshalJSON renders durations as whole milliseconds.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		State             State         `json:"state"`
		Listening         capture.State `json:"listening"`
		Enabled           bool          `json:"enabled"`
		AssistantSpeaking bool          `json:"assistant_speaking"`
		Level             float64       `json:"level"`
		Speaking          bool          `json:"speaking"`
		Chunks            int           `json:"chunks"`
		CountdownMS       int64         `json:"countdown_ms"`
		ListeningMS       int64         `json:"listening_ms"`
		Degraded          bool          `json:"degraded"`
		LastError         string        `json:"last_error,omitempty"`
	}{
		State:             s.State,
		Listening:         s.Listening,
		Enabled:           s.Enabled,
		AssistantSpeaking: s.AssistantSpeaking,
		Level:             s.Level,
		Speaking:          s.Speaking,
		Chunks:            s.Chunks,
		CountdownMS:       s.Countdown.Milliseconds(),
		ListeningMS:       s.ListeningFor.Milliseconds(),
		Degraded:          s.Degraded,
		LastError:         s.LastError,
	})
}
