// Package silence turns a stream of speaking/not-speaking observations into
// segment-ready signals.
//
// A segment is ready once the speaker has been continuously silent for the
// configured threshold. Any speaking observation restarts the wait. The
// detector is a pure state machine driven by caller-supplied timestamps so
// that tests can replay synthetic frame sequences.
package silence

import "time"

// DefaultThreshold is the continuous silence that ends a segment.
const DefaultThreshold = 4 * time.Second

// Detector tracks the current silence window. It is not safe for concurrent
// use; the capture session drives it from its event loop.
type Detector struct {
	threshold time.Duration
	start     time.Time
	open      bool
	suspended bool
}

// New returns a detector that fires after threshold of continuous silence.
// A non-positive threshold selects [DefaultThreshold].
func New(threshold time.Duration) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Detector{threshold: threshold}
}

// Threshold returns the configured silence duration.
func (d *Detector) Threshold() time.Duration { return d.threshold }

// SetThreshold changes the silence duration. An open window keeps its start
// time and is judged against the new value.
func (d *Detector) SetThreshold(t time.Duration) {
	if t > 0 {
		d.threshold = t
	}
}

// Observe records one analysis frame and reports whether the segment is ready.
// It returns true exactly once per silence window, then clears the window.
func (d *Detector) Observe(speaking bool, now time.Time) bool {
	if d.suspended {
		return false
	}
	if speaking {
		d.open = false
		return false
	}
	if !d.open {
		d.start = now
		d.open = true
		return false
	}
	if now.Sub(d.start) >= d.threshold {
		d.open = false
		return true
	}
	return false
}

// Suspend stops consuming frames and clears any open window.
func (d *Detector) Suspend() {
	d.suspended = true
	d.open = false
}

// Resume accepts frames again. The next silent frame opens a fresh window.
func (d *Detector) Resume() {
	d.suspended = false
	d.open = false
}

// Reset clears the window without changing the suspended state.
func (d *Detector) Reset() {
	d.open = false
}

// Suspended reports whether the detector is ignoring frames.
func (d *Detector) Suspended() bool { return d.suspended }

// Window returns the start of the open silence window.
func (d *Detector) Window() (time.Time, bool) {
	return d.start, d.open
}

// Countdown returns the time left before the open window fires. ok is false
// when no window is open.
func (d *Detector) Countdown(now time.Time) (left time.Duration, ok bool) {
	if !d.open {
		return 0, false
	}
	return max(d.threshold-now.Sub(d.start), 0), true
}
