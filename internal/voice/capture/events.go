package capture

import (
	"github.com/voxmemo/voxmemo/internal/voice/level"
	"github.com/voxmemo/voxmemo/pkg/audio"
)

// Event is delivered by a Session's background work to its owner, who passes
// it back to [Session.Handle] on the owner's goroutine.
type Event interface {
	generation() uint64
}

// Acquired reports the result of a microphone open started by
// [Session.Start].
type Acquired struct {
	Gen    uint64
	Stream audio.Stream
	Err    error
}

// ChunkReady carries one encoded chunk.
type ChunkReady struct {
	Gen   uint64
	Chunk audio.Chunk
}

// LevelReading carries one analyzer reading.
type LevelReading struct {
	Gen     uint64
	Reading level.Reading
}

// StreamFailed reports that the device stream or encoder failed mid-capture.
type StreamFailed struct {
	Gen uint64
	Err error
}

func (e Acquired) generation() uint64     { return e.Gen }
func (e ChunkReady) generation() uint64   { return e.Gen }
func (e LevelReading) generation() uint64 { return e.Gen }
func (e StreamFailed) generation() uint64 { return e.Gen }

// Sink receives events from a Session's goroutines.
type Sink interface {
	// Post delivers ev, blocking until the owner accepts it. It returns false
	// when the owner has shut down and will never read it.
	Post(ev Event) bool

	// TryPost delivers ev only if the owner can take it immediately.
	TryPost(ev Event) bool
}

// Outcome tells the owner what handling an event changed.
type Outcome int

const (
	// Ignored means the event was stale or irrelevant in the current state.
	Ignored Outcome = iota
	// Started means the microphone was acquired and recording began.
	Started
	// Updated means buffered audio or the level changed.
	Updated
	// SegmentReady means the speaker went silent; the owner should Flush.
	SegmentReady
	// Failed means capture ended with an error and the session is Idle.
	Failed
)

var outcomeNames = [...]string{"ignored", "started", "updated", "segment_ready", "failed"}

func (o Outcome) String() string {
	if o >= 0 && int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return "unknown"
}
