// Package audio defines the capture-side audio types and device interfaces
// used by the voice pipeline.
//
// The primary abstractions are:
//
//   - [Microphone]: opens the input device and returns a [Stream].
//   - [Stream]: a live PCM feed from the device that must be closed to
//     release the hardware.
//   - [Encoder]: cuts a PCM feed into fixed-interval [Chunk] values.
//   - [Segment]: the chunks collected between two flushes.
//
// Device adapters (ffmpeg, test doubles) live in subpackages. This package
// lives under pkg/ because host applications are expected to supply their
// own [Microphone] implementations.
package audio

import (
	"context"
	"errors"
)

var (
	// ErrDeviceBusy is returned when the microphone is already held by
	// another capture.
	ErrDeviceBusy = errors.New("audio: microphone busy")

	// ErrPermissionDenied is returned when the platform refuses access to
	// the input device.
	ErrPermissionDenied = errors.New("audio: microphone permission denied")

	// ErrNoDevice is returned when no input device is present.
	ErrNoDevice = errors.New("audio: no input device")
)

// Stream is a live microphone feed.
//
// Frames are delivered on the channel returned by [Stream.Frames], which is
// closed when the stream ends for any reason. Implementations must be safe
// for concurrent use.
type Stream interface {
	// Frames returns the PCM frame channel. The same channel is returned on
	// every call.
	Frames() <-chan Frame

	// Format reports the format of the frames the device delivers.
	Format() Format

	// Err returns the reason the stream ended, or nil while it is live or
	// when it was ended by Close.
	Err() error

	// Close stops capture and releases the device. It is safe to call Close
	// more than once; subsequent calls are no-ops and return nil.
	Close() error
}

// Microphone opens the input device.
//
// Implementations must be safe for concurrent use.
type Microphone interface {
	// Open acquires the device and starts capture. ctx bounds the acquisition
	// only; the returned Stream lives until Close. Open may block while the
	// platform asks the user for permission.
	Open(ctx context.Context) (Stream, error)
}

// Sampler exposes the most recent mono samples of a live feed for
// frequency analysis.
type Sampler interface {
	// Latest copies up to len(dst) of the newest samples into dst, oldest
	// first, and returns how many were written. Samples are in [-1, 1).
	Latest(dst []float64) int
}
