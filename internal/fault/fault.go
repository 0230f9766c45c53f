// Package fault defines the error taxonomy of the voice pipeline.
//
// Components convert raw platform, encoder, and network errors into a
// [*Error] carrying a [Kind] at their boundary, so the session controller only
// ever reasons about kinds. Some kinds are surfaced to the user as a
// [Notice]; the rest are silent rejections that are logged and dropped.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	// DeviceUnavailable means microphone access was denied or the device
	// could not be opened.
	DeviceUnavailable Kind = iota + 1

	// EncoderError means the recording stream failed mid-capture.
	EncoderError

	// TooSmall means a segment was below the minimum submission size.
	TooSmall

	// NoSpeech means the transcription came back empty.
	NoSpeech

	// SuspiciousAudio means the transcript looked like system or media
	// audio rather than the user.
	SuspiciousAudio

	// NetworkFailure means the transcription request failed or the backend
	// answered with an error.
	NetworkFailure

	// Duplicate means the transcript repeated the previous one within the
	// cooldown window, or the audio itself was a resubmission.
	Duplicate
)

// String returns the snake_case name of the kind.
func (k Kind) String() string {
	switch k {
	case DeviceUnavailable:
		return "device_unavailable"
	case EncoderError:
		return "encoder_error"
	case TooSmall:
		return "too_small"
	case NoSpeech:
		return "no_speech"
	case SuspiciousAudio:
		return "suspicious_audio"
	case NetworkFailure:
		return "network_failure"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Visible reports whether failures of this kind are shown to the user.
func (k Kind) Visible() bool {
	switch k {
	case DeviceUnavailable, EncoderError, SuspiciousAudio, NetworkFailure:
		return true
	default:
		return false
	}
}

// Message returns the user-facing text for visible kinds and an empty string
// otherwise.
func (k Kind) Message() string {
	switch k {
	case DeviceUnavailable:
		return "Failed to access microphone"
	case EncoderError:
		return "Recording error occurred"
	case SuspiciousAudio:
		return "Detected system audio, please try again"
	case NetworkFailure:
		return "Transcription failed"
	default:
		return ""
	}
}

// Error is a classified pipeline error. Err holds the underlying cause and
// may be nil for rejections that have no lower-level error.
type Error struct {
	Kind Kind
	Err  error
}

// New returns an *Error of kind k wrapping err.
func New(k Kind, err error) *Error {
	return &Error{Kind: k, Err: err}
}

// Newf returns an *Error of kind k with a formatted cause.
func Newf(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, so errors.Is(err, fault.New(fault.TooSmall, nil))
// works without comparing causes.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Notice returns the user notice for e and whether one should be shown.
func (e *Error) Notice() (Notice, bool) {
	if !e.Kind.Visible() {
		return Notice{}, false
	}
	return Notice{Kind: e.Kind, Message: e.Kind.Message()}, true
}

// KindOf returns the kind of the first *Error in err's chain, or zero.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// Is reports whether err carries kind k.
func Is(err error, k Kind) bool {
	return KindOf(err) == k
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Notice is a user-visible message describing a failure.
type Notice struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}
