// Package stt defines the Transcriber interface for speech-to-text backends.
//
// A Transcriber takes one finished recording and returns its transcript. The
// voice pipeline cuts the microphone feed into segments itself, so backends
// only need batch recognition: an HTTP upload to the application's
// transcription endpoint, the OpenAI audio API, or a local whisper.cpp server.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

var (
	// ErrEmptyUpload is returned when an Upload carries no audio.
	ErrEmptyUpload = errors.New("stt: upload has no audio")

	// ErrRejected is wrapped by errors for requests the backend refused on
	// their content (malformed or oversized audio). Another backend would
	// most likely refuse them too.
	ErrRejected = errors.New("stt: request rejected")
)

// RejectedStatus reports whether an HTTP status code means the backend
// refused the request content rather than failed to serve it.
func RejectedStatus(code int) bool {
	switch code {
	case 400, 413, 415, 422:
		return true
	}
	return false
}

// Permanent reports whether err should not be retried on another backend.
func Permanent(err error) bool {
	return errors.Is(err, ErrRejected) || errors.Is(err, ErrEmptyUpload)
}

// Transcriber is the abstraction over any batch STT backend.
type Transcriber interface {
	// Transcribe sends u for recognition and returns the result. An empty
	// Transcript.Text is a valid answer meaning no speech was recognised.
	//
	// Returns an error when the request cannot be sent, the backend answers
	// with a non-success status, or the response cannot be parsed. ctx
	// cancellation aborts the request.
	Transcribe(ctx context.Context, u Upload) (Transcript, error)
}

// TranscriberFunc adapts an ordinary function to the Transcriber interface.
type TranscriberFunc func(ctx context.Context, u Upload) (Transcript, error)

// Transcribe calls f.
func (f TranscriberFunc) Transcribe(ctx context.Context, u Upload) (Transcript, error) {
	return f(ctx, u)
}
