package stt

import "time"

// Upload is one recording submitted for transcription.
type Upload struct {
	// Filename is the name sent with multipart uploads (e.g. "recording.wav").
	Filename string

	// ContentType is the container MIME type (e.g. "audio/wav").
	ContentType string

	// Data is the encoded file content.
	Data []byte

	// Duration is the audio length, when known.
	Duration time.Duration

	// Language is an optional BCP-47 hint ("en", "de"). Empty lets the
	// backend detect the language.
	Language string
}

// Transcript is the result of a transcription request.
type Transcript struct {
	// Text is the recognised speech. May be empty.
	Text string

	// Language is the detected or requested language, if reported.
	Language string

	// Provider names the backend that produced the transcript.
	Provider string

	// Latency is how long the request took.
	Latency time.Duration
}
