// Package mock provides a test double for [stt.Transcriber].
//
// Set Result/Err for a fixed answer, or Results to script a sequence. Every
// call is recorded so tests can assert on what was uploaded.
//
// Example:
//
//	tr := &mock.Transcriber{Result: stt.Transcript{Text: "hello"}}
//	got, _ := tr.Transcribe(ctx, upload)
//	if tr.CallCount() != 1 { ... }
package mock

import (
	"context"
	"sync"

	"github.com/voxmemo/voxmemo/pkg/provider/stt"
)

// TranscribeCall records one invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Upload is the upload passed to Transcribe.
	Upload stt.Upload
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Result is returned when Results is exhausted.
	Result stt.Transcript

	// Err is returned alongside Result when non-nil.
	Err error

	// Results, when non-empty, are returned in order, one per call.
	Results []stt.Transcript

	// Block, when non-nil, makes Transcribe wait until it is closed or ctx
	// is cancelled, in which case ctx.Err() is returned.
	Block chan struct{}

	// Calls records every call to Transcribe.
	Calls []TranscribeCall
}

// Transcribe records the call and returns the scripted result.
func (t *Transcriber) Transcribe(ctx context.Context, u stt.Upload) (stt.Transcript, error) {
	t.mu.Lock()
	t.Calls = append(t.Calls, TranscribeCall{Ctx: ctx, Upload: u})
	block := t.Block
	t.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return stt.Transcript{}, ctx.Err()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.Results) > 0 {
		r := t.Results[0]
		t.Results = t.Results[1:]
		return r, nil
	}
	return t.Result, t.Err
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (t *Transcriber) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (t *Transcriber) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls = nil
}

// Ensure Transcriber implements stt.Transcriber at compile time.
var _ stt.Transcriber = (*Transcriber)(nil)
