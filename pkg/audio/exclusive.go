package audio

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Compile-time assertion that Exclusive implements Microphone.
var _ Microphone = (*Exclusive)(nil)

// Exclusive wraps a Microphone so that at most one Stream is open at a time.
// A second Open while a stream is held fails immediately with
// [ErrDeviceBusy] rather than queueing.
type Exclusive struct {
	mic Microphone
	sem *semaphore.Weighted
}

// NewExclusive returns an exclusive wrapper around mic.
func NewExclusive(mic Microphone) *Exclusive {
	return &Exclusive{mic: mic, sem: semaphore.NewWeighted(1)}
}

// Open implements [Microphone]. The hold is released when the returned
// stream is closed or when the underlying Open fails.
func (e *Exclusive) Open(ctx context.Context) (Stream, error) {
	if !e.sem.TryAcquire(1) {
		return nil, ErrDeviceBusy
	}
	s, err := e.mic.Open(ctx)
	if err != nil {
		e.sem.Release(1)
		return nil, fmt.Errorf("audio: open microphone: %w", err)
	}
	return &heldStream{Stream: s, release: func() { e.sem.Release(1) }}, nil
}

// Held reports whether a stream is currently open.
func (e *Exclusive) Held() bool {
	if e.sem.TryAcquire(1) {
		e.sem.Release(1)
		return false
	}
	return true
}

type heldStream struct {
	Stream
	once    sync.Once
	release func()
	err     error
}

func (h *heldStream) Close() error {
	h.once.Do(func() {
		h.err = h.Stream.Close()
		h.release()
	})
	return h.err
}
