// Package mock provides in-memory implementations of [audio.Microphone] and
// [audio.Stream] for unit tests.
//
// All mocks are safe for concurrent use. They record calls so tests can
// assert on counts, and expose fields that control return values.
//
// Typical usage:
//
//	mic := &mock.Microphone{}
//	s, _ := mic.Open(ctx)
//	mic.Last().Push(audio.Frame{Data: pcm, SampleRate: 16000, Channels: 1})
//	_ = s.Close()
//	if mic.CloseCount() != 1 { ... }
package mock

import (
	"context"
	"sync"

	"github.com/voxmemo/voxmemo/pkg/audio"
)

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone is a mock implementation of [audio.Microphone]. Every successful
// Open returns a fresh [Stream].
type Microphone struct {
	mu sync.Mutex

	// OpenErr is returned by Open when non-nil.
	OpenErr error

	// StreamFormat is reported by opened streams. Defaults to 16 kHz mono.
	StreamFormat audio.Format

	// Block, when non-nil, makes Open wait until it is closed or ctx is done.
	Block chan struct{}

	// OpenCalls counts Open invocations, including failed ones.
	OpenCalls int

	// Streams lists every stream returned by Open in order.
	Streams []*Stream
}

// Open implements [audio.Microphone].
func (m *Microphone) Open(ctx context.Context) (audio.Stream, error) {
	m.mu.Lock()
	m.OpenCalls++
	block := m.Block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	f := m.StreamFormat
	if !f.Valid() {
		f = audio.Format{SampleRate: 16000, Channels: 1}
	}
	s := NewStream(f)
	m.Streams = append(m.Streams, s)
	return s, nil
}

// OpenCount returns the number of Open calls.
func (m *Microphone) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.OpenCalls
}

// CloseCount returns the total number of Close calls across all streams.
func (m *Microphone) CloseCount() int {
	m.mu.Lock()
	streams := append([]*Stream(nil), m.Streams...)
	m.mu.Unlock()
	n := 0
	for _, s := range streams {
		n += s.CloseCount()
	}
	return n
}

// Last returns the most recently opened stream, or nil.
func (m *Microphone) Last() *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Streams) == 0 {
		return nil
	}
	return m.Streams[len(m.Streams)-1]
}

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock [audio.Stream] fed by [Stream.Push].
type Stream struct {
	mu       sync.Mutex
	format   audio.Format
	frames   chan audio.Frame
	done     bool
	err      error
	closeCnt int
}

// NewStream returns an open stream reporting format f.
func NewStream(f audio.Format) *Stream {
	return &Stream{format: f, frames: make(chan audio.Frame, 256)}
}

// Push delivers a frame to the consumer. Frames pushed after the stream
// ended are dropped.
func (s *Stream) Push(f audio.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.frames <- f
}

// Fail ends the stream with err, as a device loss would.
func (s *Stream) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	s.err = err
	close(s.frames)
}

// Frames implements [audio.Stream].
func (s *Stream) Frames() <-chan audio.Frame { return s.frames }

// Format implements [audio.Stream].
func (s *Stream) Format() audio.Format { return s.format }

// Err implements [audio.Stream].
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements [audio.Stream]. Every call is counted.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCnt++
	if !s.done {
		s.done = true
		close(s.frames)
	}
	return nil
}

// CloseCount returns the number of Close calls.
func (s *Stream) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCnt
}

// Closed reports whether the stream has ended.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

var (
	_ audio.Microphone = (*Microphone)(nil)
	_ audio.Stream     = (*Stream)(nil)
)
