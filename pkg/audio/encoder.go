package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultChunkInterval is the amount of audio carried by each [Chunk].
const DefaultChunkInterval = time.Second

// ErrEncoderStopped is returned by [Encoder.Write] after [Encoder.Stop].
var ErrEncoderStopped = errors.New("audio: encoder stopped")

// Encoder cuts a PCM feed into chunks of a fixed audio duration. Incoming
// frames are normalised to the encoder's target format, so every chunk except
// the final one carries exactly one interval of audio.
//
// Chunk boundaries follow stream time rather than wall-clock time: a chunk is
// complete once an interval's worth of samples has been written.
//
// Write is called by the capture pump goroutine while Pause, Resume, and Stop
// are called by the session owner, so all methods are safe for concurrent use.
type Encoder struct {
	mu         sync.Mutex
	norm       Normalizer
	interval   time.Duration
	chunkBytes int
	buf        []byte
	seq        int
	paused     bool
	stopped    bool
}

// NewEncoder returns an encoder producing target-format chunks of interval
// length. It fails when the format cannot be encoded or the interval would
// yield empty chunks.
func NewEncoder(target Format, interval time.Duration) (*Encoder, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("audio: encoder: unsupported format %s", target)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("audio: encoder: chunk interval must be positive, got %s", interval)
	}
	frameBytes := target.Channels * BytesPerSample
	chunkBytes := int(int64(target.BytesPerSecond()) * int64(interval) / int64(time.Second))
	chunkBytes -= chunkBytes % frameBytes
	if chunkBytes == 0 {
		return nil, fmt.Errorf("audio: encoder: chunk interval %s too short for %s", interval, target)
	}
	return &Encoder{
		norm:       Normalizer{Target: target},
		interval:   interval,
		chunkBytes: chunkBytes,
		buf:        make([]byte, 0, chunkBytes),
	}, nil
}

// Format returns the encoder's output format.
func (e *Encoder) Format() Format { return e.norm.Target }

// Write feeds one frame and returns any chunks it completed. Frames written
// while paused are discarded.
func (e *Encoder) Write(f Frame) ([]Chunk, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return nil, ErrEncoderStopped
	}
	if e.paused {
		return nil, nil
	}
	f = e.norm.Normalize(f)
	if len(f.Data) == 0 {
		return nil, nil
	}

	var out []Chunk
	data := f.Data
	for len(data) > 0 {
		n := min(e.chunkBytes-len(e.buf), len(data))
		e.buf = append(e.buf, data[:n]...)
		data = data[n:]
		if len(e.buf) == e.chunkBytes {
			out = append(out, e.cut())
		}
	}
	return out, nil
}

// cut turns the buffer into a chunk. Callers hold e.mu.
func (e *Encoder) cut() Chunk {
	data := make([]byte, len(e.buf))
	copy(data, e.buf)
	e.buf = e.buf[:0]
	c := Chunk{
		Seq:      e.seq,
		Data:     data,
		Format:   e.norm.Target,
		Duration: time.Duration(len(data)) * time.Second / time.Duration(e.norm.Target.BytesPerSecond()),
	}
	e.seq++
	return c
}

// Pause stops chunk production and drops any partially filled chunk.
func (e *Encoder) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = true
	e.buf = e.buf[:0]
}

// Resume restarts chunk production after Pause.
func (e *Encoder) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = false
}

// Paused reports whether the encoder is paused.
func (e *Encoder) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// Stop ends encoding and returns the partially filled tail as a final chunk.
// ok is false when there was no pending audio or the encoder was paused.
// Calling Stop again returns ok == false.
func (e *Encoder) Stop() (tail Chunk, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return Chunk{}, false
	}
	e.stopped = true
	if e.paused || len(e.buf) == 0 {
		return Chunk{}, false
	}
	return e.cut(), true
}
