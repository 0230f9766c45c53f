package audio

import "sync"

// Compile-time assertion that Ring implements Sampler.
var _ Sampler = (*Ring)(nil)

// Ring keeps the newest mono samples of a feed. Capture writes every frame
// into it and the level analyser reads from it on its own schedule.
type Ring struct {
	mu     sync.Mutex
	buf    []float64
	pos    int
	filled bool
	tmp    []float64
}

// NewRing returns a ring holding the last size samples.
func NewRing(size int) *Ring {
	return &Ring{buf: make([]float64, max(size, 1))}
}

// Write downmixes f to mono and appends its samples.
func (r *Ring) Write(f Frame) {
	pcm := f.Data
	if f.Channels > 1 {
		pcm = Downmix(pcm, f.Channels)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tmp = Float32Mono(pcm, r.tmp[:0])
	for _, v := range r.tmp {
		r.buf[r.pos] = v
		r.pos++
		if r.pos == len(r.buf) {
			r.pos = 0
			r.filled = true
		}
	}
}

// Latest implements [Sampler].
func (r *Ring) Latest(dst []float64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	avail := r.pos
	if r.filled {
		avail = len(r.buf)
	}
	n := min(len(dst), avail)
	start := r.pos - n
	if start < 0 {
		start += len(r.buf)
	}
	for i := range n {
		dst[i] = r.buf[(start+i)%len(r.buf)]
	}
	return n
}

// Reset discards all samples.
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pos = 0
	r.filled = false
}
