// Package capture owns the microphone during a listening phase.
//
// A [Session] acquires an exclusive microphone stream, cuts it into chunks
// with an [audio.Encoder], feeds an audio level meter, and watches the
// readings with a [silence.Detector]. When the speaker falls silent the
// owner flushes the session and gets back the buffered [audio.Segment].
//
// Session methods are not safe for concurrent use: they are called from a
// single owner goroutine, which also receives the session's [Event] values
// through a [Sink] and hands them to [Session.Handle]. Every event carries
// the generation it was produced under; events from an older generation are
// ignored, so audio or readings that arrive after a pause, flush, or cancel
// never leak into the next segment.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxmemo/voxmemo/internal/fault"
	"github.com/voxmemo/voxmemo/internal/observe"
	"github.com/voxmemo/voxmemo/internal/voice/level"
	"github.com/voxmemo/voxmemo/internal/voice/silence"
	"github.com/voxmemo/voxmemo/pkg/audio"
)

// State is the listening state of a Session.
type State int

const (
	Idle State = iota
	Acquiring
	Recording
	Paused
	Processing
)

var stateNames = [...]string{"idle", "acquiring", "recording", "paused", "processing"}

// String returns the lowercase state name.
func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Defaults applied by [Config.applyDefaults].
const (
	DefaultMinChunks = 2
	// DefaultDegradedMaxSegment bounds recording when no level meter is
	// available and therefore no silence can be detected.
	DefaultDegradedMaxSegment = 30 * time.Second
	ringSize                  = 8192
)

// Config tunes a Session. Zero values select the defaults.
type Config struct {
	// Format is the chunk format. Default 16 kHz mono.
	Format audio.Format

	// ChunkInterval is the audio length of one chunk.
	ChunkInterval time.Duration

	// MinChunks is the fewest chunks a segment needs before silence ends it.
	MinChunks int

	// MaxSegment, when positive, ends a segment after that much audio even
	// without silence.
	MaxSegment time.Duration

	// DegradedMaxSegment replaces a zero MaxSegment while no level meter runs.
	DegradedMaxSegment time.Duration
}

func (c *Config) applyDefaults() {
	if !c.Format.Valid() {
		c.Format = audio.Format{SampleRate: 16000, Channels: 1}
	}
	if c.ChunkInterval <= 0 {
		c.ChunkInterval = audio.DefaultChunkInterval
	}
	if c.MinChunks <= 0 {
		c.MinChunks = DefaultMinChunks
	}
	if c.DegradedMaxSegment <= 0 {
		c.DegradedMaxSegment = DefaultDegradedMaxSegment
	}
}

// Meter produces level readings from a sample source. [*level.Analyzer]
// implements it.
type Meter interface {
	Start(src audio.Sampler, fn func(level.Reading)) error
	Stop()
}

var _ Meter = (*level.Analyzer)(nil)

// Option is a functional option for a [Session].
type Option func(*Session)

// WithMeter sets the level meter. Without one the session runs degraded.
func WithMeter(m Meter) Option {
	return func(s *Session) { s.meter = m }
}

// WithDetector sets the silence detector. Defaults to
// silence.New(silence.DefaultThreshold).
func WithDetector(d *silence.Detector) Option {
	return func(s *Session) { s.det = d }
}

// WithClock sets the time source for durations reported by Snapshot.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// Session is one microphone capture lifecycle, reusable across segments.
type Session struct {
	mic     audio.Microphone
	sink    Sink
	meter   Meter
	det     *silence.Detector
	cfg     Config
	now     func() time.Time
	metrics *observe.Metrics

	// mu orders generation changes against encoder writes in the pump.
	mu  sync.Mutex
	gen uint64

	state    State
	id       string
	cancelAq context.CancelFunc
	// released is closed once the last acquisition's stream has been closed
	// or its open failed.
	released chan struct{}
	stream   audio.Stream
	enc      *audio.Encoder
	ring     *audio.Ring
	seg      audio.Segment
	degraded bool
	since    time.Time
	reading  level.Reading
}

// New returns an idle Session that opens mic and posts events to sink.
func New(mic audio.Microphone, sink Sink, cfg Config, opts ...Option) *Session {
	cfg.applyDefaults()
	s := &Session{
		mic:  mic,
		sink: sink,
		cfg:  cfg,
		now:  time.Now,
		ring: audio.NewRing(ringSize),
	}
	for _, o := range opts {
		o(s)
	}
	if s.det == nil {
		s.det = silence.New(silence.DefaultThreshold)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.det.Suspend()
	return s
}

// State returns the current listening state.
func (s *Session) State() State { return s.state }

// ID returns the identifier of the current recording, or "" before the
// first Start.
func (s *Session) ID() string { return s.id }

// Holding reports whether the session holds a microphone stream or encoder.
func (s *Session) Holding() bool { return s.stream != nil || s.enc != nil }

// Degraded reports whether the current recording runs without a level meter.
func (s *Session) Degraded() bool { return s.degraded }

// Detector returns the silence detector so the owner can retune it.
func (s *Session) Detector() *silence.Detector { return s.det }

// SetMaxSegment changes the forced segment length.
func (s *Session) SetMaxSegment(d time.Duration) { s.cfg.MaxSegment = d }

func (s *Session) bump() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	return s.gen
}

// Start begins acquiring the microphone. The result arrives as an
// [Acquired] event. Start is valid from Idle and Processing. The device is
// not opened until a cancelled earlier acquisition has let go of it.
func (s *Session) Start(ctx context.Context) error {
	if s.state != Idle && s.state != Processing {
		return fmt.Errorf("capture: start while %s", s.state)
	}
	gen := s.bump()
	actx, cancel := context.WithCancel(ctx)
	s.cancelAq = cancel
	s.state = Acquiring
	s.id = uuid.NewString()

	prev := s.released
	s.released = make(chan struct{})
	go s.acquire(actx, gen, prev, s.released)
	return nil
}

func (s *Session) acquire(ctx context.Context, gen uint64, prev <-chan struct{}, released chan struct{}) {
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			// Nothing was opened, but the earlier hold may still be live.
			go func() {
				<-prev
				close(released)
			}()
			s.sink.Post(Acquired{Gen: gen, Err: ctx.Err()})
			return
		}
	}
	st, err := s.mic.Open(ctx)
	if err != nil {
		close(released)
		s.sink.Post(Acquired{Gen: gen, Err: err})
		return
	}
	st = &releasing{Stream: st, released: released}
	if ctx.Err() != nil {
		_ = st.Close()
		s.sink.Post(Acquired{Gen: gen, Err: ctx.Err()})
		return
	}
	if !s.sink.Post(Acquired{Gen: gen, Stream: st}) {
		_ = st.Close()
	}
}

// releasing closes released after the wrapped stream is closed.
type releasing struct {
	audio.Stream
	once     sync.Once
	released chan struct{}
	err      error
}

func (r *releasing) Close() error {
	r.once.Do(func() {
		r.err = r.Stream.Close()
		close(r.released)
	})
	return r.err
}

// Handle applies an event from the session's goroutines. A Failed outcome
// comes with a [*fault.Error].
func (s *Session) Handle(ev Event) (Outcome, error) {
	if ev.generation() != s.gen {
		if a, ok := ev.(Acquired); ok && a.Stream != nil {
			_ = a.Stream.Close()
		}
		return Ignored, nil
	}
	switch ev := ev.(type) {
	case Acquired:
		return s.acquired(ev)
	case ChunkReady:
		if s.state != Recording {
			return Ignored, nil
		}
		s.seg.Append(ev.Chunk)
		if limit := s.maxSegment(); limit > 0 && s.seg.Duration() >= limit {
			return s.segmentReady("max_segment"), nil
		}
		return Updated, nil
	case LevelReading:
		if s.state != Recording {
			return Ignored, nil
		}
		s.reading = ev.Reading
		if s.det.Observe(ev.Reading.Speaking, ev.Reading.At) {
			return s.segmentReady("silence"), nil
		}
		return Updated, nil
	case StreamFailed:
		if s.state != Recording && s.state != Paused {
			return Ignored, nil
		}
		slog.Error("capture stream failed", "session", s.id, "err", ev.Err)
		s.teardown()
		s.state = Idle
		return Failed, fault.New(fault.EncoderError, ev.Err)
	}
	return Ignored, nil
}

func (s *Session) acquired(ev Acquired) (Outcome, error) {
	if s.state != Acquiring {
		if ev.Stream != nil {
			_ = ev.Stream.Close()
		}
		return Ignored, nil
	}
	s.cancelAq()
	s.cancelAq = nil
	s.metrics.RecordMicAcquisition(context.Background(), ev.Err)

	if ev.Err != nil {
		s.state = Idle
		slog.Warn("microphone unavailable", "session", s.id, "err", ev.Err)
		return Failed, fault.New(fault.DeviceUnavailable, ev.Err)
	}

	enc, err := audio.NewEncoder(s.cfg.Format, s.cfg.ChunkInterval)
	if err != nil {
		_ = ev.Stream.Close()
		s.state = Idle
		return Failed, fault.New(fault.EncoderError, err)
	}

	s.stream = ev.Stream
	s.enc = enc
	s.seg.Reset()
	s.ring.Reset()
	s.since = s.now()
	s.reading = level.Reading{}
	s.metrics.ActiveCaptures.Add(context.Background(), 1)
	s.state = Recording
	s.det.Resume()
	s.startMeter(s.gen)
	go s.pump(ev.Stream, enc)

	slog.Info("recording started",
		"session", s.id,
		"format", ev.Stream.Format(),
		"degraded", s.degraded,
	)
	return Started, nil
}

// pump moves frames from the device into the encoder and level ring until
// the stream ends.
func (s *Session) pump(st audio.Stream, enc *audio.Encoder) {
	// The device keeps producing until teardown closes it.
	defer audio.Drain(st.Frames())

	for f := range st.Frames() {
		s.ring.Write(f)

		s.mu.Lock()
		gen := s.gen
		chunks, err := enc.Write(f)
		s.mu.Unlock()

		if errors.Is(err, audio.ErrEncoderStopped) {
			return
		}
		if err != nil {
			s.sink.Post(StreamFailed{Gen: gen, Err: err})
			return
		}
		for _, c := range chunks {
			if !s.sink.Post(ChunkReady{Gen: gen, Chunk: c}) {
				return
			}
		}
	}
	if err := st.Err(); err != nil {
		s.mu.Lock()
		gen := s.gen
		s.mu.Unlock()
		s.sink.Post(StreamFailed{Gen: gen, Err: err})
	}
}

func (s *Session) startMeter(gen uint64) {
	s.degraded = false
	if s.meter == nil {
		s.degraded = true
		return
	}
	err := s.meter.Start(s.ring, func(r level.Reading) {
		s.sink.TryPost(LevelReading{Gen: gen, Reading: r})
	})
	if err != nil {
		slog.Warn("level meter unavailable, recording without auto-stop", "session", s.id, "err", err)
		s.degraded = true
	}
}

func (s *Session) stopMeter() {
	if s.meter != nil {
		s.meter.Stop()
	}
}

func (s *Session) maxSegment() time.Duration {
	if s.cfg.MaxSegment > 0 {
		return s.cfg.MaxSegment
	}
	if s.degraded {
		return s.cfg.DegradedMaxSegment
	}
	return 0
}

func (s *Session) segmentReady(reason string) Outcome {
	if s.seg.Len() < s.cfg.MinChunks {
		slog.Debug("segment end ignored, too few chunks",
			"session", s.id,
			"reason", reason,
			"chunks", s.seg.Len(),
		)
		return Updated
	}
	slog.Debug("segment ready", "session", s.id, "reason", reason, "chunks", s.seg.Len())
	return SegmentReady
}

// Pause suspends recording while the assistant speaks. Buffered audio is
// discarded; the microphone stays open.
func (s *Session) Pause() {
	if s.state != Recording {
		return
	}
	s.mu.Lock()
	s.gen++
	s.enc.Pause()
	s.mu.Unlock()

	s.stopMeter()
	s.det.Suspend()
	s.seg.Reset()
	s.ring.Reset()
	s.reading = level.Reading{}
	s.state = Paused
	slog.Debug("recording paused", "session", s.id)
}

// Resume continues recording on the same microphone stream.
func (s *Session) Resume() {
	if s.state != Paused {
		return
	}
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.enc.Resume()
	s.mu.Unlock()

	s.ring.Reset()
	s.det.Resume()
	s.state = Recording
	s.startMeter(gen)
	slog.Debug("recording resumed", "session", s.id)
}

// Flush stops recording, releases the microphone, and returns the buffered
// segment. The session moves to Processing until [Session.Finish].
func (s *Session) Flush() (audio.Segment, error) {
	if s.state != Recording && s.state != Paused {
		return audio.Segment{}, fmt.Errorf("capture: flush while %s", s.state)
	}
	if tail, ok := s.enc.Stop(); ok && s.state == Recording {
		s.seg.Append(tail)
	}
	seg := s.seg.Take()
	s.teardown()
	s.state = Processing
	slog.Debug("recording flushed",
		"session", s.id,
		"chunks", seg.Len(),
		"bytes", seg.Size(),
		"duration", seg.Duration(),
	)
	return seg, nil
}

// Finish marks processing of the flushed segment complete.
func (s *Session) Finish() {
	if s.state == Processing {
		s.state = Idle
	}
}

// Cancel stops any capture and discards buffered audio. It is idempotent.
// A stream still being opened is closed as soon as the open returns.
func (s *Session) Cancel() {
	switch s.state {
	case Acquiring:
		s.bump()
		if s.cancelAq != nil {
			s.cancelAq()
			s.cancelAq = nil
		}
	case Recording, Paused:
		s.teardown()
	}
	s.seg.Reset()
	s.state = Idle
}

// teardown releases the stream and encoder exactly once.
func (s *Session) teardown() {
	s.bump()
	s.stopMeter()
	s.det.Suspend()
	if s.enc != nil {
		s.enc.Stop()
		s.enc = nil
	}
	if s.stream != nil {
		if err := s.stream.Close(); err != nil {
			slog.Warn("closing microphone stream", "session", s.id, "err", err)
		}
		s.stream = nil
		s.metrics.ActiveCaptures.Add(context.Background(), -1)
	}
	s.seg.Reset()
	s.ring.Reset()
	s.reading = level.Reading{}
	s.degraded = false
}

// Snapshot is a point-in-time view of a Session for status displays.
type Snapshot struct {
	State     State
	Level     float64
	Speaking  bool
	Chunks    int
	Bytes     int
	Countdown time.Duration
	Listening time.Duration
	Degraded  bool
}

// Snapshot returns the session's current indicators.
func (s *Session) Snapshot() Snapshot {
	now := s.now()
	snap := Snapshot{
		State:    s.state,
		Level:    s.reading.Level,
		Speaking: s.reading.Speaking,
		Chunks:   s.seg.Len(),
		Bytes:    s.seg.Size(),
		Degraded: s.degraded,
	}
	if s.state == Recording || s.state == Paused {
		snap.Listening = now.Sub(s.since)
	}
	if s.state == Recording {
		if left, ok := s.det.Countdown(s.reading.At); ok {
			snap.Countdown = left
		}
	}
	return snap
}
