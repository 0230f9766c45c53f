// Package voice coordinates the voice-capture pipeline.
//
// A [Controller] ties the capture session, silence detection, and
// transcription submission to the host's two inputs: whether voice input is
// enabled, and whether the assistant is currently speaking. All pipeline
// state is owned by a single event-loop goroutine started with
// [Controller.Run]; host signals, device results, analyzer readings, and
// network completions are all delivered to that loop as events.
package voice

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxmemo/voxmemo/internal/fault"
	"github.com/voxmemo/voxmemo/internal/observe"
	"github.com/voxmemo/voxmemo/internal/voice/capture"
	"github.com/voxmemo/voxmemo/internal/voice/silence"
	"github.com/voxmemo/voxmemo/pkg/audio"
)

// eventBuffer is the capacity of the loop's event queue. Analyzer readings
// are dropped rather than queued once it is full.
const eventBuffer = 64

// State is the controller's externally visible state.
type State int

const (
	Disabled State = iota
	Idle
	Listening
	AwaitingAssistant
	Processing
)

var stateNames = [...]string{"disabled", "idle", "listening", "awaiting_assistant", "processing"}

// String returns the snake_case state name.
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

// Submitter turns a flushed segment into accepted transcript text.
// [*submit.Submitter] implements it.
type Submitter interface {
	Submit(ctx context.Context, seg audio.Segment) (string, error)
	Reset()
}

// Callbacks receive pipeline output. They run on the controller's loop
// goroutine and must not block; host signals sent from inside a callback are
// queued and applied after it returns.
type Callbacks struct {
	// OnTranscript receives accepted transcript text.
	OnTranscript func(text string)

	// OnNotice receives user-visible failures.
	OnNotice func(n fault.Notice)

	// OnState receives the status whenever a coarse indicator changes.
	OnState func(s Status)

	// OnToggle reports a user-initiated enable or disable.
	OnToggle func(enabled bool)
}

// Config tunes a Controller.
type Config struct {
	Capture          capture.Config
	SilenceThreshold time.Duration
}

// Option is a functional option for a [Controller].
type Option func(*Controller)

// WithCallbacks sets the output callbacks.
func WithCallbacks(cb Callbacks) Option {
	return func(c *Controller) { c.cb = cb }
}

// WithMeter sets the audio level meter. Without one, capture runs degraded.
func WithMeter(m capture.Meter) Option {
	return func(c *Controller) { c.meter = m }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithClock sets the time source for status durations.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Host signals.
type (
	setEnabled  struct{ on bool }
	setSpeaking struct{ on bool }
	toggle      struct{ on bool }
	retry       struct{}
	tune        struct {
		silence    time.Duration
		maxSegment time.Duration
	}
	submitted struct {
		gen  uint64
		text string
		err  error
	}
)

// Controller is the voice session state machine.
type Controller struct {
	capture *capture.Session
	sub     Submitter
	cb      Callbacks
	meter   capture.Meter
	metrics *observe.Metrics
	now     func() time.Time

	events   chan any
	stopping chan struct{}
	status   atomic.Pointer[Status]

	// postMu guards closed; a capture event is never queued after Run
	// has drained the queue.
	postMu sync.RWMutex
	closed bool

	// Loop-owned state.
	ctx       context.Context
	state     State
	enabled   bool
	speaking  bool
	lastErr   string
	subGen    uint64
	subCancel context.CancelFunc
	// subDone is closed when the latest submission goroutine's Submit has
	// returned. A cancelled request may still be draining after a disable.
	subDone   chan struct{}
	published Status
}

// New returns a Controller capturing from mic and submitting through sub.
// Call [Controller.Run] to start it.
func New(mic audio.Microphone, sub Submitter, cfg Config, opts ...Option) *Controller {
	c := &Controller{
		sub:      sub,
		now:      time.Now,
		events:   make(chan any, eventBuffer),
		stopping: make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	copts := []capture.Option{
		capture.WithDetector(silence.New(cfg.SilenceThreshold)),
		capture.WithClock(c.now),
		capture.WithMetrics(c.metrics),
	}
	if c.meter != nil {
		copts = append(copts, capture.WithMeter(c.meter))
	}
	c.capture = capture.New(mic, c, cfg.Capture, copts...)
	c.status.Store(&Status{State: Disabled, Listening: capture.Idle})
	return c
}

// Run drives the controller until ctx is cancelled. On return the microphone
// is released and any in-flight submission is abandoned.
func (c *Controller) Run(ctx context.Context) error {
	c.ctx = ctx
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			c.drain()
			return nil
		case ev := <-c.events:
			c.handle(ev)
			c.publish()
		}
	}
}

// drain stops intake and releases any microphone stream still queued.
func (c *Controller) drain() {
	close(c.stopping)
	c.postMu.Lock()
	c.closed = true
	c.postMu.Unlock()
	for {
		select {
		case ev := <-c.events:
			if a, ok := ev.(capture.Acquired); ok && a.Stream != nil {
				_ = a.Stream.Close()
			}
		default:
			return
		}
	}
}

// Status returns the latest published status. Safe for concurrent use.
func (c *Controller) Status() Status {
	return *c.status.Load()
}

// SetEnabled turns voice input on or off. Enabling while already enabled
// restarts capture after a failure.
func (c *Controller) SetEnabled(on bool) { c.send(setEnabled{on: on}) }

// SetAssistantSpeaking tells the controller whether the assistant is
// currently producing speech. Capture is paused while it is.
func (c *Controller) SetAssistantSpeaking(on bool) { c.send(setSpeaking{on: on}) }

// Toggle is a user-initiated enable or disable. It behaves like SetEnabled
// and is reported through Callbacks.OnToggle.
func (c *Controller) Toggle(on bool) { c.send(toggle{on: on}) }

// Retry restarts capture after a device or encoder failure.
func (c *Controller) Retry() { c.send(retry{}) }

// Tune changes the silence threshold and forced segment length. A
// non-positive silenceThreshold or a negative maxSegment leaves that setting
// unchanged; a zero maxSegment disables the forced length.
func (c *Controller) Tune(silenceThreshold, maxSegment time.Duration) {
	c.send(tune{silence: silenceThreshold, maxSegment: maxSegment})
}

func (c *Controller) send(ev any) {
	select {
	case c.events <- ev:
	case <-c.stopping:
	}
}

// Post implements [capture.Sink]. It blocks while the queue is full and
// returns false once the controller has stopped.
func (c *Controller) Post(ev capture.Event) bool {
	c.postMu.RLock()
	defer c.postMu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.events <- ev:
		return true
	case <-c.stopping:
		return false
	}
}

// TryPost implements [capture.Sink].
func (c *Controller) TryPost(ev capture.Event) bool {
	c.postMu.RLock()
	defer c.postMu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.events <- ev:
		return true
	default:
		return false
	}
}

func (c *Controller) handle(ev any) {
	switch ev := ev.(type) {
	case setEnabled:
		c.applyEnabled(ev.on)
	case toggle:
		if c.cb.OnToggle != nil {
			c.cb.OnToggle(ev.on)
		}
		c.applyEnabled(ev.on)
	case setSpeaking:
		c.speaking = ev.on
		c.reconcile()
	case retry:
		if c.enabled && c.state == Idle {
			c.startCapture()
		}
	case tune:
		if ev.silence > 0 {
			c.capture.Detector().SetThreshold(ev.silence)
		}
		if ev.maxSegment >= 0 {
			c.capture.SetMaxSegment(ev.maxSegment)
		}
	case capture.Event:
		c.onCapture(ev)
	case submitted:
		c.onSubmitted(ev)
	default:
		slog.Warn("voice: unknown event", "type", ev)
	}
}

func (c *Controller) applyEnabled(on bool) {
	switch {
	case !on:
		c.enabled = false
		c.disable()
	case c.enabled && c.state == Idle:
		c.startCapture()
	default:
		c.enabled = true
		c.reconcile()
	}
}

// reconcile moves toward the state implied by the desired inputs. Inputs
// that change during Processing are applied when the submission completes.
func (c *Controller) reconcile() {
	switch c.state {
	case Disabled:
		if !c.enabled {
			return
		}
		c.setState(Idle)
		c.startCapture()

	case Listening:
		if c.speaking {
			c.capture.Pause()
			c.setState(AwaitingAssistant)
		}

	case AwaitingAssistant:
		if c.speaking {
			return
		}
		switch c.capture.State() {
		case capture.Paused:
			c.capture.Resume()
			c.setState(Listening)
		case capture.Acquiring, capture.Recording:
			c.setState(Listening)
		default:
			c.startCapture()
		}
	}
}

func (c *Controller) startCapture() {
	c.lastErr = ""
	if c.speaking {
		c.setState(AwaitingAssistant)
		return
	}
	if err := c.capture.Start(c.ctx); err != nil {
		slog.Error("voice: start capture", "err", err)
		c.setState(Idle)
		return
	}
	c.setState(Listening)
}

func (c *Controller) disable() {
	c.capture.Cancel()
	if c.subCancel != nil {
		c.subCancel()
		c.subCancel = nil
		c.subGen++
	}
	c.setState(Disabled)
}

func (c *Controller) shutdown() {
	c.enabled = false
	c.disable()
	c.sub.Reset()
	c.publish()
}

func (c *Controller) onCapture(ev capture.Event) {
	out, err := c.capture.Handle(ev)
	switch out {
	case capture.Started:
		if c.speaking {
			c.capture.Pause()
			c.setState(AwaitingAssistant)
		}
	case capture.SegmentReady:
		seg, err := c.capture.Flush()
		if err != nil {
			slog.Error("voice: flush", "err", err)
			c.setState(Idle)
			return
		}
		c.setState(Processing)
		c.submit(seg)
	case capture.Failed:
		c.report(err)
		c.setState(Idle)
	}
}

// submit transcribes seg in the background. The segment waits for any
// earlier request to finish so that only one is ever in flight.
func (c *Controller) submit(seg audio.Segment) {
	c.subGen++
	gen := c.subGen
	ctx, cancel := context.WithCancel(observe.WithCapture(c.ctx, c.capture.ID()))
	c.subCancel = cancel
	prev := c.subDone
	done := make(chan struct{})
	c.subDone = done
	go func() {
		text, err := c.submitAfter(ctx, prev, seg)
		close(done)
		c.send(submitted{gen: gen, text: text, err: err})
	}()
}

func (c *Controller) submitAfter(ctx context.Context, prev <-chan struct{}, seg audio.Segment) (string, error) {
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return c.sub.Submit(ctx, seg)
}

func (c *Controller) onSubmitted(ev submitted) {
	if ev.gen != c.subGen || c.state != Processing {
		slog.Debug("voice: discarding stale submission result")
		return
	}
	c.subCancel()
	c.subCancel = nil
	c.capture.Finish()

	if ev.err == nil {
		if c.cb.OnTranscript != nil {
			c.cb.OnTranscript(ev.text)
		}
	} else if !errors.Is(ev.err, context.Canceled) {
		c.report(ev.err)
	}

	if !c.enabled {
		c.setState(Disabled)
		return
	}
	c.startCapture()
}

// report logs err and forwards a notice when its kind is user-visible.
func (c *Controller) report(err error) {
	var fe *fault.Error
	if !errors.As(err, &fe) {
		slog.Error("voice: unclassified error", "err", err)
		c.lastErr = err.Error()
		return
	}
	n, visible := fe.Notice()
	if !visible {
		slog.Debug("voice: segment rejected", "kind", fe.Kind, "err", fe.Err)
		return
	}
	slog.Warn("voice: pipeline error", "kind", fe.Kind, "err", fe.Err)
	c.lastErr = n.Message
	if c.cb.OnNotice != nil {
		c.cb.OnNotice(n)
	}
}

func (c *Controller) setState(s State) {
	if c.state == s {
		return
	}
	slog.Debug("voice: state", "from", c.state, "to", s)
	c.metrics.RecordTransition(context.Background(), c.state.String(), s.String())
	c.state = s
}

// publish stores a fresh status and notifies OnState when a coarse
// indicator changed.
func (c *Controller) publish() {
	snap := c.capture.Snapshot()
	st := Status{
		State:             c.state,
		Listening:         snap.State,
		Enabled:           c.enabled,
		AssistantSpeaking: c.speaking,
		Level:             snap.Level,
		Speaking:          snap.Speaking,
		Chunks:            snap.Chunks,
		Countdown:         snap.Countdown,
		ListeningFor:      snap.Listening,
		Degraded:          snap.Degraded,
		LastError:         c.lastErr,
	}
	c.status.Store(&st)
	if st.coarse() != c.published.coarse() {
		c.published = st
		if c.cb.OnState != nil {
			c.cb.OnState(st)
		}
	}
}
