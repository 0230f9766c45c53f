// Package level measures how loud the microphone currently is.
//
// The [Analyzer] samples the newest audio at a fixed rate, runs a windowed
// FFT, and maps the spectrum onto a 0-100 level the same way a browser
// AnalyserNode's byte frequency data does: magnitudes are smoothed over
// time, converted to decibels, scaled from [MinDecibels, MaxDecibels] onto
// 0-255, and averaged. A level above the speaking threshold counts as speech.
package level

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"sync"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"

	"github.com/voxmemo/voxmemo/pkg/audio"
)

// ErrUnsupported is returned when frequency analysis cannot run on the given
// input. Callers degrade to recording without level feedback.
var ErrUnsupported = errors.New("level: frequency analysis unsupported")

// Defaults mirror a browser AnalyserNode with fftSize 256.
const (
	DefaultFFTSize           = 256
	DefaultRate              = 60.0
	DefaultSmoothing         = 0.8
	DefaultMinDecibels       = -100.0
	DefaultMaxDecibels       = -30.0
	DefaultSpeakingThreshold = 15.0
)

// Config holds the analyser parameters. Zero fields take the defaults.
type Config struct {
	// FFTSize is the analysis window in samples. Must be a power of two in
	// [32, 32768].
	FFTSize int

	// Rate is the number of readings per second.
	Rate float64

	// Smoothing is the time constant in [0, 1) blending each frame's
	// magnitudes with the previous frame's.
	Smoothing float64

	// MinDecibels and MaxDecibels bound the dB range mapped onto 0-255.
	MinDecibels float64
	MaxDecibels float64

	// SpeakingThreshold is the level (0-100) above which a frame is speech.
	SpeakingThreshold float64
}

func (c *Config) applyDefaults() {
	if c.FFTSize == 0 {
		c.FFTSize = DefaultFFTSize
	}
	if c.Rate <= 0 {
		c.Rate = DefaultRate
	}
	if c.Smoothing == 0 {
		c.Smoothing = DefaultSmoothing
	}
	if c.MinDecibels == 0 && c.MaxDecibels == 0 {
		c.MinDecibels, c.MaxDecibels = DefaultMinDecibels, DefaultMaxDecibels
	}
	if c.SpeakingThreshold == 0 {
		c.SpeakingThreshold = DefaultSpeakingThreshold
	}
}

// Reading is one analysis result.
type Reading struct {
	// Level is the mean byte-scaled bin magnitude mapped to 0-100.
	Level float64

	// Speaking is Level > the speaking threshold.
	Speaking bool

	// At is when the reading was taken.
	At time.Time
}

// Option is a functional option for configuring an Analyzer.
type Option func(*Analyzer)

// WithClock sets the time source stamped on readings. Defaults to time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) { a.now = now }
}

// Analyzer computes audio levels. Measure may be called directly; Start runs
// it on a ticker. An Analyzer may be restarted after Stop.
type Analyzer struct {
	cfg Config
	now func() time.Time

	fft      *fourier.FFT
	samples  []float64
	coeffs   []complex128
	smoothed []float64

	mu   sync.Mutex
	run  *run
	last *run
}

// New validates cfg and returns an Analyzer.
func New(cfg Config, opts ...Option) (*Analyzer, error) {
	cfg.applyDefaults()
	if cfg.FFTSize < 32 || cfg.FFTSize > 32768 || bits.OnesCount(uint(cfg.FFTSize)) != 1 {
		return nil, fmt.Errorf("%w: fft size %d is not a power of two in [32, 32768]", ErrUnsupported, cfg.FFTSize)
	}
	if cfg.Smoothing < 0 || cfg.Smoothing >= 1 {
		return nil, fmt.Errorf("level: smoothing %v outside [0, 1)", cfg.Smoothing)
	}
	if cfg.MinDecibels >= cfg.MaxDecibels {
		return nil, fmt.Errorf("level: min decibels %v must be below max %v", cfg.MinDecibels, cfg.MaxDecibels)
	}
	a := &Analyzer{
		cfg:      cfg,
		now:      time.Now,
		fft:      fourier.NewFFT(cfg.FFTSize),
		samples:  make([]float64, cfg.FFTSize),
		coeffs:   make([]complex128, cfg.FFTSize/2+1),
		smoothed: make([]float64, cfg.FFTSize/2),
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Config returns the effective configuration.
func (a *Analyzer) Config() Config { return a.cfg }

// SetSpeakingThreshold changes the speech threshold for subsequent readings.
func (a *Analyzer) SetSpeakingThreshold(v float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if v > 0 {
		a.cfg.SpeakingThreshold = v
	}
}

// Measure takes one reading from src. Missing samples are treated as
// silence. Measure is not safe to call concurrently with a running Start.
func (a *Analyzer) Measure(src audio.Sampler) Reading {
	n := src.Latest(a.samples)
	for i := n; i < len(a.samples); i++ {
		a.samples[i] = 0
	}
	window.Blackman(a.samples)
	a.coeffs = a.fft.Coefficients(a.coeffs, a.samples)

	a.mu.Lock()
	threshold := a.cfg.SpeakingThreshold
	a.mu.Unlock()

	size := float64(a.cfg.FFTSize)
	span := a.cfg.MaxDecibels - a.cfg.MinDecibels
	tau := a.cfg.Smoothing
	var sum float64
	for k := range a.smoothed {
		mag := cmplxAbs(a.coeffs[k]) / size
		a.smoothed[k] = tau*a.smoothed[k] + (1-tau)*mag
		db := 20 * math.Log10(a.smoothed[k])
		b := math.Floor(255 / span * (db - a.cfg.MinDecibels))
		sum += min(max(b, 0), 255)
	}
	lvl := sum / float64(len(a.smoothed)) / 255 * 100
	return Reading{Level: lvl, Speaking: lvl > threshold, At: a.now()}
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}

// Reset clears the smoothing history.
func (a *Analyzer) Reset() {
	clear(a.smoothed)
}

type run struct {
	quit chan struct{}
	done chan struct{}
	once sync.Once
}

// Start begins taking readings from src at the configured rate and passes
// each to fn on an internal goroutine. fn must not block: [Analyzer.Stop]
// waits for it. Start on a running
// analyzer returns an error.
func (a *Analyzer) Start(src audio.Sampler, fn func(Reading)) error {
	if src == nil {
		return fmt.Errorf("%w: no sample source", ErrUnsupported)
	}
	a.mu.Lock()
	if a.run != nil {
		a.mu.Unlock()
		return errors.New("level: analyzer already running")
	}
	last := a.last
	a.mu.Unlock()
	// The previous run's goroutine shares the FFT buffers.
	if last != nil {
		<-last.done
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.run != nil {
		return errors.New("level: analyzer already running")
	}
	a.Reset()
	r := &run{quit: make(chan struct{}), done: make(chan struct{})}
	a.run = r
	a.last = r

	interval := time.Duration(float64(time.Second) / a.cfg.Rate)
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.quit:
				return
			case <-ticker.C:
				reading := a.Measure(src)
				select {
				case <-r.quit:
					return
				default:
				}
				fn(reading)
			}
		}
	}()
	return nil
}

// Stop halts readings and waits for a callback in progress to return, so fn
// is never called after Stop returns. fn must not call Stop. Stop on a
// stopped analyzer is a no-op.
func (a *Analyzer) Stop() {
	a.mu.Lock()
	r := a.run
	a.run = nil
	if r == nil {
		r = a.last
	}
	a.mu.Unlock()
	if r != nil {
		r.once.Do(func() { close(r.quit) })
		<-r.done
	}
}

// Running reports whether Start is active.
func (a *Analyzer) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.run != nil
}
