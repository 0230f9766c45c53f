// Package ffmpeg implements [audio.Microphone] by running an ffmpeg process
// that captures the system input device and writes signed 16-bit PCM to its
// standard output.
//
// Usage:
//
//	mic := ffmpeg.New(
//	    ffmpeg.WithInput("pulse", "default"),
//	    ffmpeg.WithFormat(audio.Format{SampleRate: 16000, Channels: 1}),
//	)
//	s, err := mic.Open(ctx)
//	for f := range s.Frames() { ... }
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/voxmemo/voxmemo/pkg/audio"
)

const (
	defaultCommand     = "ffmpeg"
	defaultInputFormat = "pulse"
	defaultInputDevice = "default"
	defaultFrameSize   = 20 * time.Millisecond

	// startupGrace is how long the process must survive before the device is
	// considered acquired.
	startupGrace = 250 * time.Millisecond

	// stopGrace is how long Close waits after an interrupt before killing.
	stopGrace = 1200 * time.Millisecond
)

// Compile-time assertion that Microphone implements audio.Microphone.
var _ audio.Microphone = (*Microphone)(nil)

// Option is a functional option for configuring a Microphone.
type Option func(*Microphone)

// WithCommand sets the ffmpeg binary path. Defaults to "ffmpeg" on PATH.
func WithCommand(cmd string) Option {
	return func(m *Microphone) {
		if cmd != "" {
			m.command = cmd
		}
	}
}

// WithInput sets ffmpeg's input demuxer and device, e.g. ("pulse", "default"),
// ("alsa", "hw:0"), ("avfoundation", ":0"), ("dshow", "audio=Microphone").
func WithInput(format, device string) Option {
	return func(m *Microphone) {
		if format != "" {
			m.inputFormat = format
		}
		if device != "" {
			m.inputDevice = device
		}
	}
}

// WithFormat sets the PCM format ffmpeg is asked to produce. Defaults to
// 16 kHz mono.
func WithFormat(f audio.Format) Option {
	return func(m *Microphone) {
		if f.Valid() {
			m.format = f
		}
	}
}

// WithFrameSize sets the duration of each delivered [audio.Frame]. Defaults
// to 20 ms.
func WithFrameSize(d time.Duration) Option {
	return func(m *Microphone) {
		if d > 0 {
			m.frameSize = d
		}
	}
}

// Microphone captures audio through an ffmpeg subprocess.
type Microphone struct {
	command     string
	inputFormat string
	inputDevice string
	format      audio.Format
	frameSize   time.Duration
}

// New returns a Microphone with the given options applied.
func New(opts ...Option) *Microphone {
	m := &Microphone{
		command:     defaultCommand,
		inputFormat: defaultInputFormat,
		inputDevice: defaultInputDevice,
		format:      audio.Format{SampleRate: 16000, Channels: 1},
		frameSize:   defaultFrameSize,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Microphone) args() []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", m.inputFormat,
		"-i", m.inputDevice,
		"-ac", strconv.Itoa(m.format.Channels),
		"-ar", strconv.Itoa(m.format.SampleRate),
		"-f", "s16le",
		"-",
	}
}

// Open implements [audio.Microphone]. It starts ffmpeg and waits a short
// grace period to catch immediate failures such as a missing device or a
// refused permission. The process is not bound to ctx once Open returns.
func (m *Microphone) Open(ctx context.Context) (audio.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %w", err)
	}

	cmd := exec.Command(m.command, m.args()...)
	stderr := &syncBuffer{}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("ffmpeg: %w: %v", audio.ErrNoDevice, err)
		}
		return nil, fmt.Errorf("ffmpeg: start: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	timer := time.NewTimer(startupGrace)
	defer timer.Stop()
	select {
	case err := <-waitErr:
		return nil, classify(err, stderr.String())
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-waitErr
		return nil, fmt.Errorf("ffmpeg: %w", ctx.Err())
	case <-timer.C:
	}

	s := &stream{
		format:    m.format,
		frameSize: frameBytes(m.format, m.frameSize),
		stdout:    stdout,
		stderr:    stderr,
		process:   cmd.Process,
		waitErr:   waitErr,
		frames:    make(chan audio.Frame, 64),
		done:      make(chan struct{}),
	}
	s.wg.Add(1)
	go s.readLoop()

	slog.Debug("ffmpeg microphone opened", "input", m.inputFormat, "device", m.inputDevice, "format", m.format)
	return s, nil
}

func frameBytes(f audio.Format, d time.Duration) int {
	n := int(int64(f.BytesPerSecond()) * int64(d) / int64(time.Second))
	align := f.Channels * audio.BytesPerSample
	n -= n % align
	return max(n, align)
}

// classify converts an early ffmpeg exit into one of the audio package's
// device errors when the diagnostic output makes the cause clear.
func classify(err error, diag string) error {
	diag = strings.TrimSpace(diag)
	lower := strings.ToLower(diag)
	switch {
	case strings.Contains(lower, "permission denied"), strings.Contains(lower, "not permitted"):
		return fmt.Errorf("ffmpeg: %w: %s", audio.ErrPermissionDenied, diag)
	case strings.Contains(lower, "no such file"), strings.Contains(lower, "no such device"),
		strings.Contains(lower, "cannot open audio device"), strings.Contains(lower, "connection refused"):
		return fmt.Errorf("ffmpeg: %w: %s", audio.ErrNoDevice, diag)
	case err != nil:
		return fmt.Errorf("ffmpeg: exited before capture started: %w: %s", err, diag)
	default:
		return errors.New("ffmpeg: exited before capture started")
	}
}

// ---- stream -----------------------------------------------------------------

type stream struct {
	format    audio.Format
	frameSize int
	stdout    io.ReadCloser
	stderr    *syncBuffer
	process   *os.Process
	waitErr   <-chan error

	frames chan audio.Frame
	done   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	err     error
	closing bool

	stopOnce sync.Once
	stopErr  error
}

func (s *stream) Frames() <-chan audio.Frame { return s.frames }
func (s *stream) Format() audio.Format       { return s.format }

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stream) readLoop() {
	defer s.wg.Done()
	defer close(s.frames)

	bytesPerSec := s.format.BytesPerSecond()
	var offset int64
	for {
		buf := make([]byte, s.frameSize)
		n, err := io.ReadFull(s.stdout, buf)
		if n > 0 {
			n -= n % (s.format.Channels * audio.BytesPerSample)
			f := audio.Frame{
				Data:       buf[:n],
				SampleRate: s.format.SampleRate,
				Channels:   s.format.Channels,
				Timestamp:  time.Duration(offset) * time.Second / time.Duration(bytesPerSec),
			}
			offset += int64(n)
			select {
			case s.frames <- f:
			case <-s.done:
				return
			}
		}
		if err != nil {
			s.mu.Lock()
			if !s.closing {
				s.err = fmt.Errorf("ffmpeg: capture ended: %w: %s", err, s.stderr.String())
			}
			s.mu.Unlock()
			return
		}
	}
}

// Close interrupts ffmpeg, escalating to kill after a grace period, and
// waits for the reader goroutine to exit.
func (s *stream) Close() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()
		close(s.done)

		_ = s.process.Signal(os.Interrupt)
		timer := time.NewTimer(stopGrace)
		defer timer.Stop()
		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = ignoreExit(err)
			}
		case <-timer.C:
			_ = s.process.Kill()
			if err, ok := <-s.waitErr; ok {
				s.stopErr = ignoreExit(err)
			}
		}
		if err := s.stdout.Close(); err != nil && !errors.Is(err, os.ErrClosed) && s.stopErr == nil {
			s.stopErr = err
		}
		s.wg.Wait()
		if s.stopErr != nil {
			s.stopErr = fmt.Errorf("ffmpeg: stop: %w", s.stopErr)
		}
	})
	return s.stopErr
}

// ignoreExit treats a non-zero exit status as a clean stop: ffmpeg exits with
// 255 when interrupted.
func ignoreExit(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// syncBuffer is a bytes.Buffer safe for the concurrent writes from exec and
// reads from error reporting.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(b.buf.String())
}
