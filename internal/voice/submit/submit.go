// Package submit sends finished speech segments for transcription and
// decides whether the returned text should reach the user.
//
// A [Submitter] enforces three guards before any network traffic: the
// segment must be large enough, it must not be byte-identical to the last
// submission, and no other submission may be in flight. After transcription
// the text passes an acceptance filter that rejects empty results, text
// typical of captured system or media audio, and repeats of the previously
// accepted transcript.
package submit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/antzucaro/matchr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"

	"github.com/voxmemo/voxmemo/internal/fault"
	"github.com/voxmemo/voxmemo/internal/observe"
	"github.com/voxmemo/voxmemo/pkg/audio"
	"github.com/voxmemo/voxmemo/pkg/provider/stt"
)

// ErrBusy is returned by [Submitter.Submit] while another submission is in
// flight.
var ErrBusy = errors.New("submit: submission already in flight")

// Defaults applied by [Config.applyDefaults].
const (
	DefaultMinSegmentBytes     = 1024
	DefaultDuplicateCooldown   = 3 * time.Second
	DefaultDuplicateSimilarity = 1.0
	UploadFilename             = "recording.wav"
)

// DefaultSuspiciousPhrases are fragments that show up when a microphone picks
// up video outros or UI sounds instead of the user.
var DefaultSuspiciousPhrases = []string{
	"thank you for watching",
	"subscribe",
	"like and subscribe",
	"click the bell",
	"notification",
	"system",
	"error",
	"loading",
}

// Config holds the submission policy. Zero values select the defaults.
type Config struct {
	// MinSegmentBytes is the smallest segment payload worth uploading.
	MinSegmentBytes int

	// DuplicateCooldown is how long an accepted transcript suppresses an
	// identical one.
	DuplicateCooldown time.Duration

	// DuplicateSimilarity is the Jaro-Winkler score at or above which two
	// transcripts count as the same. 1.0 means exact match only.
	DuplicateSimilarity float64

	// SuspiciousPhrases replaces [DefaultSuspiciousPhrases] when non-nil.
	// Matching is case-insensitive substring.
	SuspiciousPhrases []string

	// RequestTimeout bounds a single transcription request. Zero means no
	// limit beyond the caller's context.
	RequestTimeout time.Duration

	// Language is an optional hint forwarded to the transcriber.
	Language string
}

func (c *Config) applyDefaults() {
	if c.MinSegmentBytes <= 0 {
		c.MinSegmentBytes = DefaultMinSegmentBytes
	}
	if c.DuplicateCooldown <= 0 {
		c.DuplicateCooldown = DefaultDuplicateCooldown
	}
	if c.DuplicateSimilarity <= 0 || c.DuplicateSimilarity > 1 {
		c.DuplicateSimilarity = DefaultDuplicateSimilarity
	}
	if c.SuspiciousPhrases == nil {
		c.SuspiciousPhrases = DefaultSuspiciousPhrases
	}
	phrases := make([]string, 0, len(c.SuspiciousPhrases))
	for _, p := range c.SuspiciousPhrases {
		if p = normalize(p); p != "" {
			phrases = append(phrases, p)
		}
	}
	c.SuspiciousPhrases = phrases
}

// record is the last accepted transcript.
type record struct {
	text string
	at   time.Time
	set  bool
}

// Option is a functional option for a [Submitter].
type Option func(*Submitter)

// WithClock sets the time source used for the duplicate cooldown.
func WithClock(now func() time.Time) Option {
	return func(s *Submitter) { s.now = now }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Submitter) { s.metrics = m }
}

// WithProviderName sets the provider label used on metrics and spans.
func WithProviderName(name string) Option {
	return func(s *Submitter) { s.provider = name }
}

// Submitter uploads segments and filters transcripts. It is safe for
// concurrent use, though at most one Submit runs at a time.
type Submitter struct {
	tr       stt.Transcriber
	provider string
	metrics  *observe.Metrics
	now      func() time.Time
	inflight *semaphore.Weighted

	mu      sync.Mutex
	cfg     Config
	rec     record
	lastSig string
}

// New returns a Submitter that transcribes through tr.
func New(tr stt.Transcriber, cfg Config, opts ...Option) *Submitter {
	cfg.applyDefaults()
	s := &Submitter{
		tr:       tr,
		provider: "default",
		now:      time.Now,
		inflight: semaphore.NewWeighted(1),
		cfg:      cfg,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Config returns the effective policy.
func (s *Submitter) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// SetConfig replaces the policy. The acceptance record is kept.
func (s *Submitter) SetConfig(cfg Config) {
	cfg.applyDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

// Busy reports whether a submission is in flight.
func (s *Submitter) Busy() bool {
	if !s.inflight.TryAcquire(1) {
		return true
	}
	s.inflight.Release(1)
	return false
}

// Reset forgets the last accepted transcript and the last submitted audio.
func (s *Submitter) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = record{}
	s.lastSig = ""
}

// Submit transcribes seg and returns the accepted text. Rejections are
// returned as a [*fault.Error]; cancellation of ctx is returned as ctx's
// error.
func (s *Submitter) Submit(ctx context.Context, seg audio.Segment) (string, error) {
	cfg := s.Config()

	if seg.Size() < cfg.MinSegmentBytes {
		s.metrics.RecordSegment(ctx, fault.TooSmall.String())
		return "", fault.Newf(fault.TooSmall, "segment of %d bytes below minimum %d", seg.Size(), cfg.MinSegmentBytes)
	}

	if !s.inflight.TryAcquire(1) {
		return "", ErrBusy
	}
	defer s.inflight.Release(1)

	sig := seg.Signature()
	s.mu.Lock()
	repeat := sig != "" && sig == s.lastSig
	if !repeat {
		s.lastSig = sig
	}
	s.mu.Unlock()
	if repeat {
		s.metrics.RecordSegment(ctx, fault.Duplicate.String())
		return "", fault.Newf(fault.Duplicate, "segment %s already submitted", sig)
	}

	text, err := s.transcribe(ctx, cfg, seg)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		s.metrics.RecordSegment(ctx, fault.NetworkFailure.String())
		return "", fault.New(fault.NetworkFailure, err)
	}

	text, err = s.accept(text)
	outcome := "accepted"
	if err != nil {
		outcome = fault.KindOf(err).String()
	}
	s.metrics.RecordSegment(ctx, outcome)
	return text, err
}

func (s *Submitter) transcribe(ctx context.Context, cfg Config, seg audio.Segment) (string, error) {
	ctx, span := observe.StartSpan(ctx, "voice.transcribe")
	defer span.End()
	span.SetAttributes(
		attribute.String("provider", s.provider),
		attribute.Int("segment.bytes", seg.Size()),
		attribute.Int("segment.chunks", seg.Len()),
		attribute.String("segment.signature", seg.Signature()),
	)

	if cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.RequestTimeout)
		defer cancel()
	}

	up := stt.Upload{
		Filename:    UploadFilename,
		ContentType: audio.MIMEWAV,
		Data:        seg.WAV(),
		Duration:    seg.Duration(),
		Language:    cfg.Language,
	}

	start := time.Now()
	res, err := s.tr.Transcribe(ctx, up)
	elapsed := time.Since(start)
	s.metrics.RecordTranscription(ctx, s.provider, elapsed, err)
	s.metrics.SegmentDuration.Record(ctx, seg.Duration().Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("submit: transcribe: %w", err)
	}
	observe.Logger(ctx).Debug("segment transcribed",
		"provider", res.Provider,
		"latency", elapsed,
		"chars", len(res.Text),
	)
	return res.Text, nil
}

// accept runs the acceptance filter. On success it records the transcript
// and returns the raw text.
func (s *Submitter) accept(text string) (string, error) {
	norm := normalize(text)
	if norm == "" {
		return "", fault.Newf(fault.NoSpeech, "empty transcript")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.cfg.SuspiciousPhrases {
		if strings.Contains(norm, p) {
			slog.Warn("suspicious transcript rejected", "phrase", p)
			return "", fault.Newf(fault.SuspiciousAudio, "transcript contains %q", p)
		}
	}

	now := s.now()
	if s.rec.set && now.Sub(s.rec.at) < s.cfg.DuplicateCooldown && s.similar(norm, s.rec.text) {
		return "", fault.Newf(fault.Duplicate, "transcript repeated within %s", s.cfg.DuplicateCooldown)
	}

	s.rec = record{text: norm, at: now, set: true}
	return text, nil
}

// similar reports whether a and b count as the same transcript. Callers hold s.mu.
func (s *Submitter) similar(a, b string) bool {
	if a == b {
		return true
	}
	if s.cfg.DuplicateSimilarity >= 1 {
		return false
	}
	return matchr.JaroWinkler(a, b, false) >= s.cfg.DuplicateSimilarity
}

// normalize lowercases text, trims it, and collapses internal whitespace.
func normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
