// Package app wires the voxmemo subsystems into a running daemon.
//
// New builds the capture pipeline, the host API and the probes from a
// [config.Config] and the providers created by main. Run serves HTTP and
// drives the voice controller until its context ends. ApplyConfig takes a
// hot-reloaded config and pushes the live-tunable fields into the pipeline.
package app

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/voxmemo/voxmemo/internal/config"
	"github.com/voxmemo/voxmemo/internal/fault"
	"github.com/voxmemo/voxmemo/internal/health"
	"github.com/voxmemo/voxmemo/internal/hostapi"
	"github.com/voxmemo/voxmemo/internal/observe"
	"github.com/voxmemo/voxmemo/internal/voice"
	"github.com/voxmemo/voxmemo/internal/voice/capture"
	"github.com/voxmemo/voxmemo/internal/voice/level"
	"github.com/voxmemo/voxmemo/internal/voice/submit"
	"github.com/voxmemo/voxmemo/pkg/audio"
	"github.com/voxmemo/voxmemo/pkg/provider/stt"
)

// shutdownTimeout bounds the HTTP server drain once Run's context ends.
const shutdownTimeout = 10 * time.Second

// Providers holds the external capabilities created by main through the
// config registry.
type Providers struct {
	// Transcriber is the full failover chain.
	Transcriber stt.Transcriber

	// Microphone is the raw device. App adds the exclusivity guard.
	Microphone audio.Microphone
}

// App owns the pipeline and the HTTP server.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	levelVar  *slog.LevelVar
	listener  net.Listener

	mic        *audio.Exclusive
	analyzer   *level.Analyzer
	submitter  *submit.Submitter
	controller *voice.Controller
	hub        *hostapi.Hub
	handler    http.Handler
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets ApplyConfig change the log level of the handler built
// around lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = lv }
}

// WithListener makes Run serve on l instead of listening on
// server.listen_addr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// New creates an App. It does not start capture; the host enables voice
// input over the control channel.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Transcriber == nil || providers.Microphone == nil {
		return nil, errors.New("app: a transcriber and a microphone are required")
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	v := cfg.Voice
	analyzer, err := level.New(level.Config{
		FFTSize:           v.FFTSize,
		Rate:              v.AnalysisRateHz,
		SpeakingThreshold: v.SpeakingThreshold,
	})
	if err != nil {
		// Capture still works; segments are cut by max length only.
		slog.Warn("level analyzer unavailable, recording without auto-stop", "err", err)
	} else {
		a.analyzer = analyzer
	}

	a.mic = audio.NewExclusive(providers.Microphone)
	a.submitter = submit.New(providers.Transcriber, submitConfig(v),
		submit.WithMetrics(a.metrics),
		submit.WithProviderName(cfg.Providers.Transcriber.Name),
	)
	a.hub = hostapi.NewHub(a.metrics)

	vopts := []voice.Option{
		voice.WithCallbacks(a.callbacks()),
		voice.WithMetrics(a.metrics),
	}
	if a.analyzer != nil {
		vopts = append(vopts, voice.WithMeter(a.analyzer))
	}
	a.controller = voice.New(a.mic, a.submitter, voice.Config{
		Capture: capture.Config{
			Format:        audio.Format{SampleRate: v.SampleRate, Channels: v.Channels},
			ChunkInterval: v.ChunkInterval,
			MinChunks:     v.MinChunks,
			MaxSegment:    v.MaxSegment,
		},
		SilenceThreshold: v.SilenceThreshold,
	}, vopts...)

	mux := http.NewServeMux()
	health.New(a.checkers()...).Register(mux)
	hostapi.NewServer(a.controller, a.hub).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	a.handler = observe.Middleware(a.metrics)(mux)

	return a, nil
}

// Controller returns the voice controller.
func (a *App) Controller() *voice.Controller { return a.controller }

// Handler returns the HTTP handler serving probes, metrics and the host API.
func (a *App) Handler() http.Handler { return a.handler }

// Run serves HTTP and drives the controller until ctx is cancelled or the
// server fails. The microphone is released before Run returns.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	if t := a.cfg.Server.TLS; t != nil {
		srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.controller.Run(gctx)
	})

	g.Go(func() error {
		ln := a.listener
		if ln == nil {
			var err error
			if ln, err = net.Listen("tcp", srv.Addr); err != nil {
				return fmt.Errorf("app: listen %s: %w", srv.Addr, err)
			}
		}
		slog.Info("http server listening", "addr", ln.Addr().String(), "tls", srv.TLSConfig != nil)
		var err error
		if t := a.cfg.Server.TLS; t != nil {
			err = srv.ServeTLS(ln, t.CertFile, t.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	err := g.Wait()
	if a.analyzer != nil {
		a.analyzer.Stop()
	}
	return err
}

func (a *App) callbacks() voice.Callbacks {
	cb := a.hub.Callbacks()
	broadcast := cb.OnTranscript
	cb.OnTranscript = func(text string) {
		slog.Info("transcript accepted", "chars", len(text))
		broadcast(text)
	}
	notify := cb.OnNotice
	cb.OnNotice = func(n fault.Notice) {
		slog.Warn("voice notice", "kind", n.Kind, "message", n.Message)
		notify(n)
	}
	return cb
}

// healthy is implemented by transcribers that track backend availability.
type healthy interface {
	Healthy() bool
}

func (a *App) checkers() []health.Checker {
	checks := []health.Checker{
		{
			Name: "transcriber",
			Check: func(context.Context) error {
				if h, ok := a.providers.Transcriber.(healthy); ok && !h.Healthy() {
					return errors.New("every transcriber circuit is open")
				}
				return nil
			},
		},
		{
			Name:     "microphone",
			Optional: true,
			Check: func(context.Context) error {
				st := a.controller.Status()
				if st.Enabled && st.State == voice.Idle && st.LastError != "" {
					return errors.New(st.LastError)
				}
				return nil
			},
		},
		{
			Name:     "analyzer",
			Optional: true,
			Check: func(context.Context) error {
				if a.analyzer == nil || a.controller.Status().Degraded {
					return level.ErrUnsupported
				}
				return nil
			},
		},
	}
	return checks
}

func submitConfig(v config.VoiceConfig) submit.Config {
	return submit.Config{
		MinSegmentBytes:     v.MinSegmentBytes,
		DuplicateCooldown:   v.DuplicateCooldown,
		DuplicateSimilarity: v.DuplicateSimilarity,
		SuspiciousPhrases:   v.SuspiciousPhrases,
		RequestTimeout:      v.RequestTimeout,
		Language:            v.Language,
	}
}
