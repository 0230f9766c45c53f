// Command voxmemo is the voice-capture daemon. It records the user's
// microphone, cuts the feed into utterances on silence, transcribes them,
// and hands accepted transcripts to the host application over a local
// WebSocket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voxmemo/voxmemo/internal/app"
	"github.com/voxmemo/voxmemo/internal/config"
	"github.com/voxmemo/voxmemo/internal/observe"
	"github.com/voxmemo/voxmemo/internal/resilience"
	"github.com/voxmemo/voxmemo/pkg/audio"
	"github.com/voxmemo/voxmemo/pkg/audio/ffmpeg"
	"github.com/voxmemo/voxmemo/pkg/provider/stt"
	"github.com/voxmemo/voxmemo/pkg/provider/stt/backend"
	oastt "github.com/voxmemo/voxmemo/pkg/provider/stt/openai"
	"github.com/voxmemo/voxmemo/pkg/provider/stt/whisper"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "voxmemo.yaml", "path to the YAML configuration file")
	watchInterval := flag.Duration("watch", 5*time.Second, "config file polling interval (0 disables hot reload)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxmemo: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxmemo: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("voxmemo starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"transcriber", cfg.Providers.Transcriber.Name,
		"fallbacks", len(cfg.Providers.Fallbacks),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	application, err := app.New(cfg, providers, app.WithLevelVar(level))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	if *watchInterval > 0 {
		w, err := config.NewWatcher(*configPath, application.ApplyConfig, config.WithInterval(*watchInterval))
		if err != nil {
			slog.Error("failed to watch config", "err", err)
			return 1
		}
		defer w.Stop()

		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-hup:
					w.Reload()
				}
			}
		}()
	}

	slog.Info("voxmemo ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// registerBuiltinProviders wires the transcriber and microphone
// implementations that ship with voxmemo into reg.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	reg.RegisterTranscriber("backend", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		opts := []backend.Option{
			backend.WithPath(entry.OptionString("path", "")),
		}
		switch {
		case cfg.Auth.TokenFile != "":
			opts = append(opts, backend.WithTokenSource(backend.FileToken(cfg.Auth.TokenFile)))
		case cfg.Auth.Token != "":
			opts = append(opts, backend.WithTokenSource(backend.StaticToken(cfg.Auth.Token)))
		}
		return backend.New(entry.BaseURL, opts...)
	})

	reg.RegisterTranscriber("openai", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []oastt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(entry.BaseURL))
		}
		if org := entry.OptionString("organization", ""); org != "" {
			opts = append(opts, oastt.WithOrganization(org))
		}
		return oastt.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterTranscriber("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterMicrophone("ffmpeg", func(entry config.ProviderEntry) (audio.Microphone, error) {
		return ffmpeg.New(
			ffmpeg.WithCommand(entry.OptionString("command", "")),
			ffmpeg.WithInput(entry.OptionString("input_format", ""), entry.OptionString("input_device", "")),
			ffmpeg.WithFormat(audio.Format{SampleRate: cfg.Voice.SampleRate, Channels: cfg.Voice.Channels}),
		), nil
	})
}

// buildProviders creates the transcriber failover chain and the microphone.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	fb := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.Resilience.MaxFailures,
			ResetTimeout: cfg.Resilience.ResetTimeout,
			HalfOpenMax:  cfg.Resilience.HalfOpenMax,
		},
	}

	primary := cfg.Providers.Transcriber
	tr, err := reg.CreateTranscriber(primary)
	if err != nil {
		return nil, err
	}
	chain := resilience.NewTranscriber(tr, primary.Name, fb)
	slog.Info("provider created", "kind", "transcriber", "name", primary.Name)

	for i, entry := range cfg.Providers.Fallbacks {
		tr, err := reg.CreateTranscriber(entry)
		if err != nil {
			return nil, fmt.Errorf("providers.fallbacks[%d]: %w", i, err)
		}
		chain.AddFallback(fmt.Sprintf("%s#%d", entry.Name, i+1), tr)
		slog.Info("provider created", "kind", "transcriber", "name", entry.Name, "fallback", i+1)
	}

	mic, err := reg.CreateMicrophone(cfg.Providers.Microphone)
	if err != nil {
		return nil, err
	}
	slog.Info("provider created", "kind", "microphone", "name", cfg.Providers.Microphone.Name)

	return &app.Providers{Transcriber: chain, Microphone: mic}, nil
}
