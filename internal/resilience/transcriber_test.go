package resilience_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/voxmemo/voxmemo/internal/resilience"
	"github.com/voxmemo/voxmemo/pkg/provider/stt"
	"github.com/voxmemo/voxmemo/pkg/provider/stt/mock"
)

var upload = stt.Upload{Filename: "recording.wav", ContentType: "audio/wav", Data: []byte{1, 2, 3}}

func TestTranscriber_PrimarySuccess(t *testing.T) {
	t.Parallel()
	primary := &mock.Transcriber{Result: stt.Transcript{Text: "primary"}}
	backup := &mock.Transcriber{Result: stt.Transcript{Text: "backup"}}

	tr := resilience.NewTranscriber(primary, "primary", resilience.FallbackConfig{})
	tr.AddFallback("backup", backup)

	got, err := tr.Transcribe(context.Background(), upload)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Text != "primary" {
		t.Errorf("Text = %q, want primary", got.Text)
	}
	if backup.CallCount() != 0 {
		t.Error("backup called although primary succeeded")
	}
}

func TestTranscriber_Failover(t *testing.T) {
	t.Parallel()
	primary := &mock.Transcriber{Err: errTest}
	backup := &mock.Transcriber{Result: stt.Transcript{Text: "backup"}}

	tr := resilience.NewTranscriber(primary, "primary", resilience.FallbackConfig{})
	tr.AddFallback("backup", backup)

	got, err := tr.Transcribe(context.Background(), upload)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Text != "backup" {
		t.Errorf("Text = %q, want backup", got.Text)
	}
	if string(backup.Calls[0].Upload.Data) != string(upload.Data) {
		t.Error("backup received a different upload")
	}
}

func TestTranscriber_AllFail(t *testing.T) {
	t.Parallel()
	tr := resilience.NewTranscriber(&mock.Transcriber{Err: errTest}, "a", resilience.FallbackConfig{})
	tr.AddFallback("b", &mock.Transcriber{Err: errTest})

	_, err := tr.Transcribe(context.Background(), upload)
	if !errors.Is(err, resilience.ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errTest) {
		t.Error("last error not wrapped")
	}
}

func TestTranscriber_OpenCircuitSkipsPrimary(t *testing.T) {
	t.Parallel()
	primary := &mock.Transcriber{Err: errTest}
	backup := &mock.Transcriber{Result: stt.Transcript{Text: "backup"}}
	tr := resilience.NewTranscriber(primary, "primary", resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	tr.AddFallback("backup", backup)

	_, _ = tr.Transcribe(context.Background(), upload)
	_, _ = tr.Transcribe(context.Background(), upload)

	if primary.CallCount() != 1 {
		t.Errorf("primary called %d times, want 1 (circuit open after first failure)", primary.CallCount())
	}
	if backup.CallCount() != 2 {
		t.Errorf("backup called %d times, want 2", backup.CallCount())
	}
	if !tr.Healthy() {
		t.Error("Healthy() = false while backup breaker is closed")
	}
}

func TestTranscriber_CancelStopsFailover(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	primary := &mock.Transcriber{Block: block}
	backup := &mock.Transcriber{Result: stt.Transcript{Text: "backup"}}
	tr := resilience.NewTranscriber(primary, "primary", resilience.FallbackConfig{})
	tr.AddFallback("backup", backup)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := tr.Transcribe(ctx, upload)
		done <- err
	}()
	for primary.CallCount() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Transcribe did not return after cancel")
	}
	if backup.CallCount() != 0 {
		t.Error("backup called after cancellation")
	}
	if tr.Breakers()[0].State() != resilience.StateClosed {
		t.Error("cancellation tripped the primary breaker")
	}
}

func TestTranscriber_RejectedUploadNotRetried(t *testing.T) {
	t.Parallel()
	rejected := fmt.Errorf("backend: HTTP 413: %w", stt.ErrRejected)
	primary := &mock.Transcriber{Err: rejected}
	backup := &mock.Transcriber{Result: stt.Transcript{Text: "backup"}}
	tr := resilience.NewTranscriber(primary, "primary", resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	tr.AddFallback("backup", backup)

	for range 3 {
		if _, err := tr.Transcribe(context.Background(), upload); !errors.Is(err, stt.ErrRejected) {
			t.Fatalf("err = %v, want ErrRejected", err)
		}
	}
	if backup.CallCount() != 0 {
		t.Errorf("backup called %d times for a rejected upload", backup.CallCount())
	}
	if got := tr.Breakers()[0].State(); got != resilience.StateClosed {
		t.Errorf("primary breaker = %v, want closed", got)
	}
}

func TestTranscriber_FillsProviderName(t *testing.T) {
	t.Parallel()
	tr := resilience.NewTranscriber(&mock.Transcriber{Err: errTest}, "backend", resilience.FallbackConfig{})
	tr.AddFallback("openai#0", &mock.Transcriber{Result: stt.Transcript{Text: "hi"}})
	tr.AddFallback("named", &mock.Transcriber{})

	got, err := tr.Transcribe(context.Background(), upload)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Provider != "openai#0" {
		t.Errorf("Provider = %q, want openai#0", got.Provider)
	}
}
