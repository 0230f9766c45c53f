package resilience

import (
	"context"

	"github.com/voxmemo/voxmemo/pkg/provider/stt"
)

// Transcriber is an [stt.Transcriber] that fails over across a [Chain] of
// backends. Rejected uploads are not retried elsewhere.
type Transcriber struct {
	chain *Chain[stt.Transcriber]
}

var _ stt.Transcriber = (*Transcriber)(nil)

// NewTranscriber returns a Transcriber preferring primary. cfg.Permanent
// defaults to [stt.Permanent].
func NewTranscriber(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *Transcriber {
	if cfg.Permanent == nil {
		cfg.Permanent = stt.Permanent
	}
	return &Transcriber{chain: NewChain(primaryName, primary, cfg)}
}

// AddFallback appends a backend.
func (t *Transcriber) AddFallback(name string, tr stt.Transcriber) {
	t.chain.Add(name, tr)
}

// Transcribe sends u to the first backend that accepts it. The returned
// Transcript.Provider names the member that answered when the backend left
// it empty.
func (t *Transcriber) Transcribe(ctx context.Context, u stt.Upload) (stt.Transcript, error) {
	return Do(ctx, t.chain, func(ctx context.Context, name string, tr stt.Transcriber) (stt.Transcript, error) {
		res, err := tr.Transcribe(ctx, u)
		if err == nil && res.Provider == "" {
			res.Provider = name
		}
		return res, err
	})
}

// Breakers returns the per-backend breakers in failover order.
func (t *Transcriber) Breakers() []*CircuitBreaker {
	return t.chain.Breakers()
}

// Healthy reports whether any backend's breaker is not open.
func (t *Transcriber) Healthy() bool {
	for _, b := range t.chain.Breakers() {
		if b.State() != StateOpen {
			return true
		}
	}
	return false
}
