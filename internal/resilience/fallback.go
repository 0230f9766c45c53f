package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed wraps the last error once every member of a [Chain] has
// failed or been skipped.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures a [Chain].
type FallbackConfig struct {
	// CircuitBreaker is the template for each member's breaker. Name and
	// Answered are filled in per member.
	CircuitBreaker CircuitBreakerConfig

	// Permanent marks errors that end the walk: the next member would fail
	// the same way. They do not count against the member's breaker.
	Permanent func(error) bool
}

type member[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// Chain is an ordered list of interchangeable backends, each guarded by its
// own breaker. Members are added during setup, before the chain is shared.
type Chain[T any] struct {
	cfg     FallbackConfig
	members []member[T]
}

// NewChain returns a chain whose first member is primary.
func NewChain[T any](name string, primary T, cfg FallbackConfig) *Chain[T] {
	c := &Chain[T]{cfg: cfg}
	c.Add(name, primary)
	return c
}

// Add appends a member tried after all existing ones.
func (c *Chain[T]) Add(name string, value T) {
	bc := c.cfg.CircuitBreaker
	bc.Name = name
	bc.Answered = c.cfg.Permanent
	c.members = append(c.members, member[T]{name: name, value: value, breaker: NewCircuitBreaker(bc)})
}

// Breakers returns the member breakers in order.
func (c *Chain[T]) Breakers() []*CircuitBreaker {
	out := make([]*CircuitBreaker, 0, len(c.members))
	for _, m := range c.members {
		out = append(out, m.breaker)
	}
	return out
}

func (c *Chain[T]) permanent(err error) bool {
	return c.cfg.Permanent != nil && c.cfg.Permanent(err)
}

// Do calls fn on each member in turn and returns the first success.
//
// The walk stops early when ctx is done (ctx.Err is returned as is) or when
// a member's error is permanent (that error is returned as is). Members
// with an open breaker are skipped.
func Do[T, R any](ctx context.Context, c *Chain[T], fn func(context.Context, string, T) (R, error)) (R, error) {
	var zero R
	var last error
	for _, m := range c.members {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		var out R
		err := m.breaker.Execute(func() error {
			var err error
			out, err = fn(ctx, m.name, m.value)
			return err
		})
		switch {
		case err == nil:
			return out, nil
		case ctx.Err() != nil:
			return zero, ctx.Err()
		case c.permanent(err):
			return zero, err
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("resilience: circuit open, skipping", "provider", m.name)
		default:
			slog.Warn("resilience: provider failed", "provider", m.name, "err", err)
		}
		last = err
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, last)
}
