package template

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultRetryAttempts  = 3
	DefaultRetryBaseDelay = time.Second
)

// RetryingGateway repeats operations that fail with a retryable error. The
// delay after attempt n is n times the base delay. Errors for which
// Retryable is false are returned on first occurrence.
type RetryingGateway struct {
	next     Gateway
	attempts int
	base     time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
	logger   zerolog.Logger
}

type RetryOption func(*RetryingGateway)

// WithMaxAttempts sets the total number of tries, first call included.
func WithMaxAttempts(n int) RetryOption {
	return func(g *RetryingGateway) {
		if n > 0 {
			g.attempts = n
		}
	}
}

func WithBaseDelay(d time.Duration) RetryOption {
	return func(g *RetryingGateway) {
		if d >= 0 {
			g.base = d
		}
	}
}

// WithSleep replaces the context-aware wait between attempts, for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) RetryOption {
	return func(g *RetryingGateway) { g.sleep = fn }
}

func WithRetryLogger(logger zerolog.Logger) RetryOption {
	return func(g *RetryingGateway) { g.logger = logger }
}

func NewRetryingGateway(next Gateway, opts ...RetryOption) *RetryingGateway {
	g := &RetryingGateway{
		next:     next,
		attempts: DefaultRetryAttempts,
		base:     DefaultRetryBaseDelay,
		sleep:    sleepContext,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func withRetry[T any](ctx context.Context, g *RetryingGateway, op string, fn func() (T, error)) (T, error) {
	var zero T
	for attempt := 1; ; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if attempt >= g.attempts || !Retryable(err) {
			return zero, err
		}
		delay := time.Duration(attempt) * g.base
		g.logger.Warn().
			Err(err).
			Str("op", op).
			Str("kind", string(KindOf(err))).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("retrying template operation")
		if serr := g.sleep(ctx, delay); serr != nil {
			return zero, err
		}
	}
}

func (g *RetryingGateway) List(ctx context.Context, ownerID uuid.UUID, f SearchFilters) (*ListResult, error) {
	return withRetry(ctx, g, "list", func() (*ListResult, error) {
		return g.next.List(ctx, ownerID, f)
	})
}

func (g *RetryingGateway) Get(ctx context.Context, id uuid.UUID) (*Template, error) {
	return withRetry(ctx, g, "get", func() (*Template, error) {
		return g.next.Get(ctx, id)
	})
}

func (g *RetryingGateway) Create(ctx context.Context, ownerID uuid.UUID, req CreateRequest) (*Template, error) {
	return withRetry(ctx, g, "create", func() (*Template, error) {
		return g.next.Create(ctx, ownerID, req)
	})
}

func (g *RetryingGateway) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (*Template, error) {
	return withRetry(ctx, g, "update", func() (*Template, error) {
		return g.next.Update(ctx, id, req)
	})
}

func (g *RetryingGateway) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := withRetry(ctx, g, "delete", func() (struct{}, error) {
		return struct{}{}, g.next.Delete(ctx, id)
	})
	return err
}

func (g *RetryingGateway) RecordUsage(ctx context.Context, id uuid.UUID) (*UsageResult, error) {
	return withRetry(ctx, g, "record_usage", func() (*UsageResult, error) {
		return g.next.RecordUsage(ctx, id)
	})
}

func (g *RetryingGateway) Stats(ctx context.Context, ownerID uuid.UUID) (*Stats, error) {
	return withRetry(ctx, g, "stats", func() (*Stats, error) {
		return g.next.Stats(ctx, ownerID)
	})
}
