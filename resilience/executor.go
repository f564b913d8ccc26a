package resilience

import (
	"context"
	"time"
)

// Executor composes the resilience primitives around one operation. The
// breaker and retry policy stay independent, caller-owned values; the
// executor only decides nesting order.
type Executor struct {
	circuitBreaker *CircuitBreaker
	adaptive       *AdaptiveBreaker
	retry          *Retry
	advanced       *AdvancedRetry
	attemptTimeout time.Duration
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// NewExecutor creates a new resilience executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithCircuitBreaker guards the composed operation with cb.
func WithCircuitBreaker(cb *CircuitBreaker) ExecutorOption {
	return func(e *Executor) {
		e.circuitBreaker = cb
	}
}

// WithAdaptiveBreaker guards the composed operation with ab, replacing any
// plain breaker option.
func WithAdaptiveBreaker(ab *AdaptiveBreaker) ExecutorOption {
	return func(e *Executor) {
		e.adaptive = ab
	}
}

// WithRetry adds retry logic to the executor.
func WithRetry(r *Retry) ExecutorOption {
	return func(e *Executor) {
		e.retry = r
	}
}

// WithAdvancedRetry adds budgeted, adaptive retry logic, replacing any plain
// retry option.
func WithAdvancedRetry(ar *AdvancedRetry) ExecutorOption {
	return func(e *Executor) {
		e.advanced = ar
	}
}

// WithAttemptTimeout bounds each composed invocation.
func WithAttemptTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.attemptTimeout = d
	}
}

// Execute runs the operation through all configured patterns.
//
// The execution order is timeout (innermost), then retry, then circuit
// breaker (outermost), so one trip short-circuits a whole retry sequence.
func (e *Executor) Execute(ctx context.Context, op func(context.Context) error) error {
	execute := op

	if e.attemptTimeout > 0 {
		inner := execute
		timeout := e.attemptTimeout
		execute = func(ctx context.Context) error {
			tctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- inner(tctx)
			}()

			select {
			case err := <-done:
				return err
			case <-tctx.Done():
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return ErrAttemptTimeout
			}
		}
	}

	switch {
	case e.advanced != nil:
		inner := execute
		execute = func(ctx context.Context) error {
			return e.advanced.Execute(ctx, func(ctx context.Context, _ Attempt) error {
				return inner(ctx)
			})
		}
	case e.retry != nil:
		inner := execute
		execute = func(ctx context.Context) error {
			return e.retry.Execute(ctx, func(ctx context.Context, _ Attempt) error {
				return inner(ctx)
			})
		}
	}

	switch {
	case e.adaptive != nil:
		inner := execute
		execute = func(ctx context.Context) error {
			return e.adaptive.Execute(ctx, inner)
		}
	case e.circuitBreaker != nil:
		inner := execute
		execute = func(ctx context.Context) error {
			return e.circuitBreaker.Execute(ctx, inner)
		}
	}

	return execute(ctx)
}
