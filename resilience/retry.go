package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy defines how delays grow between retries.
type BackoffStrategy int

const (
	// BackoffExponential multiplies the delay by Multiplier each retry.
	BackoffExponential BackoffStrategy = iota
	// BackoffLinear adds Multiplier seconds per retry.
	BackoffLinear
	// BackoffFixed uses the initial delay for every retry.
	BackoffFixed
)

// Attempt describes one invocation inside a retry loop. It is transient:
// produced per attempt, handed to the operation, never retained.
type Attempt struct {
	// Index is the zero-based attempt number; 0 is the initial call.
	Index int

	// Delay is the backoff slept before this attempt (zero for the first).
	Delay time.Duration

	// Elapsed is total time since the retry loop started.
	Elapsed time.Duration

	// PreviousErr is the error from the preceding attempt, nil on the first.
	PreviousErr error
}

// Operation is a fallible call driven by a retry policy.
type Operation func(ctx context.Context, attempt Attempt) error

// TypeOverride replaces a subset of the base retry configuration for one
// classified error type. Nil fields keep the base value.
type TypeOverride struct {
	MaxRetries   *int
	InitialDelay *time.Duration
	MaxDelay     *time.Duration
	Multiplier   *float64
	Jitter       *float64
	Strategy     *BackoffStrategy
}

// RetryConfig configures the retry behavior.
type RetryConfig struct {
	// Name identifies the policy in metrics.
	Name string

	// MaxRetries is the number of retries after the initial attempt, so
	// the operation runs at most MaxRetries+1 times.
	// Default: 3
	MaxRetries int

	// InitialDelay is the base delay before the first retry.
	// Default: 100ms
	InitialDelay time.Duration

	// MaxDelay caps the pre-jitter delay.
	// Default: 30s
	MaxDelay time.Duration

	// Multiplier drives the exponential and linear strategies.
	// Default: 2.0
	Multiplier float64

	// Strategy is the backoff strategy.
	// Default: BackoffExponential
	Strategy BackoffStrategy

	// Jitter perturbs each delay by ±(Jitter × delay), drawn uniformly,
	// floored at zero. Range [0, 1].
	Jitter float64

	// RetryImmediately skips the delay before the first retry.
	RetryImmediately bool

	// AttemptTimeout bounds each attempt; a timed-out attempt fails with
	// ErrAttemptTimeout and is retried like any other failure.
	// Zero means unbounded.
	AttemptTimeout time.Duration

	// PerType overrides the schedule per classified error type.
	PerType map[string]TypeOverride

	// Classifier, when set, classifies each failure to pick the PerType
	// override, stop on non-retryable errors, and honor retry-after hints.
	Classifier Classifier

	// RetryIf determines if an error should trigger a retry.
	// Default: all non-nil errors trigger retry.
	RetryIf func(err error) bool

	// OnRetry is called before each retry attempt.
	OnRetry func(attempt Attempt)

	// Instruments records retry delays when non-nil.
	Instruments *Instruments
}

// Retry re-invokes a fallible operation up to a bound with a computed delay
// schedule.
type Retry struct {
	config RetryConfig

	// scale multiplies every computed delay; installed by AdvancedRetry.
	scale func() float64
}

// NewRetry creates a new retry policy.
func NewRetry(config RetryConfig) *Retry {
	// Apply defaults
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	if config.Jitter < 0 || config.Jitter > 1 {
		config.Jitter = 0
	}
	if config.RetryIf == nil {
		config.RetryIf = func(err error) bool { return err != nil }
	}

	return &Retry{config: config}
}

// Config returns the retry configuration.
func (r *Retry) Config() RetryConfig {
	return r.config
}

// Execute runs the operation with retry logic and no pre-classified error
// type.
func (r *Retry) Execute(ctx context.Context, op Operation) error {
	return r.ExecuteTyped(ctx, "", op)
}

// ExecuteTyped runs the operation with retry logic, applying the per-type
// override for errType when one is configured. It returns nil on the first
// success; once all attempts fail it returns an *ExhaustedError wrapping the
// last underlying error. Context cancellation pre-empts both the backoff
// sleep and the per-attempt timeout and is never retried.
func (r *Retry) ExecuteTyped(ctx context.Context, errType string, op Operation) error {
	bound := r.boundFor(errType)
	start := time.Now()
	callerTyped := errType != ""

	var lastErr error
	var retryAfter time.Duration

	for i := 0; i <= bound; i++ {
		var delay time.Duration
		if i > 0 {
			switch {
			case i == 1 && r.config.RetryImmediately:
				delay = 0
			case retryAfter > 0:
				delay = retryAfter
			default:
				delay = r.delayFor(i-1, errType)
			}

			a := Attempt{Index: i, Delay: delay, Elapsed: time.Since(start), PreviousErr: lastErr}
			if r.config.OnRetry != nil {
				r.config.OnRetry(a)
			}
			if r.config.Instruments != nil {
				r.config.Instruments.recordRetryDelay(ctx, r.config.Name, delay)
			}

			if delay > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(delay):
				}
			}
		}

		attempt := Attempt{Index: i, Delay: delay, Elapsed: time.Since(start), PreviousErr: lastErr}
		err := r.runAttempt(ctx, attempt, op)
		if err == nil {
			return nil
		}

		// Cancellation is terminal, never retried.
		if ctx.Err() != nil {
			return err
		}

		lastErr = err
		retryAfter = 0

		// Every failure is classified anew so a verdict can change
		// mid-loop, e.g. a throttled dependency turning permanent.
		if r.config.Classifier != nil && !callerTyped {
			c := r.config.Classifier.Classify(err)
			if !c.Retryable {
				return err
			}
			if c.Type != "" {
				errType = c.Type
				bound = r.boundFor(errType)
			}
			retryAfter = c.RetryAfter
		}

		if !r.config.RetryIf(err) {
			return err
		}
	}

	return &ExhaustedError{Attempts: bound + 1, Err: lastErr}
}

// runAttempt invokes op, bounded by the per-attempt timeout when one is
// configured. The operation runs in its own goroutine so a stuck call
// cannot outlive its deadline from the caller's point of view.
func (r *Retry) runAttempt(ctx context.Context, attempt Attempt, op Operation) error {
	if r.config.AttemptTimeout <= 0 {
		return op(ctx, attempt)
	}

	actx, cancel := context.WithTimeout(ctx, r.config.AttemptTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(actx, attempt)
	}()

	select {
	case err := <-done:
		return err
	case <-actx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrAttemptTimeout
	}
}

// CalculateDelay returns the delay before retry number attempt (zero-based),
// using the base configuration.
func (r *Retry) CalculateDelay(attempt int) time.Duration {
	return r.delayFor(attempt, "")
}

// boundFor resolves the retry bound for an error type.
func (r *Retry) boundFor(errType string) int {
	max := r.config.MaxRetries
	if o, ok := r.config.PerType[errType]; ok && o.MaxRetries != nil {
		max = *o.MaxRetries
	}
	return max
}

// delayFor computes the jittered delay before retry number attempt
// (zero-based), applying any per-type override first.
func (r *Retry) delayFor(attempt int, errType string) time.Duration {
	initial := r.config.InitialDelay
	maxDelay := r.config.MaxDelay
	multiplier := r.config.Multiplier
	jitter := r.config.Jitter
	strategy := r.config.Strategy

	if o, ok := r.config.PerType[errType]; ok {
		if o.InitialDelay != nil {
			initial = *o.InitialDelay
		}
		if o.MaxDelay != nil {
			maxDelay = *o.MaxDelay
		}
		if o.Multiplier != nil {
			multiplier = *o.Multiplier
		}
		if o.Jitter != nil {
			jitter = *o.Jitter
		}
		if o.Strategy != nil {
			strategy = *o.Strategy
		}
	}

	var delay time.Duration
	switch strategy {
	case BackoffFixed:
		delay = initial

	case BackoffLinear:
		delay = initial + time.Duration(multiplier*float64(attempt))*time.Second

	case BackoffExponential:
		delay = time.Duration(float64(initial) * math.Pow(multiplier, float64(attempt)))
	}

	// Cap before jitter
	if delay > maxDelay {
		delay = maxDelay
	}

	if r.scale != nil {
		delay = time.Duration(float64(delay) * r.scale())
	}

	if jitter > 0 && delay > 0 {
		// #nosec G404 -- jitter is non-cryptographic timing variance.
		offset := (rand.Float64()*2 - 1) * jitter * float64(delay)
		delay += time.Duration(offset)
	}

	if delay < 0 {
		delay = 0
	}
	return delay.Truncate(time.Millisecond)
}
