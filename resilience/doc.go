// Package resilience wraps unreliable remote operations with coordinated
// defenses: failure isolation through circuit breaking and adaptive retry
// scheduling.
//
// # Patterns
//
// The package provides the following primitives:
//
//   - Circuit Breaker: tracks request outcomes inside a rolling monitoring
//     window and fast-fails once the failure rate crosses a threshold,
//     probing recovery with a small volume of trial requests.
//
//   - Adaptive Breaker: layers a 0-100 health score on a circuit breaker
//     and tunes its threshold and reset timeout within configured bounds,
//     without touching the state machine.
//
//   - Retry: re-invokes a fallible operation up to a bound with exponential,
//     linear, or fixed backoff, per-attempt timeouts, and per-error-type
//     schedule overrides driven by an external classifier.
//
//   - Advanced Retry: adds a windowed retry budget, circuit-breaker
//     coordination, and an adaptive delay multiplier on top of Retry.
//
// # Usage
//
// Each primitive can be used independently or composed:
//
//	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
//	    FailureThreshold: 0.5,
//	    RequestThreshold: 4,
//	    ResetTimeout:     30 * time.Second,
//	})
//
//	retry := resilience.NewRetry(resilience.RetryConfig{
//	    MaxRetries:   2,
//	    InitialDelay: 100 * time.Millisecond,
//	    Strategy:     resilience.BackoffExponential,
//	})
//
//	executor := resilience.NewExecutor(
//	    resilience.WithCircuitBreaker(cb),
//	    resilience.WithRetry(retry),
//	    resilience.WithAttemptTimeout(5*time.Second),
//	)
//
//	err := executor.Execute(ctx, func(ctx context.Context) error {
//	    return callRemoteService(ctx)
//	})
//
// Breaker and retry instances are owned by whoever constructs them,
// typically one per remote dependency. The recovery package holds
// non-owning references only, for inspection and reset.
package resilience
