package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// AdvancedRetryConfig configures an AdvancedRetry.
type AdvancedRetryConfig struct {
	// Retry is the base policy configuration.
	Retry RetryConfig

	// RetryBudget caps retries per budget window, shared across all
	// callers of this instance. Zero disables the budget gate.
	RetryBudget int

	// BudgetWindow is the fixed bucket size for the retry budget.
	// Default: 1 minute
	BudgetWindow time.Duration

	// Breaker, when set together with CoordinateBreaker, nests the whole
	// attempt loop inside the breaker's Execute, so one trip
	// short-circuits the entire retry sequence.
	Breaker *CircuitBreaker

	// CoordinateBreaker enables circuit-breaker coordination.
	CoordinateBreaker bool

	// AdaptiveBackoff enables the adaptive delay multiplier.
	AdaptiveBackoff bool

	// AdaptiveThreshold is the rolling success rate below which delays
	// are stretched.
	// Default: 0.7
	AdaptiveThreshold float64

	// AdjustEvery is the completed-operation count that forces an
	// adjustment.
	// Default: 10
	AdjustEvery int

	// AdjustInterval is the wall-clock bound that forces an adjustment.
	// Default: 30 seconds
	AdjustInterval time.Duration
}

// AdaptiveBackoffState is the mutable adaptive-multiplier record, one per
// policy instance.
type AdaptiveBackoffState struct {
	SuccessCount   int
	FailureCount   int
	LastAdjustment time.Time

	// Multiplier scales every computed delay, clamped to [0.5, 2.0].
	Multiplier float64
}

// RetryMetrics is a snapshot of an AdvancedRetry's counters.
type RetryMetrics struct {
	TotalAttempts     uint64
	SuccessfulRetries uint64 // success on attempt > 0
	FailedRetries     uint64 // all attempts exhausted
	BudgetExhausted   uint64
	CircuitRejections uint64
	AvgDelay          time.Duration
	SuccessRate       float64
}

// AdvancedRetry composes a base Retry with three independent gates: a retry
// budget, circuit-breaker coordination, and an adaptive backoff multiplier.
// Each gate can reject before any attempt is made.
type AdvancedRetry struct {
	config AdvancedRetryConfig
	retry  *Retry
	budget *retryBudget

	mu       sync.Mutex
	adaptive AdaptiveBackoffState

	totalAttempts     uint64
	successfulRetries uint64
	failedRetries     uint64
	budgetExhausted   uint64
	circuitRejections uint64
	operations        uint64
	successes         uint64
	delaySum          time.Duration
	delayCount        uint64

	// rolling counters since the last adjustment
	rollingOps       int
	rollingSuccesses int

	now func() time.Time
}

// NewAdvancedRetry creates an advanced retry policy.
func NewAdvancedRetry(config AdvancedRetryConfig) *AdvancedRetry {
	// Apply defaults
	if config.BudgetWindow <= 0 {
		config.BudgetWindow = time.Minute
	}
	if config.AdaptiveThreshold <= 0 || config.AdaptiveThreshold > 1 {
		config.AdaptiveThreshold = 0.7
	}
	if config.AdjustEvery <= 0 {
		config.AdjustEvery = 10
	}
	if config.AdjustInterval <= 0 {
		config.AdjustInterval = 30 * time.Second
	}

	ar := &AdvancedRetry{
		config: config,
		retry:  NewRetry(config.Retry),
		now:    time.Now,
	}
	ar.adaptive = AdaptiveBackoffState{Multiplier: 1.0, LastAdjustment: ar.now()}

	if config.RetryBudget > 0 {
		ar.budget = newRetryBudget(config.RetryBudget, config.BudgetWindow)
	}
	if config.AdaptiveBackoff {
		ar.retry.scale = ar.multiplier
	}

	return ar
}

// Execute runs the operation through all configured gates and the base
// retry loop.
func (ar *AdvancedRetry) Execute(ctx context.Context, op Operation) error {
	return ar.ExecuteTyped(ctx, "", op)
}

// ExecuteTyped is Execute with a pre-classified error type. Budget
// exhaustion fails with ErrBudgetExhausted before any attempt; a tripped
// coordinated breaker fails with ErrCircuitOpen likewise.
func (ar *AdvancedRetry) ExecuteTyped(ctx context.Context, errType string, op Operation) error {
	if ar.budget != nil && !ar.budget.admit() {
		ar.mu.Lock()
		ar.budgetExhausted++
		ar.mu.Unlock()
		if ar.config.Retry.Instruments != nil {
			ar.config.Retry.Instruments.recordRejection(ctx, ar.config.Retry.Name, "budget-exhausted")
		}
		return ErrBudgetExhausted
	}

	// Attempts run in their own goroutine when a per-attempt timeout is
	// configured, and a timed-out attempt is abandoned mid-flight, so the
	// last observed index must be recorded atomically.
	var lastIndex atomic.Int64
	wrapped := func(ctx context.Context, attempt Attempt) error {
		lastIndex.Store(int64(attempt.Index))
		ar.mu.Lock()
		ar.totalAttempts++
		if attempt.Index > 0 {
			ar.delaySum += attempt.Delay
			ar.delayCount++
		}
		ar.mu.Unlock()
		if attempt.Index > 0 && ar.budget != nil {
			ar.budget.consume()
		}
		return op(ctx, attempt)
	}

	run := func(ctx context.Context) error {
		return ar.retry.ExecuteTyped(ctx, errType, wrapped)
	}

	var err error
	if ar.config.CoordinateBreaker && ar.config.Breaker != nil {
		err = ar.config.Breaker.Execute(ctx, run)
		if errors.Is(err, ErrCircuitOpen) {
			ar.mu.Lock()
			ar.circuitRejections++
			ar.mu.Unlock()
			return err
		}
	} else {
		err = run(ctx)
	}

	ar.finish(err, int(lastIndex.Load()))
	return err
}

// finish folds one completed operation into the metrics and the adaptive
// control loop.
func (ar *AdvancedRetry) finish(err error, lastIndex int) {
	ar.mu.Lock()
	defer ar.mu.Unlock()

	ar.operations++
	ar.rollingOps++

	if err == nil {
		ar.successes++
		ar.rollingSuccesses++
		if lastIndex > 0 {
			ar.successfulRetries++
		}
	} else if errors.Is(err, ErrMaxRetriesExceeded) {
		ar.failedRetries++
	}

	if !ar.config.AdaptiveBackoff {
		return
	}

	ar.adaptive.SuccessCount = ar.rollingSuccesses
	ar.adaptive.FailureCount = ar.rollingOps - ar.rollingSuccesses

	now := ar.now()
	if ar.rollingOps < ar.config.AdjustEvery &&
		now.Sub(ar.adaptive.LastAdjustment) < ar.config.AdjustInterval {
		return
	}
	if ar.rollingOps == 0 {
		return
	}

	rate := float64(ar.rollingSuccesses) / float64(ar.rollingOps)
	if rate < ar.config.AdaptiveThreshold {
		ar.adaptive.Multiplier *= 1.5
	} else {
		ar.adaptive.Multiplier *= 0.8
	}
	ar.adaptive.Multiplier = clamp(ar.adaptive.Multiplier, 0.5, 2.0)
	ar.adaptive.LastAdjustment = now
	ar.rollingOps = 0
	ar.rollingSuccesses = 0
	ar.adaptive.SuccessCount = 0
	ar.adaptive.FailureCount = 0
}

// multiplier returns the current adaptive delay multiplier.
func (ar *AdvancedRetry) multiplier() float64 {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	return ar.adaptive.Multiplier
}

// AdaptiveState returns the current adaptive backoff state.
func (ar *AdvancedRetry) AdaptiveState() AdaptiveBackoffState {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	return ar.adaptive
}

// Metrics returns a snapshot of the policy's counters.
func (ar *AdvancedRetry) Metrics() RetryMetrics {
	ar.mu.Lock()
	defer ar.mu.Unlock()

	m := RetryMetrics{
		TotalAttempts:     ar.totalAttempts,
		SuccessfulRetries: ar.successfulRetries,
		FailedRetries:     ar.failedRetries,
		BudgetExhausted:   ar.budgetExhausted,
		CircuitRejections: ar.circuitRejections,
	}
	if ar.delayCount > 0 {
		m.AvgDelay = ar.delaySum / time.Duration(ar.delayCount)
	}
	if ar.operations > 0 {
		m.SuccessRate = float64(ar.successes) / float64(ar.operations)
	}
	return m
}

// ResetMetrics zeroes all counters and restores the adaptive multiplier to
// its initial value. The recovery coordinator calls this after a service
// recovers.
func (ar *AdvancedRetry) ResetMetrics() {
	ar.mu.Lock()
	defer ar.mu.Unlock()

	ar.totalAttempts = 0
	ar.successfulRetries = 0
	ar.failedRetries = 0
	ar.budgetExhausted = 0
	ar.circuitRejections = 0
	ar.operations = 0
	ar.successes = 0
	ar.delaySum = 0
	ar.delayCount = 0
	ar.rollingOps = 0
	ar.rollingSuccesses = 0
	ar.adaptive = AdaptiveBackoffState{Multiplier: 1.0, LastAdjustment: ar.now()}
}

// Breaker returns the coordinated circuit breaker, if any.
func (ar *AdvancedRetry) Breaker() *CircuitBreaker {
	return ar.config.Breaker
}
