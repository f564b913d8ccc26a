package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means the circuit is operating normally.
	StateClosed State = iota
	// StateOpen means the circuit is blocking all requests.
	StateOpen
	// StateHalfOpen means the circuit is testing if the dependency recovered.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker.
type CircuitBreakerConfig struct {
	// Name identifies the breaker in metrics and events.
	Name string

	// FailureThreshold is the failure rate in (0, 1] that opens the
	// circuit once RequestThreshold is met.
	// Default: 0.5
	FailureThreshold float64

	// RequestThreshold is the minimum number of outcomes inside the
	// monitoring window before the failure rate is evaluated.
	// Default: 10
	RequestThreshold int

	// ResetTimeout is how long the circuit stays open before admitting
	// trial requests.
	// Default: 30 seconds
	ResetTimeout time.Duration

	// MonitoringWindow bounds how far back outcomes count toward the
	// failure rate.
	// Default: 60 seconds
	MonitoringWindow time.Duration

	// HalfOpenTrials is the number of trial requests admitted in
	// half-open state; all must succeed to close the circuit.
	// Default: 1
	HalfOpenTrials int

	// MaxSamples bounds the outcome buffer.
	// Default: 512
	MaxSamples int

	// RecordCanceled counts context-cancelled attempts toward failure
	// statistics when true. Default false: a caller giving up says
	// nothing about dependency health.
	RecordCanceled bool

	// OnStateChange is called when the circuit state changes. Panics in
	// the callback are swallowed and never abort the calling operation.
	OnStateChange func(from, to State)

	// IsFailure determines if an error should count as a failure.
	// Default: all non-nil errors are failures.
	IsFailure func(err error) bool

	// Instruments records breaker activity when non-nil.
	Instruments *Instruments
}

// CircuitBreaker tracks rolling request outcomes for one dependency and
// fast-fails once the failure rate inside the monitoring window crosses the
// configured threshold.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu               sync.Mutex
	state            State
	window           *outcomeWindow
	failureThreshold float64       // adjustable by the adaptive wrapper
	resetTimeout     time.Duration // adjustable by the adaptive wrapper
	openedAt         time.Time
	openReason       string
	trialsAdmitted   int
	trialSuccesses   int
	trips            uint64

	now func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	// Apply defaults
	if config.FailureThreshold <= 0 || config.FailureThreshold > 1 {
		config.FailureThreshold = 0.5
	}
	if config.RequestThreshold <= 0 {
		config.RequestThreshold = 10
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	if config.MonitoringWindow <= 0 {
		config.MonitoringWindow = 60 * time.Second
	}
	if config.HalfOpenTrials <= 0 {
		config.HalfOpenTrials = 1
	}
	if config.IsFailure == nil {
		config.IsFailure = func(err error) bool { return err != nil }
	}

	return &CircuitBreaker{
		config:           config,
		state:            StateClosed,
		window:           newOutcomeWindow(config.MonitoringWindow, config.MaxSamples),
		failureThreshold: config.FailureThreshold,
		resetTimeout:     config.ResetTimeout,
		now:              time.Now,
	}
}

// Execute runs the operation through the circuit breaker. When the circuit
// is open and the reset timeout has not elapsed, it fails immediately with
// ErrCircuitOpen without invoking the operation or recording an outcome.
// Otherwise the operation's result is returned verbatim after its outcome
// has been recorded.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := cb.admit(ctx); err != nil {
		return err
	}

	err := op(ctx)
	cb.record(ctx, err)
	return err
}

// State returns the current circuit state. It is a pure read: an open
// circuit whose reset timeout has elapsed is reported as half-open, but the
// transition itself only happens on the next Execute call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the circuit closed and clears history and trial counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	oldState := cb.state
	cb.state = StateClosed
	cb.window.clear()
	cb.trialsAdmitted = 0
	cb.trialSuccesses = 0
	cb.openReason = ""
	cb.openedAt = time.Time{}
	cb.mu.Unlock()

	if oldState != StateClosed {
		cb.notify(oldState, StateClosed)
	}
}

// ForceOpen transitions the circuit to open immediately, regardless of
// recorded history.
func (cb *CircuitBreaker) ForceOpen(reason string) {
	cb.mu.Lock()
	oldState := cb.state
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.openReason = reason
	if oldState == StateClosed {
		cb.trips++
	}
	cb.mu.Unlock()

	if oldState != StateOpen {
		cb.notify(oldState, StateOpen)
	}
}

func (cb *CircuitBreaker) admit(ctx context.Context) error {
	cb.mu.Lock()

	now := cb.now()
	cb.window.prune(now)

	if cb.state == StateOpen {
		if now.Sub(cb.openedAt) < cb.resetTimeout {
			cb.mu.Unlock()
			cb.countRejection(ctx)
			return ErrCircuitOpen
		}
		// Reset timeout elapsed, start a trial episode.
		cb.state = StateHalfOpen
		cb.trialsAdmitted = 0
		cb.trialSuccesses = 0
		cb.mu.Unlock()
		cb.notify(StateOpen, StateHalfOpen)
		cb.mu.Lock()
	}

	if cb.state == StateHalfOpen {
		if cb.trialsAdmitted >= cb.config.HalfOpenTrials {
			cb.mu.Unlock()
			cb.countRejection(ctx)
			return ErrCircuitOpen
		}
		cb.trialsAdmitted++
	}

	cb.mu.Unlock()
	return nil
}

func (cb *CircuitBreaker) record(ctx context.Context, err error) {
	if err != nil && !cb.config.RecordCanceled && errors.Is(err, context.Canceled) {
		// A cancelled attempt is neither success nor failure; re-open
		// the trial slot so the episode is not consumed.
		cb.mu.Lock()
		if cb.state == StateHalfOpen && cb.trialsAdmitted > 0 {
			cb.trialsAdmitted--
		}
		cb.mu.Unlock()
		return
	}

	failed := cb.config.IsFailure(err)

	cb.mu.Lock()
	now := cb.now()
	cb.window.add(now, !failed)
	cb.window.prune(now)

	var from, to State
	switch cb.state {
	case StateClosed:
		// Evaluated after every outcome: a success that brings the
		// window up to the request threshold can still cross it.
		total, failures := cb.window.counts()
		if total >= cb.config.RequestThreshold {
			rate := float64(failures) / float64(total)
			if rate >= cb.failureThreshold {
				cb.state = StateOpen
				cb.openedAt = now
				cb.openReason = "failure rate threshold crossed"
				cb.trips++
				from, to = StateClosed, StateOpen
			}
		}

	case StateHalfOpen:
		if failed {
			// First trial failure re-opens the circuit immediately.
			cb.state = StateOpen
			cb.openedAt = now
			cb.openReason = "trial request failed"
			from, to = StateHalfOpen, StateOpen
		} else {
			cb.trialSuccesses++
			if cb.trialSuccesses >= cb.config.HalfOpenTrials {
				cb.state = StateClosed
				cb.window.clear()
				cb.openReason = ""
				from, to = StateHalfOpen, StateClosed
			}
		}
	}
	cb.mu.Unlock()

	if cb.config.Instruments != nil {
		cb.config.Instruments.recordExecution(ctx, cb.config.Name, failed)
	}
	if from != to {
		cb.notify(from, to)
	}
}

// notify invokes the state-change callback, swallowing panics so observer
// bugs never propagate into the execution path.
func (cb *CircuitBreaker) notify(from, to State) {
	if cb.config.Instruments != nil {
		cb.config.Instruments.recordTransition(context.Background(), cb.config.Name, from, to)
	}
	if cb.config.OnStateChange == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	cb.config.OnStateChange(from, to)
}

func (cb *CircuitBreaker) countRejection(ctx context.Context) {
	if cb.config.Instruments != nil {
		cb.config.Instruments.recordRejection(ctx, cb.config.Name, "circuit-open")
	}
}

// setTunables adjusts the failure threshold and reset timeout. Used by the
// adaptive wrapper; the state machine itself is untouched.
func (cb *CircuitBreaker) setTunables(threshold float64, reset time.Duration) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureThreshold = threshold
	cb.resetTimeout = reset
}

// tunables returns the current (possibly adapted) threshold and timeout.
func (cb *CircuitBreaker) tunables() (float64, time.Duration) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureThreshold, cb.resetTimeout
}

// CircuitBreakerStats is a point-in-time snapshot of breaker accounting.
type CircuitBreakerStats struct {
	State            State
	Requests         int
	Failures         int
	FailureRate      float64
	Trips            uint64
	OpenReason       string
	OpenedAt         time.Time
	TrialsAdmitted   int
	TrialSuccesses   int
	FailureThreshold float64
	ResetTimeout     time.Duration
}

// Stats returns current circuit breaker statistics. Like State, it never
// transitions state as a side effect.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	cb.window.prune(now)
	total, failures := cb.window.counts()

	state := cb.state
	if state == StateOpen && now.Sub(cb.openedAt) >= cb.resetTimeout {
		state = StateHalfOpen
	}

	rate := 0.0
	if total > 0 {
		rate = float64(failures) / float64(total)
	}

	return CircuitBreakerStats{
		State:            state,
		Requests:         total,
		Failures:         failures,
		FailureRate:      rate,
		Trips:            cb.trips,
		OpenReason:       cb.openReason,
		OpenedAt:         cb.openedAt,
		TrialsAdmitted:   cb.trialsAdmitted,
		TrialSuccesses:   cb.trialSuccesses,
		FailureThreshold: cb.failureThreshold,
		ResetTimeout:     cb.resetTimeout,
	}
}
