package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// AdaptiveConfig bounds how far the adaptive wrapper may tune the base
// breaker's failure threshold and reset timeout.
type AdaptiveConfig struct {
	// MinFailureThreshold is the most sensitive threshold allowed.
	// Default: 0.2
	MinFailureThreshold float64

	// MaxFailureThreshold is the most tolerant threshold allowed.
	// Default: 0.8
	MaxFailureThreshold float64

	// ThresholdStep is the per-adjustment nudge applied to the threshold.
	// Default: 0.02
	ThresholdStep float64

	// MinResetTimeout is the shortest reset timeout allowed.
	// Default: 5 seconds
	MinResetTimeout time.Duration

	// MaxResetTimeout is the longest reset timeout allowed.
	// Default: 5 minutes
	MaxResetTimeout time.Duration

	// TimeoutFactor scales the reset timeout up after failed trial bursts
	// and back down under sustained health.
	// Default: 1.5
	TimeoutFactor float64

	// HealthyStreak is the number of consecutive successes that counts as
	// sustained good health.
	// Default: 10
	HealthyStreak int
}

// HealthMetrics summarizes recent breaker behavior. It is derived and
// informational only: it tunes adaptive parameters but is never
// authoritative over the circuit state.
type HealthMetrics struct {
	// HealthScore is a 0-100 blend of recent failure rate and streaks.
	HealthScore float64

	ConsecutiveSuccesses int
	ConsecutiveFailures  int
	FailureRate          float64
	AvgResponseTime      time.Duration

	// TripCount is the number of closed-to-open transitions observed.
	TripCount uint64
}

// AdaptiveBreaker layers health scoring and threshold tuning on top of a
// CircuitBreaker without changing its state machine. Construct it before the
// base breaker handles traffic; it chains the base's state-change callback.
type AdaptiveBreaker struct {
	base   *CircuitBreaker
	config AdaptiveConfig

	mu          sync.Mutex
	health      HealthMetrics
	respEWMA    float64 // milliseconds
	trialBursts int     // consecutive half-open episodes that failed
}

// NewAdaptiveBreaker wraps base with adaptive control.
func NewAdaptiveBreaker(base *CircuitBreaker, config AdaptiveConfig) *AdaptiveBreaker {
	// Apply defaults
	if config.MinFailureThreshold <= 0 {
		config.MinFailureThreshold = 0.2
	}
	if config.MaxFailureThreshold <= 0 || config.MaxFailureThreshold > 1 {
		config.MaxFailureThreshold = 0.8
	}
	if config.ThresholdStep <= 0 {
		config.ThresholdStep = 0.02
	}
	if config.MinResetTimeout <= 0 {
		config.MinResetTimeout = 5 * time.Second
	}
	if config.MaxResetTimeout <= 0 {
		config.MaxResetTimeout = 5 * time.Minute
	}
	if config.TimeoutFactor <= 1 {
		config.TimeoutFactor = 1.5
	}
	if config.HealthyStreak <= 0 {
		config.HealthyStreak = 10
	}

	ab := &AdaptiveBreaker{base: base, config: config}

	prev := base.config.OnStateChange
	base.config.OnStateChange = func(from, to State) {
		ab.onTransition(from, to)
		if prev != nil {
			prev(from, to)
		}
	}

	return ab
}

// Base returns the wrapped circuit breaker.
func (ab *AdaptiveBreaker) Base() *CircuitBreaker {
	return ab.base
}

// Execute runs the operation through the base breaker and feeds the outcome
// into the adaptive control loop. Circuit-open rejections are returned
// verbatim and recorded nowhere, same as the base contract.
func (ab *AdaptiveBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	start := time.Now()
	err := ab.base.Execute(ctx, op)
	if errors.Is(err, ErrCircuitOpen) {
		return err
	}
	ab.observe(err, time.Since(start))
	return err
}

// Health returns the current derived health metrics.
func (ab *AdaptiveBreaker) Health() HealthMetrics {
	stats := ab.base.Stats()

	ab.mu.Lock()
	defer ab.mu.Unlock()

	h := ab.health
	h.FailureRate = stats.FailureRate
	h.TripCount = stats.Trips
	return h
}

func (ab *AdaptiveBreaker) observe(err error, elapsed time.Duration) {
	failed := ab.base.config.IsFailure(err)
	stats := ab.base.Stats()

	ab.mu.Lock()

	if failed {
		ab.health.ConsecutiveFailures++
		ab.health.ConsecutiveSuccesses = 0
	} else {
		ab.health.ConsecutiveSuccesses++
		ab.health.ConsecutiveFailures = 0
	}

	ms := float64(elapsed) / float64(time.Millisecond)
	if ab.respEWMA == 0 {
		ab.respEWMA = ms
	} else {
		ab.respEWMA = 0.8*ab.respEWMA + 0.2*ms
	}
	ab.health.AvgResponseTime = time.Duration(ab.respEWMA * float64(time.Millisecond))
	ab.health.FailureRate = stats.FailureRate

	// Health score: failure rate dominates, streaks shift it up or down.
	score := (1 - stats.FailureRate) * 70
	score += clamp(float64(ab.health.ConsecutiveSuccesses)*3, 0, 30)
	score -= clamp(float64(ab.health.ConsecutiveFailures)*7, 0, 70)
	ab.health.HealthScore = clamp(score, 0, 100)

	sustainedHealth := ab.health.ConsecutiveSuccesses >= ab.config.HealthyStreak
	ab.mu.Unlock()

	ab.tune(failed, sustainedHealth)
}

// tune nudges the base breaker's threshold and timeout within bounds.
// Sustained good health lowers the threshold (trip sooner, dependency can
// afford it) and shortens the reset timeout; trouble raises the threshold.
func (ab *AdaptiveBreaker) tune(failed, sustainedHealth bool) {
	threshold, reset := ab.base.tunables()

	switch {
	case sustainedHealth:
		threshold = clamp(threshold-ab.config.ThresholdStep,
			ab.config.MinFailureThreshold, ab.config.MaxFailureThreshold)
		reset = clampDuration(
			time.Duration(float64(reset)/ab.config.TimeoutFactor),
			ab.config.MinResetTimeout, ab.config.MaxResetTimeout)
	case failed:
		threshold = clamp(threshold+ab.config.ThresholdStep,
			ab.config.MinFailureThreshold, ab.config.MaxFailureThreshold)
	default:
		return
	}

	ab.base.setTunables(threshold, reset)
}

// onTransition tracks trips and failed trial bursts from the base breaker's
// state machine.
func (ab *AdaptiveBreaker) onTransition(from, to State) {
	ab.mu.Lock()
	switch {
	case from == StateHalfOpen && to == StateOpen:
		ab.trialBursts++
		if ab.trialBursts >= 2 {
			// Repeated failed probes: back off harder before the
			// next episode.
			threshold, reset := ab.base.tunables()
			reset = clampDuration(
				time.Duration(float64(reset)*ab.config.TimeoutFactor),
				ab.config.MinResetTimeout, ab.config.MaxResetTimeout)
			ab.mu.Unlock()
			ab.base.setTunables(threshold, reset)
			return
		}
	case to == StateClosed:
		ab.trialBursts = 0
	}
	ab.mu.Unlock()
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
