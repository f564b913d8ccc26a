package resilience

import "time"

// DefaultCircuitBreakerConfig provides balanced settings for most
// dependencies.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 0.5,
		RequestThreshold: 10,
		ResetTimeout:     30 * time.Second,
		MonitoringWindow: 60 * time.Second,
		HalfOpenTrials:   3,
	}
}

// AggressiveCircuitBreakerConfig trips fast and probes often, for
// dependencies where fast failure detection matters more than stability.
func AggressiveCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 0.3,
		RequestThreshold: 5,
		ResetTimeout:     10 * time.Second,
		MonitoringWindow: 30 * time.Second,
		HalfOpenTrials:   2,
	}
}

// ConservativeCircuitBreakerConfig tolerates more failures before tripping,
// for dependencies where transient noise is expected.
func ConservativeCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 0.6,
		RequestThreshold: 20,
		ResetTimeout:     60 * time.Second,
		MonitoringWindow: 3 * time.Minute,
		HalfOpenTrials:   5,
	}
}

// DefaultRetryConfig provides a short exponential schedule with jitter.
func DefaultRetryConfig(name string) RetryConfig {
	return RetryConfig{
		Name:         name,
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Strategy:     BackoffExponential,
		Jitter:       0.2,
	}
}

// DefaultAdvancedRetryConfig layers a per-minute budget and adaptive
// backoff on the default schedule.
func DefaultAdvancedRetryConfig(name string) AdvancedRetryConfig {
	return AdvancedRetryConfig{
		Retry:             DefaultRetryConfig(name),
		RetryBudget:       20,
		BudgetWindow:      time.Minute,
		AdaptiveBackoff:   true,
		AdaptiveThreshold: 0.7,
	}
}
