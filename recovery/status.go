package recovery

import "time"

// State is the recovery state of one registered service.
type State int

const (
	// StateHealthy means the service needs no recovery.
	StateHealthy State = iota
	// StateRecovering means a recovery attempt is in flight.
	StateRecovering
	// StateFailed means the last recovery attempt failed.
	StateFailed
	// StateDegraded means the service runs in reduced-functionality mode.
	StateDegraded
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateRecovering:
		return "recovering"
	case StateFailed:
		return "failed"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Strategy selects how a service is brought back to healthy.
type Strategy int

const (
	// StrategyImmediate resets the breaker and trusts the health check.
	StrategyImmediate Strategy = iota
	// StrategyGradual defers to the breaker's own probing before
	// declaring recovery.
	StrategyGradual
	// StrategyCoordinated is gradual recovery attempted only once every
	// dependency is confirmed healthy.
	StrategyCoordinated
	// StrategyManual refuses automatic recovery entirely.
	StrategyManual
)

// String returns the string representation of the strategy.
func (s Strategy) String() string {
	switch s {
	case StrategyImmediate:
		return "immediate"
	case StrategyGradual:
		return "gradual"
	case StrategyCoordinated:
		return "coordinated"
	case StrategyManual:
		return "manual"
	default:
		return "unknown"
	}
}

// Status tracks recovery progress for one service. It is created at
// registration and mutated only by the coordinator.
type Status struct {
	Service             string
	State               State
	Attempts            int
	LastAttempt         time.Time
	LastSuccess         time.Time
	LastFailure         time.Time
	DependenciesHealthy bool
}
