package recovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/semaphore"

	"github.com/jonwraymond/backstop/resilience"
)

// HealthCheck probes whether a service is actually usable again. It is
// caller-supplied and opaque; absence means "assume healthy".
type HealthCheck func(ctx context.Context) (bool, error)

// ServiceConfig registers one named service with the coordinator. Breaker
// and retry policy are non-owning references: the same instances stay on the
// business hot path, the coordinator only inspects and resets them.
type ServiceConfig struct {
	// Name is the unique service key.
	Name string

	// Breaker is the service's circuit breaker, if it has one.
	Breaker *resilience.CircuitBreaker

	// Retry is the service's retry policy, if it has one.
	Retry *resilience.AdvancedRetry

	// DependsOn lists direct dependencies that must be healthy before a
	// coordinated recovery proceeds.
	DependsOn []string

	// Strategy selects the recovery behavior.
	Strategy Strategy

	// HealthCheck validates recovery. Nil defaults to healthy.
	HealthCheck HealthCheck

	// Priority orders automatic sweeps, highest first.
	Priority int

	// MaxAttempts bounds automatic recovery attempts; once reached,
	// attempts are refused until a success resets the counter.
	// Default: 5
	MaxAttempts int
}

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	// MaxConcurrent caps recoveries in flight at once.
	// Default: 3
	MaxConcurrent int64

	// SweepInterval is the period of the automatic sweep loop started by
	// Start.
	// Default: 30 seconds
	SweepInterval time.Duration

	// MaxEvents caps the recovery event log.
	// Default: 256
	MaxEvents int

	// TrialSuccessThreshold is the recent trial success rate a half-open
	// breaker must show before gradual recovery declares success.
	// Default: 0.8
	TrialSuccessThreshold float64

	// Logger receives coordinator activity. Default: no-op.
	Logger Logger

	// Tracer wraps each recovery attempt in a span. Default: no-op.
	Tracer trace.Tracer

	// Degradation is notified (Recover only) after successful recovery.
	Degradation DegradationManager

	// OnEvent observes every recovery event. Panics are swallowed.
	OnEvent func(Event)

	// OnStateChange observes service state changes. Panics are swallowed.
	OnStateChange func(service string, from, to State)
}

// Coordinator centralizes recovery across named services, enforcing
// dependency order and bounded concurrency. It never executes business
// operations: it inspects and resets breaker and retry state and validates
// health via the caller-supplied probe.
type Coordinator struct {
	config CoordinatorConfig
	logger Logger
	tracer trace.Tracer
	sem    *semaphore.Weighted

	mu       sync.Mutex
	services map[string]ServiceConfig
	statuses map[string]*Status
	inflight map[string]struct{}
	log      *eventLog

	sweepStop chan struct{}
	sweepDone chan struct{}

	now func() time.Time
}

// NewCoordinator creates a recovery coordinator.
func NewCoordinator(config CoordinatorConfig) *Coordinator {
	// Apply defaults
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 3
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = 30 * time.Second
	}
	if config.TrialSuccessThreshold <= 0 || config.TrialSuccessThreshold > 1 {
		config.TrialSuccessThreshold = 0.8
	}
	if config.Logger == nil {
		config.Logger = nopLogger{}
	}
	if config.Tracer == nil {
		config.Tracer = tracenoop.NewTracerProvider().Tracer("backstop/recovery")
	}

	return &Coordinator{
		config:   config,
		logger:   config.Logger,
		tracer:   config.Tracer,
		sem:      semaphore.NewWeighted(config.MaxConcurrent),
		services: make(map[string]ServiceConfig),
		statuses: make(map[string]*Status),
		inflight: make(map[string]struct{}),
		log:      newEventLog(config.MaxEvents),
		now:      time.Now,
	}
}

// Register adds a service to the coordinator. The service starts healthy.
func (c *Coordinator) Register(sc ServiceConfig) error {
	if sc.Name == "" {
		return fmt.Errorf("recovery: service name is required")
	}
	if sc.MaxAttempts <= 0 {
		sc.MaxAttempts = 5
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.services[sc.Name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, sc.Name)
	}

	c.services[sc.Name] = sc
	c.statuses[sc.Name] = &Status{
		Service:             sc.Name,
		State:               StateHealthy,
		DependenciesHealthy: true,
	}

	c.logger.Infof("registered service %s (strategy=%s, deps=%d)",
		sc.Name, sc.Strategy, len(sc.DependsOn))
	return nil
}

// Unregister removes a service. Its status and pending history entries are
// dropped.
func (c *Coordinator) Unregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.services, name)
	delete(c.statuses, name)
	delete(c.inflight, name)
}

// RecoverService attempts to bring one service back to healthy. It returns
// an error only for unknown names; every other refusal (duplicate in-flight
// attempt, concurrency cap, exhausted attempts, manual strategy, failed
// recovery) returns false with a nil error and is surfaced through status
// and events.
func (c *Coordinator) RecoverService(ctx context.Context, name string) (bool, error) {
	c.mu.Lock()
	sc, ok := c.services[name]
	if !ok {
		c.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}

	if sc.Strategy == StrategyManual {
		c.mu.Unlock()
		c.logger.Debugf("service %s uses manual recovery, skipping", name)
		return false, nil
	}

	if _, busy := c.inflight[name]; busy {
		c.mu.Unlock()
		return false, nil
	}
	if !c.sem.TryAcquire(1) {
		c.mu.Unlock()
		c.logger.Debugf("recovery concurrency cap reached, skipping %s", name)
		return false, nil
	}

	st := c.statuses[name]
	if st.Attempts >= sc.MaxAttempts {
		c.sem.Release(1)
		c.mu.Unlock()
		c.emit(Event{
			Type:    EventFailed,
			Service: name,
			At:      c.now(),
			Details: fmt.Sprintf("max recovery attempts reached (%d)", sc.MaxAttempts),
		})
		return false, nil
	}

	// Admission is settled: mark in flight and recovering in the same
	// critical section so two callers can never claim the same slot.
	c.inflight[name] = struct{}{}
	from := st.State
	st.State = StateRecovering
	st.Attempts++
	st.LastAttempt = c.now()
	attempt := st.Attempts
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inflight, name)
		c.mu.Unlock()
		c.sem.Release(1)
	}()

	c.stateChanged(name, from, StateRecovering)

	ctx, span := c.tracer.Start(ctx, "recovery.attempt", trace.WithAttributes(
		attribute.String("service", name),
		attribute.String("strategy", sc.Strategy.String()),
		attribute.Int("attempt", attempt),
	))
	defer span.End()

	c.emit(Event{
		Type:    EventStarted,
		Service: name,
		At:      c.now(),
		Details: fmt.Sprintf("attempt %d/%d, strategy %s", attempt, sc.MaxAttempts, sc.Strategy),
	})
	c.logger.Infof("recovering service %s (attempt %d/%d, strategy=%s)",
		name, attempt, sc.MaxAttempts, sc.Strategy)

	depsOK := c.dependenciesHealthy(sc)
	c.mu.Lock()
	st.DependenciesHealthy = depsOK
	c.mu.Unlock()

	if sc.Strategy == StrategyCoordinated && !depsOK {
		span.SetAttributes(attribute.String("result", "dependencies-unhealthy"))
		c.fail(name, "dependencies unhealthy")
		return false, nil
	}

	ok, reason := c.dispatch(ctx, sc)
	if !ok {
		span.SetAttributes(attribute.String("result", reason))
		c.fail(name, reason)
		return false, nil
	}

	span.SetAttributes(attribute.String("result", "recovered"))
	c.succeed(name, sc)
	return true, nil
}

// dependenciesHealthy reports whether every direct dependency is healthy
// and, when it owns a breaker, that the breaker is not open.
func (c *Coordinator) dependenciesHealthy(sc ServiceConfig) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, dep := range sc.DependsOn {
		ds, ok := c.statuses[dep]
		if !ok || ds.State != StateHealthy {
			return false
		}
		if dc, ok := c.services[dep]; ok && dc.Breaker != nil {
			if dc.Breaker.State() == resilience.StateOpen {
				return false
			}
		}
	}
	return true
}

// dispatch runs the strategy-specific recovery check. It returns whether
// the service is considered recovered, with a reason on refusal.
func (c *Coordinator) dispatch(ctx context.Context, sc ServiceConfig) (bool, string) {
	switch sc.Strategy {
	case StrategyImmediate:
		if sc.Breaker != nil {
			sc.Breaker.Reset()
		}
		return c.probe(ctx, sc)

	case StrategyGradual, StrategyCoordinated:
		// Coordinated reconfirmed dependencies in the caller; from here
		// both strategies share one implementation.
		return c.recoverGradually(ctx, sc)

	default:
		return false, "unsupported strategy"
	}
}

// recoverGradually defers to the breaker's own probing. An open breaker is
// left to its reset timeout; a half-open breaker must show a recent trial
// success rate at or above the threshold; otherwise the health check gates,
// and the breaker is reset only on overall success.
func (c *Coordinator) recoverGradually(ctx context.Context, sc ServiceConfig) (bool, string) {
	if sc.Breaker != nil {
		switch sc.Breaker.State() {
		case resilience.StateOpen:
			return false, "circuit still open"

		case resilience.StateHalfOpen:
			stats := sc.Breaker.Stats()
			if stats.TrialsAdmitted == 0 {
				return false, "no trial requests observed yet"
			}
			rate := float64(stats.TrialSuccesses) / float64(stats.TrialsAdmitted)
			if rate < c.config.TrialSuccessThreshold {
				return false, fmt.Sprintf("trial success rate %.2f below %.2f",
					rate, c.config.TrialSuccessThreshold)
			}
			return true, ""
		}
	}

	return c.probe(ctx, sc)
}

// probe runs the caller-supplied health check. A missing check defaults to
// healthy; errors and panics count as failed probes, never propagate.
func (c *Coordinator) probe(ctx context.Context, sc ServiceConfig) (ok bool, reason string) {
	if sc.HealthCheck == nil {
		return true, ""
	}

	defer func() {
		if r := recover(); r != nil {
			ok = false
			reason = fmt.Sprintf("health check panicked: %v", r)
		}
	}()

	healthy, err := sc.HealthCheck(ctx)
	if err != nil {
		return false, fmt.Sprintf("health check failed: %v", err)
	}
	if !healthy {
		return false, "health check reported unhealthy"
	}
	return true, ""
}

// succeed finalizes a successful recovery: healthy state, counters reset,
// breaker and retry metrics cleared, degradation registry notified.
func (c *Coordinator) succeed(name string, sc ServiceConfig) {
	metrics := c.collectMetrics(sc)

	c.mu.Lock()
	st := c.statuses[name]
	st.State = StateHealthy
	st.Attempts = 0
	st.LastSuccess = c.now()
	c.mu.Unlock()

	if sc.Breaker != nil {
		sc.Breaker.Reset()
	}
	if sc.Retry != nil {
		sc.Retry.ResetMetrics()
	}
	if c.config.Degradation != nil {
		c.notifyDegradation(name)
	}

	c.stateChanged(name, StateRecovering, StateHealthy)
	c.emit(Event{
		Type:    EventSucceeded,
		Service: name,
		At:      c.now(),
		Metrics: metrics,
	})
	c.logger.Infof("service %s recovered", name)
}

// fail finalizes a failed recovery attempt. The attempt counter is kept.
func (c *Coordinator) fail(name, reason string) {
	c.mu.Lock()
	st := c.statuses[name]
	st.State = StateFailed
	st.LastFailure = c.now()
	c.mu.Unlock()

	c.stateChanged(name, StateRecovering, StateFailed)
	c.emit(Event{
		Type:    EventFailed,
		Service: name,
		At:      c.now(),
		Details: reason,
	})
	c.logger.Warnf("service %s recovery failed: %s", name, reason)
}

// collectMetrics summarizes breaker and retry state for a succeeded event,
// before both are reset.
func (c *Coordinator) collectMetrics(sc ServiceConfig) map[string]any {
	m := make(map[string]any)
	if sc.Breaker != nil {
		stats := sc.Breaker.Stats()
		m["circuit.state"] = stats.State.String()
		m["circuit.requests"] = stats.Requests
		m["circuit.failure_rate"] = stats.FailureRate
		m["circuit.trips"] = stats.Trips
	}
	if sc.Retry != nil {
		rm := sc.Retry.Metrics()
		m["retry.total_attempts"] = rm.TotalAttempts
		m["retry.successful"] = rm.SuccessfulRetries
		m["retry.failed"] = rm.FailedRetries
		m["retry.success_rate"] = rm.SuccessRate
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// notifyDegradation calls the external registry's Recover, swallowing
// panics so registry bugs never abort a recovery.
func (c *Coordinator) notifyDegradation(name string) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Errorf("degradation registry panicked for %s: %v", name, r)
		}
	}()
	c.config.Degradation.Recover(name)
}

// ReportFailure marks a service failed so the next sweep picks it up.
func (c *Coordinator) ReportFailure(name string) error {
	return c.report(name, StateFailed, EventFailed, "failure reported")
}

// ReportDegraded marks a service degraded so the next sweep picks it up.
func (c *Coordinator) ReportDegraded(name string) error {
	return c.report(name, StateDegraded, EventDegraded, "degradation reported")
}

func (c *Coordinator) report(name string, state State, et EventType, details string) error {
	c.mu.Lock()
	st, ok := c.statuses[name]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	from := st.State
	st.State = state
	if state == StateFailed {
		st.LastFailure = c.now()
	}
	c.mu.Unlock()

	if from != state {
		c.stateChanged(name, from, state)
	}
	c.emit(Event{Type: et, Service: name, At: c.now(), Details: details})
	return nil
}

// GetStatus returns a copy of one service's status.
func (c *Coordinator) GetStatus(name string) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.statuses[name]
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	return *st, nil
}

// AllStatus returns a copy of every registered service's status.
func (c *Coordinator) AllStatus() map[string]Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]Status, len(c.statuses))
	for name, st := range c.statuses {
		out[name] = *st
	}
	return out
}

// History returns up to limit most recent recovery events, oldest first.
// limit <= 0 returns the whole retained log.
func (c *Coordinator) History(limit int) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.log.tail(limit)
}

// emit appends an event and notifies the observer. Observer panics are
// swallowed; the emitting operation must never be aborted by a callback.
func (c *Coordinator) emit(e Event) {
	c.mu.Lock()
	c.log.append(e)
	c.mu.Unlock()

	if c.config.OnEvent == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Errorf("event callback panicked: %v", r)
		}
	}()
	c.config.OnEvent(e)
}

func (c *Coordinator) stateChanged(service string, from, to State) {
	c.logger.Debugf("service %s state: %s -> %s", service, from, to)
	if c.config.OnStateChange == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Errorf("state change callback panicked: %v", r)
		}
	}()
	c.config.OnStateChange(service, from, to)
}
