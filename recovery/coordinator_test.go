package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonwraymond/backstop/resilience"
)

type fakeDegradation struct {
	mu        sync.Mutex
	recovered []string
}

func (f *fakeDegradation) Degrade(name string, level int) {}

func (f *fakeDegradation) Recover(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recovered = append(f.recovered, name)
}

func (f *fakeDegradation) IsDegraded(name string) bool { return false }

func newTestBreaker() *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: 0.5,
		RequestThreshold: 1,
		ResetTimeout:     time.Minute,
	})
}

func TestCoordinator_RegisterDuplicate(t *testing.T) {
	c := NewCoordinator(CoordinatorConfig{})

	if err := c.Register(ServiceConfig{Name: "db"}); err != nil {
		t.Fatalf("Register() = %v", err)
	}
	err := c.Register(ServiceConfig{Name: "db"})
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("duplicate Register() = %v, want ErrAlreadyRegistered", err)
	}
	if err := c.Register(ServiceConfig{}); err == nil {
		t.Error("Register() with empty name succeeded, want error")
	}
}

func TestCoordinator_RecoverUnknownService(t *testing.T) {
	c := NewCoordinator(CoordinatorConfig{})

	_, err := c.RecoverService(context.Background(), "ghost")
	if !errors.Is(err, ErrServiceNotFound) {
		t.Errorf("RecoverService() = %v, want ErrServiceNotFound", err)
	}
}

func TestCoordinator_ManualStrategySkipped(t *testing.T) {
	c := NewCoordinator(CoordinatorConfig{})
	if err := c.Register(ServiceConfig{Name: "db", Strategy: StrategyManual}); err != nil {
		t.Fatalf("Register() = %v", err)
	}
	if err := c.ReportFailure("db"); err != nil {
		t.Fatalf("ReportFailure() = %v", err)
	}

	recovered, err := c.RecoverService(context.Background(), "db")
	if err != nil {
		t.Fatalf("RecoverService() = %v", err)
	}
	if recovered {
		t.Error("RecoverService() = true for manual strategy, want false")
	}

	// No attempt was made: status and attempt counter untouched.
	st, _ := c.GetStatus("db")
	if st.State != StateFailed || st.Attempts != 0 {
		t.Errorf("status = %+v, want failed with 0 attempts", st)
	}
	for _, e := range c.History(0) {
		if e.Type == EventStarted {
			t.Error("manual strategy produced a started event")
		}
	}
}

func TestCoordinator_ImmediateRecoverySucceeds(t *testing.T) {
	deg := &fakeDegradation{}
	c := NewCoordinator(CoordinatorConfig{Degradation: deg})

	cb := newTestBreaker()
	ar := resilience.NewAdvancedRetry(resilience.AdvancedRetryConfig{
		Retry: resilience.RetryConfig{MaxRetries: 1, InitialDelay: time.Millisecond, Strategy: resilience.BackoffFixed},
	})
	// Trip the breaker and accumulate retry counters so the reset is
	// observable.
	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("down")
	})
	_ = ar.Execute(context.Background(), func(ctx context.Context, a resilience.Attempt) error {
		return errors.New("down")
	})

	probed := false
	if err := c.Register(ServiceConfig{
		Name:     "db",
		Strategy: StrategyImmediate,
		Breaker:  cb,
		Retry:    ar,
		HealthCheck: func(ctx context.Context) (bool, error) {
			probed = true
			return true, nil
		},
	}); err != nil {
		t.Fatalf("Register() = %v", err)
	}
	if err := c.ReportFailure("db"); err != nil {
		t.Fatalf("ReportFailure() = %v", err)
	}

	recovered, err := c.RecoverService(context.Background(), "db")
	if err != nil || !recovered {
		t.Fatalf("RecoverService() = (%v, %v), want (true, nil)", recovered, err)
	}
	if !probed {
		t.Error("health check was not invoked")
	}

	st, _ := c.GetStatus("db")
	if st.State != StateHealthy {
		t.Errorf("state = %v, want healthy", st.State)
	}
	if st.Attempts != 0 {
		t.Errorf("attempts = %d, want reset to 0", st.Attempts)
	}
	if st.LastSuccess.IsZero() {
		t.Error("LastSuccess not set")
	}
	if cb.State() != resilience.StateClosed {
		t.Errorf("breaker state = %v, want closed after reset", cb.State())
	}
	if got := ar.Metrics().TotalAttempts; got != 0 {
		t.Errorf("retry TotalAttempts = %d, want reset to 0", got)
	}
	if len(deg.recovered) != 1 || deg.recovered[0] != "db" {
		t.Errorf("degradation notifications = %v, want [db]", deg.recovered)
	}

	events := c.History(0)
	if len(events) < 3 {
		t.Fatalf("history length = %d, want at least 3", len(events))
	}
	last := events[len(events)-1]
	if last.Type != EventSucceeded {
		t.Errorf("last event = %v, want succeeded", last.Type)
	}
	if last.Metrics == nil {
		t.Error("succeeded event carries no metrics snapshot")
	}
}

func TestCoordinator_FailedRecoveryKeepsAttempts(t *testing.T) {
	c := NewCoordinator(CoordinatorConfig{})
	if err := c.Register(ServiceConfig{
		Name:     "db",
		Strategy: StrategyImmediate,
		HealthCheck: func(ctx context.Context) (bool, error) {
			return false, nil
		},
	}); err != nil {
		t.Fatalf("Register() = %v", err)
	}

	for want := 1; want <= 2; want++ {
		recovered, err := c.RecoverService(context.Background(), "db")
		if err != nil || recovered {
			t.Fatalf("RecoverService() = (%v, %v), want (false, nil)", recovered, err)
		}
		st, _ := c.GetStatus("db")
		if st.State != StateFailed {
			t.Errorf("state = %v, want failed", st.State)
		}
		if st.Attempts != want {
			t.Errorf("attempts = %d, want %d", st.Attempts, want)
		}
		if st.LastFailure.IsZero() {
			t.Error("LastFailure not set")
		}
	}
}

func TestCoordinator_MaxAttemptsExhausted(t *testing.T) {
	c := NewCoordinator(CoordinatorConfig{})
	if err := c.Register(ServiceConfig{
		Name:        "db",
		Strategy:    StrategyImmediate,
		MaxAttempts: 1,
		HealthCheck: func(ctx context.Context) (bool, error) {
			return false, errors.New("still down")
		},
	}); err != nil {
		t.Fatalf("Register() = %v", err)
	}

	ctx := context.Background()
	if recovered, _ := c.RecoverService(ctx, "db"); recovered {
		t.Fatal("first attempt succeeded, want failure")
	}

	before := len(c.History(0))
	recovered, err := c.RecoverService(ctx, "db")
	if err != nil || recovered {
		t.Fatalf("RecoverService() = (%v, %v), want (false, nil)", recovered, err)
	}

	events := c.History(0)
	if len(events) != before+1 {
		t.Fatalf("history grew by %d, want exactly 1 refusal event", len(events)-before)
	}
	last := events[len(events)-1]
	if last.Type != EventFailed || last.Details == "" {
		t.Errorf("refusal event = %+v, want failed with details", last)
	}
}

func TestCoordinator_CoordinatedBlockedByDependencies(t *testing.T) {
	c := NewCoordinator(CoordinatorConfig{})
	if err := c.Register(ServiceConfig{Name: "db", Strategy: StrategyImmediate}); err != nil {
		t.Fatalf("Register() = %v", err)
	}

	probed := false
	if err := c.Register(ServiceConfig{
		Name:      "api",
		Strategy:  StrategyCoordinated,
		DependsOn: []string{"db"},
		HealthCheck: func(ctx context.Context) (bool, error) {
			probed = true
			return true, nil
		},
	}); err != nil {
		t.Fatalf("Register() = %v", err)
	}
	if err := c.ReportFailure("db"); err != nil {
		t.Fatalf("ReportFailure() = %v", err)
	}

	recovered, err := c.RecoverService(context.Background(), "api")
	if err != nil || recovered {
		t.Fatalf("RecoverService() = (%v, %v), want (false, nil)", recovered, err)
	}
	if probed {
		t.Error("health check invoked despite unhealthy dependency")
	}

	st, _ := c.GetStatus("api")
	if st.DependenciesHealthy {
		t.Error("DependenciesHealthy = true, want false")
	}
	if st.State != StateFailed {
		t.Errorf("state = %v, want failed", st.State)
	}
}

func TestCoordinator_CoordinatedBlockedByOpenDependencyBreaker(t *testing.T) {
	c := NewCoordinator(CoordinatorConfig{})

	depBreaker := newTestBreaker()
	depBreaker.ForceOpen("outage")
	if err := c.Register(ServiceConfig{Name: "db", Breaker: depBreaker}); err != nil {
		t.Fatalf("Register() = %v", err)
	}
	if err := c.Register(ServiceConfig{
		Name:      "api",
		Strategy:  StrategyCoordinated,
		DependsOn: []string{"db"},
	}); err != nil {
		t.Fatalf("Register() = %v", err)
	}

	// The dependency's status is still healthy, but its open breaker
	// blocks coordinated recovery.
	recovered, err := c.RecoverService(context.Background(), "api")
	if err != nil || recovered {
		t.Fatalf("RecoverService() = (%v, %v), want (false, nil)", recovered, err)
	}
}

func TestCoordinator_GradualRefusesWhileCircuitOpen(t *testing.T) {
	c := NewCoordinator(CoordinatorConfig{})
	cb := newTestBreaker()
	cb.ForceOpen("outage")

	probed := false
	if err := c.Register(ServiceConfig{
		Name:     "db",
		Strategy: StrategyGradual,
		Breaker:  cb,
		HealthCheck: func(ctx context.Context) (bool, error) {
			probed = true
			return true, nil
		},
	}); err != nil {
		t.Fatalf("Register() = %v", err)
	}

	recovered, err := c.RecoverService(context.Background(), "db")
	if err != nil || recovered {
		t.Fatalf("RecoverService() = (%v, %v), want (false, nil)", recovered, err)
	}
	if probed {
		t.Error("health check invoked while circuit open")
	}

	events := c.History(0)
	last := events[len(events)-1]
	if last.Type != EventFailed || last.Details != "circuit still open" {
		t.Errorf("last event = %+v, want circuit-still-open failure", last)
	}
}

func TestCoordinator_GradualHalfOpenTrialGate(t *testing.T) {
	c := NewCoordinator(CoordinatorConfig{})
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: 0.5,
		RequestThreshold: 1,
		ResetTimeout:     10 * time.Millisecond,
		HalfOpenTrials:   4,
	})
	if err := c.Register(ServiceConfig{Name: "db", Strategy: StrategyGradual, Breaker: cb}); err != nil {
		t.Fatalf("Register() = %v", err)
	}

	ctx := context.Background()
	_ = cb.Execute(ctx, func(ctx context.Context) error { return errors.New("down") })
	time.Sleep(20 * time.Millisecond)

	if cb.State() != resilience.StateHalfOpen {
		t.Fatalf("breaker state = %v, want half-open", cb.State())
	}

	// No trials admitted yet: gradual recovery refuses.
	recovered, err := c.RecoverService(ctx, "db")
	if err != nil || recovered {
		t.Fatalf("RecoverService() before trials = (%v, %v), want (false, nil)", recovered, err)
	}

	// Three successful trials out of four allowed: rate 1.0 clears the
	// threshold while the breaker is still half-open.
	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, func(ctx context.Context) error { return nil }); err != nil {
			t.Fatalf("trial %d: %v", i, err)
		}
	}

	recovered, err = c.RecoverService(ctx, "db")
	if err != nil || !recovered {
		t.Fatalf("RecoverService() after trials = (%v, %v), want (true, nil)", recovered, err)
	}
	if cb.State() != resilience.StateClosed {
		t.Errorf("breaker state = %v, want closed", cb.State())
	}
}

func TestCoordinator_InFlightDuplicateRefused(t *testing.T) {
	c := NewCoordinator(CoordinatorConfig{MaxConcurrent: 2})

	entered := make(chan struct{})
	release := make(chan struct{})
	if err := c.Register(ServiceConfig{
		Name:     "db",
		Strategy: StrategyImmediate,
		HealthCheck: func(ctx context.Context) (bool, error) {
			close(entered)
			<-release
			return true, nil
		},
	}); err != nil {
		t.Fatalf("Register() = %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.RecoverService(context.Background(), "db")
	}()
	<-entered

	recovered, err := c.RecoverService(context.Background(), "db")
	if err != nil || recovered {
		t.Errorf("concurrent RecoverService() = (%v, %v), want (false, nil)", recovered, err)
	}

	close(release)
	<-done
}

func TestCoordinator_ConcurrencyCap(t *testing.T) {
	c := NewCoordinator(CoordinatorConfig{MaxConcurrent: 1})

	entered := make(chan struct{})
	release := make(chan struct{})
	if err := c.Register(ServiceConfig{
		Name:     "db",
		Strategy: StrategyImmediate,
		HealthCheck: func(ctx context.Context) (bool, error) {
			close(entered)
			<-release
			return true, nil
		},
	}); err != nil {
		t.Fatalf("Register() = %v", err)
	}
	if err := c.Register(ServiceConfig{Name: "cache", Strategy: StrategyImmediate}); err != nil {
		t.Fatalf("Register() = %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.RecoverService(context.Background(), "db")
	}()
	<-entered

	// A different service is refused while the only slot is taken.
	recovered, err := c.RecoverService(context.Background(), "cache")
	if err != nil || recovered {
		t.Errorf("capped RecoverService() = (%v, %v), want (false, nil)", recovered, err)
	}

	close(release)
	<-done

	// The slot is released afterwards.
	recovered, err = c.RecoverService(context.Background(), "cache")
	if err != nil || !recovered {
		t.Errorf("RecoverService() after release = (%v, %v), want (true, nil)", recovered, err)
	}
}

func TestCoordinator_HealthCheckPanicIsFailure(t *testing.T) {
	c := NewCoordinator(CoordinatorConfig{})
	if err := c.Register(ServiceConfig{
		Name:     "db",
		Strategy: StrategyImmediate,
		HealthCheck: func(ctx context.Context) (bool, error) {
			panic("probe bug")
		},
	}); err != nil {
		t.Fatalf("Register() = %v", err)
	}

	recovered, err := c.RecoverService(context.Background(), "db")
	if err != nil || recovered {
		t.Fatalf("RecoverService() = (%v, %v), want (false, nil)", recovered, err)
	}

	st, _ := c.GetStatus("db")
	if st.State != StateFailed {
		t.Errorf("state = %v, want failed", st.State)
	}
}

func TestCoordinator_CallbackPanicsSwallowed(t *testing.T) {
	c := NewCoordinator(CoordinatorConfig{
		OnEvent: func(e Event) {
			panic("observer bug")
		},
		OnStateChange: func(service string, from, to State) {
			panic("observer bug")
		},
	})
	if err := c.Register(ServiceConfig{Name: "db", Strategy: StrategyImmediate}); err != nil {
		t.Fatalf("Register() = %v", err)
	}

	recovered, err := c.RecoverService(context.Background(), "db")
	if err != nil || !recovered {
		t.Errorf("RecoverService() = (%v, %v), want (true, nil)", recovered, err)
	}
}

func TestCoordinator_ReportAndStatus(t *testing.T) {
	var changes []string
	c := NewCoordinator(CoordinatorConfig{
		OnStateChange: func(service string, from, to State) {
			changes = append(changes, service+":"+from.String()+"->"+to.String())
		},
	})
	if err := c.Register(ServiceConfig{Name: "db"}); err != nil {
		t.Fatalf("Register() = %v", err)
	}

	if err := c.ReportDegraded("db"); err != nil {
		t.Fatalf("ReportDegraded() = %v", err)
	}
	st, err := c.GetStatus("db")
	if err != nil {
		t.Fatalf("GetStatus() = %v", err)
	}
	if st.State != StateDegraded {
		t.Errorf("state = %v, want degraded", st.State)
	}

	if err := c.ReportFailure("ghost"); !errors.Is(err, ErrServiceNotFound) {
		t.Errorf("ReportFailure(ghost) = %v, want ErrServiceNotFound", err)
	}
	if _, err := c.GetStatus("ghost"); !errors.Is(err, ErrServiceNotFound) {
		t.Errorf("GetStatus(ghost) = %v, want ErrServiceNotFound", err)
	}

	all := c.AllStatus()
	if len(all) != 1 || all["db"].State != StateDegraded {
		t.Errorf("AllStatus() = %v, want single degraded db", all)
	}

	if len(changes) != 1 || changes[0] != "db:healthy->degraded" {
		t.Errorf("state changes = %v, want [db:healthy->degraded]", changes)
	}
}

func TestCoordinator_Unregister(t *testing.T) {
	c := NewCoordinator(CoordinatorConfig{})
	if err := c.Register(ServiceConfig{Name: "db"}); err != nil {
		t.Fatalf("Register() = %v", err)
	}

	c.Unregister("db")
	if _, err := c.GetStatus("db"); !errors.Is(err, ErrServiceNotFound) {
		t.Errorf("GetStatus() after Unregister = %v, want ErrServiceNotFound", err)
	}
	// Name can be reused.
	if err := c.Register(ServiceConfig{Name: "db"}); err != nil {
		t.Errorf("re-Register() = %v", err)
	}
}
