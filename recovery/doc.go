// Package recovery orchestrates multi-service recovery with dependency
// ordering and bounded concurrency.
//
// A Coordinator owns a registry of named services, each with an optional
// circuit breaker, retry policy, dependency list, and recovery strategy. It
// never executes business operations: it inspects and resets breaker and
// retry state and validates health via a caller-supplied probe.
//
// Strategies:
//
//   - Immediate: reset the breaker and trust the health check.
//   - Gradual: let the breaker's own probing drive recovery; a half-open
//     breaker must show a sufficient trial success rate.
//   - Coordinated: gradual recovery attempted only once every direct
//     dependency is confirmed healthy.
//   - Manual: automatic recovery is refused entirely.
//
// Recovery failures never propagate as errors; they surface through each
// service's Status and the append-only event log.
//
//	coord := recovery.NewCoordinator(recovery.CoordinatorConfig{MaxConcurrent: 2})
//	_ = coord.Register(recovery.ServiceConfig{
//	    Name:     "billing",
//	    Breaker:  billingBreaker,
//	    Strategy: recovery.StrategyGradual,
//	    HealthCheck: func(ctx context.Context) (bool, error) {
//	        return pingBilling(ctx)
//	    },
//	})
//	coord.Start(ctx) // automatic sweeps; or call RecoverService directly
package recovery
