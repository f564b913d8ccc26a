package resilience

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Instruments records resilience activity through OpenTelemetry metrics.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Errors: recording never panics and never fails the guarded operation.
type Instruments struct {
	executions  metric.Int64Counter
	rejections  metric.Int64Counter
	transitions metric.Int64Counter
	retryDelay  metric.Float64Histogram
}

// NewInstruments creates instruments on the given meter. A nil meter yields
// no-op instruments, so callers can wire metrics up later without nil checks.
func NewInstruments(meter metric.Meter) (*Instruments, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("backstop/resilience")
	}

	executions, err := meter.Int64Counter(
		"resilience.executions",
		metric.WithDescription("Operations run through a resilience guard"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	rejections, err := meter.Int64Counter(
		"resilience.rejections",
		metric.WithDescription("Calls rejected before the operation was invoked"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	transitions, err := meter.Int64Counter(
		"resilience.circuit.transitions",
		metric.WithDescription("Circuit breaker state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	retryDelay, err := meter.Float64Histogram(
		"resilience.retry.delay_ms",
		metric.WithDescription("Computed backoff delay before a retry attempt"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &Instruments{
		executions:  executions,
		rejections:  rejections,
		transitions: transitions,
		retryDelay:  retryDelay,
	}, nil
}

func (in *Instruments) recordExecution(ctx context.Context, name string, failed bool) {
	outcome := "success"
	if failed {
		outcome = "failure"
	}
	in.executions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("name", name),
		attribute.String("outcome", outcome),
	))
}

func (in *Instruments) recordRejection(ctx context.Context, name, reason string) {
	in.rejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("name", name),
		attribute.String("reason", reason),
	))
}

func (in *Instruments) recordTransition(ctx context.Context, name string, from, to State) {
	in.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("name", name),
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	))
}

func (in *Instruments) recordRetryDelay(ctx context.Context, name string, delay time.Duration) {
	in.retryDelay.Record(ctx, float64(delay.Milliseconds()), metric.WithAttributes(
		attribute.String("name", name),
	))
}
