package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "forgesprint"

// Metrics holds all forgesprint metric instruments.
type Metrics struct {
	SprintsStarted metric.Int64Counter
	SprintsDone    metric.Int64Counter
	SprintsBlocked metric.Int64Counter
	Invocations    metric.Int64Counter
	GateFailures   metric.Int64Counter
	PhaseDuration  metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.SprintsStarted, err = meter.Int64Counter("forgesprint.sprints.started",
		metric.WithDescription("Number of sprint runs started"))
	if err != nil {
		return nil, err
	}

	m.SprintsDone, err = meter.Int64Counter("forgesprint.sprints.done",
		metric.WithDescription("Number of sprints that reached DONE"))
	if err != nil {
		return nil, err
	}

	m.SprintsBlocked, err = meter.Int64Counter("forgesprint.sprints.blocked",
		metric.WithDescription("Number of sprint blocking events"))
	if err != nil {
		return nil, err
	}

	m.Invocations, err = meter.Int64Counter("forgesprint.invocations",
		metric.WithDescription("Number of agent invocations"))
	if err != nil {
		return nil, err
	}

	m.GateFailures, err = meter.Int64Counter("forgesprint.gates.failed",
		metric.WithDescription("Number of failing gate pipeline runs"))
	if err != nil {
		return nil, err
	}

	m.PhaseDuration, err = meter.Float64Histogram("forgesprint.phase.duration_seconds",
		metric.WithDescription("Phase step duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
