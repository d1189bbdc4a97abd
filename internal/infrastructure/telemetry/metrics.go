// Package telemetry records orchestrator activity as OpenTelemetry metrics.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for swarmkit metrics.
const meterName = "github.com/blackms/swarmkit"

// Metrics holds the orchestrator's instruments. Instruments are safe for
// concurrent use. Without a configured MeterProvider they are noops.
//
// Instruments:
//   - swarmkit.missions (Int64Counter)
//   - swarmkit.tasks.assigned (Int64Counter), attribute method
//   - swarmkit.decisions (Int64Counter), attribute resolved
//   - swarmkit.failures (Int64Counter), attribute action
//   - swarmkit.heals (Int64Counter)
//   - swarmkit.knowledge.shared (Int64Counter)
//   - swarmkit.markers.decayed (Int64Counter)
//   - swarmkit.optimize.duration (Float64Histogram), seconds
type Metrics struct {
	missions         metric.Int64Counter
	tasksAssigned    metric.Int64Counter
	decisions        metric.Int64Counter
	failures         metric.Int64Counter
	heals            metric.Int64Counter
	knowledgeShared  metric.Int64Counter
	markersDecayed   metric.Int64Counter
	optimizeDuration metric.Float64Histogram
}

// New returns metrics backed by the global MeterProvider.
func New() *Metrics {
	return NewWithMeter(otel.Meter(meterName))
}

// NewWithMeter returns metrics using the provided meter. On instrument
// errors the OTel API hands back noop instruments, so errors are ignored.
func NewWithMeter(meter metric.Meter) *Metrics {
	m := &Metrics{}
	m.missions, _ = meter.Int64Counter("swarmkit.missions",
		metric.WithDescription("Missions created"),
		metric.WithUnit("{mission}"))
	m.tasksAssigned, _ = meter.Int64Counter("swarmkit.tasks.assigned",
		metric.WithDescription("Tasks assigned by load balancing or opened for auction"),
		metric.WithUnit("{task}"))
	m.decisions, _ = meter.Int64Counter("swarmkit.decisions",
		metric.WithDescription("Vote sessions run through the orchestrator"),
		metric.WithUnit("{decision}"))
	m.failures, _ = meter.Int64Counter("swarmkit.failures",
		metric.WithDescription("Agent failures handled"),
		metric.WithUnit("{failure}"))
	m.heals, _ = meter.Int64Counter("swarmkit.heals",
		metric.WithDescription("Agents healed during optimization"),
		metric.WithUnit("{agent}"))
	m.knowledgeShared, _ = meter.Int64Counter("swarmkit.knowledge.shared",
		metric.WithDescription("Facts shared into collective memory"),
		metric.WithUnit("{fact}"))
	m.markersDecayed, _ = meter.Int64Counter("swarmkit.markers.decayed",
		metric.WithDescription("Pheromone markers removed by decay"),
		metric.WithUnit("{marker}"))
	m.optimizeDuration, _ = meter.Float64Histogram("swarmkit.optimize.duration",
		metric.WithDescription("Duration of an optimization tick in seconds"),
		metric.WithUnit("s"))
	return m
}

// MissionCreated counts a new mission.
func (m *Metrics) MissionCreated(ctx context.Context) {
	m.missions.Add(ctx, 1)
}

// TaskAssigned counts a task assignment by method.
func (m *Metrics) TaskAssigned(ctx context.Context, method string) {
	m.tasksAssigned.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
}

// DecisionMade counts a vote session.
func (m *Metrics) DecisionMade(ctx context.Context, resolved bool) {
	m.decisions.Add(ctx, 1, metric.WithAttributes(attribute.Bool("resolved", resolved)))
}

// FailureHandled counts a failure by the action taken.
func (m *Metrics) FailureHandled(ctx context.Context, action string) {
	m.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

// KnowledgeShared counts a shared fact.
func (m *Metrics) KnowledgeShared(ctx context.Context) {
	m.knowledgeShared.Add(ctx, 1)
}

// Optimized records an optimization tick.
func (m *Metrics) Optimized(ctx context.Context, elapsed time.Duration, decayed, healed int) {
	m.optimizeDuration.Record(ctx, elapsed.Seconds())
	if decayed > 0 {
		m.markersDecayed.Add(ctx, int64(decayed))
	}
	if healed > 0 {
		m.heals.Add(ctx, int64(healed))
	}
}
