package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// fixpointIterationBuckets bounds the histogram of driveFixpoint pass
// counts per operation; most definitions settle in a handful of
// passes, so the buckets stay small.
var fixpointIterationBuckets = []float64{1, 2, 3, 5, 8, 13, 21, 34, 55}

// WorkflowMetrics bundles the instruments engine/runtime records
// against on every span emission. A zero-value WorkflowMetrics is
// nil-safe: every Record* method no-ops when its instrument is unset,
// so an engine with no metrics.Service attached pays nothing.
type WorkflowMetrics struct {
	workflowSpans      metric.Int64Counter
	taskSpans          metric.Int64Counter
	workItemSpans      metric.Int64Counter
	fixpointIterations metric.Int64Histogram
}

func newWorkflowMetrics(meter metric.Meter) (*WorkflowMetrics, error) {
	workflowSpans, err := meter.Int64Counter(
		MetricNameWithSubsystem("workflow", "spans_total"),
		metric.WithDescription("Workflow-level spans emitted, labeled by state"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics: create workflow span counter: %w", err)
	}
	taskSpans, err := meter.Int64Counter(
		MetricNameWithSubsystem("task", "spans_total"),
		metric.WithDescription("Task spans emitted, labeled by task name and state"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics: create task span counter: %w", err)
	}
	workItemSpans, err := meter.Int64Counter(
		MetricNameWithSubsystem("work_item", "spans_total"),
		metric.WithDescription("Work item spans emitted, labeled by state"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics: create work item span counter: %w", err)
	}
	fixpoint, err := meter.Int64Histogram(
		MetricNameWithSubsystem("scheduler", "fixpoint_iterations"),
		metric.WithDescription("driveFixpoint passes needed to settle one scheduling operation"),
		metric.WithUnit("1"),
		metric.WithExplicitBucketBoundaries(fixpointIterationBuckets...),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics: create fixpoint iteration histogram: %w", err)
	}
	return &WorkflowMetrics{
		workflowSpans:      workflowSpans,
		taskSpans:          taskSpans,
		workItemSpans:      workItemSpans,
		fixpointIterations: fixpoint,
	}, nil
}

func (m *WorkflowMetrics) RecordWorkflowSpan(ctx context.Context, state string) {
	if m == nil || m.workflowSpans == nil {
		return
	}
	m.workflowSpans.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

func (m *WorkflowMetrics) RecordTaskSpan(ctx context.Context, taskName, state string) {
	if m == nil || m.taskSpans == nil {
		return
	}
	m.taskSpans.Add(ctx, 1, metric.WithAttributes(
		attribute.String("task", taskName),
		attribute.String("state", state),
	))
}

func (m *WorkflowMetrics) RecordWorkItemSpan(ctx context.Context, state string) {
	if m == nil || m.workItemSpans == nil {
		return
	}
	m.workItemSpans.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

func (m *WorkflowMetrics) RecordFixpointIterations(ctx context.Context, n int) {
	if m == nil || m.fixpointIterations == nil {
		return
	}
	m.fixpointIterations.Record(ctx, int64(n))
}
