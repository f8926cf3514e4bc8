package audit

import (
	"context"
	"fmt"
	"sort"

	"github.com/flowforge/flowforge/engine/model"
	"github.com/flowforge/flowforge/engine/store"
)

// Reader implements the read-only trace/span query surface:
// ListRecentTraces, GetTrace, GetTraceSpans, GetRootSpans,
// GetChildSpans, GetKeyEvents, GetChildWorkflowInstances.
type Reader struct {
	store store.Store
}

// NewReader wraps s for querying.
func NewReader(s store.Store) *Reader {
	return &Reader{store: s}
}

// ListRecentTraces returns up to limit traces ordered by StartedAtMs descending.
func (r *Reader) ListRecentTraces(ctx context.Context, limit int) ([]model.AuditTrace, error) {
	it, err := r.store.QueryByIndex(ctx, "auditTraces", "startedAt", store.Range{})
	if err != nil {
		return nil, fmt.Errorf("audit: list recent traces: %w", err)
	}
	defer it.Close()
	var traces []model.AuditTrace
	for {
		row, ok, err := it.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		traces = append(traces, rowToTrace(row))
	}
	sort.Slice(traces, func(i, j int) bool { return traces[i].StartedAtMs > traces[j].StartedAtMs })
	if limit > 0 && len(traces) > limit {
		traces = traces[:limit]
	}
	return traces, nil
}

// GetTrace fetches one trace by id.
func (r *Reader) GetTrace(ctx context.Context, traceId model.TraceId) (model.AuditTrace, bool, error) {
	row, found, err := r.store.Unique(ctx, "auditTraces", "traceId", traceId.String())
	if err != nil || !found {
		return model.AuditTrace{}, found, err
	}
	return rowToTrace(row), true, nil
}

// GetTraceSpans returns every span belonging to traceId, ordered by
// (StartedAtMs, SequenceNumber).
func (r *Reader) GetTraceSpans(ctx context.Context, traceId model.TraceId) ([]*model.AuditSpan, error) {
	spans, err := loadSpans(ctx, r.store, traceId, 0, maxInt64)
	if err != nil {
		return nil, err
	}
	sortSpans(spans)
	return spans, nil
}

// GetRootSpans returns the spans with no ParentSpanId, one per
// top-level operation in the trace.
func (r *Reader) GetRootSpans(ctx context.Context, traceId model.TraceId) ([]*model.AuditSpan, error) {
	spans, err := r.GetTraceSpans(ctx, traceId)
	if err != nil {
		return nil, err
	}
	var roots []*model.AuditSpan
	for _, s := range spans {
		if s.ParentSpanId == nil {
			roots = append(roots, s)
		}
	}
	return roots, nil
}

// GetChildSpans returns the direct children of parentSpanId.
func (r *Reader) GetChildSpans(ctx context.Context, traceId model.TraceId, parentSpanId model.SpanId) ([]*model.AuditSpan, error) {
	spans, err := r.GetTraceSpans(ctx, traceId)
	if err != nil {
		return nil, err
	}
	var children []*model.AuditSpan
	for _, s := range spans {
		if s.ParentSpanId != nil && *s.ParentSpanId == parentSpanId {
			children = append(children, s)
		}
	}
	return children, nil
}

// KeyEvent is one projected root-level span, per getKeyEvents.
type KeyEvent struct {
	SpanId       model.SpanId
	Category     string
	WorkflowName string
	StartedAtMs  int64
}

// GetKeyEvents returns one event per root-level span in the trace,
// tagged with its category and associated workflow name, ordered by
// StartedAtMs.
func (r *Reader) GetKeyEvents(ctx context.Context, traceId model.TraceId) ([]KeyEvent, error) {
	roots, err := r.GetRootSpans(ctx, traceId)
	if err != nil {
		return nil, err
	}
	events := make([]KeyEvent, 0, len(roots))
	for _, s := range roots {
		name := asString(s.Attributes["workflowName"])
		if name == "" {
			name = s.ResourceName
		}
		events = append(events, KeyEvent{
			SpanId:       s.SpanId,
			Category:     string(s.OperationType),
			WorkflowName: name,
			StartedAtMs:  s.StartedAtMs,
		})
	}
	sort.Slice(events, func(i, j int) bool { return events[i].StartedAtMs < events[j].StartedAtMs })
	return events, nil
}

// GetChildWorkflowInstances returns the sub-workflow ids launched by
// taskName (optionally filtered to workflowName), as of timestamp,
// derived from composite-task spans whose attributes record the
// child's WorkflowId.
func (r *Reader) GetChildWorkflowInstances(
	ctx context.Context,
	traceId model.TraceId,
	taskName model.TaskName,
	workflowName string,
	timestampMs int64,
) ([]model.WorkflowId, error) {
	spans, err := loadSpans(ctx, r.store, traceId, 0, timestampMs)
	if err != nil {
		return nil, err
	}
	var out []model.WorkflowId
	for _, s := range spans {
		if s.OperationType != model.OpTask || model.TaskName(s.ResourceName) != taskName {
			continue
		}
		childId := asString(s.Attributes["childWorkflowId"])
		if childId == "" {
			continue
		}
		if workflowName != "" && asString(s.Attributes["childWorkflowName"]) != workflowName {
			continue
		}
		out = append(out, model.WorkflowId(childId))
	}
	return out, nil
}

const maxInt64 = int64(1) << 62

func sortSpans(spans []*model.AuditSpan) {
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].StartedAtMs != spans[j].StartedAtMs {
			return spans[i].StartedAtMs < spans[j].StartedAtMs
		}
		return spans[i].SequenceNumber < spans[j].SequenceNumber
	})
}

func rowToTrace(row store.Row) model.AuditTrace {
	t := model.AuditTrace{
		TraceId:     model.TraceId(asString(row["traceId"])),
		Name:        asString(row["name"]),
		State:       model.WorkflowState(asString(row["state"])),
		StartedAtMs: asInt64(row["startedAt"]),
	}
	if v, ok := row["endedAt"]; ok {
		e := asInt64(v)
		t.EndedAtMs = &e
	}
	if v, ok := row["initiatorUserId"]; ok {
		u := model.UserId(asString(v))
		t.InitiatorUserId = &u
	}
	if attrs, ok := row["attributes"].(map[string]any); ok {
		t.Attributes = attrs
	}
	return t
}
