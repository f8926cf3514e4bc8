package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/flowforge/flowforge/engine/model"
	"github.com/flowforge/flowforge/engine/store"
)

// stateRank orders lifecycle states so folding spans is a monotone
// join: applying a span only ever moves an entity's recorded state
// forward, never backward. This is what makes Reconstruct both
// idempotent (re-applying the same span twice is a no-op past the
// first application) and order-independent for spans that tie on
// StartedAtMs and therefore have no comparable sequence number:
// whichever order they are folded in, the entity converges to the
// same maximum-rank state.
var workflowRank = map[model.WorkflowState]int{
	model.WorkflowInitialized: 0,
	model.WorkflowStarted:     1,
	model.WorkflowCompleted:   2,
	model.WorkflowFailed:      2,
	model.WorkflowCanceled:    2,
}

var taskRank = map[model.TaskState]int{
	model.TaskDisabled:  0,
	model.TaskEnabled:   1,
	model.TaskStarted:   2,
	model.TaskCompleted: 3,
	model.TaskCanceled:  3,
}

var workItemRank = map[model.WorkItemState]int{
	model.WorkItemCreated:   0,
	model.WorkItemOffered:   1,
	model.WorkItemClaimed:   2,
	model.WorkItemStarted:   3,
	model.WorkItemCompleted: 4,
	model.WorkItemCanceled:  4,
	model.WorkItemFailed:    4,
}

// Reconstruct implements getWorkflowStateAtTime: locate the latest
// applicable snapshot (root workflows only), replay every span with
// StartedAtMs in (snapshot, T] (or [0, T] with no snapshot) ordered by
// (StartedAtMs, SequenceNumber), filtered to spans whose Path implies
// they belong to workflowId, and fold them into a ReconstructedState.
func Reconstruct(
	ctx context.Context,
	s store.Store,
	cache SnapshotLookup,
	traceId model.TraceId,
	atMs int64,
	workflowId model.WorkflowId,
	isRoot bool,
) (model.ReconstructedState, error) {
	state := model.ReconstructedState{
		Marking:   model.Marking{},
		Tasks:     map[model.TaskName]model.TaskInstance{},
		WorkItems: map[model.WorkItemId]model.WorkItem{},
	}
	var fromMs int64
	if isRoot && cache != nil {
		snap, found, err := cache.Latest(ctx, traceId, atMs)
		if err != nil {
			return state, fmt.Errorf("audit: lookup snapshot: %w", err)
		}
		if found {
			state = snap.State
			fromMs = snap.TimestampMs + 1
		}
	}
	spans, err := loadSpans(ctx, s, traceId, fromMs, atMs)
	if err != nil {
		return state, err
	}
	spans = filterByWorkflow(spans, workflowId)
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].StartedAtMs != spans[j].StartedAtMs {
			return spans[i].StartedAtMs < spans[j].StartedAtMs
		}
		return spans[i].SequenceNumber < spans[j].SequenceNumber
	})
	for _, span := range spans {
		apply(&state, span)
	}
	return state, nil
}

// SnapshotLookup is the subset of engine/cache.SnapshotCache's API
// Reconstruct needs; kept as an interface so Reconstruct never imports
// the cache package directly (cache is a pure performance aid —
// Reconstruct must work identically with a nil cache).
type SnapshotLookup interface {
	Latest(ctx context.Context, traceId model.TraceId, atMs int64) (model.AuditWorkflowSnapshot, bool, error)
}

func filterByWorkflow(spans []*model.AuditSpan, workflowId model.WorkflowId) []*model.AuditSpan {
	var out []*model.AuditSpan
	for _, s := range spans {
		if s.OperationType == model.OpWorkflow && s.ResourceId == workflowId.String() {
			out = append(out, s)
			continue
		}
		if belongsToWorkflow(s, workflowId) {
			out = append(out, s)
		}
	}
	return out
}

// belongsToWorkflow implements the "filtered to spans whose path
// implies they belong to W" rule: a span belongs to W if its
// resourceId is W, or its attributes.workflowId names W (the
// convention engine/runtime uses for task/work-item spans).
func belongsToWorkflow(s *model.AuditSpan, workflowId model.WorkflowId) bool {
	if s.Attributes == nil {
		return false
	}
	if v, ok := s.Attributes["workflowId"]; ok {
		if wid, ok := v.(string); ok {
			return wid == workflowId.String()
		}
	}
	return false
}

func loadSpans(ctx context.Context, s store.Store, traceId model.TraceId, fromMs, toMs int64) ([]*model.AuditSpan, error) {
	it, err := s.QueryByIndex(ctx, "auditSpans", "traceId", store.Range{})
	if err != nil {
		return nil, fmt.Errorf("audit: query spans for trace %s: %w", traceId, err)
	}
	defer it.Close()
	var out []*model.AuditSpan
	for {
		row, ok, err := it.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("audit: iterate spans: %w", err)
		}
		if !ok {
			break
		}
		if fmt.Sprint(row["traceId"]) != traceId.String() {
			continue
		}
		span, err := rowToSpan(row)
		if err != nil {
			return nil, err
		}
		if span.StartedAtMs < fromMs || span.StartedAtMs > toMs {
			continue
		}
		out = append(out, span)
	}
	return out, nil
}

func rowToSpan(row store.Row) (*model.AuditSpan, error) {
	span := &model.AuditSpan{
		TraceId:       model.TraceId(asString(row["traceId"])),
		SpanId:        model.SpanId(asString(row["spanId"])),
		Operation:     asString(row["operation"]),
		OperationType: model.OperationType(asString(row["operationType"])),
		StartedAtMs:   asInt64(row["startedAt"]),
		State:         asString(row["state"]),
		ResourceType:  asString(row["resourceType"]),
		ResourceId:    asString(row["resourceId"]),
		ResourceName:  asString(row["resourceName"]),
	}
	span.SequenceNumber = asInt64(row["sequenceNumber"])
	span.Depth = int(asInt64(row["depth"]))
	if v, ok := row["parentSpanId"]; ok && asString(v) != "" {
		p := model.SpanId(asString(v))
		span.ParentSpanId = &p
	}
	if v, ok := row["endedAt"]; ok {
		e := asInt64(v)
		span.EndedAtMs = &e
	}
	if attrs, ok := row["attributes"].(map[string]any); ok {
		span.Attributes = attrs
	}
	if raw, ok := row["events"]; ok {
		if b, err := toBytes(raw); err == nil && len(b) > 0 {
			_ = json.Unmarshal(b, &span.Events)
		}
	}
	return span, nil
}

func toBytes(v any) ([]byte, error) {
	switch b := v.(type) {
	case json.RawMessage:
		return b, nil
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		return json.Marshal(v)
	}
}

func asString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// apply folds one span into state. It is idempotent per the rank
// rule documented above workflowRank/taskRank/workItemRank.
func apply(state *model.ReconstructedState, span *model.AuditSpan) {
	switch span.OperationType {
	case model.OpWorkflow:
		applyWorkflowSpan(state, span)
	case model.OpTask:
		applyTaskSpan(state, span)
	case model.OpWorkItem:
		applyWorkItemSpan(state, span)
	}
}

func applyWorkflowSpan(state *model.ReconstructedState, span *model.AuditSpan) {
	newState := model.WorkflowState(asString(span.Attributes["state"]))
	if newState == "" {
		return
	}
	if workflowRank[newState] >= workflowRank[state.WorkflowState] {
		state.WorkflowState = newState
	}
	if m, ok := span.Attributes["marking"].(map[string]any); ok {
		marking := make(model.Marking, len(m))
		for k, v := range m {
			marking[model.ConditionName(k)] = int(asInt64(v))
		}
		state.Marking = marking
	}
}

func applyTaskSpan(state *model.ReconstructedState, span *model.AuditSpan) {
	name := model.TaskName(span.ResourceName)
	if name == "" {
		return
	}
	newState := model.TaskState(asString(span.Attributes["state"]))
	generation := int(asInt64(span.Attributes["generation"]))
	existing, ok := state.Tasks[name]
	if !ok || generation > existing.Generation ||
		(generation == existing.Generation && taskRank[newState] >= taskRank[existing.State]) {
		state.Tasks[name] = model.TaskInstance{TaskName: name, Generation: generation, State: newState}
	}
}

func applyWorkItemSpan(state *model.ReconstructedState, span *model.AuditSpan) {
	id := model.WorkItemId(span.ResourceId)
	if id == "" {
		return
	}
	newState := model.WorkItemState(asString(span.Attributes["state"]))
	existing, ok := state.WorkItems[id]
	if ok && workItemRank[newState] < workItemRank[existing.State] {
		return
	}
	wi := existing
	wi.Id = id
	wi.State = newState
	wi.TaskName = model.TaskName(asString(span.Attributes["taskName"]))
	if uid := asString(span.Attributes["claimUserId"]); uid != "" {
		wi.Claim = &model.Claim{UserId: model.UserId(uid), ClaimedAtMs: asInt64(span.Attributes["claimedAtMs"])}
	}
	state.WorkItems[id] = wi
}
