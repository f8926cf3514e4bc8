package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowforge/engine/model"
	"github.com/flowforge/flowforge/engine/store"
	"github.com/flowforge/flowforge/engine/store/memstore"
)

func seedWorkflowSpan(t *testing.T, s store.Store, traceId model.TraceId, seq int64, atMs int64, state model.WorkflowState) {
	t.Helper()
	row := store.Row{
		"spanId":         model.SpanId(ksuidLike(seq)).String(),
		"traceId":        traceId.String(),
		"depth":          0,
		"operation":      "transition",
		"operationType":  string(model.OpWorkflow),
		"startedAt":      atMs,
		"state":          "closed",
		"sequenceNumber": seq,
		"resourceType":   "workflow",
		"resourceId":     traceId.String(),
		"resourceName":   "greeting",
		"attributes":     map[string]any{"state": string(state)},
	}
	_, err := s.Insert(context.Background(), "auditSpans", row)
	require.NoError(t, err)
}

// ksuidLike fabricates a distinct deterministic span id string for
// fixtures; reconstruction never depends on its format.
func ksuidLike(n int64) string {
	digits := "0123456789"
	s := ""
	for n > 0 || s == "" {
		s = string(digits[n%10]) + s
		n /= 10
	}
	return "span-" + s
}

func TestReconstruct_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	traceId := model.TraceId("wf-idem")
	workflowId := model.WorkflowId(traceId)

	seedWorkflowSpan(t, s, traceId, 0, 1000, model.WorkflowInitialized)
	seedWorkflowSpan(t, s, traceId, 1, 1010, model.WorkflowStarted)
	seedWorkflowSpan(t, s, traceId, 2, 1020, model.WorkflowCompleted)

	first, err := Reconstruct(ctx, s, nil, traceId, 2000, workflowId, true)
	require.NoError(t, err)
	second, err := Reconstruct(ctx, s, nil, traceId, 2000, workflowId, true)
	require.NoError(t, err)

	assert.Equal(t, first.WorkflowState, second.WorkflowState)
	assert.Equal(t, model.WorkflowCompleted, first.WorkflowState)
}

func TestReconstruct_OrderIndependentWithinATie(t *testing.T) {
	ctx := context.Background()
	traceId := model.TraceId("wf-tie")
	workflowId := model.WorkflowId(traceId)

	// Two spans share StartedAtMs (a cross-transaction tie, per the
	// package comment on AuditSpan); reconstruction must converge on the
	// same rank regardless of which SequenceNumber happens to be larger.
	buildStore := func(order []model.WorkflowState) store.Store {
		s := memstore.New()
		for i, st := range order {
			seedWorkflowSpan(t, s, traceId, int64(i), 1500, st)
		}
		return s
	}

	forward := buildStore([]model.WorkflowState{model.WorkflowStarted, model.WorkflowCompleted})
	backward := buildStore([]model.WorkflowState{model.WorkflowCompleted, model.WorkflowStarted})

	stateForward, err := Reconstruct(ctx, forward, nil, traceId, 2000, workflowId, true)
	require.NoError(t, err)
	stateBackward, err := Reconstruct(ctx, backward, nil, traceId, 2000, workflowId, true)
	require.NoError(t, err)

	assert.Equal(t, model.WorkflowCompleted, stateForward.WorkflowState)
	assert.Equal(t, model.WorkflowCompleted, stateBackward.WorkflowState)
}

func TestReconstruct_CacheAbsenceNeverChangesResult(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	traceId := model.TraceId("wf-nocache")
	workflowId := model.WorkflowId(traceId)

	seedWorkflowSpan(t, s, traceId, 0, 1000, model.WorkflowInitialized)
	seedWorkflowSpan(t, s, traceId, 1, 1010, model.WorkflowStarted)

	withCache, err := Reconstruct(ctx, s, noopCache{}, traceId, 2000, workflowId, true)
	require.NoError(t, err)
	withoutCache, err := Reconstruct(ctx, s, nil, traceId, 2000, workflowId, true)
	require.NoError(t, err)

	assert.Equal(t, withoutCache.WorkflowState, withCache.WorkflowState)
}

type noopCache struct{}

func (noopCache) Latest(_ context.Context, _ model.TraceId, _ int64) (model.AuditWorkflowSnapshot, bool, error) {
	return model.AuditWorkflowSnapshot{}, false, nil
}
