package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowforge/engine/model"
	"github.com/flowforge/flowforge/engine/store/memstore"
)

func TestFlush_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	emitter := NewEmitter()
	workflowId := model.WorkflowId("wf-1")
	traceId := model.TraceId("wf-1")

	span, err := emitter.StartSpan(workflowId, traceId, nil, 0, nil, "initialize", model.OpWorkflow,
		1000, "workflow", "wf-1", "greeting", map[string]any{"state": string(model.WorkflowStarted)})
	require.NoError(t, err)
	emitter.CloseSpan(span, 1005, "closed")

	trace := &model.AuditTrace{TraceId: traceId, Name: "greeting", State: model.WorkflowStarted, StartedAtMs: 1000}

	require.NoError(t, Flush(ctx, s, emitter, trace, workflowId))
	assert.Empty(t, emitter.Pending(workflowId))

	reader := NewReader(s)
	spans, err := reader.GetTraceSpans(ctx, traceId)
	require.NoError(t, err)
	require.Len(t, spans, 1)

	t.Run("Should flush to the same row on a second flush of the same span", func(t *testing.T) {
		span2, err := emitter.StartSpan(workflowId, traceId, nil, 0, nil, "initialize", model.OpWorkflow,
			1000, "workflow", "wf-1", "greeting", map[string]any{"state": string(model.WorkflowStarted)})
		require.NoError(t, err)
		span2.SpanId = span.SpanId
		emitter.CloseSpan(span2, 1005, "closed")
		require.NoError(t, Flush(ctx, s, emitter, trace, workflowId))

		spans, err := reader.GetTraceSpans(ctx, traceId)
		require.NoError(t, err)
		assert.Len(t, spans, 1, "re-flushing the same spanId must patch, never duplicate")
	})
}

func TestFlush_NoPendingIsNoop(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	emitter := NewEmitter()
	require.NoError(t, Flush(ctx, s, emitter, nil, model.WorkflowId("wf-none")))
}
