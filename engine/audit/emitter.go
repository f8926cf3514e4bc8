// Package audit implements the span-structured event log: buffered
// emission within a transaction, idempotent flush to the host store,
// and point-in-time reconstruction of workflow state.
package audit

import (
	"sync"

	"github.com/flowforge/flowforge/engine/model"
)

// Emitter buffers spans per workflow between Flush calls. One Emitter
// is shared by every workflow in a process; callers key everything by
// WorkflowId, so concurrent workflows never contend on the same
// AuditContext.
type Emitter struct {
	mu       sync.Mutex
	contexts map[model.WorkflowId]*model.AuditContext
}

// NewEmitter returns an empty Emitter.
func NewEmitter() *Emitter {
	return &Emitter{contexts: make(map[model.WorkflowId]*model.AuditContext)}
}

func (e *Emitter) context(workflowId model.WorkflowId, traceId model.TraceId) *model.AuditContext {
	e.mu.Lock()
	defer e.mu.Unlock()
	ctx, ok := e.contexts[workflowId]
	if !ok {
		ctx = &model.AuditContext{WorkflowId: workflowId, TraceId: traceId}
		e.contexts[workflowId] = ctx
	}
	return ctx
}

// StartSpan opens a new span for workflowId/traceId, assigns it the
// next SequenceNumber in this flush, and buffers it.
func (e *Emitter) StartSpan(
	workflowId model.WorkflowId,
	traceId model.TraceId,
	parent *model.SpanId,
	depth int,
	path []model.TaskName,
	operation string,
	opType model.OperationType,
	startedAtMs int64,
	resourceType, resourceId, resourceName string,
	attributes map[string]any,
) (*model.AuditSpan, error) {
	id, err := model.NewSpanId()
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	ctx := e.contextLocked(workflowId, traceId)
	seq := ctx.NextSeq
	ctx.NextSeq++
	span := &model.AuditSpan{
		SpanId:         id,
		TraceId:        traceId,
		ParentSpanId:   parent,
		Depth:          depth,
		Path:           path,
		Operation:      operation,
		OperationType:  opType,
		StartedAtMs:    startedAtMs,
		State:          "open",
		SequenceNumber: seq,
		ResourceType:   resourceType,
		ResourceId:     resourceId,
		ResourceName:   resourceName,
		Attributes:     attributes,
	}
	ctx.Pending = append(ctx.Pending, span)
	e.mu.Unlock()
	return span, nil
}

func (e *Emitter) contextLocked(workflowId model.WorkflowId, traceId model.TraceId) *model.AuditContext {
	ctx, ok := e.contexts[workflowId]
	if !ok {
		ctx = &model.AuditContext{WorkflowId: workflowId, TraceId: traceId}
		e.contexts[workflowId] = ctx
	}
	return ctx
}

// CloseSpan sets span's terminal state and EndedAtMs. Closed spans are
// never mutated again except by a subsequent idempotent Flush
// re-upserting the same terminal fields.
func (e *Emitter) CloseSpan(span *model.AuditSpan, endedAtMs int64, state string) {
	span.EndedAtMs = &endedAtMs
	span.State = state
}

// AddEvent appends an event to an open span.
func (e *Emitter) AddEvent(span *model.AuditSpan, atMs int64, name string, attrs map[string]any) {
	span.Events = append(span.Events, model.SpanEvent{AtMs: atMs, Name: name, Attributes: attrs})
}

// Pending returns the not-yet-flushed spans for workflowId.
func (e *Emitter) Pending(workflowId model.WorkflowId) []*model.AuditSpan {
	e.mu.Lock()
	defer e.mu.Unlock()
	ctx, ok := e.contexts[workflowId]
	if !ok {
		return nil
	}
	return ctx.Pending
}

// clearPending drops workflowId's buffered spans after a successful flush.
func (e *Emitter) clearPending(workflowId model.WorkflowId) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ctx, ok := e.contexts[workflowId]; ok {
		ctx.Pending = nil
	}
}
