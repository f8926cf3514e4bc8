package model

// OperationType classifies an AuditSpan by the kind of entity it records.
type OperationType string

const (
	OpWorkflow OperationType = "workflow"
	OpTask     OperationType = "task"
	OpCondition OperationType = "condition"
	OpWorkItem OperationType = "work_item"
	OpError    OperationType = "error"
)

// AuditTrace is the audit record of a root workflow and its descendants.
type AuditTrace struct {
	TraceId         TraceId
	Name            string
	State           WorkflowState
	StartedAtMs     int64
	EndedAtMs       *int64
	InitiatorUserId *UserId
	Attributes      map[string]any
}

// SpanEvent is a single timestamped note attached to a span (e.g. a
// retry, a callback error detail) that is appended while the span is
// open and frozen once the span's EndedAtMs is set.
type SpanEvent struct {
	AtMs       int64
	Name       string
	Attributes map[string]any
}

// AuditSpan is a single timed operation in a trace, parented into a
// tree via ParentSpanId/Depth. SequenceNumber tie-breaks spans sharing
// StartedAtMs within one flush (one host transaction); across flushes
// that share a millisecond, spans are unorderable by design and
// reconstruction must treat them as a set.
type AuditSpan struct {
	SpanId         SpanId
	TraceId        TraceId
	ParentSpanId   *SpanId
	Depth          int
	Path           []TaskName
	Operation      string
	OperationType  OperationType
	StartedAtMs    int64
	EndedAtMs      *int64
	State          string
	SequenceNumber int64
	ResourceType   string
	ResourceId     string
	ResourceName   string
	Attributes     map[string]any
	Events         []SpanEvent
}

// IsOpen reports whether the span has not yet been closed.
func (s *AuditSpan) IsOpen() bool { return s.EndedAtMs == nil }

// AuditWorkflowSnapshot caches a reconstructed workflow state at a
// point in time. Snapshots are strictly a performance aid: deleting
// one must never change what Reconstruct returns for any timestamp.
type AuditWorkflowSnapshot struct {
	TraceId        TraceId
	WorkflowId     WorkflowId
	TimestampMs    int64
	SequenceNumber int64
	State          ReconstructedState
}

// ReconstructedState is the projection returned by GetWorkflowStateAtTime:
// workflow status, marking, per-task state/generation, per-work-item
// state/claim, as of the requested timestamp.
type ReconstructedState struct {
	WorkflowState  WorkflowState
	Marking        Marking
	Tasks          map[TaskName]TaskInstance
	WorkItems      map[WorkItemId]WorkItem
}

// AuditContext is the per-workflow handle holding in-flight trace
// metadata between transactions: the buffered, not-yet-flushed spans
// and the next SequenceNumber to assign.
type AuditContext struct {
	WorkflowId  WorkflowId
	TraceId     TraceId
	NextSeq     int64
	Pending     []*AuditSpan
}
