package model

import "github.com/flowforge/flowforge/engine/core"

// WorkflowId identifies a WorkflowInstance. For a root workflow it also
// serves as the owning AuditTrace's TraceId.
type WorkflowId core.ID

func (id WorkflowId) String() string { return core.ID(id).String() }
func (id WorkflowId) IsZero() bool   { return core.ID(id).IsZero() }

// TraceId identifies an AuditTrace; equal in value to its root WorkflowId.
type TraceId core.ID

func (id TraceId) String() string { return core.ID(id).String() }
func (id TraceId) IsZero() bool   { return core.ID(id).IsZero() }

// SpanId identifies a single AuditSpan.
type SpanId core.ID

func (id SpanId) String() string { return core.ID(id).String() }
func (id SpanId) IsZero() bool   { return core.ID(id).IsZero() }

// WorkItemId identifies a WorkItem.
type WorkItemId core.ID

func (id WorkItemId) String() string { return core.ID(id).String() }
func (id WorkItemId) IsZero() bool   { return core.ID(id).IsZero() }

// UserId identifies an actor, as returned by the host Auth capability.
type UserId core.ID

func (id UserId) String() string { return core.ID(id).String() }
func (id UserId) IsZero() bool   { return core.ID(id).IsZero() }

// TaskName is a definition-scoped task identifier, unique within one
// WorkflowDefinition.
type TaskName string

// ConditionName is a definition-scoped condition (place) identifier.
type ConditionName string

// ScopeName is the dotted "module:capability" authorization scope name.
type ScopeName string

// Module returns the portion of the scope before the colon.
func (s ScopeName) Module() string {
	for i := range s {
		if s[i] == ':' {
			return string(s[:i])
		}
	}
	return string(s)
}

// Capability returns the portion of the scope after the colon.
func (s ScopeName) Capability() string {
	for i := range s {
		if s[i] == ':' {
			return string(s[i+1:])
		}
	}
	return ""
}

// NewWorkflowId generates a fresh WorkflowId.
func NewWorkflowId() (WorkflowId, error) {
	id, err := core.NewID()
	return WorkflowId(id), err
}

// NewSpanId generates a fresh SpanId.
func NewSpanId() (SpanId, error) {
	id, err := core.NewID()
	return SpanId(id), err
}

// NewWorkItemId generates a fresh WorkItemId.
func NewWorkItemId() (WorkItemId, error) {
	id, err := core.NewID()
	return WorkItemId(id), err
}
