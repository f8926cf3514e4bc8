package model

import "encoding/json"

// JoinKind is how a task's incoming conditions combine to enable it.
type JoinKind string

const (
	JoinXor  JoinKind = "xor"
	JoinAnd  JoinKind = "and"
	JoinOr   JoinKind = "or"
	JoinNone JoinKind = ""
)

// SplitKind is how a task's completion places tokens on outgoing conditions.
type SplitKind string

const (
	SplitXor  SplitKind = "xor"
	SplitAnd  SplitKind = "and"
	SplitOr   SplitKind = "or"
	SplitNone SplitKind = ""
)

// TaskKind distinguishes human, automated, and composite tasks.
type TaskKind string

const (
	TaskHuman     TaskKind = "human"
	TaskAutomated TaskKind = "automated"
	TaskComposite TaskKind = "composite"
)

// ConditionRole marks a condition as the unique start/end place or an
// ordinary internal place.
type ConditionRole string

const (
	ConditionStart    ConditionRole = "start"
	ConditionEnd      ConditionRole = "end"
	ConditionInternal ConditionRole = "internal"
)

// ORJoinPolicy names the implemented resolution strategy for or-joins
// whose predecessors are not all decided. Only ORJoinWaitForUpstreamTerminal
// is implemented; other values are reserved extension points.
type ORJoinPolicy string

const (
	// ORJoinWaitForUpstreamTerminal treats an or-join as resolvable once
	// every upstream task that could still produce a token into a
	// missing predecessor condition has reached a terminal state.
	ORJoinWaitForUpstreamTerminal ORJoinPolicy = "wait_for_upstream_terminal"
)

// OfferTemplate is the static portion of a human task's work-item offer:
// the audience it will be offered to once enabled.
type OfferTemplate struct {
	RequiredScope   ScopeName
	ClaimPolicyCEL  string // compiled CEL expression source, empty = always true
	PreassignedUser UserId
	GroupRestrict   string
}

// ConditionDefinition is an immutable place in a WorkflowDefinition.
type ConditionDefinition struct {
	Name ConditionName
	Role ConditionRole
}

// TaskDefinition is an immutable transition in a WorkflowDefinition.
type TaskDefinition struct {
	Name          TaskName
	Kind          TaskKind
	JoinKind      JoinKind
	SplitKind     SplitKind
	JoinPolicy    ORJoinPolicy
	Incoming      []ConditionName
	Outgoing      []ConditionName
	PayloadSchema json.RawMessage
	StartPolicyEL string // CEL expression; empty = no auto-claim-on-start
	WritePolicyEL string // CEL expression; empty = unrestricted
	Offer         *OfferTemplate
	SubDefinition string // composite tasks only: "name@version"
}

// WorkflowDefinition is an immutable graph of tasks and conditions,
// identified by (Name, Version). Build with engine/definition.Builder;
// never construct directly outside that package.
type WorkflowDefinition struct {
	Name            string
	Version         string
	StartCondition  ConditionName
	EndCondition    ConditionName
	Conditions      map[ConditionName]*ConditionDefinition
	Tasks           map[TaskName]*TaskDefinition
	InitializeEL    string // non-empty: InitializeRoot runs CallbackRegistry.Initialize; never evaluated as CEL
}

// Ref returns the (name, version) reference for this definition.
func (d *WorkflowDefinition) Ref() (string, string) {
	return d.Name, d.Version
}

// IncomingTasks returns the tasks that can place a token into c.
func (d *WorkflowDefinition) IncomingTasks(c ConditionName) []TaskName {
	var out []TaskName
	for name, t := range d.Tasks {
		for _, o := range t.Outgoing {
			if o == c {
				out = append(out, name)
				break
			}
		}
	}
	return out
}

// OutgoingTasks returns the tasks c can enable.
func (d *WorkflowDefinition) OutgoingTasks(c ConditionName) []TaskName {
	var out []TaskName
	for name, t := range d.Tasks {
		for _, in := range t.Incoming {
			if in == c {
				out = append(out, name)
				break
			}
		}
	}
	return out
}
