package model

import "encoding/json"

// WorkItemState is the lifecycle state of a WorkItem:
//
//	created --offer--> offered --claim--> claimed --start--> started --complete--> completed
//	   |                  |                  |                  |
//	   +---cancel---------+------cancel------+------cancel------+----fail--> failed
type WorkItemState string

const (
	WorkItemCreated   WorkItemState = "created"
	WorkItemOffered   WorkItemState = "offered"
	WorkItemClaimed   WorkItemState = "claimed"
	WorkItemStarted   WorkItemState = "started"
	WorkItemCompleted WorkItemState = "completed"
	WorkItemCanceled  WorkItemState = "canceled"
	WorkItemFailed    WorkItemState = "failed"
)

// IsTerminal reports whether s is a terminal WorkItemState.
func (s WorkItemState) IsTerminal() bool {
	switch s {
	case WorkItemCompleted, WorkItemCanceled, WorkItemFailed:
		return true
	default:
		return false
	}
}

// Offer is the populated audience for a WorkItem, derived from its
// task's OfferTemplate at creation time.
type Offer struct {
	RequiredScope   ScopeName
	ClaimPolicyCEL  string
	PreassignedUser UserId
	GroupRestrict   string
}

// Claim records who claimed a WorkItem and when.
type Claim struct {
	UserId      UserId
	ClaimedAtMs int64
}

// WorkItem is a concrete offer of a human (or automated) task to an actor.
type WorkItem struct {
	Id               WorkItemId
	WorkflowId       WorkflowId
	TaskName         TaskName
	Generation       int
	State            WorkItemState
	Offer            *Offer
	Claim            *Claim
	Payload          json.RawMessage
	AggregateTableId string
}
