package runtime

import (
	"context"
	"encoding/json"

	"github.com/flowforge/flowforge/engine/enablement"
	"github.com/flowforge/flowforge/engine/model"
)

// TaskCallbacks are the host-supplied domain-glue actions for one
// task: OnStart runs when a work item starts, OnComplete runs when it
// completes and declares which outgoing conditions receive the
// split's tokens.
type TaskCallbacks struct {
	OnStart func(ctx context.Context, wi *model.WorkItem) error
	OnComplete func(
		ctx context.Context,
		wi *model.WorkItem,
		payload json.RawMessage,
	) (enablement.SplitChoice, error)
}

// CallbackRegistry binds a WorkflowDefinition's Initialize action and
// every task's callbacks. A zero-value entry for a task is legal: with
// no OnComplete, the split receives every outgoing condition as its
// choice, so an and- or or-split marks each of them and an xor-split
// marks its first declared outgoing condition.
type CallbackRegistry struct {
	Initialize func(ctx context.Context, wf *model.WorkflowInstance, payload json.RawMessage) error
	Tasks      map[model.TaskName]TaskCallbacks
}

func (r CallbackRegistry) forTask(name model.TaskName) TaskCallbacks {
	if r.Tasks == nil {
		return TaskCallbacks{}
	}
	return r.Tasks[name]
}
