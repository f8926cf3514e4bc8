package version

import (
	"context"
	"encoding/json"

	"github.com/flowforge/flowforge/engine/model"
	"github.com/flowforge/flowforge/engine/runtime"
)

// Facade is the thin (name, version)-bound view of the runtime
// operations: every method simply forwards to the Engine
// Manager.Resolve built for this definition. Host code and
// engine/composite depend on this surface rather than constructing a
// *runtime.Engine themselves.
type Facade struct {
	Name    string
	Version string
	engine  *runtime.Engine
}

// Engine exposes the underlying *runtime.Engine for callers that need
// operations Facade does not re-declare, such as OnTerminal
// registration (used by engine/composite to link a child's completion
// back to its parent task).
func (f *Facade) Engine() *runtime.Engine {
	return f.engine
}

func (f *Facade) InitializeRoot(ctx context.Context, payload json.RawMessage, actor model.UserId) (model.WorkflowId, error) {
	return f.engine.InitializeRoot(ctx, payload, actor)
}

func (f *Facade) InitializeWorkItem(
	ctx context.Context,
	workflowId model.WorkflowId,
	taskName model.TaskName,
	payload json.RawMessage,
	actor model.UserId,
) (model.WorkItemId, error) {
	return f.engine.InitializeWorkItem(ctx, workflowId, taskName, payload, actor)
}

func (f *Facade) StartWorkItem(ctx context.Context, workItemId model.WorkItemId, actor model.UserId) error {
	return f.engine.StartWorkItem(ctx, workItemId, actor)
}

func (f *Facade) CompleteWorkItem(ctx context.Context, workItemId model.WorkItemId, payload json.RawMessage, actor model.UserId) error {
	return f.engine.CompleteWorkItem(ctx, workItemId, payload, actor)
}

func (f *Facade) CancelWorkItem(ctx context.Context, workItemId model.WorkItemId, actor model.UserId) error {
	return f.engine.CancelWorkItem(ctx, workItemId, actor)
}

func (f *Facade) CancelWorkflow(ctx context.Context, workflowId model.WorkflowId, actor model.UserId) error {
	return f.engine.CancelWorkflow(ctx, workflowId, actor)
}

func (f *Facade) GetTaskStates(ctx context.Context, workflowId model.WorkflowId) (map[model.TaskName]model.TaskState, error) {
	return f.engine.GetTaskStates(ctx, workflowId)
}

func (f *Facade) ListWorkItems(ctx context.Context, workflowId model.WorkflowId) ([]*model.WorkItem, error) {
	return f.engine.ListWorkItems(ctx, workflowId)
}

func (f *Facade) StartCompositeTask(ctx context.Context, workflowId model.WorkflowId, taskName model.TaskName) (string, error) {
	return f.engine.StartCompositeTask(ctx, workflowId, taskName)
}

func (f *Facade) CompleteCompositeTask(ctx context.Context, workflowId model.WorkflowId, taskName model.TaskName, childPayload json.RawMessage) error {
	return f.engine.CompleteCompositeTask(ctx, workflowId, taskName, childPayload)
}
