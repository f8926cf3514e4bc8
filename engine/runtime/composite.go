package runtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/flowforge/flowforge/engine/core"
	"github.com/flowforge/flowforge/engine/enablement"
	"github.com/flowforge/flowforge/engine/model"
)

// StartCompositeTask transitions a composite task enabled -> started,
// firing its incoming token, and returns its subDefinition reference
// ("name@version") for engine/composite to resolve and instantiate as
// a child workflow. engine/runtime never instantiates the child
// itself: it has no dependency on engine/version, which depends on
// engine/runtime instead.
func (e *Engine) StartCompositeTask(ctx context.Context, workflowId model.WorkflowId, taskName model.TaskName) (string, error) {
	wf, err := e.loadWorkflow(ctx, workflowId)
	if err != nil {
		return "", err
	}
	taskDef, ok := e.def.Tasks[taskName]
	if !ok || taskDef.Kind != model.TaskComposite {
		return "", core.NewKindError(core.ErrNotEnabled, fmt.Sprintf("task %s is not a composite task", taskName), nil)
	}
	tasks, err := e.loadTasks(ctx, workflowId)
	if err != nil {
		return "", err
	}
	inst, ok := tasks[taskName]
	if !ok || inst.State != model.TaskEnabled {
		return "", core.NewKindError(core.ErrNotEnabled, fmt.Sprintf("task %s is not enabled", taskName), nil)
	}

	now := e.clock.Now(ctx)
	wf.Marking = enablement.Fire(e.def, wf.Marking, taskDef)
	inst.State = model.TaskStarted
	if err := e.saveTask(ctx, inst); err != nil {
		return "", err
	}
	if err := e.saveWorkflow(ctx, wf); err != nil {
		return "", err
	}
	e.emitTaskSpan(ctx, wf, taskName, inst.Generation, now, "started")
	e.emitWorkflowSpan(ctx, wf, now, "progressed")
	if err := e.flushTrace(ctx, wf); err != nil {
		return "", err
	}
	return taskDef.SubDefinition, nil
}

// CompleteCompositeTask applies a composite task's split once its
// child sub-workflow has reached WorkflowCompleted: when the child
// reaches completed, the parent task's OnComplete is invoked with the
// child's terminal payload, and only then is the parent task's split
// applied. Mirrors runAutomatedTask/CompleteWorkItem, the other two
// task-completion paths.
func (e *Engine) CompleteCompositeTask(
	ctx context.Context,
	workflowId model.WorkflowId,
	taskName model.TaskName,
	childPayload json.RawMessage,
) error {
	wf, err := e.loadWorkflow(ctx, workflowId)
	if err != nil {
		return err
	}
	taskDef, ok := e.def.Tasks[taskName]
	if !ok || taskDef.Kind != model.TaskComposite {
		return core.NewKindError(core.ErrNotEnabled, fmt.Sprintf("task %s is not a composite task", taskName), nil)
	}
	tasks, err := e.loadTasks(ctx, workflowId)
	if err != nil {
		return err
	}
	inst, ok := tasks[taskName]
	if !ok || inst.State != model.TaskStarted {
		return core.NewKindError(core.ErrWrongState, fmt.Sprintf("composite task %s is not started", taskName), nil)
	}

	choice := enablement.SplitChoice{Conditions: taskDef.Outgoing}
	cb := e.callbacks.forTask(taskName)
	if cb.OnComplete != nil {
		var err error
		choice, err = cb.OnComplete(ctx, nil, childPayload)
		if err != nil {
			inst.State = model.TaskCanceled
			_ = e.saveTask(ctx, inst)
			e.emitTaskSpan(ctx, wf, taskName, inst.Generation, e.clock.Now(ctx), "failed")
			return core.NewKindError(core.ErrCallbackFailed, fmt.Sprintf("composite task %s failed", taskName), err)
		}
	}

	now := e.clock.Now(ctx)
	wf.Marking = enablement.Place(taskDef, wf.Marking, choice)
	inst.State = model.TaskCompleted
	if err := e.saveTask(ctx, inst); err != nil {
		return err
	}
	e.emitTaskSpan(ctx, wf, taskName, inst.Generation, now, "completed")
	e.emitWorkflowSpan(ctx, wf, now, "progressed")

	if err := e.driveFixpoint(ctx, wf); err != nil {
		return err
	}
	if err := e.saveWorkflow(ctx, wf); err != nil {
		return err
	}
	return e.flushTrace(ctx, wf)
}
