package runtime

import (
	"context"
	"fmt"

	"github.com/flowforge/flowforge/engine/core"
	"github.com/flowforge/flowforge/engine/enablement"
	"github.com/flowforge/flowforge/engine/model"
)

// driveFixpoint implements the scheduler's central invariant:
// repeatedly identify newly enabled tasks, run automated ones
// synchronously to completion, and auto-offer human ones, until no
// task newly enables. It runs entirely against in-memory state plus
// Store calls the caller's single transaction already covers; it never
// suspends.
func (e *Engine) driveFixpoint(ctx context.Context, wf *model.WorkflowInstance) error {
	iterations := 0
	for {
		iterations++
		tasks, err := e.loadTasks(ctx, wf.Id)
		if err != nil {
			return err
		}
		newly := enablement.Evaluate(e.def, wf.Marking, enabledTaskSet(tasks), terminalTaskSet(tasks))
		if len(newly) == 0 {
			break
		}
		progressed := false
		for _, name := range newly {
			if err := e.enableTask(ctx, wf, tasks, name); err != nil {
				return err
			}
			progressed = true
		}
		if !progressed {
			break
		}
	}
	e.metrics.RecordFixpointIterations(ctx, iterations)
	if wf.Marking.Tokens(e.def.EndCondition) >= 1 && !wf.State.IsTerminal() {
		e.completeWorkflow(ctx, wf)
	}
	return nil
}

func (e *Engine) enableTask(
	ctx context.Context,
	wf *model.WorkflowInstance,
	tasks map[model.TaskName]model.TaskInstance,
	name model.TaskName,
) error {
	taskDef := e.def.Tasks[name]
	generation := 1
	if prev, ok := tasks[name]; ok {
		generation = prev.Generation + 1
	}
	now := e.clock.Now(ctx)
	inst := model.TaskInstance{WorkflowId: wf.Id, TaskName: name, Generation: generation, State: model.TaskEnabled}
	if err := e.saveTask(ctx, inst); err != nil {
		return err
	}
	e.emitTaskSpan(ctx, wf, name, generation, now, "enabled")
	tasks[name] = inst

	switch taskDef.Kind {
	case model.TaskAutomated:
		return e.runAutomatedTask(ctx, wf, taskDef, inst)
	case model.TaskHuman:
		if taskDef.Offer != nil {
			_, err := e.createWorkItem(ctx, wf, taskDef, inst, nil)
			return err
		}
		return nil
	default:
		// Composite tasks are started by engine/composite once it
		// observes the task enter TaskEnabled; engine/runtime itself
		// does not instantiate sub-workflows.
		return nil
	}
}

func (e *Engine) runAutomatedTask(
	ctx context.Context,
	wf *model.WorkflowInstance,
	taskDef *model.TaskDefinition,
	inst model.TaskInstance,
) error {
	now := e.clock.Now(ctx)
	wf.Marking = enablement.Fire(e.def, wf.Marking, taskDef)
	inst.State = model.TaskStarted
	if err := e.saveTask(ctx, inst); err != nil {
		return err
	}
	e.emitTaskSpan(ctx, wf, taskDef.Name, inst.Generation, now, "started")

	choice := enablement.SplitChoice{Conditions: taskDef.Outgoing}
	cb := e.callbacks.forTask(taskDef.Name)
	if cb.OnComplete != nil {
		var err error
		choice, err = cb.OnComplete(ctx, nil, nil)
		if err != nil {
			inst.State = model.TaskCanceled
			_ = e.saveTask(ctx, inst)
			e.emitTaskSpan(ctx, wf, taskDef.Name, inst.Generation, e.clock.Now(ctx), "failed")
			return core.NewKindError(core.ErrCallbackFailed, fmt.Sprintf("automated task %s failed", taskDef.Name), err)
		}
	}
	wf.Marking = enablement.Place(taskDef, wf.Marking, choice)
	inst.State = model.TaskCompleted
	if err := e.saveTask(ctx, inst); err != nil {
		return err
	}
	completedAt := e.clock.Now(ctx)
	e.emitTaskSpan(ctx, wf, taskDef.Name, inst.Generation, completedAt, "completed")
	e.emitWorkflowSpan(ctx, wf, completedAt, "progressed")
	return nil
}

func (e *Engine) completeWorkflow(ctx context.Context, wf *model.WorkflowInstance) {
	now := e.clock.Now(ctx)
	wf.State = model.WorkflowCompleted
	wf.EndedAtMs = &now
	e.emitWorkflowSpan(ctx, wf, now, "completed")
	if e.onTerminal != nil {
		e.onTerminal(ctx, wf)
	}
}

func (e *Engine) emitWorkflowSpan(ctx context.Context, wf *model.WorkflowInstance, atMs int64, state string) {
	span, err := e.emitter.StartSpan(wf.Id, model.TraceId(wf.Id), nil, 0, nil, "transition", model.OpWorkflow,
		atMs, "workflow", wf.Id.String(), e.def.Name, map[string]any{"state": string(wf.State), "marking": markingAttr(wf.Marking)})
	if err == nil {
		e.emitter.CloseSpan(span, atMs, state)
	}
	e.metrics.RecordWorkflowSpan(ctx, state)
}

func (e *Engine) emitTaskSpan(ctx context.Context, wf *model.WorkflowInstance, name model.TaskName, generation int, atMs int64, state string) {
	span, err := e.emitter.StartSpan(wf.Id, model.TraceId(wf.Id), nil, 1, []model.TaskName{name}, "transition", model.OpTask,
		atMs, "task", string(name), string(name),
		map[string]any{"state": taskSpanState(state), "generation": generation, "workflowId": wf.Id.String()})
	if err == nil {
		e.emitter.CloseSpan(span, atMs, state)
	}
	e.metrics.RecordTaskSpan(ctx, string(name), state)
}

// taskSpanState maps the span's human-readable transition label to the
// TaskState recorded in attributes.state for reconstruction.
func taskSpanState(label string) string {
	switch label {
	case "enabled":
		return string(model.TaskEnabled)
	case "started":
		return string(model.TaskStarted)
	case "completed":
		return string(model.TaskCompleted)
	case "failed", "canceled":
		return string(model.TaskCanceled)
	default:
		return label
	}
}

func markingAttr(m model.Marking) map[string]any {
	out := make(map[string]any, len(m))
	for c, n := range m {
		out[string(c)] = n
	}
	return out
}
