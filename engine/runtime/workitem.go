package runtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/flowforge/flowforge/engine/audit"
	"github.com/flowforge/flowforge/engine/core"
	"github.com/flowforge/flowforge/engine/enablement"
	"github.com/flowforge/flowforge/engine/model"
	"github.com/flowforge/flowforge/engine/store"
	"github.com/flowforge/flowforge/pkg/logger"
)

// createWorkItem offers taskDef to its declared audience, storing
// payload on the new work item. If a non-terminal work item already
// exists for this task generation, its id is returned and payload is
// not applied.
func (e *Engine) createWorkItem(
	ctx context.Context,
	wf *model.WorkflowInstance,
	taskDef *model.TaskDefinition,
	inst model.TaskInstance,
	payload json.RawMessage,
) (model.WorkItemId, error) {
	existing, found, err := e.store.Unique(ctx, tableWorkItems, "taskGenKey", workItemTaskKey(wf.Id, taskDef.Name, inst.Generation))
	if err != nil {
		return "", fmt.Errorf("runtime: check existing work item: %w", err)
	}
	if found {
		wi, err := rowToWorkItem(existing)
		if err == nil && !wi.State.IsTerminal() {
			return wi.Id, nil
		}
	}
	id, err := model.NewWorkItemId()
	if err != nil {
		return "", fmt.Errorf("runtime: new work item id: %w", err)
	}
	offer := &model.Offer{}
	if taskDef.Offer != nil {
		offer = &model.Offer{
			RequiredScope:   taskDef.Offer.RequiredScope,
			ClaimPolicyCEL:  taskDef.Offer.ClaimPolicyCEL,
			PreassignedUser: taskDef.Offer.PreassignedUser,
			GroupRestrict:   taskDef.Offer.GroupRestrict,
		}
	}
	wi := &model.WorkItem{
		Id:         id,
		WorkflowId: wf.Id,
		TaskName:   taskDef.Name,
		Generation: inst.Generation,
		State:      model.WorkItemOffered,
		Offer:      offer,
		Payload:    payload,
	}
	row, err := workItemRow(wi)
	if err != nil {
		return "", err
	}
	if _, err := e.store.Insert(ctx, tableWorkItems, row); err != nil {
		return "", fmt.Errorf("runtime: persist work item: %w", err)
	}
	e.emitWorkItemSpan(ctx, wf, wi, e.clock.Now(ctx), "offered")
	return id, nil
}

// InitializeWorkItem explicitly creates a work item for an enabled
// human task, validating payload against the task's schema. Most human
// tasks are auto-offered on enablement (see enableTask); this exists
// for tasks whose offer needs caller-supplied payload before it can be
// shown.
func (e *Engine) InitializeWorkItem(
	ctx context.Context,
	workflowId model.WorkflowId,
	taskName model.TaskName,
	payload json.RawMessage,
	_ model.UserId,
) (model.WorkItemId, error) {
	taskDef, ok := e.def.Tasks[taskName]
	if !ok || taskDef.Kind != model.TaskHuman {
		return "", core.NewKindError(core.ErrNotEnabled, fmt.Sprintf("task %s is not a human task", taskName), nil)
	}
	wf, err := e.loadWorkflow(ctx, workflowId)
	if err != nil {
		return "", err
	}
	tasks, err := e.loadTasks(ctx, workflowId)
	if err != nil {
		return "", err
	}
	inst, ok := tasks[taskName]
	if !ok || inst.State != model.TaskEnabled {
		return "", core.NewKindError(core.ErrNotEnabled, fmt.Sprintf("task %s is not enabled", taskName), nil)
	}
	if err := e.validator.Validate(taskDef.PayloadSchema, payload); err != nil {
		return "", core.NewKindError(core.ErrSchemaMismatch, err.Error(), err)
	}
	return e.createWorkItem(ctx, wf, taskDef, inst, payload)
}

// StartWorkItem transitions a work item offered|created|claimed ->
// started. A claimed item may be started only by its claimant. An
// offered or created item may be started by an actor whom the task's
// startPolicy admits or who satisfies the offer's claim requirements
// (RequireClaim); no claim is recorded in that case.
func (e *Engine) StartWorkItem(ctx context.Context, workItemId model.WorkItemId, actor model.UserId) error {
	wi, rowId, err := e.loadWorkItem(ctx, workItemId)
	if err != nil {
		return err
	}
	wf, err := e.loadWorkflow(ctx, wi.WorkflowId)
	if err != nil {
		return err
	}
	taskDef := e.def.Tasks[wi.TaskName]
	switch wi.State {
	case model.WorkItemClaimed:
		if wi.Claim != nil && wi.Claim.UserId != actor {
			return core.NewKindError(core.ErrAuthzDenied, "work item claimed by a different actor", nil)
		}
	case model.WorkItemCreated, model.WorkItemOffered:
		ok, err := e.authSvc.CanStart(ctx, taskDef.StartPolicyEL, actor, activationFor(actor, wf))
		if err != nil {
			return fmt.Errorf("runtime: evaluate start policy: %w", err)
		}
		if !ok {
			if err := e.authSvc.RequireClaim(ctx, wi.Offer, actor, activationFor(actor, wf)); err != nil {
				return err
			}
		}
	default:
		return core.NewKindError(core.ErrWrongState, fmt.Sprintf("work item %s cannot start from %s", workItemId, wi.State), nil)
	}

	tasks, err := e.loadTasks(ctx, wi.WorkflowId)
	if err != nil {
		return err
	}
	inst, ok := tasks[wi.TaskName]
	if !ok || inst.Generation != wi.Generation {
		return core.NewKindError(core.ErrWrongState, "task generation mismatch", nil)
	}
	now := e.clock.Now(ctx)
	wf.Marking = enablement.Fire(e.def, wf.Marking, taskDef)
	inst.State = model.TaskStarted
	if err := e.saveTask(ctx, inst); err != nil {
		return err
	}
	cb := e.callbacks.forTask(wi.TaskName)
	if cb.OnStart != nil {
		if err := cb.OnStart(ctx, wi); err != nil {
			return core.NewKindError(core.ErrCallbackFailed, "onStart failed", err)
		}
	}
	wi.State = model.WorkItemStarted
	if err := e.patchWorkItem(ctx, rowId, wi); err != nil {
		return err
	}
	if err := e.saveWorkflow(ctx, wf); err != nil {
		return err
	}
	e.emitWorkItemSpan(ctx, wf, wi, now, "started")
	e.emitTaskSpan(ctx, wf, wi.TaskName, inst.Generation, now, "started")
	e.emitWorkflowSpan(ctx, wf, now, "progressed")
	return e.flushTrace(ctx, wf)
}

// CompleteWorkItem validates payload, runs OnComplete, applies the
// task's split, transitions the task to completed, and recomputes
// enablement to fixpoint, all within the caller's single transaction.
func (e *Engine) CompleteWorkItem(
	ctx context.Context,
	workItemId model.WorkItemId,
	payload json.RawMessage,
	actor model.UserId,
) error {
	wi, rowId, err := e.loadWorkItem(ctx, workItemId)
	if err != nil {
		return err
	}
	if wi.State != model.WorkItemStarted {
		return core.NewKindError(core.ErrWrongState, fmt.Sprintf("work item %s is not started", workItemId), nil)
	}
	wf, err := e.loadWorkflow(ctx, wi.WorkflowId)
	if err != nil {
		return err
	}
	taskDef := e.def.Tasks[wi.TaskName]
	if err := e.validator.Validate(taskDef.PayloadSchema, payload); err != nil {
		return core.NewKindError(core.ErrSchemaMismatch, err.Error(), err)
	}

	choice := enablement.SplitChoice{Conditions: taskDef.Outgoing}
	cb := e.callbacks.forTask(wi.TaskName)
	if cb.OnComplete != nil {
		var err error
		choice, err = cb.OnComplete(ctx, wi, payload)
		if err != nil {
			wi.State = model.WorkItemFailed
			_ = e.patchWorkItem(ctx, rowId, wi)
			e.emitWorkItemSpan(ctx, wf, wi, e.clock.Now(ctx), "failed")
			return core.NewKindError(core.ErrCallbackFailed, "onComplete failed", err)
		}
	}

	now := e.clock.Now(ctx)
	wi.State = model.WorkItemCompleted
	wi.Payload = payload
	if err := e.patchWorkItem(ctx, rowId, wi); err != nil {
		return err
	}

	tasks, err := e.loadTasks(ctx, wi.WorkflowId)
	if err != nil {
		return err
	}
	inst := tasks[wi.TaskName]
	inst.State = model.TaskCompleted
	if err := e.saveTask(ctx, inst); err != nil {
		return err
	}
	wf.Marking = enablement.Place(taskDef, wf.Marking, choice)
	e.emitWorkItemSpan(ctx, wf, wi, now, "completed")
	e.emitTaskSpan(ctx, wf, wi.TaskName, inst.Generation, now, "completed")
	e.emitWorkflowSpan(ctx, wf, now, "progressed")

	if err := e.driveFixpoint(ctx, wf); err != nil {
		return err
	}
	if err := e.saveWorkflow(ctx, wf); err != nil {
		return err
	}
	logger.FromContext(ctx).Info("work item completed", "workItemId", workItemId.String(), "actor", actor.String())
	return e.flushTrace(ctx, wf)
}

// CancelWorkItem cancels a non-terminal work item without touching the
// workflow's marking; cancellation that should re-enable the task for
// a later generation is driven by CancelWorkflow or a future retry, not
// by this call.
func (e *Engine) CancelWorkItem(ctx context.Context, workItemId model.WorkItemId, _ model.UserId) error {
	wi, rowId, err := e.loadWorkItem(ctx, workItemId)
	if err != nil {
		return err
	}
	if wi.State.IsTerminal() {
		return nil
	}
	wf, err := e.loadWorkflow(ctx, wi.WorkflowId)
	if err != nil {
		return err
	}
	wi.State = model.WorkItemCanceled
	if err := e.patchWorkItem(ctx, rowId, wi); err != nil {
		return err
	}
	now := e.clock.Now(ctx)
	e.emitWorkItemSpan(ctx, wf, wi, now, "canceled")
	return e.flushTrace(ctx, wf)
}

// CancelWorkflow cascades cancellation to every non-terminal task
// instance and work item of workflowId within one pass, then marks the
// workflow canceled. Child workflows started by this workflow's
// composite tasks are not canceled by this call.
func (e *Engine) CancelWorkflow(ctx context.Context, workflowId model.WorkflowId, actor model.UserId) error {
	wf, err := e.loadWorkflow(ctx, workflowId)
	if err != nil {
		return err
	}
	if wf.State.IsTerminal() {
		return nil
	}
	items, err := e.loadWorkItemsForWorkflow(ctx, workflowId)
	if err != nil {
		return err
	}
	for _, wi := range items {
		if wi.State.IsTerminal() {
			continue
		}
		if err := e.CancelWorkItem(ctx, wi.Id, actor); err != nil {
			return err
		}
	}
	tasks, err := e.loadTasks(ctx, workflowId)
	if err != nil {
		return err
	}
	now := e.clock.Now(ctx)
	for name, t := range tasks {
		if t.State == model.TaskCompleted || t.State == model.TaskCanceled {
			continue
		}
		t.State = model.TaskCanceled
		if err := e.saveTask(ctx, t); err != nil {
			return err
		}
		e.emitTaskSpan(ctx, wf, name, t.Generation, now, "canceled")
	}
	wf.State = model.WorkflowCanceled
	wf.EndedAtMs = &now
	if err := e.saveWorkflow(ctx, wf); err != nil {
		return err
	}
	e.emitWorkflowSpan(ctx, wf, now, "canceled")
	if e.onTerminal != nil {
		e.onTerminal(ctx, wf)
	}
	return e.flushTrace(ctx, wf)
}

func (e *Engine) loadWorkItem(ctx context.Context, id model.WorkItemId) (*model.WorkItem, core.ID, error) {
	row, rowId, found, err := findByUnique(ctx, e.store, tableWorkItems, "workItemId", id.String())
	if err != nil {
		return nil, "", fmt.Errorf("runtime: load work item %s: %w", id, err)
	}
	if !found {
		return nil, "", core.NewKindError(core.ErrWrongState, "work item not found", nil)
	}
	wi, err := rowToWorkItem(row)
	if err != nil {
		return nil, "", err
	}
	return wi, rowId, nil
}

func (e *Engine) patchWorkItem(ctx context.Context, rowId core.ID, wi *model.WorkItem) error {
	row, err := workItemRow(wi)
	if err != nil {
		return err
	}
	return e.store.Patch(ctx, tableWorkItems, rowId, row)
}

// ListWorkItems returns every work item ever created for workflowId,
// across all generations, in no particular order. Host applications use
// this to discover the offered work item a newly enabled human task
// produced, since InitializeRoot/CompleteWorkItem do not themselves
// return downstream work-item ids.
func (e *Engine) ListWorkItems(ctx context.Context, workflowId model.WorkflowId) ([]*model.WorkItem, error) {
	return e.loadWorkItemsForWorkflow(ctx, workflowId)
}

func (e *Engine) loadWorkItemsForWorkflow(ctx context.Context, workflowId model.WorkflowId) ([]*model.WorkItem, error) {
	it, err := e.store.QueryByIndex(ctx, tableWorkItems, "workflowId", store.Range{})
	if err != nil {
		return nil, fmt.Errorf("runtime: query work items for %s: %w", workflowId, err)
	}
	defer it.Close()
	var out []*model.WorkItem
	for {
		row, ok, err := it.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if asString(row["workflowId"]) != workflowId.String() {
			continue
		}
		wi, err := rowToWorkItem(row)
		if err != nil {
			return nil, err
		}
		out = append(out, wi)
	}
	return out, nil
}

func (e *Engine) emitWorkItemSpan(ctx context.Context, wf *model.WorkflowInstance, wi *model.WorkItem, atMs int64, state string) {
	attrs := map[string]any{"state": workItemSpanState(state), "taskName": string(wi.TaskName), "workflowId": wf.Id.String()}
	if wi.Claim != nil {
		attrs["claimUserId"] = wi.Claim.UserId.String()
		attrs["claimedAtMs"] = wi.Claim.ClaimedAtMs
	}
	span, err := e.emitter.StartSpan(wf.Id, model.TraceId(wf.Id), nil, 1, []model.TaskName{wi.TaskName},
		"transition", model.OpWorkItem, atMs, "workItem", wi.Id.String(), string(wi.TaskName), attrs)
	if err == nil {
		e.emitter.CloseSpan(span, atMs, state)
	}
	e.metrics.RecordWorkItemSpan(ctx, state)
}

func workItemSpanState(label string) string {
	switch label {
	case "offered":
		return string(model.WorkItemOffered)
	case "claimed":
		return string(model.WorkItemClaimed)
	case "started":
		return string(model.WorkItemStarted)
	case "completed":
		return string(model.WorkItemCompleted)
	case "canceled":
		return string(model.WorkItemCanceled)
	case "failed":
		return string(model.WorkItemFailed)
	default:
		return label
	}
}

func (e *Engine) flushTrace(ctx context.Context, wf *model.WorkflowInstance) error {
	trace := &model.AuditTrace{TraceId: model.TraceId(wf.Id), Name: e.def.Name, State: wf.State, StartedAtMs: wf.StartedAtMs}
	if wf.EndedAtMs != nil {
		trace.EndedAtMs = wf.EndedAtMs
	}
	return audit.Flush(ctx, e.store, e.emitter, trace, wf.Id)
}
