package runtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/flowforge/flowforge/engine/audit"
	"github.com/flowforge/flowforge/engine/auth"
	"github.com/flowforge/flowforge/engine/core"
	"github.com/flowforge/flowforge/engine/model"
	"github.com/flowforge/flowforge/engine/store"
	"github.com/flowforge/flowforge/pkg/logger"
	"github.com/flowforge/flowforge/pkg/metrics"
)

const (
	tableWorkflows = "workflows"
	tableTasks     = "tasks"
	tableWorkItems = "workItems"
)

// Engine drives every instance of one WorkflowDefinition: enablement,
// work-item lifecycle, authorization, and audit emission. One Engine
// is constructed per (name, version) by
// engine/version.Manager; it holds no instance-scoped mutable state of
// its own, only the definition and the collaborators it was built with.
type Engine struct {
	def       *model.WorkflowDefinition
	callbacks CallbackRegistry

	store     store.Store
	authSvc   *auth.AuthorizationService
	clock     store.Clock
	emitter   *audit.Emitter
	validator *model.SchemaValidator
	metrics   *metrics.WorkflowMetrics

	onTerminal func(ctx context.Context, wf *model.WorkflowInstance)
}

// New constructs an Engine bound to def.
func New(
	def *model.WorkflowDefinition,
	callbacks CallbackRegistry,
	s store.Store,
	authSvc *auth.AuthorizationService,
	clock store.Clock,
	emitter *audit.Emitter,
) *Engine {
	return &Engine{
		def:       def,
		callbacks: callbacks,
		store:     s,
		authSvc:   authSvc,
		clock:     clock,
		emitter:   emitter,
		validator: model.NewSchemaValidator(),
	}
}

// Definition returns the WorkflowDefinition this Engine drives.
func (e *Engine) Definition() *model.WorkflowDefinition {
	return e.def
}

// SetMetrics attaches a metrics.WorkflowMetrics to record span emission
// and scheduling counts against. Optional: an Engine with none attached
// emits spans exactly as before, just without metric recording.
func (e *Engine) SetMetrics(m *metrics.WorkflowMetrics) {
	e.metrics = m
}

// OnTerminal registers a hook invoked once a workflow instance reaches
// a terminal root state, used by engine/composite to propagate
// completion to a parent task.
func (e *Engine) OnTerminal(hook func(ctx context.Context, wf *model.WorkflowInstance)) {
	e.onTerminal = hook
}

// InitializeRoot creates a new root WorkflowInstance, places a token
// on the start condition, runs the host's Initialize callback when the
// definition carries a non-empty InitializeEL, and drives enablement to
// fixpoint.
func (e *Engine) InitializeRoot(
	ctx context.Context,
	payload json.RawMessage,
	actor model.UserId,
) (model.WorkflowId, error) {
	return e.initialize(ctx, payload, actor, nil, "")
}

// InitializeChild is InitializeRoot for a composite sub-workflow:
// parentRef/parentTask link the child instance to its owning task, but
// the child gets its own trace span tree rooted at its own WorkflowId
// (snapshots are only cached for root workflows; reconstruction of a
// child still replays from its own spans).
func (e *Engine) InitializeChild(
	ctx context.Context,
	payload json.RawMessage,
	actor model.UserId,
	parentRef model.WorkflowId,
	parentTask model.TaskName,
) (model.WorkflowId, error) {
	return e.initialize(ctx, payload, actor, &parentRef, parentTask)
}

func (e *Engine) initialize(
	ctx context.Context,
	payload json.RawMessage,
	actor model.UserId,
	parentRef *model.WorkflowId,
	parentTask model.TaskName,
) (model.WorkflowId, error) {
	id, err := model.NewWorkflowId()
	if err != nil {
		return "", fmt.Errorf("runtime: new workflow id: %w", err)
	}
	now := e.clock.Now(ctx)
	wf := &model.WorkflowInstance{
		Id:             id,
		DefinitionName: e.def.Name,
		DefinitionVer:  e.def.Version,
		ParentRef:      parentRef,
		ParentTask:     parentTask,
		State:          model.WorkflowInitialized,
		Marking:        model.Marking{e.def.StartCondition: 1},
		StartedAtMs:    now,
	}
	if e.def.InitializeEL != "" && e.callbacks.Initialize != nil {
		if err := e.callbacks.Initialize(ctx, wf, payload); err != nil {
			return "", core.NewKindError(core.ErrCallbackFailed, "initialize action failed", err)
		}
	}
	traceId := model.TraceId(id)
	span, err := e.emitter.StartSpan(id, traceId, nil, 0, nil, "initializeRoot", model.OpWorkflow,
		now, "workflow", id.String(), e.def.Name,
		map[string]any{"state": string(model.WorkflowStarted), "marking": markingAttr(wf.Marking)})
	if err != nil {
		return "", fmt.Errorf("runtime: start init span: %w", err)
	}
	wf.State = model.WorkflowStarted
	if _, err := e.store.Insert(ctx, tableWorkflows, workflowRow(wf)); err != nil {
		return "", fmt.Errorf("runtime: persist workflow: %w", err)
	}
	e.emitter.CloseSpan(span, now, "closed")

	if err := e.driveFixpoint(ctx, wf); err != nil {
		return "", err
	}
	if err := e.saveWorkflow(ctx, wf); err != nil {
		return "", err
	}
	trace := &model.AuditTrace{TraceId: traceId, Name: e.def.Name, State: wf.State, StartedAtMs: wf.StartedAtMs}
	if wf.EndedAtMs != nil {
		trace.EndedAtMs = wf.EndedAtMs
	}
	if err := audit.Flush(ctx, e.store, e.emitter, trace, id); err != nil {
		return "", err
	}
	logger.FromContext(ctx).Info("workflow initialized", "workflowId", id.String(), "definition", e.def.Name)
	return id, nil
}

// GetTaskStates returns the current (latest-generation) state of every
// task that has ever been enabled in workflowId; tasks never enabled
// are reported as TaskDisabled.
func (e *Engine) GetTaskStates(ctx context.Context, workflowId model.WorkflowId) (map[model.TaskName]model.TaskState, error) {
	tasks, err := e.loadTasks(ctx, workflowId)
	if err != nil {
		return nil, err
	}
	out := make(map[model.TaskName]model.TaskState, len(e.def.Tasks))
	for name := range e.def.Tasks {
		out[name] = model.TaskDisabled
	}
	for name, t := range tasks {
		out[name] = t.State
	}
	return out, nil
}

func (e *Engine) loadWorkflow(ctx context.Context, workflowId model.WorkflowId) (*model.WorkflowInstance, error) {
	row, found, err := e.store.Unique(ctx, tableWorkflows, "workflowId", workflowId.String())
	if err != nil {
		return nil, fmt.Errorf("runtime: load workflow %s: %w", workflowId, err)
	}
	if !found {
		return nil, core.NewKindError(core.ErrWrongState, "workflow not found", nil)
	}
	return rowToWorkflow(row), nil
}

func (e *Engine) saveWorkflow(ctx context.Context, wf *model.WorkflowInstance) error {
	_, id, found, err := findByUnique(ctx, e.store, tableWorkflows, "workflowId", wf.Id.String())
	if err != nil {
		return fmt.Errorf("runtime: locate workflow %s: %w", wf.Id, err)
	}
	if !found {
		return core.NewKindError(core.ErrWrongState, "workflow not found", nil)
	}
	return e.store.Patch(ctx, tableWorkflows, id, workflowRow(wf))
}

// loadTasks returns the latest-generation TaskInstance for every task
// that has a row, keyed by TaskName.
func (e *Engine) loadTasks(ctx context.Context, workflowId model.WorkflowId) (map[model.TaskName]model.TaskInstance, error) {
	it, err := e.store.QueryByIndex(ctx, tableTasks, "workflowId", store.Range{})
	if err != nil {
		return nil, fmt.Errorf("runtime: query tasks for %s: %w", workflowId, err)
	}
	defer it.Close()
	out := make(map[model.TaskName]model.TaskInstance)
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
		t := rowToTaskInstance(row)
		if existing, ok := out[t.TaskName]; !ok || t.Generation > existing.Generation {
			out[t.TaskName] = t
		}
	}
	return out, nil
}

func (e *Engine) saveTask(ctx context.Context, t model.TaskInstance) error {
	key := taskGenKey(t.WorkflowId, t.TaskName, t.Generation)
	_, id, found, err := findByUnique(ctx, e.store, tableTasks, "taskGenKey", key)
	if err != nil {
		return fmt.Errorf("runtime: locate task %s: %w", key, err)
	}
	if !found {
		_, err := e.store.Insert(ctx, tableTasks, taskRow(&t))
		return err
	}
	return e.store.Patch(ctx, tableTasks, id, taskRow(&t))
}

func enabledTaskSet(tasks map[model.TaskName]model.TaskInstance) map[model.TaskName]bool {
	out := make(map[model.TaskName]bool, len(tasks))
	for name, t := range tasks {
		out[name] = t.State == model.TaskEnabled || t.State == model.TaskStarted
	}
	return out
}

func terminalTaskSet(tasks map[model.TaskName]model.TaskInstance) map[model.TaskName]bool {
	out := make(map[model.TaskName]bool, len(tasks))
	for name, t := range tasks {
		out[name] = t.State == model.TaskCompleted || t.State == model.TaskCanceled
	}
	return out
}

// activationFor builds the {actor, workflowState} CEL activation for
// offer/start policy evaluation.
func activationFor(actor model.UserId, wf *model.WorkflowInstance) auth.PolicyActivation {
	return auth.PolicyActivation{
		Actor:         map[string]any{"id": actor.String()},
		WorkflowState: map[string]any{"state": string(wf.State)},
	}
}
