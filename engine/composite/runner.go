// Package composite implements the composite task runner:
// instantiating a composite task's sub-definition as a child
// workflow, linking it to its parent task, and propagating the
// child's completion back to the parent once the child reaches
// WorkflowCompleted — only then is the parent task's split applied.
package composite

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/flowforge/flowforge/engine/model"
	"github.com/flowforge/flowforge/engine/runtime"
	"github.com/flowforge/flowforge/engine/version"
)

// ResultResolver derives the payload handed to the parent task's
// OnComplete callback from the child workflow's terminal state. The
// engine's own model carries no result/aggregate field (WorkflowInstance
// stays to marking + lifecycle state); hosts that
// accumulate a domain result elsewhere supply a resolver that looks it
// up. A nil resolver means composite completion always propagates a
// nil payload.
type ResultResolver func(ctx context.Context, child *model.WorkflowInstance) (json.RawMessage, error)

// Runner drives every composite task across every (parent, child)
// definition pair registered with a single version.Manager. One
// Runner is constructed per process, alongside the Manager, as an
// explicit service value.
type Runner struct {
	manager        *version.Manager
	ResultResolver ResultResolver

	mu      sync.Mutex
	parents map[parentKey]*version.Facade // (parent workflowId, parent task) -> the parent's Facade
	wired   map[*runtime.Engine]bool
}

// parentKey identifies the (at most one) in-flight child of a given
// parent task generation. Keying on this pair rather than the child's
// own WorkflowId lets the Runner register the mapping before the
// child exists at all — necessary because a fully-automated child can
// run to completion, and so invoke OnTerminal, synchronously inside
// the very InitializeChild call that creates it, before that call has
// returned a child id to register.
type parentKey struct {
	workflowId model.WorkflowId
	task       model.TaskName
}

// NewRunner constructs a Runner bound to manager.
func NewRunner(manager *version.Manager) *Runner {
	return &Runner{
		manager: manager,
		parents: make(map[parentKey]*version.Facade),
		wired:   make(map[*runtime.Engine]bool),
	}
}

// StartChild instantiates taskName's sub-definition as a child
// workflow of workflowId. Call this once per composite task
// enablement (e.g. immediately after a driveFixpoint
// pass leaves it TaskEnabled); calling it again once the task has
// started is rejected by StartCompositeTask's own state check.
func (r *Runner) StartChild(
	ctx context.Context,
	parentFacade *version.Facade,
	workflowId model.WorkflowId,
	taskName model.TaskName,
	payload json.RawMessage,
	actor model.UserId,
) (model.WorkflowId, error) {
	subRef, err := parentFacade.Engine().StartCompositeTask(ctx, workflowId, taskName)
	if err != nil {
		return "", err
	}
	subName, subVersion, err := splitRef(subRef)
	if err != nil {
		return "", err
	}
	childFacade, err := r.manager.Resolve(subName, subVersion)
	if err != nil {
		return "", fmt.Errorf("composite: resolve sub-definition %s: %w", subRef, err)
	}
	r.wire(childFacade.Engine())

	key := parentKey{workflowId: workflowId, task: taskName}
	r.mu.Lock()
	r.parents[key] = parentFacade
	r.mu.Unlock()

	childId, err := childFacade.Engine().InitializeChild(ctx, payload, actor, workflowId, taskName)
	if err != nil {
		r.mu.Lock()
		delete(r.parents, key)
		r.mu.Unlock()
		return "", err
	}
	return childId, nil
}

// wire registers the completion-propagation hook on child's Engine,
// once per distinct Engine instance. The hook is engine-wide but
// derives its lookup key from the terminating instance's own
// (ParentRef, ParentTask), so it correctly serves every parent
// instance and every parent definition that composes this same child
// definition.
func (r *Runner) wire(child *runtime.Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.wired[child] {
		return
	}
	r.wired[child] = true
	child.OnTerminal(func(ctx context.Context, wf *model.WorkflowInstance) {
		r.propagate(ctx, wf)
	})
}

// propagate invokes the parent task's completion once wf (a child
// instance) reaches a terminal state. Only WorkflowCompleted
// propagates; a canceled or failed child leaves its parent composite
// task started; the parent's own cancellation (if any) cascades to it
// independently via CancelWorkflow.
func (r *Runner) propagate(ctx context.Context, wf *model.WorkflowInstance) {
	if wf.ParentRef == nil {
		return
	}
	key := parentKey{workflowId: *wf.ParentRef, task: wf.ParentTask}
	r.mu.Lock()
	parentFacade, ok := r.parents[key]
	if ok {
		delete(r.parents, key)
	}
	r.mu.Unlock()
	if !ok || wf.State != model.WorkflowCompleted {
		return
	}
	var payload json.RawMessage
	if r.ResultResolver != nil {
		var err error
		payload, err = r.ResultResolver(ctx, wf)
		if err != nil {
			return
		}
	}
	_ = parentFacade.Engine().CompleteCompositeTask(ctx, *wf.ParentRef, wf.ParentTask, payload)
}

func splitRef(ref string) (name, ver string, err error) {
	name, ver, found := strings.Cut(ref, "@")
	if !found || name == "" || ver == "" {
		return "", "", fmt.Errorf("composite: malformed sub-definition reference %q", ref)
	}
	return name, ver, nil
}
