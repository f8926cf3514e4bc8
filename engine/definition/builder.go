// Package definition provides the fluent construction API for
// immutable WorkflowDefinitions: declaring start/end conditions,
// tasks, and the bipartite arcs between them, validated at Build time.
package definition

import (
	"encoding/json"
	"fmt"

	"dario.cat/mergo"

	"github.com/flowforge/flowforge/engine/core"
	"github.com/flowforge/flowforge/engine/model"
)

// arc is a directed edge recorded before Build resolves it into the
// Incoming/Outgoing slices on the relevant TaskDefinition.
type arc struct {
	condition model.ConditionName
	task      model.TaskName
	fromCond  bool // true: condition -> task, false: task -> condition
}

// TaskSpec declares a task to be added to the definition under
// construction. Fields left zero take the defaults documented per
// field.
type TaskSpec struct {
	Name          model.TaskName
	Kind          model.TaskKind
	JoinKind      model.JoinKind  // required unless the task has 0 incoming arcs
	SplitKind     model.SplitKind // required unless the task has 0 outgoing arcs
	JoinPolicy    model.ORJoinPolicy
	PayloadSchema json.RawMessage
	StartPolicyEL string
	WritePolicyEL string
	Offer         *model.OfferTemplate
	SubDefinition string // "name@version", TaskComposite only
}

// Builder accumulates conditions, tasks, and arcs for one
// WorkflowDefinition. The zero value is not usable; construct with
// NewBuilder.
type Builder struct {
	name    string
	version string

	conditions map[model.ConditionName]*model.ConditionDefinition
	tasks      map[model.TaskName]*model.TaskDefinition
	arcs       []arc
	startCond  model.ConditionName
	endCond    model.ConditionName
	initEL     string

	knownScopes map[model.ScopeName]struct{}
	registry    CompositeLookup

	err error // first error encountered; sticky, surfaced at Build
}

// CompositeLookup resolves "name@version" references for composite
// tasks, without creating an import cycle back to engine/version.
type CompositeLookup interface {
	Has(nameAtVersion string) bool
}

// NewBuilder starts a definition for (name, version).
func NewBuilder(name, version string) *Builder {
	return &Builder{
		name:       name,
		version:    version,
		conditions: make(map[model.ConditionName]*model.ConditionDefinition),
		tasks:      make(map[model.TaskName]*model.TaskDefinition),
	}
}

// WithKnownScopes restricts which ScopeNames Offer.RequiredScope may
// reference; pass the union of every registered scope module's declared
// scopes. StartPolicyEL/WritePolicyEL expressions are not checked
// against this set.
func (b *Builder) WithKnownScopes(scopes []model.ScopeName) *Builder {
	b.knownScopes = make(map[model.ScopeName]struct{}, len(scopes))
	for _, s := range scopes {
		b.knownScopes[s] = struct{}{}
	}
	return b
}

// WithCompositeLookup supplies the registry used to validate composite
// tasks' SubDefinition references at Build time.
func (b *Builder) WithCompositeLookup(l CompositeLookup) *Builder {
	b.registry = l
	return b
}

func (b *Builder) fail(err error) *Builder {
	if b.err == nil {
		b.err = err
	}
	return b
}

// StartCondition declares the definition's unique start place.
func (b *Builder) StartCondition(name model.ConditionName) *Builder {
	if b.startCond != "" {
		return b.fail(fmt.Errorf("definition: duplicate start condition %q", name))
	}
	b.startCond = name
	b.conditions[name] = &model.ConditionDefinition{Name: name, Role: model.ConditionStart}
	return b
}

// EndCondition declares the definition's unique end place.
func (b *Builder) EndCondition(name model.ConditionName) *Builder {
	if b.endCond != "" {
		return b.fail(fmt.Errorf("definition: duplicate end condition %q", name))
	}
	b.endCond = name
	b.conditions[name] = &model.ConditionDefinition{Name: name, Role: model.ConditionEnd}
	return b
}

// Condition declares an ordinary internal place.
func (b *Builder) Condition(name model.ConditionName) *Builder {
	if _, exists := b.conditions[name]; exists {
		return b.fail(fmt.Errorf("definition: duplicate condition %q", name))
	}
	b.conditions[name] = &model.ConditionDefinition{Name: name, Role: model.ConditionInternal}
	return b
}

// Task declares a task. Call Connect afterward to wire its arcs.
func (b *Builder) Task(spec TaskSpec) *Builder {
	if _, exists := b.tasks[spec.Name]; exists {
		return b.fail(fmt.Errorf("definition: duplicate task %q", spec.Name))
	}
	if spec.JoinPolicy == "" {
		spec.JoinPolicy = model.ORJoinWaitForUpstreamTerminal
	}
	td := &model.TaskDefinition{
		Name:          spec.Name,
		Kind:          spec.Kind,
		JoinKind:      spec.JoinKind,
		SplitKind:     spec.SplitKind,
		JoinPolicy:    spec.JoinPolicy,
		PayloadSchema: spec.PayloadSchema,
		StartPolicyEL: spec.StartPolicyEL,
		WritePolicyEL: spec.WritePolicyEL,
		Offer:         spec.Offer,
		SubDefinition: spec.SubDefinition,
	}
	b.tasks[spec.Name] = td
	return b
}

// Connect adds a bipartite arc. Exactly one of (from, to) must be a
// ConditionName and the other a TaskName; Build rejects anything else.
func (b *Builder) Connect(from, to string) *Builder {
	_, fromIsCond := b.conditions[model.ConditionName(from)]
	_, toIsTask := b.tasks[model.TaskName(to)]
	if fromIsCond && toIsTask {
		b.arcs = append(b.arcs, arc{condition: model.ConditionName(from), task: model.TaskName(to), fromCond: true})
		return b
	}
	_, fromIsTask := b.tasks[model.TaskName(from)]
	_, toIsCond := b.conditions[model.ConditionName(to)]
	if fromIsTask && toIsCond {
		b.arcs = append(b.arcs, arc{condition: model.ConditionName(to), task: model.TaskName(from), fromCond: false})
		return b
	}
	return b.fail(fmt.Errorf("definition: arc %q -> %q is not a valid condition<->task edge", from, to))
}

// Initialize records the workflow-level Initialize expression in
// WorkflowDefinition.InitializeEL. The engine does not evaluate the
// expression: a non-empty value makes InitializeRoot run the host's
// CallbackRegistry.Initialize callback, if one is registered.
func (b *Builder) Initialize(expr string) *Builder {
	b.initEL = expr
	return b
}

// MergeDefaults overlays defaults onto a TaskSpec without clobbering
// fields the caller already set (mergo.Merge without
// mergo.WithOverride).
func MergeDefaults(spec *TaskSpec, defaults TaskSpec) error {
	if err := mergo.Merge(spec, defaults); err != nil {
		return fmt.Errorf("definition: merge task defaults: %w", err)
	}
	return nil
}

// Build validates the accumulated declarations and returns an
// immutable WorkflowDefinition, or an ErrInvalidDefinition error
// naming the first structural problem found.
func (b *Builder) Build() (*model.WorkflowDefinition, error) {
	if b.err != nil {
		return nil, core.NewKindError(core.ErrInvalidDefinition, b.err.Error(), b.err)
	}
	def := &model.WorkflowDefinition{
		Name:           b.name,
		Version:        b.version,
		StartCondition: b.startCond,
		EndCondition:   b.endCond,
		Conditions:     b.conditions,
		Tasks:          b.tasks,
		InitializeEL:   b.initEL,
	}
	for _, a := range b.arcs {
		t := def.Tasks[a.task]
		if a.fromCond {
			t.Incoming = append(t.Incoming, a.condition)
		} else {
			t.Outgoing = append(t.Outgoing, a.condition)
		}
	}
	if err := validate(def, b.knownScopes, b.registry); err != nil {
		return nil, err
	}
	return def, nil
}
