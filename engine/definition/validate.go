package definition

import (
	"fmt"

	"github.com/flowforge/flowforge/engine/core"
	"github.com/flowforge/flowforge/engine/model"
)

// validate enforces the builder's build-time rules:
//   - exactly one start condition, exactly one end condition
//   - bipartite arcs only, no dangling tasks/conditions
//   - every task reachable from start and co-reachable to end
//   - offer scopes (Offer.RequiredScope) reference known scopes;
//     startPolicy/writePolicy expressions are not checked against them
//   - composite tasks name a registered sub-definition
//   - joinKind/splitKind compatible with arity
func validate(def *model.WorkflowDefinition, knownScopes map[model.ScopeName]struct{}, registry CompositeLookup) error {
	if def.StartCondition == "" {
		return invalidErr("exactly one start condition is required, found none")
	}
	if def.EndCondition == "" {
		return invalidErr("exactly one end condition is required, found none")
	}
	if err := validateNoDangling(def); err != nil {
		return err
	}
	if err := validateReachability(def); err != nil {
		return err
	}
	if err := validateArity(def); err != nil {
		return err
	}
	if err := validateScopes(def, knownScopes); err != nil {
		return err
	}
	if err := validateComposites(def, registry); err != nil {
		return err
	}
	return nil
}

func invalidErr(format string, args ...any) error {
	return core.NewKindError(core.ErrInvalidDefinition, fmt.Sprintf(format, args...), nil)
}

func validateNoDangling(def *model.WorkflowDefinition) error {
	for name, t := range def.Tasks {
		for _, c := range t.Incoming {
			if _, ok := def.Conditions[c]; !ok {
				return invalidErr("task %q has dangling incoming condition %q", name, c)
			}
		}
		for _, c := range t.Outgoing {
			if _, ok := def.Conditions[c]; !ok {
				return invalidErr("task %q has dangling outgoing condition %q", name, c)
			}
		}
	}
	for name := range def.Conditions {
		if len(def.IncomingTasks(name)) == 0 && len(def.OutgoingTasks(name)) == 0 && name != def.StartCondition && name != def.EndCondition {
			return invalidErr("condition %q is not connected to any task", name)
		}
	}
	return nil
}

func validateReachability(def *model.WorkflowDefinition) error {
	forward := reachableFrom(def, def.StartCondition, true)
	for name := range def.Tasks {
		if !forward[taskKey(name)] {
			return invalidErr("task %q is not reachable from the start condition", name)
		}
	}
	backward := reachableFrom(def, def.EndCondition, false)
	for name := range def.Tasks {
		if !backward[taskKey(name)] {
			return invalidErr("task %q cannot reach the end condition", name)
		}
	}
	return nil
}

func taskKey(t model.TaskName) string { return "task:" + string(t) }
func condKey(c model.ConditionName) string { return "cond:" + string(c) }

// reachableFrom performs a BFS over the bipartite graph starting at a
// condition. forwardDir=true follows condition->task->condition arcs
// forward; false follows them backward (from end toward start).
func reachableFrom(def *model.WorkflowDefinition, start model.ConditionName, forwardDir bool) map[string]bool {
	visited := map[string]bool{condKey(start): true}
	queue := []string{condKey(start)}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur[:5] == "cond:" {
			c := model.ConditionName(cur[5:])
			var nextTasks []model.TaskName
			if forwardDir {
				nextTasks = def.OutgoingTasks(c)
			} else {
				nextTasks = def.IncomingTasks(c)
			}
			for _, t := range nextTasks {
				k := taskKey(t)
				if !visited[k] {
					visited[k] = true
					queue = append(queue, k)
				}
			}
		} else {
			t := def.Tasks[model.TaskName(cur[5:])]
			var nextConds []model.ConditionName
			if forwardDir {
				nextConds = t.Outgoing
			} else {
				nextConds = t.Incoming
			}
			for _, c := range nextConds {
				k := condKey(c)
				if !visited[k] {
					visited[k] = true
					queue = append(queue, k)
				}
			}
		}
	}
	return visited
}

func validateArity(def *model.WorkflowDefinition) error {
	for name, t := range def.Tasks {
		if len(t.Incoming) == 0 && t.JoinKind != model.JoinNone {
			return invalidErr("task %q has no incoming conditions but declares a join kind", name)
		}
		if len(t.Incoming) > 0 && t.JoinKind == model.JoinNone {
			return invalidErr("task %q has incoming conditions but no join kind", name)
		}
		if len(t.Outgoing) == 0 && t.SplitKind != model.SplitNone {
			return invalidErr("task %q has no outgoing conditions but declares a split kind", name)
		}
		if len(t.Outgoing) > 0 && t.SplitKind == model.SplitNone {
			return invalidErr("task %q has outgoing conditions but no split kind", name)
		}
	}
	return nil
}

func validateScopes(def *model.WorkflowDefinition, known map[model.ScopeName]struct{}) error {
	if known == nil {
		return nil
	}
	check := func(taskName model.TaskName, scope model.ScopeName) error {
		if scope == "" {
			return nil
		}
		if _, ok := known[scope]; !ok {
			return invalidErr("task %q references unregistered scope %q", taskName, scope)
		}
		return nil
	}
	for name, t := range def.Tasks {
		if t.Offer != nil {
			if err := check(name, t.Offer.RequiredScope); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateComposites(def *model.WorkflowDefinition, registry CompositeLookup) error {
	if registry == nil {
		return nil
	}
	for name, t := range def.Tasks {
		if t.Kind != model.TaskComposite {
			continue
		}
		if t.SubDefinition == "" {
			return invalidErr("composite task %q has no SubDefinition", name)
		}
		if !registry.Has(t.SubDefinition) {
			return invalidErr("composite task %q references unregistered definition %q", name, t.SubDefinition)
		}
	}
	return nil
}
