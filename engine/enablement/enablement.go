// Package enablement implements the engine's firing rules over a
// WorkflowDefinition's marking: which tasks become enabled, what
// starting a task removes from its incoming conditions, and what
// completing a task places on its outgoing conditions. Every function
// here is pure and allocation-light so it can run inside the
// scheduler's fixpoint loop without touching the host store.
package enablement

import "github.com/flowforge/flowforge/engine/model"

// Evaluate returns every task in def that is enabled under marking but
// is not already present in enabled (the caller's current task-state
// view), i.e. the tasks that just became enabled.
func Evaluate(def *model.WorkflowDefinition, marking model.Marking, enabled map[model.TaskName]bool, terminalTasks map[model.TaskName]bool) []model.TaskName {
	var newlyEnabled []model.TaskName
	for name, t := range def.Tasks {
		if enabled[name] {
			continue
		}
		if isSatisfied(def, t, marking, terminalTasks) {
			newlyEnabled = append(newlyEnabled, name)
		}
	}
	return newlyEnabled
}

// IsEnabled reports whether t's join predicate is currently satisfied.
func IsEnabled(def *model.WorkflowDefinition, t *model.TaskDefinition, marking model.Marking, terminalTasks map[model.TaskName]bool) bool {
	return isSatisfied(def, t, marking, terminalTasks)
}

func isSatisfied(def *model.WorkflowDefinition, t *model.TaskDefinition, marking model.Marking, terminalTasks map[model.TaskName]bool) bool {
	if len(t.Incoming) == 0 {
		return true
	}
	switch t.JoinKind {
	case model.JoinXor:
		for _, c := range t.Incoming {
			if marking.Tokens(c) >= 1 {
				return true
			}
		}
		return false
	case model.JoinAnd:
		for _, c := range t.Incoming {
			if marking.Tokens(c) < 1 {
				return false
			}
		}
		return true
	case model.JoinOr:
		return orJoinSatisfied(def, t, marking, terminalTasks)
	default:
		return false
	}
}

// orJoinSatisfied implements ORJoinWaitForUpstreamTerminal: the join
// fires once at least one incoming condition holds a token and every
// condition that still lacks one has no non-terminal upstream task
// left that could still produce into it.
func orJoinSatisfied(def *model.WorkflowDefinition, t *model.TaskDefinition, marking model.Marking, terminalTasks map[model.TaskName]bool) bool {
	anyToken := false
	for _, c := range t.Incoming {
		if marking.Tokens(c) >= 1 {
			anyToken = true
			break
		}
	}
	if !anyToken {
		return false
	}
	for _, c := range t.Incoming {
		if marking.Tokens(c) >= 1 {
			continue
		}
		for _, upstream := range def.IncomingTasks(c) {
			if !terminalTasks[upstream] {
				// An upstream producer into this still-empty condition
				// could yet fire; the or-join cannot be decided yet.
				return false
			}
		}
	}
	return true
}

// Fire removes the tokens that starting task t consumes from its
// incoming conditions, per its join kind, and returns the resulting
// marking. For xor and or joins, Fire consumes exactly one token from
// whichever incoming condition currently holds one (xor: the single
// satisfying one; or: the same reachability rule as isSatisfied, but
// firing only ever consumes from conditions that actually hold a
// token).
func Fire(def *model.WorkflowDefinition, marking model.Marking, t *model.TaskDefinition) model.Marking {
	out := marking.Clone()
	switch t.JoinKind {
	case model.JoinAnd:
		for _, c := range t.Incoming {
			out = out.WithDelta(c, -1)
		}
	case model.JoinXor, model.JoinOr:
		for _, c := range t.Incoming {
			if out.Tokens(c) >= 1 {
				out = out.WithDelta(c, -1)
				break
			}
		}
	}
	return out
}

// SplitChoice selects which outgoing conditions receive a token when a
// xor- or or-split task completes. For and-splits the choice is
// ignored; every outgoing condition receives one token.
type SplitChoice struct {
	// Conditions selected by the completion callback. Exactly one
	// entry for xor, any non-empty subset for or, ignored for and.
	Conditions []model.ConditionName
}

// Place adds the tokens that completing task t produces, per its
// split kind and the callback's declared choice, and returns the
// resulting marking. Conservation: and-split adds len(Outgoing)
// tokens; xor-split adds exactly 1.
func Place(t *model.TaskDefinition, marking model.Marking, choice SplitChoice) model.Marking {
	out := marking.Clone()
	switch t.SplitKind {
	case model.SplitAnd:
		for _, c := range t.Outgoing {
			out = out.WithDelta(c, 1)
		}
	case model.SplitXor:
		if len(choice.Conditions) != 1 {
			// Caller contract violation: xor-split must choose exactly
			// one outgoing condition. Falling back to the first
			// declared outgoing condition keeps Place total.
			if len(t.Outgoing) > 0 {
				out = out.WithDelta(t.Outgoing[0], 1)
			}
			break
		}
		out = out.WithDelta(choice.Conditions[0], 1)
	case model.SplitOr:
		for _, c := range choice.Conditions {
			out = out.WithDelta(c, 1)
		}
	}
	return out
}
