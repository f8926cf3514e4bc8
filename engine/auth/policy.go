package auth

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// PolicyCache compiles each distinct CEL expression exactly once and
// reuses the compiled program on every subsequent evaluation; claim
// and start policies are typically evaluated on every work-item
// transition, so recompiling per call would dominate the hot path.
type PolicyCache struct {
	mu       sync.RWMutex
	programs map[string]cel.Program
	env      *cel.Env
}

// NewPolicyCache builds a cache with the {actor, workflowState,
// aggregate} activation variables CEL claim/start policies reference.
func NewPolicyCache() *PolicyCache {
	env, err := cel.NewEnv(
		cel.Variable("actor", cel.DynType),
		cel.Variable("workflowState", cel.DynType),
		cel.Variable("aggregate", cel.DynType),
	)
	if err != nil {
		// The variable declarations above are static and known-valid;
		// a failure here indicates a broken cel-go build, not bad input.
		panic(fmt.Sprintf("auth: build cel environment: %v", err))
	}
	return &PolicyCache{env: env, programs: make(map[string]cel.Program)}
}

func (c *PolicyCache) compile(expr string) (cel.Program, error) {
	c.mu.RLock()
	if p, ok := c.programs[expr]; ok {
		c.mu.RUnlock()
		return p, nil
	}
	c.mu.RUnlock()

	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("auth: compile policy %q: %w", expr, issues.Err())
	}
	program, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("auth: build policy program %q: %w", expr, err)
	}
	c.mu.Lock()
	c.programs[expr] = program
	c.mu.Unlock()
	return program, nil
}

// Eval compiles (if needed) and evaluates expr against activation,
// requiring a boolean result.
func (c *PolicyCache) Eval(expr string, activation map[string]any) (bool, error) {
	program, err := c.compile(expr)
	if err != nil {
		return false, err
	}
	out, _, err := program.Eval(activation)
	if err != nil {
		return false, fmt.Errorf("auth: evaluate policy %q: %w", expr, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("auth: policy %q did not evaluate to a bool", expr)
	}
	return b, nil
}
