package auth

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/flowforge/flowforge/engine/core"
	"github.com/flowforge/flowforge/engine/model"
	"github.com/flowforge/flowforge/pkg/logger"
)

// DefaultScopeCacheSize bounds the EffectiveScopes LRU when the host
// does not override it via pkg/config.
const DefaultScopeCacheSize = 4096

// AuthorizationService resolves user scopes and evaluates offer/claim
// policies. It is an explicit value, constructed once at startup by
// composing a ScopeRegistry with a Directory — never a process-wide
// singleton.
type AuthorizationService struct {
	registry  *ScopeRegistry
	directory Directory
	scopes    *lru.Cache[string, []model.ScopeName]
	policies  *PolicyCache
}

// NewAuthorizationService constructs a service with an LRU of size
// cacheSize (DefaultScopeCacheSize if <= 0).
func NewAuthorizationService(registry *ScopeRegistry, directory Directory, cacheSize int) (*AuthorizationService, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultScopeCacheSize
	}
	cache, err := lru.New[string, []model.ScopeName](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("auth: new scope cache: %w", err)
	}
	return &AuthorizationService{
		registry:  registry,
		directory: directory,
		scopes:    cache,
		policies:  NewPolicyCache(),
	}, nil
}

// EffectiveScopes resolves the union of scopes of roles of groups of
// userId: EffectiveScopes(userId) = ⋃ roles(groups(user)).scopes.
// Results are cached per userId until InvalidateUser is called.
func (s *AuthorizationService) EffectiveScopes(ctx context.Context, userId model.UserId) ([]model.ScopeName, error) {
	key := userId.String()
	if cached, ok := s.scopes.Get(key); ok {
		return cached, nil
	}
	groups, err := s.directory.GroupsForUser(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("auth: groups for user %s: %w", key, err)
	}
	seen := make(map[model.ScopeName]struct{})
	var out []model.ScopeName
	for _, g := range groups {
		roles, err := s.directory.RolesForGroup(ctx, g)
		if err != nil {
			return nil, fmt.Errorf("auth: roles for group %s: %w", g, err)
		}
		for _, r := range roles {
			scopeNames, err := s.directory.ScopesForRole(ctx, r)
			if err != nil {
				return nil, fmt.Errorf("auth: scopes for role %s: %w", r, err)
			}
			for _, sn := range scopeNames {
				scope := model.ScopeName(sn)
				if _, dup := seen[scope]; dup {
					continue
				}
				seen[scope] = struct{}{}
				out = append(out, scope)
			}
		}
	}
	s.scopes.Add(key, out)
	return out, nil
}

// InvalidateUser drops the cached EffectiveScopes for userId. Call
// this whenever a group/role/user-group assignment mutates.
func (s *AuthorizationService) InvalidateUser(userId model.UserId) {
	s.scopes.Remove(userId.String())
}

// InvalidateAll drops every cached resolution, used when a role's
// scope set itself changes (affecting every member transitively).
func (s *AuthorizationService) InvalidateAll() {
	s.scopes.Purge()
}

func hasScope(scopes []model.ScopeName, want model.ScopeName) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}

// PolicyActivation is the {actor, workflowState, aggregate} predicate
// input for claim/start policies.
type PolicyActivation struct {
	Actor         map[string]any
	WorkflowState map[string]any
	Aggregate     map[string]any
}

func (a PolicyActivation) asMap() map[string]any {
	return map[string]any{"actor": a.Actor, "workflowState": a.WorkflowState, "aggregate": a.Aggregate}
}

// CanClaim implements canClaim(workItemId, actor) = requiredScope ∈
// EffectiveScopes(actor) ∧ claimPolicy(actor, state).
func (s *AuthorizationService) CanClaim(ctx context.Context, offer *model.Offer, actor model.UserId, act PolicyActivation) (bool, error) {
	scopes, err := s.EffectiveScopes(ctx, actor)
	if err != nil {
		return false, err
	}
	if offer.RequiredScope != "" && !hasScope(scopes, offer.RequiredScope) {
		return false, nil
	}
	if offer.ClaimPolicyCEL == "" {
		return true, nil
	}
	return s.policies.Eval(offer.ClaimPolicyCEL, act.asMap())
}

// CanStart implements the task's startPolicy: whether actor may move a
// work item to started without a prior claim (auto-claim-on-start).
func (s *AuthorizationService) CanStart(ctx context.Context, startPolicyEL string, actor model.UserId, act PolicyActivation) (bool, error) {
	if startPolicyEL == "" {
		return false, nil
	}
	_ = ctx
	return s.policies.Eval(startPolicyEL, act.asMap())
}

// VisibilityFilter reports whether actor's EffectiveScopes contain the
// {domain}:staff visibility scope required to see work items of module
// at all: the engine never reveals a work item to a caller whose
// EffectiveScopes do not contain a {domain}:staff visibility scope.
func (s *AuthorizationService) VisibilityFilter(ctx context.Context, actor model.UserId, module string) (bool, error) {
	scopes, err := s.EffectiveScopes(ctx, actor)
	if err != nil {
		return false, err
	}
	return hasScope(scopes, StaffVisibilityScope(module)), nil
}

// RequireClaim returns an AuthzDenied *core.Error unless CanClaim
// holds, a convenience wrapper for engine/runtime call sites.
func (s *AuthorizationService) RequireClaim(ctx context.Context, offer *model.Offer, actor model.UserId, act PolicyActivation) error {
	ok, err := s.CanClaim(ctx, offer, actor, act)
	if err != nil {
		return fmt.Errorf("auth: evaluate claim policy: %w", err)
	}
	if !ok {
		logger.FromContext(ctx).Warn("claim denied", "actor", actor.String(), "requiredScope", offer.RequiredScope)
		return core.NewKindError(core.ErrAuthzDenied, "actor does not satisfy the work item's offer", nil)
	}
	return nil
}
