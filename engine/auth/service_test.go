package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowforge/engine/model"
)

func newGreetingRegistry(t *testing.T) *ScopeRegistry {
	t.Helper()
	reg, err := NewScopeRegistry(ScopeModule{
		Name: "greeting",
		Scopes: []model.Scope{
			{Name: "greeting:write", Description: "write greetings"},
			{Name: "greeting:staff", Description: "see greeting work items"},
		},
	})
	require.NoError(t, err)
	return reg
}

func TestAuthorizationService_EffectiveScopes(t *testing.T) {
	dir := &StaticDirectory{
		UserGroups: map[string][]string{"bob": {"support"}},
		GroupRoles: map[string][]string{"support": {"agent"}},
		RoleScopes: map[string][]string{"agent": {"greeting:write"}},
	}
	svc, err := NewAuthorizationService(newGreetingRegistry(t), dir, 0)
	require.NoError(t, err)

	t.Run("Should resolve the union of roles of groups of the user", func(t *testing.T) {
		scopes, err := svc.EffectiveScopes(context.Background(), model.UserId("bob"))
		require.NoError(t, err)
		assert.Contains(t, scopes, model.ScopeName("greeting:write"))
	})

	t.Run("Should return no scopes for a user with no group assignment", func(t *testing.T) {
		scopes, err := svc.EffectiveScopes(context.Background(), model.UserId("carol"))
		require.NoError(t, err)
		assert.Empty(t, scopes)
	})
}

func TestAuthorizationService_CanClaim(t *testing.T) {
	offer := &model.Offer{RequiredScope: "greeting:write"}

	t.Run("Should allow a claim when the actor holds the required scope", func(t *testing.T) {
		dir := &StaticDirectory{
			UserGroups: map[string][]string{"bob": {"support"}},
			GroupRoles: map[string][]string{"support": {"agent"}},
			RoleScopes: map[string][]string{"agent": {"greeting:write"}},
		}
		svc, err := NewAuthorizationService(newGreetingRegistry(t), dir, 0)
		require.NoError(t, err)

		ok, err := svc.CanClaim(context.Background(), offer, model.UserId("bob"), PolicyActivation{})
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("Should deny a claim when the actor lacks the required scope", func(t *testing.T) {
		dir := &StaticDirectory{}
		svc, err := NewAuthorizationService(newGreetingRegistry(t), dir, 0)
		require.NoError(t, err)

		ok, err := svc.CanClaim(context.Background(), offer, model.UserId("alice"), PolicyActivation{})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Should consult the claim policy predicate once the scope check passes", func(t *testing.T) {
		dir := &StaticDirectory{
			UserGroups: map[string][]string{"bob": {"support"}},
			GroupRoles: map[string][]string{"support": {"agent"}},
			RoleScopes: map[string][]string{"agent": {"greeting:write"}},
		}
		svc, err := NewAuthorizationService(newGreetingRegistry(t), dir, 0)
		require.NoError(t, err)
		policyOffer := &model.Offer{RequiredScope: "greeting:write", ClaimPolicyCEL: `actor.id == "bob"`}

		allowed, err := svc.CanClaim(context.Background(), policyOffer, model.UserId("bob"),
			PolicyActivation{Actor: map[string]any{"id": "bob"}})
		require.NoError(t, err)
		assert.True(t, allowed)

		denied, err := svc.CanClaim(context.Background(), policyOffer, model.UserId("bob"),
			PolicyActivation{Actor: map[string]any{"id": "someone-else"}})
		require.NoError(t, err)
		assert.False(t, denied)
	})
}

func TestAuthorizationService_Monotonicity(t *testing.T) {
	t.Run("Should never lose canClaim when scopes are only added", func(t *testing.T) {
		dir := &StaticDirectory{
			UserGroups: map[string][]string{"bob": {"support"}},
			GroupRoles: map[string][]string{"support": {"agent"}},
			RoleScopes: map[string][]string{"agent": {}},
		}
		svc, err := NewAuthorizationService(newGreetingRegistry(t), dir, 0)
		require.NoError(t, err)
		offer := &model.Offer{RequiredScope: "greeting:write"}

		before, err := svc.CanClaim(context.Background(), offer, model.UserId("bob"), PolicyActivation{})
		require.NoError(t, err)
		require.False(t, before)

		dir.RoleScopes["agent"] = []string{"greeting:write"}
		svc.InvalidateUser("bob")

		after, err := svc.CanClaim(context.Background(), offer, model.UserId("bob"), PolicyActivation{})
		require.NoError(t, err)
		assert.True(t, after, "adding a scope must never cause a previously-denied claim to stay denied")
	})

	t.Run("Should never grant canClaim once the required scope is removed", func(t *testing.T) {
		dir := &StaticDirectory{
			UserGroups: map[string][]string{"bob": {"support"}},
			GroupRoles: map[string][]string{"support": {"agent"}},
			RoleScopes: map[string][]string{"agent": {"greeting:write"}},
		}
		svc, err := NewAuthorizationService(newGreetingRegistry(t), dir, 0)
		require.NoError(t, err)
		offer := &model.Offer{RequiredScope: "greeting:write"}

		before, err := svc.CanClaim(context.Background(), offer, model.UserId("bob"), PolicyActivation{})
		require.NoError(t, err)
		require.True(t, before)

		dir.RoleScopes["agent"] = nil
		svc.InvalidateUser("bob")

		after, err := svc.CanClaim(context.Background(), offer, model.UserId("bob"), PolicyActivation{})
		require.NoError(t, err)
		assert.False(t, after, "removing the required scope must never leave a claim granted")
	})
}

func TestAuthorizationService_VisibilityFilter(t *testing.T) {
	t.Run("Should require the domain staff scope before revealing work items", func(t *testing.T) {
		dir := &StaticDirectory{
			UserGroups: map[string][]string{"bob": {"support"}},
			GroupRoles: map[string][]string{"support": {"agent"}},
			RoleScopes: map[string][]string{"agent": {"greeting:staff"}},
		}
		svc, err := NewAuthorizationService(newGreetingRegistry(t), dir, 0)
		require.NoError(t, err)

		visible, err := svc.VisibilityFilter(context.Background(), model.UserId("bob"), "greeting")
		require.NoError(t, err)
		assert.True(t, visible)

		hidden, err := svc.VisibilityFilter(context.Background(), model.UserId("alice"), "greeting")
		require.NoError(t, err)
		assert.False(t, hidden)
	})
}
