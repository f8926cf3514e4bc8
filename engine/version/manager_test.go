package version

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowforge/engine/audit"
	"github.com/flowforge/flowforge/engine/auth"
	"github.com/flowforge/flowforge/engine/definition"
	"github.com/flowforge/flowforge/engine/model"
	"github.com/flowforge/flowforge/engine/store/memstore"
)

type fixedClock struct{ n int64 }

func (c *fixedClock) Now(_ context.Context) int64 {
	c.n++
	return c.n
}

func pingDefinition(t *testing.T) *model.WorkflowDefinition {
	t.Helper()
	def, err := definition.NewBuilder("ping", "v1").
		StartCondition("start").
		EndCondition("end").
		Task(definition.TaskSpec{Name: "noop", Kind: model.TaskAutomated, JoinKind: model.JoinXor, SplitKind: model.SplitXor}).
		Connect("start", "noop").
		Connect("noop", "end").
		Build()
	require.NoError(t, err)
	return def
}

func TestRegistry_RejectsDuplicateRegistration(t *testing.T) {
	r := NewRegistry()
	def := pingDefinition(t)
	require.NoError(t, r.Register(def))
	require.Error(t, r.Register(def))
	assert.True(t, r.Has("ping@v1"))
	assert.False(t, r.Has("ping@v2"))
}

func TestManager_ResolveBuildsAndCachesEngine(t *testing.T) {
	r := NewRegistry()
	def := pingDefinition(t)
	require.NoError(t, r.Register(def))

	registry, err := auth.NewScopeRegistry()
	require.NoError(t, err)
	svc, err := auth.NewAuthorizationService(registry, &auth.StaticDirectory{}, 0)
	require.NoError(t, err)

	mgr := NewManager(r, memstore.New(), svc, &fixedClock{}, audit.NewEmitter())

	facade, err := mgr.Resolve("ping", "v1")
	require.NoError(t, err)
	require.NotNil(t, facade.Engine())

	again, err := mgr.Resolve("ping", "v1")
	require.NoError(t, err)
	assert.Same(t, facade.Engine(), again.Engine(), "Resolve must return the same cached Engine on repeated calls")

	_, err = mgr.Resolve("ping", "v9")
	require.Error(t, err)
}

func TestFacade_DrivesWorkflowToCompletion(t *testing.T) {
	r := NewRegistry()
	def := pingDefinition(t)
	require.NoError(t, r.Register(def))

	registry, err := auth.NewScopeRegistry()
	require.NoError(t, err)
	svc, err := auth.NewAuthorizationService(registry, &auth.StaticDirectory{}, 0)
	require.NoError(t, err)

	mgr := NewManager(r, memstore.New(), svc, &fixedClock{}, audit.NewEmitter())
	facade, err := mgr.Resolve("ping", "v1")
	require.NoError(t, err)

	ctx := context.Background()
	workflowId, err := facade.InitializeRoot(ctx, nil, model.UserId("alice"))
	require.NoError(t, err)

	states, err := facade.GetTaskStates(ctx, workflowId)
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, states["noop"])
}
