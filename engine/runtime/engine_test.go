package runtime

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowforge/engine/audit"
	"github.com/flowforge/flowforge/engine/auth"
	"github.com/flowforge/flowforge/engine/definition"
	"github.com/flowforge/flowforge/engine/enablement"
	"github.com/flowforge/flowforge/engine/model"
	"github.com/flowforge/flowforge/engine/store"
	"github.com/flowforge/flowforge/engine/store/memstore"
)

// fakeClock hands out strictly increasing millisecond timestamps so
// span ordering in tests is deterministic without depending on the
// wall clock.
type fakeClock struct{ now int64 }

func (c *fakeClock) Now(_ context.Context) int64 {
	c.now++
	return c.now
}

func newGreetingAuth(t *testing.T) *auth.AuthorizationService {
	t.Helper()
	registry, err := auth.NewScopeRegistry(auth.ScopeModule{
		Name:   "greeting",
		Scopes: []model.Scope{{Name: "greeting:write", Description: "write greetings"}},
	})
	require.NoError(t, err)
	dir := &auth.StaticDirectory{
		UserGroups: map[string][]string{"bob": {"support"}},
		GroupRoles: map[string][]string{"support": {"agent"}},
		RoleScopes: map[string][]string{"agent": {"greeting:write"}},
	}
	svc, err := auth.NewAuthorizationService(registry, dir, 0)
	require.NoError(t, err)
	return svc
}

func greetingDefinition(t *testing.T) *model.WorkflowDefinition {
	t.Helper()
	def, err := definition.NewBuilder("greeting", "v1").
		StartCondition("start").
		EndCondition("end").
		Task(definition.TaskSpec{
			Name:      "storeGreeting",
			Kind:      model.TaskHuman,
			JoinKind:  model.JoinXor,
			SplitKind: model.SplitXor,
			Offer:     &model.OfferTemplate{RequiredScope: "greeting:write"},
		}).
		Connect("start", "storeGreeting").
		Connect("storeGreeting", "end").
		WithKnownScopes([]model.ScopeName{"greeting:write"}).
		Build()
	require.NoError(t, err)
	return def
}

func newGreetingEngine(t *testing.T) (*Engine, store.Store, *auth.AuthorizationService, map[string]string) {
	t.Helper()
	s := memstore.New()
	svc := newGreetingAuth(t)
	emitter := audit.NewEmitter()
	greetings := map[string]string{}
	def := greetingDefinition(t)
	callbacks := CallbackRegistry{
		Tasks: map[model.TaskName]TaskCallbacks{
			"storeGreeting": {
				OnComplete: func(_ context.Context, wi *model.WorkItem, payload json.RawMessage) (enablement.SplitChoice, error) {
					var body struct {
						Message string `json:"message"`
					}
					if len(payload) > 0 {
						_ = json.Unmarshal(payload, &body)
					}
					greetings[wi.WorkflowId.String()] = body.Message
					return enablement.SplitChoice{Conditions: []model.ConditionName{"end"}}, nil
				},
			},
		},
	}
	e := New(def, callbacks, s, svc, &fakeClock{}, emitter)
	return e, s, svc, greetings
}

func TestEngine_GreetingHappyPath(t *testing.T) {
	ctx := context.Background()
	e, _, _, greetings := newGreetingEngine(t)

	workflowId, err := e.InitializeRoot(ctx, nil, model.UserId("alice"))
	require.NoError(t, err)

	states, err := e.GetTaskStates(ctx, workflowId)
	require.NoError(t, err)
	assert.Equal(t, model.TaskEnabled, states["storeGreeting"])

	items, err := e.loadWorkItemsForWorkflow(ctx, workflowId)
	require.NoError(t, err)
	require.Len(t, items, 1)
	wi := items[0]
	assert.Equal(t, model.WorkItemOffered, wi.State)

	require.NoError(t, e.StartWorkItem(ctx, wi.Id, model.UserId("bob")))
	states, err = e.GetTaskStates(ctx, workflowId)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStarted, states["storeGreeting"])

	payload, _ := json.Marshal(map[string]string{"message": "hello"})
	require.NoError(t, e.CompleteWorkItem(ctx, wi.Id, payload, model.UserId("bob")))

	states, err = e.GetTaskStates(ctx, workflowId)
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, states["storeGreeting"])

	wf, err := e.loadWorkflow(ctx, workflowId)
	require.NoError(t, err)
	assert.Equal(t, model.WorkflowCompleted, wf.State)
	assert.Equal(t, "hello", greetings[workflowId.String()])
}

func TestEngine_AuthorizationDeny(t *testing.T) {
	ctx := context.Background()
	e, _, _, _ := newGreetingEngine(t)

	workflowId, err := e.InitializeRoot(ctx, nil, model.UserId("alice"))
	require.NoError(t, err)
	items, err := e.loadWorkItemsForWorkflow(ctx, workflowId)
	require.NoError(t, err)
	require.Len(t, items, 1)

	err = e.StartWorkItem(ctx, items[0].Id, model.UserId("mallory"))
	require.Error(t, err)

	wf, err := e.loadWorkflow(ctx, workflowId)
	require.NoError(t, err)
	assert.Equal(t, model.WorkflowStarted, wf.State, "a denied start must leave workflow state untouched")
}

func andJoinDefinition(t *testing.T) *model.WorkflowDefinition {
	t.Helper()
	def, err := definition.NewBuilder("andjoin", "v1").
		StartCondition("start").
		Condition("a").
		Condition("b").
		Condition("aDone").
		Condition("bDone").
		EndCondition("end").
		Task(definition.TaskSpec{Name: "split", Kind: model.TaskAutomated, JoinKind: model.JoinXor, SplitKind: model.SplitAnd}).
		Task(definition.TaskSpec{Name: "doA", Kind: model.TaskAutomated, JoinKind: model.JoinXor, SplitKind: model.SplitXor}).
		Task(definition.TaskSpec{Name: "doB", Kind: model.TaskAutomated, JoinKind: model.JoinXor, SplitKind: model.SplitXor}).
		Task(definition.TaskSpec{Name: "join", Kind: model.TaskAutomated, JoinKind: model.JoinAnd, SplitKind: model.SplitXor}).
		Connect("start", "split").
		Connect("split", "a").
		Connect("split", "b").
		Connect("a", "doA").
		Connect("doA", "aDone").
		Connect("b", "doB").
		Connect("doB", "bDone").
		Connect("aDone", "join").
		Connect("bDone", "join").
		Connect("join", "end").
		Build()
	require.NoError(t, err)
	return def
}

func TestEngine_AndJoinRunsToCompletion(t *testing.T) {
	ctx := context.Background()
	def := andJoinDefinition(t)
	s := memstore.New()
	svc := newGreetingAuth(t)
	emitter := audit.NewEmitter()
	e := New(def, CallbackRegistry{}, s, svc, &fakeClock{}, emitter)

	workflowId, err := e.InitializeRoot(ctx, nil, model.UserId("alice"))
	require.NoError(t, err)

	wf, err := e.loadWorkflow(ctx, workflowId)
	require.NoError(t, err)
	assert.Equal(t, model.WorkflowCompleted, wf.State, "an all-automated and-join workflow runs to completion without external input")

	states, err := e.GetTaskStates(ctx, workflowId)
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, states["join"])
}
