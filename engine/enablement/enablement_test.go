package enablement

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flowforge/flowforge/engine/model"
)

func andJoinDef() *model.WorkflowDefinition {
	return &model.WorkflowDefinition{
		Tasks: map[model.TaskName]*model.TaskDefinition{
			"A": {Name: "A", JoinKind: model.JoinXor, SplitKind: model.SplitXor, Incoming: []model.ConditionName{"start"}, Outgoing: []model.ConditionName{"afterA"}},
			"B": {Name: "B", JoinKind: model.JoinXor, SplitKind: model.SplitXor, Incoming: []model.ConditionName{"start"}, Outgoing: []model.ConditionName{"afterB"}},
			"C": {Name: "C", JoinKind: model.JoinAnd, SplitKind: model.SplitXor, Incoming: []model.ConditionName{"afterA", "afterB"}, Outgoing: []model.ConditionName{"end"}},
		},
	}
}

func TestIsEnabled_AndJoin(t *testing.T) {
	def := andJoinDef()
	cTask := def.Tasks["C"]

	t.Run("Should stay disabled with only one incoming token", func(t *testing.T) {
		m := model.Marking{"afterA": 1}
		assert.False(t, IsEnabled(def, cTask, m, nil))
	})

	t.Run("Should enable once every incoming condition has a token", func(t *testing.T) {
		m := model.Marking{"afterA": 1, "afterB": 1}
		assert.True(t, IsEnabled(def, cTask, m, nil))
	})
}

func TestFireAndPlace_Conservation(t *testing.T) {
	def := andJoinDef()

	t.Run("Should consume exactly its incoming tokens on an and-join fire", func(t *testing.T) {
		m := model.Marking{"afterA": 1, "afterB": 1}
		after := Fire(def, m, def.Tasks["C"])
		assert.Equal(t, model.Marking{}, after)
	})

	t.Run("Should add exactly one token on an xor-split completion", func(t *testing.T) {
		m := model.Marking{"start": 1}
		after := Place(def.Tasks["A"], m, SplitChoice{Conditions: []model.ConditionName{"afterA"}})
		assert.Equal(t, 1, after.Tokens("afterA"))
		assert.Equal(t, 1, after.Tokens("start"), "Place must not touch conditions other than the firing task's outgoing set")
	})

	t.Run("Should add one token per outgoing condition on an and-split completion", func(t *testing.T) {
		andSplit := &model.TaskDefinition{SplitKind: model.SplitAnd, Outgoing: []model.ConditionName{"x", "y", "z"}}
		after := Place(andSplit, model.Marking{}, SplitChoice{})
		assert.Equal(t, 1, after.Tokens("x"))
		assert.Equal(t, 1, after.Tokens("y"))
		assert.Equal(t, 1, after.Tokens("z"))
	})
}

func TestOrJoin_WaitsForUpstreamTerminal(t *testing.T) {
	def := &model.WorkflowDefinition{
		Tasks: map[model.TaskName]*model.TaskDefinition{
			"UpA": {Name: "UpA", SplitKind: model.SplitXor, Outgoing: []model.ConditionName{"c1"}},
			"UpB": {Name: "UpB", SplitKind: model.SplitXor, Outgoing: []model.ConditionName{"c2"}},
			"Or":  {Name: "Or", JoinKind: model.JoinOr, Incoming: []model.ConditionName{"c1", "c2"}},
		},
	}
	orTask := def.Tasks["Or"]

	t.Run("Should not enable while an upstream producer is non-terminal and its condition is empty", func(t *testing.T) {
		m := model.Marking{"c1": 1}
		terminal := map[model.TaskName]bool{"UpA": true, "UpB": false}
		assert.False(t, IsEnabled(def, orTask, m, terminal))
	})

	t.Run("Should enable once every empty predecessor's upstream tasks are terminal", func(t *testing.T) {
		m := model.Marking{"c1": 1}
		terminal := map[model.TaskName]bool{"UpA": true, "UpB": true}
		assert.True(t, IsEnabled(def, orTask, m, terminal))
	})
}

func TestBipartiteFiring(t *testing.T) {
	t.Run("Should only modify conditions incident to the firing task", func(t *testing.T) {
		def := andJoinDef()
		unrelated := model.Marking{"unrelated": 5, "afterA": 1, "afterB": 1}
		after := Fire(def, unrelated, def.Tasks["C"])
		assert.Equal(t, 5, after.Tokens("unrelated"))
		assert.Equal(t, 0, after.Tokens("afterA"))
		assert.Equal(t, 0, after.Tokens("afterB"))
	})
}
