package state_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greyhelm/gamemaster/internal/game/condition"
	"github.com/greyhelm/gamemaster/internal/game/session"
	"github.com/greyhelm/gamemaster/internal/game/state"
)

func combatSnapshot() *session.Session {
	return &session.Session{
		Status: session.StatusActive,
		Combat: &session.CombatState{
			Active:    true,
			Round:     1,
			TurnIndex: 0,
			InitiativeOrder: []session.InitiativeEntry{
				{CombatantID: "pc-1", Name: "Riva", Type: session.CombatantPlayer, Initiative: 18},
				{CombatantID: "npc-1", Name: "Goblin", Type: session.CombatantNPC, Initiative: 11},
			},
			Combatants: []session.Combatant{
				{ID: "pc-1", Name: "Riva", Type: session.CombatantPlayer, CurrentHP: 10, MaxHP: 24, IsActive: true},
				{ID: "npc-1", Name: "Goblin", Type: session.CombatantNPC, CurrentHP: 7, MaxHP: 7, IsActive: true},
			},
		},
		Map: &session.MapState{
			Width:  20,
			Height: 20,
			Tokens: []session.Token{{ID: "pc-1", Name: "Riva", X: 3, Y: 4}},
		},
	}
}

func TestApply_DamageClampsAtZero(t *testing.T) {
	var a state.Applier
	snap := combatSnapshot()

	changes, applied, skipped := a.Apply(snap, []state.Delta{
		{Kind: state.KindDamage, Target: "pc-1", Value: float64(999)},
	})

	require.Len(t, applied, 1)
	assert.Empty(t, skipped)
	require.NotNil(t, changes.Combat)
	assert.Equal(t, 0, changes.Combat.Combatant("pc-1").CurrentHP)
	// Snapshot untouched.
	assert.Equal(t, 10, snap.Combat.Combatant("pc-1").CurrentHP)
}

func TestApply_HealClampsAtMax(t *testing.T) {
	var a state.Applier
	changes, applied, _ := a.Apply(combatSnapshot(), []state.Delta{
		{Kind: state.KindHeal, Target: "pc-1", Value: float64(100)},
	})

	require.Len(t, applied, 1)
	assert.Equal(t, 24, changes.Combat.Combatant("pc-1").CurrentHP)
}

func TestApply_OrderedBatchSeesEarlierEffects(t *testing.T) {
	var a state.Applier
	changes, applied, _ := a.Apply(combatSnapshot(), []state.Delta{
		{Kind: state.KindDamage, Target: "npc-1", Value: float64(4)},
		{Kind: state.KindDamage, Target: "npc-1", Value: float64(4)},
	})

	require.Len(t, applied, 2)
	assert.Equal(t, 0, changes.Combat.Combatant("npc-1").CurrentHP)
	assert.Equal(t, "hp 7 -> 3", applied[0].Detail)
	assert.Equal(t, "hp 3 -> 0", applied[1].Detail)
}

func TestApply_SkipConditions(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*session.Session)
		delta state.Delta
	}{
		{
			name:  "no combat",
			setup: func(s *session.Session) { s.Combat = nil },
			delta: state.Delta{Kind: state.KindDamage, Target: "pc-1", Value: float64(3)},
		},
		{
			name:  "inactive combat",
			setup: func(s *session.Session) { s.Combat.Active = false },
			delta: state.Delta{Kind: state.KindDamage, Target: "pc-1", Value: float64(3)},
		},
		{
			name:  "unmatched target",
			setup: func(*session.Session) {},
			delta: state.Delta{Kind: state.KindDamage, Target: "nobody", Value: float64(3)},
		},
		{
			name:  "non-numeric amount",
			setup: func(*session.Session) {},
			delta: state.Delta{Kind: state.KindDamage, Target: "pc-1", Value: "lots"},
		},
		{
			name:  "negative amount",
			setup: func(*session.Session) {},
			delta: state.Delta{Kind: state.KindDamage, Target: "pc-1", Value: float64(-5)},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var a state.Applier
			snap := combatSnapshot()
			tc.setup(snap)

			changes, applied, skipped := a.Apply(snap, []state.Delta{tc.delta})

			assert.True(t, changes.Empty(), "skip must not produce field changes")
			assert.Empty(t, applied)
			assert.Len(t, skipped, 1)
		})
	}
}

func TestApply_SkipDoesNotAbortBatch(t *testing.T) {
	var a state.Applier
	changes, applied, skipped := a.Apply(combatSnapshot(), []state.Delta{
		{Kind: state.KindDamage, Target: "nobody", Value: float64(3)},
		{Kind: state.KindDamage, Target: "npc-1", Value: float64(2)},
	})

	require.Len(t, applied, 1)
	assert.Len(t, skipped, 1)
	assert.Equal(t, 5, changes.Combat.Combatant("npc-1").CurrentHP)
}

func TestApply_ConditionSetSemantics(t *testing.T) {
	var a state.Applier
	snap := combatSnapshot()

	changes, applied, skipped := a.Apply(snap, []state.Delta{
		{Kind: state.KindConditionAdd, Target: "pc-1", Value: "poisoned"},
		{Kind: state.KindConditionAdd, Target: "pc-1", Value: "poisoned"},
	})

	require.Len(t, applied, 1)
	assert.Len(t, skipped, 1, "duplicate add is a skip")
	assert.Equal(t, []string{"poisoned"}, changes.Combat.Combatant("pc-1").Conditions)
}

func TestApply_ConditionRemoveAllOccurrences(t *testing.T) {
	var a state.Applier
	snap := combatSnapshot()
	snap.Combat.Combatants[0].Conditions = []string{"stunned", "poisoned", "stunned"}

	changes, applied, _ := a.Apply(snap, []state.Delta{
		{Kind: state.KindConditionRemove, Target: "pc-1", Value: "stunned"},
	})

	require.Len(t, applied, 1)
	assert.Equal(t, []string{"poisoned"}, changes.Combat.Combatant("pc-1").Conditions)
}

func TestApply_ConditionCatalogNormalizes(t *testing.T) {
	cat := condition.NewCatalog()
	cat.Register(&condition.Definition{ID: "poisoned", Name: "Poisoned"})
	a := state.Applier{Conditions: cat}

	changes, applied, _ := a.Apply(combatSnapshot(), []state.Delta{
		{Kind: state.KindConditionAdd, Target: "pc-1", Value: "Poisoned"},
		{Kind: state.KindConditionAdd, Target: "pc-1", Value: "glowing with eldritch light"},
	})

	require.Len(t, applied, 2)
	assert.Equal(t,
		[]string{"poisoned", "glowing with eldritch light"},
		changes.Combat.Combatant("pc-1").Conditions,
		"known names normalize to catalog ids, unknown names apply verbatim")
}

func TestApply_Move(t *testing.T) {
	var a state.Applier
	changes, applied, _ := a.Apply(combatSnapshot(), []state.Delta{
		{Kind: state.KindMove, Target: "pc-1", Value: "7, 9"},
	})

	require.Len(t, applied, 1)
	tok := changes.Map.Token("pc-1")
	assert.Equal(t, 7, tok.X)
	assert.Equal(t, 9, tok.Y)
	assert.Nil(t, changes.Combat, "move touches only map state")
}

func TestApply_MoveSkips(t *testing.T) {
	for name, delta := range map[string]state.Delta{
		"unparsable coordinate": {Kind: state.KindMove, Target: "pc-1", Value: "over there"},
		"missing token":         {Kind: state.KindMove, Target: "ghost", Value: "1,2"},
		"non-string value":      {Kind: state.KindMove, Target: "pc-1", Value: float64(7)},
	} {
		t.Run(name, func(t *testing.T) {
			var a state.Applier
			changes, applied, skipped := a.Apply(combatSnapshot(), []state.Delta{delta})
			assert.True(t, changes.Empty())
			assert.Empty(t, applied)
			assert.Len(t, skipped, 1)
		})
	}

	t.Run("no map state", func(t *testing.T) {
		var a state.Applier
		snap := combatSnapshot()
		snap.Map = nil
		changes, applied, _ := a.Apply(snap, []state.Delta{
			{Kind: state.KindMove, Target: "pc-1", Value: "1,2"},
		})
		assert.True(t, changes.Empty())
		assert.Empty(t, applied)
	})
}

func TestApply_EventOnlyKindsNeverMutate(t *testing.T) {
	var a state.Applier
	changes, applied, skipped := a.Apply(combatSnapshot(), []state.Delta{
		{Kind: state.KindInventory, Target: "pc-1", Value: "longsword"},
		{Kind: state.KindCustom, Target: "pc-1", Value: map[string]any{"note": "oath sworn"}},
	})

	assert.True(t, changes.Empty())
	assert.Empty(t, applied)
	assert.Len(t, skipped, 2)
}

func TestApply_AllSkipBatchIsEmpty(t *testing.T) {
	var a state.Applier
	changes, applied, skipped := a.Apply(combatSnapshot(), []state.Delta{
		{Kind: state.KindDamage, Target: "nobody", Value: float64(5)},
		{Kind: state.KindHeal, Target: "missing", Value: float64(5)},
	})

	assert.True(t, changes.Empty(), "unmatched targets must produce zero field changes")
	assert.Empty(t, applied)
	assert.Len(t, skipped, 2)
}

func TestDecodeDeltas(t *testing.T) {
	raw := json.RawMessage(`[
		{"kind": "damage", "target": "npc-1", "value": 6},
		{"kind": "summon_dragon", "target": "npc-1"},
		{"kind": "condition_add", "target": "pc-1", "value": "prone"},
		{"kind": "inventory", "target": "pc-1", "value": "rope"}
	]`)

	deltas := state.DecodeDeltas(raw)
	require.Len(t, deltas, 3, "unknown kinds are discarded")
	assert.Equal(t, state.KindDamage, deltas[0].Kind)
	assert.Equal(t, state.KindConditionAdd, deltas[1].Kind)
	assert.Equal(t, state.KindInventory, deltas[2].Kind)
}

func TestDecodeDeltas_Malformed(t *testing.T) {
	assert.Empty(t, state.DecodeDeltas(nil))
	assert.Empty(t, state.DecodeDeltas(json.RawMessage(`{"kind":"damage"}`)))
	assert.Empty(t, state.DecodeDeltas(json.RawMessage(`not json`)))
}
