package narrator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greyhelm/gamemaster/internal/game/session"
	"github.com/greyhelm/gamemaster/internal/game/state"
)

func TestDecodeResponse_PlainObject(t *testing.T) {
	raw := `{
		"narrative": "The goblin reels from your blow.",
		"deltas": [{"kind": "damage", "target": "goblin-1", "value": 6}],
		"citations": [{"rule": "Attack rolls", "source": "core"}]
	}`

	resp, err := decodeResponse(raw)
	require.NoError(t, err)

	assert.Equal(t, "The goblin reels from your blow.", resp.Narrative)
	require.Len(t, resp.Deltas, 1)
	assert.Equal(t, state.KindDamage, resp.Deltas[0].Kind)
	assert.Equal(t, "goblin-1", resp.Deltas[0].Target)
	require.Len(t, resp.Citations, 1)
	assert.Equal(t, session.Citation{Rule: "Attack rolls", Source: "core"}, resp.Citations[0])
}

func TestDecodeResponse_FencedAndProseWrapped(t *testing.T) {
	raw := "Here you go:\n```json\n" +
		`{"narrative": "You slip past the guard.", "deltas": []}` +
		"\n```\nLet me know if you need more."

	resp, err := decodeResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, "You slip past the guard.", resp.Narrative)
	assert.Empty(t, resp.Deltas)
}

func TestDecodeResponse_UnknownDeltaKindsDiscarded(t *testing.T) {
	raw := `{
		"narrative": "A strange light flickers.",
		"deltas": [
			{"kind": "teleport", "target": "pc-1", "value": "elsewhere"},
			{"kind": "heal", "target": "pc-1", "value": 4}
		]
	}`

	resp, err := decodeResponse(raw)
	require.NoError(t, err)
	require.Len(t, resp.Deltas, 1)
	assert.Equal(t, state.KindHeal, resp.Deltas[0].Kind)
}

func TestDecodeResponse_Failures(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "no json at all", raw: "The goblin attacks!"},
		{name: "unbalanced braces", raw: `{"narrative": "oops"`},
		{name: "empty narrative", raw: `{"narrative": "  ", "deltas": []}`},
		{name: "narrative wrong type", raw: `{"narrative": 7}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeResponse(tt.raw)
			assert.Error(t, err)
		})
	}
}

func TestExtractObject_BracesInsideStrings(t *testing.T) {
	raw := `noise {"narrative": "He yells \"}{\" and runs."} trailing`
	got := extractObject(raw)
	assert.Equal(t, `{"narrative": "He yells \"}{\" and runs."}`, got)
}

func TestBuildUserPrompt_IncludesCombatView(t *testing.T) {
	req := Request{
		CurrentLocation:  "The Sunken Crypt",
		NarrativeSummary: "The party broke the seal.",
		ActiveNPCs:       []session.NPC{{Name: "Maro", Description: "a nervous torchbearer"}},
		Combat: &session.CombatState{
			Active: true,
			Round:  2,
			InitiativeOrder: []session.InitiativeEntry{
				{CombatantID: "pc-1", Name: "Sera", Type: session.CombatantPlayer, Initiative: 18},
			},
			Combatants: []session.Combatant{
				{ID: "pc-1", Name: "Sera", Type: session.CombatantPlayer, CurrentHP: 9, MaxHP: 14, IsActive: true, Conditions: []string{"poisoned"}},
			},
		},
		PlayerName: "Sera",
		Action:     "I strike at the wight.",
	}

	prompt := buildUserPrompt(req)

	for _, want := range []string{
		"The Sunken Crypt",
		"The party broke the seal.",
		"Maro",
		"Combat round 2",
		"9/14 HP",
		"poisoned",
		"It is Sera's turn.",
		"Sera: I strike at the wight.",
	} {
		assert.True(t, strings.Contains(prompt, want), "prompt missing %q:\n%s", want, prompt)
	}
}
