// Package combat implements the turn-based combat state machine. All
// functions are pure transforms over a CombatState snapshot: they never
// touch storage, and side effects are returned as event drafts for the
// coordinator to append after the state itself commits.
//
// Turn order is an immutable initiative list plus an integer cursor,
// recomputed wholesale only at combat start.
package combat

import (
	"errors"
	"fmt"
	"sort"

	"github.com/greyhelm/gamemaster/internal/game/session"
)

// ErrNoActiveCombat is returned when a turn or end-combat operation is
// attempted outside combat. It is a caller logic error and must be
// surfaced, never retried.
var ErrNoActiveCombat = errors.New("no combat in progress")

// Outcome is how a combat encounter ended.
type Outcome string

const (
	OutcomeVictory Outcome = "victory"
	OutcomeDefeat  Outcome = "defeat"
	OutcomeRetreat Outcome = "retreat"
	OutcomeTruce   Outcome = "truce"
)

// ParseOutcome validates an outcome string.
func ParseOutcome(s string) (Outcome, error) {
	switch Outcome(s) {
	case OutcomeVictory, OutcomeDefeat, OutcomeRetreat, OutcomeTruce:
		return Outcome(s), nil
	}
	return "", fmt.Errorf("unknown combat outcome %q", s)
}

// Participant is one combatant entering an encounter, with its initiative
// score already resolved.
type Participant struct {
	ID         string
	Name       string
	Type       session.CombatantType
	Initiative int
	MaxHP      int
	CurrentHP  int
}

// Start builds the combat state for a new encounter. Participants are
// sorted descending by initiative score; the sort is stable, so ties keep
// submission order. Round starts at 1 with the highest-initiative
// combatant's turn.
//
// Returns the new state plus drafts for a combat_start event (full
// participant list) followed by a turn_start for the first combatant.
//
// Precondition: participants must be non-empty with unique ids.
func Start(participants []Participant) (*session.CombatState, []session.EventDraft, error) {
	if len(participants) == 0 {
		return nil, nil, errors.New("combat requires at least one participant")
	}

	sorted := make([]Participant, len(participants))
	copy(sorted, participants)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Initiative > sorted[j].Initiative
	})

	cs := &session.CombatState{
		Active:          true,
		Round:           1,
		TurnIndex:       0,
		InitiativeOrder: make([]session.InitiativeEntry, len(sorted)),
		Combatants:      make([]session.Combatant, len(sorted)),
	}
	for i, p := range sorted {
		cs.InitiativeOrder[i] = session.InitiativeEntry{
			CombatantID: p.ID,
			Name:        p.Name,
			Type:        p.Type,
			Initiative:  p.Initiative,
		}
		cs.Combatants[i] = session.Combatant{
			ID:        p.ID,
			Name:      p.Name,
			Type:      p.Type,
			CurrentHP: p.CurrentHP,
			MaxHP:     p.MaxHP,
			IsActive:  true,
		}
	}

	order := make([]map[string]any, len(cs.InitiativeOrder))
	for i, e := range cs.InitiativeOrder {
		order[i] = map[string]any{
			"combatant_id": e.CombatantID,
			"name":         e.Name,
			"type":         string(e.Type),
			"initiative":   e.Initiative,
		}
	}

	first := cs.CurrentEntry()
	drafts := []session.EventDraft{
		{
			Type:    session.EventCombatStart,
			Content: map[string]any{"round": 1, "initiative_order": order},
		},
		turnStartDraft(first, 1),
	}
	return cs, drafts, nil
}

// Next advances to the next combatant's turn. The cursor moves circularly
// through the initiative order, skipping combatants whose IsActive flag is
// false; wrapping past the end of the order increments the round. The skip
// scan is bounded by one full pass: if every combatant is inactive the
// cursor still lands one full lap ahead (back on the current slot, round
// advanced) rather than spinning — whether combat should end at that point
// is the caller's call.
//
// Returns the new state plus drafts for turn_end (the combatant whose turn
// just ended) and turn_start (the arrived-at combatant).
func Next(cs *session.CombatState) (*session.CombatState, []session.EventDraft, error) {
	if cs == nil || !cs.Active {
		return nil, nil, ErrNoActiveCombat
	}

	next := cs.Clone()
	ending := next.CurrentEntry()

	n := len(next.InitiativeOrder)
	idx := next.TurnIndex
	for step := 1; step <= n; step++ {
		idx = (next.TurnIndex + step) % n
		if idx == 0 {
			next.Round++
		}
		c := next.Combatant(next.InitiativeOrder[idx].CombatantID)
		if c != nil && c.IsActive {
			break
		}
	}
	next.TurnIndex = idx

	arrived := next.CurrentEntry()
	drafts := []session.EventDraft{
		{
			Type:      session.EventTurnEnd,
			ActorID:   ending.CombatantID,
			ActorName: ending.Name,
			Content:   map[string]any{"round": cs.Round, "turn_index": cs.TurnIndex},
		},
		turnStartDraft(arrived, next.Round),
	}
	return next, drafts, nil
}

// End closes the encounter. The combat state is cleared entirely — there is
// no paused-combat state — and a combat_end draft carries the outcome and
// optional summary.
//
// Returns the cleared (nil) combat state.
func End(cs *session.CombatState, outcome Outcome, summary string) (*session.CombatState, []session.EventDraft, error) {
	if cs == nil || !cs.Active {
		return nil, nil, ErrNoActiveCombat
	}
	if _, err := ParseOutcome(string(outcome)); err != nil {
		return nil, nil, err
	}

	content := map[string]any{
		"outcome": string(outcome),
		"rounds":  cs.Round,
	}
	if summary != "" {
		content["summary"] = summary
	}
	drafts := []session.EventDraft{
		{Type: session.EventCombatEnd, Content: content},
	}
	return nil, drafts, nil
}

func turnStartDraft(e session.InitiativeEntry, round int) session.EventDraft {
	return session.EventDraft{
		Type:      session.EventTurnStart,
		ActorID:   e.CombatantID,
		ActorName: e.Name,
		Content:   map[string]any{"round": round},
	}
}
