package session

import (
	"time"

	"github.com/google/uuid"
)

// EventType enumerates the kinds of timeline entries.
type EventType string

const (
	EventSessionStart     EventType = "session_start"
	EventSessionEnd       EventType = "session_end"
	EventPlayerAction     EventType = "player_action"
	EventNarratorResponse EventType = "narrator_response"
	EventDiceRoll         EventType = "dice_roll"
	EventStateChange      EventType = "state_change"
	EventCombatStart      EventType = "combat_start"
	EventCombatEnd        EventType = "combat_end"
	EventTurnStart        EventType = "turn_start"
	EventTurnEnd          EventType = "turn_end"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventSessionStart, EventSessionEnd, EventPlayerAction,
		EventNarratorResponse, EventDiceRoll, EventStateChange,
		EventCombatStart, EventCombatEnd, EventTurnStart, EventTurnEnd:
		return true
	}
	return false
}

// Citation references a rule that justified a narrator decision.
type Citation struct {
	Rule   string `json:"rule"`
	Source string `json:"source,omitempty"`
}

// Event is one immutable, append-only timeline entry. Events are never
// mutated or deleted; they are the audit trail from which recaps are
// derived.
//
// Invariant: Sequence is strictly increasing per session.
type Event struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	Type      EventType
	ActorID   string
	ActorName string
	Content   map[string]any
	Citations []Citation
	Sequence  int64
	CreatedAt time.Time
}

// EventDraft is an Event before it is assigned an id, sequence number, and
// timestamp. Pure components (the turn engine, the delta applier) propose
// drafts; only the coordinator appends them to the store.
type EventDraft struct {
	Type      EventType
	ActorID   string
	ActorName string
	Content   map[string]any
	Citations []Citation
}
