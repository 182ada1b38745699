// Package session defines the canonical mutable state of a play session:
// the Session record, its embedded combat and map sub-state, and the
// append-only timeline Event model.
//
// Sessions are guarded by an optimistic-concurrency version counter. The
// version starts at 1 and is incremented by exactly 1 on every successful
// write; no two writers may commit against the same version value.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive Status = "active"
	StatusPaused Status = "paused"
	StatusEnded  Status = "ended"
)

// Valid reports whether s is a known lifecycle status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusEnded:
		return true
	}
	return false
}

// NPC is one active non-player character descriptor in the narrative state.
type NPC struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Session is the canonical mutable record of one play session.
//
// Invariant: Version is strictly increasing; every write that changes any
// other field also increments it by exactly 1.
type Session struct {
	ID         uuid.UUID
	CampaignID uuid.UUID
	Status     Status

	// Version is the optimistic-concurrency token. Starts at 1.
	Version int64

	NarrativeSummary string
	CurrentLocation  string
	ActiveNPCs       []NPC

	// Combat is nil when the session is not in combat.
	Combat *CombatState
	// Map is nil when no battle map is laid out.
	Map *MapState

	StartedAt    time.Time
	EndedAt      *time.Time
	LastActivity time.Time
}

// InCombat reports whether the session has an active combat encounter.
func (s *Session) InCombat() bool {
	return s.Combat != nil && s.Combat.Active
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.ActiveNPCs != nil {
		out.ActiveNPCs = make([]NPC, len(s.ActiveNPCs))
		copy(out.ActiveNPCs, s.ActiveNPCs)
	}
	out.Combat = s.Combat.Clone()
	out.Map = s.Map.Clone()
	if s.EndedAt != nil {
		t := *s.EndedAt
		out.EndedAt = &t
	}
	return &out
}

// CombatantType distinguishes player characters from narrator-controlled
// combatants in the initiative order.
type CombatantType string

const (
	CombatantPlayer CombatantType = "player"
	CombatantNPC    CombatantType = "npc"
)

// InitiativeEntry is one fixed slot in the initiative order. The order is
// computed once at combat start and never reordered afterwards; turn
// sequencing is an integer cursor over this list.
type InitiativeEntry struct {
	CombatantID string        `json:"combatant_id"`
	Name        string        `json:"name"`
	Type        CombatantType `json:"type"`
	Initiative  int           `json:"initiative"`
}

// Combatant is the live record for one participant in a combat encounter.
type Combatant struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Type      CombatantType `json:"type"`
	CurrentHP int           `json:"current_hp"`
	MaxHP     int           `json:"max_hp"`
	// Conditions holds active condition names with set semantics (no
	// duplicates).
	Conditions []string `json:"conditions,omitempty"`
	// IsActive is false for dead or removed combatants; inactive combatants
	// are skipped when advancing turns.
	IsActive bool `json:"is_active"`
}

// CombatState is the combat sub-state embedded in a Session.
//
// Invariant: TurnIndex always indexes a position in InitiativeOrder; Round
// increments exactly when TurnIndex wraps past the end of the order back to
// zero.
type CombatState struct {
	Active          bool              `json:"active"`
	Round           int               `json:"round"`
	TurnIndex       int               `json:"turn_index"`
	InitiativeOrder []InitiativeEntry `json:"initiative_order"`
	Combatants      []Combatant       `json:"combatants"`
}

// Combatant returns a pointer to the combatant with the given id, or nil.
func (c *CombatState) Combatant(id string) *Combatant {
	for i := range c.Combatants {
		if c.Combatants[i].ID == id {
			return &c.Combatants[i]
		}
	}
	return nil
}

// CurrentEntry returns the initiative entry whose turn it is.
//
// Precondition: TurnIndex indexes a position in InitiativeOrder.
func (c *CombatState) CurrentEntry() InitiativeEntry {
	return c.InitiativeOrder[c.TurnIndex]
}

// Clone returns a deep copy of the combat state. Pure transforms operate on
// clones so that callers always retain an unmodified snapshot.
func (c *CombatState) Clone() *CombatState {
	if c == nil {
		return nil
	}
	out := &CombatState{
		Active:    c.Active,
		Round:     c.Round,
		TurnIndex: c.TurnIndex,
	}
	out.InitiativeOrder = make([]InitiativeEntry, len(c.InitiativeOrder))
	copy(out.InitiativeOrder, c.InitiativeOrder)
	out.Combatants = make([]Combatant, len(c.Combatants))
	for i, cbt := range c.Combatants {
		out.Combatants[i] = cbt
		if cbt.Conditions != nil {
			out.Combatants[i].Conditions = make([]string, len(cbt.Conditions))
			copy(out.Combatants[i].Conditions, cbt.Conditions)
		}
	}
	return out
}

// Token is a positioned token on the battle map.
type Token struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	X    int    `json:"x"`
	Y    int    `json:"y"`
}

// TerrainMarker flags one grid cell with a terrain kind ("wall",
// "difficult", "water", ...).
type TerrainMarker struct {
	X    int    `json:"x"`
	Y    int    `json:"y"`
	Kind string `json:"kind"`
}

// MapState is the battle-map sub-state embedded in a Session.
type MapState struct {
	Width   int             `json:"width"`
	Height  int             `json:"height"`
	Tokens  []Token         `json:"tokens,omitempty"`
	Terrain []TerrainMarker `json:"terrain,omitempty"`
}

// Token returns a pointer to the token with the given id, or nil.
func (m *MapState) Token(id string) *Token {
	for i := range m.Tokens {
		if m.Tokens[i].ID == id {
			return &m.Tokens[i]
		}
	}
	return nil
}

// Clone returns a deep copy of the map state.
func (m *MapState) Clone() *MapState {
	if m == nil {
		return nil
	}
	out := &MapState{Width: m.Width, Height: m.Height}
	if m.Tokens != nil {
		out.Tokens = make([]Token, len(m.Tokens))
		copy(out.Tokens, m.Tokens)
	}
	if m.Terrain != nil {
		out.Terrain = make([]TerrainMarker, len(m.Terrain))
		copy(out.Terrain, m.Terrain)
	}
	return out
}
