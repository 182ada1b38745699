package session

import "time"

// Fields is the set of session columns a single conditional write may
// change. A nil pointer (or unset flag for nullable sub-state) leaves the
// column untouched. Version and last-activity are never set here; the store
// adapter owns both as part of the compare-and-swap write.
type Fields struct {
	Status           *Status
	NarrativeSummary *string
	CurrentLocation  *string

	ActiveNPCs    []NPC
	ActiveNPCsSet bool

	// Combat replaces the combat sub-state when CombatSet is true. A nil
	// Combat with CombatSet means "clear combat" (exit combat entirely).
	Combat    *CombatState
	CombatSet bool

	// Map replaces the map sub-state when MapSet is true.
	Map    *MapState
	MapSet bool

	EndedAt    *time.Time
	EndedAtSet bool
}

// Empty reports whether the field set would change nothing. Empty field
// sets must not be written: a no-op write would burn a version increment.
func (f Fields) Empty() bool {
	return f.Status == nil &&
		f.NarrativeSummary == nil &&
		f.CurrentLocation == nil &&
		!f.ActiveNPCsSet &&
		!f.CombatSet &&
		!f.MapSet &&
		!f.EndedAtSet
}
