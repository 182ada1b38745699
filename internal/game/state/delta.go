// Package state applies semantic state deltas to session snapshots. Deltas
// originate from untrusted narrator proposals, so they are modeled as a
// tagged-variant list validated field-by-field; malformed entries are
// skipped, never fatal, and must not abort the rest of a batch.
package state

import "encoding/json"

// Kind is the delta discriminator.
type Kind string

const (
	KindDamage          Kind = "damage"
	KindHeal            Kind = "heal"
	KindConditionAdd    Kind = "condition_add"
	KindConditionRemove Kind = "condition_remove"
	KindMove            Kind = "move"
	// KindInventory and KindCustom never mutate session fields; they are
	// recorded as timeline events only. Ownership of their effects belongs
	// to the character-management collaborator.
	KindInventory Kind = "inventory"
	KindCustom    Kind = "custom"
)

// Known reports whether k is a recognized delta kind.
func (k Kind) Known() bool {
	switch k {
	case KindDamage, KindHeal, KindConditionAdd, KindConditionRemove,
		KindMove, KindInventory, KindCustom:
		return true
	}
	return false
}

// EventOnly reports whether k is recorded on the timeline without ever
// touching session fields.
func (k Kind) EventOnly() bool {
	return k == KindInventory || k == KindCustom
}

// Delta is one proposed semantic change. Value carries the kind-specific
// payload: a number for damage/heal, a condition name for condition_add and
// condition_remove, an "x,y" coordinate for move, and free-form data for
// inventory/custom.
type Delta struct {
	Kind   Kind   `json:"kind"`
	Target string `json:"target"`
	Value  any    `json:"value"`
}

// DecodeDeltas parses an untrusted JSON array into deltas, discarding
// entries whose kind is unknown. Field-level validation (is the amount
// numeric, does the target exist) happens later in Apply; decode only
// filters entries that could never mean anything.
//
// A nil or non-array payload yields an empty slice, not an error.
func DecodeDeltas(raw json.RawMessage) []Delta {
	if len(raw) == 0 {
		return nil
	}
	var decoded []Delta
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil
	}
	out := decoded[:0]
	for _, d := range decoded {
		if !d.Kind.Known() {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Amount extracts the numeric payload of a damage or heal delta. The second
// return is false when the value is not a finite non-negative number —
// those deltas are silently skipped.
func (d Delta) Amount() (int, bool) {
	f, ok := d.Value.(float64)
	if !ok || f < 0 {
		return 0, false
	}
	return int(f), true
}

// Text extracts the string payload of a condition or move delta.
func (d Delta) Text() (string, bool) {
	s, ok := d.Value.(string)
	return s, ok
}
