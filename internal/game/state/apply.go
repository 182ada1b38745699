package state

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/greyhelm/gamemaster/internal/game/condition"
	"github.com/greyhelm/gamemaster/internal/game/session"
)

// Changes is the field set a delta batch produced. A nil sub-state pointer
// means "unchanged"; deltas never clear combat or map state, only modify
// it.
type Changes struct {
	Combat *session.CombatState
	Map    *session.MapState
}

// Empty reports whether the batch changed nothing. Empty changes produce no
// store write.
func (c Changes) Empty() bool {
	return c.Combat == nil && c.Map == nil
}

// Fields converts the changes into a session field set for the conditional
// write path.
func (c Changes) Fields() session.Fields {
	var f session.Fields
	if c.Combat != nil {
		f.Combat = c.Combat
		f.CombatSet = true
	}
	if c.Map != nil {
		f.Map = c.Map
		f.MapSet = true
	}
	return f
}

// Note describes one delta's disposition, for state-change timeline events
// and for observability logging of swallowed skips.
type Note struct {
	Kind   Kind
	Target string
	Detail string
}

// Applier applies delta batches to session snapshots. The zero value is
// usable; an optional condition Catalog normalizes condition names that
// match the ruleset (unknown names still apply verbatim — the narrator may
// invent flavor conditions).
type Applier struct {
	Conditions *condition.Catalog
}

// Apply runs the batch in order against a snapshot and returns the changed
// field set, one Note per applied delta, and one Note per skipped delta.
// The snapshot itself is never modified; sub-state is deep-copied on the
// first effective change, and later deltas in the batch see earlier ones'
// effects. A delta with no effect (zero damage, condition already present)
// is a skip, so an all-skip batch reports empty Changes and causes no store
// write.
//
// Skips are silent by design: deltas come from an untrusted narrator
// proposal, and a malformed entry must not abort the rest of the batch.
// Event-only kinds (inventory, custom) are always skips here — the
// coordinator records them on the timeline without a field change.
func (a *Applier) Apply(snapshot *session.Session, deltas []Delta) (Changes, []Note, []Note) {
	var (
		changes Changes
		applied []Note
		skipped []Note
	)

	// Working views: the clone once one exists, the snapshot before that.
	curCombat := func() *session.CombatState {
		if changes.Combat != nil {
			return changes.Combat
		}
		return snapshot.Combat
	}
	curMap := func() *session.MapState {
		if changes.Map != nil {
			return changes.Map
		}
		return snapshot.Map
	}
	mutCombat := func() *session.CombatState {
		if changes.Combat == nil {
			changes.Combat = snapshot.Combat.Clone()
		}
		return changes.Combat
	}
	mutMap := func() *session.MapState {
		if changes.Map == nil {
			changes.Map = snapshot.Map.Clone()
		}
		return changes.Map
	}

	skip := func(d Delta, reason string) {
		skipped = append(skipped, Note{Kind: d.Kind, Target: d.Target, Detail: reason})
	}

	for _, d := range deltas {
		switch d.Kind {
		case KindDamage, KindHeal:
			cs := curCombat()
			if cs == nil || !cs.Active {
				skip(d, "no active combat")
				continue
			}
			amount, ok := d.Amount()
			if !ok {
				skip(d, "amount is not numeric")
				continue
			}
			cbt := cs.Combatant(d.Target)
			if cbt == nil {
				skip(d, "no matching combatant")
				continue
			}
			newHP := max(0, cbt.CurrentHP-amount)
			if d.Kind == KindHeal {
				newHP = min(cbt.MaxHP, cbt.CurrentHP+amount)
			}
			if newHP == cbt.CurrentHP {
				skip(d, "no effect")
				continue
			}
			before := cbt.CurrentHP
			mutCombat().Combatant(d.Target).CurrentHP = newHP
			applied = append(applied, Note{
				Kind:   d.Kind,
				Target: d.Target,
				Detail: fmt.Sprintf("hp %d -> %d", before, newHP),
			})

		case KindConditionAdd, KindConditionRemove:
			cs := curCombat()
			if cs == nil || !cs.Active {
				skip(d, "no active combat")
				continue
			}
			name, ok := d.Text()
			if !ok || name == "" {
				skip(d, "condition name missing")
				continue
			}
			name = a.normalizeCondition(name)
			cbt := cs.Combatant(d.Target)
			if cbt == nil {
				skip(d, "no matching combatant")
				continue
			}
			if d.Kind == KindConditionAdd {
				if hasCondition(cbt.Conditions, name) {
					skip(d, "condition already present")
					continue
				}
				mcbt := mutCombat().Combatant(d.Target)
				mcbt.Conditions = append(mcbt.Conditions, name)
			} else {
				if !hasCondition(cbt.Conditions, name) {
					skip(d, "condition not present")
					continue
				}
				mcbt := mutCombat().Combatant(d.Target)
				mcbt.Conditions = removeCondition(mcbt.Conditions, name)
			}
			applied = append(applied, Note{Kind: d.Kind, Target: d.Target, Detail: name})

		case KindMove:
			ms := curMap()
			if ms == nil {
				skip(d, "no map state")
				continue
			}
			coord, ok := d.Text()
			if !ok {
				skip(d, "coordinate is not a string")
				continue
			}
			x, y, ok := parseCoordinate(coord)
			if !ok {
				skip(d, "unparsable coordinate "+strconv.Quote(coord))
				continue
			}
			tok := ms.Token(d.Target)
			if tok == nil {
				skip(d, "no matching token")
				continue
			}
			if tok.X == x && tok.Y == y {
				skip(d, "no effect")
				continue
			}
			mtok := mutMap().Token(d.Target)
			mtok.X, mtok.Y = x, y
			applied = append(applied, Note{
				Kind:   d.Kind,
				Target: d.Target,
				Detail: fmt.Sprintf("moved to %d,%d", x, y),
			})

		case KindInventory, KindCustom:
			skip(d, "event-only kind")

		default:
			skip(d, "unknown kind")
		}
	}

	return changes, applied, skipped
}

func (a *Applier) normalizeCondition(name string) string {
	if a.Conditions == nil {
		return name
	}
	id := strings.ToLower(strings.TrimSpace(name))
	if a.Conditions.Known(id) {
		return id
	}
	return name
}

func hasCondition(conditions []string, name string) bool {
	for _, c := range conditions {
		if c == name {
			return true
		}
	}
	return false
}

// removeCondition removes all occurrences of name.
func removeCondition(conditions []string, name string) []string {
	out := conditions[:0:0]
	for _, c := range conditions {
		if c != name {
			out = append(out, c)
		}
	}
	return out
}

// parseCoordinate parses "x,y" into two integers.
func parseCoordinate(s string) (int, int, bool) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, false
	}
	x, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, false
	}
	y, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, false
	}
	return x, y, true
}
