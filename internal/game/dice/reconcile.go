package dice

import "fmt"

// ReconcilePlayerEntered builds a RollResult for a total a human reports
// from physical dice instead of using the RNG. The implied base roll
// (declaredTotal minus the modifier) must fall inside [Count, Count*Sides];
// anything else is ErrImpossibleValue.
//
// For multi-die notation the base roll is distributed across the dice by a
// deterministic greedy average-and-clamp pass so that UI display remains
// plausible. The individual dice cannot be recovered from a single total;
// this is a presentation aid, not a verification mechanism.
func ReconcilePlayerEntered(notation string, declaredTotal int) (RollResult, error) {
	n, err := Parse(notation)
	if err != nil {
		return RollResult{}, err
	}

	base := declaredTotal - n.Modifier
	if base < n.Count || base > n.Count*n.Sides {
		return RollResult{}, fmt.Errorf(
			"%w: total %d implies base roll %d outside [%d,%d] for %s",
			ErrImpossibleValue, declaredTotal, base, n.Count, n.Count*n.Sides, n.Raw,
		)
	}

	result := RollResult{
		Notation:      n.Raw,
		Dice:          distribute(base, n.Count, n.Sides),
		Modifier:      n.Modifier,
		Total:         declaredTotal,
		PlayerEntered: true,
	}
	if n.Count == 1 && n.Sides == 20 {
		result.CriticalHit = base == 20
		result.CriticalFail = base == 1
	}
	return result, nil
}

// distribute splits base across count dice. Each die takes the integer
// average of what remains, clamped so that the remainder stays
// representable by the dice still to be assigned.
//
// Precondition: base in [count, count*sides].
// Postcondition: every value in [1, sides]; values sum to base.
func distribute(base, count, sides int) []int {
	dice := make([]int, count)
	remaining := base
	for i := 0; i < count; i++ {
		left := count - i
		v := remaining / left
		if lo := remaining - (left-1)*sides; v < lo {
			v = lo
		}
		if v < 1 {
			v = 1
		}
		if hi := remaining - (left - 1); v > hi {
			v = hi
		}
		if v > sides {
			v = sides
		}
		dice[i] = v
		remaining -= v
	}
	return dice
}
