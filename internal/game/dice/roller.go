package dice

import "fmt"

// Mode selects how a d20 check is drawn.
type Mode string

const (
	ModeNormal       Mode = "normal"
	ModeAdvantage    Mode = "advantage"
	ModeDisadvantage Mode = "disadvantage"
)

// Valid reports whether m is a known roll mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeNormal, ModeAdvantage, ModeDisadvantage:
		return true
	}
	return false
}

// Roll evaluates a parsed Notation using src: Count independent uniform
// draws in [1, Sides], summed, plus the modifier.
//
// Precondition: n must come from Parse; src must be non-nil.
// Postcondition: result.Total in [Count+Modifier, Count*Sides+Modifier].
// Critical flags are set only when Count == 1 and Sides == 20.
func Roll(n Notation, src Source) RollResult {
	rolled := make([]int, n.Count)
	total := n.Modifier
	for i := range rolled {
		rolled[i] = src.Intn(n.Sides) + 1
		total += rolled[i]
	}

	result := RollResult{
		Notation: n.Raw,
		Dice:     rolled,
		Modifier: n.Modifier,
		Total:    total,
	}
	if n.Count == 1 && n.Sides == 20 {
		result.CriticalHit = rolled[0] == 20
		result.CriticalFail = rolled[0] == 1
	}
	return result
}

// RollNotation parses notation and rolls it in a single call.
func RollNotation(notation string, src Source) (RollResult, error) {
	n, err := Parse(notation)
	if err != nil {
		return RollResult{}, err
	}
	return Roll(n, src), nil
}

// RollWithAdvantage rolls a d20 check with the given flat bonus. For
// advantage and disadvantage two independent d20 are drawn and the max or
// min is kept; critical flags are evaluated on the selected raw die.
//
// Precondition: src must be non-nil.
func RollWithAdvantage(bonus int, mode Mode, src Source) (RollResult, error) {
	if !mode.Valid() {
		return RollResult{}, fmt.Errorf("%w: unknown roll mode %q", ErrInvalidNotation, mode)
	}

	notation := fmt.Sprintf("1d20%+d", bonus)
	if bonus == 0 {
		notation = "1d20"
	}

	if mode == ModeNormal {
		n := Notation{Raw: notation, Count: 1, Sides: 20, Modifier: bonus}
		return Roll(n, src), nil
	}

	first := src.Intn(20) + 1
	second := src.Intn(20) + 1

	selected, dropped := first, second
	if mode == ModeAdvantage && second > first {
		selected, dropped = second, first
	}
	if mode == ModeDisadvantage && second < first {
		selected, dropped = second, first
	}

	return RollResult{
		Notation:     notation,
		Dice:         []int{selected},
		Modifier:     bonus,
		Total:        selected + bonus,
		Dropped:      []int{dropped},
		CriticalHit:  selected == 20,
		CriticalFail: selected == 1,
	}, nil
}
