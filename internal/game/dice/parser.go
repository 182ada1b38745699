package dice

import (
	"fmt"
	"regexp"
	"strconv"
)

// Notation is a parsed dice expression.
//
// Postcondition after a successful Parse: Count in [1,100], Sides in
// [2,100], |Modifier| <= 100.
type Notation struct {
	Raw      string
	Count    int
	Sides    int
	Modifier int
}

// notationPattern matches the strict NdM[+/-K] form. The die count is
// required: "d20" is invalid notation, not shorthand for "1d20".
var notationPattern = regexp.MustCompile(`^(\d+)[dD](\d+)([+-]\d+)?$`)

// Parse parses a dice notation string of the form NdM, NdM+K, or NdM-K.
//
// Postcondition: Returns a Notation within the supported ranges, or an
// error wrapping ErrInvalidNotation / ErrOutOfRange.
func Parse(notation string) (Notation, error) {
	m := notationPattern.FindStringSubmatch(notation)
	if m == nil {
		return Notation{}, fmt.Errorf("%w: %q", ErrInvalidNotation, notation)
	}

	count, err := strconv.Atoi(m[1])
	if err != nil {
		return Notation{}, fmt.Errorf("%w: die count in %q", ErrInvalidNotation, notation)
	}
	sides, err := strconv.Atoi(m[2])
	if err != nil {
		return Notation{}, fmt.Errorf("%w: die sides in %q", ErrInvalidNotation, notation)
	}
	modifier := 0
	if m[3] != "" {
		modifier, err = strconv.Atoi(m[3])
		if err != nil {
			return Notation{}, fmt.Errorf("%w: modifier in %q", ErrInvalidNotation, notation)
		}
	}

	if count < MinCount || count > MaxCount {
		return Notation{}, fmt.Errorf("%w: die count %d must be in [%d,%d]", ErrOutOfRange, count, MinCount, MaxCount)
	}
	if sides < MinSides || sides > MaxSides {
		return Notation{}, fmt.Errorf("%w: die sides %d must be in [%d,%d]", ErrOutOfRange, sides, MinSides, MaxSides)
	}
	if modifier > MaxModifier || modifier < -MaxModifier {
		return Notation{}, fmt.Errorf("%w: modifier %d must be in [-%d,%d]", ErrOutOfRange, modifier, MaxModifier, MaxModifier)
	}

	return Notation{Raw: notation, Count: count, Sides: sides, Modifier: modifier}, nil
}

// MustParse parses notation and panics on error. Useful in tests and
// package-level constants.
func MustParse(notation string) Notation {
	n, err := Parse(notation)
	if err != nil {
		panic("dice: MustParse failed for " + notation + ": " + err.Error())
	}
	return n
}
