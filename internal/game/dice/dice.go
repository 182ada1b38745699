// Package dice parses dice notation and produces verifiable rolls. It is
// the single path through which randomness enters the game: every roll is
// either drawn from a Source or reconciled from a player-entered total, and
// both produce the same auditable RollResult.
package dice

import (
	"errors"
	"fmt"
)

// Input errors. All are caller-fixable and surfaced verbatim.
var (
	// ErrInvalidNotation is returned when a string does not match the
	// NdM[+/-K] pattern.
	ErrInvalidNotation = errors.New("invalid dice notation")
	// ErrOutOfRange is returned when a parsed notation is syntactically
	// valid but outside the supported ranges.
	ErrOutOfRange = errors.New("dice notation out of range")
	// ErrImpossibleValue is returned when a player-entered total cannot be
	// produced by the declared notation.
	ErrImpossibleValue = errors.New("impossible roll value")
)

// Supported ranges for parsed notation.
const (
	MinCount    = 1
	MaxCount    = 100
	MinSides    = 2
	MaxSides    = 100
	MaxModifier = 100
)

// RollResult holds the full audit trail for one dice roll.
//
// Postcondition: Total == sum(Dice) + Modifier.
type RollResult struct {
	Notation string `json:"notation"`
	// Dice holds the individual die results that count toward the total.
	Dice     []int `json:"dice"`
	Modifier int   `json:"modifier"`
	Total    int   `json:"total"`
	// Dropped holds dice drawn but not kept (advantage/disadvantage).
	Dropped []int `json:"dropped,omitempty"`
	// CriticalHit and CriticalFail are only ever set for a single
	// twenty-sided die.
	CriticalHit  bool `json:"critical_hit,omitempty"`
	CriticalFail bool `json:"critical_fail,omitempty"`
	// PlayerEntered marks results reconciled from a manually rolled total
	// rather than drawn from the RNG.
	PlayerEntered bool `json:"player_entered,omitempty"`
}

// String returns a human-readable audit string, e.g. "2d6+3 → [4 5] +3 = 12".
func (r RollResult) String() string {
	return fmt.Sprintf("%s → %v %+d = %d", r.Notation, r.Dice, r.Modifier, r.Total)
}

// Source is the randomness provider for dice rolls. Production code uses
// the crypto-backed source; tests swap in a seeded one so roll sequences
// are reproducible.
//
// Implementations must be safe for concurrent use.
type Source interface {
	// Intn returns a non-negative random int in [0, n).
	//
	// Precondition: n > 0.
	Intn(n int) int
}
