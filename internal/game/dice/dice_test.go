package dice_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/greyhelm/gamemaster/internal/game/dice"
)

// scriptedSource returns a fixed sequence of raw die values (1-based), then
// falls back to the minimum value.
type scriptedSource struct {
	values []int
	pos    int
}

func (s *scriptedSource) Intn(n int) int {
	if s.pos >= len(s.values) {
		return 0
	}
	v := s.values[s.pos]
	s.pos++
	return v - 1
}

func TestParse(t *testing.T) {
	tests := []struct {
		notation string
		count    int
		sides    int
		modifier int
	}{
		{"2d6+5", 2, 6, 5},
		{"1d20", 1, 20, 0},
		{"4d8-2", 4, 8, -2},
		{"100d100+100", 100, 100, 100},
		{"1d2-100", 1, 2, -100},
		{"3D6", 3, 6, 0},
	}
	for _, tc := range tests {
		t.Run(tc.notation, func(t *testing.T) {
			n, err := dice.Parse(tc.notation)
			require.NoError(t, err)
			assert.Equal(t, tc.count, n.Count)
			assert.Equal(t, tc.sides, n.Sides)
			assert.Equal(t, tc.modifier, n.Modifier)
		})
	}
}

func TestParse_InvalidNotation(t *testing.T) {
	for _, notation := range []string{"", "d20", "2d", "2x6", "2d6+", "2d6++3", "1d20 + 5", "-1d6", "two d6"} {
		t.Run(notation, func(t *testing.T) {
			_, err := dice.Parse(notation)
			assert.ErrorIs(t, err, dice.ErrInvalidNotation)
		})
	}
}

func TestParse_OutOfRange(t *testing.T) {
	for _, notation := range []string{"0d6", "101d6", "1d1", "1d101", "1d6+101", "1d6-101"} {
		t.Run(notation, func(t *testing.T) {
			_, err := dice.Parse(notation)
			assert.ErrorIs(t, err, dice.ErrOutOfRange)
		})
	}
}

// TestRoll_TotalBounds verifies that for all valid NdM+K, the total lands in
// [N+K, N*M+K].
func TestRoll_TotalBounds(t *testing.T) {
	src := dice.NewSeededSource(1)
	rapid.Check(t, func(rt *rapid.T) {
		count := rapid.IntRange(1, 100).Draw(rt, "count")
		sides := rapid.IntRange(2, 100).Draw(rt, "sides")
		modifier := rapid.IntRange(-100, 100).Draw(rt, "modifier")

		n := dice.Notation{Raw: "ndm", Count: count, Sides: sides, Modifier: modifier}
		r := dice.Roll(n, src)

		assert.GreaterOrEqual(rt, r.Total, count+modifier)
		assert.LessOrEqual(rt, r.Total, count*sides+modifier)
		assert.Len(rt, r.Dice, count)

		sum := modifier
		for _, d := range r.Dice {
			sum += d
		}
		assert.Equal(rt, sum, r.Total, "total must equal sum(dice)+modifier")
	})
}

func TestRoll_CriticalFlags(t *testing.T) {
	t.Run("single d20 natural 20", func(t *testing.T) {
		r := dice.Roll(dice.MustParse("1d20"), &scriptedSource{values: []int{20}})
		assert.True(t, r.CriticalHit)
		assert.False(t, r.CriticalFail)
	})
	t.Run("single d20 natural 1", func(t *testing.T) {
		r := dice.Roll(dice.MustParse("1d20"), &scriptedSource{values: []int{1}})
		assert.False(t, r.CriticalHit)
		assert.True(t, r.CriticalFail)
	})
	t.Run("2d20 never flags", func(t *testing.T) {
		r := dice.Roll(dice.MustParse("2d20"), &scriptedSource{values: []int{20, 20}})
		assert.False(t, r.CriticalHit)
		assert.False(t, r.CriticalFail)
	})
	t.Run("d12 never flags", func(t *testing.T) {
		r := dice.Roll(dice.MustParse("1d12"), &scriptedSource{values: []int{12}})
		assert.False(t, r.CriticalHit)
		assert.False(t, r.CriticalFail)
	})
}

func TestRollWithAdvantage(t *testing.T) {
	t.Run("advantage keeps the higher die", func(t *testing.T) {
		r, err := dice.RollWithAdvantage(3, dice.ModeAdvantage, &scriptedSource{values: []int{7, 15}})
		require.NoError(t, err)
		assert.Equal(t, []int{15}, r.Dice)
		assert.Equal(t, []int{7}, r.Dropped)
		assert.Equal(t, 18, r.Total)
	})
	t.Run("disadvantage keeps the lower die", func(t *testing.T) {
		r, err := dice.RollWithAdvantage(3, dice.ModeDisadvantage, &scriptedSource{values: []int{7, 15}})
		require.NoError(t, err)
		assert.Equal(t, []int{7}, r.Dice)
		assert.Equal(t, []int{15}, r.Dropped)
		assert.Equal(t, 10, r.Total)
	})
	t.Run("critical evaluated on the selected die", func(t *testing.T) {
		r, err := dice.RollWithAdvantage(0, dice.ModeAdvantage, &scriptedSource{values: []int{1, 20}})
		require.NoError(t, err)
		assert.True(t, r.CriticalHit)

		r, err = dice.RollWithAdvantage(0, dice.ModeDisadvantage, &scriptedSource{values: []int{1, 20}})
		require.NoError(t, err)
		assert.True(t, r.CriticalFail)
	})
	t.Run("normal mode draws one die", func(t *testing.T) {
		r, err := dice.RollWithAdvantage(5, dice.ModeNormal, &scriptedSource{values: []int{11}})
		require.NoError(t, err)
		assert.Equal(t, []int{11}, r.Dice)
		assert.Empty(t, r.Dropped)
		assert.Equal(t, 16, r.Total)
	})
	t.Run("unknown mode rejected", func(t *testing.T) {
		_, err := dice.RollWithAdvantage(0, dice.Mode("lucky"), &scriptedSource{})
		assert.Error(t, err)
	})
}

func TestReconcilePlayerEntered(t *testing.T) {
	t.Run("impossible value", func(t *testing.T) {
		_, err := dice.ReconcilePlayerEntered("1d20+5", 3)
		assert.ErrorIs(t, err, dice.ErrImpossibleValue)
	})
	t.Run("below minimum", func(t *testing.T) {
		_, err := dice.ReconcilePlayerEntered("2d6", 1)
		assert.ErrorIs(t, err, dice.ErrImpossibleValue)
	})
	t.Run("above maximum", func(t *testing.T) {
		_, err := dice.ReconcilePlayerEntered("2d6+1", 14)
		assert.ErrorIs(t, err, dice.ErrImpossibleValue)
	})
	t.Run("single die", func(t *testing.T) {
		r, err := dice.ReconcilePlayerEntered("1d20+5", 17)
		require.NoError(t, err)
		assert.Equal(t, []int{12}, r.Dice)
		assert.Equal(t, 17, r.Total)
		assert.True(t, r.PlayerEntered)
	})
	t.Run("critical on reconciled d20", func(t *testing.T) {
		r, err := dice.ReconcilePlayerEntered("1d20+5", 25)
		require.NoError(t, err)
		assert.True(t, r.CriticalHit)
	})
	t.Run("invalid notation propagates", func(t *testing.T) {
		_, err := dice.ReconcilePlayerEntered("d20", 10)
		assert.ErrorIs(t, err, dice.ErrInvalidNotation)
	})
}

// TestReconcile_DistributionProperty verifies the greedy distribution always
// yields legal dice summing to the implied base roll.
func TestReconcile_DistributionProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		count := rapid.IntRange(1, 100).Draw(rt, "count")
		sides := rapid.IntRange(2, 100).Draw(rt, "sides")
		modifier := rapid.IntRange(-100, 100).Draw(rt, "modifier")
		base := rapid.IntRange(count, count*sides).Draw(rt, "base")

		r, err := dice.ReconcilePlayerEntered(notationString(count, sides, modifier), base+modifier)
		require.NoError(rt, err)

		sum := 0
		for _, d := range r.Dice {
			require.GreaterOrEqual(rt, d, 1)
			require.LessOrEqual(rt, d, sides)
			sum += d
		}
		assert.Equal(rt, base, sum, "dice must sum to the implied base roll")
		assert.Equal(rt, base+modifier, r.Total)
	})
}

func notationString(count, sides, modifier int) string {
	if modifier == 0 {
		return fmt.Sprintf("%dd%d", count, sides)
	}
	return fmt.Sprintf("%dd%d%+d", count, sides, modifier)
}
