package dice

import "go.uber.org/zap"

// Roller wraps a Source and logger so every roll leaves an audit line.
// All rolls are logged at debug level with notation, dice values, modifier,
// and total.
type Roller struct {
	src    Source
	logger *zap.Logger
}

// NewLoggedRoller creates a Roller that rolls with src and logs each roll.
//
// Precondition: src and logger must be non-nil.
func NewLoggedRoller(src Source, logger *zap.Logger) *Roller {
	return &Roller{src: src, logger: logger}
}

// Source returns the underlying randomness source.
func (r *Roller) Source() Source {
	return r.src
}

// Roll parses and rolls notation, logging the result.
func (r *Roller) Roll(notation string) (RollResult, error) {
	result, err := RollNotation(notation, r.src)
	if err != nil {
		return RollResult{}, err
	}
	r.log(result)
	return result, nil
}

// RollWithAdvantage rolls a d20 check in the given mode, logging the result.
func (r *Roller) RollWithAdvantage(bonus int, mode Mode) (RollResult, error) {
	result, err := RollWithAdvantage(bonus, mode, r.src)
	if err != nil {
		return RollResult{}, err
	}
	r.log(result)
	return result, nil
}

// Reconcile validates and records a player-entered total, logging the
// result.
func (r *Roller) Reconcile(notation string, declaredTotal int) (RollResult, error) {
	result, err := ReconcilePlayerEntered(notation, declaredTotal)
	if err != nil {
		return RollResult{}, err
	}
	r.log(result)
	return result, nil
}

func (r *Roller) log(result RollResult) {
	r.logger.Debug("dice roll",
		zap.String("notation", result.Notation),
		zap.Ints("dice", result.Dice),
		zap.Int("modifier", result.Modifier),
		zap.Int("total", result.Total),
		zap.Bool("player_entered", result.PlayerEntered),
	)
}
