package game

import "time"

// ScorePolicy computes point awards for a round. It is pluggable because the
// exact decay curve is a product decision, not an engine invariant.
type ScorePolicy interface {
	// GuesserPoints returns the award for a correct guesser given how many
	// members guessed before them and how far into the round the guess landed.
	GuesserPoints(priorGuessers int, elapsed, total time.Duration) int

	// DrawerBonus returns the increment the drawer earns per correct guesser.
	DrawerBonus() int
}

// DecayScorePolicy awards a base score to the first correct guesser and
// progressively less to later ones, with a floor. The drawer earns a fixed
// bonus per correct guesser, so the total drawer award is proportional to how
// many members guessed the word.
type DecayScorePolicy struct {
	Base         int
	StepPerPrior int
	Floor        int
	DrawerPer    int
}

// DefaultScorePolicy mirrors the tuning the game shipped with.
func DefaultScorePolicy() DecayScorePolicy {
	return DecayScorePolicy{
		Base:         100,
		StepPerPrior: 10,
		Floor:        20,
		DrawerPer:    10,
	}
}

func (p DecayScorePolicy) GuesserPoints(priorGuessers int, elapsed, total time.Duration) int {
	points := p.Base - p.StepPerPrior*priorGuessers
	if points < p.Floor {
		return p.Floor
	}
	return points
}

func (p DecayScorePolicy) DrawerBonus() int {
	return p.DrawerPer
}
