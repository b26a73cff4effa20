package game

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDecayScorePolicy(t *testing.T) {
	t.Parallel()

	policy := DefaultScorePolicy()

	tests := []struct {
		name          string
		priorGuessers int
		want          int
	}{
		{"first guesser gets the base", 0, 100},
		{"second guesser", 1, 90},
		{"fifth guesser", 4, 60},
		{"decay stops at the floor", 8, 20},
		{"far past the floor", 50, 20},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := policy.GuesserPoints(tt.priorGuessers, 10*time.Second, 120*time.Second)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, 10, policy.DrawerBonus())
}
