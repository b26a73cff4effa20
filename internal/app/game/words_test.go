package game

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskWord(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "_ _ _ _ _", MaskWord("piano", nil))
	assert.Equal(t, "P _ _ _ _", MaskWord("piano", []int{0}))
	assert.Equal(t, "P _ _ N _", MaskWord("piano", []int{0, 3}))

	// separators are always visible.
	assert.Equal(t, "_ _ _   _ _ _ _ _", MaskWord("ice cream", nil))
	assert.Equal(t, "_ _ _ _ - _ _ _", MaskWord("tree-top", nil))
}

func TestDrawNextWordCyclesWithoutImmediateRepeat(t *testing.T) {
	t.Parallel()

	words := []string{"cat", "dog", "owl"}
	state := NewGameState(10, 120)
	rng := rand.New(rand.NewSource(7))

	seen := make(map[string]int)
	previous := ""
	for i := 0; i < len(words)*4; i++ {
		word := drawNextWord(state, words, rng)
		require.NotEmpty(t, word)
		assert.NotEqual(t, previous, word, "same word drawn twice in a row")
		seen[word]++
		previous = word
	}

	// every word appears once per cycle.
	for _, word := range words {
		assert.Equal(t, 4, seen[word])
	}
}

func TestDrawNextWordEmptyList(t *testing.T) {
	t.Parallel()

	state := NewGameState(10, 120)
	rng := rand.New(rand.NewSource(1))
	assert.Empty(t, drawNextWord(state, nil, rng))
}

func TestNextDrawerRotatesInJoinOrder(t *testing.T) {
	t.Parallel()

	order := []string{"a", "b", "c"}

	drawer, drawn := nextDrawer(order, nil)
	assert.Equal(t, "a", drawer)

	drawer, drawn = nextDrawer(order, drawn)
	assert.Equal(t, "b", drawer)

	drawer, drawn = nextDrawer(order, drawn)
	assert.Equal(t, "c", drawer)

	// everyone drew, the cycle restarts.
	drawer, drawn = nextDrawer(order, drawn)
	assert.Equal(t, "a", drawer)
	assert.Equal(t, []string{"a"}, drawn)
}

func TestNextDrawerSkipsDepartedMembers(t *testing.T) {
	t.Parallel()

	// "b" drew and left; remaining rotation continues from the join order.
	drawer, _ := nextDrawer([]string{"a", "c"}, []string{"a", "b"})
	assert.Equal(t, "c", drawer)
}
