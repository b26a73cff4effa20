package game

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sketchroom/internal/configs"
)

func newTestModerator() (*chatModerator, *time.Time) {
	cfg := configs.GameConfig{
		ChatWindow:      4 * time.Second,
		ChatBurst:       3,
		ChatMaxCooldown: 12 * time.Second,
	}

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mod := newChatModerator(cfg)
	mod.now = func() time.Time { return now }
	return mod, &now
}

func TestModeratorAllowsWithinBurst(t *testing.T) {
	t.Parallel()

	mod, now := newTestModerator()

	for i := 0; i < 3; i++ {
		ok, _ := mod.allow("p1")
		require.True(t, ok, "message %d inside the burst should pass", i+1)
		*now = now.Add(time.Second)
	}
}

func TestModeratorFloodTriggersEscalatingCooldown(t *testing.T) {
	t.Parallel()

	mod, now := newTestModerator()

	for i := 0; i < 3; i++ {
		ok, _ := mod.allow("p1")
		require.True(t, ok)
	}

	// fourth message inside the window earns the first penalty.
	ok, wait := mod.allow("p1")
	require.False(t, ok)
	assert.Equal(t, 2*time.Second, wait)

	// still on cooldown one second later.
	*now = now.Add(time.Second)
	ok, wait = mod.allow("p1")
	require.False(t, ok)
	assert.Equal(t, time.Second, wait)

	// cooldown over, but the window still holds three sends; the penalty grows.
	*now = now.Add(time.Second)
	ok, wait = mod.allow("p1")
	require.False(t, ok)
	assert.Equal(t, 4*time.Second, wait)
}

func TestModeratorPenaltyIsCapped(t *testing.T) {
	t.Parallel()

	mod, _ := newTestModerator()

	for i := 0; i < 3; i++ {
		ok, _ := mod.allow("p1")
		require.True(t, ok)
	}

	// a long-running offender sits just under the cap; the next escalation
	// must not push past it.
	mod.penalties["p1"] = 11 * time.Second

	ok, wait := mod.allow("p1")
	require.False(t, ok)
	assert.Equal(t, 12*time.Second, wait)
}

func TestModeratorPenaltyDecaysWithGoodBehavior(t *testing.T) {
	t.Parallel()

	mod, now := newTestModerator()

	for i := 0; i < 3; i++ {
		mod.allow("p1")
	}
	ok, _ := mod.allow("p1")
	require.False(t, ok)
	assert.Equal(t, 2*time.Second, mod.penalties["p1"])

	// wait out both the cooldown and the flood window, then behave.
	*now = now.Add(10 * time.Second)
	ok, _ = mod.allow("p1")
	require.True(t, ok)
	assert.Equal(t, time.Second, mod.penalties["p1"])

	*now = now.Add(5 * time.Second)
	ok, _ = mod.allow("p1")
	require.True(t, ok)
	assert.Equal(t, time.Duration(0), mod.penalties["p1"])
}

func TestModeratorTracksMembersIndependently(t *testing.T) {
	t.Parallel()

	mod, _ := newTestModerator()

	for i := 0; i < 4; i++ {
		mod.allow("spammer")
	}

	ok, _ := mod.allow("quiet")
	assert.True(t, ok, "one member's cooldown must not affect another")
}

func TestModeratorForget(t *testing.T) {
	t.Parallel()

	mod, _ := newTestModerator()

	for i := 0; i < 4; i++ {
		mod.allow("p1")
	}
	mod.forget("p1")

	ok, _ := mod.allow("p1")
	assert.True(t, ok, "a member who rejoined starts with a clean slate")
}

func TestIsCorrectGuess(t *testing.T) {
	t.Parallel()

	assert.True(t, isCorrectGuess("piano", "piano"))
	assert.True(t, isCorrectGuess("  PIANO  ", "piano"))
	assert.True(t, isCorrectGuess("Ice Cream", "ice cream"))
	assert.False(t, isCorrectGuess("pianos", "piano"))
	assert.False(t, isCorrectGuess("", "piano"))
	assert.False(t, isCorrectGuess("anything", ""))
}
