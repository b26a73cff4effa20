package game

import (
	"strings"
	"time"

	"sketchroom/internal/configs"
)

// chatModerator enforces the per-member chat cooldown. Members who exceed the
// burst allowance inside the flood window earn an escalating penalty that
// decays again while they behave. It is owned by a single Room and only
// touched from the room's run loop, so it needs no locking.
type chatModerator struct {
	window     time.Duration
	burst      int
	maxPenalty time.Duration

	history       map[string][]time.Time
	penalties     map[string]time.Duration
	cooldownUntil map[string]time.Time

	// now is a clock hook for tests.
	now func() time.Time
}

func newChatModerator(cfg configs.GameConfig) *chatModerator {
	return &chatModerator{
		window:        cfg.ChatWindow,
		burst:         cfg.ChatBurst,
		maxPenalty:    cfg.ChatMaxCooldown,
		history:       make(map[string][]time.Time),
		penalties:     make(map[string]time.Duration),
		cooldownUntil: make(map[string]time.Time),
		now:           time.Now,
	}
}

const penaltyStep = 2 * time.Second

// allow decides whether the member may send a chat line right now. When the
// member is on cooldown, the returned duration is the remaining wait, rounded
// up to whole seconds for client display.
func (m *chatModerator) allow(playerID string) (bool, time.Duration) {
	now := m.now()

	if until, ok := m.cooldownUntil[playerID]; ok && now.Before(until) {
		return false, roundUpSeconds(until.Sub(now))
	}

	history := m.history[playerID]
	kept := history[:0]
	for _, t := range history {
		if now.Sub(t) <= m.window {
			kept = append(kept, t)
		}
	}

	if len(kept) >= m.burst {
		penalty := m.penalties[playerID] + penaltyStep
		if penalty > m.maxPenalty {
			penalty = m.maxPenalty
		}
		m.penalties[playerID] = penalty
		m.cooldownUntil[playerID] = now.Add(penalty)
		m.history[playerID] = kept
		return false, penalty
	}

	m.history[playerID] = append(kept, now)

	if current := m.penalties[playerID]; current > 0 {
		m.penalties[playerID] = current - time.Second
	}

	return true, 0
}

// forget drops all cooldown bookkeeping for a member who left the room.
func (m *chatModerator) forget(playerID string) {
	delete(m.history, playerID)
	delete(m.penalties, playerID)
	delete(m.cooldownUntil, playerID)
}

func roundUpSeconds(d time.Duration) time.Duration {
	secs := d / time.Second
	if d%time.Second > 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return secs * time.Second
}

// normalizeGuess folds a chat line for comparison against the secret word.
func normalizeGuess(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// isCorrectGuess reports whether the chat line exactly matches the secret word
// after normalization on both sides.
func isCorrectGuess(text, word string) bool {
	if word == "" {
		return false
	}
	return normalizeGuess(text) == normalizeGuess(word)
}
