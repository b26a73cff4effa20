/*
Package game contains the core logic of the room session engine.

This file drives the round state machine: starting rounds, the once-per-second
countdown with progressive hints, ending rounds into the break phase, and the
transitions into pause and game over. All methods here run inside the owning
Room's Run loop.
*/
package game

import (
	"errors"
	"fmt"
	"slices"
	"time"

	ivtimer "github.com/ivahaev/timer"
)

const (
	// MinPlayersToStart is the minimum number of active members for a round.
	MinPlayersToStart = 2

	// MaxChatHistory and MaxDrawHistory bound the replayable history kept per
	// room; the oldest entries are trimmed first.
	MaxChatHistory = 500
	MaxDrawHistory = 2000

	// hintCount is the number of letters progressively revealed per round.
	hintCount = 3
)

// Round end reasons carried in the round_end event.
const (
	RoundEndTime       = "time"
	RoundEndAllGuessed = "all_guessed"
	RoundEndDrawerLeft = "drawer_left"
)

// Sentinels for state transitions that lost a race against another process.
// They abort the optimistic update without an error log.
var (
	errRoundInProgress = errors.New("round already in progress")
	errRoundNotRunning = errors.New("no round in progress")
	errRoundLimit      = errors.New("round limit reached")
	errStaleGuess      = errors.New("guess no longer applies")
)

// startRound advances the state machine into the next running round: it picks
// the drawer and the secret word, claims the countdown, and announces the
// round to everyone (the literal word only to the drawer).
func (r *Room) startRound() {
	if len(r.members) < MinPlayersToStart {
		return
	}

	var drawerID string

	newState, err := r.updateState(func(s *GameState) error {
		if s.Status == StatusRunning {
			return errRoundInProgress
		}
		if s.Status == StatusFinished {
			return errRoundLimit
		}
		if s.RoundIndex >= s.MaxRounds {
			return errRoundLimit
		}

		s.Status = StatusRunning
		s.RoundIndex++
		s.Guessed = nil
		s.Revealed = nil
		s.StartedAt = time.Now().Unix()
		s.Word = drawNextWord(s, r.words, r.rng)

		drawerID, s.Drawn = nextDrawer(r.order, s.Drawn)
		s.DrawerID = drawerID

		if _, ok := s.Scores[drawerID]; !ok {
			s.Scores[drawerID] = 0
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errRoundLimit) {
			r.finishGame()
		} else if !errors.Is(err, errRoundInProgress) {
			r.logger.Error().Err(err).Msg("Failed to start round.")
		}
		return
	}

	r.claimCountdown(newState)

	if r.meter != nil {
		r.meter.RoundsStarted.Inc()
	}

	r.logger.Info().
		Int("round", newState.RoundIndex).
		Str("drawer_id", drawerID).
		Msg("Round started.")

	// a fresh round always starts on a blank canvas.
	ctx, cancel := r.storeCtx()
	if err := r.store.ClearHistory(ctx, r.Code, HistoryDraw); err != nil {
		r.logger.Error().Err(err).Msg("Failed to clear draw history for new round.")
	}
	cancel()

	r.broadcast(RoundStartEvent{
		Type:       EvtRoundStart,
		Round:      newState.RoundIndex,
		MaxRounds:  newState.MaxRounds,
		DrawerID:   drawerID,
		MaskedWord: newState.MaskedWord(),
		Duration:   newState.RoundSeconds,
		Scores:     newState.Scores,
	}, true)

	r.sendToMember(drawerID, RoundSecretEvent{Type: EvtRoundSecret, Word: newState.Word}, 0)
}

// tickRound runs every second. Only the process holding the countdown claim
// broadcasts the timer, reveals hints, and ends the round on expiry; the
// others pick the claim up if it lapses.
func (r *Room) tickRound() {
	if r.state == nil || r.state.Status != StatusRunning {
		return
	}

	if !r.timerOwner {
		r.claimCountdown(r.state)
		if !r.timerOwner {
			return
		}
	}

	left := r.state.SecondsLeft(time.Now())

	r.broadcast(TimerEvent{Type: EvtTimer, SecondsLeft: left}, false)

	if r.hintDue(left) {
		r.revealHint()
	}

	if left <= 0 {
		r.endRound(RoundEndTime)
		return
	}

	// renew the claim so it outlives the remaining countdown.
	r.claimCountdown(r.state)
}

// hintDue reports whether a hint unlocks at this remaining-seconds mark.
// Hints unlock at the quarter points of the round: 1/4, 2/4, and 3/4 elapsed.
func (r *Room) hintDue(secondsLeft int) bool {
	total := r.state.RoundSeconds
	for i := 1; i <= hintCount; i++ {
		if secondsLeft == total-(total*i)/(hintCount+1) {
			return true
		}
	}
	return false
}

// revealHint uncovers one random hidden letter of the secret word.
func (r *Room) revealHint() {
	newState, err := r.updateState(func(s *GameState) error {
		if s.Status != StatusRunning || s.Word == "" {
			return errRoundNotRunning
		}

		hidden := make([]int, 0, len(s.Word))
		for idx, char := range s.Word {
			if char == ' ' || char == '-' || char == '\'' {
				continue
			}
			if !slices.Contains(s.Revealed, idx) {
				hidden = append(hidden, idx)
			}
		}

		// never reveal the whole word through hints.
		if len(hidden) <= 1 {
			return errRoundNotRunning
		}

		s.Revealed = append(s.Revealed, hidden[r.rng.Intn(len(hidden))])
		return nil
	})
	if err != nil {
		return
	}

	r.broadcast(HintEvent{Type: EvtHint, MaskedWord: newState.MaskedWord()}, true)
}

// endRound closes the running round for the given reason and schedules the
// next phase after the break. The word is revealed to everyone on close.
func (r *Room) endRound(reason string) {
	var word string

	newState, err := r.updateState(func(s *GameState) error {
		if s.Status != StatusRunning {
			return errRoundNotRunning
		}
		word = s.Word
		s.Status = StatusBreak
		s.resetRound()
		return nil
	})
	if err != nil {
		if !errors.Is(err, errRoundNotRunning) {
			r.logger.Error().Err(err).Str("reason", reason).Msg("Failed to end round.")
		}
		return
	}

	r.releaseCountdown()

	r.logger.Info().
		Int("round", newState.RoundIndex).
		Str("reason", reason).
		Msg("Round ended.")

	breakSeconds := int(r.cfg.BreakDuration / time.Second)

	r.broadcast(RoundEndEvent{
		Type:        EvtRoundEnd,
		Word:        word,
		Scores:      newState.Scores,
		NextRoundIn: breakSeconds,
		Reason:      reason,
	}, true)

	r.broadcastChat(NewSystemChat(fmt.Sprintf("The word was %q.", word)))

	if r.breakTimer != nil {
		r.breakTimer.Stop()
	}
	r.breakTimer = ivtimer.AfterFunc(r.cfg.BreakDuration, func() {
		r.Post(r.onBreakOver)
	})
	r.breakTimer.Start()
}

// onBreakOver sequences the phase after the between-round break: pause when
// the room thinned out, finish when the round limit is reached, otherwise the
// next round.
func (r *Room) onBreakOver() {
	if r.state == nil || r.state.Status != StatusBreak {
		return
	}

	if len(r.members) < MinPlayersToStart {
		r.pauseGame()
		return
	}

	if r.state.RoundIndex >= r.state.MaxRounds {
		r.finishGame()
		return
	}

	r.startRound()
}

// pauseIfUnderpopulated suspends play when active membership drops below the
// minimum. Scores and round progress survive the pause.
func (r *Room) pauseIfUnderpopulated() {
	if r.state == nil || len(r.members) >= MinPlayersToStart {
		return
	}

	switch r.state.Status {
	case StatusRunning:
		r.pauseGame()
	case StatusBreak:
		if r.breakTimer != nil {
			r.breakTimer.Stop()
			r.breakTimer = nil
		}
		r.pauseGame()
	}
}

// pauseGame returns the room to the waiting phase until enough members rejoin.
func (r *Room) pauseGame() {
	_, err := r.updateState(func(s *GameState) error {
		if s.Status != StatusRunning && s.Status != StatusBreak {
			return errRoundNotRunning
		}
		s.Status = StatusWaiting
		s.resetRound()
		return nil
	})
	if err != nil {
		if !errors.Is(err, errRoundNotRunning) {
			r.logger.Error().Err(err).Msg("Failed to pause game.")
		}
		return
	}

	r.releaseCountdown()

	r.logger.Info().Int("active_members", len(r.members)).Msg("Game paused, waiting for players.")

	r.broadcast(RoundPausedEvent{
		Type:    EvtRoundPaused,
		Message: "Waiting for more players to continue.",
	}, true)
}

// finishGame closes the session after the final round. The room stays open
// for chat; no further rounds are issued.
func (r *Room) finishGame() {
	newState, err := r.updateState(func(s *GameState) error {
		if s.Status == StatusFinished {
			return errRoundNotRunning
		}
		s.Status = StatusFinished
		s.resetRound()
		return nil
	})
	if err != nil {
		if !errors.Is(err, errRoundNotRunning) {
			r.logger.Error().Err(err).Msg("Failed to finish game.")
		}
		return
	}

	r.releaseCountdown()

	r.logger.Info().Int("rounds_played", newState.RoundIndex).Msg("Game finished.")

	r.broadcast(GameOverEvent{Type: EvtGameOver, Scores: newState.Scores}, true)
}

// claimCountdown acquires or renews the room's countdown ownership. The claim
// expires shortly after the round would, so a crashed owner is superseded.
func (r *Room) claimCountdown(state *GameState) {
	ttl := time.Duration(state.SecondsLeft(time.Now()))*time.Second + timerClaimGrace

	ctx, cancel := r.storeCtx()
	defer cancel()

	claimed, err := r.store.ClaimRoundTimer(ctx, r.Code, r.origin, ttl)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to claim round countdown.")
		r.timerOwner = false
		return
	}
	r.timerOwner = claimed
}

// releaseCountdown gives the countdown claim up when this process holds it.
func (r *Room) releaseCountdown() {
	if !r.timerOwner {
		return
	}
	r.timerOwner = false

	ctx, cancel := r.storeCtx()
	defer cancel()

	if err := r.store.ReleaseRoundTimer(ctx, r.Code, r.origin); err != nil {
		r.logger.Error().Err(err).Msg("Failed to release round countdown.")
	}
}
