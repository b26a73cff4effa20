package game

import (
	"errors"
	"fmt"
	"slices"

	ivtimer "github.com/ivahaev/timer"

	"sketchroom/internal/pkg/errs"
)

// Kick votes are quorum-based: a majority of the non-target members must
// approve before the target is removed. The vote bookkeeping lives in
// GameState so it survives process handoff; these helpers keep the tally
// rules in one place.

// requiredKickVotes returns the quorum for the given number of eligible
// (non-target, active) members: a majority, never less than one.
func requiredKickVotes(eligible int) int {
	required := (eligible + 1) / 2
	if required < 1 {
		required = 1
	}
	return required
}

// kickVoteActive reports whether a vote is currently running in the room.
func (s *GameState) kickVoteActive() bool {
	return s.KickTarget != ""
}

// recordKickResponse registers one member's answer. Each member responds at
// most once; repeats are ignored, which makes duplicate kick_request and
// kick_vote frames idempotent per voter.
func (s *GameState) recordKickResponse(voterID string, approve bool) bool {
	if slices.Contains(s.KickResponses, voterID) {
		return false
	}

	s.KickResponses = append(s.KickResponses, voterID)
	if approve {
		s.KickVotes = append(s.KickVotes, voterID)
	}
	return true
}

// pruneKickVote drops a departed member from the tally and constrains both
// lists to the eligible set (active members excluding the target).
func (s *GameState) pruneKickVote(eligible []string) {
	keep := func(ids []string) []string {
		kept := ids[:0]
		for _, id := range ids {
			if slices.Contains(eligible, id) {
				kept = append(kept, id)
			}
		}
		return kept
	}

	s.KickVotes = keep(s.KickVotes)
	s.KickResponses = keep(s.KickResponses)
}

// kickQuorumUnreachable reports whether the vote can no longer pass even if
// every member who has not answered yet approves.
func kickQuorumUnreachable(approvals, responded, eligible, required int) bool {
	outstanding := eligible - responded
	if outstanding < 0 {
		outstanding = 0
	}
	return approvals+outstanding < required
}

// Kick vote cancel reasons carried in the kick_cancel event.
const (
	KickCancelTimeout    = "timeout"
	KickCancelRejected   = "rejected"
	KickCancelTargetLeft = "target_left"
)

var errKickVoteStale = errors.New("kick vote state changed")

// eligibleVoterIDs returns the active members allowed to vote on removing
// target, in join order.
func (r *Room) eligibleVoterIDs(targetID string) []string {
	eligible := make([]string, 0, len(r.order))
	for _, id := range r.order {
		if id != targetID {
			eligible = append(eligible, id)
		}
	}
	return eligible
}

// handleKickRequest opens a removal vote against the named member. The
// requester counts as the first approval; only one vote runs at a time. A
// repeat request naming the running vote's target is an approval from that
// member, not an error.
func (r *Room) handleKickRequest(client *Client, msg InboundMessage) {
	requesterID := client.player.ID
	targetID := msg.TargetID

	target, isMember := r.members[targetID]
	if !isMember || targetID == requesterID {
		client.SendError(errs.NewError(errs.ErrKickTargetInvalid))
		return
	}

	var joinedRunning bool
	newState, err := r.updateState(func(s *GameState) error {
		// the closure can rerun on a version conflict.
		joinedRunning = false
		if s.kickVoteActive() {
			if s.KickTarget != targetID {
				return errs.NewError(errs.ErrKickVoteInProgress)
			}
			if !s.recordKickResponse(requesterID, true) {
				return errKickVoteStale
			}
			joinedRunning = true
			return nil
		}
		s.KickTarget = targetID
		s.KickRequester = requesterID
		s.KickVotes = nil
		s.KickResponses = nil
		s.recordKickResponse(requesterID, true)
		return nil
	})
	if err != nil {
		// a repeat answer from the same member is idempotent.
		if !errors.Is(err, errKickVoteStale) {
			client.SendError(err)
		}
		return
	}

	if joinedRunning {
		r.resolveKickVote(newState)
		return
	}

	eligible := r.eligibleVoterIDs(targetID)
	required := requiredKickVotes(len(eligible))

	r.logger.Info().
		Str("target_id", targetID).
		Str("requester_id", requesterID).
		Int("required", required).
		Msg("Kick vote opened.")

	r.broadcast(KickRequestEvent{
		Type:        EvtKickRequest,
		TargetID:    targetID,
		RequesterID: requesterID,
		Votes:       len(newState.KickVotes),
		Required:    required,
	}, true)

	r.broadcastChat(NewSystemChat(fmt.Sprintf("%s started a vote to remove %s.", client.player.Name, target.Name)))

	// single-member edge: the requester alone already carries the quorum.
	if len(newState.KickVotes) >= required {
		r.executeKick(targetID)
		return
	}

	if r.kickTimer != nil {
		r.kickTimer.Stop()
	}
	r.kickTimer = ivtimer.AfterFunc(r.cfg.KickVoteDuration, func() {
		r.Post(func() { r.cancelKickVote(KickCancelTimeout) })
	})
	r.kickTimer.Start()
}

// handleKickVote records one member's answer on the running vote. Repeat
// answers from the same member are ignored.
func (r *Room) handleKickVote(client *Client, msg InboundMessage) {
	voterID := client.player.ID

	if r.state == nil || !r.state.kickVoteActive() {
		return
	}
	targetID := r.state.KickTarget

	if msg.TargetID != "" && msg.TargetID != targetID {
		return
	}
	if voterID == targetID || msg.Approve == nil {
		return
	}

	newState, err := r.updateState(func(s *GameState) error {
		if s.KickTarget != targetID {
			return errKickVoteStale
		}
		if !s.recordKickResponse(voterID, *msg.Approve) {
			return errKickVoteStale
		}
		return nil
	})
	if err != nil {
		return
	}

	r.resolveKickVote(newState)
}

// retallyKickVote re-evaluates the running vote after the named member left.
// The vote dies with its target; other departures shrink the electorate.
func (r *Room) retallyKickVote(departedID string) {
	if r.state == nil || !r.state.kickVoteActive() {
		return
	}

	if r.state.KickTarget == departedID {
		r.cancelKickVote(KickCancelTargetLeft)
		return
	}

	targetID := r.state.KickTarget
	eligible := r.eligibleVoterIDs(targetID)

	newState, err := r.updateState(func(s *GameState) error {
		if s.KickTarget != targetID {
			return errKickVoteStale
		}
		s.pruneKickVote(eligible)
		return nil
	})
	if err != nil {
		return
	}

	r.resolveKickVote(newState)
}

// resolveKickVote inspects the current tally and either executes the kick,
// cancels an unwinnable vote, or publishes the updated count.
func (r *Room) resolveKickVote(state *GameState) {
	targetID := state.KickTarget
	eligible := len(r.eligibleVoterIDs(targetID))
	required := requiredKickVotes(eligible)
	approvals := len(state.KickVotes)
	responded := len(state.KickResponses)

	if approvals >= required {
		r.executeKick(targetID)
		return
	}

	if kickQuorumUnreachable(approvals, responded, eligible, required) {
		r.cancelKickVote(KickCancelRejected)
		return
	}

	r.broadcast(KickUpdateEvent{
		Type:      EvtKickUpdate,
		TargetID:  targetID,
		Votes:     approvals,
		Required:  required,
		Responded: responded,
		Eligible:  eligible,
	}, true)
}

// executeKick removes the target after a passed vote: they get a kicked event
// and a terminal close on whichever process hosts their connection.
func (r *Room) executeKick(targetID string) {
	if r.kickTimer != nil {
		r.kickTimer.Stop()
		r.kickTimer = nil
	}

	target := r.members[targetID]

	if _, err := r.updateState(func(s *GameState) error {
		s.resetKickVote()
		return nil
	}); err != nil {
		r.logger.Error().Err(err).Str("target_id", targetID).Msg("Failed to clear kick vote state.")
	}

	r.logger.Info().Str("target_id", targetID).Msg("Kick vote passed. Removing member.")
	if r.meter != nil {
		r.meter.KicksExecuted.Inc()
	}

	r.sendToMember(targetID, KickedEvent{
		Type:   EvtKicked,
		Reason: "Removed from the room by vote.",
	}, CloseRemoved)

	r.cancelGraceTimer(targetID)

	ctx, cancel := r.storeCtx()
	if err := r.store.SetMemberActive(ctx, r.Code, targetID, false); err != nil {
		r.logger.Error().Err(err).Str("target_id", targetID).Msg("Failed to deactivate kicked member.")
	}
	cancel()

	r.refreshMembers()
	r.mod.forget(targetID)

	r.broadcastChat(NewSystemChat(fmt.Sprintf("%s was removed from the room.", target.Name)))
	r.broadcastPresence()

	if r.state != nil && r.state.Status == StatusRunning && r.state.DrawerID == targetID {
		r.endRound(RoundEndDrawerLeft)
		return
	}

	r.pauseIfUnderpopulated()
}

// cancelKickVote closes the running vote without a removal.
func (r *Room) cancelKickVote(reason string) {
	if r.state == nil || !r.state.kickVoteActive() {
		return
	}
	targetID := r.state.KickTarget

	if r.kickTimer != nil {
		r.kickTimer.Stop()
		r.kickTimer = nil
	}

	if _, err := r.updateState(func(s *GameState) error {
		if s.KickTarget != targetID {
			return errKickVoteStale
		}
		s.resetKickVote()
		return nil
	}); err != nil {
		return
	}

	r.logger.Info().
		Str("target_id", targetID).
		Str("reason", reason).
		Msg("Kick vote cancelled.")

	r.broadcast(KickCancelEvent{
		Type:     EvtKickCancel,
		TargetID: targetID,
		Reason:   reason,
	}, true)
}
