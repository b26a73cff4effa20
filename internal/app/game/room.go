/*
Package game contains the core logic of the room session engine.

This file defines the Room struct, the central hub for a single game session.
It manages client lifecycles (register/unregister), event fan-out to local and
remote participants, chat moderation and guess detection, and automatic shutdown
based on inactivity. Every mutation of room state happens inside the Run loop;
timers and cross-process deliveries re-enter the loop through the tasks channel.
*/
package game

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	ivtimer "github.com/ivahaev/timer"
	"github.com/rs/zerolog"

	"sketchroom/internal/app/player"
	"sketchroom/internal/configs"
	"sketchroom/internal/pkg/errs"
	"sketchroom/internal/pkg/logx"
	"sketchroom/internal/pkg/metrics"
	"sketchroom/internal/pkg/randx"
)

const (
	inboundChannelBuffer = 1024
	tasksChannelBuffer   = 256

	// RoomInactivityTimeout is the duration after which a room loop with no
	// local connections shuts itself down. The room record and game state stay
	// in the shared store; the loop restarts on the next local connection.
	RoomInactivityTimeout = 5 * time.Minute

	// storeCallTimeout bounds every store round trip made from the Run loop.
	storeCallTimeout = 5 * time.Second

	// timerClaimGrace pads the countdown ownership claim past the round end so
	// a live owner is never superseded mid-round.
	timerClaimGrace = 15 * time.Second
)

// RoomCleanupMsg notifies the Manager that a Room's Run loop has terminated.
type RoomCleanupMsg struct {
	RoomCode string
}

// inboundFrame pairs a decoded client message with the connection it came from.
type inboundFrame struct {
	client *Client
	msg    InboundMessage
}

// Room struct represents a single, active game session on this process.
// The shared store holds the authoritative state; the Room caches it and
// serializes all access through its Run loop, so no field needs locking.
type Room struct {
	// unique identifier for the room.
	Code string

	cfg    configs.GameConfig
	store  Store
	policy ScorePolicy
	words  []string
	meter  *metrics.Metrics

	// origin identifies this process on the store's notification channel so
	// the Run loop can skip envelopes it published itself.
	origin string

	// currently connected local clients, keyed by player ID.
	clients map[string]*Client

	// active members across all processes, cached from the store.
	members map[string]player.Player

	// order holds active member IDs sorted by join time, driving drawer rotation.
	order []string

	// cached copy of the persisted game state.
	state *GameState

	mod *chatModerator

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundFrame

	// tasks carries closures that must run inside the loop: timer callbacks,
	// cross-process deliveries, and administrative commands.
	tasks chan func()

	// a write-only channel used to notify the Manager to clean up this room.
	cleanupChan chan<- RoomCleanupMsg

	// used to signal the Room to stop its Run loop immediately.
	stopChan chan struct{}

	// countdownTicker drives the once-per-second round timer broadcast.
	countdownTicker *time.Ticker

	// timerOwner is true while this process holds the room's countdown claim.
	timerOwner bool

	breakTimer  *ivtimer.Timer
	kickTimer   *ivtimer.Timer
	graceTimers map[string]*ivtimer.Timer

	// the timer used to track room inactivity.
	shutdownTimer *time.Timer

	rng *rand.Rand

	// structured logger with room context.
	logger zerolog.Logger
}

// NewRoom creates and initializes a new Room instance. The caller is expected
// to invoke Run in its own goroutine.
func NewRoom(roomCode string, cfg configs.GameConfig, store Store, meter *metrics.Metrics, origin string, cleanupChan chan<- RoomCleanupMsg) *Room {
	roomLogger := logx.Logger().With().
		Str("room_code", roomCode).
		Logger()

	return &Room{
		Code:          roomCode,
		cfg:           cfg,
		store:         store,
		policy:        DefaultScorePolicy(),
		words:         DefaultWords,
		meter:         meter,
		origin:        origin,
		clients:       make(map[string]*Client),
		members:       make(map[string]player.Player),
		mod:           newChatModerator(cfg),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		inbound:       make(chan inboundFrame, inboundChannelBuffer),
		tasks:         make(chan func(), tasksChannelBuffer),
		cleanupChan:   cleanupChan,
		stopChan:      make(chan struct{}),
		graceTimers:   make(map[string]*ivtimer.Timer),
		shutdownTimer: time.NewTimer(RoomInactivityTimeout),
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:        roomLogger,
	}
}

// Stop sends a signal to immediately terminate the Room's Run loop.
func (r *Room) Stop() {
	r.logger.Info().Msg("Received stop signal. Stopping room immediately.")

	select {
	case <-r.stopChan:
	default:
		close(r.stopChan)
	}
}

// Post schedules fn to run inside the room's Run loop. It is the only safe way
// for code outside the loop (Manager commands, store subscriptions) to touch
// room state.
func (r *Room) Post(fn func()) {
	select {
	case r.tasks <- fn:
	case <-r.stopChan:
	}
}

// RegisterClient hands a freshly upgraded connection to the Run loop.
func (r *Room) RegisterClient(client *Client) {
	select {
	case r.register <- client:
	case <-r.stopChan:
		client.closeWith(CloseRoomNotFound, "Room is shutting down.")
	}
}

// storeCtx returns the bounded context used for store calls from the Run loop.
func (r *Room) storeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), storeCallTimeout)
}

// Run starts the main event loop for the Room.
// It handles client registration, deregistration, inbound game messages,
// scheduled tasks, the round countdown, and room shutdown.
func (r *Room) Run() {
	r.countdownTicker = time.NewTicker(time.Second)

	defer func() {
		r.logger.Info().Msg("Room Run loop finished. Notifying Manager for cleanup.")

		r.countdownTicker.Stop()
		r.shutdownTimer.Stop()
		r.stopAllTimers()
		r.releaseCountdown()

		func() {
			defer func() {
				if rec := recover(); rec != nil {
					logx.Warn("Recovered from panic during Manager cleanup notification (channel likely closed).")
				}
			}()

			select {
			case r.cleanupChan <- RoomCleanupMsg{RoomCode: r.Code}:
				r.logger.Info().Msg("Sent cleanup notification to Manager.")
			default:
				r.logger.Warn().Msg("Manager cleanup channel blocked/full. Skipping cleanup notification.")
			}
		}()

		for _, client := range r.clients {
			client.closeSend()
		}
	}()

	if err := r.reloadState(); err != nil {
		r.logger.Error().Err(err).Msg("Failed to load initial game state. Stopping room.")
		return
	}
	r.refreshMembers()

	for {
		select {
		case client := <-r.register:
			r.handleRegister(client)

		case client := <-r.unregister:
			r.handleUnregister(client)

		case frame := <-r.inbound:
			r.handleInbound(frame)

		case task := <-r.tasks:
			task()

		case <-r.countdownTicker.C:
			r.tickRound()

		case <-r.shutdownTimer.C:
			if len(r.clients) == 0 {
				r.logger.Info().Msg("Room inactive with no local connections. Shutting down Run loop.")
				return
			}

		case <-r.stopChan:
			r.logger.Info().Msg("Room received stop signal in Run loop.")
			return
		}
	}
}

// handleRegister admits a new connection: replaces any previous session of the
// same player, refreshes membership, and sends the late-joiner snapshot.
func (r *Room) handleRegister(client *Client) {
	playerID := client.player.ID

	if existing, ok := r.clients[playerID]; ok {
		r.logger.Warn().
			Str("player_id", playerID).
			Msg("Player already connected. Closing old connection for replacement.")

		existing.SendError(errs.NewError(errs.ErrSessionReplaced))
		existing.closeWith(CloseSessionReplaced, "Session replaced by new connection. Check other tabs.")
		delete(r.clients, playerID)
	}

	if r.shutdownTimer.Stop() {
		select {
		case <-r.shutdownTimer.C:
		default:
		}
	}

	r.cancelGraceTimer(playerID)

	r.clients[playerID] = client
	if r.meter != nil {
		r.meter.ConnectedPlayers.Inc()
	}

	_, wasActive := r.members[playerID]

	ctx, cancel := r.storeCtx()
	defer cancel()

	if err := r.store.SetMemberActive(ctx, r.Code, playerID, true); err != nil {
		r.logger.Error().Err(err).Str("player_id", playerID).Msg("Failed to mark member active.")
	}
	r.refreshMembers()

	// capacity is enforced at join time; the socket guard only catches members
	// racing a full room across processes.
	if _, isMember := r.members[playerID]; !isMember {
		r.logger.Warn().
			Str("player_id", playerID).
			Msg("Connection without active membership. Rejecting.")

		client.SendError(errs.NewError(errs.ErrNotRoomMember))
		client.closeWith(CloseForbidden, "Not a member of this room.")
		delete(r.clients, playerID)
		if r.meter != nil {
			r.meter.ConnectedPlayers.Dec()
		}
		return
	}

	if _, err := r.updateState(func(s *GameState) error {
		if _, ok := s.Scores[playerID]; !ok {
			s.Scores[playerID] = 0
		}
		return nil
	}); err != nil {
		r.logger.Error().Err(err).Str("player_id", playerID).Msg("Failed to seed player score.")
	}

	r.logger.Info().
		Str("player_id", playerID).
		Int("local_clients", len(r.clients)).
		Int("active_members", len(r.members)).
		Msg("Client joined room.")

	// reconnects inside the grace window stay silent.
	if !wasActive {
		r.broadcastChat(NewSystemChat(fmt.Sprintf("%s joined the room.", client.player.Name)))
	}
	r.broadcastPresence()
	r.sendSnapshot(client)
	r.maybeAutoStart()
}

// handleUnregister begins the disconnect grace window for a dropped connection.
// The member keeps its seat until the window elapses without a reconnect.
func (r *Room) handleUnregister(client *Client) {
	playerID := client.player.ID

	current, ok := r.clients[playerID]
	if !ok {
		r.logger.Warn().
			Str("player_id", playerID).
			Msg("Unregister for unknown/already deleted client.")
		return
	}
	if current != client {
		r.logger.Info().
			Str("stale_player_id", playerID).
			Msg("Ignoring unregister for STALE connection.")
		return
	}

	delete(r.clients, playerID)
	client.closeSend()
	if r.meter != nil {
		r.meter.ConnectedPlayers.Dec()
	}

	r.logger.Info().
		Str("player_id", playerID).
		Int("local_clients", len(r.clients)).
		Msg("Client connection dropped. Starting disconnect grace window.")

	r.startGraceTimer(playerID)

	if len(r.clients) == 0 {
		if r.shutdownTimer.Stop() {
			select {
			case <-r.shutdownTimer.C:
			default:
			}
		}
		r.shutdownTimer.Reset(RoomInactivityTimeout)
	}
}

// startGraceTimer schedules the final detach of a silent member.
func (r *Room) startGraceTimer(playerID string) {
	r.cancelGraceTimer(playerID)

	t := ivtimer.AfterFunc(r.cfg.DisconnectGrace, func() {
		r.Post(func() {
			delete(r.graceTimers, playerID)
			r.finalizeDetach(playerID)
		})
	})
	t.Start()
	r.graceTimers[playerID] = t
}

func (r *Room) cancelGraceTimer(playerID string) {
	if t, ok := r.graceTimers[playerID]; ok {
		t.Stop()
		delete(r.graceTimers, playerID)
	}
}

// finalizeDetach removes a member who stayed silent through the grace window
// (or left explicitly). Scores survive in state for a potential rejoin.
func (r *Room) finalizeDetach(playerID string) {
	if _, reconnected := r.clients[playerID]; reconnected {
		return
	}

	ctx, cancel := r.storeCtx()
	defer cancel()

	if err := r.store.SetMemberActive(ctx, r.Code, playerID, false); err != nil {
		r.logger.Error().Err(err).Str("player_id", playerID).Msg("Failed to mark member inactive.")
	}

	departed, wasMember := r.members[playerID]
	r.refreshMembers()
	r.mod.forget(playerID)

	r.logger.Info().
		Str("player_id", playerID).
		Int("active_members", len(r.members)).
		Msg("Member detached from room.")

	if wasMember {
		r.broadcastChat(NewSystemChat(fmt.Sprintf("%s left the room.", departed.Name)))
	}
	r.broadcastPresence()

	r.onMembershipShrunk(playerID)
}

// onMembershipShrunk applies the game consequences of losing a member:
// kick votes are re-tallied, a drawerless round ends, and a lonely room pauses.
func (r *Room) onMembershipShrunk(playerID string) {
	if r.state == nil {
		return
	}

	if r.state.kickVoteActive() {
		r.retallyKickVote(playerID)
	}

	if r.state.Status == StatusRunning && r.state.DrawerID == playerID {
		r.endRound(RoundEndDrawerLeft)
		return
	}

	r.pauseIfUnderpopulated()
}

// handleInbound routes one decoded client frame. Connection-scoped types
// (ping) never reach here; they are answered in the read pump.
func (r *Room) handleInbound(frame inboundFrame) {
	client, msg := frame.client, frame.msg

	// frames from a replaced or already dropped connection are stale.
	if current, ok := r.clients[client.player.ID]; !ok || current != client {
		return
	}

	if r.meter != nil {
		r.meter.MessagesReceived.WithLabelValues(string(msg.Type)).Inc()
	}

	switch msg.Type {
	case InDraw:
		r.handleDraw(client, msg)
	case InChat:
		r.handleChat(client, msg)
	case InClear:
		r.handleClear(client)
	case InStartGame:
		r.handleStartGame(client)
	case InLeave:
		r.handleLeave(client)
	case InKickRequest:
		r.handleKickRequest(client, msg)
	case InKickVote:
		r.handleKickVote(client, msg)
	default:
		r.logger.Warn().
			Str("msg_type", string(msg.Type)).
			Str("player_id", client.player.ID).
			Msg("Unsupported message type reached room loop.")
	}
}

// handleDraw relays a stroke from the current drawer to every participant and
// records it for late-joiner replay. Strokes from anyone else are dropped.
func (r *Room) handleDraw(client *Client, msg InboundMessage) {
	if r.state == nil || r.state.Status != StatusRunning || r.state.DrawerID != client.player.ID {
		return
	}

	var stroke Stroke
	if err := json.Unmarshal(msg.Payload, &stroke); err != nil {
		r.logger.Warn().Err(err).
			Str("player_id", client.player.ID).
			Msg("Drawer sent malformed stroke payload.")
		return
	}

	event := DrawEvent{Type: EvtDraw, Stroke: stroke, Player: client.player}
	r.broadcast(event, false)
	r.appendHistory(HistoryDraw, event, MaxDrawHistory)
}

// handleClear lets the drawer wipe the canvas for everyone.
func (r *Room) handleClear(client *Client) {
	if r.state == nil || r.state.Status != StatusRunning || r.state.DrawerID != client.player.ID {
		return
	}

	r.broadcast(ClearEvent{Type: EvtClear, Player: client.player}, false)

	ctx, cancel := r.storeCtx()
	defer cancel()
	if err := r.store.ClearHistory(ctx, r.Code, HistoryDraw); err != nil {
		r.logger.Error().Err(err).Msg("Failed to clear draw history.")
	}
}

// handleChat moderates a chat line and routes it as either a guess or a
// regular message. The drawer never chats during their own round.
func (r *Room) handleChat(client *Client, msg InboundMessage) {
	playerID := client.player.ID
	text := msg.Message

	if len(text) > MaxChatBytes {
		client.SendError(errs.NewError(errs.ErrMessageContentTooLong))
		return
	}
	if normalizeGuess(text) == "" {
		return
	}

	if ok, wait := r.mod.allow(playerID); !ok {
		client.SendEvent(ChatCooldownEvent{
			Type:     EvtChatCooldown,
			Seconds:  int(wait / time.Second),
			ClientID: msg.ClientID,
		})
		return
	}

	if r.state != nil && r.state.Status == StatusRunning && r.state.DrawerID == playerID {
		client.SendEvent(ChatBlockedEvent{
			Type:     EvtChatBlocked,
			Reason:   "The drawer cannot chat during their own round.",
			ClientID: msg.ClientID,
		})
		return
	}

	event := ChatEvent{
		Type:     EvtChat,
		ID:       randx.EventID(),
		Message:  text,
		Player:   &client.player,
		ClientID: msg.ClientID,
	}

	if r.state != nil && r.state.Status == StatusRunning && isCorrectGuess(text, r.state.Word) {
		if !r.state.HasGuessed(playerID) {
			r.handleCorrectGuess(client)
			return
		}
		// the sender already guessed; echoing the word would hand it to
		// members still guessing, so the line stays among those who know it.
		r.sendToGuessedCircle(event)
		return
	}

	r.broadcastChat(event)
}

// sendToGuessedCircle delivers a chat line containing the secret word to the
// drawer and the members who have guessed, never to members still guessing.
// The line is kept out of the replay history for the same reason.
func (r *Room) sendToGuessedCircle(event ChatEvent) {
	recipients := make(map[string]struct{}, len(r.state.Guessed)+2)
	recipients[r.state.DrawerID] = struct{}{}
	for _, id := range r.state.Guessed {
		recipients[id] = struct{}{}
	}
	if event.Player != nil {
		recipients[event.Player.ID] = struct{}{}
	}

	for id := range recipients {
		if _, ok := r.members[id]; !ok {
			continue
		}
		r.sendToMember(id, event, 0)
	}
}

// handleCorrectGuess credits a correct guess. The literal word is withheld
// from the broadcast; points depend on how many members guessed earlier.
func (r *Room) handleCorrectGuess(client *Client) {
	playerID := client.player.ID

	var points int
	var allGuessed bool

	newState, err := r.updateState(func(s *GameState) error {
		// revalidate against the authoritative state: another process may have
		// ended the round or credited this guess already.
		if s.Status != StatusRunning || s.HasGuessed(playerID) || s.DrawerID == playerID {
			return errStaleGuess
		}

		elapsed := time.Duration(time.Now().Unix()-s.StartedAt) * time.Second
		points = r.policy.GuesserPoints(len(s.Guessed), elapsed, time.Duration(s.RoundSeconds)*time.Second)

		s.Guessed = append(s.Guessed, playerID)
		s.Scores[playerID] += points
		s.Scores[s.DrawerID] += r.policy.DrawerBonus()

		allGuessed = len(s.Guessed) >= r.activeGuesserCount(s.DrawerID)
		return nil
	})
	if err != nil {
		if err != errStaleGuess {
			r.logger.Error().Err(err).Str("player_id", playerID).Msg("Failed to credit correct guess.")
		}
		return
	}

	if r.meter != nil {
		r.meter.CorrectGuesses.Inc()
	}

	r.broadcast(GuessCorrectEvent{
		Type:   EvtGuessCorrect,
		Player: client.player,
		Points: points,
		Scores: newState.Scores,
	}, true)

	r.broadcastChat(NewSystemChat(fmt.Sprintf("%s guessed the word! (+%d)", client.player.Name, points)))

	if allGuessed {
		r.endRound(RoundEndAllGuessed)
	}
}

// activeGuesserCount returns how many active members must guess for the round
// to finish early (everyone except the drawer).
func (r *Room) activeGuesserCount(drawerID string) int {
	count := 0
	for id := range r.members {
		if id != drawerID {
			count++
		}
	}
	return count
}

// handleStartGame starts the first round on explicit request from any member.
func (r *Room) handleStartGame(client *Client) {
	if r.state == nil || r.state.Status != StatusWaiting {
		return
	}
	if len(r.members) < MinPlayersToStart {
		client.SendError(errs.NewError(errs.ErrNotEnoughPlayers))
		return
	}
	r.startRound()
}

// handleLeave removes the member immediately, skipping the grace window.
func (r *Room) handleLeave(client *Client) {
	playerID := client.player.ID

	r.logger.Info().Str("player_id", playerID).Msg("Member leaving room explicitly.")

	delete(r.clients, playerID)
	client.closeWith(CloseRemoved, "Left the room.")
	if r.meter != nil {
		r.meter.ConnectedPlayers.Dec()
	}

	r.cancelGraceTimer(playerID)
	r.finalizeDetach(playerID)

	if len(r.clients) == 0 {
		r.shutdownTimer.Reset(RoomInactivityTimeout)
	}
}

// Detach runs the immediate removal path for a member who left through the
// REST API rather than the socket. Safe to call from outside the loop.
func (r *Room) Detach(playerID string) {
	r.Post(func() {
		if client, ok := r.clients[playerID]; ok {
			r.handleLeave(client)
			return
		}
		r.cancelGraceTimer(playerID)
		r.finalizeDetach(playerID)
	})
}

// maybeAutoStart kicks off the first round once a second member arrives.
// Later rounds are sequenced by the break timer, not by joins.
func (r *Room) maybeAutoStart() {
	if r.state == nil || r.state.Status != StatusWaiting {
		return
	}
	if len(r.members) < MinPlayersToStart {
		return
	}
	r.startRound()
}

// sendSnapshot brings a (re)connecting client up to date: current game state,
// the secret when they are the drawer, and the replayable history.
func (r *Room) sendSnapshot(client *Client) {
	if r.state != nil {
		snapshot := GameStateEvent{
			Type:      EvtGameState,
			Status:    r.state.Status,
			Round:     r.state.RoundIndex,
			MaxRounds: r.state.MaxRounds,
			Scores:    r.state.Scores,
		}

		if r.state.Status == StatusRunning {
			snapshot.DrawerID = r.state.DrawerID
			snapshot.MaskedWord = r.state.MaskedWord()
			snapshot.SecondsLeft = r.state.SecondsLeft(time.Now())
		}

		client.SendEvent(snapshot)

		if r.state.Status == StatusRunning && r.state.DrawerID == client.player.ID {
			client.SendEvent(RoundSecretEvent{Type: EvtRoundSecret, Word: r.state.Word})
		}
	}

	ctx, cancel := r.storeCtx()
	defer cancel()

	chatHistory, err := r.store.History(ctx, r.Code, HistoryChat)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to load chat history for snapshot.")
	}
	drawHistory, err := r.store.History(ctx, r.Code, HistoryDraw)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to load draw history for snapshot.")
	}

	client.SendEvent(HistoryEvent{Type: EvtHistory, Chat: chatHistory, Draw: drawHistory})
}

// refreshMembers reloads the active membership cache from the store and keeps
// the empty-room bookkeeping current.
func (r *Room) refreshMembers() {
	ctx, cancel := r.storeCtx()
	defer cancel()

	rows, err := r.store.ActiveMembers(ctx, r.Code)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to load active members.")
		return
	}

	r.members = make(map[string]player.Player, len(rows))
	r.order = r.order[:0]
	for _, m := range rows {
		r.members[m.Player.ID] = m.Player
		r.order = append(r.order, m.Player.ID)
	}

	if len(r.members) == 0 {
		now := time.Now()
		if err := r.store.MarkEmptySince(ctx, r.Code, &now); err != nil {
			r.logger.Error().Err(err).Msg("Failed to mark room empty.")
		}
	} else {
		if err := r.store.MarkEmptySince(ctx, r.Code, nil); err != nil {
			r.logger.Error().Err(err).Msg("Failed to clear room empty mark.")
		}
	}
}

// reloadState refreshes the cached game state from the store.
func (r *Room) reloadState() error {
	ctx, cancel := r.storeCtx()
	defer cancel()

	state, err := r.store.LoadState(ctx, r.Code)
	if err != nil {
		return err
	}
	r.state = state
	return nil
}

// updateState applies fn through the store's optimistic read-modify-write and
// refreshes the local cache with the committed result.
func (r *Room) updateState(fn func(*GameState) error) (*GameState, error) {
	ctx, cancel := r.storeCtx()
	defer cancel()

	state, err := r.store.UpdateState(ctx, r.Code, fn)
	if err != nil {
		return nil, err
	}
	r.state = state
	return state, nil
}

// broadcastPresence fans the active member list out to everyone.
func (r *Room) broadcastPresence() {
	members := make([]player.Player, 0, len(r.order))
	for _, id := range r.order {
		members = append(members, r.members[id])
	}

	r.broadcast(PresenceEvent{Type: EvtPresence, Members: members}, false)
}

// broadcastChat fans a chat line out and records it for replay.
func (r *Room) broadcastChat(event ChatEvent) {
	r.broadcast(event, false)
	r.appendHistory(HistoryChat, event, MaxChatHistory)
}

// appendHistory persists one replayable event, trimming past the given limit.
func (r *Room) appendHistory(kind string, event any, limit int) {
	payload, err := json.Marshal(event)
	if err != nil {
		r.logger.Error().Err(err).Str("kind", kind).Msg("Error marshaling history payload.")
		return
	}

	ctx, cancel := r.storeCtx()
	defer cancel()

	if err := r.store.AppendHistory(ctx, r.Code, kind, payload, limit); err != nil {
		r.logger.Error().Err(err).Str("kind", kind).Msg("Failed to append history.")
	}
}

// broadcast delivers an event to every local client and publishes it for the
// other processes hosting this room. stateChanged tells remote processes to
// refresh their cached GameState before delivering.
func (r *Room) broadcast(event any, stateChanged bool) {
	r.fanOut(event, "", "", stateChanged)
}

// sendToMember addresses a single member, local or remote. closeCode, when
// non-zero, closes the target's connection after delivery.
func (r *Room) sendToMember(playerID string, event any, closeCode int) {
	messageBytes, err := json.Marshal(event)
	if err != nil {
		r.logger.Error().Err(err).Msg("Error marshaling event for member.")
		return
	}

	if client, ok := r.clients[playerID]; ok {
		client.enqueue(messageBytes)
		if closeCode != 0 {
			client.closeWith(closeCode, "")
			delete(r.clients, playerID)
			if r.meter != nil {
				r.meter.ConnectedPlayers.Dec()
			}
		}
		return
	}

	r.publish(&Envelope{
		Origin: r.origin,
		Code:   r.Code,
		To:     playerID,
		Event:  messageBytes,
		Close:  closeCode,
	})
}

// fanOut is the shared delivery path for broadcasts: local enqueue plus one
// published envelope for other processes.
func (r *Room) fanOut(event any, to, exclude string, stateChanged bool) {
	messageBytes, err := json.Marshal(event)
	if err != nil {
		r.logger.Error().Err(err).Msg("Error marshaling event for broadcast.")
		return
	}

	r.deliverLocal(messageBytes, to, exclude)

	r.publish(&Envelope{
		Origin:       r.origin,
		Code:         r.Code,
		To:           to,
		Exclude:      exclude,
		Event:        messageBytes,
		StateChanged: stateChanged,
	})

	if r.meter != nil {
		r.meter.EventsBroadcast.Inc()
	}
}

// deliverLocal enqueues pre-marshaled bytes onto matching local clients.
// Close-only envelopes carry no payload.
func (r *Room) deliverLocal(messageBytes []byte, to, exclude string) {
	if len(messageBytes) == 0 {
		return
	}

	for playerID, client := range r.clients {
		if to != "" && playerID != to {
			continue
		}
		if exclude != "" && playerID == exclude {
			continue
		}

		if err := client.enqueue(messageBytes); err != nil {
			r.logger.Warn().
				Str("player_id", playerID).
				Msg("Client send channel full, unregistering.")

			select {
			case r.unregister <- client:
			default:
				r.logger.Warn().Msg("Unregister channel full, skipping client cleanup.")
			}
		}
	}
}

func (r *Room) publish(env *Envelope) {
	ctx, cancel := r.storeCtx()
	defer cancel()

	if err := r.store.Publish(ctx, env); err != nil {
		r.logger.Error().Err(err).Msg("Failed to publish envelope.")
	}
}

// DeliverRemote runs inside the loop for every envelope another process
// published for this room. Own envelopes are filtered by the Manager.
func (r *Room) DeliverRemote(env *Envelope) {
	r.Post(func() {
		if env.StateChanged {
			if err := r.reloadState(); err != nil {
				r.logger.Error().Err(err).Msg("Failed to refresh state after remote event.")
			}
		}

		r.deliverLocal(env.Event, env.To, env.Exclude)

		if env.Close != 0 {
			targets := []string{env.To}
			if env.To == "" {
				targets = targets[:0]
				for id := range r.clients {
					targets = append(targets, id)
				}
			}
			for _, id := range targets {
				if client, ok := r.clients[id]; ok {
					client.closeWith(env.Close, "")
					delete(r.clients, id)
					if r.meter != nil {
						r.meter.ConnectedPlayers.Dec()
					}
				}
			}
		}
	})
}

// AdminClose ends the session on administrative request: every connection
// (on every process) receives the event and a 4500 close.
func (r *Room) AdminClose(reason string) {
	r.Post(func() {
		r.logger.Info().Str("reason", reason).Msg("Room closed by administrative action.")

		event := AdminCloseEvent{Type: EvtAdminClose, Reason: reason}
		messageBytes, err := json.Marshal(event)
		if err != nil {
			r.logger.Error().Err(err).Msg("Error marshaling admin close event.")
			return
		}

		r.deliverLocal(messageBytes, "", "")

		r.publish(&Envelope{
			Origin: r.origin,
			Code:   r.Code,
			Event:  messageBytes,
			Close:  CloseAdminShutdown,
		})

		for id, client := range r.clients {
			client.closeWith(CloseAdminShutdown, reason)
			delete(r.clients, id)
			if r.meter != nil {
				r.meter.ConnectedPlayers.Dec()
			}
		}

		r.Stop()
	})
}

// stopAllTimers halts every scheduled callback owned by this room.
func (r *Room) stopAllTimers() {
	if r.breakTimer != nil {
		r.breakTimer.Stop()
		r.breakTimer = nil
	}
	if r.kickTimer != nil {
		r.kickTimer.Stop()
		r.kickTimer = nil
	}
	for id, t := range r.graceTimers {
		t.Stop()
		delete(r.graceTimers, id)
	}
}
