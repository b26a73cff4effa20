package game

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sketchroom/internal/app/player"
	"sketchroom/internal/configs"
	"sketchroom/internal/pkg/errs"
)

const testRoomCode = "ABC123"

func testGameConfig() configs.GameConfig {
	return configs.GameConfig{
		MaxPlayers:       8,
		MaxRounds:        3,
		RoundDuration:    120 * time.Second,
		BreakDuration:    50 * time.Millisecond,
		KickVoteDuration: time.Second,
		DisconnectGrace:  time.Minute,
		EmptyRoomGrace:   time.Minute,
		ChatWindow:       4 * time.Second,
		ChatBurst:        3,
		ChatMaxCooldown:  12 * time.Second,
	}
}

func newTestRoom(t *testing.T) (*Room, *fakeStore) {
	t.Helper()

	cfg := testGameConfig()
	store := newFakeStore()

	initial := NewGameState(cfg.MaxRounds, int(cfg.RoundDuration/time.Second))
	require.NoError(t, store.CreateRoom(context.Background(), testRoomCode, false, "", initial))

	cleanup := make(chan RoomCleanupMsg, 1)
	room := NewRoom(testRoomCode, cfg, store, nil, "origin-test", cleanup)
	go room.Run()
	t.Cleanup(room.Stop)

	return room, store
}

func joinRoom(t *testing.T, room *Room, store *fakeStore, id, name string) *Client {
	t.Helper()

	p := player.Player{ID: id, Name: name}
	require.NoError(t, store.UpsertMember(context.Background(), room.Code, p, room.cfg.MaxPlayers))

	client := NewClient(room, nil, p)
	room.RegisterClient(client)
	return client
}

// isSystemChat reports whether the event is an engine-authored chat line
// (joins, milestones). They share the chat event type, so helpers waiting
// for (or ruling out) member chat skip them.
func isSystemChat(event map[string]any) bool {
	return event["type"] == string(EvtChat) && event["system"] == true
}

// nextEvent drains the client's queue until an event of the wanted type
// arrives. Unrelated events (presence updates, timer ticks, system chat
// lines) are skipped.
func nextEvent(t *testing.T, client *Client, eventType EventType) map[string]any {
	t.Helper()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case raw, ok := <-client.send:
			require.True(t, ok, "connection closed while waiting for %q", eventType)

			var event map[string]any
			require.NoError(t, json.Unmarshal(raw, &event))
			if event["type"] == string(eventType) && !isSystemChat(event) {
				return event
			}

		case <-deadline:
			t.Fatalf("timed out waiting for %q event", eventType)
		}
	}
}

// neverReceives asserts no event of the given type reaches the client within
// the window. System chat lines do not count as chat.
func neverReceives(t *testing.T, client *Client, eventType EventType, within time.Duration) {
	t.Helper()

	deadline := time.After(within)
	for {
		select {
		case raw, ok := <-client.send:
			if !ok {
				return
			}
			var event map[string]any
			require.NoError(t, json.Unmarshal(raw, &event))
			if !isSystemChat(event) {
				require.NotEqual(t, string(eventType), event["type"])
			}

		case <-deadline:
			return
		}
	}
}

// waitClosed drains the client's queue until the engine closes it.
func waitClosed(t *testing.T, client *Client) {
	t.Helper()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-client.send:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for connection close")
		}
	}
}

func sendMessage(room *Room, client *Client, msg InboundMessage) {
	room.inbound <- inboundFrame{client: client, msg: msg}
}

func TestSnapshotOnJoin(t *testing.T) {
	room, store := newTestRoom(t)

	client := joinRoom(t, room, store, "p1", "Ada")

	snapshot := nextEvent(t, client, EvtGameState)
	assert.Equal(t, string(StatusWaiting), snapshot["status"])

	history := nextEvent(t, client, EvtHistory)
	assert.Contains(t, history, "chat")
	assert.Contains(t, history, "draw")
}

func TestAutoStartDeliversSecretOnlyToDrawer(t *testing.T) {
	room, store := newTestRoom(t)

	p1 := joinRoom(t, room, store, "p1", "Ada")
	p2 := joinRoom(t, room, store, "p2", "Ben")

	started := nextEvent(t, p2, EvtRoundStart)
	assert.Equal(t, float64(1), started["round"])
	assert.Equal(t, "p1", started["drawer_id"])

	// the masked word leaks no letters.
	masked := started["masked_word"].(string)
	assert.Regexp(t, regexp.MustCompile(`^[_\s'-]+$`), masked)

	secret := nextEvent(t, p1, EvtRoundSecret)
	assert.NotEmpty(t, secret["word"])

	neverReceives(t, p2, EvtRoundSecret, 300*time.Millisecond)
}

func TestCorrectGuessScoresAndEndsRound(t *testing.T) {
	room, store := newTestRoom(t)

	p1 := joinRoom(t, room, store, "p1", "Ada")
	p2 := joinRoom(t, room, store, "p2", "Ben")

	nextEvent(t, p2, EvtRoundStart)

	state, err := store.LoadState(context.Background(), testRoomCode)
	require.NoError(t, err)
	require.NotEmpty(t, state.Word)

	sendMessage(room, p2, InboundMessage{Type: InChat, Message: state.Word})

	correct := nextEvent(t, p1, EvtGuessCorrect)
	assert.Equal(t, float64(100), correct["points"])

	guesser := correct["player"].(map[string]any)
	assert.Equal(t, "p2", guesser["id"])

	// the only guesser got it, so the round ends immediately.
	ended := nextEvent(t, p2, EvtRoundEnd)
	assert.Equal(t, RoundEndAllGuessed, ended["reason"])
	assert.Equal(t, state.Word, ended["word"])

	scores := ended["scores"].(map[string]any)
	assert.Equal(t, float64(100), scores["p2"])
	assert.Equal(t, float64(10), scores["p1"], "drawer bonus per correct guesser")
}

func TestWrongGuessBroadcastsAsChat(t *testing.T) {
	room, store := newTestRoom(t)

	p1 := joinRoom(t, room, store, "p1", "Ada")
	p2 := joinRoom(t, room, store, "p2", "Ben")

	nextEvent(t, p2, EvtRoundStart)

	sendMessage(room, p2, InboundMessage{Type: InChat, Message: "submarine?", ClientID: "c-42"})

	chat := nextEvent(t, p1, EvtChat)
	assert.Equal(t, "submarine?", chat["message"])
	assert.Equal(t, "c-42", chat["client_id"])

	sender := chat["player"].(map[string]any)
	assert.Equal(t, "p2", sender["id"])
}

func TestDrawerChatIsBlocked(t *testing.T) {
	room, store := newTestRoom(t)

	p1 := joinRoom(t, room, store, "p1", "Ada")
	p2 := joinRoom(t, room, store, "p2", "Ben")

	nextEvent(t, p1, EvtRoundStart)

	sendMessage(room, p1, InboundMessage{Type: InChat, Message: "it is a piano", ClientID: "c-7"})

	blocked := nextEvent(t, p1, EvtChatBlocked)
	assert.Equal(t, "c-7", blocked["client_id"])

	neverReceives(t, p2, EvtChat, 300*time.Millisecond)
}

func TestWordRepeatedByGuesserStaysAmongGuessers(t *testing.T) {
	room, store := newTestRoom(t)

	p1 := joinRoom(t, room, store, "p1", "Ada")
	p2 := joinRoom(t, room, store, "p2", "Ben")
	p3 := joinRoom(t, room, store, "p3", "Cid")

	nextEvent(t, p2, EvtRoundStart)
	nextEvent(t, p3, EvtGameState)

	state, err := store.LoadState(context.Background(), testRoomCode)
	require.NoError(t, err)
	word := state.Word

	sendMessage(room, p2, InboundMessage{Type: InChat, Message: word})
	nextEvent(t, p2, EvtGuessCorrect)

	// repeating the word after guessing must not hand it to p3, who is
	// still guessing.
	sendMessage(room, p2, InboundMessage{Type: InChat, Message: word})

	echo := nextEvent(t, p1, EvtChat)
	assert.Equal(t, word, echo["message"])
	neverReceives(t, p3, EvtChat, 300*time.Millisecond)

	// the echo stays out of the replay history too.
	entries, err := store.History(context.Background(), testRoomCode, HistoryChat)
	require.NoError(t, err)
	for _, entry := range entries {
		var line map[string]any
		require.NoError(t, json.Unmarshal(entry, &line))
		if line["system"] != true {
			assert.NotEqual(t, word, line["message"])
		}
	}
}

func TestOnlyDrawerStrokesRelay(t *testing.T) {
	room, store := newTestRoom(t)

	p1 := joinRoom(t, room, store, "p1", "Ada")
	p2 := joinRoom(t, room, store, "p2", "Ben")

	nextEvent(t, p2, EvtRoundStart)

	stroke, err := json.Marshal(Stroke{X0: 0.1, Y0: 0.2, X1: 0.3, Y1: 0.4, Color: "#000", Size: 4})
	require.NoError(t, err)

	sendMessage(room, p2, InboundMessage{Type: InDraw, Payload: stroke})
	neverReceives(t, p1, EvtDraw, 300*time.Millisecond)

	sendMessage(room, p1, InboundMessage{Type: InDraw, Payload: stroke})
	drawn := nextEvent(t, p2, EvtDraw)

	payload := drawn["payload"].(map[string]any)
	assert.Equal(t, 0.3, payload["x1"])
}

func TestStartGameRequiresTwoPlayers(t *testing.T) {
	room, store := newTestRoom(t)

	p1 := joinRoom(t, room, store, "p1", "Ada")
	nextEvent(t, p1, EvtGameState)

	sendMessage(room, p1, InboundMessage{Type: InStartGame})

	errEvent := nextEvent(t, p1, EvtError)
	assert.Equal(t, float64(errs.ErrNotEnoughPlayers), errEvent["code"])
}

func TestSecondConnectionReplacesFirst(t *testing.T) {
	room, store := newTestRoom(t)

	first := joinRoom(t, room, store, "p1", "Ada")
	nextEvent(t, first, EvtGameState)

	second := NewClient(room, nil, player.Player{ID: "p1", Name: "Ada"})
	room.RegisterClient(second)

	waitClosed(t, first)
	nextEvent(t, second, EvtGameState)
}

func TestKickVoteReachingQuorumRemovesTarget(t *testing.T) {
	room, store := newTestRoom(t)

	p1 := joinRoom(t, room, store, "p1", "Ada")
	p2 := joinRoom(t, room, store, "p2", "Ben")
	p3 := joinRoom(t, room, store, "p3", "Cid")
	p4 := joinRoom(t, room, store, "p4", "Dee")

	nextEvent(t, p4, EvtGameState)

	// 3 eligible voters, so the quorum is 2: the requester plus one approval.
	sendMessage(room, p2, InboundMessage{Type: InKickRequest, TargetID: "p4"})

	request := nextEvent(t, p1, EvtKickRequest)
	assert.Equal(t, "p4", request["target_id"])
	assert.Equal(t, float64(1), request["votes"])
	assert.Equal(t, float64(2), request["required"])

	approve := true
	sendMessage(room, p3, InboundMessage{Type: InKickVote, TargetID: "p4", Approve: &approve})

	kicked := nextEvent(t, p4, EvtKicked)
	assert.NotEmpty(t, kicked["reason"])
	waitClosed(t, p4)

	members, err := store.ActiveMembers(context.Background(), testRoomCode)
	require.NoError(t, err)
	assert.Len(t, members, 3)
}

func TestKickRequestForRunningVoteTargetCountsAsApproval(t *testing.T) {
	room, store := newTestRoom(t)

	p1 := joinRoom(t, room, store, "p1", "Ada")
	p2 := joinRoom(t, room, store, "p2", "Ben")
	p3 := joinRoom(t, room, store, "p3", "Cid")
	p4 := joinRoom(t, room, store, "p4", "Dee")

	nextEvent(t, p4, EvtGameState)

	sendMessage(room, p2, InboundMessage{Type: InKickRequest, TargetID: "p4"})
	nextEvent(t, p1, EvtKickRequest)

	// a request against a different target is refused while a vote runs.
	sendMessage(room, p1, InboundMessage{Type: InKickRequest, TargetID: "p3"})
	errEvent := nextEvent(t, p1, EvtError)
	assert.Equal(t, float64(errs.ErrKickVoteInProgress), errEvent["code"])

	// a request against the running vote's target is an approval: with the
	// quorum at 2 it resolves the vote.
	sendMessage(room, p3, InboundMessage{Type: InKickRequest, TargetID: "p4"})

	kicked := nextEvent(t, p4, EvtKicked)
	assert.NotEmpty(t, kicked["reason"])
	waitClosed(t, p4)

	members, err := store.ActiveMembers(context.Background(), testRoomCode)
	require.NoError(t, err)
	assert.Len(t, members, 3)
}

func TestKickVoteRejectedWhenQuorumUnreachable(t *testing.T) {
	room, store := newTestRoom(t)

	p1 := joinRoom(t, room, store, "p1", "Ada")
	p2 := joinRoom(t, room, store, "p2", "Ben")
	p3 := joinRoom(t, room, store, "p3", "Cid")
	p4 := joinRoom(t, room, store, "p4", "Dee")

	nextEvent(t, p4, EvtGameState)

	sendMessage(room, p2, InboundMessage{Type: InKickRequest, TargetID: "p4"})
	nextEvent(t, p1, EvtKickRequest)

	reject := false
	sendMessage(room, p1, InboundMessage{Type: InKickVote, TargetID: "p4", Approve: &reject})
	sendMessage(room, p3, InboundMessage{Type: InKickVote, TargetID: "p4", Approve: &reject})

	cancelled := nextEvent(t, p2, EvtKickCancel)
	assert.Equal(t, KickCancelRejected, cancelled["reason"])

	members, err := store.ActiveMembers(context.Background(), testRoomCode)
	require.NoError(t, err)
	assert.Len(t, members, 4)
}

func TestKickRequestRejectsInvalidTarget(t *testing.T) {
	room, store := newTestRoom(t)

	p1 := joinRoom(t, room, store, "p1", "Ada")
	nextEvent(t, p1, EvtGameState)

	// self-kick and unknown targets are both invalid.
	sendMessage(room, p1, InboundMessage{Type: InKickRequest, TargetID: "p1"})
	errEvent := nextEvent(t, p1, EvtError)
	assert.Equal(t, float64(errs.ErrKickTargetInvalid), errEvent["code"])

	sendMessage(room, p1, InboundMessage{Type: InKickRequest, TargetID: "ghost"})
	errEvent = nextEvent(t, p1, EvtError)
	assert.Equal(t, float64(errs.ErrKickTargetInvalid), errEvent["code"])
}

func TestDrawerLeavingEndsRoundAndPausesGame(t *testing.T) {
	room, store := newTestRoom(t)

	p1 := joinRoom(t, room, store, "p1", "Ada")
	p2 := joinRoom(t, room, store, "p2", "Ben")

	nextEvent(t, p2, EvtRoundStart)

	sendMessage(room, p1, InboundMessage{Type: InLeave})

	ended := nextEvent(t, p2, EvtRoundEnd)
	assert.Equal(t, RoundEndDrawerLeft, ended["reason"])

	// with one member left, the break resolves into a pause.
	nextEvent(t, p2, EvtRoundPaused)

	members, err := store.ActiveMembers(context.Background(), testRoomCode)
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestChatCooldownAfterFlood(t *testing.T) {
	room, store := newTestRoom(t)

	p1 := joinRoom(t, room, store, "p1", "Ada")
	nextEvent(t, p1, EvtGameState)

	// burst of 3 passes, the fourth message inside the window earns a cooldown.
	for i := 0; i < 3; i++ {
		sendMessage(room, p1, InboundMessage{Type: InChat, Message: "hello"})
		nextEvent(t, p1, EvtChat)
	}

	sendMessage(room, p1, InboundMessage{Type: InChat, Message: "hello again", ClientID: "c-9"})

	cooldown := nextEvent(t, p1, EvtChatCooldown)
	assert.Equal(t, "c-9", cooldown["client_id"])
	assert.GreaterOrEqual(t, cooldown["seconds"].(float64), float64(1))
}

func TestDrawerFloodGetsCooldownBeforeMute(t *testing.T) {
	room, store := newTestRoom(t)

	p1 := joinRoom(t, room, store, "p1", "Ada")
	p2 := joinRoom(t, room, store, "p2", "Ben")

	nextEvent(t, p2, EvtRoundStart)

	// the rate limit is checked before the drawer mute, so muted messages
	// still consume the burst and the fourth one earns a cooldown.
	for i := 0; i < 3; i++ {
		sendMessage(room, p1, InboundMessage{Type: InChat, Message: "a clue"})
		nextEvent(t, p1, EvtChatBlocked)
	}

	sendMessage(room, p1, InboundMessage{Type: InChat, Message: "a clue", ClientID: "c-3"})

	cooldown := nextEvent(t, p1, EvtChatCooldown)
	assert.Equal(t, "c-3", cooldown["client_id"])
}

func TestOversizedChatRejected(t *testing.T) {
	room, store := newTestRoom(t)

	p1 := joinRoom(t, room, store, "p1", "Ada")
	nextEvent(t, p1, EvtGameState)

	long := make([]byte, MaxChatBytes+1)
	for i := range long {
		long[i] = 'a'
	}
	sendMessage(room, p1, InboundMessage{Type: InChat, Message: string(long)})

	errEvent := nextEvent(t, p1, EvtError)
	assert.Equal(t, float64(errs.ErrMessageContentTooLong), errEvent["code"])
}
