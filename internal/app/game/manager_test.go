package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sketchroom/internal/app/player"
	"sketchroom/internal/configs"
	"sketchroom/internal/pkg/auth/jwt"
	"sketchroom/internal/pkg/errs"
	"sketchroom/internal/pkg/randx"
)

func newTestManager(t *testing.T) (*Manager, *fakeStore) {
	t.Helper()

	cfg := &configs.AppConfig{
		Environment: "development",
		JWTSecret:   "test-secret",
		Game:        testGameConfig(),
	}
	store := newFakeStore()

	manager := NewManager(cfg, store, nil)
	t.Cleanup(manager.Shutdown)

	return manager, store
}

func assertErrorCode(t *testing.T, err error, code int) {
	t.Helper()

	var customErr *errs.CustomError
	require.True(t, errors.As(err, &customErr), "expected a CustomError, got %v", err)
	assert.Equal(t, code, customErr.Code)
}

func TestCreateRoomPublic(t *testing.T) {
	manager, store := newTestManager(t)
	creator := player.Player{ID: "p1", Name: "Ada"}

	code, token, err := manager.CreateRoom(context.Background(), creator, false, "")
	require.NoError(t, err)
	assert.True(t, randx.IsValidRoomCode(code), "room code %q has the wrong shape", code)

	payload, err := jwt.ParseToken(token, "test-secret")
	require.NoError(t, err)
	assert.Equal(t, "p1", payload.ID)
	assert.Equal(t, code, payload.Code)
	assert.Equal(t, "player", payload.Role)

	record, err := store.GetRoom(context.Background(), code)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.False(t, record.IsPrivate)
	assert.Empty(t, record.PasswordHash)

	// the creator holds a seat before the socket ever connects.
	members, err := store.ActiveMembers(context.Background(), code)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "p1", members[0].Player.ID)
}

func TestCreateRoomPrivateHashesPassword(t *testing.T) {
	manager, store := newTestManager(t)
	creator := player.Player{ID: "p1", Name: "Ada"}

	code, _, err := manager.CreateRoom(context.Background(), creator, true, "hunter2")
	require.NoError(t, err)

	record, err := store.GetRoom(context.Background(), code)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.True(t, record.IsPrivate)
	assert.NotEqual(t, "hunter2", record.PasswordHash, "password must never be stored in the clear")

	match, err := argon2id.ComparePasswordAndHash("hunter2", record.PasswordHash)
	require.NoError(t, err)
	assert.True(t, match)
}

func TestCreateRoomPrivateRequiresPassword(t *testing.T) {
	manager, _ := newTestManager(t)
	creator := player.Player{ID: "p1", Name: "Ada"}

	_, _, err := manager.CreateRoom(context.Background(), creator, true, "")
	assertErrorCode(t, err, errs.ErrRoomVisibilityInvalid)
}

func TestJoinRoomNotFound(t *testing.T) {
	manager, _ := newTestManager(t)

	_, err := manager.JoinRoom(context.Background(), "ZZZZZZ", player.Player{ID: "p2"}, "")
	assertErrorCode(t, err, errs.ErrRoomNotFound)
}

func TestJoinRoomPassword(t *testing.T) {
	manager, _ := newTestManager(t)

	code, _, err := manager.CreateRoom(context.Background(), player.Player{ID: "p1", Name: "Ada"}, true, "hunter2")
	require.NoError(t, err)

	_, err = manager.JoinRoom(context.Background(), code, player.Player{ID: "p2", Name: "Ben"}, "wrong")
	assertErrorCode(t, err, errs.ErrRoomPasswordIncorrect)

	token, err := manager.JoinRoom(context.Background(), code, player.Player{ID: "p2", Name: "Ben"}, "hunter2")
	require.NoError(t, err)

	payload, err := jwt.ParseToken(token, "test-secret")
	require.NoError(t, err)
	assert.Equal(t, code, payload.Code)
}

func TestJoinRoomCapacity(t *testing.T) {
	manager, store := newTestManager(t)

	code, _, err := manager.CreateRoom(context.Background(), player.Player{ID: "p1", Name: "Ada"}, false, "")
	require.NoError(t, err)

	// fill the remaining seats directly through the store.
	for i := 2; i <= testGameConfig().MaxPlayers; i++ {
		p := player.Player{ID: fmt.Sprintf("p%d", i), Name: "Filler"}
		require.NoError(t, store.UpsertMember(context.Background(), code, p, testGameConfig().MaxPlayers))
	}

	_, err = manager.JoinRoom(context.Background(), code, player.Player{ID: "late", Name: "Late"}, "")
	assertErrorCode(t, err, errs.ErrRoomIsFull)

	// a player who already holds a seat may rejoin a full room.
	_, err = manager.JoinRoom(context.Background(), code, player.Player{ID: "p1", Name: "Ada"}, "")
	assert.NoError(t, err)
}

func TestConcurrentJoinsCannotExceedCapacity(t *testing.T) {
	manager, store := newTestManager(t)

	code, _, err := manager.CreateRoom(context.Background(), player.Player{ID: "p1", Name: "Ada"}, false, "")
	require.NoError(t, err)

	// leave exactly one free seat.
	maxPlayers := testGameConfig().MaxPlayers
	for i := 2; i < maxPlayers; i++ {
		p := player.Player{ID: fmt.Sprintf("p%d", i), Name: "Filler"}
		require.NoError(t, store.UpsertMember(context.Background(), code, p, maxPlayers))
	}

	// capacity lives inside the member upsert, so racing joins cannot both
	// pass a stale count and oversubscribe the room.
	var wg sync.WaitGroup
	joinErrs := make([]error, 2)
	for i := range joinErrs {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := player.Player{ID: fmt.Sprintf("racer%d", i), Name: "Racer"}
			_, joinErrs[i] = manager.JoinRoom(context.Background(), code, p, "")
		}()
	}
	wg.Wait()

	admitted := 0
	for _, joinErr := range joinErrs {
		if joinErr == nil {
			admitted++
		} else {
			assertErrorCode(t, joinErr, errs.ErrRoomIsFull)
		}
	}
	assert.Equal(t, 1, admitted)

	members, err := store.ActiveMembers(context.Background(), code)
	require.NoError(t, err)
	assert.Len(t, members, maxPlayers)
}

func TestLeaveRoomWithoutLocalLoop(t *testing.T) {
	manager, store := newTestManager(t)

	code, _, err := manager.CreateRoom(context.Background(), player.Player{ID: "p1", Name: "Ada"}, false, "")
	require.NoError(t, err)

	require.NoError(t, manager.LeaveRoom(context.Background(), code, "p1"))

	members, err := store.ActiveMembers(context.Background(), code)
	require.NoError(t, err)
	assert.Empty(t, members)

	err = manager.LeaveRoom(context.Background(), "ZZZZZZ", "p1")
	assertErrorCode(t, err, errs.ErrRoomNotFound)
}

func TestCloseRoomWithoutLocalLoop(t *testing.T) {
	manager, store := newTestManager(t)

	code, _, err := manager.CreateRoom(context.Background(), player.Player{ID: "p1", Name: "Ada"}, false, "")
	require.NoError(t, err)

	require.NoError(t, manager.CloseRoom(context.Background(), code, "maintenance"))

	record, err := store.GetRoom(context.Background(), code)
	require.NoError(t, err)
	assert.Nil(t, record)

	// other processes learn of the close from the published envelope.
	envelopes := store.publishedEnvelopes()
	require.Len(t, envelopes, 1)
	assert.Equal(t, code, envelopes[0].Code)
	assert.Equal(t, CloseAdminShutdown, envelopes[0].Close)
	assert.Equal(t, manager.Origin(), envelopes[0].Origin)
}

func TestEnsureRoomStartsLoopOnDemand(t *testing.T) {
	manager, _ := newTestManager(t)

	code, _, err := manager.CreateRoom(context.Background(), player.Player{ID: "p1", Name: "Ada"}, false, "")
	require.NoError(t, err)

	assert.Nil(t, manager.GetRoom(code))

	room, err := manager.EnsureRoom(context.Background(), code)
	require.NoError(t, err)
	require.NotNil(t, room)

	again, err := manager.EnsureRoom(context.Background(), code)
	require.NoError(t, err)
	assert.Same(t, room, again)

	_, err = manager.EnsureRoom(context.Background(), "ZZZZZZ")
	assertErrorCode(t, err, errs.ErrRoomNotFound)
}

func TestHandleEnvelopeSkipsOwnOrigin(t *testing.T) {
	manager, store := newTestManager(t)

	code, _, err := manager.CreateRoom(context.Background(), player.Player{ID: "p1", Name: "Ada"}, false, "")
	require.NoError(t, err)

	room, err := manager.EnsureRoom(context.Background(), code)
	require.NoError(t, err)

	client := joinRoom(t, room, store, "p1", "Ada")
	nextEvent(t, client, EvtGameState)

	event, err := json.Marshal(ChatEvent{Type: EvtChat, ID: "e1", Message: "ping", System: true})
	require.NoError(t, err)

	// envelope from this process: dropped without delivery.
	manager.HandleEnvelope(&Envelope{Origin: manager.Origin(), Code: code, Event: event})
	neverReceives(t, client, EvtChat, 200*time.Millisecond)

	// foreign envelope: delivered to local connections.
	manager.HandleEnvelope(&Envelope{Origin: "other-process", Code: code, Event: event})
	delivered := nextEvent(t, client, EvtChat)
	assert.Equal(t, "ping", delivered["message"])
}
