/*
Package game contains the core logic of the room session engine.

This file defines the Manager struct, which serves as the central manager for the
room system on this process. It is responsible for creating, joining, tracking,
retrieving, and cleaning up Room instances, for routing store notifications into
the right room loop, and for the periodic purge of rooms that stayed empty past
their grace window.
*/
package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/rs/zerolog"

	"sketchroom/internal/app/player"
	"sketchroom/internal/configs"
	"sketchroom/internal/pkg/auth/jwt"
	"sketchroom/internal/pkg/errs"
	"sketchroom/internal/pkg/logx"
	"sketchroom/internal/pkg/metrics"
	"sketchroom/internal/pkg/randx"
)

const (
	// roomCodeCreateAttempts bounds the retries on a room code collision.
	roomCodeCreateAttempts = 5

	// purgeInterval is how often empty rooms past their grace window are reaped.
	purgeInterval = time.Minute
)

// Manager struct is responsible for coordinating all rooms hosted on this process.
// Room identity and game state live in the shared store; the Manager only tracks
// which rooms currently have a running session loop here.
type Manager struct {
	// rooms stores the locally running Room instances, keyed by room code.
	rooms map[string]*Room

	// Config holds the application's read-only configuration settings.
	config *configs.AppConfig

	store Store
	meter *metrics.Metrics

	// origin identifies this process on the store's notification channel.
	origin string

	// mu protects concurrent access to the rooms map.
	mu sync.RWMutex

	// the channel used by Rooms to notify the Manager to clean up and remove them.
	cleanup chan RoomCleanupMsg

	// stopPurge terminates the periodic stale-room purge loop.
	stopPurge chan struct{}

	// wg is used to wait for the background loops to finish during shutdown.
	wg sync.WaitGroup

	// structured logger with Manager context.
	logger zerolog.Logger
}

// NewManager constructs and returns a new Manager instance and starts its
// background loops.
func NewManager(cfg *configs.AppConfig, store Store, meter *metrics.Metrics) *Manager {
	managerLogger := logx.Logger().With().Str("component", "Manager").Logger()

	m := &Manager{
		rooms:     make(map[string]*Room),
		config:    cfg,
		store:     store,
		meter:     meter,
		origin:    randx.EventID(),
		cleanup:   make(chan RoomCleanupMsg, 10),
		stopPurge: make(chan struct{}),
		logger:    managerLogger,
	}

	m.wg.Add(2)

	go m.runCleanupLoop()
	go m.runPurgeLoop()

	return m
}

// Origin returns this process's identifier on the store notification channel.
func (m *Manager) Origin() string {
	return m.origin
}

// runCleanupLoop is a blocking loop that listens on the cleanup channel.
// When a RoomCleanupMsg is received, it calls deleteRoom to remove the corresponding room.
func (m *Manager) runCleanupLoop() {
	defer m.wg.Done()

	m.logger.Info().Msg("Cleanup loop started.")

	for msg := range m.cleanup {
		m.deleteRoom(msg.RoomCode)
	}

	m.logger.Info().Msg("Cleanup loop stopped.")
}

// runPurgeLoop periodically deletes rooms that stayed empty past the grace
// window from the shared store and stops their local loops if any.
func (m *Manager) runPurgeLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.purgeStaleRooms()
		case <-m.stopPurge:
			return
		}
	}
}

func (m *Manager) purgeStaleRooms() {
	ctx, cancel := context.WithTimeout(context.Background(), storeCallTimeout)
	defer cancel()

	codes, err := m.store.PurgeStaleRooms(ctx, m.config.Game.EmptyRoomGrace)
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to purge stale rooms.")
		return
	}

	for _, code := range codes {
		m.logger.Info().Str("room_code", code).Msg("Purged stale empty room.")
		if room := m.GetRoom(code); room != nil {
			room.Stop()
		}
	}
}

// deleteRoom removes the specified room from the Manager's rooms map.
func (m *Manager) deleteRoom(roomCode string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[roomCode]; ok {
		delete(m.rooms, roomCode)
		if m.meter != nil {
			m.meter.ActiveRooms.Dec()
		}
		m.logger.Info().Str("room_code", roomCode).Msg("Room loop successfully removed.")
	}
}

// CreateRoom registers a new room in the shared store and returns its code
// together with a room access token for the creator. Code collisions are
// retried with fresh codes.
func (m *Manager) CreateRoom(ctx context.Context, creator player.Player, isPrivate bool, password string) (string, string, error) {
	var passwordHash string
	if isPrivate {
		if password == "" {
			return "", "", errs.NewError(errs.ErrRoomVisibilityInvalid)
		}
		hash, err := argon2id.CreateHash(password, argon2id.DefaultParams)
		if err != nil {
			return "", "", fmt.Errorf("failed to hash room password: %w", err)
		}
		passwordHash = hash
	}

	initial := NewGameState(m.config.Game.MaxRounds, int(m.config.Game.RoundDuration/time.Second))

	for attempt := 0; attempt < roomCodeCreateAttempts; attempt++ {
		code, err := randx.RoomCode()
		if err != nil {
			return "", "", err
		}

		err = m.store.CreateRoom(ctx, code, isPrivate, passwordHash, initial)
		if err != nil {
			var customErr *errs.CustomError
			if errors.As(err, &customErr) && customErr.Code == errs.ErrRoomCodeExists {
				m.logger.Warn().Str("room_code", code).Msg("Room code collision. Retrying with a fresh code.")
				continue
			}
			return "", "", err
		}

		// the creator is the room's first member; without this row the
		// socket-side membership guard would reject their connection.
		if err := m.store.UpsertMember(ctx, code, creator, m.config.Game.MaxPlayers); err != nil {
			return "", "", err
		}

		token, err := m.memberToken(ctx, code, creator)
		if err != nil {
			return "", "", err
		}

		m.logger.Info().
			Str("room_code", code).
			Str("player_id", creator.ID).
			Bool("is_private", isPrivate).
			Msg("New room created.")

		return code, token, nil
	}

	return "", "", errs.NewError(errs.ErrRoomCodeExists)
}

// JoinRoom validates room existence, password, and capacity, records the
// membership, and mints the room access token used for the WebSocket handshake.
func (m *Manager) JoinRoom(ctx context.Context, code string, p player.Player, password string) (string, error) {
	record, err := m.store.GetRoom(ctx, code)
	if err != nil {
		return "", err
	}
	if record == nil {
		return "", errs.NewError(errs.ErrRoomNotFound)
	}

	if record.IsPrivate {
		match, err := argon2id.ComparePasswordAndHash(password, record.PasswordHash)
		if err != nil || !match {
			return "", errs.NewError(errs.ErrRoomPasswordIncorrect)
		}
	}

	// capacity is enforced inside the upsert so two concurrent joins cannot
	// both slip into the last seat.
	if err := m.store.UpsertMember(ctx, code, p, m.config.Game.MaxPlayers); err != nil {
		return "", err
	}

	token, err := m.memberToken(ctx, code, p)
	if err != nil {
		return "", err
	}

	m.logger.Info().
		Str("room_code", code).
		Str("player_id", p.ID).
		Msg("Player joined room.")

	return token, nil
}

func (m *Manager) memberToken(ctx context.Context, code string, p player.Player) (string, error) {
	payload := &jwt.Payload{
		ID:     p.ID,
		Code:   code,
		Name:   p.Name,
		Avatar: p.Avatar,
		Role:   "player",
	}
	return jwt.GenerateToken(payload, m.config.JWTSecret, jwt.RoomAccessExpiration)
}

// LeaveRoom removes the membership immediately (no disconnect grace).
func (m *Manager) LeaveRoom(ctx context.Context, code string, playerID string) error {
	record, err := m.store.GetRoom(ctx, code)
	if err != nil {
		return err
	}
	if record == nil {
		return errs.NewError(errs.ErrRoomNotFound)
	}

	if room := m.GetRoom(code); room != nil {
		room.Detach(playerID)
		return nil
	}

	// no loop runs here; update the store directly.
	if err := m.store.SetMemberActive(ctx, code, playerID, false); err != nil {
		return err
	}
	return nil
}

// RoomSummaries returns the lobby discovery view of all rooms.
func (m *Manager) RoomSummaries(ctx context.Context) ([]RoomSummary, error) {
	return m.store.RoomSummaries(ctx, m.config.Game.MaxPlayers)
}

// CloseRoom terminates a room on administrative request and purges it from
// the shared store.
func (m *Manager) CloseRoom(ctx context.Context, code string, reason string) error {
	record, err := m.store.GetRoom(ctx, code)
	if err != nil {
		return err
	}
	if record == nil {
		return errs.NewError(errs.ErrRoomNotFound)
	}

	if room := m.GetRoom(code); room != nil {
		room.AdminClose(reason)
	} else {
		// no local loop; other processes learn of the close from the store.
		env := &Envelope{Origin: m.origin, Code: code, Close: CloseAdminShutdown}
		if err := m.store.Publish(ctx, env); err != nil {
			m.logger.Error().Err(err).Str("room_code", code).Msg("Failed to publish admin close.")
		}
	}

	if err := m.store.DeleteRoom(ctx, code); err != nil {
		return err
	}

	m.logger.Info().Str("room_code", code).Str("reason", reason).Msg("Room closed by admin.")
	return nil
}

// EnsureRoom returns the locally running Room for the code, starting its loop
// on demand when the room exists in the shared store.
func (m *Manager) EnsureRoom(ctx context.Context, code string) (*Room, error) {
	if room := m.GetRoom(code); room != nil {
		return room, nil
	}

	record, err := m.store.GetRoom(ctx, code)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, errs.NewError(errs.ErrRoomNotFound)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if room, ok := m.rooms[code]; ok {
		return room, nil
	}

	newRoom := NewRoom(code, m.config.Game, m.store, m.meter, m.origin, m.cleanup)
	m.rooms[code] = newRoom
	if m.meter != nil {
		m.meter.ActiveRooms.Inc()
	}

	go newRoom.Run()

	m.logger.Info().Str("room_code", code).Msg("Room loop started.")
	return newRoom, nil
}

// GetRoom retrieves a locally running Room instance by its room code.
func (m *Manager) GetRoom(roomCode string) *Room {
	m.mu.RLock()
	defer m.mu.RUnlock()

	room, ok := m.rooms[roomCode]
	if !ok {
		return nil
	}
	return room
}

// HandleEnvelope routes one store notification into the matching room loop.
// Envelopes published by this process are skipped; rooms without a local loop
// have no connections to deliver to.
func (m *Manager) HandleEnvelope(env *Envelope) {
	if env.Origin == m.origin {
		return
	}

	room := m.GetRoom(env.Code)
	if room == nil {
		return
	}

	room.DeliverRemote(env)
}

// Shutdown gracefully shuts down the Manager and all managed rooms.
// It stops all room Run loops, closes the cleanup channel, and waits for the background goroutines to exit.
func (m *Manager) Shutdown() {
	m.logger.Info().Msg("Shutting down Manager...")

	close(m.stopPurge)

	m.mu.Lock()

	for _, room := range m.rooms {
		room.Stop()
	}
	m.rooms = nil

	m.mu.Unlock()

	close(m.cleanup)
	m.wg.Wait()

	m.logger.Info().Msg("Manager shutdown complete.")
}
