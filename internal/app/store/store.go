/*
Package store implements the shared room store on PostgreSQL.

Room identity, membership, game state, and replayable history live in Postgres
so any number of server processes can serve the same room. Game state updates
go through an optimistic version check with bounded retry; cross-process event
fan-out rides on LISTEN/NOTIFY (see pubsub.go).
*/
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sketchroom/internal/app/db"
	"sketchroom/internal/app/game"
	"sketchroom/internal/app/player"
	"sketchroom/internal/pkg/errs"
	"sketchroom/internal/pkg/metrics"
)

// notifyChannel is the Postgres notification channel all processes listen on.
const notifyChannel = "sketchroom_events"

// updateStateAttempts bounds the optimistic retry loop on version conflicts.
const updateStateAttempts = 5

// PgStore implements game.Store on a pgx connection pool.
type PgStore struct {
	pool  *pgxpool.Pool
	meter *metrics.Metrics
}

// NewPgStore constructs a PgStore. meter may be nil in tests.
func NewPgStore(pool *pgxpool.Pool, meter *metrics.Metrics) *PgStore {
	return &PgStore{pool: pool, meter: meter}
}

// CreateRoom inserts a new room row with its initial game state. A code
// collision surfaces as ErrRoomCodeExists so callers can retry with a fresh code.
func (s *PgStore) CreateRoom(ctx context.Context, code string, isPrivate bool, passwordHash string, initial *game.GameState) error {
	stateJSON, err := json.Marshal(initial)
	if err != nil {
		return fmt.Errorf("failed to marshal initial game state: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO rooms (code, is_private, password_hash, game_state) VALUES ($1, $2, $3, $4)`,
		code, isPrivate, passwordHash, stateJSON)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return errs.NewError(errs.ErrRoomCodeExists)
		}
		return fmt.Errorf("failed to insert room: %w", err)
	}
	return nil
}

// GetRoom returns the room record for code, or nil when it does not exist.
func (s *PgStore) GetRoom(ctx context.Context, code string) (*game.RoomRecord, error) {
	record := &game.RoomRecord{}

	err := s.pool.QueryRow(ctx,
		`SELECT code, is_private, password_hash, empty_since, created_at FROM rooms WHERE code = $1`,
		code).Scan(&record.Code, &record.IsPrivate, &record.PasswordHash, &record.EmptySince, &record.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query room: %w", err)
	}
	return record, nil
}

// DeleteRoom removes the room and, via cascade, its members and history.
func (s *PgStore) DeleteRoom(ctx context.Context, code string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM rooms WHERE code = $1`, code)
	if err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	return nil
}

// RoomSummaries returns the lobby view of every room with its active member count.
func (s *PgStore) RoomSummaries(ctx context.Context, maxPlayers int) ([]game.RoomSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT r.code, r.is_private, COUNT(m.player_id) FILTER (WHERE m.is_active) AS active_count
		 FROM rooms r
		 LEFT JOIN room_members m ON m.room_id = r.id
		 GROUP BY r.id
		 ORDER BY r.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query room summaries: %w", err)
	}
	defer rows.Close()

	summaries := make([]game.RoomSummary, 0)
	for rows.Next() {
		var summary game.RoomSummary
		if err := rows.Scan(&summary.Code, &summary.IsPrivate, &summary.ActiveCount); err != nil {
			return nil, fmt.Errorf("failed to scan room summary: %w", err)
		}
		summary.MaxPlayers = maxPlayers
		summary.IsFull = summary.ActiveCount >= maxPlayers
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

// UpsertMember records (or re-activates) a room membership. New memberships
// count against maxPlayers; the room row is locked for the duration of the
// transaction so concurrent joins cannot push a room past capacity. Existing
// members re-activate regardless of capacity.
func (s *PgStore) UpsertMember(ctx context.Context, code string, p player.Player, maxPlayers int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin member upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	var roomID int64
	err = tx.QueryRow(ctx, `SELECT id FROM rooms WHERE code = $1 FOR UPDATE`, code).Scan(&roomID)
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.NewError(errs.ErrRoomNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to lock room for member upsert: %w", err)
	}

	var existing bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM room_members WHERE room_id = $1 AND player_id = $2)`,
		roomID, p.ID).Scan(&existing); err != nil {
		return fmt.Errorf("failed to check existing membership: %w", err)
	}

	if !existing {
		var active int
		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM room_members WHERE room_id = $1 AND is_active`,
			roomID).Scan(&active); err != nil {
			return fmt.Errorf("failed to count active members: %w", err)
		}
		if active >= maxPlayers {
			return errs.NewError(errs.ErrRoomIsFull)
		}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO room_members (room_id, player_id, name, avatar)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (room_id, player_id)
		 DO UPDATE SET is_active = TRUE, name = EXCLUDED.name, avatar = EXCLUDED.avatar`,
		roomID, p.ID, p.Name, p.Avatar); err != nil {
		return fmt.Errorf("failed to upsert member: %w", err)
	}

	return tx.Commit(ctx)
}

// SetMemberActive flips the active flag on a membership row. Inactive rows
// keep the (room, player) pair so scores survive a rejoin.
func (s *PgStore) SetMemberActive(ctx context.Context, code string, playerID string, active bool) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE room_members SET is_active = $3
		 WHERE room_id = (SELECT id FROM rooms WHERE code = $1) AND player_id = $2`,
		code, playerID, active)
	if err != nil {
		return fmt.Errorf("failed to update member activity: %w", err)
	}
	return nil
}

// ActiveMembers returns the room's active members in join order.
func (s *PgStore) ActiveMembers(ctx context.Context, code string) ([]game.Member, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT m.player_id, m.name, m.avatar, m.is_active, m.joined_at
		 FROM room_members m
		 JOIN rooms r ON r.id = m.room_id
		 WHERE r.code = $1 AND m.is_active
		 ORDER BY m.joined_at, m.player_id`,
		code)
	if err != nil {
		return nil, fmt.Errorf("failed to query active members: %w", err)
	}
	defer rows.Close()

	members := make([]game.Member, 0)
	for rows.Next() {
		var m game.Member
		if err := rows.Scan(&m.Player.ID, &m.Player.Name, &m.Player.Avatar, &m.Active, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// MarkEmptySince records (or clears, when since is nil) the instant the room
// became empty. The purge loop uses it to reap abandoned rooms.
func (s *PgStore) MarkEmptySince(ctx context.Context, code string, since *time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE rooms SET empty_since = $2 WHERE code = $1`, code, since)
	if err != nil {
		return fmt.Errorf("failed to update empty mark: %w", err)
	}
	return nil
}

// PurgeStaleRooms deletes rooms that stayed empty past grace and returns their codes.
func (s *PgStore) PurgeStaleRooms(ctx context.Context, grace time.Duration) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`DELETE FROM rooms WHERE empty_since IS NOT NULL AND empty_since < NOW() - make_interval(secs => $1) RETURNING code`,
		grace.Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to purge stale rooms: %w", err)
	}
	defer rows.Close()

	codes := make([]string, 0)
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan purged room code: %w", err)
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// UpdateState applies fn inside an optimistic read-modify-write. The version
// column guards against concurrent writers from other processes; a lost race
// re-reads and re-applies fn, up to updateStateAttempts times. Errors returned
// by fn abort the update and propagate unchanged.
func (s *PgStore) UpdateState(ctx context.Context, code string, fn func(*game.GameState) error) (*game.GameState, error) {
	for attempt := 0; attempt < updateStateAttempts; attempt++ {
		var stateJSON []byte
		var version int64

		err := s.pool.QueryRow(ctx,
			`SELECT game_state, state_version FROM rooms WHERE code = $1`,
			code).Scan(&stateJSON, &version)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, errs.NewError(errs.ErrRoomNotFound)
			}
			return nil, fmt.Errorf("failed to read game state: %w", err)
		}

		state := &game.GameState{}
		if err := json.Unmarshal(stateJSON, state); err != nil {
			return nil, fmt.Errorf("failed to unmarshal game state: %w", err)
		}
		if state.Scores == nil {
			state.Scores = map[string]int{}
		}

		if err := fn(state); err != nil {
			return nil, err
		}

		newJSON, err := json.Marshal(state)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal game state: %w", err)
		}

		tag, err := s.pool.Exec(ctx,
			`UPDATE rooms SET game_state = $2, state_version = state_version + 1
			 WHERE code = $1 AND state_version = $3`,
			code, newJSON, version)
		if err != nil {
			return nil, fmt.Errorf("failed to write game state: %w", err)
		}
		if tag.RowsAffected() > 0 {
			return state, nil
		}

		// lost the version race; back off briefly and retry against fresh state.
		if s.meter != nil {
			s.meter.StoreConflicts.Inc()
		}
		backoff := time.Duration(attempt+1)*10*time.Millisecond + time.Duration(rand.Intn(10))*time.Millisecond
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, errs.NewError(errs.ErrStoreConflict)
}

// LoadState returns the current persisted game state.
func (s *PgStore) LoadState(ctx context.Context, code string) (*game.GameState, error) {
	var stateJSON []byte

	err := s.pool.QueryRow(ctx, `SELECT game_state FROM rooms WHERE code = $1`, code).Scan(&stateJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NewError(errs.ErrRoomNotFound)
		}
		return nil, fmt.Errorf("failed to read game state: %w", err)
	}

	state := &game.GameState{}
	if err := json.Unmarshal(stateJSON, state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal game state: %w", err)
	}
	if state.Scores == nil {
		state.Scores = map[string]int{}
	}
	return state, nil
}

// AppendHistory stores one replayable event and trims the room's history of
// that kind down to limit entries, oldest first.
func (s *PgStore) AppendHistory(ctx context.Context, code string, kind string, payload []byte, limit int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO room_history (room_id, kind, payload)
		 SELECT id, $2, $3 FROM rooms WHERE code = $1`,
		code, kind, payload)
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`DELETE FROM room_history
		 WHERE room_id = (SELECT id FROM rooms WHERE code = $1) AND kind = $2
		   AND id NOT IN (
		       SELECT id FROM room_history
		       WHERE room_id = (SELECT id FROM rooms WHERE code = $1) AND kind = $2
		       ORDER BY id DESC LIMIT $3)`,
		code, kind, limit)
	if err != nil {
		return fmt.Errorf("failed to trim history: %w", err)
	}
	return nil
}

// History returns the room's stored events of the given kind, oldest first.
func (s *PgStore) History(ctx context.Context, code string, kind string) ([]json.RawMessage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT h.payload FROM room_history h
		 JOIN rooms r ON r.id = h.room_id
		 WHERE r.code = $1 AND h.kind = $2
		 ORDER BY h.id`,
		code, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	payloads := make([]json.RawMessage, 0)
	for rows.Next() {
		var payload json.RawMessage
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan history payload: %w", err)
		}
		payloads = append(payloads, payload)
	}
	return payloads, rows.Err()
}

// ClearHistory drops every stored event of the given kind for the room.
func (s *PgStore) ClearHistory(ctx context.Context, code string, kind string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM room_history
		 WHERE room_id = (SELECT id FROM rooms WHERE code = $1) AND kind = $2`,
		code, kind)
	if err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}

// ClaimRoundTimer acquires or renews the room's countdown ownership. The claim
// succeeds when unowned, already held by owner, or expired.
func (s *PgStore) ClaimRoundTimer(ctx context.Context, code string, owner string, ttl time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE rooms
		 SET timer_owner = $2, timer_owner_expires = NOW() + make_interval(secs => $3)
		 WHERE code = $1
		   AND (timer_owner = '' OR timer_owner = $2 OR timer_owner_expires < NOW())`,
		code, owner, ttl.Seconds())
	if err != nil {
		return false, fmt.Errorf("failed to claim round timer: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ReleaseRoundTimer gives the countdown claim up; only the current owner can.
func (s *PgStore) ReleaseRoundTimer(ctx context.Context, code string, owner string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE rooms SET timer_owner = '', timer_owner_expires = NULL
		 WHERE code = $1 AND timer_owner = $2`,
		code, owner)
	if err != nil {
		return fmt.Errorf("failed to release round timer: %w", err)
	}
	return nil
}

// Publish fans an envelope out to every process listening on the notification channel.
func (s *PgStore) Publish(ctx context.Context, env *game.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	_, err = s.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, string(payload))
	if err != nil {
		return fmt.Errorf("failed to publish envelope: %w", err)
	}
	return nil
}
