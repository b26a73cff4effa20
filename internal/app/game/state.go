/*
Package game contains the core logic of the room session engine: per-room state machines,
player connections, round control, chat moderation, kick votes, and event fan-out.

This file defines the persisted game state, the room records exchanged with the shared
store, and the Store port the engine drives. The shared store is the source of truth
across processes; every in-memory GameState held by a Room is a cache of it.
*/
package game

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"time"

	"sketchroom/internal/app/player"
)

// Status enumerates the phases of the room state machine.
type Status string

const (
	// StatusWaiting means fewer than 2 players are present, or no round has started yet.
	StatusWaiting Status = "waiting"

	// StatusRunning means a round is active and the countdown is ticking.
	StatusRunning Status = "running"

	// StatusBreak is the fixed pause between a round ending and the next one starting.
	StatusBreak Status = "break"

	// StatusFinished means the round limit was reached; no further rounds are issued.
	StatusFinished Status = "finished"
)

// GameState is the canonical per-room game state persisted in the shared store.
// All mutations go through Store.UpdateState so two processes never lose updates.
type GameState struct {
	Status       Status         `json:"status"`
	RoundIndex   int            `json:"round_index"`
	MaxRounds    int            `json:"max_rounds"`
	RoundSeconds int            `json:"round_seconds"`
	DrawerID     string         `json:"drawer_id,omitempty"`
	Word         string         `json:"word,omitempty"`
	Revealed     []int          `json:"revealed,omitempty"`
	Guessed      []string       `json:"guessed,omitempty"`
	Scores       map[string]int `json:"scores"`
	StartedAt    int64          `json:"started_at,omitempty"`

	// Drawn lists players who already drew in the current rotation cycle.
	Drawn []string `json:"drawn,omitempty"`

	// WordBag is the remainder of the shuffled word deck (indices into the word list).
	// LastWordIndex lets a reshuffle avoid repeating the previous word consecutively.
	WordBag       []int `json:"word_bag,omitempty"`
	LastWordIndex int   `json:"last_word_index"`

	// Kick vote bookkeeping. At most one vote runs per room; KickVotes holds
	// approvals and KickResponses every member who already answered.
	KickTarget    string   `json:"kick_target,omitempty"`
	KickRequester string   `json:"kick_requester,omitempty"`
	KickVotes     []string `json:"kick_votes,omitempty"`
	KickResponses []string `json:"kick_responses,omitempty"`
}

// NewGameState returns the initial state for a freshly created room.
func NewGameState(maxRounds int, roundSeconds int) *GameState {
	return &GameState{
		Status:        StatusWaiting,
		MaxRounds:     maxRounds,
		RoundSeconds:  roundSeconds,
		Scores:        map[string]int{},
		LastWordIndex: -1,
	}
}

// HasGuessed reports whether the player already guessed the word this round.
func (s *GameState) HasGuessed(playerID string) bool {
	return slices.Contains(s.Guessed, playerID)
}

// SecondsLeft computes the remaining round time at the given instant.
func (s *GameState) SecondsLeft(now time.Time) int {
	left := s.RoundSeconds - int(now.Unix()-s.StartedAt)
	if left < 0 {
		return 0
	}
	return left
}

// MaskedWord renders the secret word with unrevealed letters hidden.
// Spaces and punctuation are always shown; revealed letters are uppercased.
func (s *GameState) MaskedWord() string {
	return MaskWord(s.Word, s.Revealed)
}

// MaskWord hides the letters of word except the given revealed positions.
func MaskWord(word string, revealed []int) string {
	letters := make([]string, 0, len(word))
	for idx, char := range word {
		switch {
		case char == ' ' || char == '-' || char == '\'':
			letters = append(letters, string(char))
		case slices.Contains(revealed, idx):
			letters = append(letters, strings.ToUpper(string(char)))
		default:
			letters = append(letters, "_")
		}
	}
	return strings.Join(letters, " ")
}

// resetRound clears all round-scoped fields. Accumulated scores survive.
func (s *GameState) resetRound() {
	s.Word = ""
	s.DrawerID = ""
	s.Guessed = nil
	s.Revealed = nil
	s.StartedAt = 0
}

// resetKickVote clears the kick vote bookkeeping.
func (s *GameState) resetKickVote() {
	s.KickTarget = ""
	s.KickRequester = ""
	s.KickVotes = nil
	s.KickResponses = nil
}

// RoomRecord is the stored identity of a room, distinct from its game state.
type RoomRecord struct {
	Code         string
	IsPrivate    bool
	PasswordHash string
	EmptySince   *time.Time
	CreatedAt    time.Time
}

// Member is a stored room membership row. Active members count toward capacity
// and presence; inactive rows keep the (room, player) pair for score continuity.
type Member struct {
	Player   player.Player
	Active   bool
	JoinedAt time.Time
}

// RoomSummary is the lobby discovery view of a room.
type RoomSummary struct {
	Code        string `json:"code"`
	ActiveCount int    `json:"active_count"`
	MaxPlayers  int    `json:"max_players"`
	IsFull      bool   `json:"is_full"`
	IsPrivate   bool   `json:"is_private"`
}

// History kinds stored per room.
const (
	HistoryChat = "chat"
	HistoryDraw = "draw"
)

// Envelope is the cross-process fan-out unit published on the store's
// notification channel. Origin identifies the publishing process so it can
// skip its own events; To/Exclude address a single member when set.
type Envelope struct {
	Origin  string          `json:"origin"`
	Code    string          `json:"code"`
	To      string          `json:"to,omitempty"`
	Exclude string          `json:"exclude,omitempty"`
	Event   json.RawMessage `json:"event"`

	// Close, when non-zero, instructs receiving processes to close the addressed
	// connections with this WebSocket code after delivering the event.
	Close int `json:"close,omitempty"`

	// StateChanged tells receiving processes to refresh their cached GameState.
	StateChanged bool `json:"state_changed,omitempty"`
}

// Store is the shared room store the engine runs against. The production
// implementation lives in internal/app/store (PostgreSQL via pgx with
// LISTEN/NOTIFY fan-out); tests substitute an in-memory fake.
type Store interface {
	// Rooms.
	CreateRoom(ctx context.Context, code string, isPrivate bool, passwordHash string, initial *GameState) error
	GetRoom(ctx context.Context, code string) (*RoomRecord, error)
	DeleteRoom(ctx context.Context, code string) error
	RoomSummaries(ctx context.Context, maxPlayers int) ([]RoomSummary, error)

	// Membership. UpsertMember admits a new member only while the active count
	// is below maxPlayers; check and insert happen in one transaction so
	// concurrent joins cannot oversubscribe the room. Existing members
	// re-activate regardless of capacity.
	UpsertMember(ctx context.Context, code string, p player.Player, maxPlayers int) error
	SetMemberActive(ctx context.Context, code string, playerID string, active bool) error
	ActiveMembers(ctx context.Context, code string) ([]Member, error)

	// Empty-room lifecycle. MarkEmptySince records (or clears, when nil) the
	// instant the room became empty; PurgeStaleRooms deletes rooms empty for
	// longer than grace and returns their codes.
	MarkEmptySince(ctx context.Context, code string, since *time.Time) error
	PurgeStaleRooms(ctx context.Context, grace time.Duration) ([]string, error)

	// Game state. UpdateState applies fn inside an optimistic read-modify-write
	// with bounded retry; LoadState returns the current persisted state.
	UpdateState(ctx context.Context, code string, fn func(*GameState) error) (*GameState, error)
	LoadState(ctx context.Context, code string) (*GameState, error)

	// History replay.
	AppendHistory(ctx context.Context, code string, kind string, payload []byte, limit int) error
	History(ctx context.Context, code string, kind string) ([]json.RawMessage, error)
	ClearHistory(ctx context.Context, code string, kind string) error

	// Countdown ownership. Exactly one process may run a room's round timer;
	// claims expire so a crashed owner is superseded.
	ClaimRoundTimer(ctx context.Context, code string, owner string, ttl time.Duration) (bool, error)
	ReleaseRoundTimer(ctx context.Context, code string, owner string) error

	// Publish fans an envelope out to every subscribed process.
	Publish(ctx context.Context, env *Envelope) error
}
