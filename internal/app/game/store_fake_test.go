package game

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"sketchroom/internal/app/player"
	"sketchroom/internal/pkg/errs"
)

// fakeStore is an in-memory Store for exercising the room engine without
// Postgres. It mirrors the persistence semantics the engine relies on:
// state updates go through fn on a fresh copy, members keep join order,
// and published envelopes are recorded for inspection.
type fakeStore struct {
	mu sync.Mutex

	records map[string]*RoomRecord
	states  map[string][]byte
	members map[string][]Member
	history map[string]map[string][]json.RawMessage
	timers  map[string]string

	published []Envelope
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records: make(map[string]*RoomRecord),
		states:  make(map[string][]byte),
		members: make(map[string][]Member),
		history: make(map[string]map[string][]json.RawMessage),
		timers:  make(map[string]string),
	}
}

func (f *fakeStore) CreateRoom(_ context.Context, code string, isPrivate bool, passwordHash string, initial *GameState) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.records[code]; ok {
		return errs.NewError(errs.ErrRoomCodeExists)
	}

	stateJSON, err := json.Marshal(initial)
	if err != nil {
		return err
	}

	f.records[code] = &RoomRecord{
		Code:         code,
		IsPrivate:    isPrivate,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}
	f.states[code] = stateJSON
	f.history[code] = make(map[string][]json.RawMessage)
	return nil
}

func (f *fakeStore) GetRoom(_ context.Context, code string) (*RoomRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	record, ok := f.records[code]
	if !ok {
		return nil, nil
	}
	copied := *record
	return &copied, nil
}

func (f *fakeStore) DeleteRoom(_ context.Context, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.records, code)
	delete(f.states, code)
	delete(f.members, code)
	delete(f.history, code)
	delete(f.timers, code)
	return nil
}

func (f *fakeStore) RoomSummaries(_ context.Context, maxPlayers int) ([]RoomSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	summaries := make([]RoomSummary, 0, len(f.records))
	for code, record := range f.records {
		active := 0
		for _, m := range f.members[code] {
			if m.Active {
				active++
			}
		}
		summaries = append(summaries, RoomSummary{
			Code:        code,
			ActiveCount: active,
			MaxPlayers:  maxPlayers,
			IsFull:      active >= maxPlayers,
			IsPrivate:   record.IsPrivate,
		})
	}
	return summaries, nil
}

func (f *fakeStore) UpsertMember(_ context.Context, code string, p player.Player, maxPlayers int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.records[code]; !ok {
		return errs.NewError(errs.ErrRoomNotFound)
	}

	for i, m := range f.members[code] {
		if m.Player.ID == p.ID {
			f.members[code][i].Player = p
			f.members[code][i].Active = true
			return nil
		}
	}

	active := 0
	for _, m := range f.members[code] {
		if m.Active {
			active++
		}
	}
	if active >= maxPlayers {
		return errs.NewError(errs.ErrRoomIsFull)
	}

	f.members[code] = append(f.members[code], Member{
		Player:   p,
		Active:   true,
		JoinedAt: time.Now(),
	})
	return nil
}

func (f *fakeStore) SetMemberActive(_ context.Context, code string, playerID string, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, m := range f.members[code] {
		if m.Player.ID == playerID {
			f.members[code][i].Active = active
			return nil
		}
	}
	return nil
}

func (f *fakeStore) ActiveMembers(_ context.Context, code string) ([]Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	active := make([]Member, 0)
	for _, m := range f.members[code] {
		if m.Active {
			active = append(active, m)
		}
	}
	return active, nil
}

func (f *fakeStore) MarkEmptySince(_ context.Context, code string, since *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if record, ok := f.records[code]; ok {
		record.EmptySince = since
	}
	return nil
}

func (f *fakeStore) PurgeStaleRooms(_ context.Context, grace time.Duration) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	codes := make([]string, 0)
	cutoff := time.Now().Add(-grace)
	for code, record := range f.records {
		if record.EmptySince != nil && record.EmptySince.Before(cutoff) {
			codes = append(codes, code)
		}
	}
	for _, code := range codes {
		delete(f.records, code)
		delete(f.states, code)
		delete(f.members, code)
		delete(f.history, code)
		delete(f.timers, code)
	}
	return codes, nil
}

func (f *fakeStore) UpdateState(_ context.Context, code string, fn func(*GameState) error) (*GameState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	stateJSON, ok := f.states[code]
	if !ok {
		return nil, errs.NewError(errs.ErrRoomNotFound)
	}

	state := &GameState{}
	if err := json.Unmarshal(stateJSON, state); err != nil {
		return nil, err
	}
	if state.Scores == nil {
		state.Scores = map[string]int{}
	}

	if err := fn(state); err != nil {
		return nil, err
	}

	newJSON, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	f.states[code] = newJSON
	return state, nil
}

func (f *fakeStore) LoadState(_ context.Context, code string) (*GameState, error) {
	return f.UpdateState(context.Background(), code, func(*GameState) error { return nil })
}

func (f *fakeStore) AppendHistory(_ context.Context, code string, kind string, payload []byte, limit int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.history[code] == nil {
		f.history[code] = make(map[string][]json.RawMessage)
	}

	entries := append(f.history[code][kind], json.RawMessage(payload))
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	f.history[code][kind] = entries
	return nil
}

func (f *fakeStore) History(_ context.Context, code string, kind string) ([]json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return slices.Clone(f.history[code][kind]), nil
}

func (f *fakeStore) ClearHistory(_ context.Context, code string, kind string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.history[code] != nil {
		delete(f.history[code], kind)
	}
	return nil
}

func (f *fakeStore) ClaimRoundTimer(_ context.Context, code string, owner string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	current := f.timers[code]
	if current == "" || current == owner {
		f.timers[code] = owner
		return true, nil
	}
	return false, nil
}

func (f *fakeStore) ReleaseRoundTimer(_ context.Context, code string, owner string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.timers[code] == owner {
		delete(f.timers, code)
	}
	return nil
}

func (f *fakeStore) Publish(_ context.Context, env *Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.published = append(f.published, *env)
	return nil
}

func (f *fakeStore) publishedEnvelopes() []Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Envelope, len(f.published))
	copy(out, f.published)
	return out
}
