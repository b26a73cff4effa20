/*
Package game contains the core logic of the room session engine.

This file defines the wire protocol: the closed set of message types consumed from
clients and the closed set of event types produced to them. Both directions are
tagged unions dispatched with exhaustive switches, never reflective lookups.
*/
package game

import (
	"encoding/json"

	"sketchroom/internal/app/player"
	"sketchroom/internal/pkg/randx"
)

// InboundType enumerates every message type a client may send.
type InboundType string

const (
	InPing        InboundType = "ping"
	InDraw        InboundType = "draw"
	InChat        InboundType = "chat"
	InClear       InboundType = "clear"
	InStartGame   InboundType = "start_game"
	InLeave       InboundType = "leave"
	InKickRequest InboundType = "kick_request"
	InKickVote    InboundType = "kick_vote"
)

// InboundMessage is the decoded client frame. Fields beyond Type are populated
// per message type; unused ones stay zero.
type InboundMessage struct {
	Type InboundType `json:"type"`

	// Draw.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Chat. ClientID is the client-supplied correlation id used to reconcile
	// optimistic local echo with the server's accept/reject decision.
	Message  string `json:"message,omitempty"`
	ClientID string `json:"client_id,omitempty"`

	// Kick request / vote.
	TargetID string `json:"target_id,omitempty"`
	Approve  *bool  `json:"approve,omitempty"`
}

// Stroke is one normalized drawing segment in unit coordinates.
type Stroke struct {
	X0    float64 `json:"x0"`
	Y0    float64 `json:"y0"`
	X1    float64 `json:"x1"`
	Y1    float64 `json:"y1"`
	Color string  `json:"color"`
	Size  float64 `json:"size"`
}

// EventType enumerates every event type the engine produces.
type EventType string

const (
	EvtPresence     EventType = "presence"
	EvtDraw         EventType = "draw"
	EvtChat         EventType = "chat"
	EvtChatCooldown EventType = "chat_cooldown"
	EvtChatBlocked  EventType = "chat_blocked"
	EvtGuessCorrect EventType = "guess_correct"
	EvtClear        EventType = "clear"
	EvtRoundStart   EventType = "round_start"
	EvtHint         EventType = "hint"
	EvtTimer        EventType = "timer"
	EvtRoundSecret  EventType = "round_secret"
	EvtRoundEnd     EventType = "round_end"
	EvtRoundPaused  EventType = "round_paused"
	EvtGameState    EventType = "game_state"
	EvtGameOver     EventType = "game_over"
	EvtHistory      EventType = "history"
	EvtKickRequest  EventType = "kick_request"
	EvtKickUpdate   EventType = "kick_update"
	EvtKickCancel   EventType = "kick_cancel"
	EvtKicked       EventType = "kicked"
	EvtAdminClose   EventType = "admin_close"
	EvtError        EventType = "error"
	EvtPong         EventType = "pong"
)

type PresenceEvent struct {
	Type    EventType       `json:"type"`
	Members []player.Player `json:"members"`
}

type DrawEvent struct {
	Type   EventType     `json:"type"`
	Stroke Stroke        `json:"payload"`
	Player player.Player `json:"player"`
}

type ChatEvent struct {
	Type     EventType      `json:"type"`
	ID       string         `json:"id"`
	Message  string         `json:"message"`
	Player   *player.Player `json:"player,omitempty"`
	System   bool           `json:"system"`
	ClientID string         `json:"client_id,omitempty"`
}

type ChatCooldownEvent struct {
	Type     EventType `json:"type"`
	Seconds  int       `json:"seconds"`
	ClientID string    `json:"client_id,omitempty"`
}

type ChatBlockedEvent struct {
	Type     EventType `json:"type"`
	Reason   string    `json:"reason"`
	ClientID string    `json:"client_id,omitempty"`
}

type GuessCorrectEvent struct {
	Type   EventType      `json:"type"`
	Player player.Player  `json:"player"`
	Points int            `json:"points"`
	Scores map[string]int `json:"scores"`
}

type ClearEvent struct {
	Type   EventType     `json:"type"`
	Player player.Player `json:"player"`
}

type RoundStartEvent struct {
	Type       EventType      `json:"type"`
	Round      int            `json:"round"`
	MaxRounds  int            `json:"max_rounds"`
	DrawerID   string         `json:"drawer_id"`
	MaskedWord string         `json:"masked_word"`
	Duration   int            `json:"duration"`
	Scores     map[string]int `json:"scores"`
}

type HintEvent struct {
	Type       EventType `json:"type"`
	MaskedWord string    `json:"masked_word"`
}

type TimerEvent struct {
	Type        EventType `json:"type"`
	SecondsLeft int       `json:"seconds_left"`
}

// RoundSecretEvent carries the literal word. It is only ever addressed to the
// current drawer's connection.
type RoundSecretEvent struct {
	Type EventType `json:"type"`
	Word string    `json:"word"`
}

type RoundEndEvent struct {
	Type        EventType      `json:"type"`
	Word        string         `json:"word"`
	Scores      map[string]int `json:"scores"`
	NextRoundIn int            `json:"next_round_in"`
	Reason      string         `json:"reason"`
}

type RoundPausedEvent struct {
	Type    EventType `json:"type"`
	Message string    `json:"message"`
}

type GameStateEvent struct {
	Type        EventType      `json:"type"`
	Status      Status         `json:"status"`
	Round       int            `json:"round"`
	MaxRounds   int            `json:"max_rounds"`
	DrawerID    string         `json:"drawer_id,omitempty"`
	MaskedWord  string         `json:"masked_word,omitempty"`
	SecondsLeft int            `json:"seconds_left,omitempty"`
	Scores      map[string]int `json:"scores"`
}

type GameOverEvent struct {
	Type   EventType      `json:"type"`
	Scores map[string]int `json:"scores"`
}

type HistoryEvent struct {
	Type EventType         `json:"type"`
	Chat []json.RawMessage `json:"chat"`
	Draw []json.RawMessage `json:"draw"`
}

type KickRequestEvent struct {
	Type        EventType `json:"type"`
	TargetID    string    `json:"target_id"`
	RequesterID string    `json:"requester_id"`
	Votes       int       `json:"votes"`
	Required    int       `json:"required"`
}

type KickUpdateEvent struct {
	Type      EventType `json:"type"`
	TargetID  string    `json:"target_id"`
	Votes     int       `json:"votes"`
	Required  int       `json:"required"`
	Responded int       `json:"responded"`
	Eligible  int       `json:"eligible"`
}

type KickCancelEvent struct {
	Type     EventType `json:"type"`
	TargetID string    `json:"target_id"`
	Reason   string    `json:"reason"`
}

type KickedEvent struct {
	Type   EventType `json:"type"`
	Reason string    `json:"reason"`
}

type AdminCloseEvent struct {
	Type   EventType `json:"type"`
	Reason string    `json:"reason"`
}

type ErrorEvent struct {
	Type    EventType `json:"type"`
	Code    int       `json:"code"`
	Message string    `json:"message"`
}

type PongEvent struct {
	Type EventType `json:"type"`
}

// NewSystemChat builds a system chat line for milestone announcements
// (correct guesses, kick outcomes), authored by the shared system identity.
func NewSystemChat(message string) ChatEvent {
	sender := player.System
	return ChatEvent{
		Type:    EvtChat,
		ID:      randx.EventID(),
		Message: message,
		Player:  &sender,
		System:  true,
	}
}
