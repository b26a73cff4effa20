/*
Package game contains the core logic of the room session engine.

This file defines the Client struct, representing an active WebSocket connection. It manages the
connection's lifecycle, the message pumps (ReadPump and WritePump), and hands every decoded
frame to the owning Room's run loop. Clients never touch room state directly; the per-room
loop serializes all of it.
*/
package game

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"sketchroom/internal/app/player"
	"sketchroom/internal/pkg/errs"
	"sketchroom/internal/pkg/logx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	// A connection silent for longer is treated as an implicit detach.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a message sent by the client.
	maxMessageSize = 8192

	// MaxChatBytes is the maximum allowed size (in bytes) for a chat line.
	MaxChatBytes = 500
)

// Custom WebSocket close codes (4000-4999 range). Each terminal cause maps to
// a distinct code so clients can tell retryable drops from final ones.
const (
	// CloseSessionReplaced signals the session was replaced by a newer connection.
	CloseSessionReplaced = 4001

	// CloseRemoved signals the member left, was kicked, or lost membership.
	CloseRemoved = 4003

	// CloseUnauthenticated signals the handshake carried no valid identity.
	CloseUnauthenticated = 4401

	// CloseForbidden signals a valid identity without membership in the room.
	CloseForbidden = 4403

	// CloseRoomNotFound signals the room code does not exist.
	CloseRoomNotFound = 4404

	// CloseAdminShutdown signals the room was closed by administrative action.
	CloseAdminShutdown = 4500
)

// Client struct represents an active WebSocket connection and its associated player.
type Client struct {
	// the room the client currently belongs to.
	room *Room

	// underlying WebSocket connection object. Nil in unit tests; all writes
	// to it go through the pumps, the room loop only uses send and closeWith.
	conn *websocket.Conn

	// associated player identity.
	player player.Player

	// a buffered channel used to queue messages waiting to be sent to the client.
	send chan []byte

	// guards the single close of the send channel.
	closeOnce sync.Once

	// structured logger with client and room context.
	logger zerolog.Logger
}

// NewClient constructs and returns a new Client instance.
func NewClient(room *Room, wsConn *websocket.Conn, p player.Player) *Client {
	clientLogger := logx.Logger().With().
		Str("player_id", p.ID).
		Str("room_code", room.Code).
		Logger()

	return &Client{
		room:   room,
		conn:   wsConn,
		player: p,
		send:   make(chan []byte, 256),
		logger: clientLogger,
	}
}

// Player returns the identity bound to this connection.
func (c *Client) Player() player.Player {
	return c.player
}

// ReadPump handles reading messages from the WebSocket connection.
// It handles heartbeats (Pong), frame decoding, and performs cleanup upon connection closure.
func (c *Client) ReadPump() {
	defer c.cleanupOnDisconnect()

	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading message (Client close/going away)")
			}
			break
		}

		c.processInboundMessage(messageBytes)
	}
}

// cleanupOnDisconnect handles the necessary cleanup steps when the client's ReadPump terminates.
func (c *Client) cleanupOnDisconnect() {
	c.logger.Info().Msg("Client connection cleanup starting.")

	// notify the room to unregister the client
	select {
	case c.room.unregister <- c:
	default:
		c.logger.Warn().Msg("Room unregister channel blocked. Connection cleanup still proceeding.")
	}

	if err := c.conn.Close(); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		c.logger.Debug().Err(err).Msg("Client connection close error")
	}
}

// processInboundMessage decodes a raw client frame and queues it for the room loop.
// Application-level pings are answered here; everything else is serialized
// through the room so game state never races.
func (c *Client) processInboundMessage(messageBytes []byte) {
	var msg InboundMessage
	if err := json.Unmarshal(messageBytes, &msg); err != nil {
		c.logger.Warn().Err(err).
			Bytes("message_bytes", messageBytes).
			Msg("Client sent invalid JSON")
		return
	}

	switch msg.Type {
	case InPing:
		c.SendEvent(PongEvent{Type: EvtPong})

	case InDraw, InChat, InClear, InStartGame, InLeave, InKickRequest, InKickVote:
		select {
		case c.room.inbound <- inboundFrame{client: c, msg: msg}:
		default:
			c.logger.Warn().Str("msg_type", string(msg.Type)).Msg("Room inbound channel full, dropping frame")
		}

	default:
		c.logger.Warn().Str("msg_type", string(msg.Type)).Msg("Client sent unsupported message type")
	}
}

// WritePump handles writing messages from the Client.send channel to the WebSocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		// ensure the connection is closed on exit
		if err := c.conn.Close(); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			c.logger.Debug().Err(err).Msg("Client connection close error in WritePump")
		}
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !c.writeQueuedMessage(message, ok) {
				return
			}

		case <-ticker.C:
			if !c.writePingMessage() {
				return
			}
		}
	}
}

// writeQueuedMessage handles messages pulled from the send channel, writing them to the WebSocket.
// Returns true if the WritePump loop should continue, false if it should terminate.
func (c *Client) writeQueuedMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
			c.logger.Debug().Err(err).Msg("Error writing close message")
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		c.logger.Error().Err(err).Msg("Error writing message")
		return false
	}

	return true
}

// writePingMessage sends a periodic WebSocket Ping message to maintain the connection heartbeat.
// Returns false if the WritePump loop should terminate due to write failure.
func (c *Client) writePingMessage() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
		return false
	}

	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Error().Err(err).Msg("Error writing ping")
		return false
	}

	return true
}

// SendEvent marshals the event and attempts to queue it for this client.
func (c *Client) SendEvent(event any) error {
	messageBytes, err := json.Marshal(event)
	if err != nil {
		c.logger.Error().Err(err).Msg("Error marshaling event for client")
		return err
	}
	return c.enqueue(messageBytes)
}

// enqueue places a pre-marshaled event on the send channel without blocking.
func (c *Client) enqueue(messageBytes []byte) error {
	select {
	case c.send <- messageBytes:
		return nil
	default:
		c.logger.Warn().Int("queue_len", len(c.send)).Msg("Client send channel full, dropping message")
		return fmt.Errorf("client send queue full")
	}
}

// SendError constructs and sends an error event to the client.
func (c *Client) SendError(err error) {
	var code int
	var message string

	var customErr *errs.CustomError
	if errors.As(err, &customErr) {
		code = customErr.Code
		message = customErr.Message
	} else {
		code = errs.ErrUnknown
		message = "Something went wrong. Please try again."
	}

	if sendErr := c.SendEvent(ErrorEvent{Type: EvtError, Code: code, Message: message}); sendErr != nil {
		c.logger.Error().Err(sendErr).Msg("Failed to queue error event")
	}
}

// closeWith sends a WebSocket Close Frame with the given terminal code and
// reason, then shuts the client's send queue. Safe on test clients without a
// real connection.
func (c *Client) closeWith(code int, reason string) {
	c.logger.Info().
		Int("close_code", code).
		Str("reason", reason).
		Msg("Closing client connection.")

	if c.conn != nil {
		closeMessage := websocket.FormatCloseMessage(code, reason)

		c.conn.SetWriteDeadline(time.Now().Add(writeWait))

		if err := c.conn.WriteMessage(websocket.CloseMessage, closeMessage); err != nil {
			c.logger.Debug().Err(err).Msg("Failed to send close frame.")
		}
	}

	c.closeSend()
}

// closeSend closes the send channel exactly once.
func (c *Client) closeSend() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}
