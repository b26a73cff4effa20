/*
Package handler provides the HTTP handler function for WebSocket connection upgrading and initialization.

This file contains the HandleWebSocket function, which is responsible for rate limiting,
upgrading the HTTP connection to WebSocket, validating the room access token against the
requested room, and initiating the client lifecycle. Validation failures after the upgrade
are reported with distinct close codes so clients can tell retryable drops from final ones.
*/
package handler

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"sketchroom/internal/app/game"
	"sketchroom/internal/app/player"
	"sketchroom/internal/pkg/auth/jwt"
	"sketchroom/internal/pkg/errs"
	"sketchroom/internal/pkg/limiter"
	"sketchroom/internal/pkg/logx"
	"sketchroom/internal/pkg/randx"
	"sketchroom/internal/pkg/resp"
)

// closeAndDrop writes a terminal close frame on a raw connection that never
// became a registered client.
func closeAndDrop(conn *websocket.Conn, code int, reason string) {
	message := websocket.FormatCloseMessage(code, reason)
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	conn.WriteMessage(websocket.CloseMessage, message)
	conn.Close()
}

// HandleWebSocket creates an HTTP HandlerFunc to process WebSocket connection requests.
func HandleWebSocket(upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter, deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if ip == "" {
			ip = "unknown_ip"
		}

		if !rateLimiter.GetLimiter(ip).Allow() {
			logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "ip", ip)
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		roomCode := chi.URLParam(r, "code")
		if !randx.IsValidRoomCode(roomCode) {
			logx.Warn("WebSocket request rejected: Invalid room code", "room_code", roomCode)
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		tokenString := jwt.TokenFromRequest(r)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		// identity and membership checks run after the upgrade so failures
		// reach the client as close codes rather than opaque handshake errors.
		if tokenString == "" {
			closeAndDrop(conn, game.CloseUnauthenticated, "Missing room access token.")
			return
		}

		payload, err := jwt.ParseToken(tokenString, deps.Config.JWTSecret)
		if err != nil {
			logx.Warn("WebSocket connection rejected: Invalid token", "room_code", roomCode)
			closeAndDrop(conn, game.CloseUnauthenticated, "Invalid or expired room access token.")
			return
		}

		if payload.Code != roomCode {
			logx.Warn("WebSocket connection rejected: Token not valid for room",
				"room_code", roomCode, "token_code", payload.Code)
			closeAndDrop(conn, game.CloseForbidden, "Token is not valid for this room.")
			return
		}

		room, err := deps.Manager.EnsureRoom(r.Context(), roomCode)
		if err != nil {
			var customErr *errs.CustomError
			if errors.As(err, &customErr) && customErr.Code == errs.ErrRoomNotFound {
				closeAndDrop(conn, game.CloseRoomNotFound, "Room does not exist.")
				return
			}

			logx.Error(err, "Failed to activate room for WebSocket connection", "room_code", roomCode)
			closeAndDrop(conn, websocket.CloseInternalServerErr, "")
			return
		}

		currentPlayer := player.Player{
			ID:     payload.ID,
			Name:   payload.Name,
			Avatar: payload.Avatar,
		}

		client := game.NewClient(room, conn, currentPlayer)

		go client.WritePump()

		logx.Info("WebSocket connection established and client registered",
			"player_id", client.Player().ID, "room_code", roomCode)

		room.RegisterClient(client)

		client.ReadPump()
	}
}
