/*
Package handler provides HTTP handler functions for room lifecycle management:
creation, discovery, joining, leaving, and administrative close.
*/
package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"sketchroom/internal/app/player"
	"sketchroom/internal/pkg/auth/jwt"
	"sketchroom/internal/pkg/errs"
	"sketchroom/internal/pkg/logx"
	"sketchroom/internal/pkg/randx"
	"sketchroom/internal/pkg/req"
	"sketchroom/internal/pkg/resp"
)

// asCustomError maps any error onto the wire error model.
func asCustomError(err error) *errs.CustomError {
	var customErr *errs.CustomError
	if errors.As(err, &customErr) {
		return customErr
	}
	return errs.NewError(errs.ErrUnknown)
}

// identityFromRequest builds the player identity for room operations. A signed
// token wins; anonymous callers must supply a client-generated id and name.
func identityFromRequest(r *http.Request, id, name, avatar string) (player.Player, *errs.CustomError) {
	if payload := jwt.GetPayloadFromContext(r); payload != nil {
		return player.Player{ID: payload.ID, Name: payload.Name, Avatar: payload.Avatar}, nil
	}

	if id == "" || name == "" {
		return player.Player{}, errs.NewError(errs.ErrInvalidParams, "player id and name are required")
	}

	return player.Player{ID: id, Name: name, Avatar: avatar}, nil
}

type CreateRoomInput struct {
	// Visibility is either "public" or "private"; private rooms require a password.
	Visibility string `json:"visibility"`
	Password   string `json:"password,omitempty"`

	PlayerID string `json:"playerId,omitempty"`
	Name     string `json:"name,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// HandleCreateRoom creates an HTTP HandlerFunc to process room creation requests.
func HandleCreateRoom(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input CreateRoomInput

		if customErr := req.BindJSON(r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		var isPrivate bool
		switch input.Visibility {
		case "public":
			isPrivate = false
		case "private":
			isPrivate = true
		default:
			resp.RespondError(w, r, errs.NewError(errs.ErrRoomVisibilityInvalid))
			return
		}

		creator, customErr := identityFromRequest(r, input.PlayerID, input.Name, input.Avatar)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		code, token, err := deps.Manager.CreateRoom(r.Context(), creator, isPrivate, input.Password)
		if err != nil {
			logx.Error(err, "Failed to create room", "player_id", creator.ID)
			resp.RespondError(w, r, asCustomError(err))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"roomCode": code,
			"token":    token,
		})
	}
}

type JoinRoomInput struct {
	Code     string `json:"code" validate:"required"`
	Password string `json:"password,omitempty"`

	PlayerID string `json:"playerId,omitempty"`
	Name     string `json:"name,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// HandleJoinRoom processes the request to join a room. On success it responds
// with the room access token used in the WebSocket handshake.
func HandleJoinRoom(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input JoinRoomInput
		if customErr := req.BindJSON(r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if !randx.IsValidRoomCode(input.Code) {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		joiner, customErr := identityFromRequest(r, input.PlayerID, input.Name, input.Avatar)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		token, err := deps.Manager.JoinRoom(r.Context(), input.Code, joiner, input.Password)
		if err != nil {
			resp.RespondError(w, r, asCustomError(err))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"token": token,
		})
	}
}

type LeaveRoomInput struct {
	Code string `json:"code" validate:"required"`
}

// HandleLeaveRoom removes the caller's membership immediately, without the
// disconnect grace the socket path gets. Requires a room access token.
func HandleLeaveRoom(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := jwt.GetPayloadFromContext(r)
		if payload == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		var input LeaveRoomInput
		if customErr := req.BindJSON(r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if payload.Code != input.Code {
			resp.RespondError(w, r, errs.NewError(errs.ErrForbidden))
			return
		}

		if err := deps.Manager.LeaveRoom(r.Context(), input.Code, payload.ID); err != nil {
			resp.RespondError(w, r, asCustomError(err))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"left": true,
		})
	}
}

// HandleListRooms returns the lobby discovery view: every room with its
// occupancy, capacity, and privacy flag.
func HandleListRooms(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summaries, err := deps.Manager.RoomSummaries(r.Context())
		if err != nil {
			logx.Error(err, "Failed to list rooms")
			resp.RespondError(w, r, asCustomError(err))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"rooms": summaries,
		})
	}
}

type AdminCloseInput struct {
	Reason string `json:"reason,omitempty"`
}

// HandleAdminCloseRoom terminates a room on administrative request. Every
// connected member is notified and disconnected; the room is purged.
func HandleAdminCloseRoom(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := jwt.GetPayloadFromContext(r)
		if payload == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}
		if payload.Role != "admin" {
			resp.RespondError(w, r, errs.NewError(errs.ErrForbidden))
			return
		}

		code := chi.URLParam(r, "code")
		if !randx.IsValidRoomCode(code) {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		// the reason body is optional.
		var input AdminCloseInput
		if r.ContentLength > 0 {
			if customErr := req.BindJSON(r, &input); customErr != nil {
				resp.RespondError(w, r, customErr)
				return
			}
		}

		reason := input.Reason
		if reason == "" {
			reason = "Room closed by administrator."
		}

		if err := deps.Manager.CloseRoom(r.Context(), code, reason); err != nil {
			resp.RespondError(w, r, asCustomError(err))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"closed": true,
		})
	}
}
