/*
Package errs provides custom error types and application-level error code constants.

This file defines the map from error codes to the CustomError struct, used to standardize
HTTP responses and internal error handling.
*/
package errs

import "net/http"

// errorMap stores the detailed CustomError struct corresponding to every application error code.
// The key is the error code (int), and the value contains the user message and HTTP status code.
var errorMap = map[int]CustomError{
	// 1xxx: General Request Handling Errors
	ErrInvalidParams:         {Code: ErrInvalidParams, Message: "Invalid request parameters.", Status: http.StatusBadRequest},
	ErrUnsupportedMediaType:  {Code: ErrUnsupportedMediaType, Message: "Unsupported request format.", Status: http.StatusBadRequest},
	ErrInvalidJSONFormat:     {Code: ErrInvalidJSONFormat, Message: "Unsupported request format.", Status: http.StatusBadRequest},
	ErrExtraContentInBody:    {Code: ErrExtraContentInBody, Message: "Request contains unexpected data.", Status: http.StatusBadRequest},
	ErrRequestEntityTooLarge: {Code: ErrRequestEntityTooLarge, Message: "Request size is too large.", Status: http.StatusBadRequest},
	ErrRateLimitExceeded:     {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},

	// 2xxx: Room and Game Business Logic Errors
	ErrRoomVisibilityInvalid: {Code: ErrRoomVisibilityInvalid, Message: "Invalid room visibility.", Status: http.StatusBadRequest},
	ErrRoomCodeExists:        {Code: ErrRoomCodeExists, Message: "Room code already exists."},
	ErrRoomNotFound:          {Code: ErrRoomNotFound, Message: "Room not found.", Status: http.StatusNotFound},
	ErrRoomIsFull:            {Code: ErrRoomIsFull, Message: "This room is full.", Status: http.StatusBadRequest},
	ErrRoomPasswordIncorrect: {Code: ErrRoomPasswordIncorrect, Message: "Room password is incorrect.", Status: http.StatusForbidden},
	ErrNotRoomMember:         {Code: ErrNotRoomMember, Message: "You are not a member of this room.", Status: http.StatusForbidden},
	ErrMessageContentTooLong: {Code: ErrMessageContentTooLong, Message: "Message is too long."},
	ErrNotEnoughPlayers:      {Code: ErrNotEnoughPlayers, Message: "Need at least 2 players to start."},
	ErrKickVoteInProgress:    {Code: ErrKickVoteInProgress, Message: "Kick vote already in progress."},
	ErrKickTargetInvalid:     {Code: ErrKickTargetInvalid, Message: "That player cannot be voted on."},

	// 3xxx: Session and Security Errors
	ErrUnauthorized:    {Code: ErrUnauthorized, Message: "Please sign in to continue.", Status: http.StatusUnauthorized},
	ErrForbidden:       {Code: ErrForbidden, Message: "You are not allowed to do that.", Status: http.StatusForbidden},
	ErrSessionReplaced: {Code: ErrSessionReplaced, Message: "You connected from another tab or device."},

	// 5xxx: Internal System Errors
	ErrUnknown:       {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
	ErrStoreConflict: {Code: ErrStoreConflict, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
}
