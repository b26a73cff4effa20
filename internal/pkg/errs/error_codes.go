/*
Package errs provides custom error types and application-level error code constants.

These error codes are used to clearly identify specific business or system errors
both internally within the server and in communication with clients.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body JSON format is incorrect (e.g., syntax error).
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates that the request body contained extra content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrRequestEntityTooLarge indicates that the request body size exceeded the server limit.
	ErrRequestEntityTooLarge = 1006

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007
)

// 2xxx: Room and Game Business Logic Errors
const (
	// ErrRoomVisibilityInvalid indicates that an invalid visibility was provided during room creation.
	ErrRoomVisibilityInvalid = 2101

	// ErrRoomCodeExists indicates that the attempted room code for creation already exists.
	ErrRoomCodeExists = 2102

	// ErrRoomNotFound indicates that the attempted room code for operation does not exist.
	ErrRoomNotFound = 2103

	// ErrRoomIsFull indicates that the room being joined has reached its maximum player capacity.
	ErrRoomIsFull = 2104

	// ErrRoomPasswordIncorrect indicates a wrong or missing password for a private room.
	ErrRoomPasswordIncorrect = 2105

	// ErrNotRoomMember indicates the player has no active membership in the room.
	ErrNotRoomMember = 2106

	// ErrMessageContentTooLong indicates that the chat message exceeded the maximum length limit.
	ErrMessageContentTooLong = 2201

	// ErrNotEnoughPlayers indicates a round cannot start with fewer than two players.
	ErrNotEnoughPlayers = 2301

	// ErrKickVoteInProgress indicates another kick vote is already running in the room.
	ErrKickVoteInProgress = 2401

	// ErrKickTargetInvalid indicates the kick target is not an active member (or is the requester).
	ErrKickTargetInvalid = 2402
)

// 3xxx: Session and Security Errors
const (
	// ErrUnauthorized indicates the request carried no valid identity.
	ErrUnauthorized = 3101

	// ErrForbidden indicates the identity is valid but not allowed to act on the room.
	ErrForbidden = 3102

	// ErrSessionReplaced indicates the connection was terminated by a newer one for the same player.
	ErrSessionReplaced = 3103
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrStoreConflict represents an unresolved concurrent mutation against the room store.
	ErrStoreConflict = 5001
)
