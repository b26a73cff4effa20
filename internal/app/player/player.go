/*
Package player contains core data structures related to player identity.

It defines the basic representation of a participant within the game system (the Player struct),
used for passing player information both internally and to clients.
*/
package player

// Player represents the basic identity information of a game participant.
// Fields use JSON tags for serialization in WebSocket messages.
type Player struct {

	// ID is the unique identifier for the player, issued by the account service.
	ID string `json:"id"`

	// Name is the display name of the player in the room.
	Name string `json:"name"`

	// Avatar is the player's avatar descriptor (opaque to the engine).
	Avatar string `json:"avatar,omitempty"`
}

// System is the sender identity used for engine-generated messages.
var System = Player{
	ID:   "system",
	Name: "System",
}
