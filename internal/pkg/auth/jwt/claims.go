package jwt

import "github.com/golang-jwt/jwt"

// Payload defines the structure of the JSON Web Token (JWT) claims for Sketchroom.
// It includes standard claims required by the JWT specification and custom claims
// necessary for identifying and authorizing players within the game system.
type Payload struct {
	// StandardClaims embeds the necessary JWT standard fields such as Exp (Expiration),
	// Iat (Issued At), and Iss (Issuer). These are crucial for token validity checks.
	jwt.StandardClaims `json:"standard_claims"`

	// ID is the unified identifier for the player, issued by the account/session service.
	ID string `json:"id"`

	// Code specifies the room the token holder is currently authorized to access.
	// A room access token is only minted after a successful join call, so holding
	// one is proof of room membership for the WebSocket handshake.
	Code string `json:"code"`

	// Name is the display name of the player carried into the room.
	Name string `json:"name"`

	// Avatar is the player's avatar descriptor.
	Avatar string `json:"avatar,omitempty"`

	// Role distinguishes regular players from administrative identities
	// (e.g., "player", "admin"). Admin tokens may close rooms.
	Role string `json:"role"`
}
