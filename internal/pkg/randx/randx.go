/*
Package randx provides functions for generating cryptographically secure random numbers and unique identifiers.

It is primarily used to generate fixed-length room codes and standard UUID event IDs.
*/
package randx

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const (
	// CodeChars defines the character set used for room codes (0-9, A-Z).
	// Lowercase is excluded so codes can be read aloud without ambiguity.
	CodeChars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

	// CodeCharsLen is the total number of characters in the room code character set.
	CodeCharsLen = int64(len(CodeChars))

	// RoomCodeLength is the fixed length required for the generated room code.
	RoomCodeLength = 6
)

// RoomCode generates a room code using a cryptographically secure random number generator (crypto/rand).
// It returns a string of length RoomCodeLength and any error encountered.
func RoomCode() (string, error) {
	result := make([]byte, RoomCodeLength)

	for i := 0; i < RoomCodeLength; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(CodeCharsLen))
		if err != nil {
			return "", fmt.Errorf("failed to generate random number for room code: %v", err)
		}

		result[i] = CodeChars[num.Int64()]
	}

	return string(result), nil
}

// EventID generates a standard UUID v4 string to serve as a unique identifier for a broadcast event.
func EventID() string {
	return uuid.New().String()
}

// IsValidRoomCode checks if the given string is a valid room code.
// Validity criteria include: length equals RoomCodeLength and all characters belong to the CodeChars set.
func IsValidRoomCode(code string) bool {
	if len(code) != RoomCodeLength {
		return false
	}

	for _, char := range code {
		if !strings.ContainsRune(CodeChars, char) {
			return false
		}
	}

	return true
}
