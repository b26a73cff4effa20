package randx

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomCodeShape(t *testing.T) {
	t.Parallel()

	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		code, err := RoomCode()
		require.NoError(t, err)
		assert.Len(t, code, RoomCodeLength)
		for _, char := range code {
			assert.True(t, strings.ContainsRune(CodeChars, char), "unexpected character %q in %q", char, code)
		}
		seen[code] = struct{}{}
	}

	// 50 draws from a 36^6 space colliding would point at a broken generator.
	assert.Greater(t, len(seen), 1)
}

func TestIsValidRoomCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		code string
		want bool
	}{
		{"valid upper alnum", "A1B2C3", true},
		{"too short", "A1B2C", false},
		{"too long", "A1B2C3D", false},
		{"lowercase rejected", "a1b2c3", false},
		{"symbol rejected", "A1B2C!", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsValidRoomCode(tt.code))
		})
	}
}
