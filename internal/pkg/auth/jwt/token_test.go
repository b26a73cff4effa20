package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParseToken(t *testing.T) {
	t.Parallel()

	payload := &Payload{
		ID:     "p1",
		Code:   "A1B2C3",
		Name:   "Ada",
		Avatar: "cat",
		Role:   "player",
	}

	token, err := GenerateToken(payload, "secret", time.Hour)
	require.NoError(t, err)

	parsed, err := ParseToken(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, "p1", parsed.ID)
	assert.Equal(t, "A1B2C3", parsed.Code)
	assert.Equal(t, "Ada", parsed.Name)
	assert.Equal(t, "player", parsed.Role)
	assert.Equal(t, TokenIssuer, parsed.Issuer)
}

func TestParseTokenWrongSecret(t *testing.T) {
	t.Parallel()

	token, err := GenerateToken(&Payload{ID: "p1", Code: "A1B2C3"}, "secret", time.Hour)
	require.NoError(t, err)

	_, err = ParseToken(token, "other-secret")
	assert.Error(t, err)
}

func TestParseTokenExpired(t *testing.T) {
	t.Parallel()

	token, err := GenerateToken(&Payload{ID: "p1", Code: "A1B2C3"}, "secret", -time.Minute)
	require.NoError(t, err)

	_, err = ParseToken(token, "secret")
	assert.Error(t, err)
}

func TestParseTokenGarbage(t *testing.T) {
	t.Parallel()

	_, err := ParseToken("not-a-token", "secret")
	assert.Error(t, err)
}
