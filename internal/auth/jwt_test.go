package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	userID, tenantID := uuid.New(), uuid.New()

	token, err := GenerateToken(userID, tenantID, "alice@example.com", "secret", time.Hour)
	require.NoError(t, err)

	claims, err := ParseToken(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, tenantID, claims.TenantID)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, "ripple", claims.Issuer)
}

func TestParseTokenWrongSecret(t *testing.T) {
	token, err := GenerateToken(uuid.New(), uuid.New(), "a@b.c", "secret", time.Hour)
	require.NoError(t, err)

	_, err = ParseToken(token, "other-secret")
	assert.Error(t, err)
}

func TestParseTokenExpired(t *testing.T) {
	token, err := GenerateToken(uuid.New(), uuid.New(), "a@b.c", "secret", -time.Minute)
	require.NoError(t, err)

	_, err = ParseToken(token, "secret")
	assert.Error(t, err)
}

func TestParseTokenGarbage(t *testing.T) {
	_, err := ParseToken("definitely.not.ajwt", "secret")
	assert.Error(t, err)
}

func TestHMACVerifier(t *testing.T) {
	userID, tenantID := uuid.New(), uuid.New()
	token, err := GenerateToken(userID, tenantID, "alice@example.com", "secret", time.Hour)
	require.NoError(t, err)

	v := HMACVerifier{Secret: "secret"}

	identity, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, userID, identity.UserID)
	assert.Equal(t, tenantID, identity.TenantID)
	assert.Equal(t, "alice@example.com", identity.Email)

	_, err = v.Verify("")
	assert.Error(t, err, "an absent credential never verifies")
}
