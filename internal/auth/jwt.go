package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the payload inside every JWT token.
//
// When a user logs in, we create a token containing these fields.
// On every subsequent request — HTTP or the WebSocket upgrade — the
// server reads the token back and extracts these claims. This is how
// the server knows WHO is on the wire without hitting the database.
//
// Why embed jwt.RegisteredClaims?
//   - It gives us standard JWT fields for free: ExpiresAt, IssuedAt, Issuer.
//   - We add our custom fields (UserID, TenantID, Email) on top.
type Claims struct {
	UserID   uuid.UUID `json:"user_id"`
	TenantID uuid.UUID `json:"tenant_id"`
	Email    string    `json:"email"`
	jwt.RegisteredClaims
}

// Identity is the resolved result of verifying a bearer credential.
// The realtime core never sees the raw token past this point — only
// who the connection belongs to.
type Identity struct {
	UserID   uuid.UUID
	TenantID uuid.UUID
	Email    string
}

// Verifier is the narrow credential-check collaborator consumed by the
// WebSocket handshake. It exists as an interface so the realtime core
// does not depend on how tokens are issued, and so tests can stub it.
type Verifier interface {
	Verify(token string) (Identity, error)
}

// HMACVerifier validates tokens signed with the shared HS256 secret —
// the same verification rule the HTTP middleware applies.
type HMACVerifier struct {
	Secret string
}

func (v HMACVerifier) Verify(token string) (Identity, error) {
	claims, err := ParseToken(token, v.Secret)
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: claims.UserID, TenantID: claims.TenantID, Email: claims.Email}, nil
}

// GenerateToken creates a signed JWT for a given user.
//
// Why HS256 (HMAC-SHA256)?
//   - Simple: one shared secret, no public/private key pair needed.
//   - Fine for a single-service backend. If separate services needed to
//     VERIFY but not ISSUE tokens, we'd switch to RS256.
func GenerateToken(userID, tenantID uuid.UUID, email, secret string, ttl time.Duration) (string, error) {
	now := time.Now()

	claims := Claims{
		UserID:   userID,
		TenantID: tenantID,
		Email:    email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "ripple",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}

// ParseToken validates a JWT string and extracts the claims.
//
// It verifies:
//  1. The signature matches our secret (not tampered with).
//  2. The token hasn't expired (ExpiresAt is in the future).
//  3. The signing method is HMAC (prevents algorithm-switching attacks).
func ParseToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{},
		func(token *jwt.Token) (any, error) {
			// Called BEFORE signature verification. If someone sends a
			// token signed with "none" or RSA, reject it immediately —
			// the classic JWT algorithm-confusion attack.
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(secret), nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}
