// Package auth implements the identity exchange against Discord and the
// HS256 session tokens data endpoints trust.
//
// The signing secret is shared with the database's policy engine so
// row-level policies can evaluate claims directly; it never leaves the
// server side.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Access levels carried in the access_level claim.
const (
	AccessUser  = "user"
	AccessAdmin = "admin"
)

// Principal is the authenticated subject derived from a session token.
type Principal struct {
	SubjectID   string    // discord_id claim
	AccessLevel string    // "user" or "admin"
	ExpiresAt   time.Time
}

// IsAdmin reports whether the principal holds admin access.
func (p Principal) IsAdmin() bool {
	return p.AccessLevel == AccessAdmin
}

// SessionClaims is the full claim set minted for a session.
type SessionClaims struct {
	jwt.RegisteredClaims
	Role         string         `json:"role"`
	Email        string         `json:"email"`
	Phone        string         `json:"phone"`
	DiscordID    string         `json:"discord_id"`
	AccessLevel  string         `json:"access_level"`
	AppMetadata  map[string]any `json:"app_metadata"`
	UserMetadata map[string]any `json:"user_metadata"`
}

// TokenManager mints and verifies HS256 session tokens.
type TokenManager struct {
	secret   []byte
	issuer   string
	lifetime time.Duration
}

// NewTokenManager creates a TokenManager. The issuer is derived from the
// configured Supabase URL so database policies accept the tokens.
func NewTokenManager(secret, supabaseURL string, lifetime time.Duration) *TokenManager {
	return &TokenManager{
		secret:   []byte(secret),
		issuer:   supabaseURL + "/auth/v1",
		lifetime: lifetime,
	}
}

// Mint signs a session token for the given Discord user.
func (m *TokenManager) Mint(user User, accessLevel string, now time.Time) (string, time.Time, error) {
	now = now.UTC()
	exp := now.Add(m.lifetime)

	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   user.ID,
			Audience:  jwt.ClaimStrings{"authenticated"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Role:        "authenticated",
		Email:       "",
		Phone:       "",
		DiscordID:   user.ID,
		AccessLevel: accessLevel,
		AppMetadata: map[string]any{
			"provider":  "discord",
			"providers": []string{"discord"},
		},
		UserMetadata: map[string]any{
			"discord_id":  user.ID,
			"username":    user.Username,
			"global_name": user.GlobalName,
			"avatar":      user.Avatar,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign session token: %w", err)
	}
	return signed, exp, nil
}

// Verify parses and validates a session token, returning the principal.
// Expired and wrongly-signed tokens are rejected.
func (m *TokenManager) Verify(tokenStr string) (Principal, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&SessionClaims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return m.secret, nil
		},
		jwt.WithAudience("authenticated"),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Principal{}, fmt.Errorf("auth: validate session token: %w", err)
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return Principal{}, fmt.Errorf("auth: invalid token claims")
	}

	level := claims.AccessLevel
	if level != AccessAdmin {
		level = AccessUser
	}

	subject := claims.DiscordID
	if subject == "" {
		subject = claims.Subject
	}

	return Principal{
		SubjectID:   subject,
		AccessLevel: level,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}
