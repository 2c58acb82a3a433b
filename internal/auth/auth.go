// Package auth implements the identity collaborator: HMAC-signed login
// tokens (carried by magic links whose delivery lives elsewhere) and the
// session cookie the feed reads the current viewer from.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

const (
	purposeLogin   = "login"
	purposeSession = "session"

	// LoginTokenTTL bounds how long a magic link stays usable.
	LoginTokenTTL = 15 * time.Minute
)

type claims struct {
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// Manager signs and verifies the two token kinds with one shared secret.
type Manager struct {
	secret     []byte
	sessionTTL time.Duration
}

func NewManager(secret string, sessionTTL time.Duration) *Manager {
	return &Manager{secret: []byte(secret), sessionTTL: sessionTTL}
}

// MintLoginToken issues a short-lived token for the given email, to be
// embedded in a magic link by the email collaborator.
func (m *Manager) MintLoginToken(email string) (string, error) {
	return m.mint(email, purposeLogin, LoginTokenTTL)
}

// VerifyLoginToken returns the email a login token was minted for.
func (m *Manager) VerifyLoginToken(token string) (string, error) {
	return m.verify(token, purposeLogin)
}

// MintSession issues the long-lived cookie token for a verified viewer.
func (m *Manager) MintSession(email string) (string, error) {
	return m.mint(email, purposeSession, m.sessionTTL)
}

// VerifySession returns the email behind a session cookie. Callers treat
// failure as "anonymous viewer", never as a request error.
func (m *Manager) VerifySession(token string) (string, error) {
	return m.verify(token, purposeSession)
}

func (m *Manager) mint(email, purpose string, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.secret)
}

func (m *Manager) verify(token, purpose string) (string, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	})
	if err != nil || !parsed.Valid || c.Purpose != purpose || c.Subject == "" {
		return "", ErrInvalidToken
	}
	return c.Subject, nil
}
