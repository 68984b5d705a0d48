package services

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource supplies the bearer token sent with every Tutor API request.
type TokenSource interface {
	Token() (string, error)
}

var (
	// ErrNoToken is returned when no bearer token was configured.
	ErrNoToken = errors.New("no api token configured")
	// ErrTokenExpired is returned when the configured token is a JWT past its expiry.
	ErrTokenExpired = errors.New("api token expired")
)

// StaticToken is a TokenSource for a token obtained out of band, typically from the login flow of the
// platform. JWTs are checked for expiry before use, opaque tokens are passed through untouched.
type StaticToken struct {
	token string
	now   func() time.Time
}

// NewStaticToken creates a StaticToken for the given token.
func NewStaticToken(token string) StaticToken {
	return StaticToken{
		token: strings.TrimSpace(token),
		now:   time.Now,
	}
}

// Token implements TokenSource.
func (s StaticToken) Token() (string, error) {
	if s.token == "" {
		return "", ErrNoToken
	}
	if strings.Count(s.token, ".") != 2 {
		return s.token, nil
	}

	// The signature can only be verified by the platform, we only look at the claims.
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(s.token, &claims); err != nil {
		return s.token, nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return s.token, nil
	}
	if !s.now().Before(exp.Time) {
		return "", ErrTokenExpired
	}
	return s.token, nil
}

// ExpiresAt reports the expiry of the token if it is a JWT carrying one.
func (s StaticToken) ExpiresAt() (time.Time, bool) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(s.token, &claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
