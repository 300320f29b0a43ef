package model

import (
	"crypto/subtle"
	"time"
)

// ForgotPasswordToken is either empty (no reset in progress) or active,
// carrying a token and the instant it stops being accepted.
type ForgotPasswordToken struct {
	token     string
	expiresAt time.Time
}

// EmptyForgotPasswordToken returns the inactive token.
func EmptyForgotPasswordToken() ForgotPasswordToken { return ForgotPasswordToken{} }

// NewForgotPasswordToken returns an active token. An empty token string yields
// the inactive token.
func NewForgotPasswordToken(token string, expiresAt time.Time) ForgotPasswordToken {
	if token == "" {
		return ForgotPasswordToken{}
	}
	return ForgotPasswordToken{token: token, expiresAt: expiresAt}
}

// IsEmpty reports whether no reset is in progress.
func (t ForgotPasswordToken) IsEmpty() bool { return t.token == "" }

// Token returns the token string, "" when empty.
func (t ForgotPasswordToken) Token() string { return t.token }

// ExpiresAt returns the expiration instant, zero when empty.
func (t ForgotPasswordToken) ExpiresAt() time.Time { return t.expiresAt }

// IsExpired reports whether the token is no longer accepted at now.
// Empty tokens are always expired.
func (t ForgotPasswordToken) IsExpired(now time.Time) bool {
	return t.IsEmpty() || !now.Before(t.expiresAt)
}

// Matches reports whether candidate equals an unexpired active token.
func (t ForgotPasswordToken) Matches(candidate string, now time.Time) bool {
	if t.IsExpired(now) || candidate == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(t.token), []byte(candidate)) == 1
}
