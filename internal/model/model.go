// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/and161185/graph-accounts/internal/crypto"
	"github.com/and161185/graph-accounts/internal/uris"
)

// Tokens collects issued access tokens.
type Tokens struct {
	AccessToken string
	ExpiresAt   time.Time // access token expiry (for diagnostics)
}

// Account is a user account persisted as a graph node. Credential material is
// readable through Salt and PasswordHash but only writable via SetPassword or
// Restore.
type Account struct {
	Username         string // unique, may be generated on registration
	Email            string // unique when non-empty
	PreferredLocales []string
	CreatedAt        time.Time
	UpdatedAt        time.Time

	salt         string
	passwordHash string
}

// NewAccount returns an account with the given identity and no credentials.
func NewAccount(username, email string) *Account {
	return &Account{Username: username, Email: email}
}

// WithUsername returns an account carrying only a username.
func WithUsername(username string) *Account {
	return &Account{Username: username}
}

// StoredAccount is an account as read back from storage.
type StoredAccount struct {
	Username         string
	Email            string
	PreferredLocales string // encoded, see EncodeLocales
	Salt             string
	PasswordHash     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Restore rebuilds an account from storage, assigning credential material
// verbatim. Only storage adapters should call it.
func Restore(s StoredAccount) *Account {
	a := NewAccount(s.Username, s.Email)
	a.PreferredLocales = ParseLocales(s.PreferredLocales)
	a.CreatedAt = s.CreatedAt
	a.UpdatedAt = s.UpdatedAt
	a.salt = s.Salt
	a.passwordHash = s.PasswordHash
	return a
}

// ID returns the canonical uri of the account.
func (a *Account) ID() string { return uris.For(a.Username) }

// Salt returns the stored password salt.
func (a *Account) Salt() string { return a.salt }

// PasswordHash returns the stored password hash.
func (a *Account) PasswordHash() string { return a.passwordHash }

// SetPassword replaces the credentials with a fresh salt and hash of password.
func (a *Account) SetPassword(password string) error {
	salt, hash, err := crypto.NewSaltedHash(password)
	if err != nil {
		return err
	}
	a.salt, a.passwordHash = salt, hash
	return nil
}

// HasPassword reports whether password matches the stored credentials.
func (a *Account) HasPassword(password string) bool {
	return crypto.VerifyEncoded(password, a.salt, a.passwordHash)
}

// SetPreferredLocales canonicalizes and stores locale tags. It returns the
// tags that were dropped because they do not parse.
func (a *Account) SetPreferredLocales(tags ...string) (dropped []string) {
	a.PreferredLocales, dropped = SplitLocales(tags)
	return dropped
}

// PreferredLocalesString returns the encoded locale list as stored on the node.
func (a *Account) PreferredLocalesString() string {
	return EncodeLocales(a.PreferredLocales)
}
