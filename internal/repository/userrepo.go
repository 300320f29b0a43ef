// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/graph-accounts/internal/model"
)

// UserRepository persists accounts and their credential/reset state.
type UserRepository interface {
	// CreateUser stores a new account after checking email and username uniqueness.
	CreateUser(ctx context.Context, a *model.Account) (*model.Account, error)
	// FindByUsername loads an account by username.
	FindByUsername(ctx context.Context, username string) (*model.Account, error)
	// FindByEmail loads an account by email.
	FindByEmail(ctx context.Context, email string) (*model.Account, error)
	// UsernameExists reports whether an account owns username.
	UsernameExists(ctx context.Context, username string) (bool, error)
	// EmailExists reports whether an account owns email.
	EmailExists(ctx context.Context, email string) (bool, error)
	// GenerateForgetPasswordToken stores an active reset token on the account.
	GenerateForgetPasswordToken(ctx context.Context, a *model.Account, t model.ForgotPasswordToken) error
	// GetUserForgetPasswordToken returns the account's reset token, possibly empty.
	GetUserForgetPasswordToken(ctx context.Context, a *model.Account) (model.ForgotPasswordToken, error)
	// ChangePassword stores new credentials and clears any reset token.
	ChangePassword(ctx context.Context, a *model.Account) error
	// UpdatePreferredLocales stores the account's locale preferences.
	UpdatePreferredLocales(ctx context.Context, a *model.Account) error
	// SearchUsers returns accounts (username only) whose username starts with term.
	SearchUsers(ctx context.Context, term string, requester *model.Account) ([]*model.Account, error)
}
