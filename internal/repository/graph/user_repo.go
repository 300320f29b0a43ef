// Package graph implements repository.UserRepository on top of an indexed
// query engine. Accounts are nodes of type "user" found through the uri and
// email indexes.
package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/graph-accounts/internal/engine"
	"github.com/and161185/graph-accounts/internal/errs"
	"github.com/and161185/graph-accounts/internal/model"
	"github.com/and161185/graph-accounts/internal/repository"
	"github.com/and161185/graph-accounts/internal/uris"
)

// UserType is the type marker of account nodes.
const UserType = "user"

// Account node properties.
const (
	propURI                          = "uri"
	propUsername                     = "username"
	propEmail                        = "email"
	propPreferredLocales             = "preferredLocales"
	propCreationDate                 = "creationDate"
	propUpdateTime                   = "updateTime"
	propSalt                         = "salt"
	propPasswordHash                 = "passwordHash"
	propForgetPasswordToken          = "forgetPasswordToken"
	propChangePasswordExpirationDate = "changePasswordExpirationDate"
)

// accountFields are read back by every account lookup.
var accountFields = []string{
	propURI,
	propEmail,
	propPreferredLocales,
	propSalt,
	propPasswordHash,
	propCreationDate,
	propUpdateTime,
}

// UserRepo implements UserRepository against an engine.Engine.
type UserRepo struct {
	eng engine.Engine
	log *zap.Logger
	now func() time.Time
}

var _ repository.UserRepository = (*UserRepo)(nil)

// NewUserRepo constructs a user repository. A nil logger discards output.
func NewUserRepo(eng engine.Engine, log *zap.Logger) *UserRepo {
	if log == nil {
		log = zap.NewNop()
	}
	return &UserRepo{eng: eng, log: log, now: time.Now}
}

// CreateUser checks email then username uniqueness and writes the node.
// Storage-level constraints catch concurrent creations that slip past the checks.
func (r *UserRepo) CreateUser(ctx context.Context, a *model.Account) (*model.Account, error) {
	if strings.TrimSpace(a.Username) == "" {
		return nil, fmt.Errorf("%w: empty username", errs.ErrValidation)
	}
	if uris.UsernameFrom(uris.For(a.Username)) != a.Username {
		return nil, fmt.Errorf("%w: username %q does not map to its own uri", errs.ErrValidation, a.Username)
	}
	a.Email = strings.TrimSpace(a.Email)

	exists, err := r.EmailExists(ctx, a.Email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, &errs.ExistingUserError{Identifier: a.Email}
	}
	exists, err = r.UsernameExists(ctx, a.Username)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, &errs.ExistingUserError{Identifier: a.Username}
	}

	// an absent email must not collide with other accounts lacking one
	var email any
	if a.Email != "" {
		email = a.Email
	}
	now := r.now().UnixMilli()
	err = r.eng.Create(ctx, UserType,
		engine.Assignment{Field: propURI, Value: a.ID()},
		engine.Assignment{Field: propUsername, Value: a.Username},
		engine.Assignment{Field: propEmail, Value: email},
		engine.Assignment{Field: propPreferredLocales, Value: r.encodeLocales(a)},
		engine.Assignment{Field: propCreationDate, Value: now},
		engine.Assignment{Field: propUpdateTime, Value: now},
		engine.Assignment{Field: propSalt, Value: a.Salt()},
		engine.Assignment{Field: propPasswordHash, Value: a.PasswordHash()},
	)
	if errors.Is(err, errs.ErrAlreadyExists) {
		r.log.Warn("account uniqueness enforced by storage constraint",
			zap.String("username", a.Username),
			zap.Error(err),
		)
		id := a.Email
		if id == "" {
			id = a.Username
		}
		return nil, &errs.ExistingUserError{Identifier: id}
	}
	if err != nil {
		return nil, &errs.EngineError{Op: "create user", Err: err}
	}

	a.CreatedAt = time.UnixMilli(now)
	a.UpdatedAt = a.CreatedAt
	return a, nil
}

// FindByUsername loads an account through the uri index.
func (r *UserRepo) FindByUsername(ctx context.Context, username string) (*model.Account, error) {
	if strings.TrimSpace(username) == "" {
		return nil, &errs.NonExistingUserError{Identifier: username}
	}
	return r.findOne(ctx, byURI(uris.For(username)), username)
}

// FindByEmail loads an account through the email index.
func (r *UserRepo) FindByEmail(ctx context.Context, email string) (*model.Account, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, &errs.NonExistingUserError{Identifier: ""}
	}
	return r.findOne(ctx, byEmail(email), email)
}

// UsernameExists reports whether a node owns the username's uri.
func (r *UserRepo) UsernameExists(ctx context.Context, username string) (bool, error) {
	if strings.TrimSpace(username) == "" {
		return false, nil
	}
	rows, err := r.eng.Lookup(ctx, byURI(uris.For(username)), propEmail)
	if err != nil {
		return false, &errs.EngineError{Op: "username exists", Err: err}
	}
	return len(rows) > 0, nil
}

// EmailExists counts nodes owning email.
func (r *UserRepo) EmailExists(ctx context.Context, email string) (bool, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return false, nil
	}
	n, err := r.eng.Count(ctx, byEmail(email))
	if err != nil {
		return false, &errs.EngineError{Op: "email exists", Err: err}
	}
	return n != 0, nil
}

// GenerateForgetPasswordToken writes token and expiration in one update.
// The account is expected to exist; an update matching no node is reported
// as an engine failure wrapping errs.ErrNotFound.
func (r *UserRepo) GenerateForgetPasswordToken(ctx context.Context, a *model.Account, t model.ForgotPasswordToken) error {
	var exp any
	if !t.IsEmpty() {
		exp = t.ExpiresAt().UnixMilli()
	}
	uri := uris.For(a.Username)
	n, err := r.eng.Set(ctx, byURI(uri),
		engine.Assignment{Field: propForgetPasswordToken, Value: t.Token()},
		engine.Assignment{Field: propChangePasswordExpirationDate, Value: exp},
	)
	if err != nil {
		return &errs.EngineError{Op: "generate forget password token", Err: err}
	}
	if n == 0 {
		return &errs.EngineError{
			Op:  "generate forget password token",
			Err: fmt.Errorf("no node at %s: %w", uri, errs.ErrNotFound),
		}
	}
	return nil
}

// GetUserForgetPasswordToken returns the stored token, empty when unset.
// A missing account is reported as NonExistingUserError.
func (r *UserRepo) GetUserForgetPasswordToken(ctx context.Context, a *model.Account) (model.ForgotPasswordToken, error) {
	m := byURI(uris.For(a.Username))
	rows, err := r.eng.Lookup(ctx, m, propForgetPasswordToken, propChangePasswordExpirationDate)
	if err != nil {
		return model.ForgotPasswordToken{}, &errs.EngineError{Op: "get forget password token", Err: err}
	}
	row, err := r.single(m, rows, a.Username)
	if err != nil {
		return model.ForgotPasswordToken{}, err
	}

	token := row.String(propForgetPasswordToken)
	if strings.TrimSpace(token) == "" {
		return model.EmptyForgotPasswordToken(), nil
	}
	exp := time.UnixMilli(row.Int64(propChangePasswordExpirationDate))
	return model.NewForgotPasswordToken(token, exp), nil
}

// ChangePassword stores the account's credentials and invalidates any
// pending reset token in the same update.
func (r *UserRepo) ChangePassword(ctx context.Context, a *model.Account) error {
	_, err := r.eng.Set(ctx, byURI(uris.For(a.Username)),
		engine.Assignment{Field: propSalt, Value: a.Salt()},
		engine.Assignment{Field: propPasswordHash, Value: a.PasswordHash()},
		engine.Assignment{Field: propForgetPasswordToken, Value: ""},
		engine.Assignment{Field: propChangePasswordExpirationDate, Value: nil},
		engine.Assignment{Field: propUpdateTime, Value: r.now().UnixMilli()},
	)
	if err != nil {
		return &errs.EngineError{Op: "change password", Err: err}
	}
	return nil
}

// UpdatePreferredLocales stores the encoded locales on the node identified by a.ID().
func (r *UserRepo) UpdatePreferredLocales(ctx context.Context, a *model.Account) error {
	_, err := r.eng.Set(ctx, byURI(a.ID()),
		engine.Assignment{Field: propPreferredLocales, Value: r.encodeLocales(a)},
		engine.Assignment{Field: propUpdateTime, Value: r.now().UnixMilli()},
	)
	if err != nil {
		return &errs.EngineError{Op: "update preferred locales", Err: err}
	}
	return nil
}

// SearchUsers prefix-matches usernames. The requester must be an identified
// account; it does not narrow the result set.
func (r *UserRepo) SearchUsers(ctx context.Context, term string, requester *model.Account) ([]*model.Account, error) {
	if requester == nil || strings.TrimSpace(requester.Username) == "" {
		return nil, fmt.Errorf("search users: %w", errs.ErrUnauthorized)
	}

	m := byURI(uris.BaseURI + strings.TrimSpace(term))
	m.Prefix = true
	rows, err := r.eng.Lookup(ctx, m, propURI)
	if err != nil {
		return nil, &errs.EngineError{Op: "search users", Err: err}
	}

	out := make([]*model.Account, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		name := uris.UsernameFrom(row.String(propURI))
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, model.WithUsername(name))
	}
	return out, nil
}

func (r *UserRepo) findOne(ctx context.Context, m engine.Match, identifier string) (*model.Account, error) {
	rows, err := r.eng.Lookup(ctx, m, accountFields...)
	if err != nil {
		return nil, &errs.EngineError{Op: "find by " + string(m.Index), Err: err}
	}
	row, err := r.single(m, rows, identifier)
	if err != nil {
		return nil, err
	}
	return accountFromRow(row), nil
}

// single picks the authoritative row of a point lookup. Several rows mean a
// unique index was violated; the first one wins and the anomaly is logged.
func (r *UserRepo) single(m engine.Match, rows []engine.Row, identifier string) (engine.Row, error) {
	switch {
	case len(rows) == 0:
		return nil, &errs.NonExistingUserError{Identifier: identifier}
	case len(rows) > 1:
		r.log.Warn("unique index returned several nodes",
			zap.String("index", string(m.Index)),
			zap.String("key", m.Key),
			zap.Int("rows", len(rows)),
		)
	}
	return rows[0], nil
}

// encodeLocales returns the stored form of a's locales, logging tags that
// cannot be kept.
func (r *UserRepo) encodeLocales(a *model.Account) string {
	valid, invalid := model.SplitLocales(a.PreferredLocales)
	if len(invalid) > 0 {
		r.log.Warn("dropping unparseable locale tags",
			zap.String("username", a.Username),
			zap.Strings("tags", invalid),
		)
	}
	return model.EncodeLocales(valid)
}

func accountFromRow(row engine.Row) *model.Account {
	return model.Restore(model.StoredAccount{
		Username:         uris.UsernameFrom(row.String(propURI)),
		Email:            row.String(propEmail),
		PreferredLocales: row.String(propPreferredLocales),
		Salt:             row.String(propSalt),
		PasswordHash:     row.String(propPasswordHash),
		CreatedAt:        fromMillis(row.Int64(propCreationDate)),
		UpdatedAt:        fromMillis(row.Int64(propUpdateTime)),
	})
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func byURI(uri string) engine.Match {
	return engine.Match{Index: engine.URIIndex, Key: uri, Type: UserType}
}

func byEmail(email string) engine.Match {
	return engine.Match{Index: engine.EmailIndex, Key: email, Type: UserType}
}
