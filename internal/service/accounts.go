// Package service contains the account application service.
package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/and161185/graph-accounts/internal/errs"
	"github.com/and161185/graph-accounts/internal/limiter"
	"github.com/and161185/graph-accounts/internal/model"
	"github.com/and161185/graph-accounts/internal/repository"
)

// AccountService defines registration, authentication and account upkeep.
type AccountService interface {
	// Register creates an account, generating a username when none is given.
	Register(ctx context.Context, username, email, password string, locales []string) (*model.Account, error)
	// LoginWithIP applies rate-limiting and authenticates by email.
	LoginWithIP(ctx context.Context, email, password, ip string) (model.Tokens, *model.Account, error)
	// VerifyAccessToken returns the username an access token was issued to.
	VerifyAccessToken(token string) (string, error)
	// RequestPasswordReset stores a fresh reset token and returns it for delivery.
	RequestPasswordReset(ctx context.Context, email, ip string) (model.ForgotPasswordToken, error)
	// ResetPassword replaces the password when token is the pending reset token.
	ResetPassword(ctx context.Context, email, token, newPassword string) error
	// UpdateLocales replaces an account's preferred locales.
	UpdateLocales(ctx context.Context, username string, locales []string) (*model.Account, error)
	// Search lists usernames starting with term on behalf of requester.
	Search(ctx context.Context, term, requester string) ([]*model.Account, error)
}

// Options tunes AccountServiceImpl.
type Options struct {
	SignKey   []byte
	AccessTTL time.Duration
	ResetTTL  time.Duration
}

// maxUsernameAttempts bounds suffixes tried when generating a username.
const maxUsernameAttempts = 100

var (
	usernameRe = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)
	unsafeRe   = regexp.MustCompile(`[^a-z0-9._-]+`)
	validate   = newValidator()
)

type registration struct {
	Username string `validate:"omitempty,username"`
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernameRe.MatchString(fl.Field().String())
	})
	return v
}

// validationError flattens validator output into an ErrValidation.
func validationError(err error) error {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return fmt.Errorf("%w: %v", errs.ErrValidation, err)
	}
	parts := make([]string, 0, len(ves))
	for _, fe := range ves {
		parts = append(parts, strings.ToLower(fe.Field())+" "+fe.Tag())
	}
	return fmt.Errorf("%w: %s", errs.ErrValidation, strings.Join(parts, ", "))
}

type AccountServiceImpl struct {
	users repository.UserRepository
	lim   limiter.Limiter
	opts  Options
	log   *zap.Logger
	now   func() time.Time
}

var _ AccountService = (*AccountServiceImpl)(nil)

// NewAccountService constructs AccountService with required dependencies.
// A nil limiter never blocks and a nil logger discards output.
func NewAccountService(users repository.UserRepository, lim limiter.Limiter, opts Options, log *zap.Logger) *AccountServiceImpl {
	if lim == nil {
		lim = limiter.Noop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AccountServiceImpl{users: users, lim: lim, opts: opts, log: log, now: time.Now}
}

// Register validates input, hashes the password and stores the account.
func (s *AccountServiceImpl) Register(ctx context.Context, username, email, password string, locales []string) (*model.Account, error) {
	email = strings.TrimSpace(email)
	username = strings.TrimSpace(username)
	if err := validate.Struct(registration{Username: username, Email: email, Password: password}); err != nil {
		return nil, validationError(err)
	}

	if username == "" {
		generated, err := s.generateUsername(ctx, email)
		if err != nil {
			return nil, err
		}
		username = generated
	}

	a := model.NewAccount(username, email)
	if err := a.SetPassword(password); err != nil {
		return nil, err
	}
	if dropped := a.SetPreferredLocales(locales...); len(dropped) > 0 {
		s.log.Warn("ignoring unparseable locale tags",
			zap.String("username", a.Username),
			zap.Strings("tags", dropped),
		)
	}

	created, err := s.users.CreateUser(ctx, a)
	if err != nil {
		return nil, err
	}
	s.log.Info("account registered", zap.String("username", created.Username))
	return created, nil
}

// generateUsername derives a free username from the email's local part,
// appending a numeric suffix until one is unused.
func (s *AccountServiceImpl) generateUsername(ctx context.Context, email string) (string, error) {
	local, _, _ := strings.Cut(email, "@")
	base := strings.Trim(unsafeRe.ReplaceAllString(strings.ToLower(local), ""), ".-_")
	if base == "" {
		base = "user"
	}
	if len(base) > 60 {
		base = base[:60]
	}

	for i := 0; i < maxUsernameAttempts; i++ {
		candidate := base
		if i > 0 {
			candidate = base + strconv.Itoa(i)
		}
		taken, err := s.users.UsernameExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free username for %q: %w", base, errs.ErrAlreadyExists)
}

// LoginWithIP authenticates with rate limiting by (email, ip).
func (s *AccountServiceImpl) LoginWithIP(ctx context.Context, email, password, ip string) (model.Tokens, *model.Account, error) {
	ipHash := limiter.HashIP(ip)
	subject := "login:" + strings.TrimSpace(email)

	allowed, _, err := s.lim.Allow(ctx, subject, ipHash)
	if err != nil {
		return model.Tokens{}, nil, err
	}
	if !allowed {
		return model.Tokens{}, nil, errs.ErrRateLimited
	}

	a, err := s.users.FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return model.Tokens{}, nil, err
	}
	if err != nil || !a.HasPassword(password) {
		if blocked, _, ferr := s.lim.Failure(ctx, subject, ipHash); ferr != nil {
			s.log.Warn("limiter failure not recorded", zap.Error(ferr))
		} else if blocked {
			return model.Tokens{}, nil, errs.ErrRateLimited
		}
		// missing account and wrong password look the same
		return model.Tokens{}, nil, errs.ErrUnauthorized
	}

	if err := s.lim.Success(ctx, subject, ipHash); err != nil {
		s.log.Warn("limiter reset failed", zap.Error(err))
	}

	access, exp, err := s.issueAccessToken(a.Username)
	if err != nil {
		return model.Tokens{}, nil, err
	}
	return model.Tokens{AccessToken: access, ExpiresAt: exp}, a, nil
}

// issueAccessToken creates a signed HS256 JWT for the given subject.
func (s *AccountServiceImpl) issueAccessToken(username string) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.opts.AccessTTL)
	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.opts.SignKey)
	return signed, exp, err
}

// VerifyAccessToken checks signature and expiry and returns the subject.
func (s *AccountServiceImpl) VerifyAccessToken(token string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.opts.SignKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || claims.Subject == "" {
		return "", errs.ErrUnauthorized
	}
	return claims.Subject, nil
}

// RequestPasswordReset issues a reset token valid for ResetTTL.
func (s *AccountServiceImpl) RequestPasswordReset(ctx context.Context, email, ip string) (model.ForgotPasswordToken, error) {
	ipHash := limiter.HashIP(ip)
	subject := "reset:" + strings.TrimSpace(email)

	allowed, _, err := s.lim.Allow(ctx, subject, ipHash)
	if err != nil {
		return model.ForgotPasswordToken{}, err
	}
	if !allowed {
		return model.ForgotPasswordToken{}, errs.ErrRateLimited
	}

	a, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			if _, _, ferr := s.lim.Failure(ctx, subject, ipHash); ferr != nil {
				s.log.Warn("limiter failure not recorded", zap.Error(ferr))
			}
		}
		return model.ForgotPasswordToken{}, err
	}

	id, err := uuid.NewV4()
	if err != nil {
		return model.ForgotPasswordToken{}, err
	}
	// stored with millisecond precision
	exp := time.UnixMilli(s.now().Add(s.opts.ResetTTL).UnixMilli())
	t := model.NewForgotPasswordToken(id.String(), exp)
	if err := s.users.GenerateForgetPasswordToken(ctx, a, t); err != nil {
		return model.ForgotPasswordToken{}, err
	}
	s.log.Info("password reset requested", zap.String("username", a.Username))
	return t, nil
}

// ResetPassword checks token against the stored one and changes the password,
// which also invalidates the token.
func (s *AccountServiceImpl) ResetPassword(ctx context.Context, email, token, newPassword string) error {
	if newPassword == "" {
		return fmt.Errorf("%w: empty password", errs.ErrValidation)
	}
	a, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	stored, err := s.users.GetUserForgetPasswordToken(ctx, a)
	if err != nil {
		return err
	}
	if !stored.Matches(token, s.now()) {
		return errs.ErrInvalidToken
	}
	if err := a.SetPassword(newPassword); err != nil {
		return err
	}
	if err := s.users.ChangePassword(ctx, a); err != nil {
		return err
	}
	s.log.Info("password changed", zap.String("username", a.Username))
	return nil
}

// UpdateLocales canonicalizes locales and stores them on the account.
func (s *AccountServiceImpl) UpdateLocales(ctx context.Context, username string, locales []string) (*model.Account, error) {
	a, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if dropped := a.SetPreferredLocales(locales...); len(dropped) > 0 {
		s.log.Warn("ignoring unparseable locale tags",
			zap.String("username", a.Username),
			zap.Strings("tags", dropped),
		)
	}
	if err := s.users.UpdatePreferredLocales(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Search resolves requester to an existing account before searching.
func (s *AccountServiceImpl) Search(ctx context.Context, term, requester string) ([]*model.Account, error) {
	who, err := s.users.FindByUsername(ctx, requester)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, errs.ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	return s.users.SearchUsers(ctx, term, who)
}
