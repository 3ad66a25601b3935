// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/authcore/pkg/errutil"
)

// dummyPassword is hashed once at construction. Unknown users are verified
// against its hash so the response time does not reveal whether the login
// identifier exists.
//
//nolint:gosec // G101: not a credential, only used for timing equalisation.
const dummyPassword = "authcore-timing-equaliser"

// Service is the login flow composed from the credential and token stores.
type Service struct {
	creds     *CredentialStore
	tokens    *LoginTokenStore
	dummyHash string
	logger    *slog.Logger
	tracer    trace.Tracer
}

// LoginResult describes an authenticated user.
type LoginResult struct {
	User *User
	// Token is the remember-me pair issued by Login when requested, or the
	// replacement pair from LoginWithToken under strict rotation.
	Token *RememberToken
	// TokenExpiresAt is the expiry of the presented or issued token; zero
	// when no token is involved.
	TokenExpiresAt time.Time
}

// NewService creates a new Service.
func NewService(creds *CredentialStore, tokens *LoginTokenStore, opts ...Option) (*Service, error) {
	if creds == nil {
		return nil, oops.Errorf("credential store is required")
	}
	if tokens == nil {
		return nil, oops.Errorf("login token store is required")
	}
	dummyHash, err := creds.hasher.Hash(dummyPassword)
	if err != nil {
		return nil, oops.Code("AUTH_INIT_FAILED").
			With("operation", "hash dummy password").
			Wrap(err)
	}
	o := buildOptions(opts)
	return &Service{
		creds:     creds,
		tokens:    tokens,
		dummyHash: dummyHash,
		logger:    o.logger,
		tracer:    o.tracer,
	}, nil
}

// Login authenticates with a login identifier and password. When remember is
// set a remember-me token is issued for the user.
// Unknown identifiers still pay for one hash verification.
func (s *Service) Login(ctx context.Context, identifier, password string, remember bool) (*LoginResult, error) {
	ctx, span := s.tracer.Start(ctx, "Service.Login",
		trace.WithAttributes(attribute.Bool("login.remember", remember)))
	defer span.End()

	result, outcome, err := s.login(ctx, identifier, password, remember)
	LoginAttempts.WithLabelValues(outcome).Inc()
	if err != nil {
		return nil, recordSpanError(span, err)
	}
	return result, nil
}

func (s *Service) login(ctx context.Context, identifier, password string, remember bool) (*LoginResult, string, error) {
	user, lookupErr := s.creds.FindByLogin(ctx, identifier)
	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			return nil, OutcomeError, oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "find user").
				Wrap(lookupErr)
		}
		// Result is irrelevant, only the time spent matters.
		_, _ = s.creds.hasher.Verify(password, s.dummyHash)
		return nil, OutcomeRejected, invalidCredentials()
	}

	valid, err := s.creds.checkPassword(user, password)
	if err != nil {
		return nil, OutcomeError, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	if !valid {
		return nil, OutcomeRejected, invalidCredentials()
	}

	// Ban is checked after verification so banned and unknown accounts cost the same.
	if user.Banned {
		return nil, OutcomeBanned, accountBanned(user.ID)
	}

	s.creds.upgradeIfNeeded(ctx, user, password)
	s.creds.UpdateLastLogin(ctx, user.ID)

	result := &LoginResult{User: user}
	if remember {
		token, err := s.tokens.Issue(ctx, user.ID, 0)
		if err != nil {
			return nil, OutcomeError, oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "issue login token").
				With("user_id", user.ID.String()).
				Wrap(err)
		}
		result.Token = token
		result.TokenExpiresAt = token.ExpiresAt
	}

	s.logger.InfoContext(ctx, "user logged in",
		"user_id", user.ID.String(),
		"remember", remember)
	return result, OutcomeSuccess, nil
}

// LoginWithToken authenticates with an encoded remember-me token. Tokens of
// users who have since been banned or deleted are revoked.
func (s *Service) LoginWithToken(ctx context.Context, raw string) (*LoginResult, error) {
	ctx, span := s.tracer.Start(ctx, "Service.LoginWithToken")
	defer span.End()

	presented, err := ParseRememberToken(raw)
	if err != nil {
		TokenValidations.WithLabelValues(OutcomeRejected).Inc()
		return nil, recordSpanError(span, err)
	}

	v, err := s.tokens.Validate(ctx, presented.Selector, presented.Verifier)
	if err != nil {
		return nil, recordSpanError(span, err)
	}

	user, err := s.creds.Get(ctx, v.UserID, WithoutDeleted())
	if errors.Is(err, ErrNotFound) {
		s.revokeAll(ctx, v.UserID)
		return nil, recordSpanError(span, invalidToken())
	}
	if err != nil {
		return nil, recordSpanError(span, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "load token owner").
			With("user_id", v.UserID.String()).
			Wrap(err))
	}
	if user.Banned {
		s.revokeAll(ctx, user.ID)
		return nil, recordSpanError(span, accountBanned(user.ID))
	}

	s.creds.UpdateLastActivity(ctx, user.ID)

	return &LoginResult{User: user, Token: v.Rotated, TokenExpiresAt: v.ExpiresAt}, nil
}

// Logout revokes the user's login tokens selected by scope.
func (s *Service) Logout(ctx context.Context, userID ulid.ULID, scope RevokeScope) (int64, error) {
	n, err := s.tokens.Revoke(ctx, userID, scope)
	if err != nil {
		return 0, oops.Code("AUTH_LOGOUT_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return n, nil
}

func (s *Service) revokeAll(ctx context.Context, userID ulid.ULID) {
	if _, err := s.tokens.Revoke(ctx, userID, RevokeAll); err != nil {
		errutil.LogError(ctx, s.logger, "failed to revoke tokens of inactive user", err)
	}
}

func invalidCredentials() error {
	return oops.Code("AUTH_INVALID_CREDENTIALS").Errorf("invalid login or password")
}

func accountBanned(id ulid.ULID) error {
	return oops.Code("AUTH_ACCOUNT_BANNED").
		With("user_id", id.String()).
		Errorf("account is banned")
}
