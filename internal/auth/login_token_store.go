// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/authcore/pkg/errutil"
)

// Internal rejection reasons. They are logged, never returned.
const (
	reasonUnknownSelector  = "unknown_selector"
	reasonVerifierMismatch = "verifier_mismatch"
)

// LoginTokenStore issues, validates and revokes remember-me tokens.
type LoginTokenStore struct {
	tokens LoginTokenRepository
	policy TokenPolicy
	now    func() time.Time
	random io.Reader
	logger *slog.Logger
	tracer trace.Tracer
}

// NewLoginTokenStore creates a new LoginTokenStore.
func NewLoginTokenStore(tokens LoginTokenRepository, policy TokenPolicy, opts ...Option) (*LoginTokenStore, error) {
	if tokens == nil {
		return nil, oops.Errorf("login token repository is required")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	return &LoginTokenStore{
		tokens: tokens,
		policy: policy,
		now:    o.now,
		random: o.random,
		logger: o.logger,
		tracer: o.tracer,
	}, nil
}

// Issue creates a token for userID valid for lifetime, or for the policy
// lifetime when lifetime is not positive. The returned pair is the only
// copy of the verifier.
func (s *LoginTokenStore) Issue(ctx context.Context, userID ulid.ULID, lifetime time.Duration) (*RememberToken, error) {
	ctx, span := s.tracer.Start(ctx, "LoginTokenStore.Issue",
		trace.WithAttributes(attribute.String("user.id", userID.String())))
	defer span.End()

	_, token, err := s.issue(ctx, userID, lifetime)
	if err != nil {
		return nil, recordSpanError(span, err)
	}
	return token, nil
}

// issue stores a new token and returns both the row and the plaintext pair.
func (s *LoginTokenStore) issue(ctx context.Context, userID ulid.ULID, lifetime time.Duration) (*LoginToken, *RememberToken, error) {
	if lifetime <= 0 {
		lifetime = s.policy.Lifetime
	}

	selector, verifier, err := generateTokenPair(s.random)
	if err != nil {
		return nil, nil, err
	}

	now := s.now()
	token := &LoginToken{
		ID:           ulid.Make(),
		UserID:       userID,
		Selector:     selector,
		VerifierHash: HashVerifier(verifier),
		ExpiresAt:    now.Add(lifetime),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.tokens.Create(ctx, token); err != nil {
		return nil, nil, oops.Code("LOGIN_TOKEN_ISSUE_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}

	TokensIssued.Inc()
	return token, &RememberToken{Selector: selector, Verifier: verifier, ExpiresAt: token.ExpiresAt}, nil
}

// Validate checks a presented selector/verifier pair. An unknown selector and
// a wrong verifier fail identically with ErrTokenInvalid; an expired token
// fails with ErrTokenExpired. On success the expiry is pushed to now plus the
// policy lifetime.
func (s *LoginTokenStore) Validate(ctx context.Context, selector, verifier string) (*Validation, error) {
	ctx, span := s.tracer.Start(ctx, "LoginTokenStore.Validate")
	defer span.End()

	v, outcome, err := s.validate(ctx, selector, verifier)
	TokenValidations.WithLabelValues(outcome).Inc()
	if err != nil {
		return nil, recordSpanError(span, err)
	}
	span.SetAttributes(attribute.String("user.id", v.UserID.String()))
	return v, nil
}

func (s *LoginTokenStore) validate(ctx context.Context, selector, verifier string) (*Validation, string, error) {
	presented := HashVerifier(verifier)

	token, err := s.tokens.GetBySelector(ctx, selector)
	if errors.Is(err, ErrNotFound) {
		subtle.ConstantTimeCompare([]byte(presented), []byte(dummyVerifierHash))
		s.reject(ctx, selector, reasonUnknownSelector)
		return nil, OutcomeRejected, invalidToken()
	}
	if err != nil {
		return nil, OutcomeError, oops.Code("LOGIN_TOKEN_VALIDATE_FAILED").
			With("operation", "get token by selector").
			Wrap(err)
	}

	if subtle.ConstantTimeCompare([]byte(presented), []byte(token.VerifierHash)) != 1 {
		s.reject(ctx, selector, reasonVerifierMismatch)
		return nil, OutcomeRejected, invalidToken()
	}

	now := s.now()
	if token.IsExpired(now) {
		s.logger.InfoContext(ctx, "login token expired",
			"token_id", token.ID.String(),
			"user_id", token.UserID.String(),
			"expires_at", token.ExpiresAt)
		return nil, OutcomeExpired, expiredToken(token.ExpiresAt)
	}

	if s.policy.StrictRotation {
		return s.rotate(ctx, token)
	}

	expiresAt := now.Add(s.policy.Lifetime)
	if err := s.tokens.Extend(ctx, token.ID, expiresAt, now); err != nil {
		if errors.Is(err, ErrNotFound) {
			s.reject(ctx, selector, "revoked_during_validation")
			return nil, OutcomeRejected, invalidToken()
		}
		return nil, OutcomeError, oops.Code("LOGIN_TOKEN_VALIDATE_FAILED").
			With("operation", "extend token").
			With("token_id", token.ID.String()).
			Wrap(err)
	}

	return &Validation{UserID: token.UserID, TokenID: token.ID, ExpiresAt: expiresAt}, OutcomeSuccess, nil
}

// rotate replaces a validated token with a freshly issued one. The
// replacement is stored before the old row goes, so a failed issue leaves
// the presented token usable.
func (s *LoginTokenStore) rotate(ctx context.Context, token *LoginToken) (*Validation, string, error) {
	fresh, next, err := s.issue(ctx, token.UserID, s.policy.Lifetime)
	if err != nil {
		return nil, OutcomeError, err
	}

	err = s.tokens.Delete(ctx, token.UserID, token.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		// Revoked concurrently; the replacement must not outlive it.
		if derr := s.tokens.Delete(ctx, fresh.UserID, fresh.ID); derr != nil && !errors.Is(derr, ErrNotFound) {
			errutil.LogError(ctx, s.logger, "failed to withdraw rotated login token",
				oops.With("token_id", fresh.ID.String()).Wrap(derr))
		}
		s.reject(ctx, token.Selector, "revoked_during_validation")
		return nil, OutcomeRejected, invalidToken()
	case err != nil:
		// The old row expires on its own; the caller already holds the new pair.
		errutil.LogError(ctx, s.logger, "failed to delete rotated login token",
			oops.Code("LOGIN_TOKEN_ROTATE_FAILED").
				With("token_id", token.ID.String()).
				With("user_id", token.UserID.String()).
				Wrap(err))
	}

	return &Validation{
		UserID:    token.UserID,
		TokenID:   fresh.ID,
		ExpiresAt: next.ExpiresAt,
		Rotated:   next,
	}, OutcomeSuccess, nil
}

func (s *LoginTokenStore) reject(ctx context.Context, selector, reason string) {
	s.logger.InfoContext(ctx, "login token rejected",
		"reason", reason,
		"selector_prefix", selectorPrefix(selector))
}

// selectorPrefix returns enough of a selector to correlate log lines.
func selectorPrefix(selector string) string {
	if len(selector) > 8 {
		return selector[:8]
	}
	return selector
}

// GetAllByUser lists the user's tokens, expired ones included.
func (s *LoginTokenStore) GetAllByUser(ctx context.Context, userID ulid.ULID) ([]TokenSummary, error) {
	tokens, err := s.tokens.ListByUser(ctx, userID)
	if err != nil {
		return nil, oops.Code("LOGIN_TOKEN_LIST_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	summaries := make([]TokenSummary, 0, len(tokens))
	for _, t := range tokens {
		summaries = append(summaries, t.Summary())
	}
	return summaries, nil
}

// Revoke deletes the user's tokens selected by scope and returns how many
// were removed.
func (s *LoginTokenStore) Revoke(ctx context.Context, userID ulid.ULID, scope RevokeScope) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "LoginTokenStore.Revoke",
		trace.WithAttributes(
			attribute.String("user.id", userID.String()),
			attribute.String("revoke.scope", scope.String())))
	defer span.End()

	var expiredBefore *time.Time
	switch scope {
	case RevokeExpired:
		now := s.now()
		expiredBefore = &now
	case RevokeAll:
	default:
		return 0, recordSpanError(span, oops.Code("LOGIN_TOKEN_INVALID_SCOPE").
			With("scope", int(scope)).
			Errorf("unknown revoke scope"))
	}

	n, err := s.tokens.DeleteByUser(ctx, userID, expiredBefore)
	if err != nil {
		return 0, recordSpanError(span, oops.Code("LOGIN_TOKEN_REVOKE_FAILED").
			With("user_id", userID.String()).
			With("scope", scope.String()).
			Wrap(err))
	}

	TokensRevoked.WithLabelValues(scope.String()).Add(float64(n))
	s.logger.DebugContext(ctx, "revoked login tokens",
		"user_id", userID.String(),
		"scope", scope.String(),
		"count", n)
	return n, nil
}

// RevokeToken deletes a single token of the user.
func (s *LoginTokenStore) RevokeToken(ctx context.Context, userID, tokenID ulid.ULID) error {
	if err := s.tokens.Delete(ctx, userID, tokenID); err != nil {
		return oops.Code("LOGIN_TOKEN_REVOKE_FAILED").
			With("user_id", userID.String()).
			With("token_id", tokenID.String()).
			Wrap(err)
	}
	TokensRevoked.WithLabelValues("token").Inc()
	return nil
}

// PurgeExpired deletes every expired token of every user.
func (s *LoginTokenStore) PurgeExpired(ctx context.Context) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "LoginTokenStore.PurgeExpired")
	defer span.End()

	n, err := s.tokens.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, recordSpanError(span, oops.Code("LOGIN_TOKEN_PURGE_FAILED").Wrap(err))
	}
	TokensRevoked.WithLabelValues("purge").Add(float64(n))
	return n, nil
}
