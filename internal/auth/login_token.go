// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Token sizes in random bytes. Both halves are hex encoded on the wire.
const (
	SelectorBytes = 16
	VerifierBytes = 32
)

// DefaultTokenLifetime is how long a remember-me token lives without use.
const DefaultTokenLifetime = 14 * 24 * time.Hour

// LoginToken is a persisted remember-me token. Only the hash of the
// verifier is stored.
type LoginToken struct {
	ID           ulid.ULID
	UserID       ulid.ULID
	Selector     string
	VerifierHash string
	ExpiresAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsExpired reports whether the token's expiry has passed at now.
func (t *LoginToken) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// Summary returns the management view of the token.
func (t *LoginToken) Summary() TokenSummary {
	return TokenSummary{
		ID:        t.ID,
		Selector:  t.Selector,
		ExpiresAt: t.ExpiresAt,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

// TokenSummary describes a login token without its verifier hash.
type TokenSummary struct {
	ID        ulid.ULID
	Selector  string
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RememberToken is the plaintext selector/verifier pair handed to the client.
// It is returned once at issue time and never again.
type RememberToken struct {
	Selector  string
	Verifier  string
	ExpiresAt time.Time
}

// String encodes the pair as "selector:verifier".
func (t RememberToken) String() string {
	return t.Selector + ":" + t.Verifier
}

// ParseRememberToken decodes a "selector:verifier" string. Malformed input
// fails with the same error as an unknown selector.
func ParseRememberToken(raw string) (*RememberToken, error) {
	selector, verifier, ok := strings.Cut(raw, ":")
	if !ok || !isHex(selector, SelectorBytes) || !isHex(verifier, VerifierBytes) {
		return nil, invalidToken()
	}
	return &RememberToken{Selector: selector, Verifier: verifier}, nil
}

func isHex(s string, n int) bool {
	if len(s) != hex.EncodedLen(n) {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// HashVerifier returns the hex SHA-256 digest stored for a verifier.
func HashVerifier(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return hex.EncodeToString(sum[:])
}

// dummyVerifierHash is compared against when a selector has no row, so an
// unknown selector costs the same comparison as a wrong verifier.
var dummyVerifierHash = HashVerifier(strings.Repeat("0", hex.EncodedLen(VerifierBytes)))

// generateTokenPair reads a fresh selector and verifier from r.
func generateTokenPair(r io.Reader) (selector, verifier string, err error) {
	buf := make([]byte, SelectorBytes+VerifierBytes)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", "", oops.Code("LOGIN_TOKEN_GENERATE_FAILED").Wrap(err)
	}
	return hex.EncodeToString(buf[:SelectorBytes]), hex.EncodeToString(buf[SelectorBytes:]), nil
}

// TokenPolicy configures LoginTokenStore.
type TokenPolicy struct {
	// Lifetime is the default validity window, also used when extending a
	// token after a successful validation.
	Lifetime time.Duration
	// StrictRotation replaces the selector and verifier on every successful
	// validation instead of only extending the expiry.
	StrictRotation bool
}

// DefaultTokenPolicy returns the default token policy.
func DefaultTokenPolicy() TokenPolicy {
	return TokenPolicy{Lifetime: DefaultTokenLifetime}
}

// Validate checks the policy is usable.
func (p TokenPolicy) Validate() error {
	if p.Lifetime <= 0 {
		return oops.Code("POLICY_INVALID").
			With("lifetime", p.Lifetime.String()).
			Errorf("login token lifetime must be positive")
	}
	return nil
}

// RevokeScope selects which of a user's tokens Revoke deletes.
type RevokeScope int

// Revoke scopes. The zero value is RevokeExpired.
const (
	// RevokeExpired deletes only tokens whose expiry has passed.
	RevokeExpired RevokeScope = iota
	// RevokeAll deletes every token of the user, logging out all devices.
	RevokeAll
)

func (s RevokeScope) String() string {
	switch s {
	case RevokeExpired:
		return "expired"
	case RevokeAll:
		return "all"
	default:
		return "unknown"
	}
}

// ParseRevokeScope parses "expired" or "all".
func ParseRevokeScope(s string) (RevokeScope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "expired":
		return RevokeExpired, nil
	case "all":
		return RevokeAll, nil
	default:
		return 0, oops.Code("LOGIN_TOKEN_INVALID_SCOPE").
			With("scope", s).
			Errorf("unknown revoke scope %q", s)
	}
}

// Validation is the result of a successful token validation.
type Validation struct {
	UserID    ulid.ULID
	TokenID   ulid.ULID
	ExpiresAt time.Time
	// Rotated is the replacement pair when strict rotation is enabled.
	// The presented pair is no longer valid in that case.
	Rotated *RememberToken
}

// LoginTokenRepository manages login token persistence.
//
// Selector uniqueness is enforced by storage; a duplicate selector is
// reported as an error matching ErrConflict.
type LoginTokenRepository interface {
	// Create stores a new token.
	Create(ctx context.Context, token *LoginToken) error

	// GetBySelector retrieves a token by its selector.
	GetBySelector(ctx context.Context, selector string) (*LoginToken, error)

	// ListByUser returns all tokens of a user, expired ones included.
	ListByUser(ctx context.Context, userID ulid.ULID) ([]*LoginToken, error)

	// Extend sets a new expiry and updated_at. Returns ErrNotFound if the
	// token no longer exists.
	Extend(ctx context.Context, id ulid.ULID, expiresAt, updatedAt time.Time) error

	// Delete removes one token owned by userID. Returns ErrNotFound if no
	// such token belongs to the user.
	Delete(ctx context.Context, userID, id ulid.ULID) error

	// DeleteByUser removes the user's tokens, or only those expiring before
	// expiredBefore when it is non-nil. Returns the number deleted.
	DeleteByUser(ctx context.Context, userID ulid.ULID, expiredBefore *time.Time) (int64, error)

	// DeleteExpired removes every token expiring before the given time.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

func invalidToken() error {
	return oops.Code("LOGIN_TOKEN_INVALID").Wrap(ErrTokenInvalid)
}

func expiredToken(expiresAt time.Time) error {
	return oops.Code("LOGIN_TOKEN_EXPIRED").
		With("expires_at", expiresAt).
		Wrap(ErrTokenExpired)
}
