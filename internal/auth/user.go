// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Username validation constraints.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 64
	MaxEmailLength    = 254
)

// Password length defaults.
const (
	DefaultMinPasswordLength = 8
	DefaultMaxPasswordLength = 72
)

// Validation failure reasons reported in ValidationError.Fields.
const (
	ReasonRequired      = "required"
	ReasonInvalid       = "invalid"
	ReasonTooShort      = "too short"
	ReasonTooLong       = "too long"
	ReasonAlreadyExists = "already exists"
)

// usernameRegex matches letters, digits and spaces only.
var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9 ]+$`)

// User represents a user identity record.
type User struct {
	ID           ulid.ULID
	Email        string
	Username     string // empty when the user has none
	PasswordHash string
	Banned       bool
	Deleted      bool
	LastLogin    *time.Time
	LastActivity *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewUser creates a User with a fresh ID. The email and username must
// already be validated and the password already hashed.
func NewUser(email, username, passwordHash string, now time.Time) (*User, error) {
	if email == "" {
		return nil, oops.Code("USER_INVALID_EMAIL").Errorf("email cannot be empty")
	}
	if passwordHash == "" {
		return nil, oops.Code("USER_INVALID_HASH").Errorf("password hash cannot be empty")
	}
	if now.IsZero() {
		return nil, oops.Code("USER_INVALID_TIME").Errorf("creation time cannot be zero")
	}
	return &User{
		ID:           ulid.Make(),
		Email:        email,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Policy is the credential policy enforced by CredentialStore.
type Policy struct {
	// MinPasswordLength and MaxPasswordLength count characters.
	MinPasswordLength int
	MaxPasswordLength int
	// MaxPasswordBytes caps the encoded length for hashers with a byte
	// limit, such as bcrypt. Zero means no cap.
	MaxPasswordBytes  int
	RequireUsername   bool
	IncludeDeleted    bool
	FoldEmailCase     bool
}

// DefaultPolicy returns the default credential policy.
func DefaultPolicy() Policy {
	return Policy{
		MinPasswordLength: DefaultMinPasswordLength,
		MaxPasswordLength: DefaultMaxPasswordLength,
		FoldEmailCase:     true,
	}
}

// Validate checks the policy is consistent.
func (p Policy) Validate() error {
	if p.MinPasswordLength < 1 {
		return oops.Code("POLICY_INVALID").
			With("min_length", p.MinPasswordLength).
			Errorf("minimum password length must be at least 1")
	}
	if p.MaxPasswordLength < p.MinPasswordLength {
		return oops.Code("POLICY_INVALID").
			With("min_length", p.MinPasswordLength).
			With("max_length", p.MaxPasswordLength).
			Errorf("maximum password length must not be below the minimum")
	}
	if p.MaxPasswordBytes < 0 {
		return oops.Code("POLICY_INVALID").
			With("max_bytes", p.MaxPasswordBytes).
			Errorf("maximum password bytes must not be negative")
	}
	return nil
}

// visibility resolves the per-query override against the policy default.
func (p Policy) visibility(opts []QueryOption) Visibility {
	v := ExcludeDeleted
	if p.IncludeDeleted {
		v = IncludeDeleted
	}
	for _, opt := range opts {
		opt(&v)
	}
	return v
}

// normalizeEmail trims the address and folds case when the policy asks for it.
func (p Policy) normalizeEmail(email string) string {
	email = strings.TrimSpace(email)
	if p.FoldEmailCase {
		email = strings.ToLower(email)
	}
	return email
}

// ValidateEmail reports the reason email is unacceptable, or "" if it is valid.
// Only a bare address is accepted; display names are rejected.
func ValidateEmail(email string) string {
	if email == "" {
		return ReasonRequired
	}
	if len(email) > MaxEmailLength {
		return ReasonTooLong
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return ReasonInvalid
	}
	return ""
}

// ValidateUsername reports the reason username is unacceptable, or "" if it is valid.
// Username requirements:
//   - Length: MinUsernameLength to MaxUsernameLength characters
//   - Letters (a-z, A-Z), digits (0-9) and spaces only
func ValidateUsername(username string) string {
	switch {
	case username == "":
		return ReasonRequired
	case len(username) < MinUsernameLength:
		return ReasonTooShort
	case len(username) > MaxUsernameLength:
		return ReasonTooLong
	case !usernameRegex.MatchString(username):
		return ReasonInvalid
	}
	return ""
}

// validatePassword checks the plaintext length bounds in characters, then
// the byte cap when one is set.
func (p Policy) validatePassword(password string) string {
	n := utf8.RuneCountInString(password)
	switch {
	case password == "":
		return ReasonRequired
	case n < p.MinPasswordLength:
		return ReasonTooShort
	case n > p.MaxPasswordLength:
		return ReasonTooLong
	case p.MaxPasswordBytes > 0 && len(password) > p.MaxPasswordBytes:
		return ReasonTooLong
	}
	return ""
}

// NewUserInput carries the fields accepted by CredentialStore.Create.
type NewUserInput struct {
	Email    string
	Username string
	Password string
}

// UserUpdate carries the fields accepted by CredentialStore.Update.
// Nil fields are left untouched.
type UserUpdate struct {
	Email    *string
	Username *string // empty string clears the username
	Password *string // plaintext; hashed before persistence
}

// UserPatch is a partial row update passed to UserRepository.Update.
// Nil fields are not written.
type UserPatch struct {
	Email        *string
	Username     *string // empty string stores NULL
	PasswordHash *string
	Banned       *bool
	Deleted      *bool
	LastLogin    *time.Time
	LastActivity *time.Time
	UpdatedAt    *time.Time
}

// UserRepository manages user persistence.
//
// Implementations must enforce uniqueness of email and username among
// non-deleted rows with unique indexes and report violations as errors
// matching ErrConflict. Missing rows are reported as ErrNotFound.
type UserRepository interface {
	// Create stores a new user.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id ulid.ULID, visibility Visibility) (*User, error)

	// GetByEmail retrieves a user by exact email. When deleted rows are
	// visible, a live row is preferred over deleted ones.
	GetByEmail(ctx context.Context, email string, visibility Visibility) (*User, error)

	// GetByUsername retrieves a user by exact username, with the same
	// preference as GetByEmail.
	GetByUsername(ctx context.Context, username string, visibility Visibility) (*User, error)

	// Update writes the non-nil fields of patch to the user row.
	Update(ctx context.Context, id ulid.ULID, patch UserPatch) error
}
