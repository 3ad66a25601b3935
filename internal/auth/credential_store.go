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
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/authcore/pkg/errutil"
)

// CredentialStore owns user identity records and enforces the password
// and uniqueness policy.
type CredentialStore struct {
	users  UserRepository
	hasher PasswordHasher
	policy Policy
	now    func() time.Time
	logger *slog.Logger
	tracer trace.Tracer
}

// NewCredentialStore creates a new CredentialStore.
func NewCredentialStore(users UserRepository, hasher PasswordHasher, policy Policy, opts ...Option) (*CredentialStore, error) {
	if users == nil {
		return nil, oops.Errorf("users repository is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	return &CredentialStore{
		users:  users,
		hasher: hasher,
		policy: policy,
		now:    o.now,
		logger: o.logger,
		tracer: o.tracer,
	}, nil
}

// Policy returns the policy the store enforces.
func (s *CredentialStore) Policy() Policy {
	return s.policy
}

// Create validates input, hashes the password and stores a new user.
// Every failed rule is reported in a single *ValidationError. A uniqueness
// violation detected by storage is returned as an error matching ErrConflict.
func (s *CredentialStore) Create(ctx context.Context, input NewUserInput) (ulid.ULID, error) {
	ctx, span := s.tracer.Start(ctx, "CredentialStore.Create")
	defer span.End()

	email := s.policy.normalizeEmail(input.Email)
	username := input.Username

	verr := &ValidationError{}
	if reason := ValidateEmail(email); reason != "" {
		verr.add("email", reason)
	}
	if username != "" || s.policy.RequireUsername {
		if reason := ValidateUsername(username); reason != "" {
			verr.add("username", reason)
		}
	}
	if reason := s.policy.validatePassword(input.Password); reason != "" {
		verr.add("password", reason)
	}
	if err := s.checkUnique(ctx, verr, ulid.ULID{}, email, username); err != nil {
		return ulid.ULID{}, recordSpanError(span, err)
	}
	if !verr.empty() {
		return ulid.ULID{}, recordSpanError(span, validationFailed(verr))
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return ulid.ULID{}, recordSpanError(span, oops.Code("USER_CREATE_FAILED").
			With("operation", "hash password").
			Wrap(err))
	}

	user, err := NewUser(email, username, hash, s.now())
	if err != nil {
		return ulid.ULID{}, recordSpanError(span, err)
	}

	if err := s.users.Create(ctx, user); err != nil {
		return ulid.ULID{}, recordSpanError(span, oops.Code("USER_CREATE_FAILED").
			With("operation", "persist user").
			Wrap(err))
	}

	span.SetAttributes(attribute.String("user.id", user.ID.String()))
	return user.ID, nil
}

// Update applies the supplied fields to an existing user. Fields left nil are
// not validated and not written; in particular the stored password hash is
// only replaced when Password is set.
func (s *CredentialStore) Update(ctx context.Context, id ulid.ULID, update UserUpdate) error {
	ctx, span := s.tracer.Start(ctx, "CredentialStore.Update",
		trace.WithAttributes(attribute.String("user.id", id.String())))
	defer span.End()

	var patch UserPatch
	verr := &ValidationError{}

	var email, username string
	if update.Email != nil {
		email = s.policy.normalizeEmail(*update.Email)
		if reason := ValidateEmail(email); reason != "" {
			verr.add("email", reason)
		}
		patch.Email = &email
	}
	if update.Username != nil {
		username = *update.Username
		switch {
		case username == "" && s.policy.RequireUsername:
			verr.add("username", ReasonRequired)
		case username != "":
			if reason := ValidateUsername(username); reason != "" {
				verr.add("username", reason)
			}
		}
		patch.Username = &username
	}
	if update.Password != nil {
		if reason := s.policy.validatePassword(*update.Password); reason != "" {
			verr.add("password", reason)
		}
	}
	if err := s.checkUnique(ctx, verr, id, email, username); err != nil {
		return recordSpanError(span, err)
	}
	if !verr.empty() {
		return recordSpanError(span, validationFailed(verr))
	}

	if update.Password != nil {
		hash, err := s.hasher.Hash(*update.Password)
		if err != nil {
			return recordSpanError(span, oops.Code("USER_UPDATE_FAILED").
				With("operation", "hash password").
				With("user_id", id.String()).
				Wrap(err))
		}
		patch.PasswordHash = &hash
	}

	now := s.now()
	patch.UpdatedAt = &now
	if err := s.users.Update(ctx, id, patch); err != nil {
		return recordSpanError(span, oops.Code("USER_UPDATE_FAILED").
			With("operation", "persist user").
			With("user_id", id.String()).
			Wrap(err))
	}
	return nil
}

// checkUnique records "already exists" failures for an email or username held
// by a different user. Empty values are skipped. self is exempt.
func (s *CredentialStore) checkUnique(ctx context.Context, verr *ValidationError, self ulid.ULID, email, username string) error {
	visibility := s.policy.visibility(nil)

	if email != "" && verr.Fields["email"] == "" {
		existing, err := s.users.GetByEmail(ctx, email, visibility)
		switch {
		case err == nil && existing.ID != self:
			verr.add("email", ReasonAlreadyExists)
		case err != nil && !errors.Is(err, ErrNotFound):
			return oops.Code("USER_LOOKUP_FAILED").
				With("operation", "check email uniqueness").
				Wrap(err)
		}
	}
	if username != "" && verr.Fields["username"] == "" {
		existing, err := s.users.GetByUsername(ctx, username, visibility)
		switch {
		case err == nil && existing.ID != self:
			verr.add("username", ReasonAlreadyExists)
		case err != nil && !errors.Is(err, ErrNotFound):
			return oops.Code("USER_LOOKUP_FAILED").
				With("operation", "check username uniqueness").
				Wrap(err)
		}
	}
	return nil
}

// Get returns the user with the given ID.
func (s *CredentialStore) Get(ctx context.Context, id ulid.ULID, opts ...QueryOption) (*User, error) {
	user, err := s.users.GetByID(ctx, id, s.policy.visibility(opts))
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").
			With("user_id", id.String()).
			Wrap(err)
	}
	return user, nil
}

// FindByLogin resolves a login identifier to a live user. The identifier is
// a username when usernames are required and an email address otherwise.
func (s *CredentialStore) FindByLogin(ctx context.Context, identifier string) (*User, error) {
	var (
		user *User
		err  error
	)
	if s.policy.RequireUsername {
		user, err = s.users.GetByUsername(ctx, identifier, ExcludeDeleted)
	} else {
		user, err = s.users.GetByEmail(ctx, s.policy.normalizeEmail(identifier), ExcludeDeleted)
	}
	if err != nil {
		return nil, oops.Code("USER_LOOKUP_FAILED").
			With("operation", "find by login").
			Wrap(err)
	}
	return user, nil
}

// IsBanned reports whether the user is banned. Unknown users, and deleted
// users unless included, are reported as not banned.
func (s *CredentialStore) IsBanned(ctx context.Context, id ulid.ULID, opts ...QueryOption) (bool, error) {
	user, err := s.users.GetByID(ctx, id, s.policy.visibility(opts))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, oops.Code("USER_LOOKUP_FAILED").
			With("operation", "check banned").
			With("user_id", id.String()).
			Wrap(err)
	}
	return user.Banned, nil
}

// ExistsByID reports whether a user with the given ID exists.
func (s *CredentialStore) ExistsByID(ctx context.Context, id ulid.ULID, opts ...QueryOption) (bool, error) {
	_, err := s.users.GetByID(ctx, id, s.policy.visibility(opts))
	return exists(err, "id")
}

// ExistsByEmail reports whether a user with the given email exists.
func (s *CredentialStore) ExistsByEmail(ctx context.Context, email string, opts ...QueryOption) (bool, error) {
	_, err := s.users.GetByEmail(ctx, s.policy.normalizeEmail(email), s.policy.visibility(opts))
	return exists(err, "email")
}

// ExistsByUsername reports whether a user with the given username exists.
func (s *CredentialStore) ExistsByUsername(ctx context.Context, username string, opts ...QueryOption) (bool, error) {
	_, err := s.users.GetByUsername(ctx, username, s.policy.visibility(opts))
	return exists(err, "username")
}

func exists(err error, key string) (bool, error) {
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, oops.Code("USER_LOOKUP_FAILED").
			With("operation", "exists by "+key).
			Wrap(err)
	}
}

// UpdateLastLogin records a login for the user, touching both last_login and
// last_activity. Failures are logged and never returned.
func (s *CredentialStore) UpdateLastLogin(ctx context.Context, id ulid.ULID) {
	now := s.now()
	s.bookkeep(ctx, id, "last_login", UserPatch{LastLogin: &now, LastActivity: &now})
}

// UpdateLastActivity records activity for the user. Failures are logged and
// never returned.
func (s *CredentialStore) UpdateLastActivity(ctx context.Context, id ulid.ULID) {
	now := s.now()
	s.bookkeep(ctx, id, "last_activity", UserPatch{LastActivity: &now})
}

func (s *CredentialStore) bookkeep(ctx context.Context, id ulid.ULID, field string, patch UserPatch) {
	if err := s.users.Update(ctx, id, patch); err != nil {
		BookkeepingFailures.WithLabelValues(field).Inc()
		errutil.LogError(ctx, s.logger, "failed to record "+field, oops.
			With("user_id", id.String()).
			With("field", field).
			Wrap(err))
	}
}

// SetBanned sets or clears the ban flag.
func (s *CredentialStore) SetBanned(ctx context.Context, id ulid.ULID, banned bool) error {
	now := s.now()
	if err := s.users.Update(ctx, id, UserPatch{Banned: &banned, UpdatedAt: &now}); err != nil {
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", "set banned").
			With("user_id", id.String()).
			Wrap(err)
	}
	return nil
}

// SoftDelete marks the user deleted. The row stays in storage and its email
// and username become available to new users.
func (s *CredentialStore) SoftDelete(ctx context.Context, id ulid.ULID) error {
	deleted := true
	now := s.now()
	if err := s.users.Update(ctx, id, UserPatch{Deleted: &deleted, UpdatedAt: &now}); err != nil {
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", "soft delete").
			With("user_id", id.String()).
			Wrap(err)
	}
	return nil
}

// Restore clears the deleted flag. It fails with a *ValidationError when a
// live user has taken the email or username in the meantime.
func (s *CredentialStore) Restore(ctx context.Context, id ulid.ULID) error {
	user, err := s.users.GetByID(ctx, id, IncludeDeleted)
	if err != nil {
		return oops.Code("USER_RESTORE_FAILED").
			With("user_id", id.String()).
			Wrap(err)
	}
	if !user.Deleted {
		return nil
	}

	verr := &ValidationError{}
	if err := s.checkLive(ctx, verr, user); err != nil {
		return err
	}
	if !verr.empty() {
		return validationFailed(verr)
	}

	deleted := false
	now := s.now()
	if err := s.users.Update(ctx, id, UserPatch{Deleted: &deleted, UpdatedAt: &now}); err != nil {
		return oops.Code("USER_RESTORE_FAILED").
			With("user_id", id.String()).
			Wrap(err)
	}
	return nil
}

// checkLive is checkUnique against live rows only, used when a deleted user
// is brought back.
func (s *CredentialStore) checkLive(ctx context.Context, verr *ValidationError, user *User) error {
	if other, err := s.users.GetByEmail(ctx, user.Email, ExcludeDeleted); err == nil && other.ID != user.ID {
		verr.add("email", ReasonAlreadyExists)
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return oops.Code("USER_LOOKUP_FAILED").With("operation", "check email uniqueness").Wrap(err)
	}
	if user.Username == "" {
		return nil
	}
	if other, err := s.users.GetByUsername(ctx, user.Username, ExcludeDeleted); err == nil && other.ID != user.ID {
		verr.add("username", ReasonAlreadyExists)
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return oops.Code("USER_LOOKUP_FAILED").With("operation", "check username uniqueness").Wrap(err)
	}
	return nil
}

// VerifyPassword checks password against the user's stored hash. On a match
// with a hash made under older settings, the hash is upgraded best-effort.
func (s *CredentialStore) VerifyPassword(ctx context.Context, user *User, password string) (bool, error) {
	ok, err := s.checkPassword(user, password)
	if ok {
		s.upgradeIfNeeded(ctx, user, password)
	}
	return ok, err
}

func (s *CredentialStore) checkPassword(user *User, password string) (bool, error) {
	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return false, oops.Code("USER_VERIFY_FAILED").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	return ok, nil
}

func (s *CredentialStore) upgradeIfNeeded(ctx context.Context, user *User, password string) {
	if !s.hasher.NeedsUpgrade(user.PasswordHash) {
		return
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		errutil.LogError(ctx, s.logger, "failed to rehash password", err)
		return
	}
	if err := s.users.Update(ctx, user.ID, UserPatch{PasswordHash: &hash}); err != nil {
		errutil.LogError(ctx, s.logger, "failed to store upgraded password hash", oops.
			With("user_id", user.ID.String()).
			Wrap(err))
		return
	}
	user.PasswordHash = hash
	s.logger.InfoContext(ctx, "upgraded password hash", "user_id", user.ID.String())
}

func validationFailed(verr *ValidationError) error {
	return oops.Code("USER_VALIDATION_FAILED").
		With("fields", verr.Fields).
		Wrap(verr)
}

// recordSpanError marks the span failed and returns err unchanged.
func recordSpanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
