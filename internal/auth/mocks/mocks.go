// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package mocks provides testify mocks for the auth repository and hasher
// interfaces.
package mocks

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/holomush/authcore/internal/auth"
)

// TestingT is the subset of testing.T the constructors need.
type TestingT interface {
	mock.TestingT
	Cleanup(func())
}

// MockUserRepository is a mock auth.UserRepository.
type MockUserRepository struct {
	mock.Mock
}

// NewMockUserRepository creates a MockUserRepository whose expectations are
// asserted when the test ends.
func NewMockUserRepository(t TestingT) *MockUserRepository {
	m := &MockUserRepository{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Create implements auth.UserRepository.
func (m *MockUserRepository) Create(ctx context.Context, user *auth.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

// GetByID implements auth.UserRepository.
func (m *MockUserRepository) GetByID(ctx context.Context, id ulid.ULID, visibility auth.Visibility) (*auth.User, error) {
	args := m.Called(ctx, id, visibility)
	return userArg(args, 0), args.Error(1)
}

// GetByEmail implements auth.UserRepository.
func (m *MockUserRepository) GetByEmail(ctx context.Context, email string, visibility auth.Visibility) (*auth.User, error) {
	args := m.Called(ctx, email, visibility)
	return userArg(args, 0), args.Error(1)
}

// GetByUsername implements auth.UserRepository.
func (m *MockUserRepository) GetByUsername(ctx context.Context, username string, visibility auth.Visibility) (*auth.User, error) {
	args := m.Called(ctx, username, visibility)
	return userArg(args, 0), args.Error(1)
}

// Update implements auth.UserRepository.
func (m *MockUserRepository) Update(ctx context.Context, id ulid.ULID, patch auth.UserPatch) error {
	args := m.Called(ctx, id, patch)
	return args.Error(0)
}

func userArg(args mock.Arguments, i int) *auth.User {
	if u, ok := args.Get(i).(*auth.User); ok {
		return u
	}
	return nil
}

// MockLoginTokenRepository is a mock auth.LoginTokenRepository.
type MockLoginTokenRepository struct {
	mock.Mock
}

// NewMockLoginTokenRepository creates a MockLoginTokenRepository whose
// expectations are asserted when the test ends.
func NewMockLoginTokenRepository(t TestingT) *MockLoginTokenRepository {
	m := &MockLoginTokenRepository{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Create implements auth.LoginTokenRepository.
func (m *MockLoginTokenRepository) Create(ctx context.Context, token *auth.LoginToken) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

// GetBySelector implements auth.LoginTokenRepository.
func (m *MockLoginTokenRepository) GetBySelector(ctx context.Context, selector string) (*auth.LoginToken, error) {
	args := m.Called(ctx, selector)
	token, _ := args.Get(0).(*auth.LoginToken)
	return token, args.Error(1)
}

// ListByUser implements auth.LoginTokenRepository.
func (m *MockLoginTokenRepository) ListByUser(ctx context.Context, userID ulid.ULID) ([]*auth.LoginToken, error) {
	args := m.Called(ctx, userID)
	tokens, _ := args.Get(0).([]*auth.LoginToken)
	return tokens, args.Error(1)
}

// Extend implements auth.LoginTokenRepository.
func (m *MockLoginTokenRepository) Extend(ctx context.Context, id ulid.ULID, expiresAt, updatedAt time.Time) error {
	args := m.Called(ctx, id, expiresAt, updatedAt)
	return args.Error(0)
}

// Delete implements auth.LoginTokenRepository.
func (m *MockLoginTokenRepository) Delete(ctx context.Context, userID, id ulid.ULID) error {
	args := m.Called(ctx, userID, id)
	return args.Error(0)
}

// DeleteByUser implements auth.LoginTokenRepository.
func (m *MockLoginTokenRepository) DeleteByUser(ctx context.Context, userID ulid.ULID, expiredBefore *time.Time) (int64, error) {
	args := m.Called(ctx, userID, expiredBefore)
	return args.Get(0).(int64), args.Error(1)
}

// DeleteExpired implements auth.LoginTokenRepository.
func (m *MockLoginTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

// MockPasswordHasher is a mock auth.PasswordHasher.
type MockPasswordHasher struct {
	mock.Mock
}

// NewMockPasswordHasher creates a MockPasswordHasher whose expectations are
// asserted when the test ends.
func NewMockPasswordHasher(t TestingT) *MockPasswordHasher {
	m := &MockPasswordHasher{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Hash implements auth.PasswordHasher.
func (m *MockPasswordHasher) Hash(password string) (string, error) {
	args := m.Called(password)
	return args.String(0), args.Error(1)
}

// Verify implements auth.PasswordHasher.
func (m *MockPasswordHasher) Verify(password, hash string) (bool, error) {
	args := m.Called(password, hash)
	return args.Bool(0), args.Error(1)
}

// NeedsUpgrade implements auth.PasswordHasher.
func (m *MockPasswordHasher) NeedsUpgrade(hash string) bool {
	args := m.Called(hash)
	return args.Bool(0)
}

// Verify interfaces are satisfied.
var (
	_ auth.UserRepository       = (*MockUserRepository)(nil)
	_ auth.LoginTokenRepository = (*MockLoginTokenRepository)(nil)
	_ auth.PasswordHasher       = (*MockPasswordHasher)(nil)
)
