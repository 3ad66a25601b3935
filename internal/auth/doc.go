// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth provides credential storage and remember-me login tokens.
//
// # Stores
//
//   - CredentialStore - user records, password policy, uniqueness and ban checks
//   - LoginTokenStore - selector/verifier tokens: issue, validate, revoke
//
// The stores never call each other. Service composes them into the login
// flow, and Sweeper purges expired tokens in the background.
//
// # Login tokens
//
// A token is a pair of a public selector and a secret verifier. Only a
// SHA-256 hash of the verifier is stored. Validation looks the row up by
// selector and compares hashes in constant time. An unknown selector and a
// wrong verifier produce the same error (ErrTokenInvalid); the distinction is
// only logged.
//
// # Persistence
//
// Storage is behind UserRepository and LoginTokenRepository. The postgres and
// sqlite subpackages implement both; uniqueness is enforced there by unique
// indexes and surfaced as ErrConflict.
package auth
