// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"errors"
	"sort"
	"strings"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when storage rejects a write because of a
// uniqueness violation that slipped past the application-level checks.
var ErrConflict = errors.New("conflict")

// ConflictError reports the unique field storage rejected. It matches
// ErrConflict and unwraps to the storage error.
type ConflictError struct {
	Field string
	Err   error
}

// NewConflictError creates a ConflictError for field caused by err.
func NewConflictError(field string, err error) *ConflictError {
	return &ConflictError{Field: field, Err: err}
}

func (e *ConflictError) Error() string {
	msg := "conflict"
	if e.Field != "" {
		msg += " on " + e.Field
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is reports whether target is ErrConflict.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// ErrTokenInvalid is the single public failure for a login token that has no
// matching selector or whose verifier does not match. The two cases are never
// distinguished outside of logs.
var ErrTokenInvalid = errors.New("invalid login token")

// ErrTokenExpired is returned when a correctly presented login token is past
// its expiry.
var ErrTokenExpired = errors.New("login token expired")

// ValidationError collects field-level failures (field name -> reason).
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+e.Fields[name])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// add records a failure for field, keeping the first reason reported.
func (e *ValidationError) add(field, reason string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, exists := e.Fields[field]; !exists {
		e.Fields[field] = reason
	}
}

// empty reports whether no failures were recorded.
func (e *ValidationError) empty() bool {
	return len(e.Fields) == 0
}
