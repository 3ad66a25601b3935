// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"crypto/rand"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope for auth spans.
const tracerName = "github.com/holomush/authcore/internal/auth"

// options holds the collaborators shared by the stores and the service.
type options struct {
	now    func() time.Time
	random io.Reader
	logger *slog.Logger
	tracer trace.Tracer
}

// Option configures a CredentialStore, LoginTokenStore, Service or Sweeper.
type Option func(*options)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithRandom overrides the secure random source used for selectors and verifiers.
func WithRandom(r io.Reader) Option {
	return func(o *options) {
		if r != nil {
			o.random = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTracer sets the OpenTelemetry tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		now:    time.Now,
		random: rand.Reader,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Visibility controls whether soft-deleted users are considered by a lookup.
type Visibility int

// Visibility values.
const (
	ExcludeDeleted Visibility = iota
	IncludeDeleted
)

// QueryOption adjusts a single CredentialStore query.
type QueryOption func(*Visibility)

// WithDeleted makes a query consider soft-deleted users.
func WithDeleted() QueryOption {
	return func(v *Visibility) { *v = IncludeDeleted }
}

// WithoutDeleted makes a query ignore soft-deleted users regardless of policy.
func WithoutDeleted() QueryOption {
	return func(v *Visibility) { *v = ExcludeDeleted }
}
