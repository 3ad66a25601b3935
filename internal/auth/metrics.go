// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for login and token validation metrics.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeExpired  = "expired"
	OutcomeBanned   = "banned"
	OutcomeError    = "error"
)

// LoginAttempts counts password logins by outcome.
// Use RegisterMetrics to register this with a Prometheus registry.
var LoginAttempts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "authcore_login_attempts_total",
		Help: "Total number of password login attempts by outcome",
	},
	[]string{"outcome"},
)

// TokenValidations counts login token validations by outcome. Unknown
// selectors and verifier mismatches share the "rejected" outcome.
var TokenValidations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "authcore_login_token_validations_total",
		Help: "Total number of login token validations by outcome",
	},
	[]string{"outcome"},
)

// TokensIssued counts issued login tokens.
var TokensIssued = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "authcore_login_tokens_issued_total",
		Help: "Total number of login tokens issued",
	},
)

// TokensRevoked counts deleted login tokens by revoke scope.
var TokensRevoked = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "authcore_login_tokens_revoked_total",
		Help: "Total number of login tokens deleted by scope",
	},
	[]string{"scope"},
)

// BookkeepingFailures counts failed last_login/last_activity writes.
var BookkeepingFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "authcore_bookkeeping_failures_total",
		Help: "Total number of failed activity timestamp writes",
	},
	[]string{"field"},
)

var passwordHashDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "authcore_password_hash_seconds",
		Help:    "Password hashing duration in seconds",
		Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5},
	},
	[]string{"algorithm"},
)

// RegisterMetrics registers auth package metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(LoginAttempts)
	reg.MustRegister(TokenValidations)
	reg.MustRegister(TokensIssued)
	reg.MustRegister(TokensRevoked)
	reg.MustRegister(BookkeepingFailures)
	reg.MustRegister(passwordHashDuration)
}
