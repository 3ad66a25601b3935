// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/authcore/pkg/errutil"
)

// Sweeper retry settings for a single purge pass.
const (
	sweepMaxRetries  = 3
	sweepBackoffBase = 200 * time.Millisecond
)

// Sweeper periodically deletes expired login tokens.
type Sweeper struct {
	tokens   *LoginTokenStore
	interval time.Duration
	logger   *slog.Logger
	observe  func(purged int64, err error)
}

// NewSweeper creates a Sweeper that purges every interval.
func NewSweeper(tokens *LoginTokenStore, interval time.Duration, opts ...Option) (*Sweeper, error) {
	if tokens == nil {
		return nil, oops.Errorf("login token store is required")
	}
	if interval <= 0 {
		return nil, oops.Code("SWEEPER_INVALID_INTERVAL").
			With("interval", interval.String()).
			Errorf("sweep interval must be positive")
	}
	o := buildOptions(opts)
	return &Sweeper{tokens: tokens, interval: interval, logger: o.logger}, nil
}

// OnSweep registers fn to be called after every pass Run makes, except a
// pass cut short by cancellation. It must be called before Run.
func (s *Sweeper) OnSweep(fn func(purged int64, err error)) {
	s.observe = fn
}

// Run purges immediately and then once per interval until ctx is cancelled.
// Failed passes are logged and do not stop the loop.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		purged, err := s.RunOnce(ctx)
		if ctx.Err() == nil {
			if err != nil {
				errutil.LogError(ctx, s.logger, "login token sweep failed", err)
			}
			if s.observe != nil {
				s.observe(purged, err)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single purge, retrying transient failures with
// exponential backoff. It returns the number of tokens deleted.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	backoff := retry.WithMaxRetries(sweepMaxRetries, retry.NewExponential(sweepBackoffBase))

	var purged int64
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		n, err := s.tokens.PurgeExpired(ctx)
		if err != nil {
			s.logger.WarnContext(ctx, "login token purge attempt failed", "error", err)
			return retry.RetryableError(err)
		}
		purged = n
		return nil
	})
	if err != nil {
		return 0, oops.Code("SWEEPER_PURGE_FAILED").Wrap(err)
	}

	if purged > 0 {
		s.logger.InfoContext(ctx, "purged expired login tokens", "count", purged)
	}
	return purged, nil
}
