// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/authcore/internal/auth"
)

// readinessTimeout bounds the database ping behind /healthz/readiness.
const readinessTimeout = 2 * time.Second

// newSweepCmd creates the sweep command, which purges expired login tokens
// on an interval until interrupted.
func newSweepCmd(a *app) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Periodically delete expired login tokens",
		Long: `Run the expired login token sweeper. It purges immediately and then
once per sweeper.interval until it receives SIGINT or SIGTERM. When
metrics.addr is set it serves /metrics, /healthz/liveness and
/healthz/readiness on that address.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSweep(ctx, cmd, a, once)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "purge once and exit")

	return cmd
}

func runSweep(ctx context.Context, cmd *cobra.Command, a *app, once bool) error {
	st, err := a.openStores(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	sweeper, err := auth.NewSweeper(st.tokens, a.cfg.Sweeper.Interval, auth.WithLogger(a.logger))
	if err != nil {
		return err
	}

	if once {
		n, err := sweeper.RunOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "purged %d expired login tokens\n", n)
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.cfg.Metrics.Addr != "" {
		obs := a.deps.ObservabilityServerFactory(a.cfg.Metrics.Addr, func() bool {
			pingCtx, pingCancel := context.WithTimeout(context.Background(), readinessTimeout)
			defer pingCancel()
			return st.backend.Ping(pingCtx) == nil
		})
		errCh, err := obs.Start()
		if err != nil {
			return oops.With("operation", "start observability server").Wrap(err)
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if stopErr := obs.Stop(shutdownCtx); stopErr != nil {
				a.logger.Warn("failed to stop observability server", "error", stopErr)
			}
		}()
		go monitorServerErrors(ctx, cancel, errCh, "observability")

		metrics := obs.Metrics()
		sweeper.OnSweep(func(purged int64, err error) {
			metrics.RecordSweep(purged, err, time.Now())
		})
	}

	a.logger.Info("login token sweeper started",
		"interval", a.cfg.Sweeper.Interval.String(),
		"driver", a.cfg.Database.Driver,
		"metrics_addr", a.cfg.Metrics.Addr,
	)
	if err := sweeper.Run(ctx); err != nil {
		return err
	}
	a.logger.Info("login token sweeper stopped")
	return nil
}

// monitorServerErrors cancels ctx when a background server reports an error.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, name string) {
	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			slog.Error("server failed", "server", name, "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
