package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	apperr "github.com/alexjbarnes/focus-sync/internal/errors"
	"github.com/alexjbarnes/focus-sync/internal/localstore"
	"github.com/alexjbarnes/focus-sync/internal/realtime"
	"github.com/alexjbarnes/focus-sync/internal/syncengine"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// flushGrace bounds the final upload on shutdown beyond one debounce
// window.
const flushGrace = 5 * time.Second

func pushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push",
		Short: "Upload the local document now",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			if err := a.engine.Upload(cmd.Context()); err != nil {
				return userError(err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "uploaded")

			return nil
		}),
	}
}

func pullCmd() *cobra.Command {
	var ifAbsent bool

	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Merge the server's document into local data (server wins)",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			if err := a.writable(); err != nil {
				return err
			}

			strategy := syncengine.StrategyServerWins
			if ifAbsent {
				strategy = syncengine.StrategyUploadIfAbsent
			}

			if err := a.engine.Pull(cmd.Context(), strategy); err != nil {
				return userError(err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "pulled (%s)\n", strategy)

			return nil
		}),
	}

	cmd.Flags().BoolVar(&ifAbsent, "if-absent", false, "Only seed the server when it has no document; never overwrite local data")

	return cmd
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run the sync engine until interrupted",
		Long: `Keep this device in sync: upload local changes after a quiet period,
pull once on start, and apply updates from other devices as they arrive.
With LOCAL_STORE=dir, changes written by other processes to the same
directory are observed too.`,
		Args: cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			if err := a.writable(); err != nil {
				return err
			}

			return runWatch(cmd.Context(), cmd, a)
		}),
	}
}

func runWatch(ctx context.Context, cmd *cobra.Command, a *app) error {
	// Debounced uploads keep running past the interrupt; the final flush
	// below stops them.
	a.engine.Start(context.WithoutCancel(ctx))

	for _, sig := range []syncengine.Signal{
		syncengine.SignalCalendarChanged,
		syncengine.SignalFocusAreasChanged,
		syncengine.SignalSyncApplied,
	} {
		off := a.engine.Signals().On(sig, func() {
			a.logger.Debug("signal", slog.String("name", string(sig)))
		})
		defer off()
	}

	offApplied := a.engine.Signals().On(syncengine.SignalSyncApplied, func() {
		fmt.Fprintln(cmd.OutOrStdout(), "remote changes applied")
	})
	defer offApplied()

	if err := a.engine.Bootstrap(ctx); err != nil {
		a.logger.Warn("initial pull failed", slog.String("error", err.Error()))
		fmt.Fprintln(cmd.ErrOrStderr(), userError(err))
	}

	g, gctx := errgroup.WithContext(ctx)

	if dir, ok := a.base.(*localstore.DirStore); ok {
		g.Go(func() error {
			return ignoreCanceled(dir.Watch(gctx, a.store.Bus(), a.logger))
		})
	}

	if a.cfg.Realtime {
		sub := realtime.NewClient(a.cfg.ServerURL, nil, a.logger)

		g.Go(func() error {
			err := a.engine.RunRealtime(gctx, sub)
			if errors.Is(err, apperr.ErrUnauthenticated) {
				return userError(err)
			}

			return ignoreCanceled(err)
		})
	}

	g.Go(func() error {
		<-gctx.Done()

		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.cfg.Debounce+flushGrace)
		defer cancel()

		if err := a.engine.Flush(flushCtx); err != nil {
			a.logger.Warn("final upload failed", slog.String("error", err.Error()))
		}

		a.engine.Stop()

		return nil
	})

	a.logger.Info("watching for changes", slog.String("device", a.cfg.DeviceID))

	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}
