package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jinjinsansan/mentenansu-sub000/internal/model"
	"github.com/jinjinsansan/mentenansu-sub000/internal/statusapi"
	dsync "github.com/jinjinsansan/mentenansu-sub000/internal/sync"
)

func newDaemonCommand(opts *rootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run continuously: watch connectivity and auto-sync on a timer",
		Long: `Run until interrupted. The remote store is probed on probe_interval;
while it is reachable and auto-sync is enabled a pass runs every
sync_interval. When status_addr is set a local HTTP API exposes the sync
status and manual triggers.

On an empty device with remote data the daemon first offers a restore.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd, opts, yes)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "restore an empty device without asking")
	return cmd
}

func runDaemon(cmd *cobra.Command, opts *rootOptions, yes bool) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.openRemote(); err != nil {
		return err
	}

	// --- First-run bootstrap -------------------------------------------------

	// An unreachable remote is not fatal; the watcher picks it up later.
	userID, err := a.connect(ctx)
	switch {
	case err == nil:
		b := a.bootstrap(os.Stdin, cmd.OutOrStdout())
		b.AssumeYes = yes
		if _, err := b.Run(ctx, userID); err != nil && !errors.Is(err, model.ErrUnreachable) {
			return fmt.Errorf("first-run bootstrap: %w", err)
		}
	case isCancelled(err):
		return nil
	default:
		a.log.Warn("remote store not reachable at startup, working offline", "error", err)
	}

	// --- Scheduler and watcher -----------------------------------------------

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sched := dsync.NewScheduler(a.reconciler(), a.local, a.cfg.SyncInterval, a.cfg.PassTimeout, a.log)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer sched.Stop()

	watcher := dsync.NewWatcher(a.remote, a.remote, a.cfg.DisplayName, sched, a.cfg.ProbeInterval, a.log)
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		watcher.Run(ctx)
	}()

	// --- Status API (optional) -----------------------------------------------

	srvErr := make(chan error, 1)
	if addr := a.cfg.StatusAddr; addr != "" {
		srv := statusapi.New(sched, statusapi.Options{}, a.log)
		go func() { srvErr <- srv.Serve(ctx, addr) }()
	}

	a.log.Info("daemon started",
		"sync_interval", a.cfg.SyncInterval,
		"probe_interval", a.cfg.ProbeInterval,
		"status_addr", a.cfg.StatusAddr,
	)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-srvErr:
		a.log.Error("status API stopped", "error", runErr)
		cancel()
	}

	<-watchDone
	a.log.Info("shutdown complete")
	return runErr
}
