package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jinjinsansan/mentenansu-sub000/internal/config"
	"github.com/jinjinsansan/mentenansu-sub000/internal/localstore"
	"github.com/jinjinsansan/mentenansu-sub000/internal/remote"
	dsync "github.com/jinjinsansan/mentenansu-sub000/internal/sync"
	"github.com/jinjinsansan/mentenansu-sub000/internal/telemetry"
)

// app bundles the components one command invocation needs. The remote store
// is opened only by commands that talk to it.
type app struct {
	cfg       *config.Config
	log       *slog.Logger
	localPath string
	local     *localstore.Store
	remote    *remote.PostgresStore

	shutdown []func()
}

// newApp loads the config, sets up logging and telemetry, and opens the
// local store.
func newApp(ctx context.Context, opts *rootOptions) (*app, error) {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	text := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	logger := slog.New(text)
	slog.SetDefault(logger)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("loading config from %q: %w", opts.ConfigPath, err)
	}

	a := &app{cfg: cfg, log: logger}

	if cfg.Telemetry != nil {
		shutdownTel, err := telemetry.Setup(ctx, telemetry.Config{
			OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
			Insecure:       cfg.Telemetry.Insecure,
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: version,
			Headers:        cfg.Telemetry.Headers,
		})
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			a.log = slog.New(telemetry.NewLogHandler(text, nil))
			slog.SetDefault(a.log)
			a.log.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
			a.shutdown = append(a.shutdown, func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTel(flushCtx); err != nil {
					logger.Error("telemetry shutdown error", "error", err)
				}
			})
		}
	}

	a.localPath = cfg.LocalPath
	if a.localPath == "" {
		if a.localPath, err = localstore.DefaultPath(); err != nil {
			a.Close()
			return nil, fmt.Errorf("resolving local store path: %w", err)
		}
	}
	a.local, err = localstore.Open(a.localPath)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("opening local store at %q: %w", a.localPath, err)
	}
	a.shutdown = append(a.shutdown, func() {
		if err := a.local.Close(); err != nil {
			a.log.Error("closing local store", "error", err)
		}
	})
	a.log.Debug("local store opened", "path", a.localPath)

	return a, nil
}

// openRemote creates the remote client without contacting it.
func (a *app) openRemote() error {
	if a.remote != nil {
		return nil
	}
	rs, err := remote.Open(a.cfg.RemoteDSN, a.log)
	if err != nil {
		return fmt.Errorf("opening remote store: %w", err)
	}
	a.remote = rs
	a.shutdown = append(a.shutdown, func() {
		if err := rs.Close(); err != nil {
			a.log.Error("closing remote store", "error", err)
		}
	})
	return nil
}

// connect pings the remote store and resolves the configured display name.
func (a *app) connect(ctx context.Context) (string, error) {
	if err := a.openRemote(); err != nil {
		return "", err
	}
	a.log.Info("connecting to remote store…")
	if err := a.remote.Ping(ctx); err != nil {
		return "", fmt.Errorf("remote store: %w\n\nCheck remote_dsn in your config file", err)
	}
	userID, err := a.remote.Resolve(ctx, a.cfg.DisplayName)
	if err != nil {
		return "", fmt.Errorf("resolving user %q: %w", a.cfg.DisplayName, err)
	}
	a.log.Info("remote store reachable", "user_id", userID)
	return userID, nil
}

func (a *app) reconciler() *dsync.Reconciler {
	return dsync.NewReconciler(a.local, a.remote, dsync.Options{
		BatchSize:     a.cfg.BatchSize,
		BatchDelay:    a.cfg.BatchDelay,
		BulkThreshold: a.cfg.BulkThreshold,
	}, a.log)
}

// Close releases everything in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.shutdown) - 1; i >= 0; i-- {
		a.shutdown[i]()
	}
	a.shutdown = nil
}

// isCancelled reports whether err is the result of the user interrupting.
func isCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}
