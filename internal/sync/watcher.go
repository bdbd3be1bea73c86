package sync

import (
	"context"
	"log/slog"
	"time"
)

// DefaultProbeInterval is how often the Watcher checks the remote store.
const DefaultProbeInterval = 30 * time.Second

// Reachability receives the results of connectivity probes.
// Implemented by [Scheduler].
type Reachability interface {
	SetConnected(connected bool)
	SetUser(userID string)
}

// Watcher probes the remote store and feeds reachability and the resolved
// user ID to a [Reachability] sink. The user is resolved once, on the first
// successful probe; afterwards only reachability changes are reported.
type Watcher struct {
	probe       ConnectivityProbe
	resolver    UserResolver
	displayName string
	sink        Reachability
	interval    time.Duration
	log         *slog.Logger

	connected bool
	userID    string
}

// NewWatcher creates a Watcher. A non-positive interval falls back to
// [DefaultProbeInterval].
func NewWatcher(probe ConnectivityProbe, resolver UserResolver, displayName string, sink Reachability, interval time.Duration, logger *slog.Logger) *Watcher {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	return &Watcher{
		probe:       probe,
		resolver:    resolver,
		displayName: displayName,
		sink:        sink,
		interval:    interval,
		log:         logger,
	}
}

// Run probes immediately and then every interval until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Probe(ctx)
		}
	}
}

// Probe performs one connectivity check. It is not safe for concurrent use;
// Run calls it from a single goroutine.
func (w *Watcher) Probe(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, w.interval)
	defer cancel()

	if err := w.probe.Ping(pctx); err != nil {
		w.setConnected(false, err)
		return
	}

	if w.userID == "" {
		id, err := w.resolver.Resolve(pctx, w.displayName)
		if err != nil {
			w.log.Warn("resolving remote user failed", "display_name", w.displayName, "error", err)
			if isUnreachable(err) {
				w.setConnected(false, err)
				return
			}
		} else {
			w.userID = id
			w.log.Info("remote user resolved", "display_name", w.displayName, "user_id", id)
			w.sink.SetUser(id)
		}
	}

	w.setConnected(true, nil)
}

func (w *Watcher) setConnected(connected bool, cause error) {
	if connected != w.connected {
		if connected {
			w.log.Info("remote store reachable")
		} else {
			w.log.Warn("remote store unreachable", "error", cause)
		}
	}
	w.connected = connected
	w.sink.SetConnected(connected)
}
