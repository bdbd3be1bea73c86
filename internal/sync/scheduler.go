package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const (
	otelScope             = "diarysync/sync"
	spanPass              = "sync.pass"
	metricEntriesCreated  = "diarysync.sync.entries.created"
	metricEntriesFailed   = "diarysync.sync.entries.failed"
	metricConsentsCreated = "diarysync.sync.consents.created"
	metricPassesDropped   = "diarysync.sync.passes.dropped"
	metricPassErrors      = "diarysync.sync.pass.errors"
)

const (
	// DefaultInterval is the auto-sync period.
	DefaultInterval = 5 * time.Minute

	// DefaultPassTimeout bounds a single pass.
	DefaultPassTimeout = 2 * time.Minute

	// settingsTimeout bounds persisting the last sync time after a pass.
	settingsTimeout = 5 * time.Second
)

// Passer runs one reconciliation pass for a user. Implemented by [Reconciler].
type Passer interface {
	Pass(ctx context.Context, userID string) (PassStats, error)
}

// Scheduler decides when reconciliation passes run. Every drive path (the
// periodic timer, a manual trigger, enabling auto-sync, the remote becoming
// reachable or the user being resolved) goes through one guarded entry point,
// so at most one pass is ever active. Create one with [NewScheduler] and call
// [Scheduler.Start] before use.
type Scheduler struct {
	passer      Passer
	settings    SettingsStore
	interval    time.Duration
	passTimeout time.Duration
	log         *slog.Logger
	now         func() time.Time

	mu        sync.Mutex
	state     SyncState
	connected bool
	userID    string
	ctx       context.Context // lifetime context set by Start
	stopTimer chan struct{}   // non-nil while the timer is armed
	stopped   bool

	timers sync.WaitGroup
	passes sync.WaitGroup

	// OTel instruments, never nil (no-op when telemetry is disabled).
	tracer           trace.Tracer
	cntEntries       metric.Int64Counter
	cntEntriesFailed metric.Int64Counter
	cntConsents      metric.Int64Counter
	cntDropped       metric.Int64Counter
	cntErrors        metric.Int64Counter
}

// NewScheduler creates a Scheduler. A non-positive interval or pass timeout
// falls back to [DefaultInterval] and [DefaultPassTimeout].
func NewScheduler(passer Passer, settings SettingsStore, interval, passTimeout time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if passTimeout <= 0 {
		passTimeout = DefaultPassTimeout
	}

	meter := otel.Meter(otelScope)
	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Scheduler{
		passer:      passer,
		settings:    settings,
		interval:    interval,
		passTimeout: passTimeout,
		log:         logger,
		now:         func() time.Time { return time.Now().UTC() },

		tracer:           otel.Tracer(otelScope),
		cntEntries:       mustCounter(metricEntriesCreated, "Diary entries written to the remote store"),
		cntEntriesFailed: mustCounter(metricEntriesFailed, "Diary entries skipped after a per-record failure"),
		cntConsents:      mustCounter(metricConsentsCreated, "Consent records written to the remote store"),
		cntDropped:       mustCounter(metricPassesDropped, "Triggers dropped because a pass was already running"),
		cntErrors:        mustCounter(metricPassErrors, "Passes that ended with a top-level error"),
	}
}

// Start loads the persisted settings and binds the scheduler to ctx. The
// timer and background passes stop when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	enabled, err := s.settings.AutoSyncEnabled(ctx)
	if err != nil {
		return fmt.Errorf("loading auto-sync flag: %w", err)
	}
	last, err := s.settings.LastSyncTime(ctx)
	if err != nil {
		// A corrupt timestamp only affects the read model.
		s.log.Warn("ignoring unreadable last sync time", "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	s.state.AutoSyncEnabled = enabled
	s.state.LastSyncTime = last
	s.rearmLocked()

	s.log.Info("sync scheduler started",
		"auto_sync", enabled,
		"interval", s.interval,
		"last_sync", last,
	)
	return nil
}

// Stop disarms the timer and waits for any running pass to finish. Passes are
// never interrupted mid-flight.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.disarmLocked()
	s.mu.Unlock()

	s.timers.Wait()
	s.passes.Wait()
	s.log.Info("sync scheduler stopped")
}

// Wait blocks until passes started in the background by SetConnected,
// SetUser or ToggleAutoSync have finished.
func (s *Scheduler) Wait() {
	s.passes.Wait()
}

// Status returns a snapshot of the read model.
func (s *Scheduler) Status() SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SyncStatus{
		Enabled:      s.state.AutoSyncEnabled,
		LastSyncTime: s.state.LastSyncTime,
		InProgress:   s.state.SyncInProgress,
		LastError:    s.state.SyncError,
		Connected:    s.connected,
		UserID:       s.userID,
	}
}

// SetConnected records the remote store's reachability. Becoming reachable
// with auto-sync enabled and a resolved user starts a pass immediately.
func (s *Scheduler) SetConnected(connected bool) {
	s.transition(func() { s.connected = connected }, "connectivity")
}

// SetUser records the resolved remote user ID. An empty ID means the user is
// not known and disarms the timer.
func (s *Scheduler) SetUser(userID string) {
	s.transition(func() { s.userID = userID }, "user-ready")
}

// transition applies change and starts a pass in the background if it made
// the scheduler ready.
func (s *Scheduler) transition(change func(), trigger string) {
	s.mu.Lock()
	was := s.readyLocked()
	change()
	now := s.readyLocked()
	s.rearmLocked()
	s.mu.Unlock()

	if !was && now {
		s.kick(trigger)
	}
}

// ToggleAutoSync persists the auto-sync flag and re-arms the timer. Enabling
// it while connected with a resolved user starts one pass right away, in the
// background. Disabling it only prevents future passes.
func (s *Scheduler) ToggleAutoSync(ctx context.Context, enabled bool) error {
	if err := s.settings.SetAutoSyncEnabled(ctx, enabled); err != nil {
		return fmt.Errorf("persisting auto-sync flag: %w", err)
	}

	s.mu.Lock()
	was := s.state.AutoSyncEnabled
	s.state.AutoSyncEnabled = enabled
	start := !was && s.readyLocked()
	s.rearmLocked()
	s.mu.Unlock()

	s.log.Info("auto-sync toggled", "enabled", enabled)
	if start {
		s.kick("toggle")
	}
	return nil
}

// TriggerManualSync runs one pass now and returns its error. It fails with
// [ErrNotConnected] when the remote is unreachable or the user is unknown,
// and with [ErrPassInProgress], doing nothing, while another pass runs.
// Cancelling ctx does not interrupt a pass once it has begun.
func (s *Scheduler) TriggerManualSync(ctx context.Context) error {
	s.mu.Lock()
	connected, userID := s.connected, s.userID
	s.mu.Unlock()

	if !connected {
		return ErrNotConnected
	}
	if userID == "" {
		return fmt.Errorf("%w: %w", ErrNotConnected, ErrNoUserIdentity)
	}
	return s.run(ctx, "manual")
}

// run is the single guarded entry point for every pass.
func (s *Scheduler) run(parent context.Context, trigger string) (err error) {
	s.mu.Lock()
	if !s.state.Begin() {
		s.mu.Unlock()
		s.cntDropped.Add(parent, 1, metric.WithAttributes(attribute.String("sync.trigger", trigger)))
		s.log.Debug("sync pass already running, trigger dropped", "trigger", trigger)
		return ErrPassInProgress
	}
	userID := s.userID
	s.mu.Unlock()

	defer func() { s.finish(parent, err) }()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.passTimeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, spanPass, trace.WithAttributes(
		attribute.String("sync.trigger", trigger),
	))
	defer span.End()

	s.log.Info("sync pass started", "trigger", trigger, "user_id", userID)
	stats, err := s.passer.Pass(ctx, userID)

	// Counters are no-ops when telemetry is disabled.
	if stats.Entries.Created > 0 {
		s.cntEntries.Add(ctx, int64(stats.Entries.Created))
	}
	if stats.Entries.Failed > 0 {
		s.cntEntriesFailed.Add(ctx, int64(stats.Entries.Failed))
	}
	if stats.Consents.Created > 0 {
		s.cntConsents.Add(ctx, int64(stats.Consents.Created))
	}

	span.SetAttributes(
		attribute.Bool("sync.bulk", stats.Bulk),
		attribute.Int("sync.entries.created", stats.Entries.Created),
		attribute.Int("sync.entries.existing", stats.Entries.Existing),
		attribute.Int("sync.entries.failed", stats.Entries.Failed),
		attribute.Int("sync.consents.created", stats.Consents.Created),
	)
	if err != nil {
		s.cntErrors.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	s.log.Info("sync pass complete",
		"trigger", trigger,
		"entries_created", stats.Entries.Created,
		"entries_existing", stats.Entries.Existing,
		"entries_failed", stats.Entries.Failed,
		"consents_created", stats.Consents.Created,
	)
	return nil
}

// finish releases the guard on every exit path and persists the pass time on
// success.
func (s *Scheduler) finish(parent context.Context, err error) {
	at := s.now()

	s.mu.Lock()
	s.state.Finish(err, at)
	s.mu.Unlock()

	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), settingsTimeout)
	defer cancel()
	if perr := s.settings.SetLastSyncTime(ctx, at); perr != nil {
		s.log.Warn("persisting last sync time failed", "error", perr)
	}
}

// kick starts a pass in the background on behalf of a state transition.
func (s *Scheduler) kick(trigger string) {
	s.mu.Lock()
	if s.stopped || s.ctx == nil {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	s.passes.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.passes.Done()
		if err := s.run(ctx, trigger); err != nil && !errors.Is(err, ErrPassInProgress) {
			s.log.Error("sync pass failed", "trigger", trigger, "error", err)
		}
	}()
}

// --- timer -------------------------------------------------------------------

// readyLocked reports whether the timer should be armed.
func (s *Scheduler) readyLocked() bool {
	return s.state.AutoSyncEnabled && s.connected && s.userID != ""
}

// rearmLocked arms or disarms the timer to match the current conditions.
func (s *Scheduler) rearmLocked() {
	want := s.readyLocked() && s.ctx != nil && !s.stopped
	armed := s.stopTimer != nil
	switch {
	case want && !armed:
		s.armLocked()
	case !want && armed:
		s.disarmLocked()
		s.log.Debug("sync timer disarmed")
	}
}

// armLocked starts a fresh timer goroutine, stopping any previous one first.
func (s *Scheduler) armLocked() {
	s.disarmLocked()
	stop := make(chan struct{})
	s.stopTimer = stop
	s.timers.Add(1)
	go s.tick(s.ctx, stop)
	s.log.Debug("sync timer armed", "interval", s.interval)
}

func (s *Scheduler) disarmLocked() {
	if s.stopTimer != nil {
		close(s.stopTimer)
		s.stopTimer = nil
	}
}

// tick runs a pass every interval until stop is closed or ctx ends.
func (s *Scheduler) tick(ctx context.Context, stop <-chan struct{}) {
	defer s.timers.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			// The timer may have been disarmed while this tick was pending.
			select {
			case <-stop:
				return
			default:
			}
			if err := s.run(ctx, "timer"); err != nil && !errors.Is(err, ErrPassInProgress) {
				s.log.Error("scheduled sync pass failed", "error", err)
			}
		}
	}
}
