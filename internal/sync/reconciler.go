package sync

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/jinjinsansan/mentenansu-sub000/internal/model"
)

// Stats tracks what happened to the records examined by one operation.
type Stats struct {
	Examined int // local records looked at
	Created  int // written to the remote store
	Existing int // already present remotely, nothing written
	Failed   int // per-record failures, skipped until the next pass
}

// PassStats aggregates one full reconciliation pass.
type PassStats struct {
	Entries  Stats
	Consents Stats
	Bulk     bool // entries went through BulkMigrateLocalToRemote
}

// ProgressFunc receives the percentage of batches completed during a bulk
// migration. Values never decrease and reach 100 when the migration finishes.
type ProgressFunc func(percent int)

// Options tunes the reconciler.
type Options struct {
	// BatchSize is the number of rows per upsert during bulk migration.
	BatchSize int
	// BatchDelay is the pause between two bulk batches.
	BatchDelay time.Duration
	// BulkThreshold is the local entry count above which [Reconciler.Pass]
	// uses bulk migration.
	BulkThreshold int
}

// DefaultOptions returns the production tuning: batches of 20, 100ms apart.
func DefaultOptions() Options {
	return Options{
		BatchSize:     20,
		BatchDelay:    100 * time.Millisecond,
		BulkThreshold: 100,
	}
}

// Reconciler copies records between the local and remote stores. It keeps no
// state between calls; dedup against the remote store makes every operation
// safe to repeat.
type Reconciler struct {
	local  LocalStore
	remote RemoteStore
	opts   Options
	log    *slog.Logger
}

// NewReconciler creates a Reconciler wired to the given stores. A non-positive
// batch size or threshold falls back to [DefaultOptions].
func NewReconciler(local LocalStore, remote RemoteStore, opts Options, logger *slog.Logger) *Reconciler {
	def := DefaultOptions()
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.BatchDelay < 0 {
		opts.BatchDelay = 0
	}
	if opts.BulkThreshold <= 0 {
		opts.BulkThreshold = def.BulkThreshold
	}
	return &Reconciler{local: local, remote: remote, opts: opts, log: logger}
}

// Pass runs one full reconciliation: diary entries (bulk when the local
// collection exceeds the threshold) followed by consent records. An
// unreachable remote aborts the pass before consents are attempted.
func (r *Reconciler) Pass(ctx context.Context, userID string) (PassStats, error) {
	var ps PassStats

	if userID == "" {
		return ps, &PassError{Op: "migrate", Err: ErrNoUserIdentity}
	}
	entries, err := r.local.Entries(ctx)
	if err != nil {
		return ps, &PassError{Op: "migrate", Err: fmt.Errorf("reading local entries: %w", err)}
	}

	if len(entries) > r.opts.BulkThreshold {
		ps.Bulk = true
		ps.Entries, err = r.bulkMigrate(ctx, userID, entries, func(p int) {
			r.log.Debug("bulk migration progress", "percent", p)
		})
	} else {
		ps.Entries, err = r.migrate(ctx, userID, entries)
	}
	if err != nil {
		return ps, err
	}

	ps.Consents, err = r.MigrateConsentsToRemote(ctx)
	return ps, err
}

// MigrateLocalToRemote copies every local diary entry that the remote store
// does not yet hold under (userID, date, emotion). Entries without scores are
// written with [model.DefaultScore].
//
// A failed existence check or write is logged and skipped; the entry is
// retried on the next pass. Only an unreachable remote, an unreadable local
// store or context expiry fail the operation.
func (r *Reconciler) MigrateLocalToRemote(ctx context.Context, userID string) (Stats, error) {
	if userID == "" {
		return Stats{}, &PassError{Op: "migrate", Err: ErrNoUserIdentity}
	}
	entries, err := r.local.Entries(ctx)
	if err != nil {
		return Stats{}, &PassError{Op: "migrate", Err: fmt.Errorf("reading local entries: %w", err)}
	}
	return r.migrate(ctx, userID, entries)
}

// migrate is MigrateLocalToRemote over an already-read collection.
func (r *Reconciler) migrate(ctx context.Context, userID string, entries []model.DiaryEntry) (Stats, error) {
	const op = "migrate"
	var stats Stats

	if len(entries) == 0 {
		r.log.Debug("no local entries to migrate")
		return stats, nil
	}

	for i := range entries {
		if err := ctx.Err(); err != nil {
			return stats, &PassError{Op: op, Err: err}
		}

		e := &entries[i]
		stats.Examined++

		created, err := r.migrateEntry(ctx, userID, e)
		if err != nil {
			if isUnreachable(err) {
				return stats, &PassError{Op: op, Err: err}
			}
			r.log.Error("entry migration failed, skipping",
				"id", e.ID,
				"date", e.Date,
				"emotion", e.Emotion,
				"error", err,
			)
			stats.Failed++
			continue
		}
		if created {
			stats.Created++
		} else {
			stats.Existing++
		}
	}

	r.log.Info("entry migration complete",
		"user_id", userID,
		"examined", stats.Examined,
		"created", stats.Created,
		"existing", stats.Existing,
		"failed", stats.Failed,
	)
	return stats, nil
}

// migrateEntry writes e unless its dedup key already exists remotely.
func (r *Reconciler) migrateEntry(ctx context.Context, userID string, e *model.DiaryEntry) (bool, error) {
	key := e.Key(userID)

	exists, err := r.remote.EntryExists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("%w: checking %s: %w", ErrEntryWriteFailed, key, err)
	}
	if exists {
		return false, nil
	}

	row := e.ForRemote(userID)
	if err := r.remote.CreateEntry(ctx, &row); err != nil {
		return false, fmt.Errorf("%w: writing %s: %w", ErrEntryWriteFailed, key, err)
	}
	return true, nil
}

// BulkMigrateLocalToRemote is MigrateLocalToRemote at batch granularity.
// Entries are upserted [Options.BatchSize] at a time with duplicates ignored
// by the remote store, onProgress is told after each batch, and batches are
// spaced [Options.BatchDelay] apart. A failed batch is logged and skipped.
func (r *Reconciler) BulkMigrateLocalToRemote(ctx context.Context, userID string, onProgress ProgressFunc) (Stats, error) {
	const op = "bulk-migrate"

	if userID == "" {
		return Stats{}, &PassError{Op: op, Err: ErrNoUserIdentity}
	}
	entries, err := r.local.Entries(ctx)
	if err != nil {
		return Stats{}, &PassError{Op: op, Err: fmt.Errorf("reading local entries: %w", err)}
	}
	return r.bulkMigrate(ctx, userID, entries, onProgress)
}

// bulkMigrate is BulkMigrateLocalToRemote over an already-read collection.
func (r *Reconciler) bulkMigrate(ctx context.Context, userID string, entries []model.DiaryEntry, onProgress ProgressFunc) (Stats, error) {
	const op = "bulk-migrate"
	var stats Stats

	if onProgress == nil {
		onProgress = func(int) {}
	}
	if len(entries) == 0 {
		r.log.Debug("no local entries to migrate")
		onProgress(100)
		return stats, nil
	}

	batches := chunk(entries, r.opts.BatchSize)
	for i, batch := range batches {
		if i > 0 {
			if err := r.pause(ctx); err != nil {
				return stats, &PassError{Op: op, Err: err}
			}
		}

		rows := make([]model.DiaryEntry, len(batch))
		for j := range batch {
			rows[j] = batch[j].ForRemote(userID)
		}

		stats.Examined += len(rows)
		inserted, err := r.remote.UpsertEntries(ctx, rows)
		if err != nil {
			if isUnreachable(err) {
				return stats, &PassError{Op: op, Err: err}
			}
			r.log.Error("batch upsert failed, skipping",
				"batch", i+1,
				"batches", len(batches),
				"size", len(rows),
				"error", fmt.Errorf("%w: %w", ErrEntryWriteFailed, err),
			)
			stats.Failed += len(rows)
		} else {
			stats.Created += inserted
			stats.Existing += len(rows) - inserted
		}

		onProgress(percent(i+1, len(batches)))
	}

	r.log.Info("bulk migration complete",
		"user_id", userID,
		"batches", len(batches),
		"examined", stats.Examined,
		"created", stats.Created,
		"existing", stats.Existing,
		"failed", stats.Failed,
	)
	return stats, nil
}

// pause waits out the inter-batch delay unless ctx ends first.
func (r *Reconciler) pause(ctx context.Context) error {
	if r.opts.BatchDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(r.opts.BatchDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// PullRemoteToLocal replaces the local diary collection with every remote
// entry owned by userID. Local entries that were never migrated are lost, so
// callers migrate first when unsynced data may exist. It returns the number
// of entries now held locally.
func (r *Reconciler) PullRemoteToLocal(ctx context.Context, userID string) (int, error) {
	const op = "pull"

	if userID == "" {
		return 0, &PassError{Op: op, Err: ErrNoUserIdentity}
	}

	rows, err := r.remote.ListEntries(ctx, userID)
	if err != nil {
		return 0, &PassError{Op: op, Err: fmt.Errorf("listing remote entries: %w", err)}
	}
	if err := r.local.ReplaceEntries(ctx, rows); err != nil {
		return 0, &PassError{Op: op, Err: fmt.Errorf("replacing local entries: %w", err)}
	}

	r.log.Info("pulled remote entries", "user_id", userID, "count", len(rows))
	return len(rows), nil
}

// MigrateConsentsToRemote copies local consent records to the remote store.
// A record is skipped when the remote already holds any record for the same
// username. Nothing is ever deleted on either side.
func (r *Reconciler) MigrateConsentsToRemote(ctx context.Context) (Stats, error) {
	const op = "migrate-consents"
	var stats Stats

	recs, err := r.local.Consents(ctx)
	if err != nil {
		return stats, &PassError{Op: op, Err: fmt.Errorf("reading local consents: %w", err)}
	}
	if len(recs) == 0 {
		r.log.Debug("no local consent records to migrate")
		return stats, nil
	}

	for i := range recs {
		if err := ctx.Err(); err != nil {
			return stats, &PassError{Op: op, Err: err}
		}

		rec := &recs[i]
		stats.Examined++

		created, err := r.migrateConsent(ctx, rec)
		if err != nil {
			if isUnreachable(err) {
				return stats, &PassError{Op: op, Err: err}
			}
			r.log.Error("consent migration failed, skipping",
				"id", rec.ID,
				"username", rec.Username,
				"error", err,
			)
			stats.Failed++
			continue
		}
		if created {
			stats.Created++
		} else {
			stats.Existing++
		}
	}

	r.log.Info("consent migration complete",
		"examined", stats.Examined,
		"created", stats.Created,
		"existing", stats.Existing,
		"failed", stats.Failed,
	)
	return stats, nil
}

func (r *Reconciler) migrateConsent(ctx context.Context, rec *model.ConsentRecord) (bool, error) {
	exists, err := r.remote.ConsentExists(ctx, rec.Username)
	if err != nil {
		return false, fmt.Errorf("%w: checking consent for %q: %w", ErrEntryWriteFailed, rec.Username, err)
	}
	if exists {
		return false, nil
	}

	cp := *rec
	if err := r.remote.CreateConsent(ctx, &cp); err != nil {
		return false, fmt.Errorf("%w: writing consent for %q: %w", ErrEntryWriteFailed, rec.Username, err)
	}
	return true, nil
}

// PullConsentsToLocal replaces the local consent collection with the complete
// remote set, then re-appends every local record whose ID the remote does not
// hold. Consent records are never removed, so a record the remote skipped
// (its username already had one) survives the pull. It returns the number of
// remote records pulled.
func (r *Reconciler) PullConsentsToLocal(ctx context.Context) (int, error) {
	const op = "pull-consents"

	recs, err := r.remote.ListConsents(ctx)
	if err != nil {
		return 0, &PassError{Op: op, Err: fmt.Errorf("listing remote consents: %w", err)}
	}
	local, err := r.local.Consents(ctx)
	if err != nil {
		return 0, &PassError{Op: op, Err: fmt.Errorf("reading local consents: %w", err)}
	}

	merged, kept := mergeConsents(recs, local)
	if err := r.local.ReplaceConsents(ctx, merged); err != nil {
		return 0, &PassError{Op: op, Err: fmt.Errorf("replacing local consents: %w", err)}
	}

	r.log.Info("pulled remote consent records", "count", len(recs), "kept_local", kept)
	return len(recs), nil
}

// --- helpers -----------------------------------------------------------------

// chunk splits entries into consecutive slices of at most size elements.
func chunk(entries []model.DiaryEntry, size int) [][]model.DiaryEntry {
	batches := make([][]model.DiaryEntry, 0, (len(entries)+size-1)/size)
	for start := 0; start < len(entries); start += size {
		end := min(start+size, len(entries))
		batches = append(batches, entries[start:end])
	}
	return batches
}

// mergeConsents returns remote followed by the local records whose ID is not
// in remote, in their local order, and how many local records were kept.
func mergeConsents(remote, local []model.ConsentRecord) ([]model.ConsentRecord, int) {
	seen := make(map[string]struct{}, len(remote))
	for _, rec := range remote {
		seen[rec.ID] = struct{}{}
	}
	merged := append(make([]model.ConsentRecord, 0, len(remote)+len(local)), remote...)
	kept := 0
	for _, rec := range local {
		if _, ok := seen[rec.ID]; ok {
			continue
		}
		merged = append(merged, rec)
		kept++
	}
	return merged, kept
}

// percent returns round(done/total*100).
func percent(done, total int) int {
	return int(math.Round(float64(done) / float64(total) * 100))
}
