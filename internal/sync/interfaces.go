// Package sync implements the local-first reconciliation engine for the
// diary. It copies locally authored diary entries and consent records to the
// remote store of record, skipping anything the remote already holds, and
// can restore a device by pulling the remote collections back.
//
// The package contains three main components:
//
//   - [Reconciler] performs one migrate or pull operation.
//   - [Scheduler] decides when a pass runs and guarantees that at most one
//     pass is active at a time.
//   - [Bootstrap] restores an empty device from the remote store.
package sync

import (
	"context"
	"time"

	"github.com/jinjinsansan/mentenansu-sub000/internal/model"
)

// LocalStore provides access to the on-device collections.
// Implemented by [localstore.Store].
type LocalStore interface {
	Entries(ctx context.Context) ([]model.DiaryEntry, error)
	ReplaceEntries(ctx context.Context, entries []model.DiaryEntry) error
	Consents(ctx context.Context) ([]model.ConsentRecord, error)
	ReplaceConsents(ctx context.Context, recs []model.ConsentRecord) error
}

// SettingsStore persists the parts of [SyncState] that survive restarts.
// Implemented by [localstore.Store].
type SettingsStore interface {
	AutoSyncEnabled(ctx context.Context) (bool, error)
	SetAutoSyncEnabled(ctx context.Context, enabled bool) error
	LastSyncTime(ctx context.Context) (time.Time, error)
	SetLastSyncTime(ctx context.Context, t time.Time) error
}

// RemoteStore is the store of record. Calls may fail with an error wrapping
// [model.ErrUnreachable] when the store cannot be contacted.
// Implemented by [remote.PostgresStore].
type RemoteStore interface {
	// EntryExists reports whether an entry with the given dedup key exists.
	EntryExists(ctx context.Context, key model.DedupKey) (bool, error)
	// CreateEntry inserts one entry and fills in its CreatedAt.
	CreateEntry(ctx context.Context, entry *model.DiaryEntry) error
	// UpsertEntries inserts a batch, silently ignoring rows whose dedup key
	// already exists. It returns the number of rows actually inserted.
	UpsertEntries(ctx context.Context, entries []model.DiaryEntry) (int, error)
	ListEntries(ctx context.Context, userID string) ([]model.DiaryEntry, error)
	CountEntries(ctx context.Context, userID string) (int, error)

	ConsentExists(ctx context.Context, username string) (bool, error)
	CreateConsent(ctx context.Context, rec *model.ConsentRecord) error
	ListConsents(ctx context.Context) ([]model.ConsentRecord, error)
	CountConsents(ctx context.Context) (int, error)
}

// UserResolver maps a local display name to a stable remote user ID,
// creating the remote user if needed.
// Implemented by [remote.PostgresStore].
type UserResolver interface {
	Resolve(ctx context.Context, displayName string) (string, error)
}

// ConnectivityProbe reports whether the remote store is reachable: a nil
// error means reachable.
// Implemented by [remote.PostgresStore].
type ConnectivityProbe interface {
	Ping(ctx context.Context) error
}
