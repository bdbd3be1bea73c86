// Package localstore is the on-device record store: a SQLite table of
// key-addressed JSON blobs. It holds the journal and consent collections plus
// the persisted sync settings and knows nothing about synchronisation.
//
// Only this package may open or query the local database. All other packages
// receive a [*Store] and call its methods.
package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/jinjinsansan/mentenansu-sub000/internal/model"
)

// Blob keys.
const (
	KeyJournalEntries   = "journalEntries"
	KeyConsentHistories = "consentHistories"
	KeyAutoSyncEnabled  = "autoSyncEnabled"
	KeyLastSyncTime     = "lastSyncTime"
)

const schema = `
CREATE TABLE IF NOT EXISTS blobs (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at TEXT NOT NULL DEFAULT ''
);
`

// Store is the SQLite-backed local blob store.
type Store struct {
	db *sql.DB
}

// DefaultPath returns the default path for the local database:
// ~/.local/share/diarysync/local.db
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "diarysync", "local.db"), nil
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating local store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the blob stored under key. ok is false if the key is unset.
func (s *Store) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT value FROM blobs WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading %q: %w", key, err)
	}
	return value, true, nil
}

// Put stores value under key, replacing any previous blob.
func (s *Store) Put(ctx context.Context, key, value string) error {
	return put(ctx, s.db, key, value)
}

// execer matches both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func put(ctx context.Context, ex execer, key, value string) error {
	const q = `
		INSERT INTO blobs (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
		    value      = excluded.value,
		    updated_at = excluded.updated_at`
	if _, err := ex.ExecContext(ctx, q, key, value, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("writing %q: %w", key, err)
	}
	return nil
}

// --- Journal entries ---------------------------------------------------------

// Entries returns the journal collection, newest first. A missing blob is an
// empty collection.
func (s *Store) Entries(ctx context.Context) ([]model.DiaryEntry, error) {
	var entries []model.DiaryEntry
	if err := s.getJSON(ctx, s.db, KeyJournalEntries, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// ReplaceEntries overwrites the journal collection.
func (s *Store) ReplaceEntries(ctx context.Context, entries []model.DiaryEntry) error {
	if entries == nil {
		entries = []model.DiaryEntry{}
	}
	return s.putJSON(ctx, s.db, KeyJournalEntries, entries)
}

// AddEntry validates e, assigns an ID if it has none, and prepends it to the
// journal collection.
func (s *Store) AddEntry(ctx context.Context, e *model.DiaryEntry) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid entry: %w", err)
	}
	e.Emotion, _ = model.ParseEmotion(string(e.Emotion))
	if e.ID == "" {
		e.ID = model.NewID()
	}
	return s.update(ctx, func(tx *sql.Tx) error {
		var entries []model.DiaryEntry
		if err := s.getJSON(ctx, tx, KeyJournalEntries, &entries); err != nil {
			return err
		}
		entries = append([]model.DiaryEntry{*e}, entries...)
		return s.putJSON(ctx, tx, KeyJournalEntries, entries)
	})
}

// --- Consent records ---------------------------------------------------------

// Consents returns the consent collection in append order.
func (s *Store) Consents(ctx context.Context) ([]model.ConsentRecord, error) {
	var recs []model.ConsentRecord
	if err := s.getJSON(ctx, s.db, KeyConsentHistories, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// ReplaceConsents overwrites the consent collection.
func (s *Store) ReplaceConsents(ctx context.Context, recs []model.ConsentRecord) error {
	if recs == nil {
		recs = []model.ConsentRecord{}
	}
	return s.putJSON(ctx, s.db, KeyConsentHistories, recs)
}

// AppendConsent adds rec to the end of the consent collection, assigning an
// ID and a consent date if they are unset.
func (s *Store) AppendConsent(ctx context.Context, rec *model.ConsentRecord) error {
	if rec.Username == "" {
		return errors.New("consent record needs a username")
	}
	if rec.ID == "" {
		rec.ID = model.NewID()
	}
	if rec.ConsentDate.IsZero() {
		rec.ConsentDate = time.Now().UTC()
	}
	return s.update(ctx, func(tx *sql.Tx) error {
		var recs []model.ConsentRecord
		if err := s.getJSON(ctx, tx, KeyConsentHistories, &recs); err != nil {
			return err
		}
		recs = append(recs, *rec)
		return s.putJSON(ctx, tx, KeyConsentHistories, recs)
	})
}

// --- Sync settings -----------------------------------------------------------

// AutoSyncEnabled returns the persisted auto-sync flag. Unset means disabled.
func (s *Store) AutoSyncEnabled(ctx context.Context) (bool, error) {
	v, ok, err := s.Get(ctx, KeyAutoSyncEnabled)
	if err != nil || !ok {
		return false, err
	}
	enabled, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parsing %s %q: %w", KeyAutoSyncEnabled, v, err)
	}
	return enabled, nil
}

// SetAutoSyncEnabled persists the auto-sync flag as "true" or "false".
func (s *Store) SetAutoSyncEnabled(ctx context.Context, enabled bool) error {
	return s.Put(ctx, KeyAutoSyncEnabled, strconv.FormatBool(enabled))
}

// LastSyncTime returns the time of the last successful pass, or the zero
// time if none has been recorded.
func (s *Store) LastSyncTime(ctx context.Context) (time.Time, error) {
	v, ok, err := s.Get(ctx, KeyLastSyncTime)
	if err != nil || !ok || v == "" {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s %q: %w", KeyLastSyncTime, v, err)
	}
	return t, nil
}

// SetLastSyncTime persists t as an ISO-8601 string.
func (s *Store) SetLastSyncTime(ctx context.Context, t time.Time) error {
	return s.Put(ctx, KeyLastSyncTime, t.UTC().Format(time.RFC3339Nano))
}

// --- helpers -----------------------------------------------------------------

func (s *Store) getJSON(ctx context.Context, ex execer, key string, dst any) error {
	var raw string
	err := ex.QueryRowContext(ctx, `SELECT value FROM blobs WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %q: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("decoding %q: %w", key, err)
	}
	return nil
}

func (s *Store) putJSON(ctx context.Context, ex execer, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %q: %w", key, err)
	}
	return put(ctx, ex, key, string(raw))
}

// update runs fn in a transaction, committing only if fn succeeds.
func (s *Store) update(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
