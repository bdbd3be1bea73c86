// Package remote implements the store of record on PostgreSQL. A
// [PostgresStore] satisfies the sync package's RemoteStore, UserResolver and
// ConnectivityProbe interfaces. Connection-level failures are reported as
// errors wrapping [model.ErrUnreachable].
package remote

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/jinjinsansan/mentenansu-sub000/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// PostgresStore is the remote store of record.
type PostgresStore struct {
	db  *sql.DB
	log *slog.Logger

	schemaMu    sync.Mutex
	schemaReady bool
}

// Open creates a PostgresStore for dsn. No connection is made until the
// first query, so Open succeeds while the server is unreachable.
func Open(dsn string, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening remote store: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db, logger), nil
}

// New wraps an existing database handle.
func New(db *sql.DB, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{db: db, log: logger}
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Ping checks that the server answers, retrying briefly on connection
// errors, and applies pending schema migrations the first time it succeeds.
func (s *PostgresStore) Ping(ctx context.Context) error {
	err := Retry(ctx, defaultMaxAttempts, isConnError, func() error {
		return s.db.PingContext(ctx)
	})
	if err != nil {
		return classify("ping", err)
	}
	return s.ensureSchema(ctx)
}

// Migrate applies pending schema migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := gooseUpContext(ctx, s.db, "migrations"); err != nil {
		return classify("run migrations", err)
	}
	return nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()
	if s.schemaReady {
		return nil
	}
	if err := s.Migrate(ctx); err != nil {
		return err
	}
	s.schemaReady = true
	s.log.Debug("remote schema up to date")
	return nil
}

// --- users -------------------------------------------------------------------

// Resolve returns the id of the user with the given display name, creating
// the user on first use.
func (s *PostgresStore) Resolve(ctx context.Context, displayName string) (string, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return "", errors.New("resolve user: empty display name")
	}

	query :=
		`INSERT INTO users (display_name)
		 VALUES ($1)
		 ON CONFLICT (display_name) DO UPDATE SET display_name = EXCLUDED.display_name
		 RETURNING id`

	var id string
	if err := s.db.QueryRowContext(ctx, query, displayName).Scan(&id); err != nil {
		return "", classify("resolve user", err)
	}
	return id, nil
}

// --- diary entries -----------------------------------------------------------

// EntryExists reports whether an entry with the given dedup key exists.
func (s *PostgresStore) EntryExists(ctx context.Context, key model.DedupKey) (bool, error) {
	query :=
		`SELECT EXISTS (
		   SELECT 1 FROM diary_entries
		   WHERE user_id = $1 AND date = $2 AND emotion = $3
		 )`

	var exists bool
	err := s.db.QueryRowContext(ctx, query, key.UserID, key.Date, string(key.Emotion)).Scan(&exists)
	if err != nil {
		return false, classify("entry exists", err)
	}
	return exists, nil
}

// CreateEntry inserts one entry and sets its CreatedAt from the server.
func (s *PostgresStore) CreateEntry(ctx context.Context, e *model.DiaryEntry) error {
	query :=
		`INSERT INTO diary_entries
		   (user_id, date, emotion, event, realization, self_esteem_score, worthlessness_score)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at`

	var created time.Time
	err := s.db.QueryRowContext(ctx, query, entryArgs(e)...).Scan(&created)
	if err != nil {
		return classify("create entry", err)
	}
	created = created.UTC()
	e.CreatedAt = &created
	return nil
}

// UpsertEntries inserts entries in one statement, ignoring rows whose
// (user_id, date, emotion) already exists. It returns the number inserted.
func (s *PostgresStore) UpsertEntries(ctx context.Context, entries []model.DiaryEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	const cols = 7
	var b strings.Builder
	b.WriteString(`INSERT INTO diary_entries
		   (user_id, date, emotion, event, realization, self_esteem_score, worthlessness_score)
		 VALUES `)
	args := make([]any, 0, len(entries)*cols)
	for i := range entries {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range cols {
			if c > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", i*cols+c+1)
		}
		b.WriteByte(')')
		args = append(args, entryArgs(&entries[i])...)
	}
	b.WriteString(` ON CONFLICT (user_id, date, emotion) DO NOTHING`)

	res, err := s.db.ExecContext(ctx, b.String(), args...)
	if err != nil {
		return 0, classify("upsert entries", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("upsert entries: rows affected: %w", err)
	}
	return int(n), nil
}

// ListEntries returns every entry owned by userID, newest date first.
func (s *PostgresStore) ListEntries(ctx context.Context, userID string) ([]model.DiaryEntry, error) {
	query :=
		`SELECT id, user_id, to_char(date, 'YYYY-MM-DD'), emotion, event, realization,
		        self_esteem_score, worthlessness_score, created_at
		 FROM diary_entries
		 WHERE user_id = $1
		 ORDER BY date DESC, created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, classify("list entries", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []model.DiaryEntry{}
	for rows.Next() {
		var (
			e           model.DiaryEntry
			emotion     string
			self, worth int
			created     time.Time
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Date, &emotion, &e.Event, &e.Realization, &self, &worth, &created); err != nil {
			return nil, fmt.Errorf("list entries: scanning row: %w", err)
		}
		e.Emotion = model.Emotion(emotion)
		e.SelfEsteemScore = model.Score(self)
		e.WorthlessnessScore = model.Score(worth)
		created = created.UTC()
		e.CreatedAt = &created
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list entries", err)
	}
	return entries, nil
}

// CountEntries returns the number of entries owned by userID.
func (s *PostgresStore) CountEntries(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM diary_entries WHERE user_id = $1`, userID).Scan(&n)
	if err != nil {
		return 0, classify("count entries", err)
	}
	return n, nil
}

// DeleteEntry removes the entry with the given dedup key. The sync engine
// never deletes; this exists for operators repairing data by hand.
func (s *PostgresStore) DeleteEntry(ctx context.Context, key model.DedupKey) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM diary_entries WHERE user_id = $1 AND date = $2 AND emotion = $3`,
		key.UserID, key.Date, string(key.Emotion))
	if err != nil {
		return classify("delete entry", err)
	}
	return nil
}

func entryArgs(e *model.DiaryEntry) []any {
	return []any{
		e.UserID,
		e.Date,
		string(e.Emotion),
		e.Event,
		e.Realization,
		scoreOrDefault(e.SelfEsteemScore),
		scoreOrDefault(e.WorthlessnessScore),
	}
}

func scoreOrDefault(p *int) int {
	if p == nil {
		return model.DefaultScore
	}
	return *p
}

// --- consents ----------------------------------------------------------------

// ConsentExists reports whether any consent record exists for username.
func (s *PostgresStore) ConsentExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM consent_histories WHERE username = $1)`,
		username).Scan(&exists)
	if err != nil {
		return false, classify("consent exists", err)
	}
	return exists, nil
}

// CreateConsent inserts a consent record, keeping its local id.
func (s *PostgresStore) CreateConsent(ctx context.Context, rec *model.ConsentRecord) error {
	if rec.ID == "" {
		rec.ID = model.NewID()
	}
	query :=
		`INSERT INTO consent_histories (id, username, consent_given, consent_date, ip_address, user_agent)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.Username, rec.ConsentGiven, rec.ConsentDate.UTC(), rec.IPAddress, rec.UserAgent)
	if err != nil {
		return classify("create consent", err)
	}
	return nil
}

// ListConsents returns every consent record, oldest first.
func (s *PostgresStore) ListConsents(ctx context.Context) ([]model.ConsentRecord, error) {
	query :=
		`SELECT id, username, consent_given, consent_date, ip_address, user_agent
		 FROM consent_histories
		 ORDER BY consent_date, id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, classify("list consents", err)
	}
	defer func() { _ = rows.Close() }()

	recs := []model.ConsentRecord{}
	for rows.Next() {
		var r model.ConsentRecord
		if err := rows.Scan(&r.ID, &r.Username, &r.ConsentGiven, &r.ConsentDate, &r.IPAddress, &r.UserAgent); err != nil {
			return nil, fmt.Errorf("list consents: scanning row: %w", err)
		}
		r.ConsentDate = r.ConsentDate.UTC()
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list consents", err)
	}
	return recs, nil
}

// CountConsents returns the number of consent records.
func (s *PostgresStore) CountConsents(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM consent_histories`).Scan(&n); err != nil {
		return 0, classify("count consents", err)
	}
	return n, nil
}

// --- errors ------------------------------------------------------------------

// classify wraps err with op, marking connection failures as unreachable.
func classify(op string, err error) error {
	if isConnError(err) {
		return fmt.Errorf("%s: %w: %w", op, model.ErrUnreachable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// isConnError reports whether err means the server could not be talked to,
// as opposed to a statement being rejected.
func isConnError(err error) bool {
	if err == nil {
		return false
	}
	var connErr *pgconn.ConnectError
	var netErr net.Error
	switch {
	case errors.Is(err, model.ErrUnreachable),
		errors.As(err, &connErr),
		errors.As(err, &netErr),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return false
}
