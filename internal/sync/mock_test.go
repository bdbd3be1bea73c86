package sync

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jinjinsansan/mentenansu-sub000/internal/model"
)

var errInjected = errors.New("injected failure")

// --- Mock Local Store --------------------------------------------------------

type mockLocal struct {
	mu       sync.Mutex
	entries  []model.DiaryEntry
	consents []model.ConsentRecord
	readErr  error
	reads    int // Entries calls
}

func newMockLocal(entries ...model.DiaryEntry) *mockLocal {
	return &mockLocal{entries: entries}
}

func (m *mockLocal) Entries(_ context.Context) ([]model.DiaryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.readErr != nil {
		return nil, m.readErr
	}
	return slices.Clone(m.entries), nil
}

func (m *mockLocal) ReplaceEntries(_ context.Context, entries []model.DiaryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = slices.Clone(entries)
	return nil
}

func (m *mockLocal) Consents(_ context.Context) ([]model.ConsentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	return slices.Clone(m.consents), nil
}

func (m *mockLocal) ReplaceConsents(_ context.Context, recs []model.ConsentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consents = slices.Clone(recs)
	return nil
}

func (m *mockLocal) entryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// --- Mock Settings Store -----------------------------------------------------

type mockSettings struct {
	mu       sync.Mutex
	enabled  bool
	last     time.Time
	lastSets int
}

func (m *mockSettings) AutoSyncEnabled(_ context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled, nil
}

func (m *mockSettings) SetAutoSyncEnabled(_ context.Context, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled
	return nil
}

func (m *mockSettings) LastSyncTime(_ context.Context) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, nil
}

func (m *mockSettings) SetLastSyncTime(_ context.Context, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = t
	m.lastSets++
	return nil
}

func (m *mockSettings) snapshot() (bool, time.Time, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled, m.last, m.lastSets
}

// --- Mock Remote Store -------------------------------------------------------

// mockRemote enforces the (user, date, emotion) uniqueness constraint the
// real store has and supports fault injection per key or per batch.
type mockRemote struct {
	mu       sync.Mutex
	entries  map[model.DedupKey]model.DiaryEntry
	consents []model.ConsentRecord
	nextID   int

	unreachable bool
	failKeys    map[string]bool // DedupKey.String() → fail check and write
	failBatches map[int]bool    // 1-based UpsertEntries call → fail
	failConsent map[string]bool // username → fail

	createCalls int
	batchSizes  []int
}

func newMockRemote() *mockRemote {
	return &mockRemote{
		entries:     make(map[model.DedupKey]model.DiaryEntry),
		failKeys:    make(map[string]bool),
		failBatches: make(map[int]bool),
		failConsent: make(map[string]bool),
	}
}

func (m *mockRemote) setUnreachable(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unreachable = v
}

func (m *mockRemote) failKey(key model.DedupKey, fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failKeys[key.String()] = fail
}

func (m *mockRemote) check() error {
	if m.unreachable {
		return fmt.Errorf("dial tcp: %w", model.ErrUnreachable)
	}
	return nil
}

func (m *mockRemote) insertLocked(e model.DiaryEntry) bool {
	key := model.DedupKey{UserID: e.UserID, Date: e.Date, Emotion: e.Emotion}
	if _, ok := m.entries[key]; ok {
		return false
	}
	m.nextID++
	e.ID = fmt.Sprintf("remote-%d", m.nextID)
	now := time.Date(2026, 1, 1, 0, 0, m.nextID, 0, time.UTC)
	e.CreatedAt = &now
	m.entries[key] = e
	return true
}

func (m *mockRemote) EntryExists(_ context.Context, key model.DedupKey) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return false, err
	}
	if m.failKeys[key.String()] {
		return false, errInjected
	}
	_, ok := m.entries[key]
	return ok, nil
}

func (m *mockRemote) CreateEntry(_ context.Context, e *model.DiaryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if err := m.check(); err != nil {
		return err
	}
	key := model.DedupKey{UserID: e.UserID, Date: e.Date, Emotion: e.Emotion}
	if m.failKeys[key.String()] {
		return errInjected
	}
	if !m.insertLocked(*e) {
		return fmt.Errorf("duplicate key %s", key)
	}
	e.CreatedAt = m.entries[key].CreatedAt
	return nil
}

func (m *mockRemote) UpsertEntries(_ context.Context, entries []model.DiaryEntry) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchSizes = append(m.batchSizes, len(entries))
	if err := m.check(); err != nil {
		return 0, err
	}
	if m.failBatches[len(m.batchSizes)] {
		return 0, errInjected
	}
	inserted := 0
	for _, e := range entries {
		if m.insertLocked(e) {
			inserted++
		}
	}
	return inserted, nil
}

func (m *mockRemote) ListEntries(_ context.Context, userID string) ([]model.DiaryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	var out []model.DiaryEntry
	for _, e := range m.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b model.DiaryEntry) int {
		if c := cmp.Compare(b.Date, a.Date); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (m *mockRemote) CountEntries(ctx context.Context, userID string) (int, error) {
	rows, err := m.ListEntries(ctx, userID)
	return len(rows), err
}

func (m *mockRemote) ConsentExists(_ context.Context, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return false, err
	}
	for _, c := range m.consents {
		if c.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRemote) CreateConsent(_ context.Context, rec *model.ConsentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	if m.failConsent[rec.Username] {
		return errInjected
	}
	m.consents = append(m.consents, *rec)
	return nil
}

func (m *mockRemote) ListConsents(_ context.Context) ([]model.ConsentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	return slices.Clone(m.consents), nil
}

func (m *mockRemote) CountConsents(ctx context.Context) (int, error) {
	recs, err := m.ListConsents(ctx)
	return len(recs), err
}

func (m *mockRemote) has(key model.DedupKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[key]
	return ok
}

func (m *mockRemote) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *mockRemote) get(key model.DedupKey) model.DiaryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[key]
}

// --- Mock Passer -------------------------------------------------------------

// blockingPasser blocks every pass until release is closed and counts calls.
type blockingPasser struct {
	mu      sync.Mutex
	calls   int
	users   []string
	started chan struct{}
	release chan struct{}
	err     error
}

func newBlockingPasser() *blockingPasser {
	return &blockingPasser{
		started: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
}

// instantPasser returns a passer that never blocks.
func instantPasser(err error) *blockingPasser {
	p := newBlockingPasser()
	p.err = err
	close(p.release)
	return p
}

func (p *blockingPasser) Pass(ctx context.Context, userID string) (PassStats, error) {
	p.mu.Lock()
	p.calls++
	p.users = append(p.users, userID)
	err := p.err
	p.mu.Unlock()

	select {
	case p.started <- struct{}{}:
	default:
	}
	select {
	case <-p.release:
	case <-ctx.Done():
		return PassStats{}, ctx.Err()
	}
	return PassStats{Entries: Stats{Created: 1}}, err
}

func (p *blockingPasser) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *blockingPasser) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// --- Mock probe / resolver / sink --------------------------------------------

type mockProbe struct {
	mu  sync.Mutex
	err error
}

func (m *mockProbe) set(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *mockProbe) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

type mockResolver struct {
	mu    sync.Mutex
	id    string
	err   error
	calls int
}

func (m *mockResolver) Resolve(_ context.Context, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.id, m.err
}

type recordingSink struct {
	mu        sync.Mutex
	connected []bool
	users     []string
}

func (s *recordingSink) SetConnected(c bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = append(s.connected, c)
}

func (s *recordingSink) SetUser(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = append(s.users, id)
}
