package localstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinjinsansan/mentenansu-sub000/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "local.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.db")
	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Put(context.Background(), "k", "v"))
	require.NoError(t, s1.Close())

	// Re-opening the same file must not fail or wipe data.
	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	v, ok, err := s2.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestGet_Missing(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEntries_EmptyWhenUnset(t *testing.T) {
	s := openTestStore(t)
	entries, err := s.Entries(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAddEntry_PrependsAndAssignsID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := &model.DiaryEntry{Date: "2024-01-01", Emotion: model.EmotionFear, Event: "a"}
	second := &model.DiaryEntry{Date: "2024-01-02", Emotion: model.EmotionFear, Event: "b"}
	require.NoError(t, s.AddEntry(ctx, first))
	require.NoError(t, s.AddEntry(ctx, second))

	assert.NotEmpty(t, first.ID)
	assert.NotEqual(t, first.ID, second.ID)

	entries, err := s.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].Event, "newest first")
	assert.Equal(t, "a", entries[1].Event)
}

func TestAddEntry_RejectsInvalid(t *testing.T) {
	s := openTestStore(t)
	err := s.AddEntry(context.Background(), &model.DiaryEntry{Date: "yesterday", Emotion: model.EmotionFear})
	assert.Error(t, err)

	entries, err := s.Entries(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReplaceEntries_Overwrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddEntry(ctx, &model.DiaryEntry{Date: "2024-01-01", Emotion: model.EmotionFear}))

	replacement := []model.DiaryEntry{
		{ID: "r1", UserID: "u1", Date: "2024-02-01", Emotion: model.EmotionJoy, SelfEsteemScore: model.Score(50)},
	}
	require.NoError(t, s.ReplaceEntries(ctx, replacement))

	entries, err := s.Entries(ctx)
	require.NoError(t, err)
	assert.Equal(t, replacement, entries)

	require.NoError(t, s.ReplaceEntries(ctx, nil))
	entries, err = s.Entries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAppendConsent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendConsent(ctx, &model.ConsentRecord{Username: "hana", ConsentGiven: true}))
	require.NoError(t, s.AppendConsent(ctx, &model.ConsentRecord{Username: "yuki", ConsentGiven: false}))

	recs, err := s.Consents(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "hana", recs[0].Username)
	assert.Equal(t, "yuki", recs[1].Username)
	assert.NotEmpty(t, recs[0].ID)
	assert.False(t, recs[0].ConsentDate.IsZero())

	assert.Error(t, s.AppendConsent(ctx, &model.ConsentRecord{}), "username is required")
}

func TestAutoSyncEnabled_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	enabled, err := s.AutoSyncEnabled(ctx)
	require.NoError(t, err)
	assert.False(t, enabled, "unset defaults to disabled")

	require.NoError(t, s.SetAutoSyncEnabled(ctx, true))
	enabled, err = s.AutoSyncEnabled(ctx)
	require.NoError(t, err)
	assert.True(t, enabled)

	v, _, err := s.Get(ctx, KeyAutoSyncEnabled)
	require.NoError(t, err)
	assert.Equal(t, "true", v)
}

func TestLastSyncTime_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	got, err := s.LastSyncTime(ctx)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	ts := time.Date(2026, 2, 17, 14, 30, 0, 123456789, time.UTC)
	require.NoError(t, s.SetLastSyncTime(ctx, ts))

	got, err = s.LastSyncTime(ctx)
	require.NoError(t, err)
	assert.True(t, got.Equal(ts), "got %v, want %v", got, ts)
}

func TestLastSyncTime_Corrupt(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, KeyLastSyncTime, "not a time"))

	_, err := s.LastSyncTime(ctx)
	assert.Error(t, err)
}

func TestDefaultPath(t *testing.T) {
	path, err := DefaultPath()
	require.NoError(t, err)
	assert.NotEmpty(t, path)
}
