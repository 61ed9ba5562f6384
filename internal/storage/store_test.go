package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreprocessor "github.com/recipebot/internal/core_processor"
)

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, Migrate(ctx, s.DB(), DriverSQLite, zerolog.Nop()))
	return s
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": newSQLiteStore(t),
		"cached": NewCachedStore(NewMemoryStore(), time.Minute),
	}
}

func TestStore_Installations(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			inst := &coreprocessor.Installation{
				Platform:  coreprocessor.PlatformGitHub,
				AccountID: "42",
				Enabled:   true,
				Credentials: coreprocessor.Credentials{
					WebhookSecret: "s3cret",
					AppID:         7,
				},
			}
			require.NoError(t, s.SaveInstallation(ctx, inst))
			require.NotEmpty(t, inst.ID)

			got, err := s.InstallationByAccount(ctx, coreprocessor.PlatformGitHub, "42")
			require.NoError(t, err)
			assert.Equal(t, inst.ID, got.ID)
			assert.Equal(t, "s3cret", got.Credentials.WebhookSecret)
			assert.Equal(t, int64(7), got.Credentials.AppID)
			assert.True(t, got.Enabled)

			_, err = s.InstallationByAccount(ctx, coreprocessor.PlatformGitLab, "42")
			assert.ErrorIs(t, err, coreprocessor.ErrNotFound)

			inst.Enabled = false
			require.NoError(t, s.SaveInstallation(ctx, inst))
			got, err = s.InstallationByAccount(ctx, coreprocessor.PlatformGitHub, "42")
			require.NoError(t, err)
			assert.False(t, got.Enabled)

			all, err := s.ListInstallations(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 1)
		})
	}
}

func TestStore_CursorCompareAndSet(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.GetCursor(ctx, "inst", "github:acme/shop#1")
			assert.ErrorIs(t, err, coreprocessor.ErrNotFound)

			require.NoError(t, s.CompareAndSetCursor(ctx, "inst", "github:acme/shop#1", "", "aaa"))
			assert.ErrorIs(t, s.CompareAndSetCursor(ctx, "inst", "github:acme/shop#1", "", "bbb"), coreprocessor.ErrCursorConflict)
			assert.ErrorIs(t, s.CompareAndSetCursor(ctx, "inst", "github:acme/shop#1", "zzz", "bbb"), coreprocessor.ErrCursorConflict)
			require.NoError(t, s.CompareAndSetCursor(ctx, "inst", "github:acme/shop#1", "aaa", "bbb"))

			c, err := s.GetCursor(ctx, "inst", "github:acme/shop#1")
			require.NoError(t, err)
			assert.Equal(t, "bbb", c.RevisionID)

			// cursors are scoped per installation
			_, err = s.GetCursor(ctx, "other", "github:acme/shop#1")
			assert.ErrorIs(t, err, coreprocessor.ErrNotFound)
		})
	}
}

func TestStore_CursorConcurrentWritersOneWins(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var wins atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					if s.CompareAndSetCursor(ctx, "inst", "jira:SHOP-1", "", string(rune('a'+i))) == nil {
						wins.Add(1)
					}
				}(i)
			}
			wg.Wait()
			assert.Equal(t, int32(1), wins.Load())
		})
	}
}

func TestStore_RunLifecycle(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

			first := &coreprocessor.RunRecord{InstallationID: "inst", Target: "t1", RequestedBy: "alice", RequestedAt: base}
			require.NoError(t, s.CreateRun(ctx, first))
			assert.Equal(t, coreprocessor.RunPending, first.Status)

			require.NoError(t, s.CompleteRun(ctx, first.ID, RunResult{
				ResultRef:         "inline:" + first.ID,
				Provenance:        coreprocessor.ProvenanceRemote,
				RevisionsAnalyzed: []string{"aaa", "bbb"},
			}))
			got, err := s.GetRun(ctx, first.ID)
			require.NoError(t, err)
			assert.Equal(t, coreprocessor.RunCompleted, got.Status)
			assert.Equal(t, []string{"aaa", "bbb"}, got.RevisionsAnalyzed)
			assert.NotNil(t, got.FinishedAt)

			// terminal runs never change again
			assert.ErrorIs(t, s.FailRun(ctx, first.ID, "late"), coreprocessor.ErrInvalidTransition)
			assert.ErrorIs(t, s.CompleteRun(ctx, first.ID, RunResult{}), coreprocessor.ErrInvalidTransition)
			assert.ErrorIs(t, s.FailRun(ctx, "missing", "x"), coreprocessor.ErrNotFound)

			second := &coreprocessor.RunRecord{InstallationID: "inst", Target: "t1", RequestedAt: base.Add(time.Minute)}
			require.NoError(t, s.CreateRun(ctx, second))
			require.NoError(t, s.FailRun(ctx, second.ID, "post failed"))

			other := &coreprocessor.RunRecord{InstallationID: "inst", Target: "t2", RequestedAt: base.Add(2 * time.Minute)}
			require.NoError(t, s.CreateRun(ctx, other))

			runs, err := s.ListRuns(ctx, "t1", 10)
			require.NoError(t, err)
			require.Len(t, runs, 2)
			assert.Equal(t, second.ID, runs[0].ID)
			assert.Equal(t, "post failed", runs[0].Error)
			assert.Equal(t, coreprocessor.RunFailed, runs[0].Status)

			all, err := s.ListRuns(ctx, "", 0)
			require.NoError(t, err)
			assert.Len(t, all, 3)
		})
	}
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "a = $1 AND b = $2", rebind(DriverPostgres, "a = ? AND b = ?"))
	assert.Equal(t, "a = ? AND b = ?", rebind(DriverSQLite, "a = ? AND b = ?"))
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newSQLiteStore(t)
	require.NoError(t, Migrate(context.Background(), s.DB(), DriverSQLite, zerolog.Nop()))
	var n int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&n))
	assert.Equal(t, len(migrations), n)
}

type countingStore struct {
	*MemoryStore
	lookups int
}

func (c *countingStore) InstallationByAccount(ctx context.Context, platform, accountID string) (*coreprocessor.Installation, error) {
	c.lookups++
	return c.MemoryStore.InstallationByAccount(ctx, platform, accountID)
}

func TestCachedStore_InvalidatesOnSave(t *testing.T) {
	ctx := context.Background()
	inner := &countingStore{MemoryStore: NewMemoryStore()}
	cached := NewCachedStore(inner, time.Minute)

	inst := &coreprocessor.Installation{Platform: "gitlab", AccountID: "acme", Enabled: true,
		Credentials: coreprocessor.Credentials{WebhookSecret: "one"}}
	require.NoError(t, cached.SaveInstallation(ctx, inst))

	for i := 0; i < 3; i++ {
		got, err := cached.InstallationByAccount(ctx, "gitlab", "acme")
		require.NoError(t, err)
		assert.Equal(t, "one", got.Credentials.WebhookSecret)
	}
	assert.Equal(t, 1, inner.lookups)

	inst.Credentials.WebhookSecret = "two"
	require.NoError(t, cached.SaveInstallation(ctx, inst))
	got, err := cached.InstallationByAccount(ctx, "gitlab", "acme")
	require.NoError(t, err)
	assert.Equal(t, "two", got.Credentials.WebhookSecret)
	assert.Equal(t, 2, inner.lookups)
}
