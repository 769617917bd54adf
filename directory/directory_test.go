package directory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pablof7z/purplewatch/model"
	"github.com/pablof7z/purplewatch/storage"
)

func newTestDirectory(t *testing.T, onDisk []string, remote *mockLookup) (*Directory, *Cache) {
	t.Helper()
	db := openDirectoryDB(t)
	clock := newFakeClock()
	cache := NewCache(db, testTTL, WithCacheClock(clock))
	stores := &mockStores{AccountIDsFunc: func() ([]string, error) { return onDisk, nil }}
	return New(db, NewResolver(cache, remote), stores, testTTL, WithClock(clock)), cache
}

func directoryIDs(t *testing.T, d *Directory) []string {
	t.Helper()
	page, err := d.List(context.Background(), 1, 100)
	require.NoError(t, err)
	return model.IDs(page.Items)
}

func TestDirectory_ScanAddsAndRemoves(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	kept, added, gone, stale := hexID(1), hexID(2), hexID(3), hexID(4)
	remote := &mockLookup{}
	d, _ := newTestDirectory(t, []string{kept, added, stale}, remote)

	require.NoError(t, d.Add(ctx, model.Account{ID: kept, ScreenName: "kept"}))
	require.NoError(t, d.Add(ctx, model.Account{ID: gone, ScreenName: "gone"}))
	require.NoError(t, storage.UpsertAccounts(ctx, d.db, directoryTable, []model.Account{
		{ID: stale, ScreenName: "stale", UpdatedAt: testNow.Add(-testTTL - time.Minute).Unix()},
	}))

	result, err := d.ScanAndUpdate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, result.OnDisk)
	assert.Equal(t, 1, result.Added)
	assert.Equal(t, 1, result.Refreshed)
	assert.Equal(t, 1, result.Removed)
	assert.Empty(t, result.Unresolved)

	require.Len(t, remote.idCalls, 1)
	assert.ElementsMatch(t, []string{added, stale}, remote.idCalls[0])
	assert.ElementsMatch(t, []string{kept, added, stale}, directoryIDs(t, d))
}

func TestDirectory_ScanDeletesStaleRowsMissingOnDisk(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d, _ := newTestDirectory(t, nil, &mockLookup{})

	require.NoError(t, storage.UpsertAccounts(ctx, d.db, directoryTable, []model.Account{
		{ID: hexID(9), UpdatedAt: 1},
	}))

	result, err := d.ScanAndUpdate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Removed)
	assert.Empty(t, directoryIDs(t, d))
}

func TestDirectory_ScanReportsUnresolved(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	remote := &mockLookup{
		LookupAccountsFunc: func(ctx context.Context, ids []string) ([]model.Account, error) {
			return nil, nil
		},
	}
	d, _ := newTestDirectory(t, []string{hexID(5)}, remote)

	result, err := d.ScanAndUpdate(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{hexID(5)}, result.Unresolved)
	assert.Empty(t, directoryIDs(t, d))
}

func TestDirectory_ScanPropagatesRemoteFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	boom := errors.New("relay down")
	remote := &mockLookup{
		LookupAccountsFunc: func(ctx context.Context, ids []string) ([]model.Account, error) {
			return nil, boom
		},
	}
	d, _ := newTestDirectory(t, []string{hexID(5)}, remote)

	_, err := d.ScanAndUpdate(ctx)
	require.ErrorIs(t, err, boom)
}

func TestDirectory_ListPages(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d, _ := newTestDirectory(t, nil, &mockLookup{})

	for i, name := range []string{"carol", "Alice", "bob"} {
		require.NoError(t, d.Add(ctx, model.Account{ID: hexID(i + 1), ScreenName: name}))
	}

	page, err := d.List(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	assert.Equal(t, 2, page.Pages())
	require.Len(t, page.Items, 2)
	assert.Equal(t, "Alice", page.Items[0].ScreenName)
	assert.Equal(t, "bob", page.Items[1].ScreenName)

	require.NoError(t, d.Remove(ctx, hexID(1)))
	page, err = d.List(ctx, 2, 2)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}
