package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pablof7z/purplewatch/model"
)

func TestResolver_FetchesOnlyMisses(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openDirectoryDB(t)
	cache := NewCache(db, testTTL, WithCacheClock(newFakeClock()))

	a := model.Account{ID: hexID(1), ScreenName: "a@example.com"}
	b := hexID(2)
	require.NoError(t, cache.Put(ctx, a))

	remote := &mockLookup{}
	resolver := NewResolver(cache, remote)

	got, err := resolver.ResolveIDs(ctx, []string{a.ID, b})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, b}, model.IDs(got))

	require.Len(t, remote.idCalls, 1)
	assert.Equal(t, []string{b}, remote.idCalls[0])

	cached, err := cache.GetByIDs(ctx, []string{a.ID, b})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, b}, model.IDs(cached))

	// second pass is served from the cache
	_, err = resolver.ResolveIDs(ctx, []string{a.ID, b})
	require.NoError(t, err)
	assert.Len(t, remote.idCalls, 1)
}

func TestResolver_BatchesRemoteLookups(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cache := NewCache(openDirectoryDB(t), testTTL)
	remote := &mockLookup{}
	resolver := NewResolver(cache, remote)

	ids := make([]string, 250)
	for i := range ids {
		ids[i] = hexID(i + 1)
	}
	ids = append(ids, ids[0], ids[1])

	got, err := resolver.ResolveIDs(ctx, ids)
	require.NoError(t, err)
	assert.Len(t, got, 250)

	require.Len(t, remote.idCalls, 3)
	assert.Len(t, remote.idCalls[0], 100)
	assert.Len(t, remote.idCalls[1], 100)
	assert.Len(t, remote.idCalls[2], 50)
}

func TestResolver_UnknownIdentifiersAreOmitted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cache := NewCache(openDirectoryDB(t), testTTL)
	known := hexID(1)
	remote := &mockLookup{
		LookupAccountsFunc: func(ctx context.Context, ids []string) ([]model.Account, error) {
			return accountsFor([]string{known}), nil
		},
	}

	got, err := NewResolver(cache, remote).ResolveIDs(ctx, []string{known, hexID(2)})
	require.NoError(t, err)
	assert.Equal(t, []string{known}, model.IDs(got))
}

func TestResolver_NamesAreLowerCasedAndCaptureIDs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cache := NewCache(openDirectoryDB(t), testTTL)
	id := hexID(42)
	remote := &mockLookup{
		LookupAccountsByNameFunc: func(ctx context.Context, names []string) ([]model.Account, error) {
			return []model.Account{{ID: id, ScreenName: names[0]}}, nil
		},
	}
	resolver := NewResolver(cache, remote)

	got, err := resolver.ResolveNames(ctx, []string{"Bob@Example.com"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, [][]string{{"bob@example.com"}}, remote.nameCalls)

	// the id is cached too, so an id lookup needs no remote call
	byID, err := resolver.ResolveIDs(ctx, []string{id})
	require.NoError(t, err)
	assert.Equal(t, []string{id}, model.IDs(byID))
	assert.Empty(t, remote.idCalls)

	_, err = resolver.ResolveNames(ctx, []string{"BOB@EXAMPLE.COM"})
	require.NoError(t, err)
	assert.Len(t, remote.nameCalls, 1)
}

func TestResolver_NamesSharingAKeyAreCachedSeparately(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cache := NewCache(openDirectoryDB(t), testTTL)
	id := hexID(42)
	remote := &mockLookup{
		LookupAccountsByNameFunc: func(ctx context.Context, names []string) ([]model.Account, error) {
			out := make([]model.Account, 0, len(names))
			for _, name := range names {
				out = append(out, model.Account{ID: id, ScreenName: name})
			}
			return out, nil
		},
	}
	resolver := NewResolver(cache, remote)

	for range 3 {
		got, err := resolver.ResolveNames(ctx, []string{"a@x.com", "b@x.com"})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.ElementsMatch(t, []string{"a@x.com", "b@x.com"}, []string{got[0].ScreenName, got[1].ScreenName})
		assert.Equal(t, []string{id, id}, model.IDs(got))
	}
	assert.Len(t, remote.nameCalls, 1)

	byName, err := cache.GetByNames(ctx, []string{"a@x.com", "b@x.com"})
	require.NoError(t, err)
	assert.Len(t, byName, 1, "one account behind both names")
}

func TestResolver_RemoteFailureReturnsPartialResults(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cache := NewCache(openDirectoryDB(t), testTTL)
	cached := model.Account{ID: hexID(1)}
	require.NoError(t, cache.Put(ctx, cached))

	boom := errors.New("rate limited")
	calls := 0
	remote := &mockLookup{
		LookupAccountsFunc: func(ctx context.Context, ids []string) ([]model.Account, error) {
			calls++
			if calls == 2 {
				return nil, boom
			}
			return accountsFor(ids), nil
		},
	}
	resolver := NewResolver(cache, remote, WithBatchSize(2))

	ids := []string{cached.ID, hexID(2), hexID(3), hexID(4), hexID(5)}
	got, err := resolver.ResolveIDs(ctx, ids)
	require.ErrorIs(t, err, boom)
	assert.ElementsMatch(t, []string{cached.ID, hexID(2), hexID(3)}, model.IDs(got))

	stored, err := cache.GetByIDs(ctx, ids)
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}
