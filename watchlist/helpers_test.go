package watchlist

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pablof7z/purplewatch/model"
	"github.com/pablof7z/purplewatch/storage"
)

// ---------------------------------------------------------------------------
// Manual mocks (moq-style with func fields)
// ---------------------------------------------------------------------------

type mockHydrator struct {
	ResolveIDsFunc func(ctx context.Context, ids []string) ([]model.Account, error)

	mu    sync.Mutex
	calls [][]string
}

func (m *mockHydrator) ResolveIDs(ctx context.Context, ids []string) ([]model.Account, error) {
	m.mu.Lock()
	m.calls = append(m.calls, append([]string(nil), ids...))
	m.mu.Unlock()
	if m.ResolveIDsFunc != nil {
		return m.ResolveIDsFunc(ctx, ids)
	}
	out := make([]model.Account, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.Account{ID: id, ScreenName: "u" + id[60:]})
	}
	return out, nil
}

type mockListFetcher struct {
	ListMembersFunc func(ctx context.Context, ref string) (model.RemoteList, error)
}

func (m *mockListFetcher) ListMembers(ctx context.Context, ref string) (model.RemoteList, error) {
	return m.ListMembersFunc(ctx, ref)
}

type mockWebFetcher struct {
	FetchFunc func(ctx context.Context, listID string) ([]string, error)
}

func (m *mockWebFetcher) Fetch(ctx context.Context, listID string) ([]string, error) {
	return m.FetchFunc(ctx, listID)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

const testTTL = 7 * 24 * time.Hour

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestWatchlist(t *testing.T, hydrator *mockHydrator, opts ...Option) (*Watchlist, *clockwork.FakeClock) {
	t.Helper()
	if hydrator == nil {
		hydrator = &mockHydrator{}
	}
	s := storage.New(t.TempDir(), nil)
	t.Cleanup(func() { _ = s.Close() })

	clock := clockwork.NewFakeClockAt(testNow)
	opts = append([]Option{WithClock(clock)}, opts...)
	w, err := Open(context.Background(), s, "test", hydrator, testTTL, opts...)
	require.NoError(t, err)
	return w, clock
}

// id returns a deterministic account id for a small integer.
func id(n int) string {
	const digits = "0123456789abcdef"
	b := []byte(strings.Repeat("0", 64))
	for i := 63; i >= 0 && n > 0; i-- {
		b[i] = digits[n%16]
		n /= 16
	}
	return string(b)
}

func ids(ns ...int) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = id(n)
	}
	return out
}

func importList(t *testing.T, w *Watchlist, externalID string, members ...int) ImportResult {
	t.Helper()
	res, err := w.Import(context.Background(), ImportRequest{
		Kind:       model.SourceWebList,
		ExternalID: externalID,
		Name:       externalID,
		MemberIDs:  ids(members...),
	})
	require.NoError(t, err)
	return res
}

func memberIDs(t *testing.T, w *Watchlist) []string {
	t.Helper()
	var got []string
	require.NoError(t, w.db.Select(&got, `SELECT account_id FROM watchlist ORDER BY account_id`))
	return got
}

type membership struct {
	AccountID string `db:"account_id"`
	Excluded  bool   `db:"locally_excluded"`
}

func memberships(t *testing.T, w *Watchlist, sublistID int64) map[string]bool {
	t.Helper()
	var rows []membership
	require.NoError(t, w.db.Select(&rows, `SELECT account_id, locally_excluded FROM account_sublists WHERE sublist_id = ?`, sublistID))
	out := make(map[string]bool, len(rows))
	for _, r := range rows {
		out[r.AccountID] = r.Excluded
	}
	return out
}

// assertConsistent checks that members and memberships reference each other.
func assertConsistent(t *testing.T, w *Watchlist) {
	t.Helper()
	var orphans, dangling int
	require.NoError(t, w.db.Get(&orphans, `
		SELECT COUNT(*) FROM watchlist
		WHERE account_id NOT IN (SELECT account_id FROM account_sublists)`))
	require.NoError(t, w.db.Get(&dangling, `
		SELECT COUNT(*) FROM account_sublists
		WHERE account_id NOT IN (SELECT account_id FROM watchlist)`))
	assert.Zero(t, orphans, "watchlist members without a sublist")
	assert.Zero(t, dangling, "memberships without a watchlist member")
}
