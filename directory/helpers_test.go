package directory

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/pablof7z/purplewatch/model"
	"github.com/pablof7z/purplewatch/storage"
)

// ---------------------------------------------------------------------------
// Manual mocks (moq-style with func fields)
// ---------------------------------------------------------------------------

type mockLookup struct {
	LookupAccountsFunc       func(ctx context.Context, ids []string) ([]model.Account, error)
	LookupAccountsByNameFunc func(ctx context.Context, names []string) ([]model.Account, error)

	mu        sync.Mutex
	idCalls   [][]string
	nameCalls [][]string
}

func (m *mockLookup) LookupAccounts(ctx context.Context, ids []string) ([]model.Account, error) {
	m.mu.Lock()
	m.idCalls = append(m.idCalls, append([]string(nil), ids...))
	m.mu.Unlock()
	if m.LookupAccountsFunc != nil {
		return m.LookupAccountsFunc(ctx, ids)
	}
	return accountsFor(ids), nil
}

func (m *mockLookup) LookupAccountsByName(ctx context.Context, names []string) ([]model.Account, error) {
	m.mu.Lock()
	m.nameCalls = append(m.nameCalls, append([]string(nil), names...))
	m.mu.Unlock()
	if m.LookupAccountsByNameFunc != nil {
		return m.LookupAccountsByNameFunc(ctx, names)
	}
	return nil, nil
}

type mockStores struct {
	AccountIDsFunc func() ([]string, error)
}

func (m *mockStores) AccountIDs() ([]string, error) {
	return m.AccountIDsFunc()
}

// countingDB counts the read queries issued through it.
type countingDB struct {
	*sqlx.DB
	mu      sync.Mutex
	queries int
}

func (c *countingDB) QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error) {
	c.mu.Lock()
	c.queries++
	c.mu.Unlock()
	return c.DB.QueryxContext(ctx, query, args...)
}

func (c *countingDB) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queries
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func openDirectoryDB(t *testing.T) *sqlx.DB {
	t.Helper()
	s := storage.New(t.TempDir(), nil)
	t.Cleanup(func() { _ = s.Close() })
	db, err := s.Directory(context.Background())
	require.NoError(t, err)
	return db
}

func newFakeClock() *clockwork.FakeClock {
	return clockwork.NewFakeClockAt(testNow)
}

func hexID(n int) string {
	const digits = "0123456789abcdef"
	b := []byte(strings.Repeat("0", 64))
	for i := 63; i >= 0 && n > 0; i-- {
		b[i] = digits[n%16]
		n /= 16
	}
	return string(b)
}

func accountsFor(ids []string) []model.Account {
	out := make([]model.Account, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.Account{ID: id, ScreenName: "user-" + id[56:] + "@example.com"})
	}
	return out
}

// seedCache writes accounts with an explicit last-refreshed time.
func seedCache(t *testing.T, db *sqlx.DB, at time.Time, accounts ...model.Account) {
	t.Helper()
	for i := range accounts {
		accounts[i].UpdatedAt = at.Unix()
	}
	require.NoError(t, storage.UpsertAccounts(context.Background(), db, cacheTable, accounts))
}
