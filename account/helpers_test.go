package account

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/pablof7z/purplewatch/model"
	"github.com/pablof7z/purplewatch/storage"
)

type mockRemote struct {
	LookupAccountsFunc  func(ctx context.Context, ids []string) ([]model.Account, error)
	FriendIDsFunc       func(ctx context.Context, id string) ([]string, error)
	FollowerIDsFunc     func(ctx context.Context, id string, limit int) ([]string, error)
	PostsFunc           func(ctx context.Context, id string, limit int) ([]model.Post, error)
	LikesFunc           func(ctx context.Context, id string, limit int) ([]model.Post, error)
	ListMembershipsFunc func(ctx context.Context, id string) ([]model.RemoteList, error)

	mu    sync.Mutex
	calls map[string]int
}

func (m *mockRemote) record(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[name]++
}

func (m *mockRemote) count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

func (m *mockRemote) LookupAccounts(ctx context.Context, ids []string) ([]model.Account, error) {
	m.record("LookupAccounts")
	if m.LookupAccountsFunc != nil {
		return m.LookupAccountsFunc(ctx, ids)
	}
	out := make([]model.Account, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.Account{ID: id, ScreenName: "user" + id[60:]})
	}
	return out, nil
}

func (m *mockRemote) FriendIDs(ctx context.Context, id string) ([]string, error) {
	m.record("FriendIDs")
	if m.FriendIDsFunc != nil {
		return m.FriendIDsFunc(ctx, id)
	}
	return nil, nil
}

func (m *mockRemote) FollowerIDs(ctx context.Context, id string, limit int) ([]string, error) {
	m.record("FollowerIDs")
	if m.FollowerIDsFunc != nil {
		return m.FollowerIDsFunc(ctx, id, limit)
	}
	return nil, nil
}

func (m *mockRemote) Posts(ctx context.Context, id string, limit int) ([]model.Post, error) {
	m.record("Posts")
	if m.PostsFunc != nil {
		return m.PostsFunc(ctx, id, limit)
	}
	return nil, nil
}

func (m *mockRemote) Likes(ctx context.Context, id string, limit int) ([]model.Post, error) {
	m.record("Likes")
	if m.LikesFunc != nil {
		return m.LikesFunc(ctx, id, limit)
	}
	return nil, nil
}

func (m *mockRemote) ListMemberships(ctx context.Context, id string) ([]model.RemoteList, error) {
	m.record("ListMemberships")
	if m.ListMembershipsFunc != nil {
		return m.ListMembershipsFunc(ctx, id)
	}
	return nil, nil
}

type mockHydrator struct {
	ResolveIDsFunc func(ctx context.Context, ids []string) ([]model.Account, error)
}

func (m *mockHydrator) ResolveIDs(ctx context.Context, ids []string) ([]model.Account, error) {
	if m.ResolveIDsFunc != nil {
		return m.ResolveIDsFunc(ctx, ids)
	}
	out := make([]model.Account, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.Account{ID: id, ScreenName: "user" + id[60:]})
	}
	return out, nil
}

type mockRegistry struct {
	added []model.Account
}

func (m *mockRegistry) Add(ctx context.Context, a model.Account) error {
	m.added = append(m.added, a)
	return nil
}

type staticMembers []string

func (s staticMembers) MemberIDs(ctx context.Context) ([]string, error) {
	return s, nil
}

type staticWords []string

func (s staticWords) Watchwords(ctx context.Context) ([]string, error) {
	return s, nil
}

const testTTL = 24 * time.Hour

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func id(n int) string {
	return fmt.Sprintf("%064x", n)
}

func newTestAccount(t *testing.T, remote *mockRemote, opts ...Option) (*Account, *clockwork.FakeClock) {
	t.Helper()
	s := storage.New(t.TempDir(), nil)
	t.Cleanup(func() { _ = s.Close() })

	clock := clockwork.NewFakeClockAt(testNow)
	opts = append([]Option{WithClock(clock), WithTTL(testTTL)}, opts...)
	a, err := Open(context.Background(), s, id(1), remote, &mockHydrator{}, opts...)
	require.NoError(t, err)
	return a, clock
}

func post(n int, author string, kind model.PostKind, text string) model.Post {
	return model.Post{
		ID:        fmt.Sprintf("%064x", 10_000+n),
		AuthorID:  author,
		Kind:      kind,
		Text:      text,
		CreatedAt: int64(1_700_000_000 + n),
	}
}
