package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/pablof7z/purplewatch/model"
	"github.com/pablof7z/purplewatch/storage"
)

const (
	DefaultTTL   = 24 * time.Hour
	DefaultLimit = 100

	tableProfile         = "profile"
	tablePosts           = "posts"
	tableLikes           = "likes"
	tableFriends         = "friends"
	tableFollowers       = "followers"
	tableListMemberships = "list_memberships"
)

var ErrNotFound = errors.New("account not found")

// Remote is the slice of the social graph an account mirror reads.
type Remote interface {
	LookupAccounts(ctx context.Context, ids []string) ([]model.Account, error)
	FriendIDs(ctx context.Context, id string) ([]string, error)
	FollowerIDs(ctx context.Context, id string, limit int) ([]string, error)
	Posts(ctx context.Context, id string, limit int) ([]model.Post, error)
	Likes(ctx context.Context, id string, limit int) ([]model.Post, error)
	ListMemberships(ctx context.Context, id string) ([]model.RemoteList, error)
}

// Hydrator resolves friend and follower ids for display.
type Hydrator interface {
	ResolveIDs(ctx context.Context, ids []string) ([]model.Account, error)
}

// Registry records accounts that have a local mirror.
type Registry interface {
	Add(ctx context.Context, account model.Account) error
}

// CacheWriter receives every profile fetched from the remote so later
// resolutions of the same account are served locally.
type CacheWriter interface {
	PutMany(ctx context.Context, accounts []model.Account) error
}

// Account is the local mirror of one remote account. Each table is refetched
// when its newest row is older than the TTL.
type Account struct {
	id       string
	db       *sqlx.DB
	remote   Remote
	hydrator Hydrator
	registry Registry
	cache    CacheWriter
	ttl      time.Duration
	limit    int
	clock    clockwork.Clock
	log      *zap.Logger
}

type Option func(*Account)

func WithTTL(ttl time.Duration) Option {
	return func(a *Account) {
		if ttl > 0 {
			a.ttl = ttl
		}
	}
}

// WithLimit caps how many posts, likes and followers a fetch asks for.
func WithLimit(n int) Option {
	return func(a *Account) {
		if n > 0 {
			a.limit = n
		}
	}
}

func WithRegistry(r Registry) Option {
	return func(a *Account) { a.registry = r }
}

func WithCache(c CacheWriter) Option {
	return func(a *Account) { a.cache = c }
}

func WithClock(clock clockwork.Clock) Option {
	return func(a *Account) { a.clock = clock }
}

func WithLogger(logger *zap.Logger) Option {
	return func(a *Account) { a.log = logger }
}

func New(id string, db *sqlx.DB, remote Remote, hydrator Hydrator, opts ...Option) *Account {
	a := &Account{
		id:       id,
		db:       db,
		remote:   remote,
		hydrator: hydrator,
		ttl:      DefaultTTL,
		limit:    DefaultLimit,
		clock:    clockwork.NewRealClock(),
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.Named("account").With(zap.String("account", id))
	return a
}

// Open opens (creating if needed) the mirror for id in store.
func Open(ctx context.Context, store *storage.Storage, id string, remote Remote, hydrator Hydrator, opts ...Option) (*Account, error) {
	if !model.IsAccountID(id) {
		return nil, fmt.Errorf("invalid account id %q", id)
	}
	db, err := store.Account(ctx, id)
	if err != nil {
		return nil, err
	}
	return New(id, db, remote, hydrator, opts...), nil
}

func (a *Account) ID() string {
	return a.id
}

// Profile returns the account's own record, fetching it when stale. The
// fetched record is also registered in the directory.
func (a *Account) Profile(ctx context.Context) (model.Account, error) {
	if err := a.ensureFresh(ctx, tableProfile, a.syncProfile); err != nil {
		return model.Account{}, err
	}
	accounts, err := storage.QueryAccounts(ctx, a.db, storage.SelectAccounts(tableProfile).Where(sq.Eq{"account_id": a.id}))
	if err != nil {
		return model.Account{}, err
	}
	if len(accounts) == 0 {
		return model.Account{}, fmt.Errorf("%s: %w", a.id, ErrNotFound)
	}
	return accounts[0], nil
}

// Sync refetches every table regardless of age.
func (a *Account) Sync(ctx context.Context) error {
	for _, sync := range []struct {
		table string
		fn    func(context.Context) error
	}{
		{tableProfile, a.syncProfile},
		{tableFriends, a.syncFriends},
		{tableFollowers, a.syncFollowers},
		{tablePosts, a.syncPosts},
		{tableLikes, a.syncLikes},
		{tableListMemberships, a.syncListMemberships},
	} {
		if err := sync.fn(ctx); err != nil {
			return fmt.Errorf("sync %s: %w", sync.table, err)
		}
	}
	a.log.Info("account synced")
	return nil
}

func (a *Account) syncProfile(ctx context.Context) error {
	found, err := a.remote.LookupAccounts(ctx, []string{a.id})
	if err != nil {
		return err
	}
	if a.cache != nil && len(found) > 0 {
		if err := a.cache.PutMany(ctx, found); err != nil {
			return fmt.Errorf("cache %s: %w", a.id, err)
		}
	}
	var profile *model.Account
	for i := range found {
		if found[i].ID == a.id {
			profile = &found[i]
		}
	}
	if profile == nil {
		return fmt.Errorf("%s: %w", a.id, ErrNotFound)
	}

	var followers int64
	if err := a.db.GetContext(ctx, &followers, "SELECT COUNT(*) FROM "+tableFollowers); err != nil {
		return err
	}
	if profile.FollowersCount == 0 {
		profile.FollowersCount = followers
	}
	profile.UpdatedAt = a.now()

	if err := storage.UpsertAccounts(ctx, a.db, tableProfile, []model.Account{*profile}); err != nil {
		return err
	}
	if a.registry != nil {
		if err := a.registry.Add(ctx, *profile); err != nil {
			return fmt.Errorf("register %s: %w", a.id, err)
		}
	}
	return nil
}

// ensureFresh runs fetch when table is empty or its newest row is stale.
func (a *Account) ensureFresh(ctx context.Context, table string, fetch func(context.Context) error) error {
	var newest sql.NullInt64
	if err := a.db.GetContext(ctx, &newest, "SELECT MAX(updated_at) FROM "+table); err != nil {
		return err
	}
	if newest.Valid && newest.Int64 >= a.clock.Now().Add(-a.ttl).Unix() {
		return nil
	}
	a.log.Debug("refreshing stale table", zap.String("table", table))
	if err := fetch(ctx); err != nil {
		return fmt.Errorf("refresh %s: %w", table, err)
	}
	return nil
}

func (a *Account) now() int64 {
	return a.clock.Now().Unix()
}
