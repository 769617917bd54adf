package directory

import (
	"context"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"

	"github.com/pablof7z/purplewatch/model"
	"github.com/pablof7z/purplewatch/storage"
)

const (
	cacheTable = "cache"
	namesTable = "cache_names"
)

// Key selects which index a lookup goes through.
type Key int

const (
	ByID Key = iota
	ByName
)

// Cache is the shared, TTL-gated store of every account ever fetched.
// Entries are never evicted; stale rows are filtered at read time.
type Cache struct {
	db        sqlx.ExtContext
	ttl       time.Duration
	clock     clockwork.Clock
	shardSize int
}

type CacheOption func(*Cache)

func WithCacheClock(clock clockwork.Clock) CacheOption {
	return func(c *Cache) { c.clock = clock }
}

// WithShardSize overrides the number of keys bound into one lookup query.
func WithShardSize(n int) CacheOption {
	return func(c *Cache) {
		if n > 0 {
			c.shardSize = n
		}
	}
}

func NewCache(db sqlx.ExtContext, ttl time.Duration, opts ...CacheOption) *Cache {
	c := &Cache{
		db:        db,
		ttl:       ttl,
		clock:     clockwork.NewRealClock(),
		shardSize: storage.MaxVariables,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Put records a freshly fetched account.
func (c *Cache) Put(ctx context.Context, account model.Account) error {
	return c.PutMany(ctx, []model.Account{account})
}

// PutMany records freshly fetched accounts, stamping each with the current time.
// Every account's name is recorded as an alias of its key, so several names
// can resolve to one account. Concurrent writers for the same id or name
// resolve as most-recent-fetch-wins.
func (c *Cache) PutMany(ctx context.Context, accounts []model.Account) error {
	if len(accounts) == 0 {
		return nil
	}
	now := c.clock.Now().Unix()

	// one row per id and per name within a statement: last one wins
	rows := make(map[string]int, len(accounts))
	aliases := make(map[string]int, len(accounts))
	var stamped []model.Account
	var names []alias
	for _, a := range accounts {
		a.UpdatedAt = now
		if i, ok := rows[a.ID]; ok {
			stamped[i] = a
		} else {
			rows[a.ID] = len(stamped)
			stamped = append(stamped, a)
		}
		key := a.NameKey()
		if key == "" {
			continue
		}
		if i, ok := aliases[key]; ok {
			names[i].AccountID = a.ID
		} else {
			aliases[key] = len(names)
			names = append(names, alias{NameKey: key, AccountID: a.ID})
		}
	}

	if err := storage.UpsertAccounts(ctx, c.db, cacheTable, stamped); err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	if err := c.putAliases(ctx, names, now); err != nil {
		return fmt.Errorf("cache put names: %w", err)
	}
	return nil
}

type alias struct {
	NameKey   string `db:"name_key"`
	AccountID string `db:"account_id"`
}

func (c *Cache) putAliases(ctx context.Context, names []alias, now int64) error {
	for _, chunk := range storage.Chunk(names, storage.MaxVariables/3) {
		insert := sq.Insert(namesTable).Columns("name_key", "account_id", "updated_at")
		for _, n := range chunk {
			insert = insert.Values(n.NameKey, n.AccountID, now)
		}
		query, args, err := insert.
			Suffix("ON CONFLICT(name_key) DO UPDATE SET account_id = excluded.account_id, updated_at = excluded.updated_at").
			ToSql()
		if err != nil {
			return err
		}
		if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache) GetByIDs(ctx context.Context, ids []string) ([]model.Account, error) {
	return c.Get(ctx, ids, ByID)
}

// GetByNames looks names up case-insensitively.
func (c *Cache) GetByNames(ctx context.Context, names []string) ([]model.Account, error) {
	return c.Get(ctx, names, ByName)
}

// Get returns the fresh entries matching keys on a single index. Keys are
// queried in shards so no statement exceeds the store's variable limit.
// Names are matched through their aliases; each account is returned once.
func (c *Cache) Get(ctx context.Context, keys []string, by Key) ([]model.Account, error) {
	if by == ByName {
		named, err := c.getNamed(ctx, keys)
		results := make([]model.Account, 0, len(named))
		seen := make(map[string]struct{}, len(named))
		for _, n := range named {
			if _, ok := seen[n.ID]; ok {
				continue
			}
			seen[n.ID] = struct{}{}
			results = append(results, n.Account)
		}
		return results, err
	}

	keys = normalizeKeys(keys, by)
	if len(keys) == 0 {
		return nil, nil
	}

	cutoff := c.cutoff()
	var results []model.Account
	for _, shard := range storage.Chunk(keys, c.shardSize) {
		accounts, err := storage.QueryAccounts(ctx, c.db, storage.SelectAccounts(cacheTable).
			Where(sq.Eq{"account_id": shard}).
			Where(sq.GtOrEq{"updated_at": cutoff}))
		if err != nil {
			return results, fmt.Errorf("cache get: %w", err)
		}
		results = append(results, accounts...)
	}
	return results, nil
}

// namedAccount is a cached account together with the name it was found by.
type namedAccount struct {
	Name string `db:"alias"`
	model.Account
}

// getNamed returns one entry per name whose alias and account are both fresh.
func (c *Cache) getNamed(ctx context.Context, names []string) ([]namedAccount, error) {
	names = normalizeKeys(names, ByName)
	if len(names) == 0 {
		return nil, nil
	}

	columns := make([]string, 0, len(storage.AccountColumns)+1)
	columns = append(columns, "n.name_key AS alias")
	for _, col := range storage.AccountColumns {
		columns = append(columns, "c."+col)
	}

	cutoff := c.cutoff()
	var results []namedAccount
	for _, shard := range storage.Chunk(names, c.shardSize) {
		query, args, err := sq.Select(columns...).
			From(namesTable + " n").
			Join(cacheTable + " c ON c.account_id = n.account_id").
			Where(sq.Eq{"n.name_key": shard}).
			Where(sq.GtOrEq{"n.updated_at": cutoff}).
			Where(sq.GtOrEq{"c.updated_at": cutoff}).
			ToSql()
		if err != nil {
			return results, err
		}
		var rows []namedAccount
		if err := sqlx.SelectContext(ctx, c.db, &rows, query, args...); err != nil {
			return results, fmt.Errorf("cache get: %w", err)
		}
		results = append(results, rows...)
	}
	return results, nil
}

func (c *Cache) cutoff() int64 {
	return c.clock.Now().Add(-c.ttl).Unix()
}

// Peek returns the cached entry for id regardless of its age.
func (c *Cache) Peek(ctx context.Context, id string) (model.Account, bool, error) {
	accounts, err := storage.QueryAccounts(ctx, c.db, storage.SelectAccounts(cacheTable).
		Where(sq.Eq{"account_id": id}))
	if err != nil {
		return model.Account{}, false, fmt.Errorf("cache peek: %w", err)
	}
	if len(accounts) == 0 {
		return model.Account{}, false, nil
	}
	return accounts[0], true, nil
}

func normalizeKeys(keys []string, by Key) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if by == ByName {
			k = model.NameKey(k)
		}
		if k != "" {
			out = append(out, k)
		}
	}
	return storage.Dedupe(out)
}
