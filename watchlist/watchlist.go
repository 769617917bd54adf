package watchlist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/pablof7z/purplewatch/model"
	"github.com/pablof7z/purplewatch/storage"
)

const memberTable = "watchlist"

var (
	ErrNotFound    = errors.New("not found")
	ErrSelfSublist = errors.New("self sublist has no external source")
)

// Hydrator resolves bare account ids into full records.
type Hydrator interface {
	ResolveIDs(ctx context.Context, ids []string) ([]model.Account, error)
}

// ListFetcher fetches lists hosted by the remote social graph.
type ListFetcher interface {
	ListMembers(ctx context.Context, ref string) (model.RemoteList, error)
}

// WebFetcher fetches an externally hosted block list.
type WebFetcher interface {
	Fetch(ctx context.Context, listID string) ([]string, error)
}

// Watchlist is a named set of monitored accounts assembled from sublists.
type Watchlist struct {
	name     string
	db       *sqlx.DB
	hydrator Hydrator
	lists    ListFetcher
	web      WebFetcher
	ttl      time.Duration
	clock    clockwork.Clock
	log      *zap.Logger
}

type Option func(*Watchlist)

func WithListFetcher(f ListFetcher) Option {
	return func(w *Watchlist) { w.lists = f }
}

func WithWebFetcher(f WebFetcher) Option {
	return func(w *Watchlist) { w.web = f }
}

func WithClock(clock clockwork.Clock) Option {
	return func(w *Watchlist) { w.clock = clock }
}

func WithLogger(logger *zap.Logger) Option {
	return func(w *Watchlist) { w.log = logger }
}

// New wraps an opened watchlist database. ttl bounds how old member
// attributes may get before they are hydrated again.
func New(name string, db *sqlx.DB, hydrator Hydrator, ttl time.Duration, opts ...Option) *Watchlist {
	w := &Watchlist{
		name:     name,
		db:       db,
		hydrator: hydrator,
		ttl:      ttl,
		clock:    clockwork.NewRealClock(),
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.Named("watchlist").With(zap.String("watchlist", name))
	return w
}

// Open opens (creating if needed) the named watchlist in store.
func Open(ctx context.Context, store *storage.Storage, name string, hydrator Hydrator, ttl time.Duration, opts ...Option) (*Watchlist, error) {
	db, err := store.Watchlist(ctx, name)
	if err != nil {
		return nil, err
	}
	return New(name, db, hydrator, ttl, opts...), nil
}

func (w *Watchlist) Name() string {
	return w.name
}

// AddAccounts puts ids on the watchlist through sublistID. Existing
// memberships keep their exclusion flag.
func (w *Watchlist) AddAccounts(ctx context.Context, sublistID int64, ids ...string) error {
	ids, _ = normalizeIDs(ids)
	if len(ids) == 0 {
		return nil
	}

	return storage.RunInTx(ctx, w.db, func(tx *sqlx.Tx) error {
		if _, err := getSublist(ctx, tx, sublistID); err != nil {
			return err
		}
		if err := storage.InsertBareAccounts(ctx, tx, memberTable, ids); err != nil {
			return fmt.Errorf("add members: %w", err)
		}
		if err := insertMemberships(ctx, tx, sublistID, ids); err != nil {
			return fmt.Errorf("add memberships: %w", err)
		}
		return nil
	})
}

// RemoveAccount drops an account and every one of its memberships.
func (w *Watchlist) RemoveAccount(ctx context.Context, id string) error {
	return storage.RunInTx(ctx, w.db, func(tx *sqlx.Tx) error {
		if _, err := storage.DeleteIn(ctx, tx, "account_sublists", "account_id", []string{id}); err != nil {
			return err
		}
		n, err := storage.DeleteIn(ctx, tx, memberTable, "account_id", []string{id})
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("account %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

// Members returns a page of every member, excluded or not.
func (w *Watchlist) Members(ctx context.Context, page, size int) (model.Page[model.Account], error) {
	return storage.PageAccounts(ctx, w.db,
		storage.SelectAccounts(memberTable),
		sq.Select("COUNT(*)").From(memberTable),
		page, size)
}

func (w *Watchlist) Count(ctx context.Context) (int64, error) {
	var n int64
	err := w.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM watchlist`)
	return n, err
}

// MemberIDs returns the effective membership: accounts with at least one
// membership that is not locally excluded.
func (w *Watchlist) MemberIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := w.db.SelectContext(ctx, &ids, `
		SELECT DISTINCT account_id FROM account_sublists
		WHERE locally_excluded = 0
		ORDER BY account_id
	`)
	if err != nil {
		return nil, fmt.Errorf("member ids: %w", err)
	}
	return ids, nil
}

// RefreshMemberData hydrates members whose attributes are missing or older
// than the watchlist TTL. It returns the number of rows refreshed.
func (w *Watchlist) RefreshMemberData(ctx context.Context) (int, error) {
	cutoff := w.clock.Now().Add(-w.ttl).Unix()

	var ids []string
	if err := w.db.SelectContext(ctx, &ids, `
		SELECT account_id FROM watchlist
		WHERE updated_at < ? OR screen_name = ''
	`, cutoff); err != nil {
		return 0, fmt.Errorf("find stale members: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	accounts, resolveErr := w.hydrator.ResolveIDs(ctx, ids)
	if err := w.writeMembers(ctx, w.db, accounts); err != nil {
		return 0, err
	}
	if resolveErr != nil {
		return len(accounts), fmt.Errorf("hydrate members: %w", resolveErr)
	}

	w.log.Info("refreshed member data", zap.Int("stale", len(ids)), zap.Int("refreshed", len(accounts)))
	return len(accounts), nil
}

// writeMembers stores hydrated attributes for accounts already on the watchlist.
func (w *Watchlist) writeMembers(ctx context.Context, exec sqlx.ExecerContext, accounts []model.Account) error {
	if len(accounts) == 0 {
		return nil
	}
	now := w.clock.Now().Unix()
	stamped := make([]model.Account, len(accounts))
	for i, a := range accounts {
		a.UpdatedAt = now
		stamped[i] = a
	}
	if err := storage.UpsertAccounts(ctx, exec, memberTable, stamped); err != nil {
		return fmt.Errorf("write members: %w", err)
	}
	return nil
}

func normalizeIDs(ids []string) (valid, invalid []string) {
	for _, id := range ids {
		id = strings.ToLower(strings.TrimSpace(id))
		if model.IsAccountID(id) {
			valid = append(valid, id)
		} else {
			invalid = append(invalid, id)
		}
	}
	return storage.Dedupe(valid), invalid
}
