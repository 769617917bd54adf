package directory

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/pablof7z/purplewatch/model"
	"github.com/pablof7z/purplewatch/storage"
)

const directoryTable = "directory"

// AccountStores reports which accounts have a local store.
type AccountStores interface {
	AccountIDs() ([]string, error)
}

// Directory is the registry of locally mirrored accounts.
type Directory struct {
	db       *sqlx.DB
	resolver *Resolver
	stores   AccountStores
	ttl      time.Duration
	clock    clockwork.Clock
	log      *zap.Logger
}

type Option func(*Directory)

func WithClock(clock clockwork.Clock) Option {
	return func(d *Directory) { d.clock = clock }
}

func WithLogger(logger *zap.Logger) Option {
	return func(d *Directory) { d.log = logger.Named("directory") }
}

func New(db *sqlx.DB, resolver *Resolver, stores AccountStores, ttl time.Duration, opts ...Option) *Directory {
	d := &Directory{
		db:       db,
		resolver: resolver,
		stores:   stores,
		ttl:      ttl,
		clock:    clockwork.NewRealClock(),
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Add records or refreshes a tracked account.
func (d *Directory) Add(ctx context.Context, account model.Account) error {
	account.UpdatedAt = d.clock.Now().Unix()
	if err := storage.UpsertAccounts(ctx, d.db, directoryTable, []model.Account{account}); err != nil {
		return fmt.Errorf("directory add %s: %w", account.ID, err)
	}
	return nil
}

func (d *Directory) Remove(ctx context.Context, id string) error {
	if _, err := storage.DeleteIn(ctx, d.db, directoryTable, "account_id", []string{id}); err != nil {
		return fmt.Errorf("directory remove %s: %w", id, err)
	}
	return nil
}

// List returns a page of tracked accounts ordered by name.
func (d *Directory) List(ctx context.Context, page, size int) (model.Page[model.Account], error) {
	result, err := storage.PageAccounts(ctx, d.db,
		storage.SelectAccounts(directoryTable),
		sq.Select("COUNT(*)").From(directoryTable),
		page, size)
	if err != nil {
		return result, fmt.Errorf("directory list: %w", err)
	}
	return result, nil
}

// ScanResult counts what a scan changed. Added rows are new to the
// directory, Refreshed rows existed but were stale.
type ScanResult struct {
	OnDisk     int      `json:"on_disk"`
	Added      int      `json:"added"`
	Refreshed  int      `json:"refreshed"`
	Removed    int      `json:"removed"`
	Unresolved []string `json:"unresolved"`
}

// ScanAndUpdate reconciles the directory with the account stores on disk.
// Accounts on disk that are missing or stale are resolved and upserted; rows
// for accounts no longer on disk are deleted whatever their age.
func (d *Directory) ScanAndUpdate(ctx context.Context) (ScanResult, error) {
	var result ScanResult

	onDisk, err := d.stores.AccountIDs()
	if err != nil {
		return result, err
	}
	result.OnDisk = len(onDisk)

	var rows []struct {
		ID        string `db:"account_id"`
		UpdatedAt int64  `db:"updated_at"`
	}
	if err := d.db.SelectContext(ctx, &rows, `SELECT account_id, updated_at FROM directory`); err != nil {
		return result, fmt.Errorf("read directory: %w", err)
	}

	cutoff := d.clock.Now().Add(-d.ttl).Unix()
	fresh := make(map[string]struct{}, len(rows))
	listed := make(map[string]struct{}, len(rows))
	present := make(map[string]struct{}, len(onDisk))
	for _, id := range onDisk {
		present[id] = struct{}{}
	}

	var remove []string
	for _, row := range rows {
		if _, ok := present[row.ID]; !ok {
			remove = append(remove, row.ID)
			continue
		}
		listed[row.ID] = struct{}{}
		if row.UpdatedAt >= cutoff {
			fresh[row.ID] = struct{}{}
		}
	}

	var add []string
	for _, id := range onDisk {
		if _, ok := fresh[id]; !ok {
			add = append(add, id)
		}
	}

	if len(remove) > 0 {
		n, err := storage.DeleteIn(ctx, d.db, directoryTable, "account_id", remove)
		if err != nil {
			return result, fmt.Errorf("prune directory: %w", err)
		}
		result.Removed = int(n)
	}

	if len(add) == 0 {
		return result, nil
	}

	resolved, resolveErr := d.resolver.ResolveIDs(ctx, add)
	now := d.clock.Now().Unix()
	for i := range resolved {
		resolved[i].UpdatedAt = now
	}
	if err := storage.UpsertAccounts(ctx, d.db, directoryTable, resolved); err != nil {
		return result, fmt.Errorf("update directory: %w", err)
	}
	for _, a := range resolved {
		if _, ok := listed[a.ID]; ok {
			result.Refreshed++
		} else {
			result.Added++
		}
	}

	if resolveErr != nil {
		return result, fmt.Errorf("scan directory: %w", resolveErr)
	}

	got := make(map[string]struct{}, len(resolved))
	for _, a := range resolved {
		got[a.ID] = struct{}{}
	}
	for _, id := range add {
		if _, ok := got[id]; !ok {
			result.Unresolved = append(result.Unresolved, id)
		}
	}

	d.log.Info("directory scanned",
		zap.Int("on_disk", result.OnDisk),
		zap.Int("added", result.Added),
		zap.Int("refreshed", result.Refreshed),
		zap.Int("removed", result.Removed),
		zap.Int("unresolved", len(result.Unresolved)))

	return result, nil
}
