package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/pablof7z/purplewatch/model"
)

// Namespace selects the schema a database file is migrated to.
type Namespace string

const (
	NamespaceDirectory Namespace = "directory"
	NamespaceAccount   Namespace = "account"
	NamespaceWatchlist Namespace = "watchlist"
)

const (
	directoryFile = "directory.db"
	accountsDir   = "accounts"
	watchlistsDir = "watchlists"
)

// Storage hands out one pooled connection per database file under root.
// Files are created and migrated on first use.
type Storage struct {
	root string
	log  *zap.Logger

	mu  sync.Mutex
	dbs map[string]*sqlx.DB
}

func New(root string, logger *zap.Logger) *Storage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Storage{
		root: root,
		log:  logger.Named("storage"),
		dbs:  make(map[string]*sqlx.DB),
	}
}

func (s *Storage) Root() string {
	return s.root
}

// Directory returns the shared directory/cache database.
func (s *Storage) Directory(ctx context.Context) (*sqlx.DB, error) {
	return s.open(ctx, filepath.Join(s.root, directoryFile), NamespaceDirectory)
}

// Account returns the store of a single mirrored account.
func (s *Storage) Account(ctx context.Context, id string) (*sqlx.DB, error) {
	if !model.IsAccountID(id) {
		return nil, fmt.Errorf("invalid account id %q", id)
	}
	return s.open(ctx, s.accountPath(id), NamespaceAccount)
}

// Watchlist returns the store of a named watchlist.
func (s *Storage) Watchlist(ctx context.Context, name string) (*sqlx.DB, error) {
	path, err := s.watchlistPath(name)
	if err != nil {
		return nil, err
	}
	return s.open(ctx, path, NamespaceWatchlist)
}

// AccountIDs lists the accounts that have a store on disk.
func (s *Storage) AccountIDs() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, accountsDir))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read accounts directory: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id, ok := strings.CutSuffix(entry.Name(), ".db")
		if !ok || !model.IsAccountID(id) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Watchlists lists the names of the watchlists on disk.
func (s *Storage) Watchlists() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, watchlistsDir))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read watchlists directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if name, ok := strings.CutSuffix(entry.Name(), ".db"); ok && !entry.IsDir() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// RemoveAccount closes and deletes an account store.
func (s *Storage) RemoveAccount(id string) error {
	if !model.IsAccountID(id) {
		return fmt.Errorf("invalid account id %q", id)
	}
	return s.remove(s.accountPath(id))
}

// RemoveWatchlist closes and deletes a watchlist store.
func (s *Storage) RemoveWatchlist(name string) error {
	path, err := s.watchlistPath(name)
	if err != nil {
		return err
	}
	return s.remove(path)
}

func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for path, db := range s.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", path, err))
		}
		delete(s.dbs, path)
	}
	return errors.Join(errs...)
}

func (s *Storage) accountPath(id string) string {
	return filepath.Join(s.root, accountsDir, id+".db")
}

func (s *Storage) watchlistPath(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid watchlist name %q", name)
	}
	return filepath.Join(s.root, watchlistsDir, name+".db"), nil
}

func (s *Storage) open(ctx context.Context, path string, ns Namespace) (*sqlx.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if db, ok := s.dbs[path]; ok {
		return db, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create directory for %s: %w", path, err)
	}

	db, err := sqlx.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	if err := migrate(ctx, db, ns); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}

	s.dbs[path] = db
	s.log.Debug("opened database", zap.String("path", path), zap.String("namespace", string(ns)))
	return db, nil
}

// _timeout: milliseconds to wait for locks before returning SQLITE_BUSY
// _journal_mode=WAL: concurrent readers while a refresh transaction writes
// _txlock=immediate: transactions take the write lock at BEGIN, so a
// read-then-write transaction waits on the busy timeout instead of failing
// when another writer got there first
func dsn(path string) string {
	return path + "?_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL&_txlock=immediate"
}

func (s *Storage) remove(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if db, ok := s.dbs[path]; ok {
		if err := db.Close(); err != nil {
			return fmt.Errorf("close %s: %w", path, err)
		}
		delete(s.dbs, path)
	}

	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return nil
}
