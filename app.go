package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/pablof7z/purplewatch/account"
	"github.com/pablof7z/purplewatch/config"
	"github.com/pablof7z/purplewatch/directory"
	"github.com/pablof7z/purplewatch/listsource"
	"github.com/pablof7z/purplewatch/relay"
	"github.com/pablof7z/purplewatch/storage"
	"github.com/pablof7z/purplewatch/watchlist"
)

// app holds the wired components shared by every command.
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	store     *storage.Storage
	relays    *relay.Client
	web       *listsource.WebList
	cache     *directory.Cache
	resolver  *directory.Resolver
	directory *directory.Directory

	closeOnce sync.Once
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	store := storage.New(cfg.Storage.Path, logger)

	db, err := store.Directory(ctx)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open directory: %w", err)
	}

	relays := relay.NewClient(cfg.Relays,
		relay.WithTimeout(cfg.Remote.Timeout()),
		relay.WithConcurrency(cfg.Remote.Concurrency),
		relay.WithLogger(logger),
	)
	cache := directory.NewCache(db, cfg.Cache.TTL())
	resolver := directory.NewResolver(cache, relays,
		directory.WithBatchSize(cfg.Cache.RemoteBatchSize),
		directory.WithResolverLogger(logger),
	)

	return &app{
		cfg:       cfg,
		log:       logger,
		store:     store,
		relays:    relays,
		web:       listsource.NewWebList(cfg.WebList.URLTemplate, cfg.WebList.Timeout(), listsource.WithLogger(logger)),
		cache:     cache,
		resolver:  resolver,
		directory: directory.New(db, resolver, store, cfg.Directory.TTL(), directory.WithLogger(logger)),
	}, nil
}

func (a *app) watchlist(ctx context.Context, name string) (*watchlist.Watchlist, error) {
	return watchlist.Open(ctx, a.store, name, a.resolver, a.cfg.Watchlist.TTL(),
		watchlist.WithListFetcher(a.relays),
		watchlist.WithWebFetcher(a.web),
		watchlist.WithLogger(a.log),
	)
}

func (a *app) account(ctx context.Context, id string) (*account.Account, error) {
	id, err := a.accountID(ctx, id)
	if err != nil {
		return nil, err
	}
	return account.Open(ctx, a.store, id, a.relays, a.resolver,
		account.WithTTL(a.cfg.Account.TTL()),
		account.WithLimit(a.cfg.Account.Limit),
		account.WithRegistry(a.directory),
		account.WithCache(a.cache),
		account.WithLogger(a.log),
	)
}

// accountID accepts a hex key, an npub or a NIP-05 name.
func (a *app) accountID(ctx context.Context, ref string) (string, error) {
	if id, ok := listsource.NormalizeAccountID(ref); ok {
		return id, nil
	}
	found, err := a.resolver.ResolveNames(ctx, []string{ref})
	if err != nil {
		return "", err
	}
	if len(found) == 0 {
		return "", fmt.Errorf("no account named %q", ref)
	}
	return found[0].ID, nil
}

func (a *app) Close() {
	a.closeOnce.Do(func() {
		if err := a.store.Close(); err != nil {
			a.log.Warn("failed to close storage", zap.Error(err))
		}
		_ = a.log.Sync()
	})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
