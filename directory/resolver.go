package directory

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pablof7z/purplewatch/model"
	"github.com/pablof7z/purplewatch/storage"
)

// DefaultRemoteBatchSize is the largest lookup the remote service accepts.
const DefaultRemoteBatchSize = 100

// AccountLookup is the remote batch lookup the resolver falls back to.
type AccountLookup interface {
	LookupAccounts(ctx context.Context, ids []string) ([]model.Account, error)
	LookupAccountsByName(ctx context.Context, names []string) ([]model.Account, error)
}

// Resolver hydrates identifiers into accounts, cache first.
type Resolver struct {
	cache     *Cache
	remote    AccountLookup
	batchSize int
	log       *zap.Logger
}

type ResolverOption func(*Resolver)

func WithBatchSize(n int) ResolverOption {
	return func(r *Resolver) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithResolverLogger(logger *zap.Logger) ResolverOption {
	return func(r *Resolver) { r.log = logger.Named("resolver") }
}

func NewResolver(cache *Cache, remote AccountLookup, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		cache:     cache,
		remote:    remote,
		batchSize: DefaultRemoteBatchSize,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) ResolveIDs(ctx context.Context, ids []string) ([]model.Account, error) {
	return r.Resolve(ctx, ids, ByID)
}

func (r *Resolver) ResolveNames(ctx context.Context, names []string) ([]model.Account, error) {
	return r.Resolve(ctx, names, ByName)
}

// Resolve returns one account per identifier that could be found. Unknown
// identifiers are omitted. On a remote failure the accounts resolved so far
// are returned together with the error; they are already cached.
func (r *Resolver) Resolve(ctx context.Context, keys []string, by Key) ([]model.Account, error) {
	keys = normalizeKeys(keys, by)
	if len(keys) == 0 {
		return nil, nil
	}

	hits, found, err := r.cached(ctx, keys, by)
	if err != nil {
		return nil, err
	}

	var misses []string
	for _, k := range keys {
		if _, ok := found[k]; !ok {
			misses = append(misses, k)
		}
	}

	results := hits
	if len(misses) == 0 {
		return results, nil
	}

	r.log.Debug("resolving cache misses",
		zap.Int("hits", len(hits)),
		zap.Int("misses", len(misses)),
		zap.Bool("by_name", by == ByName))

	for i, batch := range storage.Chunk(misses, r.batchSize) {
		fetched, err := r.lookup(ctx, batch, by)
		if err != nil {
			return results, fmt.Errorf("remote lookup batch %d of %d: %w", i+1, (len(misses)+r.batchSize-1)/r.batchSize, err)
		}
		if err := r.cache.PutMany(ctx, fetched); err != nil {
			return results, err
		}
		results = append(results, fetched...)
	}
	return results, nil
}

// cached returns the fresh cache hits for keys and the set of keys they cover.
// Names are answered one account per name, since several names can share a key.
func (r *Resolver) cached(ctx context.Context, keys []string, by Key) ([]model.Account, map[string]struct{}, error) {
	found := make(map[string]struct{}, len(keys))
	if by == ByName {
		named, err := r.cache.getNamed(ctx, keys)
		if err != nil {
			return nil, nil, err
		}
		hits := make([]model.Account, 0, len(named))
		for _, n := range named {
			found[n.Name] = struct{}{}
			a := n.Account
			if a.NameKey() != n.Name {
				a.ScreenName = n.Name
			}
			hits = append(hits, a)
		}
		return hits, found, nil
	}

	hits, err := r.cache.Get(ctx, keys, by)
	if err != nil {
		return nil, nil, err
	}
	for _, a := range hits {
		found[a.ID] = struct{}{}
	}
	return hits, found, nil
}

func (r *Resolver) lookup(ctx context.Context, batch []string, by Key) ([]model.Account, error) {
	if by == ByName {
		return r.remote.LookupAccountsByName(ctx, batch)
	}
	return r.remote.LookupAccounts(ctx, batch)
}

// Peek exposes the cache's stale-tolerant read for display fallbacks.
func (r *Resolver) Peek(ctx context.Context, id string) (model.Account, bool, error) {
	return r.cache.Peek(ctx, id)
}
