package template

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/LashaKh/MediMind-Expert-1.0-sub008/internal/platform/cache"
)

// DefaultCacheTTL is how long a cached read stays fresh.
const DefaultCacheTTL = 5 * time.Minute

const (
	listKeyPrefix  = "tpl:list:"
	statsKeyPrefix = "tpl:stats:"
	getKeyPrefix   = "tpl:get:"
)

// CachingGateway serves List, Get and Stats from a cache.Store and drops
// affected entries after every successful mutation. Cache failures are
// logged and treated as misses.
type CachingGateway struct {
	next   Gateway
	store  cache.Store
	ttl    time.Duration
	logger zerolog.Logger
	// gen is bumped on every invalidation; a read only fills the cache if
	// no invalidation happened while it was loading.
	gen atomic.Uint64
}

type CacheOption func(*CachingGateway)

func WithCacheTTL(ttl time.Duration) CacheOption {
	return func(g *CachingGateway) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

func WithCacheLogger(logger zerolog.Logger) CacheOption {
	return func(g *CachingGateway) { g.logger = logger }
}

func NewCachingGateway(next Gateway, store cache.Store, opts ...CacheOption) *CachingGateway {
	g := &CachingGateway{
		next:   next,
		store:  store,
		ttl:    DefaultCacheTTL,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// callerKey scopes cache entries to the requesting user, since visibility
// of a template depends on who asks.
func callerKey(ctx context.Context) string {
	if id, err := CallerFromContext(ctx); err == nil {
		return id.String()
	}
	return "-"
}

func listKey(ctx context.Context, ownerID uuid.UUID, f SearchFilters) string {
	params, _ := json.Marshal(f.Normalized())
	return listKeyPrefix + callerKey(ctx) + ":" + ownerID.String() + ":" + string(params)
}

func statsKey(ctx context.Context, ownerID uuid.UUID) string {
	return statsKeyPrefix + callerKey(ctx) + ":" + ownerID.String()
}

func getKey(ctx context.Context, id uuid.UUID) string {
	return getKeyPrefix + callerKey(ctx) + ":" + id.String()
}

func cachedRead[T any](ctx context.Context, g *CachingGateway, key string, load func() (*T, error)) (*T, error) {
	data, ok, err := g.store.Get(ctx, key)
	if err != nil {
		g.logger.Warn().Err(err).Str("key", key).Msg("template cache read failed")
	}
	if ok {
		var v T
		if err := json.Unmarshal(data, &v); err == nil {
			g.logger.Debug().Str("key", key).Msg("template cache hit")
			return &v, nil
		}
		g.logger.Warn().Str("key", key).Msg("discarding undecodable template cache entry")
	}
	g.logger.Debug().Str("key", key).Msg("template cache miss")

	gen := g.gen.Load()
	v, err := load()
	if err != nil {
		return nil, err
	}
	if g.gen.Load() != gen {
		return v, nil
	}
	data, err = json.Marshal(v)
	if err != nil {
		return v, nil
	}
	if err := g.store.Set(ctx, key, data, g.ttl); err != nil {
		g.logger.Warn().Err(err).Str("key", key).Msg("template cache write failed")
	}
	return v, nil
}

func (g *CachingGateway) List(ctx context.Context, ownerID uuid.UUID, f SearchFilters) (*ListResult, error) {
	return cachedRead(ctx, g, listKey(ctx, ownerID, f), func() (*ListResult, error) {
		return g.next.List(ctx, ownerID, f)
	})
}

func (g *CachingGateway) Get(ctx context.Context, id uuid.UUID) (*Template, error) {
	return cachedRead(ctx, g, getKey(ctx, id), func() (*Template, error) {
		return g.next.Get(ctx, id)
	})
}

func (g *CachingGateway) Stats(ctx context.Context, ownerID uuid.UUID) (*Stats, error) {
	return cachedRead(ctx, g, statsKey(ctx, ownerID), func() (*Stats, error) {
		return g.next.Stats(ctx, ownerID)
	})
}

func (g *CachingGateway) Create(ctx context.Context, ownerID uuid.UUID, req CreateRequest) (*Template, error) {
	t, err := g.next.Create(ctx, ownerID, req)
	if err != nil {
		return nil, err
	}
	g.invalidate(ctx, t.ID)
	return t, nil
}

func (g *CachingGateway) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (*Template, error) {
	t, err := g.next.Update(ctx, id, req)
	if err != nil {
		return nil, err
	}
	g.invalidate(ctx, id)
	return t, nil
}

func (g *CachingGateway) Delete(ctx context.Context, id uuid.UUID) error {
	if err := g.next.Delete(ctx, id); err != nil {
		return err
	}
	g.invalidate(ctx, id)
	return nil
}

func (g *CachingGateway) RecordUsage(ctx context.Context, id uuid.UUID) (*UsageResult, error) {
	res, err := g.next.RecordUsage(ctx, id)
	if err != nil {
		return nil, err
	}
	g.invalidate(ctx, id)
	return res, nil
}

// invalidate removes every entry mentioning id plus all list and stats
// entries.
func (g *CachingGateway) invalidate(ctx context.Context, id uuid.UUID) {
	g.gen.Add(1)
	ids := id.String()
	n, err := g.store.DeleteMatching(ctx, func(key string) bool {
		return strings.Contains(key, ids) ||
			strings.HasPrefix(key, listKeyPrefix) ||
			strings.HasPrefix(key, statsKeyPrefix)
	})
	if err != nil {
		g.logger.Error().Err(err).Str("template_id", ids).Msg("template cache invalidation failed")
		return
	}
	g.logger.Debug().Str("template_id", ids).Int("removed", n).Msg("template cache invalidated")
}

// ClearCache drops every cached entry, e.g. on sign-out.
func (g *CachingGateway) ClearCache(ctx context.Context) error {
	g.gen.Add(1)
	return g.store.Clear(ctx)
}
