// Package cache persists search responses keyed by a hash of the
// normalized query. The cache is an optimization, never a correctness
// dependency: every storage failure degrades to a miss or a skipped
// write.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/metasearch-io/metasearch/internal/models"
	"github.com/metasearch-io/metasearch/pkg/utils"
)

// Config selects and bounds the cache backend.
type Config struct {
	Enabled         bool
	Driver          string // "sqlite", "postgres" or "redis"
	Path            string
	DSN             string
	RedisURL        string
	DefaultTTL      time.Duration
	MaxEntries      int
	CleanupInterval time.Duration
}

// Hit is the payload of a successful cache lookup.
type Hit struct {
	Results  []models.Result
	Sources  []string
	CachedAt time.Time
}

// Stats is a snapshot of cache state for health endpoints.
type Stats struct {
	Enabled       bool             `json:"enabled"`
	Driver        string           `json:"driver"`
	TotalEntries  int64            `json:"total_entries"`
	ActiveEntries int64            `json:"active_entries"`
	ByType        map[string]int64 `json:"by_type,omitempty"`
	MaxEntries    int              `json:"max_entries"`
}

// Store is the cache contract used by the router.
type Store interface {
	// Get returns the cached payload for the query, treating expired
	// entries as absent.
	Get(ctx context.Context, query models.Query) (*Hit, bool)
	// Put writes through under a precomputed key. queryType selects the
	// TTL and is persisted for per-type invalidation.
	Put(ctx context.Context, key string, query models.Query, queryType string, results []models.Result, sources []string) error
	// InvalidateType removes every entry of one query type.
	InvalidateType(ctx context.Context, queryType string) (int64, error)
	// Clear removes all entries.
	Clear(ctx context.Context) error
	// PurgeExpired physically deletes expired rows.
	PurgeExpired(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// New builds the configured backend. A disabled cache yields a no-op
// store so callers never need nil checks.
func New(cfg Config, logger *logrus.Logger) (Store, error) {
	if !cfg.Enabled {
		return noopStore{}, nil
	}

	switch cfg.Driver {
	case "sqlite", "postgres":
		return newSQLStore(cfg, logger)
	case "redis":
		return newRedisStore(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown cache driver: %q", cfg.Driver)
	}
}

// Key derives the deterministic cache key for a query. Identical queries
// always collide to the same key regardless of call order. The type
// component is the caller-provided one: the router derives the key before
// classification stamps a type.
func Key(query models.Query) string {
	keyStr := fmt.Sprintf("%s:%s:%d",
		strings.ToLower(strings.TrimSpace(query.Text)),
		query.Language,
		query.MaxResults,
	)
	if query.QueryType != "" {
		keyStr += ":" + query.QueryType
	}
	return utils.MD5Hash(keyStr)
}

// ttlByType: factual data ages slowest, current news fastest.
var ttlByType = map[string]time.Duration{
	models.TypeFactual: 24 * time.Hour,
	models.TypeCurrent: time.Hour,
	models.TypeGeneral: 6 * time.Hour,
}

func ttlForType(queryType string, fallback time.Duration) time.Duration {
	if ttl, ok := ttlByType[queryType]; ok {
		return ttl
	}
	if fallback <= 0 {
		fallback = time.Hour
	}
	return fallback
}

// noopStore backs a disabled cache.
type noopStore struct{}

func (noopStore) Get(context.Context, models.Query) (*Hit, bool) { return nil, false }
func (noopStore) Put(context.Context, string, models.Query, string, []models.Result, []string) error {
	return nil
}
func (noopStore) InvalidateType(context.Context, string) (int64, error) { return 0, nil }
func (noopStore) Clear(context.Context) error                           { return nil }
func (noopStore) PurgeExpired(context.Context) (int64, error)           { return 0, nil }
func (noopStore) Stats(context.Context) (Stats, error)                  { return Stats{Enabled: false}, nil }
func (noopStore) Close() error                                          { return nil }
