package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/metasearch-io/metasearch/internal/models"
)

const (
	redisKeyPrefix  = "search:"
	redisTypePrefix = "search-type:"
)

// redisEnvelope is the stored value for one cached response.
type redisEnvelope struct {
	QueryText string          `json:"query_text"`
	QueryType string          `json:"query_type"`
	Results   []models.Result `json:"results"`
	Sources   []string        `json:"sources"`
	CachedAt  time.Time       `json:"cached_at"`
}

// redisStore implements Store on a Redis server. Expiry is delegated to
// Redis TTLs, so PurgeExpired is a no-op; size bounding is left to the
// server's maxmemory policy rather than the SQL backends' LRU sweep.
type redisStore struct {
	client *redis.Client
	cfg    Config
	logger *logrus.Logger
}

func newRedisStore(cfg Config, logger *logrus.Logger) (*redisStore, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &redisStore{client: client, cfg: cfg, logger: logger}, nil
}

func (s *redisStore) Get(ctx context.Context, query models.Query) (*Hit, bool) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+Key(query)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.WithError(err).Warn("Cache get failed")
		}
		return nil, false
	}

	var envelope redisEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		s.logger.WithError(err).Warn("Corrupt cache entry, treating as miss")
		return nil, false
	}

	return &Hit{
		Results:  envelope.Results,
		Sources:  envelope.Sources,
		CachedAt: envelope.CachedAt,
	}, true
}

func (s *redisStore) Put(ctx context.Context, key string, query models.Query, queryType string, results []models.Result, sources []string) error {
	if len(results) == 0 {
		return nil
	}

	raw, err := json.Marshal(redisEnvelope{
		QueryText: query.Text,
		QueryType: queryType,
		Results:   results,
		Sources:   sources,
		CachedAt:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to serialize cache entry: %w", err)
	}

	ttl := ttlForType(queryType, s.cfg.DefaultTTL)

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, redisKeyPrefix+key, raw, ttl)
	if queryType != "" {
		// Type sets back per-type invalidation; kept alive as long as the
		// longest-lived entry of that type.
		pipe.SAdd(ctx, redisTypePrefix+queryType, key)
		pipe.Expire(ctx, redisTypePrefix+queryType, ttlByType[models.TypeFactual])
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache store failed: %w", err)
	}

	return nil
}

func (s *redisStore) InvalidateType(ctx context.Context, queryType string) (int64, error) {
	members, err := s.client.SMembers(ctx, redisTypePrefix+queryType).Result()
	if err != nil {
		return 0, fmt.Errorf("cache invalidation failed: %w", err)
	}

	keys := make([]string, 0, len(members)+1)
	for _, member := range members {
		keys = append(keys, redisKeyPrefix+member)
	}
	keys = append(keys, redisTypePrefix+queryType)

	removed, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("cache invalidation failed: %w", err)
	}
	return removed, nil
}

func (s *redisStore) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, redisKeyPrefix+"*", 500).Result()
		if err != nil {
			return fmt.Errorf("cache clear failed: %w", err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("cache clear failed: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (s *redisStore) PurgeExpired(context.Context) (int64, error) {
	// Redis expires entries natively.
	return 0, nil
}

func (s *redisStore) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{
		Enabled:    true,
		Driver:     "redis",
		MaxEntries: s.cfg.MaxEntries,
	}

	size, err := s.client.DBSize(ctx).Result()
	if err != nil {
		return stats, fmt.Errorf("cache stats failed: %w", err)
	}
	stats.TotalEntries = size
	stats.ActiveEntries = size

	return stats, nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
