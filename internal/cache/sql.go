package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/metasearch-io/metasearch/internal/models"
)

// Entry is one cached search response row.
type Entry struct {
	QueryHash    string    `gorm:"column:query_hash;primaryKey"`
	QueryText    string    `gorm:"column:query_text;not null"`
	QueryType    string    `gorm:"column:query_type;index:idx_query_type"`
	Results      string    `gorm:"column:results;not null"`
	Sources      string    `gorm:"column:sources;not null"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	ExpiresAt    time.Time `gorm:"column:expires_at;not null;index:idx_expires_at"`
	AccessCount  int       `gorm:"column:access_count;default:1"`
	LastAccessed time.Time `gorm:"column:last_accessed"`
}

func (Entry) TableName() string { return "search_cache" }

// sqlStore implements Store on an embedded SQLite file (default) or a
// Postgres DSN, behind a single gorm handle. Writes and the eviction
// sweep they may trigger share one transaction so concurrent population
// cannot lose updates.
type sqlStore struct {
	db     *gorm.DB
	cfg    Config
	logger *logrus.Logger

	// now is overridable so TTL expiry is testable with simulated time.
	now func() time.Time

	purgeMu   sync.Mutex
	lastPurge time.Time
}

func newSQLStore(cfg Config, logger *logrus.Logger) (*sqlStore, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create cache directory: %w", err)
			}
		}
		dialector = sqlite.Open(cfg.Path)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate cache schema: %w", err)
	}

	if cfg.Driver != "postgres" {
		// SQLite allows a single writer; one open connection serializes
		// write transactions.
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}

	return &sqlStore{
		db:     db,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}, nil
}

func (s *sqlStore) Get(ctx context.Context, query models.Query) (*Hit, bool) {
	key := Key(query)
	now := s.now()

	var entry Entry
	err := s.db.WithContext(ctx).
		Where("query_hash = ? AND expires_at > ?", key, now).
		First(&entry).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.WithError(err).Warn("Cache get failed")
		}
		return nil, false
	}

	// Refresh recency bookkeeping; failure here is not a miss.
	if err := s.db.WithContext(ctx).Model(&Entry{}).
		Where("query_hash = ?", key).
		Updates(map[string]interface{}{
			"access_count":  gorm.Expr("access_count + 1"),
			"last_accessed": now,
		}).Error; err != nil {
		s.logger.WithError(err).Warn("Cache access update failed")
	}

	var results []models.Result
	if err := json.Unmarshal([]byte(entry.Results), &results); err != nil {
		s.logger.WithError(err).Warn("Corrupt cache entry, treating as miss")
		return nil, false
	}
	var sources []string
	if err := json.Unmarshal([]byte(entry.Sources), &sources); err != nil {
		s.logger.WithError(err).Warn("Corrupt cache entry, treating as miss")
		return nil, false
	}

	s.logger.WithField("query", truncate(query.Text, 50)).Debug("Cache hit")

	return &Hit{
		Results:  results,
		Sources:  sources,
		CachedAt: entry.CreatedAt,
	}, true
}

func (s *sqlStore) Put(ctx context.Context, key string, query models.Query, queryType string, results []models.Result, sources []string) error {
	if len(results) == 0 {
		return nil
	}

	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to serialize results: %w", err)
	}
	sourcesJSON, err := json.Marshal(sources)
	if err != nil {
		return fmt.Errorf("failed to serialize sources: %w", err)
	}

	now := s.now()
	entry := Entry{
		QueryHash:    key,
		QueryText:    query.Text,
		QueryType:    queryType,
		Results:      string(resultsJSON),
		Sources:      string(sourcesJSON),
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttlForType(queryType, s.cfg.DefaultTTL)),
		AccessCount:  1,
		LastAccessed: now,
	}

	// Insert and the eviction check run in one transaction so two
	// concurrent writers cannot both observe a count under the limit.
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&entry).Error; err != nil {
			return err
		}
		return s.evictIfOverLimit(tx)
	})
	if err != nil {
		return fmt.Errorf("cache store failed: %w", err)
	}

	s.logger.WithField("query", truncate(query.Text, 50)).Debug("Cached results")

	s.maybePurge(ctx)
	return nil
}

// evictIfOverLimit deletes the coldest entries, ranked by last access and
// access count, until live count is back to 80% of the maximum. The
// hysteresis avoids evicting on every write at the boundary.
func (s *sqlStore) evictIfOverLimit(tx *gorm.DB) error {
	if s.cfg.MaxEntries <= 0 {
		return nil
	}

	var count int64
	if err := tx.Model(&Entry{}).Count(&count).Error; err != nil {
		return err
	}
	if count <= int64(s.cfg.MaxEntries) {
		return nil
	}

	keep := s.cfg.MaxEntries * 8 / 10
	warmest := tx.Model(&Entry{}).
		Select("query_hash").
		Order("last_accessed DESC, access_count DESC").
		Limit(keep)

	res := tx.Where("query_hash NOT IN (?)", warmest).Delete(&Entry{})
	if res.Error != nil {
		return res.Error
	}

	s.logger.WithField("removed", res.RowsAffected).Info("Cache eviction removed cold entries")
	return nil
}

// maybePurge sweeps expired rows opportunistically during writes, at most
// once per cleanup interval.
func (s *sqlStore) maybePurge(ctx context.Context) {
	interval := s.cfg.CleanupInterval
	if interval <= 0 {
		interval = time.Hour
	}

	s.purgeMu.Lock()
	due := s.now().Sub(s.lastPurge) >= interval
	if due {
		s.lastPurge = s.now()
	}
	s.purgeMu.Unlock()

	if !due {
		return
	}
	if _, err := s.PurgeExpired(ctx); err != nil {
		s.logger.WithError(err).Warn("Opportunistic cache purge failed")
	}
}

func (s *sqlStore) InvalidateType(ctx context.Context, queryType string) (int64, error) {
	res := s.db.WithContext(ctx).Where("query_type = ?", queryType).Delete(&Entry{})
	if res.Error != nil {
		return 0, fmt.Errorf("cache invalidation failed: %w", res.Error)
	}
	s.logger.WithFields(logrus.Fields{
		"query_type": queryType,
		"removed":    res.RowsAffected,
	}).Info("Invalidated cache entries by type")
	return res.RowsAffected, nil
}

func (s *sqlStore) Clear(ctx context.Context) error {
	res := s.db.WithContext(ctx).Where("1 = 1").Delete(&Entry{})
	if res.Error != nil {
		return fmt.Errorf("cache clear failed: %w", res.Error)
	}
	s.logger.WithField("removed", res.RowsAffected).Info("Cache cleared")
	return nil
}

func (s *sqlStore) PurgeExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at <= ?", s.now()).Delete(&Entry{})
	if res.Error != nil {
		return 0, fmt.Errorf("cache purge failed: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		s.logger.WithField("removed", res.RowsAffected).Info("Purged expired cache entries")
	}
	return res.RowsAffected, nil
}

func (s *sqlStore) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{
		Enabled:    true,
		Driver:     s.cfg.Driver,
		MaxEntries: s.cfg.MaxEntries,
		ByType:     make(map[string]int64),
	}

	if err := s.db.WithContext(ctx).Model(&Entry{}).Count(&stats.TotalEntries).Error; err != nil {
		return stats, fmt.Errorf("cache stats failed: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&Entry{}).
		Where("expires_at > ?", s.now()).
		Count(&stats.ActiveEntries).Error; err != nil {
		return stats, fmt.Errorf("cache stats failed: %w", err)
	}

	rows := []struct {
		QueryType string
		Count     int64
	}{}
	if err := s.db.WithContext(ctx).Model(&Entry{}).
		Select("query_type, COUNT(*) as count").
		Where("expires_at > ?", s.now()).
		Group("query_type").
		Scan(&rows).Error; err != nil {
		return stats, fmt.Errorf("cache stats failed: %w", err)
	}
	for _, row := range rows {
		queryType := row.QueryType
		if queryType == "" {
			queryType = "unknown"
		}
		stats.ByType[queryType] = row.Count
	}

	return stats, nil
}

func (s *sqlStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
