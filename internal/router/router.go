// Package router orchestrates a search: rate limiting, normalization,
// cache lookup, classification, provider selection, the concurrent
// fan-out, and result aggregation.
package router

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/sirupsen/logrus"

	"github.com/metasearch-io/metasearch/internal/cache"
	"github.com/metasearch-io/metasearch/internal/classifier"
	"github.com/metasearch-io/metasearch/internal/config"
	"github.com/metasearch-io/metasearch/internal/models"
	"github.com/metasearch-io/metasearch/internal/providers"
	"github.com/metasearch-io/metasearch/internal/resources"
)

// ErrEmptyQuery is returned when a search request has no query text.
var ErrEmptyQuery = errors.New("query text must not be empty")

// typeAffinityBonus boosts providers on their home turf during ranking.
var typeAffinityBonus = map[string]map[string]float64{
	models.TypeFactual: {"wikipedia": 1.2},
	models.TypeCurrent: {"rss": 1.15},
}

// Router is the engine facade. One instance serves all requests; every
// method is safe for concurrent use.
type Router struct {
	cfg        *config.Config
	logger     *logrus.Logger
	classifier *classifier.Classifier
	store      cache.Store
	resources  *resources.Manager
	providers  map[string]providers.Provider
	order      []string
	pool       *ants.Pool
	limiter    *rateLimiter

	stopPurge chan struct{}
	closeOnce sync.Once
}

// New wires the engine from configuration. Construction fails fast:
// invalid configuration or an unreachable cache backend is an error here,
// not a degraded runtime.
func New(cfg *config.Config, logger *logrus.Logger) (*Router, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := cache.New(cache.Config{
		Enabled:         cfg.Cache.Enabled,
		Driver:          cfg.Cache.Driver,
		Path:            cfg.Cache.Path,
		DSN:             cfg.Cache.DSN,
		RedisURL:        cfg.Cache.RedisURL,
		DefaultTTL:      cfg.Cache.DefaultTTL,
		MaxEntries:      cfg.Cache.MaxEntries,
		CleanupInterval: cfg.Cache.CleanupInterval,
	}, logger)
	if err != nil {
		return nil, err
	}

	poolSize := cfg.Search.WorkerPoolSize
	if poolSize <= 0 {
		poolSize = 16
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		store.Close()
		return nil, err
	}

	manager := resources.NewManager(resources.Config{
		SessionTimeout: cfg.Resources.SessionTimeout,
		ConnLimit:      cfg.Resources.ConnLimit,
		ConnPerHost:    cfg.Resources.ConnPerHost,
	}, logger)

	r := &Router{
		cfg:        cfg,
		logger:     logger,
		classifier: classifier.New(cfg.Classification.ConfidenceThreshold),
		store:      store,
		resources:  manager,
		providers:  make(map[string]providers.Provider),
		pool:       pool,
		limiter:    newRateLimiter(cfg.Search.RequestsPerMinute),
		stopPurge:  make(chan struct{}),
	}

	if cfg.Providers.DuckDuckGo.Enabled {
		r.register(providers.NewWebSearch(cfg.Providers.DuckDuckGo, manager, logger))
	}
	if cfg.Providers.Wikipedia.Enabled {
		r.register(providers.NewEncyclopedia(cfg.Providers.Wikipedia, manager, logger))
	}
	if cfg.Providers.RSS.Enabled {
		r.register(providers.NewFeeds(cfg.Providers.RSS, manager, logger))
	}

	go r.purgeLoop()

	logger.WithFields(logrus.Fields{
		"providers": r.order,
		"strategy":  cfg.Search.Strategy,
		"cache":     cfg.Cache.Driver,
	}).Info("Search router initialized")

	return r, nil
}

func (r *Router) register(p providers.Provider) {
	r.providers[p.Name()] = p
	r.order = append(r.order, p.Name())
}

// purgeLoop sweeps expired cache entries in the background for backends
// that do not expire natively.
func (r *Router) purgeLoop() {
	interval := r.cfg.Cache.CleanupInterval
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if _, err := r.store.PurgeExpired(ctx); err != nil {
				r.logger.WithError(err).Warn("Background cache purge failed")
			}
			cancel()
		case <-r.stopPurge:
			return
		}
	}
}

// SearchText runs a search with engine defaults for everything but the
// query text.
func (r *Router) SearchText(ctx context.Context, text string) (*models.Response, error) {
	return r.Search(ctx, models.Query{Text: text})
}

// Search executes one query end to end.
func (r *Router) Search(ctx context.Context, query models.Query) (*models.Response, error) {
	started := time.Now()

	if !r.cfg.Search.Enabled {
		r.logger.Debug("Search is disabled, returning empty response")
		return &models.Response{
			Query:       query,
			Results:     []models.Result{},
			SourcesUsed: []string{},
			SearchTime:  time.Since(started).Seconds(),
		}, nil
	}

	if r.cfg.Search.RateLimitEnabled && !r.limiter.allow() {
		return nil, ErrRateLimited
	}

	query, err := r.normalize(query)
	if err != nil {
		return nil, err
	}

	// The key is derived before classification so lookups and writes for
	// the same query text always agree.
	key := cache.Key(query)

	if hit, ok := r.store.Get(ctx, query); ok {
		return &models.Response{
			Query:        query,
			Results:      hit.Results,
			TotalResults: len(hit.Results),
			SearchTime:   time.Since(started).Seconds(),
			CacheHit:     true,
			SourcesUsed:  hit.Sources,
		}, nil
	}

	classification := r.classify(query)

	selected := r.selectProviders(classification)
	r.logger.WithFields(logrus.Fields{
		"query":      truncateForLog(query.Text),
		"type":       classification.PrimaryType,
		"confidence": classification.Confidence,
		"providers":  selected,
	}).Info("Routing search")

	byProvider := r.fanOut(ctx, selected, query)

	results, sourcesUsed := r.aggregate(byProvider, classification.PrimaryType, query.MaxResults)

	if err := r.store.Put(ctx, key, query, classification.PrimaryType, results, sourcesUsed); err != nil {
		// Cache writes are best effort; the response is already complete.
		r.logger.WithError(err).Warn("Failed to cache search results")
	}

	return &models.Response{
		Query:          query,
		Results:        results,
		TotalResults:   len(results),
		SearchTime:     time.Since(started).Seconds(),
		CacheHit:       false,
		SourcesUsed:    sourcesUsed,
		Classification: &classification,
	}, nil
}

// normalize trims the query text and fills engine defaults.
func (r *Router) normalize(query models.Query) (models.Query, error) {
	query.Text = strings.TrimSpace(query.Text)
	if query.Text == "" {
		return query, ErrEmptyQuery
	}
	if query.MaxResults <= 0 {
		query.MaxResults = r.cfg.Search.MaxResults
	}
	if query.Language == "" {
		query.Language = r.cfg.Search.DefaultLanguage
	}
	return query, nil
}

// classify runs the classifier unless the caller forced a type, in which
// case the forced type wins with full confidence.
func (r *Router) classify(query models.Query) models.Classification {
	if query.QueryType != "" {
		return models.Classification{
			PrimaryType:        query.QueryType,
			Confidence:         1.0,
			SuggestedProviders: r.classifier.SuggestFor(query.QueryType),
			Reasoning:          "Query type set by caller",
		}
	}
	return r.classifier.Classify(query)
}

// selectProviders resolves the classification to registered providers.
// The all_providers strategy ignores the suggestion entirely; smart
// routing filters it to what is registered, widening to providers that
// support the type, and finally to the general web search fallback.
func (r *Router) selectProviders(classification models.Classification) []string {
	if r.cfg.Search.Strategy == "all_providers" {
		out := make([]string, len(r.order))
		copy(out, r.order)
		return out
	}

	var selected []string
	for _, name := range classification.SuggestedProviders {
		if _, ok := r.providers[name]; ok {
			selected = append(selected, name)
		}
	}
	if len(selected) > 0 {
		return selected
	}

	for _, name := range r.order {
		for _, queryType := range r.providers[name].SupportedQueryTypes() {
			if queryType == classification.PrimaryType {
				selected = append(selected, name)
				break
			}
		}
	}
	if len(selected) > 0 {
		return selected
	}

	if _, ok := r.providers["duckduckgo"]; ok {
		return []string{"duckduckgo"}
	}
	return nil
}

type providerResults struct {
	name    string
	results []models.Result
}

// fanOut queries the selected providers concurrently on the shared worker
// pool, all under one deadline. A provider that misses the deadline is
// abandoned: the channel is buffered to the fan-out width, so late
// deliveries never block a worker.
func (r *Router) fanOut(ctx context.Context, selected []string, query models.Query) map[string][]models.Result {
	timeout := r.cfg.Search.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultCh := make(chan providerResults, len(selected))
	for _, name := range selected {
		provider := r.providers[name]
		name := name
		if err := r.pool.Submit(func() {
			resultCh <- providerResults{name: name, results: providers.SafeSearch(ctx, provider, query, r.logger)}
		}); err != nil {
			r.logger.WithError(err).WithField("provider", name).Warn("Worker pool rejected search task")
			resultCh <- providerResults{name: name}
		}
	}

	byProvider := make(map[string][]models.Result, len(selected))
	for range selected {
		select {
		case res := <-resultCh:
			byProvider[res.name] = res.results
		case <-ctx.Done():
			r.logger.WithField("pending", len(selected)-len(byProvider)).Warn("Search deadline reached before all providers answered")
			return byProvider
		}
	}
	return byProvider
}

// aggregate merges per-provider results into one ranked list: tag the
// source, apply type-affinity bonuses, deduplicate by normalized URL
// keeping the better-scored duplicate, sort by score, and truncate.
// sourcesUsed lists only providers that contributed at least one result.
func (r *Router) aggregate(byProvider map[string][]models.Result, primaryType string, maxResults int) ([]models.Result, []string) {
	var merged []models.Result
	var sourcesUsed []string

	bonuses := typeAffinityBonus[primaryType]

	for _, name := range r.order {
		found, ok := byProvider[name]
		if !ok || len(found) == 0 {
			continue
		}
		sourcesUsed = append(sourcesUsed, name)

		bonus := bonuses[name]
		for _, result := range found {
			if result.Source == "" {
				result.Source = name
			}
			if bonus > 0 {
				result.Score *= bonus
			}
			if result.Score > 1.0 {
				result.Score = 1.0
			}
			if result.Score < 0 {
				result.Score = 0
			}
			merged = append(merged, result)
		}
	}

	merged = dedupeByURL(merged)

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})

	if len(merged) > maxResults {
		merged = merged[:maxResults]
	}
	if merged == nil {
		merged = []models.Result{}
	}
	if sourcesUsed == nil {
		sourcesUsed = []string{}
	}
	return merged, sourcesUsed
}

// dedupeByURL collapses results sharing a normalized URL, keeping the
// higher-scored one. Results without a URL are never collapsed.
func dedupeByURL(results []models.Result) []models.Result {
	seen := make(map[string]int, len(results))
	out := results[:0]

	for _, result := range results {
		key := strings.ToLower(strings.TrimRight(result.URL, "/"))
		if key == "" {
			out = append(out, result)
			continue
		}
		if idx, ok := seen[key]; ok {
			if result.Score > out[idx].Score {
				out[idx] = result
			}
			continue
		}
		seen[key] = len(out)
		out = append(out, result)
	}
	return out
}

// ProviderStatus probes every registered provider.
func (r *Router) ProviderStatus(ctx context.Context) []providers.Info {
	timeout := r.cfg.Search.ProbeTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	infos := make([]providers.Info, 0, len(r.order))
	for _, name := range r.order {
		infos = append(infos, providers.Describe(ctx, r.providers[name]))
	}
	return infos
}

// CacheStats exposes the cache backend's counters.
func (r *Router) CacheStats(ctx context.Context) (cache.Stats, error) {
	return r.store.Stats(ctx)
}

// ClearCache drops every cached response.
func (r *Router) ClearCache(ctx context.Context) error {
	return r.store.Clear(ctx)
}

// InvalidateCacheType drops cached responses of one query type.
func (r *Router) InvalidateCacheType(ctx context.Context, queryType string) (int64, error) {
	return r.store.InvalidateType(ctx, queryType)
}

// ResourceStats exposes the HTTP session pool counters.
func (r *Router) ResourceStats() resources.Stats {
	return r.resources.Stats()
}

// ClassifierStats exposes static classifier configuration.
func (r *Router) ClassifierStats() map[string]interface{} {
	return r.classifier.Stats()
}

// Enabled reports whether searching is switched on.
func (r *Router) Enabled() bool {
	return r.cfg.Search.Enabled
}

// Close releases the worker pool, the cache backend, and every pooled
// HTTP session. Idempotent.
func (r *Router) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.stopPurge)
		r.pool.Release()
		r.resources.CloseAll()
		err = r.store.Close()
		r.logger.Info("Search router closed")
	})
	return err
}

func truncateForLog(s string) string {
	if len(s) <= 80 {
		return s
	}
	return s[:80] + "..."
}
