package providers

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/sirupsen/logrus"

	"github.com/metasearch-io/metasearch/internal/config"
	"github.com/metasearch-io/metasearch/internal/models"
	"github.com/metasearch-io/metasearch/internal/resources"
)

// Feeds aggregates configured RSS/Atom feeds and filters items against the
// query keywords. Feeds are fetched concurrently and each parsed feed is
// held in a short-lived per-URL cache so bursts of current-events queries
// do not hammer the upstream publishers.
type Feeds struct {
	Base
	feeds         map[string][]string
	cacheDuration time.Duration
	pool          *resources.Manager
	logger        *logrus.Logger

	// now is overridable so recency scoring is testable.
	now func() time.Time

	mu        sync.Mutex
	feedCache map[string]cachedFeed
}

type cachedFeed struct {
	items     []*gofeed.Item
	feedTitle string
	fetchedAt time.Time
}

func NewFeeds(cfg config.RSSConfig, pool *resources.Manager, logger *logrus.Logger) *Feeds {
	cacheDuration := cfg.CacheDuration
	if cacheDuration <= 0 {
		cacheDuration = time.Hour
	}
	return &Feeds{
		Base:          NewBase("rss", cfg.Enabled, cfg.Weight, cfg.Timeout),
		feeds:         cfg.Feeds,
		cacheDuration: cacheDuration,
		pool:          pool,
		logger:        logger,
		now:           time.Now,
		feedCache:     make(map[string]cachedFeed),
	}
}

type scoredItem struct {
	item      *gofeed.Item
	feedTitle string
	category  string
	score     float64
}

func (f *Feeds) Search(ctx context.Context, query models.Query) ([]models.Result, error) {
	keywords := extractKeywords(query.Text)
	if len(keywords) == 0 {
		return nil, nil
	}

	session, err := f.pool.GetSession(f.Name())
	if err != nil {
		return nil, fmt.Errorf("no session for feed search: %w", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var scored []scoredItem

	for category, urls := range f.feeds {
		for _, feedURL := range urls {
			wg.Add(1)
			go func(category, feedURL string) {
				defer wg.Done()

				cached, err := f.fetchFeed(ctx, session, feedURL)
				if err != nil {
					f.logger.WithError(err).WithField("feed", feedURL).Debug("Feed fetch failed")
					return
				}

				for _, item := range cached.items {
					score := f.scoreItem(item, keywords)
					if score <= 0 {
						continue
					}
					mu.Lock()
					scored = append(scored, scoredItem{
						item:      item,
						feedTitle: cached.feedTitle,
						category:  category,
						score:     score,
					})
					mu.Unlock()
				}
			}(category, feedURL)
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return publishedTime(scored[i].item).After(publishedTime(scored[j].item))
	})

	if len(scored) > query.MaxResults {
		scored = scored[:query.MaxResults]
	}

	results := make([]models.Result, 0, len(scored))
	for _, s := range scored {
		results = append(results, f.toResult(s))
	}
	return results, nil
}

// fetchFeed returns the parsed feed for a URL, reusing a cached copy
// younger than the configured cache duration.
func (f *Feeds) fetchFeed(ctx context.Context, session *resources.Session, feedURL string) (cachedFeed, error) {
	f.mu.Lock()
	if cached, ok := f.feedCache[feedURL]; ok && f.now().Sub(cached.fetchedAt) < f.cacheDuration {
		f.mu.Unlock()
		return cached, nil
	}
	f.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return cachedFeed{}, err
	}

	resp, err := session.Client.Do(req)
	if err != nil {
		return cachedFeed{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return cachedFeed{}, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return cachedFeed{}, fmt.Errorf("failed to parse feed: %w", err)
	}

	cached := cachedFeed{
		items:     feed.Items,
		feedTitle: feed.Title,
		fetchedAt: f.now(),
	}

	f.mu.Lock()
	f.feedCache[feedURL] = cached
	f.mu.Unlock()

	return cached, nil
}

// scoreItem weighs keyword hits by field: title matches count triple,
// tag matches double, body matches single. Items matching fewer than half
// the keywords are discarded, then the raw score is normalized and topped
// up with a recency boost.
func (f *Feeds) scoreItem(item *gofeed.Item, keywords []string) float64 {
	title := strings.ToLower(item.Title)
	body := strings.ToLower(stripHTML(item.Description + " " + item.Content))
	tags := strings.ToLower(strings.Join(item.Categories, " "))

	raw := 0.0
	matched := 0
	for _, keyword := range keywords {
		hit := false
		if strings.Contains(title, keyword) {
			raw += 3
			hit = true
		}
		if strings.Contains(tags, keyword) {
			raw += 2
			hit = true
		}
		if strings.Contains(body, keyword) {
			raw += 1
			hit = true
		}
		if hit {
			matched++
		}
	}

	if raw <= 0 || matched*2 < len(keywords) {
		return 0
	}

	score := raw / 10.0
	if score > 1.0 {
		score = 1.0
	}

	age := f.now().Sub(publishedTime(item))
	switch {
	case age >= 0 && age < 24*time.Hour:
		score += 0.2
	case age >= 0 && age < 72*time.Hour:
		score += 0.1
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

func (f *Feeds) toResult(s scoredItem) models.Result {
	result := models.Result{
		Title:   collapseWhitespace(s.item.Title),
		Content: truncateText(collapseWhitespace(stripHTML(s.item.Description)), 500),
		URL:     s.item.Link,
		Source:  f.Name(),
		Score:   s.score,
		Metadata: map[string]interface{}{
			"type":     "news",
			"feed":     s.feedTitle,
			"category": s.category,
		},
	}
	if s.item.PublishedParsed != nil {
		ts := *s.item.PublishedParsed
		result.Timestamp = &ts
	}
	return result
}

func publishedTime(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return *item.PublishedParsed
	}
	if item.UpdatedParsed != nil {
		return *item.UpdatedParsed
	}
	return time.Time{}
}

// extractKeywords lowercases the query and drops words too short to be
// meaningful filters.
func extractKeywords(text string) []string {
	var keywords []string
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, `.,!?"'()[]{}:;`)
		if len(word) >= 3 {
			keywords = append(keywords, word)
		}
	}
	return keywords
}

func (f *Feeds) IsAvailable(context.Context) bool {
	// Feeds are fetched lazily; the provider is available whenever at
	// least one feed URL is configured.
	for _, urls := range f.feeds {
		if len(urls) > 0 {
			return true
		}
	}
	return false
}

func (f *Feeds) SupportedQueryTypes() []string {
	return []string{models.TypeCurrent, models.TypeGeneral}
}
