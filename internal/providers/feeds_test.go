package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metasearch-io/metasearch/internal/config"
	"github.com/metasearch-io/metasearch/internal/models"
)

type feedItem struct {
	title       string
	description string
	link        string
	category    string
	published   time.Time
}

func rssXML(feedTitle string, items []feedItem) string {
	xml := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>%s</title>`, feedTitle)
	for _, item := range items {
		xml += fmt.Sprintf(`<item><title>%s</title><description>%s</description><link>%s</link>`,
			item.title, item.description, item.link)
		if item.category != "" {
			xml += fmt.Sprintf(`<category>%s</category>`, item.category)
		}
		if !item.published.IsZero() {
			xml += fmt.Sprintf(`<pubDate>%s</pubDate>`, item.published.Format(time.RFC1123Z))
		}
		xml += `</item>`
	}
	return xml + `</channel></rss>`
}

func serveFeed(t *testing.T, xml string, hits *int64) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt64(hits, 1)
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, xml)
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestFeeds(t *testing.T, feeds map[string][]string) *Feeds {
	t.Helper()
	return NewFeeds(config.RSSConfig{
		Enabled:       true,
		Weight:        1.0,
		Timeout:       5 * time.Second,
		Feeds:         feeds,
		CacheDuration: time.Hour,
	}, testPool(t), quietLogger())
}

func TestFeeds_FiltersByKeywords(t *testing.T) {
	now := time.Now()
	server := serveFeed(t, rssXML("Test News", []feedItem{
		{title: "Climate summit reaches agreement", description: "World leaders agree on climate targets", link: "https://news.example/1", published: now},
		{title: "Local bakery wins award", description: "Croissants praised by judges", link: "https://news.example/2", published: now},
	}), nil)

	provider := newTestFeeds(t, map[string][]string{"news": {server.URL}})
	results, err := provider.Search(context.Background(), models.Query{Text: "climate summit", MaxResults: 10, Language: "en"})
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, "Climate summit reaches agreement", results[0].Title)
	assert.Equal(t, "rss", results[0].Source)
	assert.Equal(t, "news", results[0].Metadata["category"])
	assert.Equal(t, "Test News", results[0].Metadata["feed"])
	require.NotNil(t, results[0].Timestamp)
}

func TestFeeds_TitleMatchOutranksBodyMatch(t *testing.T) {
	now := time.Now()
	server := serveFeed(t, rssXML("Test News", []feedItem{
		{title: "Unrelated headline", description: "The election results are in", link: "https://news.example/body", published: now},
		{title: "Election results announced", description: "Full coverage inside", link: "https://news.example/title", published: now},
	}), nil)

	provider := newTestFeeds(t, map[string][]string{"news": {server.URL}})
	results, err := provider.Search(context.Background(), models.Query{Text: "election results", MaxResults: 10, Language: "en"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "https://news.example/title", results[0].URL)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestFeeds_RecencyBoost(t *testing.T) {
	base := time.Now()
	server := serveFeed(t, rssXML("Test News", []feedItem{
		{title: "storm update old", description: "storm", link: "https://news.example/old", published: base.Add(-100 * time.Hour)},
		{title: "storm update fresh", description: "storm", link: "https://news.example/fresh", published: base.Add(-time.Hour)},
		{title: "storm update recent", description: "storm", link: "https://news.example/recent", published: base.Add(-48 * time.Hour)},
	}), nil)

	provider := newTestFeeds(t, map[string][]string{"news": {server.URL}})
	provider.now = func() time.Time { return base }

	results, err := provider.Search(context.Background(), models.Query{Text: "storm update", MaxResults: 10, Language: "en"})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "https://news.example/fresh", results[0].URL, "same-day boost ranks first")
	assert.Equal(t, "https://news.example/recent", results[1].URL)
	assert.Equal(t, "https://news.example/old", results[2].URL)
	assert.InDelta(t, 0.2, results[0].Score-results[2].Score, 1e-9)
	assert.InDelta(t, 0.1, results[1].Score-results[2].Score, 1e-9)
}

func TestFeeds_FeedCacheAvoidsRefetch(t *testing.T) {
	var hits int64
	server := serveFeed(t, rssXML("Test News", []feedItem{
		{title: "Markets rally on rate cut", description: "Stocks up", link: "https://news.example/1", published: time.Now()},
	}), &hits)

	provider := newTestFeeds(t, map[string][]string{"business": {server.URL}})

	query := models.Query{Text: "markets rally", MaxResults: 10, Language: "en"}
	_, err := provider.Search(context.Background(), query)
	require.NoError(t, err)
	_, err = provider.Search(context.Background(), query)
	require.NoError(t, err)

	assert.Equal(t, int64(1), atomic.LoadInt64(&hits), "second search should use the cached feed")
}

func TestFeeds_CacheExpiryRefetches(t *testing.T) {
	var hits int64
	server := serveFeed(t, rssXML("Test News", []feedItem{
		{title: "Markets rally again", description: "Stocks up", link: "https://news.example/1", published: time.Now()},
	}), &hits)

	provider := newTestFeeds(t, map[string][]string{"business": {server.URL}})

	current := time.Now()
	provider.now = func() time.Time { return current }

	query := models.Query{Text: "markets rally", MaxResults: 10, Language: "en"}
	_, err := provider.Search(context.Background(), query)
	require.NoError(t, err)

	current = current.Add(2 * time.Hour)

	_, err = provider.Search(context.Background(), query)
	require.NoError(t, err)
	assert.Equal(t, int64(2), atomic.LoadInt64(&hits))
}

func TestFeeds_HalfKeywordThreshold(t *testing.T) {
	now := time.Now()
	server := serveFeed(t, rssXML("Test News", []feedItem{
		{title: "Budget passes parliament", description: "Vote concluded", link: "https://news.example/1", published: now},
	}), nil)

	provider := newTestFeeds(t, map[string][]string{"news": {server.URL}})

	// Only one of four keywords matches; the item is discarded.
	results, err := provider.Search(context.Background(), models.Query{Text: "budget airline ticket prices", MaxResults: 10, Language: "en"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestFeeds_MaxResultsBound(t *testing.T) {
	now := time.Now()
	items := make([]feedItem, 6)
	for i := range items {
		items[i] = feedItem{
			title:     fmt.Sprintf("wildfire report %d", i),
			link:      fmt.Sprintf("https://news.example/%d", i),
			published: now,
		}
	}
	server := serveFeed(t, rssXML("Test News", items), nil)

	provider := newTestFeeds(t, map[string][]string{"news": {server.URL}})
	results, err := provider.Search(context.Background(), models.Query{Text: "wildfire report", MaxResults: 2, Language: "en"})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestFeeds_IsAvailable(t *testing.T) {
	assert.True(t, newTestFeeds(t, map[string][]string{"news": {"https://feeds.example/rss"}}).IsAvailable(context.Background()))
	assert.False(t, newTestFeeds(t, nil).IsAvailable(context.Background()))
}

func TestExtractKeywords(t *testing.T) {
	assert.Equal(t, []string{"climate", "summit"}, extractKeywords("Climate summit?"))
	assert.Empty(t, extractKeywords("a an of"))
}
