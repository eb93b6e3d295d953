package cache

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metasearch-io/metasearch/internal/models"
)

func newTestStore(t *testing.T, maxEntries int) *sqlStore {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	store, err := newSQLStore(Config{
		Enabled:         true,
		Driver:          "sqlite",
		Path:            filepath.Join(t.TempDir(), "cache.db"),
		DefaultTTL:      time.Hour,
		MaxEntries:      maxEntries,
		CleanupInterval: time.Hour,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func testQuery(text string) models.Query {
	return models.Query{Text: text, MaxResults: 10, Language: "en"}
}

func testResults(n int) []models.Result {
	results := make([]models.Result, n)
	for i := range results {
		results[i] = models.Result{
			Title:   fmt.Sprintf("result %d", i),
			Content: "some content",
			URL:     fmt.Sprintf("https://example.com/%d", i),
			Source:  "duckduckgo",
			Score:   0.9 - float64(i)*0.1,
		}
	}
	return results
}

func TestKey_Deterministic(t *testing.T) {
	a := Key(models.Query{Text: "  Hello World ", MaxResults: 10, Language: "en"})
	b := Key(models.Query{Text: "hello world", MaxResults: 10, Language: "en"})
	assert.Equal(t, a, b, "normalization should collapse case and whitespace")

	c := Key(models.Query{Text: "hello world", MaxResults: 5, Language: "en"})
	assert.NotEqual(t, a, c, "max results is part of the key")

	d := Key(models.Query{Text: "hello world", MaxResults: 10, Language: "de"})
	assert.NotEqual(t, a, d, "language is part of the key")

	e := Key(models.Query{Text: "hello world", MaxResults: 10, Language: "en", QueryType: models.TypeFactual})
	assert.NotEqual(t, a, e, "caller-provided type is part of the key")
}

func TestPutGet_RoundTrip(t *testing.T) {
	store := newTestStore(t, 100)
	ctx := context.Background()

	query := testQuery("what is a photon")
	results := testResults(3)
	sources := []string{"duckduckgo", "wikipedia"}

	require.NoError(t, store.Put(ctx, Key(query), query, models.TypeFactual, results, sources))

	hit, ok := store.Get(ctx, query)
	require.True(t, ok)
	assert.Equal(t, results, hit.Results)
	assert.Equal(t, sources, hit.Sources)
	assert.False(t, hit.CachedAt.IsZero())
}

func TestPut_EmptyResultsSkipped(t *testing.T) {
	store := newTestStore(t, 100)
	ctx := context.Background()

	query := testQuery("nothing found")
	require.NoError(t, store.Put(ctx, Key(query), query, models.TypeGeneral, nil, nil))

	_, ok := store.Get(ctx, query)
	assert.False(t, ok)
}

func TestGet_MissOnUnknownQuery(t *testing.T) {
	store := newTestStore(t, 100)

	_, ok := store.Get(context.Background(), testQuery("never stored"))
	assert.False(t, ok)
}

func TestTTL_ExpiredEntryIsLogicallyAbsent(t *testing.T) {
	store := newTestStore(t, 100)
	ctx := context.Background()

	current := time.Now()
	store.now = func() time.Time { return current }

	query := testQuery("latest news")
	require.NoError(t, store.Put(ctx, Key(query), query, models.TypeCurrent, testResults(1), []string{"rss"}))

	_, ok := store.Get(ctx, query)
	require.True(t, ok)

	// The "current" TTL is one hour; jump past it.
	current = current.Add(2 * time.Hour)

	_, ok = store.Get(ctx, query)
	assert.False(t, ok, "expired entry must be treated as a miss")

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalEntries, "row is still physically present")
	assert.Equal(t, int64(0), stats.ActiveEntries)

	removed, err := store.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestTTL_FactualOutlivesCurrent(t *testing.T) {
	store := newTestStore(t, 100)
	ctx := context.Background()

	current := time.Now()
	store.now = func() time.Time { return current }

	factual := testQuery("what is a quark")
	news := testQuery("headlines now")
	require.NoError(t, store.Put(ctx, Key(factual), factual, models.TypeFactual, testResults(1), []string{"wikipedia"}))
	require.NoError(t, store.Put(ctx, Key(news), news, models.TypeCurrent, testResults(1), []string{"rss"}))

	current = current.Add(3 * time.Hour)

	_, ok := store.Get(ctx, factual)
	assert.True(t, ok)
	_, ok = store.Get(ctx, news)
	assert.False(t, ok)
}

func TestEviction_RemovesColdestDownToEightyPercent(t *testing.T) {
	const maxEntries = 10
	store := newTestStore(t, maxEntries)
	ctx := context.Background()

	current := time.Now()
	store.now = func() time.Time { return current }

	queries := make([]models.Query, 0, maxEntries+1)
	for i := 0; i <= maxEntries; i++ {
		query := testQuery(fmt.Sprintf("query number %d", i))
		queries = append(queries, query)
		require.NoError(t, store.Put(ctx, Key(query), query, models.TypeFactual, testResults(1), []string{"wikipedia"}))
		// Each write is strictly newer, so earlier entries are colder.
		current = current.Add(time.Minute)
	}

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, stats.TotalEntries, int64(maxEntries*8/10))

	_, ok := store.Get(ctx, queries[0])
	assert.False(t, ok, "coldest entry should be evicted")

	_, ok = store.Get(ctx, queries[len(queries)-1])
	assert.True(t, ok, "warmest entry should survive")
}

func TestInvalidateType(t *testing.T) {
	store := newTestStore(t, 100)
	ctx := context.Background()

	factual := testQuery("what is gravity")
	news := testQuery("news today")
	require.NoError(t, store.Put(ctx, Key(factual), factual, models.TypeFactual, testResults(1), []string{"wikipedia"}))
	require.NoError(t, store.Put(ctx, Key(news), news, models.TypeCurrent, testResults(1), []string{"rss"}))

	removed, err := store.InvalidateType(ctx, models.TypeCurrent)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, ok := store.Get(ctx, news)
	assert.False(t, ok)
	_, ok = store.Get(ctx, factual)
	assert.True(t, ok)
}

func TestClear(t *testing.T) {
	store := newTestStore(t, 100)
	ctx := context.Background()

	query := testQuery("anything")
	require.NoError(t, store.Put(ctx, Key(query), query, models.TypeGeneral, testResults(2), []string{"duckduckgo"}))

	require.NoError(t, store.Clear(ctx))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TotalEntries)
}

func TestNew_DisabledYieldsNoop(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	store, err := New(Config{Enabled: false}, logger)
	require.NoError(t, err)

	query := testQuery("anything")
	require.NoError(t, store.Put(context.Background(), Key(query), query, models.TypeGeneral, testResults(1), []string{"duckduckgo"}))

	_, ok := store.Get(context.Background(), query)
	assert.False(t, ok)

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.False(t, stats.Enabled)
}
