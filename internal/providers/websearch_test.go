package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metasearch-io/metasearch/internal/config"
	"github.com/metasearch-io/metasearch/internal/models"
	"github.com/metasearch-io/metasearch/internal/resources"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func testPool(t *testing.T) *resources.Manager {
	t.Helper()
	pool := resources.NewManager(resources.Config{SessionTimeout: 5 * time.Second}, quietLogger())
	t.Cleanup(pool.CloseAll)
	return pool
}

func newTestWebSearch(t *testing.T, endpoint string) *WebSearch {
	t.Helper()
	return NewWebSearch(config.DuckDuckGoConfig{
		Enabled:  true,
		Weight:   1.0,
		Timeout:  5 * time.Second,
		Endpoint: endpoint,
	}, testPool(t), quietLogger())
}

func TestWebSearch_ParsesHTMLResults(t *testing.T) {
	page := `<html><body>
		<div class="result">
			<h2 class="result__title"><a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fgo">The Go Programming Language</a></h2>
			<a class="result__snippet">Go is an open source programming language supported by Google.</a>
		</div>
		<div class="result">
			<h2 class="result__title"><a class="result__a" href="https://go.dev/doc/">Documentation</a></h2>
			<a class="result__snippet">Learn how to use the language from official guides.</a>
		</div>
	</body></html>`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "golang", r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, page)
	}))
	defer server.Close()

	provider := newTestWebSearch(t, server.URL)
	results, err := provider.Search(context.Background(), models.Query{Text: "golang", MaxResults: 10, Language: "en"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "The Go Programming Language", results[0].Title)
	assert.Equal(t, "https://example.com/go", results[0].URL, "redirect wrapper should be unwrapped")
	assert.Equal(t, "duckduckgo", results[0].Source)
	assert.Greater(t, results[0].Score, results[1].Score)

	assert.Equal(t, "https://go.dev/doc/", results[1].URL)
}

func TestWebSearch_ParsesPlainTextBody(t *testing.T) {
	body := "[Go Documentation](https://go.dev/doc) Official guides and references\n\n" +
		"Go Blog - Articles from the Go team about the language\n\n" +
		"Some longer unstructured paragraph about the Go programming language that has no separator at all"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, body)
	}))
	defer server.Close()

	provider := newTestWebSearch(t, server.URL)
	results, err := provider.Search(context.Background(), models.Query{Text: "golang", MaxResults: 10, Language: "en"})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "Go Documentation", results[0].Title)
	assert.Equal(t, "https://go.dev/doc", results[0].URL)
	assert.Equal(t, "Official guides and references", results[0].Content)

	assert.Equal(t, "Go Blog", results[1].Title)
	assert.Equal(t, "Articles from the Go team about the language", results[1].Content)

	assert.Equal(t, "Some longer unstructured paragraph about...", results[2].Title)
}

func TestWebSearch_MaxResultsBound(t *testing.T) {
	var blocks string
	for i := 0; i < 8; i++ {
		blocks += fmt.Sprintf("Result %d - A description long enough to keep\n\n", i)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, blocks)
	}))
	defer server.Close()

	provider := newTestWebSearch(t, server.URL)
	results, err := provider.Search(context.Background(), models.Query{Text: "anything", MaxResults: 3, Language: "en"})
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestWebSearch_IsAvailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	provider := newTestWebSearch(t, server.URL)
	assert.True(t, provider.IsAvailable(context.Background()))

	down := newTestWebSearch(t, "http://127.0.0.1:1")
	assert.False(t, down.IsAvailable(context.Background()))
}

func TestParseTextResults_SkipsShortFragments(t *testing.T) {
	raw := "ab\n\nGo - A compiled language designed at Google"

	results := parseTextResults(raw, 10, "duckduckgo")
	require.Len(t, results, 1)
	assert.Equal(t, "Go", results[0].Title)
}

func TestParseTextResults_ScoresDecreaseWithFloor(t *testing.T) {
	var raw string
	for i := 0; i < 12; i++ {
		raw += fmt.Sprintf("Entry %d - description with enough length to survive\n\n", i)
	}

	results := parseTextResults(raw, 12, "duckduckgo")
	require.Len(t, results, 12)

	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
	assert.InDelta(t, 0.9, results[0].Score, 1e-9)
	assert.InDelta(t, 0.1, results[11].Score, 1e-9, "score floors at 0.1")
}

func TestResolveRedirect(t *testing.T) {
	assert.Equal(t,
		"https://example.com/page",
		resolveRedirect("//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fpage"),
	)
	assert.Equal(t, "https://go.dev", resolveRedirect("https://go.dev"))
	assert.Equal(t, "", resolveRedirect(""))
}
