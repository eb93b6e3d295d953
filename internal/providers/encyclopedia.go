package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/metasearch-io/metasearch/internal/config"
	"github.com/metasearch-io/metasearch/internal/models"
	"github.com/metasearch-io/metasearch/internal/resources"
)

// Encyclopedia searches Wikipedia: a full-text title search first, then a
// summary lookup per candidate page. When the primary language yields
// nothing, fallback languages are tried in order.
type Encyclopedia struct {
	Base
	language         string
	fallbacks        []string
	maxSummaryLength int
	baseTemplate     string
	pool             *resources.Manager
	logger           *logrus.Logger
}

func NewEncyclopedia(cfg config.WikipediaConfig, pool *resources.Manager, logger *logrus.Logger) *Encyclopedia {
	language := cfg.Language
	if language == "" {
		language = "en"
	}
	template := cfg.BaseURLTemplate
	if template == "" {
		template = "https://%s.wikipedia.org"
	}
	maxSummary := cfg.MaxSummaryLength
	if maxSummary <= 0 {
		maxSummary = 1000
	}
	return &Encyclopedia{
		Base:             NewBase("wikipedia", cfg.Enabled, cfg.Weight, cfg.Timeout),
		language:         language,
		fallbacks:        cfg.FallbackLanguages,
		maxSummaryLength: maxSummary,
		baseTemplate:     template,
		pool:             pool,
		logger:           logger,
	}
}

type searchCandidate struct {
	Title        string `json:"title"`
	Snippet      string `json:"snippet"`
	TitleSnippet string `json:"titlesnippet"`
	WordCount    int    `json:"wordcount"`
	Timestamp    string `json:"timestamp"`
}

type searchAPIResponse struct {
	Query struct {
		Search []searchCandidate `json:"search"`
	} `json:"query"`
}

type pageSummary struct {
	Title       string `json:"title"`
	Extract     string `json:"extract"`
	Description string `json:"description"`
	ContentURLs struct {
		Desktop struct {
			Page string `json:"page"`
		} `json:"desktop"`
	} `json:"content_urls"`
}

func (e *Encyclopedia) Search(ctx context.Context, query models.Query) ([]models.Result, error) {
	session, err := e.pool.GetSession(e.Name())
	if err != nil {
		return nil, fmt.Errorf("no session for encyclopedia search: %w", err)
	}

	for _, language := range e.languageOrder(query.Language) {
		candidates, err := e.searchTitles(ctx, session, language, query.Text, query.MaxResults)
		if err != nil {
			e.logger.WithError(err).WithField("language", language).Debug("Encyclopedia title search failed")
			continue
		}
		if len(candidates) == 0 {
			continue
		}
		return e.buildResults(ctx, session, language, candidates), nil
	}

	return nil, nil
}

// languageOrder is the requested language first, then configured
// fallbacks, without duplicates.
func (e *Encyclopedia) languageOrder(requested string) []string {
	primary := requested
	if primary == "" {
		primary = e.language
	}

	order := []string{primary}
	seen := map[string]bool{primary: true}
	for _, language := range append([]string{e.language}, e.fallbacks...) {
		if language != "" && !seen[language] {
			seen[language] = true
			order = append(order, language)
		}
	}
	return order
}

func (e *Encyclopedia) baseURL(language string) string {
	return fmt.Sprintf(e.baseTemplate, language)
}

func (e *Encyclopedia) searchTitles(ctx context.Context, session *resources.Session, language, text string, limit int) ([]searchCandidate, error) {
	params := url.Values{}
	params.Set("action", "query")
	params.Set("list", "search")
	params.Set("srsearch", text)
	params.Set("srlimit", fmt.Sprintf("%d", limit))
	params.Set("srprop", "snippet|titlesnippet|size|wordcount|timestamp")
	params.Set("format", "json")

	endpoint := fmt.Sprintf("%s/w/api.php?%s", e.baseURL(language), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := session.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search API returned status %d", resp.StatusCode)
	}

	var decoded searchAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return decoded.Query.Search, nil
}

func (e *Encyclopedia) buildResults(ctx context.Context, session *resources.Session, language string, candidates []searchCandidate) []models.Result {
	results := make([]models.Result, 0, len(candidates))

	for _, candidate := range candidates {
		content := stripHTML(candidate.Snippet)
		pageURL := fmt.Sprintf("%s/wiki/%s", e.baseURL(language), url.PathEscape(strings.ReplaceAll(candidate.Title, " ", "_")))

		// The REST summary gives a cleaner extract than the search
		// snippet; the snippet stays as the fallback.
		if summary, err := e.fetchSummary(ctx, session, language, candidate.Title); err == nil {
			if summary.Extract != "" {
				content = summary.Extract
			}
			if summary.ContentURLs.Desktop.Page != "" {
				pageURL = summary.ContentURLs.Desktop.Page
			}
		} else {
			e.logger.WithError(err).WithField("title", candidate.Title).Debug("Encyclopedia summary fetch failed")
		}

		score := 0.8
		if candidate.WordCount > 1000 {
			score += 0.1
		}
		if candidate.TitleSnippet != "" {
			score += 0.1
		}
		if score > 1.0 {
			score = 1.0
		}

		result := models.Result{
			Title:   candidate.Title,
			Content: truncateText(content, e.maxSummaryLength),
			URL:     pageURL,
			Source:  e.Name(),
			Score:   score,
			Metadata: map[string]interface{}{
				"type":       "encyclopedia",
				"language":   language,
				"word_count": candidate.WordCount,
			},
		}
		if ts, err := time.Parse(time.RFC3339, candidate.Timestamp); err == nil {
			result.Timestamp = &ts
		}

		results = append(results, result)
	}

	return results
}

func (e *Encyclopedia) fetchSummary(ctx context.Context, session *resources.Session, language, title string) (*pageSummary, error) {
	endpoint := fmt.Sprintf("%s/api/rest_v1/page/summary/%s",
		e.baseURL(language),
		url.PathEscape(strings.ReplaceAll(title, " ", "_")),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := session.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("summary API returned status %d", resp.StatusCode)
	}

	var summary pageSummary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		return nil, fmt.Errorf("failed to decode summary response: %w", err)
	}
	return &summary, nil
}

func (e *Encyclopedia) IsAvailable(ctx context.Context) bool {
	session, err := e.pool.GetSession(e.Name())
	if err != nil {
		return false
	}

	endpoint := fmt.Sprintf("%s/w/api.php?action=query&format=json", e.baseURL(e.language))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false
	}

	resp, err := session.Client.Do(req)
	if err != nil {
		e.logger.WithError(err).Debug("Encyclopedia availability check failed")
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode < http.StatusInternalServerError
}

func (e *Encyclopedia) SupportedQueryTypes() []string {
	return []string{models.TypeFactual, models.TypeGeneral}
}
