package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/sirupsen/logrus"

	"github.com/metasearch-io/metasearch/internal/config"
	"github.com/metasearch-io/metasearch/internal/models"
	"github.com/metasearch-io/metasearch/internal/resources"
)

const webSearchUserAgent = "metasearch-bot/1.0 (+https://github.com/metasearch-io/metasearch)"

var (
	markdownLinkPattern = regexp.MustCompile(`^\[([^\]]+)\]\(([^)]+)\)\s*(.*)`)
	dashSplitPattern    = regexp.MustCompile(`^([^-]+)\s*-\s*(.+)$`)
)

// WebSearch queries DuckDuckGo's HTML endpoint for general web search.
// The backend answers with either a structured result page or, from some
// mirrors, a loosely formatted text body; both shapes are handled.
type WebSearch struct {
	Base
	endpoint string
	region   string
	pool     *resources.Manager
	logger   *logrus.Logger
}

func NewWebSearch(cfg config.DuckDuckGoConfig, pool *resources.Manager, logger *logrus.Logger) *WebSearch {
	return &WebSearch{
		Base:     NewBase("duckduckgo", cfg.Enabled, cfg.Weight, cfg.Timeout),
		endpoint: cfg.Endpoint,
		region:   cfg.Region,
		pool:     pool,
		logger:   logger,
	}
}

func (w *WebSearch) Search(ctx context.Context, query models.Query) ([]models.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	session, err := w.pool.GetSession(w.Name())
	if err != nil {
		return nil, fmt.Errorf("no session for web search: %w", err)
	}

	// Collectors accumulate per-query callbacks, so each search gets a
	// fresh one on the pooled transport.
	collector := colly.NewCollector(
		colly.UserAgent(webSearchUserAgent),
		colly.IgnoreRobotsTxt(),
	)
	if session.Client.Transport != nil {
		collector.WithTransport(session.Client.Transport)
	}
	collector.SetRequestTimeout(w.Timeout())

	var results []models.Result
	var plainBody string
	var fetchErr error

	collector.OnHTML("div.result", func(e *colly.HTMLElement) {
		if len(results) >= query.MaxResults {
			return
		}

		title := collapseWhitespace(e.ChildText("a.result__a"))
		description := collapseWhitespace(e.ChildText(".result__snippet"))
		link := resolveRedirect(e.ChildAttr("a.result__a", "href"))

		// Fragments with neither a usable title nor description are noise.
		if len(title) < 3 && len(description) < 10 {
			return
		}

		position := len(results)
		results = append(results, models.Result{
			Title:   title,
			Content: description,
			URL:     link,
			Source:  w.Name(),
			Score:   rankScore(position),
			Metadata: map[string]interface{}{
				"type":     "web_result",
				"position": position + 1,
			},
		})
	})

	collector.OnResponse(func(r *colly.Response) {
		if strings.Contains(r.Headers.Get("Content-Type"), "text/plain") {
			plainBody = string(r.Body)
		}
	})

	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	searchURL := fmt.Sprintf("%s?q=%s", w.endpoint, url.QueryEscape(query.Text))
	if w.region != "" {
		searchURL += "&kl=" + url.QueryEscape(w.region)
	}

	if err := collector.Visit(searchURL); err != nil {
		return nil, fmt.Errorf("web search request failed: %w", err)
	}
	if fetchErr != nil {
		return nil, fmt.Errorf("web search request failed: %w", fetchErr)
	}

	if len(results) == 0 && plainBody != "" {
		results = parseTextResults(plainBody, query.MaxResults, w.Name())
	}

	if len(results) > query.MaxResults {
		results = results[:query.MaxResults]
	}
	return results, nil
}

func (w *WebSearch) IsAvailable(ctx context.Context) bool {
	session, err := w.pool.GetSession(w.Name())
	if err != nil {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.endpoint, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", webSearchUserAgent)

	resp, err := session.Client.Do(req)
	if err != nil {
		w.logger.WithError(err).Debug("Web search availability check failed")
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode < http.StatusInternalServerError
}

func (w *WebSearch) SupportedQueryTypes() []string {
	return []string{models.TypeGeneral, models.TypeFactual, models.TypeCurrent}
}

// rankScore decreases monotonically by result position, floored at 0.1.
func rankScore(position int) float64 {
	score := 0.9 - 0.1*float64(position)
	if score < 0.1 {
		return 0.1
	}
	return score
}

// resolveRedirect unwraps DuckDuckGo's /l/?uddg=<target> indirection.
func resolveRedirect(href string) string {
	if href == "" {
		return ""
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := parsed.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}

// parseTextResults extracts results from a loosely structured text body.
// Three shapes are tolerated, tried in order per block: a markdown link
// "[title](url) description", a dash-separated "title - description", and
// a bare paragraph whose leading words become the title.
func parseTextResults(raw string, maxResults int, source string) []models.Result {
	blocks := splitBlocks(raw)

	var results []models.Result
	for _, block := range blocks {
		if len(results) >= maxResults {
			break
		}

		title := ""
		link := ""
		description := block

		if m := markdownLinkPattern.FindStringSubmatch(block); m != nil {
			title = strings.TrimSpace(m[1])
			link = strings.TrimSpace(m[2])
			description = strings.TrimSpace(m[3])
			if description == "" {
				description = title
			}
		} else if m := dashSplitPattern.FindStringSubmatch(block); m != nil {
			title = strings.TrimSpace(m[1])
			description = strings.TrimSpace(m[2])
		} else {
			words := strings.Fields(block)
			if len(words) > 5 {
				title = strings.Join(words[:5], " ") + "..."
			} else {
				title = block
			}
		}

		title = collapseWhitespace(title)
		description = collapseWhitespace(description)

		if len(title) < 3 && len(description) < 10 {
			continue
		}

		position := len(results)
		if title == "" {
			title = fmt.Sprintf("Web Result %d", position+1)
		}

		now := time.Now()
		results = append(results, models.Result{
			Title:     title,
			Content:   description,
			URL:       link,
			Source:    source,
			Score:     rankScore(position),
			Timestamp: &now,
			Metadata: map[string]interface{}{
				"type":     "web_result",
				"position": position + 1,
			},
		})
	}

	return results
}

func splitBlocks(raw string) []string {
	var blocks []string
	for _, block := range strings.Split(strings.TrimSpace(raw), "\n\n") {
		if trimmed := strings.TrimSpace(block); trimmed != "" {
			blocks = append(blocks, trimmed)
		}
	}
	if len(blocks) > 1 {
		return blocks
	}

	// No paragraph structure; fall back to single lines.
	var lines []string
	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	if len(lines) > 0 {
		return lines
	}
	return blocks
}
