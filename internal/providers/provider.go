// Package providers wraps external search backends behind a uniform
// contract. The router never calls a provider directly: every invocation
// goes through SafeSearch, which isolates failures and applies weights.
package providers

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/metasearch-io/metasearch/internal/models"
)

// Provider is one external search/data source.
type Provider interface {
	Name() string
	Enabled() bool
	Weight() float64
	// Search returns up to query.MaxResults results. No results is an
	// empty slice, never an error.
	Search(ctx context.Context, query models.Query) ([]models.Result, error)
	// IsAvailable is a cheap liveness probe and must not panic.
	IsAvailable(ctx context.Context) bool
	SupportedQueryTypes() []string
}

// Base carries the configuration every provider shares.
type Base struct {
	name    string
	enabled bool
	weight  float64
	timeout time.Duration
}

func NewBase(name string, enabled bool, weight float64, timeout time.Duration) Base {
	if weight <= 0 {
		weight = 1.0
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return Base{name: name, enabled: enabled, weight: weight, timeout: timeout}
}

func (b Base) Name() string           { return b.name }
func (b Base) Enabled() bool          { return b.enabled }
func (b Base) Weight() float64        { return b.weight }
func (b Base) Timeout() time.Duration { return b.timeout }

// Info describes a provider for status endpoints.
type Info struct {
	Name           string   `json:"name"`
	Enabled        bool     `json:"enabled"`
	Available      bool     `json:"available"`
	Weight         float64  `json:"weight"`
	SupportedTypes []string `json:"supported_types"`
}

func Describe(ctx context.Context, p Provider) Info {
	return Info{
		Name:           p.Name(),
		Enabled:        p.Enabled(),
		Available:      p.IsAvailable(ctx),
		Weight:         p.Weight(),
		SupportedTypes: p.SupportedQueryTypes(),
	}
}

// SafeSearch is the guarded invocation the router uses: skip disabled
// providers, validate the query, gate on availability, isolate panics and
// errors, and scale every score by the provider weight. A failing
// provider contributes zero results, never an error.
func SafeSearch(ctx context.Context, p Provider, query models.Query, logger *logrus.Logger) (results []models.Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(logrus.Fields{
				"provider": p.Name(),
				"panic":    r,
			}).Error("Provider panicked during search")
			results = nil
		}
	}()

	if !p.Enabled() {
		logger.WithField("provider", p.Name()).Debug("Provider is disabled")
		return nil
	}

	if !validateQuery(query, p.Name(), logger) {
		return nil
	}

	if !p.IsAvailable(ctx) {
		logger.WithField("provider", p.Name()).Warn("Provider is not available")
		return nil
	}

	found, err := p.Search(ctx, query)
	if err != nil {
		logger.WithError(err).WithField("provider", p.Name()).Error("Provider search failed")
		return nil
	}

	for i := range found {
		found[i].Score *= p.Weight()
	}

	return found
}

func validateQuery(query models.Query, providerName string, logger *logrus.Logger) bool {
	if strings.TrimSpace(query.Text) == "" {
		logger.WithField("provider", providerName).Warn("Empty query text")
		return false
	}
	if query.MaxResults <= 0 {
		logger.WithFields(logrus.Fields{
			"provider":    providerName,
			"max_results": query.MaxResults,
		}).Warn("Invalid max_results")
		return false
	}
	return true
}

// stripHTML removes tags and decodes the entities that commonly show up
// in search snippets and feed bodies.
func stripHTML(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	out := b.String()
	replacer := strings.NewReplacer(
		"&quot;", `"`,
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&#39;", "'",
		"&nbsp;", " ",
	)
	return strings.TrimSpace(replacer.Replace(out))
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateText(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
