package classifier

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/metasearch-io/metasearch/internal/models"
)

// typeRule is one classification rule table: keyword membership and regex
// matches both contribute the configured weight to the type's score.
type typeRule struct {
	keywords []string
	patterns []*regexp.Regexp
	weight   float64
}

var (
	rules = map[string]typeRule{
		models.TypeFactual: {
			keywords: []string{
				"what is", "who is", "who was", "definition", "history of",
				"biography", "meaning of", "explain", "tell me about",
				"information about",
			},
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`\bwhat\s+is\b`),
				regexp.MustCompile(`\bwho\s+(is|was)\b`),
				regexp.MustCompile(`\bdefine\b`),
				regexp.MustCompile(`\bdefinition\b`),
				regexp.MustCompile(`\bexplain\b`),
			},
			weight: 0.8,
		},
		models.TypeCurrent: {
			keywords: []string{
				"news", "today", "yesterday", "current", "latest", "recent",
				"right now", "breaking", "happened", "this week", "updates",
			},
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`\b(today|yesterday|tonight|current|latest|recent|now)\b`),
				regexp.MustCompile(`\b(news|events|headlines|updates)\b`),
				regexp.MustCompile(`\d{4}[-/]\d{1,2}[-/]\d{1,2}`),
				regexp.MustCompile(`\d{1,2}[-/.]\d{1,2}[-/.]\d{2,4}`),
			},
			weight: 0.9,
		},
		models.TypeGeneral: {
			keywords: []string{
				"find", "search", "look up", "show me",
				"where", "how to", "why",
			},
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`\b(find|search|lookup|show)\b`),
				regexp.MustCompile(`\b(where|how|why)\b`),
			},
			weight: 0.6,
		},
	}

	temporalPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(19|20)\d{2}\b`),
		regexp.MustCompile(`\b(january|february|march|april|may|june|july|august|september|october|november|december)\b`),
		regexp.MustCompile(`\b(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`),
		regexp.MustCompile(`\b(today|yesterday|tomorrow|tonight)\b`),
		regexp.MustCompile(`\b(morning|afternoon|evening|overnight)\b`),
		regexp.MustCompile(`\b(last|this|next|past)\s+(year|month|week|day)\b`),
	}

	organizationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b[A-Z][a-z]+\s+(Inc|Ltd|LLC|Corp|Corporation)\b`),
		regexp.MustCompile(`\b(Inc|Ltd|LLC|Corp|Corporation)\.?\s+[A-Z][a-z]+\b`),
	}

	providerMap = map[string][]string{
		models.TypeFactual: {"wikipedia", "duckduckgo"},
		models.TypeCurrent: {"rss", "duckduckgo"},
		models.TypeGeneral: {"duckduckgo", "wikipedia", "rss"},
	}

	allProviders = []string{"duckduckgo", "wikipedia", "rss"}
)

// Classifier assigns an intent type to a query using the static rule
// tables above. Classification is pure CPU: no I/O, no mutation.
type Classifier struct {
	confidenceThreshold float64
}

func New(confidenceThreshold float64) *Classifier {
	return &Classifier{confidenceThreshold: confidenceThreshold}
}

// Classify scores the query text against every rule table and returns the
// arg-max type with a confidence in [0,1]. A query with no evidence at all
// defaults to general with confidence 0.5.
func (c *Classifier) Classify(query models.Query) models.Classification {
	textLower := strings.ToLower(query.Text)

	scores := map[string]float64{
		models.TypeFactual: 0,
		models.TypeCurrent: 0,
		models.TypeGeneral: 0,
	}

	var reasoning []string

	// Fixed iteration order keeps the reasoning string deterministic.
	for _, queryType := range []string{models.TypeFactual, models.TypeCurrent, models.TypeGeneral} {
		rule := rules[queryType]
		var keywordsFound, patternsMatched []string

		for _, keyword := range rule.keywords {
			if strings.Contains(textLower, keyword) {
				scores[queryType] += rule.weight
				keywordsFound = append(keywordsFound, keyword)
			}
		}

		for _, pattern := range rule.patterns {
			if pattern.MatchString(textLower) {
				scores[queryType] += rule.weight
				patternsMatched = append(patternsMatched, pattern.String())
			}
		}

		if len(keywordsFound) > 0 || len(patternsMatched) > 0 {
			reasoning = append(reasoning, fmt.Sprintf("%s: keywords=%v, patterns=%v",
				queryType, keywordsFound, patternsMatched))
		}
	}

	if markers := extractTemporalMarkers(textLower); len(markers) > 0 {
		scores[models.TypeCurrent] += 0.3 * float64(len(markers))
		reasoning = append(reasoning, fmt.Sprintf("temporal markers: %v", markers))
	}

	if entities := extractNamedEntities(query.Text); len(entities) > 0 {
		scores[models.TypeFactual] += 0.2 * float64(len(entities))
		reasoning = append(reasoning, fmt.Sprintf("named entities: %v", entities))
	}

	total := scores[models.TypeFactual] + scores[models.TypeCurrent] + scores[models.TypeGeneral]

	primaryType := models.TypeGeneral
	confidence := 0.5
	if total > 0 {
		best := 0.0
		for _, queryType := range []string{models.TypeFactual, models.TypeCurrent, models.TypeGeneral} {
			if scores[queryType] > best {
				best = scores[queryType]
				primaryType = queryType
			}
		}
		confidence = best / total
	}

	reason := "No specific indicators found"
	if len(reasoning) > 0 {
		reason = strings.Join(reasoning, "; ")
	}

	return models.Classification{
		PrimaryType:        primaryType,
		Confidence:         confidence,
		SuggestedProviders: c.suggestProviders(primaryType, confidence),
		Reasoning:          reason,
		Scores:             scores,
	}
}

// suggestProviders maps the classified type to its preferred provider
// list. Low-confidence queries get breadth over precision: the full
// provider set instead of the type-specific subset.
func (c *Classifier) suggestProviders(queryType string, confidence float64) []string {
	if confidence < c.confidenceThreshold {
		out := make([]string, len(allProviders))
		copy(out, allProviders)
		return out
	}
	suggested, ok := providerMap[queryType]
	if !ok {
		return []string{"duckduckgo"}
	}
	out := make([]string, len(suggested))
	copy(out, suggested)
	return out
}

// SuggestFor returns the preferred providers for an explicitly requested
// type, bypassing the confidence gate.
func (c *Classifier) SuggestFor(queryType string) []string {
	suggested, ok := providerMap[queryType]
	if !ok {
		return []string{"duckduckgo"}
	}
	out := make([]string, len(suggested))
	copy(out, suggested)
	return out
}

// Stats reports static classifier configuration for health endpoints.
func (c *Classifier) Stats() map[string]interface{} {
	types := make([]string, 0, len(rules))
	for queryType := range providerMap {
		types = append(types, queryType)
	}
	return map[string]interface{}{
		"confidence_threshold": c.confidenceThreshold,
		"rules_count":          len(rules),
		"supported_types":      types,
	}
}

func extractTemporalMarkers(textLower string) []string {
	seen := make(map[string]bool)
	var markers []string

	for _, pattern := range temporalPatterns {
		for _, match := range pattern.FindAllString(textLower, -1) {
			if !seen[match] {
				seen[match] = true
				markers = append(markers, match)
			}
		}
	}

	return markers
}

// extractNamedEntities picks up capitalized tokens that are not sentence
// initial, plus organization-suffix patterns. Deliberately crude: a real
// NER pass is out of scope for a rule-based classifier.
func extractNamedEntities(text string) []string {
	var entities []string

	stopWords := map[string]bool{
		"the": true, "this": true, "that": true, "they": true,
		"its": true, "his": true, "her": true,
	}

	words := strings.Fields(text)
	for i, word := range words {
		if i == 0 || strings.HasSuffix(words[i-1], ".") {
			continue
		}
		runes := []rune(word)
		if len(runes) > 2 && unicode.IsUpper(runes[0]) && !stopWords[strings.ToLower(word)] {
			entities = append(entities, word)
		}
	}

	for _, pattern := range organizationPatterns {
		entities = append(entities, pattern.FindAllString(text, -1)...)
	}

	return entities
}
