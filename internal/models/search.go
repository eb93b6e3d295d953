package models

import "time"

// Query types assigned by the classifier.
const (
	TypeFactual = "factual"
	TypeCurrent = "current"
	TypeGeneral = "general"
)

// Query is a normalized search request. QueryType is only set when the
// caller forces a type; otherwise classification decides without mutating
// the query.
type Query struct {
	Text       string                 `json:"text"`
	QueryType  string                 `json:"query_type,omitempty"`
	MaxResults int                    `json:"max_results"`
	Language   string                 `json:"language"`
	Filters    map[string]interface{} `json:"filters,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Result is a single search hit produced by a provider. Score is
// provider-local until the router rescales it during aggregation.
type Result struct {
	Title     string                 `json:"title"`
	Content   string                 `json:"content"`
	URL       string                 `json:"url"`
	Source    string                 `json:"source"`
	Score     float64                `json:"score"`
	Timestamp *time.Time             `json:"timestamp,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Classification is the report produced by the query classifier.
type Classification struct {
	PrimaryType        string             `json:"primary_type"`
	Confidence         float64            `json:"confidence"`
	SuggestedProviders []string           `json:"suggested_providers"`
	Reasoning          string             `json:"reasoning"`
	Scores             map[string]float64 `json:"scores"`
}

// Response is the aggregated outcome of a single search call. It is
// constructed once and never mutated after return.
type Response struct {
	Query          Query           `json:"query"`
	Results        []Result        `json:"results"`
	TotalResults   int             `json:"total_results"`
	SearchTime     float64         `json:"search_time"`
	CacheHit       bool            `json:"cache_hit"`
	SourcesUsed    []string        `json:"sources_used"`
	Classification *Classification `json:"classification,omitempty"`
}
