package models

// SearchRequest is the JSON body accepted by the search endpoint.
type SearchRequest struct {
	Query      string `json:"query" binding:"required"`
	QueryType  string `json:"query_type,omitempty"`
	MaxResults int    `json:"max_results,omitempty"`
	Language   string `json:"language,omitempty"`
}
