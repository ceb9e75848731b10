package model

import "time"

// PrefetchRequest asks the workers to warm the score cache for Subject.
type PrefetchRequest struct {
	ID          string
	Subject     string
	RequestedAt time.Time
}

// Entry is one row of the ranking view.
type Entry struct {
	Rank    int    `json:"rank"`
	Subject string `json:"subject"`
	Score   int    `json:"score"`
}

// PrefetchResult counts what happened to each subject of a prefetch request.
type PrefetchResult struct {
	Accepted int `json:"accepted"`
	Cached   int `json:"cached"`
	Pending  int `json:"pending"`
	Rejected int `json:"rejected"`
	Invalid  int `json:"invalid"`
}
