package models

// ErrorResponse is the envelope for API error payloads
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// DigestResponse wraps a digest row for API consumers
type DigestResponse struct {
	Status string  `json:"status"`
	Digest *Digest `json:"digest"`
}

// DigestListResponse wraps a page of digests for one user
type DigestListResponse struct {
	Status     string   `json:"status"`
	Digests    []Digest `json:"digests"`
	TotalCount int      `json:"totalCount"`
}

// QueueStatsResponse reports per-queue depth and terminal counts
type QueueStatsResponse struct {
	Status string                    `json:"status"`
	Queues map[string]map[string]int `json:"queues"`
}
