package models

import "time"

// SystemMetrics is the JSON snapshot served by the system metrics endpoint.
type SystemMetrics struct {
	CacheHitRatio            float64           `json:"cache_hit_ratio"`
	CacheHits                uint64            `json:"cache_hits"`
	CacheMisses              uint64            `json:"cache_misses"`
	RequestsTotal            uint64            `json:"requests_total"`
	AverageRequestDurationMs float64           `json:"average_request_duration_ms"`
	DBQueryCount             uint64            `json:"db_query_count"`
	AverageDBQueryDurationMs float64           `json:"average_db_query_duration_ms"`
	InboundMessages          uint64            `json:"inbound_messages"`
	AICalls                  uint64            `json:"ai_calls"`
	AIFailures               uint64            `json:"ai_failures"`
	RecordsWritten           map[string]uint64 `json:"records_written"`
	QueueDepth               int               `json:"queue_depth"`
	Goroutines               int               `json:"goroutines"`
	GeneratedAt              time.Time         `json:"generated_at"`
}
