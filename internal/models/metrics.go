package models

import "time"

// SystemMetrics is a lightweight aggregate snapshot for the ops endpoint.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	DBQueryCount             uint64    `json:"db_query_count"`
	AverageDBQueryDurationMs float64   `json:"average_db_query_duration_ms"`
	BookingsSubmitted        uint64    `json:"bookings_submitted"`
	SlotConflicts            uint64    `json:"slot_conflicts"`
	RuleRejections           uint64    `json:"rule_rejections"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
