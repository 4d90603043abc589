package models

import "time"

// SystemMetrics is a point-in-time summary of instrumentation counters.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	LessonCompletions        uint64    `json:"lesson_completions"`
	CertificatesIssued       uint64    `json:"certificates_issued"`
	SyncFailures             uint64    `json:"sync_failures"`
	DispatchFailures         uint64    `json:"dispatch_failures"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
