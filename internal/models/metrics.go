package models

import "time"

// GatewaySnapshot is the JSON view of the gateway's own instrumentation.
type GatewaySnapshot struct {
	CacheHitRatio             float64   `json:"cache_hit_ratio"`
	CacheHits                 uint64    `json:"cache_hits"`
	CacheMisses               uint64    `json:"cache_misses"`
	RequestsTotal             uint64    `json:"requests_total"`
	AverageRequestDurationMs  float64   `json:"average_request_duration_ms"`
	UpstreamCalls             uint64    `json:"upstream_calls"`
	UpstreamErrors            uint64    `json:"upstream_errors"`
	AverageUpstreamDurationMs float64   `json:"average_upstream_duration_ms"`
	LiveSessions              int64     `json:"live_sessions"`
	Goroutines                int       `json:"goroutines"`
	GeneratedAt               time.Time `json:"generated_at"`
}
