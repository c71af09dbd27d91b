package cache

import "time"

// TierHealth is the result of probing one tier
type TierHealth struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency"`
}

// HealthReport describes whether the Manager can serve requests. It is
// healthy when initialized and at least one configured tier answers.
type HealthReport struct {
	ManagerInitialized bool                  `json:"manager_initialized"`
	Level              Level                 `json:"level"`
	Tiers              map[string]TierHealth `json:"tiers"`
	OverallHealthy     bool                  `json:"overall_healthy"`
	CheckedAt          time.Time             `json:"checked_at"`
}

// Stats merges the Manager's counters with each tier's native statistics.
// Batch operations count once per key.
type Stats struct {
	Level          Level            `json:"level"`
	Initialized    bool             `json:"initialized"`
	TotalGets      int64            `json:"total_gets"`
	TotalSets      int64            `json:"total_sets"`
	TotalDeletes   int64            `json:"total_deletes"`
	HitsPerTier    map[string]int64 `json:"hits_per_tier"`
	Misses         int64            `json:"misses"`
	Errors         int64            `json:"errors"`
	OverallHitRate float64          `json:"overall_hit_rate"`

	Memory      *MemoryStats `json:"memory,omitempty"`
	Remote      *RemoteStats `json:"remote,omitempty"`
	RemoteError string       `json:"remote_error,omitempty"`
}
