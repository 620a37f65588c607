package metrics

import "time"

// Snapshot is a point-in-time copy of the aggregator, shaped for JSON.
type Snapshot struct {
	Requests  RequestStats          `json:"requests"`
	Latency   LatencyStats          `json:"latency"`
	Cache     map[string]CacheStats `json:"cache"`
	Errors    map[string]int64      `json:"errors"`
	Resources ResourceStats         `json:"resources"`
	Uptime    UptimeStats           `json:"uptime"`
}

type RequestStats struct {
	Total       int64   `json:"total"`
	Successful  int64   `json:"successful"`
	Failed      int64   `json:"failed"`
	Aborted     int64   `json:"aborted"`
	Active      int     `json:"active"`
	PeakActive  int     `json:"peakActive"`
	UniqueUsers int     `json:"uniqueUsers"`
	SuccessRate float64 `json:"successRate"`
}

// LatencyStats values are milliseconds.
type LatencyStats struct {
	FirstToken Summary `json:"firstToken"`
	FirstAudio Summary `json:"firstAudio"`
	Total      Summary `json:"total"`
}

type CacheStats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hitRate"`
}

type ResourceStats struct {
	AvgResponseBytes   float64 `json:"avgResponseBytes"`
	TotalResponseBytes int64   `json:"totalResponseBytes"`
	TotalTokens        int64   `json:"totalTokens"`
	TotalWords         int64   `json:"totalWords"`
	TotalSentences     int64   `json:"totalSentences"`
	TotalAudioChunks   int64   `json:"totalAudioChunks"`
}

type UptimeStats struct {
	StartedAt time.Time `json:"startedAt"`
	Seconds   float64   `json:"seconds"`
}
