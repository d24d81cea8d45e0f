package cache

// StatsSnapshot is a point-in-time copy of the orchestrator counters.
// The hit/miss/fetch/eviction counters are monotonic; the two current_*
// fields are gauges derived from the live tiers, counting each logical
// entry once even when memory and disk both hold a copy.
type StatsSnapshot struct {
	HitsMemory        int64 `json:"hits_memory"`
	HitsDisk          int64 `json:"hits_disk"`
	Misses            int64 `json:"misses"`
	FetchSuccesses    int64 `json:"fetch_successes"`
	FetchFailures     int64 `json:"fetch_failures"`
	Evictions         int64 `json:"evictions"`
	CurrentEntryCount int   `json:"current_entry_count"`
	CurrentBytes      int64 `json:"current_bytes"`
}
