package types

// CacheOptions configures the two cache tiers and the limits applied to
// every instance created from cached code.
type CacheOptions struct {
	// BaseDir is the directory the cache persists state under. The raw code
	// store and the compiled module store both live below it.
	BaseDir string `json:"base_dir"`
	// SupportedFeatures lists the chain-side capabilities contracts may
	// require, e.g. "staking". Code requiring anything else is rejected at
	// save time.
	SupportedFeatures []string `json:"supported_features"`
	// InstanceCacheSize is the number of warm instances kept in memory for
	// reuse. Zero disables the warm tier entirely.
	InstanceCacheSize uint32 `json:"instance_cache_size"`
	// InstanceMemoryLimitPages caps the linear memory of every instance, in
	// 64 KiB wasm pages.
	InstanceMemoryLimitPages uint32 `json:"instance_memory_limit_pages"`
}
