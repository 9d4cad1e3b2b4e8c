package application

// Cache type labels shared with the metrics exporter.
const (
	cacheTypeFingerprint = "fingerprint"
	cacheTypeCooldown    = "cooldown"
)

// CacheMetrics records lookaside-cache effectiveness. Implementations must
// be safe for concurrent use.
type CacheMetrics interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

// recordCacheLookup feeds one cache lookup into an optional recorder.
func recordCacheLookup(m CacheMetrics, cacheType string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.RecordCacheHit(cacheType)
	} else {
		m.RecordCacheMiss(cacheType)
	}
}
