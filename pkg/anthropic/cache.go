package anthropic

// CachedSystem builds a single system block marked for prompt caching. The
// oracle's per-operation instructions are stable across runs, so every call
// after the first reads them from cache.
func CachedSystem(text string) []SystemBlock {
	return []SystemBlock{{Text: text, CacheControl: &CacheControl{TTL: "5m"}}}
}
