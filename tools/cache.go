package tools

import "context"

// CacheTool stores the text of a <cache> tag.
type CacheTool struct {
	cache *CacheCell
}

// NewCacheTool creates a cache tool writing to cell.
func NewCacheTool(cell *CacheCell) *CacheTool {
	return &CacheTool{cache: cell}
}

// Kind returns KindCache.
func (t *CacheTool) Kind() Kind { return KindCache }

// Execute overwrites the cache.
func (t *CacheTool) Execute(ctx context.Context, inv Invocation, _ Batch) Result {
	t.cache.Set(inv.Text())
	return Result{UserMessage: "信息已缓存"}
}
