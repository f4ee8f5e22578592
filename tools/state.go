// Shared tool state.
//
// Information Hiding:
// - Locking of the flags and the cache cell hidden behind accessors
// - One value of each is created at startup and passed to whoever needs it

package tools

import "sync"

// Flags are the loop-wide switches tools can set.
type Flags struct {
	mu          sync.Mutex
	skipInput   bool
	occupyInput bool
}

// SetSkip records whether the next turn should skip user input.
func (f *Flags) SetSkip(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.skipInput = v
}

// Skip reports whether the next turn should skip user input.
func (f *Flags) Skip() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.skipInput
}

// SetOccupy marks the input as owned by the debugger.
func (f *Flags) SetOccupy(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.occupyInput = v
}

// Occupied reports whether the debugger owns the input.
func (f *Flags) Occupied() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.occupyInput
}

// CacheCell holds text waiting to be summarized or submitted.
type CacheCell struct {
	mu    sync.Mutex
	value string
}

// Set replaces the cached text.
func (c *CacheCell) Set(v string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = v
}

// Get returns the cached text.
func (c *CacheCell) Get() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Take returns the cached text and clears the cell.
func (c *CacheCell) Take() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.value
	c.value = ""
	return v
}

// Empty reports whether nothing is cached.
func (c *CacheCell) Empty() bool {
	return c.Get() == ""
}

// SearchItem is one web search hit.
type SearchItem struct {
	Title   string
	Link    string
	Snippet string
}

// SearchResults remembers the last search so /fetch can take an index.
type SearchResults struct {
	mu    sync.Mutex
	items []SearchItem
}

// Set replaces the remembered results.
func (s *SearchResults) Set(items []SearchItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append([]SearchItem(nil), items...)
}

// At returns the 1-based i-th result.
func (s *SearchResults) At(i int) (SearchItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 1 || i > len(s.items) {
		return SearchItem{}, false
	}
	return s.items[i-1], true
}

// Len returns the number of remembered results.
func (s *SearchResults) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
