// Package dsa provides the radix-tree index used for slash-command paths.
// Uses go-radix for a compressed prefix tree.
package dsa

import (
	"sort"
	"strings"

	"github.com/armon/go-radix"
)

// Trie wraps go-radix for a compressed prefix tree keyed by
// slash-separated paths such as "/ai/set".
//
// Time Complexity: O(k) lookups where k is key length.
type Trie[V any] struct {
	tree *radix.Tree
	size int
}

// NewTrie creates a new empty radix tree.
func NewTrie[V any]() *Trie[V] {
	return &Trie[V]{
		tree: radix.New(),
	}
}

// Insert adds or replaces a key-value pair.
// Returns true if an existing value was replaced.
func (t *Trie[V]) Insert(key string, value V) bool {
	_, updated := t.tree.Insert(key, value)
	if !updated {
		t.size++
	}
	return updated
}

// Search looks up a key in the tree.
func (t *Trie[V]) Search(key string) (V, bool) {
	val, found := t.tree.Get(key)
	if !found {
		var zero V
		return zero, false
	}
	v, ok := val.(V)
	return v, ok
}

// Resolve walks segments from the root and returns the deepest stored path
// together with the number of segments it consumed. Matching is done on whole
// segments, so "/ai" never matches a query for "/aix".
func (t *Trie[V]) Resolve(segments []string) (string, V, int, bool) {
	var (
		bestKey string
		bestVal V
		used    int
		found   bool
	)
	key := ""
	for i, seg := range segments {
		key += "/" + seg
		v, ok := t.Search(key)
		if !ok {
			if !t.hasPrefix(key + "/") {
				break
			}
			continue
		}
		bestKey, bestVal, used, found = key, v, i+1, true
	}
	return bestKey, bestVal, used, found
}

// Children returns the direct child segment names of a path, sorted.
// Grandchildren contribute their first segment, so intermediate nodes that
// were never inserted still show up.
func (t *Trie[V]) Children(path string) []string {
	prefix := strings.TrimSuffix(path, "/") + "/"
	seen := make(map[string]struct{})
	t.tree.WalkPrefix(prefix, func(k string, _ interface{}) bool {
		rest := strings.TrimPrefix(k, prefix)
		if rest == "" {
			return false
		}
		name, _, _ := strings.Cut(rest, "/")
		seen[name] = struct{}{}
		return false
	})
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (t *Trie[V]) hasPrefix(prefix string) bool {
	found := false
	t.tree.WalkPrefix(prefix, func(string, interface{}) bool {
		found = true
		return true
	})
	return found
}

// Size returns the number of keys in the tree.
func (t *Trie[V]) Size() int {
	return t.size
}

// Keys returns all keys in lexical order.
func (t *Trie[V]) Keys() []string {
	keys := make([]string, 0, t.size)
	t.tree.Walk(func(k string, _ interface{}) bool {
		keys = append(keys, k)
		return false
	})
	return keys
}
