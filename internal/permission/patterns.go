// Package permission evaluates role-based data permissions, both in memory
// against single records and as SQL predicates for bulk fetches.
package permission

import (
	"fmt"
	"regexp"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultPatternCacheSize bounds the number of compiled patterns kept.
const DefaultPatternCacheSize = 1024

// PatternCache memoizes compiled regular expressions. Permission patterns
// repeat across requests, so compiled forms are shared.
type PatternCache struct {
	cache *lru.Cache[string, *regexp.Regexp]
}

// NewPatternCache returns a cache holding up to size patterns.
func NewPatternCache(size int) (*PatternCache, error) {
	if size <= 0 {
		size = DefaultPatternCacheSize
	}
	cache, err := lru.New[string, *regexp.Regexp](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create pattern cache: %w", err)
	}
	return &PatternCache{cache: cache}, nil
}

// Compile returns the compiled form of pattern.
func (c *PatternCache) Compile(pattern string) (*regexp.Regexp, error) {
	if c != nil {
		if re, ok := c.cache.Get(pattern); ok {
			return re, nil
		}
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid permission pattern %q: %w", pattern, err)
	}
	if c != nil {
		c.cache.Add(pattern, re)
	}
	return re, nil
}

// Len returns the number of cached patterns.
func (c *PatternCache) Len() int {
	if c == nil {
		return 0
	}
	return c.cache.Len()
}
