package rules

import (
	"sync"
	"time"
)

// InMemoryRulesCache is a process-local RulesCache
type InMemoryRulesCache struct {
	rules    []*Rule
	cachedAt time.Time
	config   CacheConfig
	mu       sync.RWMutex
	valid    bool
}

// NewInMemoryRulesCache creates a new in-memory rules cache
func NewInMemoryRulesCache(config CacheConfig) *InMemoryRulesCache {
	return &InMemoryRulesCache{config: config}
}

// Get returns a copy of the cached rules, or nil if the cache is invalid or expired
func (c *InMemoryRulesCache) Get() []*Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.fresh() {
		return nil
	}

	out := make([]*Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// Set stores a copy of rules
func (c *InMemoryRulesCache) Set(rules []*Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rules = make([]*Rule, len(rules))
	copy(c.rules, rules)
	c.cachedAt = time.Now()
	c.valid = true
}

// Invalidate clears the cache
func (c *InMemoryRulesCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.valid = false
	c.rules = nil
}

// IsValid returns true if cache contains valid data
func (c *InMemoryRulesCache) IsValid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.fresh()
}

// fresh must be called with mu held
func (c *InMemoryRulesCache) fresh() bool {
	if !c.valid {
		return false
	}
	if c.config.TTL > 0 {
		return time.Since(c.cachedAt) <= c.config.TTL
	}
	return true
}
