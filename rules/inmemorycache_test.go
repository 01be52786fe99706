package rules

import (
	"testing"
	"time"
)

func TestRulesCacheInterface(t *testing.T) {
	var _ RulesCache = (*InMemoryRulesCache)(nil)
	var _ RulesCache = (*RedisRulesCache)(nil)
}

func TestInMemoryRulesCacheMissBeforeSet(t *testing.T) {
	cache := NewInMemoryRulesCache(DefaultCacheConfig())

	if cache.IsValid() {
		t.Error("new cache should not be valid")
	}
	if got := cache.Get(); got != nil {
		t.Errorf("Get() on empty cache = %v, want nil", got)
	}
}

func TestInMemoryRulesCacheSetGet(t *testing.T) {
	cache := NewInMemoryRulesCache(DefaultCacheConfig())

	rules := []*Rule{{ID: "a"}, {ID: "b"}}
	cache.Set(rules)

	// mutating the caller's slice must not leak into the cache
	rules[0] = &Rule{ID: "z"}

	got := cache.Get()
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("Get() = %v, want [a b]", ruleIDs(got))
	}
}

func TestInMemoryRulesCacheEmptyListIsAHit(t *testing.T) {
	cache := NewInMemoryRulesCache(DefaultCacheConfig())
	cache.Set(nil)

	got := cache.Get()
	if got == nil {
		t.Fatal("Get() after Set(nil) should return an empty, non-nil list")
	}
	if len(got) != 0 {
		t.Errorf("Get() returned %d rules, want 0", len(got))
	}
}

func TestInMemoryRulesCacheInvalidate(t *testing.T) {
	cache := NewInMemoryRulesCache(DefaultCacheConfig())
	cache.Set([]*Rule{{ID: "a"}})
	cache.Invalidate()

	if cache.IsValid() {
		t.Error("cache should be invalid after Invalidate()")
	}
	if cache.Get() != nil {
		t.Error("Get() after Invalidate() should miss")
	}
}

func TestInMemoryRulesCacheTTL(t *testing.T) {
	cache := NewInMemoryRulesCache(CacheConfig{TTL: 20 * time.Millisecond})
	cache.Set([]*Rule{{ID: "a"}})

	if !cache.IsValid() {
		t.Fatal("cache should be valid right after Set()")
	}

	time.Sleep(40 * time.Millisecond)

	if cache.IsValid() {
		t.Error("cache should expire after TTL")
	}
	if cache.Get() != nil {
		t.Error("Get() after TTL should miss")
	}
}

func TestEngineInvalidatesCacheOnMutation(t *testing.T) {
	cache := NewInMemoryRulesCache(DefaultCacheConfig())
	engine, err := NewEngineWithCache(NewInMemoryRuleStore(), cache)
	if err != nil {
		t.Fatalf("NewEngineWithCache() failed: %v", err)
	}
	if !cache.IsValid() {
		t.Fatal("engine should warm the cache on construction")
	}

	if err := engine.AddRule(&Rule{ID: "r", Config: discountConfig(), Active: true}); err != nil {
		t.Fatalf("AddRule() failed: %v", err)
	}
	if cache.IsValid() {
		t.Error("AddRule() should invalidate the cache")
	}

	if _, err := engine.EvaluateAll(nil); err != nil {
		t.Fatalf("EvaluateAll() failed: %v", err)
	}
	if !cache.IsValid() {
		t.Error("EvaluateAll() should refill the cache")
	}

	if err := engine.DeleteRule("r"); err != nil {
		t.Fatalf("DeleteRule() failed: %v", err)
	}
	if cache.IsValid() {
		t.Error("DeleteRule() should invalidate the cache")
	}
}
