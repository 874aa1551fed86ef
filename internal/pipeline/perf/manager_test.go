package perf

import (
	"testing"
	"time"
)

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := newLRUCache(2, time.Hour)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a") // touch a, making b the LRU entry
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Error("expected b to have been evicted")
	}
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Error("expected a to still be cached")
	}
	if v, ok := c.Get("c"); !ok || v != 3 {
		t.Error("expected c to be cached")
	}
}

func TestLRUCache_TTLExpiry(t *testing.T) {
	c := newLRUCache(10, 10*time.Millisecond)
	c.Set("k", "v")
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Error("expected entry to have expired")
	}
}

func TestManager_StartEndPerformanceTracking(t *testing.T) {
	m := NewManager()
	id := m.StartPerformanceTracking("validate_bundle", 3)
	time.Sleep(2 * time.Millisecond)
	m.EndPerformanceTracking(id, true, false)

	metrics := m.RecentMetrics()
	if len(metrics) != 1 {
		t.Fatalf("expected 1 metric record, got %d", len(metrics))
	}
	if metrics[0].OperationType != "validate_bundle" {
		t.Errorf("unexpected operation type: %s", metrics[0].OperationType)
	}
	if metrics[0].ResourceCount != 3 {
		t.Errorf("expected resource count 3, got %d", metrics[0].ResourceCount)
	}
	if !metrics[0].Success {
		t.Error("expected success=true")
	}
}

func TestManager_RingBufferBoundedAtCapacity(t *testing.T) {
	m := NewManager()
	for i := 0; i < ringCapacity+50; i++ {
		id := m.StartPerformanceTracking("op", 1)
		m.EndPerformanceTracking(id, true, false)
	}
	if len(m.RecentMetrics()) != ringCapacity {
		t.Errorf("expected ring bounded at %d, got %d", ringCapacity, len(m.RecentMetrics()))
	}
}

func TestManager_AutoTune_LowHitRateIncreasesTTL(t *testing.T) {
	m := NewManager()
	cache := m.Cache(CacheValidation)
	// Force a low hit rate: mostly misses.
	for i := 0; i < 10; i++ {
		cache.Get("missing-key")
	}
	cache.Set("k", "v")
	cache.Get("k")

	before := cache.snapshot().TTL
	m.AutoTune()
	after := cache.snapshot().TTL
	if after <= before {
		t.Errorf("expected TTL to increase from %v, got %v", before, after)
	}
}

func TestManager_AutoTune_SlowOperationsShrinkTimeoutAndGrowConcurrency(t *testing.T) {
	m := NewManager()
	for i := 0; i < 5; i++ {
		id := m.StartPerformanceTracking("validate_bundle", 1)
		time.Sleep(1 * time.Millisecond)
		m.EndPerformanceTracking(id, true, false)
	}
	// Fake a slow-average condition directly since we can't sleep 2s in a test.
	m.ringMu.Lock()
	for i := range m.ring[:m.head] {
		m.ring[i].DurationMs = 3000
	}
	m.ringMu.Unlock()
	// Start above the 10s floor so there is room to shrink.
	m.requestTimeout = 30 * time.Second

	beforeTimeout := m.RequestTimeout()
	beforeConcurrency := m.MaxConcurrentRequests()
	m.AutoTune()
	if m.RequestTimeout() >= beforeTimeout {
		t.Errorf("expected timeout to shrink from %v, got %v", beforeTimeout, m.RequestTimeout())
	}
	if m.MaxConcurrentRequests() <= beforeConcurrency {
		t.Errorf("expected concurrency to grow from %d, got %d", beforeConcurrency, m.MaxConcurrentRequests())
	}
}

func TestManager_ClearAllCaches(t *testing.T) {
	m := NewManager()
	m.Cache(CacheBundle).Set("k", "v")
	m.ClearAllCaches()
	if _, ok := m.Cache(CacheBundle).Get("k"); ok {
		t.Error("expected cache to be empty after ClearAllCaches")
	}
}
