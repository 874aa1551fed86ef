// Package perf implements the performance manager: three LRU+TTL caches
// (validation, resource, bundle), a bounded performance-metric ring
// buffer, and an auto-tune pass over hit rates and recent durations. The
// LRU is a hand-rolled container/list + map bounded behind a mutex.
package perf

import (
	"container/list"
	"sync"
	"time"
)

// CacheKind names the three caches the manager maintains.
type CacheKind string

const (
	CacheValidation CacheKind = "validation"
	CacheResource   CacheKind = "resource"
	CacheBundle     CacheKind = "bundle"
)

const (
	defaultCapacity = 1000
	defaultTTL      = 3600 * time.Second
	maxTTL          = 7200 * time.Second
	maxCapacity     = 5000
	targetDuration  = 2 * time.Second
	minTimeout      = 10 * time.Second
	maxConcurrent   = 20
)

// cacheEntry is the value stored behind each LRU element.
type cacheEntry struct {
	key         string
	value       interface{}
	timestamp   time.Time
	accessCount int64
}

// lruCache is a bounded, TTL-on-read LRU used for each of the three caches.
type lruCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*list.Element
	order    *list.List // front = most recently used

	hits      int64
	misses    int64
	evictions int64
}

func newLRUCache(capacity int, ttl time.Duration) *lruCache {
	return &lruCache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get returns the cached value for key if present and not TTL-expired,
// bumping it to most-recently-used and incrementing its access count.
func (c *lruCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if time.Since(entry.timestamp) > c.ttl {
		c.order.Remove(el)
		delete(c.items, key)
		c.misses++
		return nil, false
	}
	entry.accessCount++
	c.order.MoveToFront(el)
	c.hits++
	return entry.value, true
}

// Set inserts or updates key, evicting the least-recently-used entry if the
// cache is at capacity.
func (c *lruCache) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		entry := el.Value.(*cacheEntry)
		entry.value = value
		entry.timestamp = time.Now()
		c.order.MoveToFront(el)
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*cacheEntry).key)
			c.evictions++
		}
	}

	entry := &cacheEntry{key: key, value: value, timestamp: time.Now(), accessCount: 1}
	el := c.order.PushFront(entry)
	c.items[key] = el
}

func (c *lruCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order = list.New()
}

// HitRate returns hits / (hits + misses), or 0 if nothing has been looked up.
func (c *lruCache) HitRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}

// Stats is a point-in-time snapshot of one cache's counters.
type Stats struct {
	Size      int           `json:"size"`
	Capacity  int           `json:"capacity"`
	TTL       time.Duration `json:"ttl_ns"`
	Hits      int64         `json:"hits"`
	Misses    int64         `json:"misses"`
	Evictions int64         `json:"evictions"`
	HitRate   float64       `json:"hit_rate"`
}

func (c *lruCache) snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}
	return Stats{
		Size: c.order.Len(), Capacity: c.capacity, TTL: c.ttl,
		Hits: c.hits, Misses: c.misses, Evictions: c.evictions, HitRate: hitRate,
	}
}

// MetricRecord is one completed operation's timing record.
type MetricRecord struct {
	OperationType string    `json:"operation_type"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	DurationMs    float64   `json:"duration_ms"`
	ResourceCount int       `json:"resource_count"`
	CacheHit      bool      `json:"cache_hit"`
	Success       bool      `json:"success"`
	ErrorMessage  string    `json:"error_message,omitempty"`
}

// trackingHandle is the opaque id returned by StartPerformanceTracking.
type trackingHandle struct {
	operationType string
	resourceCount int
	start         time.Time
}

const ringCapacity = 10000

// Manager is the process-wide performance manager.
type Manager struct {
	caches map[CacheKind]*lruCache

	mu          sync.Mutex
	requestTimeout    time.Duration
	maxConcurrentReqs int

	ringMu sync.Mutex
	ring   []MetricRecord
	head   int
	full   bool

	trackMu  sync.Mutex
	trackSeq int64
	tracking map[int64]*trackingHandle
}

// NewManager builds a Performance Manager with the default capacity/TTL for
// all three caches and the default 10s request timeout / 10 max-concurrent.
func NewManager() *Manager {
	return &Manager{
		caches: map[CacheKind]*lruCache{
			CacheValidation: newLRUCache(defaultCapacity, defaultTTL),
			CacheResource:   newLRUCache(defaultCapacity, defaultTTL),
			CacheBundle:     newLRUCache(defaultCapacity, defaultTTL),
		},
		requestTimeout:    10 * time.Second,
		maxConcurrentReqs: 10,
		tracking:          make(map[int64]*trackingHandle),
	}
}

// Cache returns the named cache for direct Get/Set/Clear use.
func (m *Manager) Cache(kind CacheKind) *lruCache {
	return m.caches[kind]
}

// CacheStats snapshots every cache's counters, keyed by kind.
func (m *Manager) CacheStats() map[CacheKind]Stats {
	out := make(map[CacheKind]Stats, len(m.caches))
	for k, c := range m.caches {
		out[k] = c.snapshot()
	}
	return out
}

// ClearAllCaches empties all three caches (used by the admin cache-clear
// action and tests).
func (m *Manager) ClearAllCaches() {
	for _, c := range m.caches {
		c.Clear()
	}
}

// RequestTimeout returns the current (possibly auto-tuned) outbound HTTP
// request timeout.
func (m *Manager) RequestTimeout() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestTimeout
}

// MaxConcurrentRequests returns the current worker-pool size bounding
// concurrent validation/execution calls against the external FHIR server.
func (m *Manager) MaxConcurrentRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxConcurrentReqs
}

// StartPerformanceTracking returns an opaque handle id for a later matching
// EndPerformanceTracking call.
func (m *Manager) StartPerformanceTracking(operationType string, resourceCount int) int64 {
	m.trackMu.Lock()
	defer m.trackMu.Unlock()
	m.trackSeq++
	id := m.trackSeq
	m.tracking[id] = &trackingHandle{operationType: operationType, resourceCount: resourceCount, start: time.Now()}
	return id
}

// EndPerformanceTracking closes out the handle, recording a MetricRecord
// into the bounded ring buffer.
func (m *Manager) EndPerformanceTracking(id int64, success bool, cacheHit bool) {
	m.endPerformanceTrackingWithError(id, success, cacheHit, "")
}

// EndPerformanceTrackingWithError is EndPerformanceTracking plus an error
// message for failed operations.
func (m *Manager) EndPerformanceTrackingWithError(id int64, success bool, cacheHit bool, errMsg string) {
	m.endPerformanceTrackingWithError(id, success, cacheHit, errMsg)
}

func (m *Manager) endPerformanceTrackingWithError(id int64, success bool, cacheHit bool, errMsg string) {
	m.trackMu.Lock()
	h, ok := m.tracking[id]
	if ok {
		delete(m.tracking, id)
	}
	m.trackMu.Unlock()
	if !ok {
		return
	}

	end := time.Now()
	record := MetricRecord{
		OperationType: h.operationType,
		StartTime:     h.start,
		EndTime:       end,
		DurationMs:    float64(end.Sub(h.start).Microseconds()) / 1000.0,
		ResourceCount: h.resourceCount,
		CacheHit:      cacheHit,
		Success:       success,
		ErrorMessage:  errMsg,
	}
	m.pushRecord(record)
}

func (m *Manager) pushRecord(record MetricRecord) {
	m.ringMu.Lock()
	defer m.ringMu.Unlock()
	if m.ring == nil {
		m.ring = make([]MetricRecord, ringCapacity)
	}
	m.ring[m.head] = record
	m.head = (m.head + 1) % ringCapacity
	if m.head == 0 {
		m.full = true
	}
}

// RecentMetrics returns a copy of the recorded metrics, oldest first,
// bounded by ringCapacity.
func (m *Manager) RecentMetrics() []MetricRecord {
	m.ringMu.Lock()
	defer m.ringMu.Unlock()
	if m.ring == nil {
		return nil
	}
	if !m.full {
		out := make([]MetricRecord, m.head)
		copy(out, m.ring[:m.head])
		return out
	}
	out := make([]MetricRecord, ringCapacity)
	copy(out, m.ring[m.head:])
	copy(out[ringCapacity-m.head:], m.ring[:m.head])
	return out
}

// AutoTune inspects each cache's hit rate and the recent average operation
// duration, adjusting TTL/capacity/timeout/concurrency within fixed bounds.
// It returns a human-readable list of adjustments made, for logging.
func (m *Manager) AutoTune() []string {
	var applied []string

	for kind, c := range m.caches {
		c.mu.Lock()
		hitRate := 0.0
		if total := c.hits + c.misses; total > 0 {
			hitRate = float64(c.hits) / float64(total)
		}
		evictions := c.evictions
		if hitRate < 0.5 {
			newTTL := time.Duration(float64(c.ttl) * 1.5)
			if newTTL > maxTTL {
				newTTL = maxTTL
			}
			if newTTL != c.ttl {
				c.ttl = newTTL
				applied = append(applied, string(kind)+" cache TTL increased")
			}
		} else if hitRate > 0.9 && evictions > 100 {
			newCap := int(float64(c.capacity) * 1.2)
			if newCap > maxCapacity {
				newCap = maxCapacity
			}
			if newCap != c.capacity {
				c.capacity = newCap
				applied = append(applied, string(kind)+" cache capacity grown")
			}
		}
		c.mu.Unlock()
	}

	recentAvg := m.recentAverageDuration()
	m.mu.Lock()
	if recentAvg > targetDuration {
		newTimeout := time.Duration(float64(m.requestTimeout) * 0.8)
		if newTimeout < minTimeout {
			newTimeout = minTimeout
		}
		if newTimeout != m.requestTimeout {
			m.requestTimeout = newTimeout
			applied = append(applied, "request timeout shrunk")
		}
		if m.maxConcurrentReqs < maxConcurrent {
			m.maxConcurrentReqs += 2
			if m.maxConcurrentReqs > maxConcurrent {
				m.maxConcurrentReqs = maxConcurrent
			}
			applied = append(applied, "max concurrent requests grown")
		}
	}
	m.mu.Unlock()

	return applied
}

// recentAverageDuration averages the duration of the most recent 100
// recorded operations (or fewer if the ring hasn't filled that far).
func (m *Manager) recentAverageDuration() time.Duration {
	recent := m.RecentMetrics()
	if len(recent) == 0 {
		return 0
	}
	start := 0
	if len(recent) > 100 {
		start = len(recent) - 100
	}
	window := recent[start:]
	var total float64
	for _, r := range window {
		total += r.DurationMs
	}
	avgMs := total / float64(len(window))
	return time.Duration(avgMs * float64(time.Millisecond))
}
