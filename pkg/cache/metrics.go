package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// CacheEventTypeHit is the event type for cache hits.
	CacheEventTypeHit = "cache_hit"

	// CacheEventTypeMiss is the event type for cache misses.
	CacheEventTypeMiss = "cache_miss"

	// CacheEventTypeStale is the event type for hits served past their
	// freshness window.
	CacheEventTypeStale = "cache_stale_hit"
)

type cacheMetrics struct {
	// cachedItems is the total number of query results currently cached.
	cachedItems prometheus.Gauge

	// cacheEvents counts hits, misses, and stale hits.
	cacheEvents *prometheus.CounterVec

	// cacheEvictions counts capacity evictions.
	cacheEvictions prometheus.Counter

	// cacheInvalidations counts entries marked stale by tag invalidation.
	cacheInvalidations prometheus.Counter
}

func newCacheMetrics(reg prometheus.Registerer) *cacheMetrics {
	m := &cacheMetrics{
		cachedItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cachewire_cached_items",
			Help: "Total number of query results currently cached.",
		}),
		cacheEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cachewire_cache_events_total",
			Help: "Total number of cache read events, partitioned by event type.",
		}, []string{"event_type"}),
		cacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cachewire_cache_evictions_total",
			Help: "Total number of query results evicted by the capacity policy.",
		}),
		cacheInvalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cachewire_cache_invalidations_total",
			Help: "Total number of query results marked stale by tag invalidation.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.cachedItems, m.cacheEvents, m.cacheEvictions, m.cacheInvalidations)
	}
	return m
}

func (m *cacheMetrics) setCachedItems(n int) {
	if m == nil {
		return
	}
	m.cachedItems.Set(float64(n))
}

func (m *cacheMetrics) incCacheEvents(event string) {
	if m == nil {
		return
	}
	m.cacheEvents.WithLabelValues(event).Inc()
}

func (m *cacheMetrics) incCacheEvictions() {
	if m == nil {
		return
	}
	m.cacheEvictions.Inc()
}

func (m *cacheMetrics) addCacheInvalidations(n int) {
	if m == nil {
		return
	}
	m.cacheInvalidations.Add(float64(n))
}
