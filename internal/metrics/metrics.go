// Package metrics provides application-level metrics collection.
// This is a lightweight metrics foundation using atomic counters.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics holds application metrics using atomic counters for thread safety.
type Metrics struct {
	// RPC metrics
	rpcCallsTotal   atomic.Int64
	rpcErrorsTotal  atomic.Int64
	rpcLatencyNanos atomic.Int64

	// Swap metrics
	quotesTotal     atomic.Int64
	quoteErrors     atomic.Int64
	swapStepsTotal  atomic.Int64
	swapStepsFailed atomic.Int64

	// Earning metrics
	subscriptionsTotal atomic.Int64
	handlerFailures    atomic.Int64

	// Cache metrics
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64

	// Per-target call counts keyed by API host, provider or pool slug
	mu      sync.Mutex
	targets map[string]int64
}

// Global is the global metrics instance.
// Use this for recording metrics throughout the application.
//
//nolint:gochecknoglobals // Intentional global for metrics access
var Global = &Metrics{}

func (m *Metrics) count(target string) {
	if target == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.targets == nil {
		m.targets = make(map[string]int64)
	}
	m.targets[target]++
}

// RecordRPCCall records an API call with its duration and success status.
func (m *Metrics) RecordRPCCall(target string, duration time.Duration, err error) {
	m.rpcCallsTotal.Add(1)
	m.rpcLatencyNanos.Add(duration.Nanoseconds())

	if err != nil {
		m.rpcErrorsTotal.Add(1)
	}
	m.count(target)
}

// RecordQuote records one provider quote attempt.
func (m *Metrics) RecordQuote(provider string, err error) {
	m.quotesTotal.Add(1)
	if err != nil {
		m.quoteErrors.Add(1)
	}
	m.count(provider)
}

// RecordSwapStep records one submitted swap step.
func (m *Metrics) RecordSwapStep(provider string, err error) {
	m.swapStepsTotal.Add(1)
	if err != nil {
		m.swapStepsFailed.Add(1)
	}
	m.count(provider)
}

// RecordSubscription records a pool handler subscription.
func (m *Metrics) RecordSubscription(slug string) {
	m.subscriptionsTotal.Add(1)
	m.count(slug)
}

// RecordHandlerFailure records a contained panic in a pool handler.
func (m *Metrics) RecordHandlerFailure(_ string) {
	m.handlerFailures.Add(1)
}

// RecordCacheHit records a cache hit.
func (m *Metrics) RecordCacheHit() {
	m.cacheHits.Add(1)
}

// RecordCacheMiss records a cache miss.
func (m *Metrics) RecordCacheMiss() {
	m.cacheMisses.Add(1)
}

// Snapshot returns a point-in-time copy of all metrics.
type Snapshot struct {
	RPCCallsTotal      int64            `json:"rpc_calls_total"`
	RPCErrorsTotal     int64            `json:"rpc_errors_total"`
	RPCLatencyNanos    int64            `json:"rpc_latency_nanos"`
	QuotesTotal        int64            `json:"quotes_total"`
	QuoteErrors        int64            `json:"quote_errors"`
	SwapStepsTotal     int64            `json:"swap_steps_total"`
	SwapStepsFailed    int64            `json:"swap_steps_failed"`
	SubscriptionsTotal int64            `json:"subscriptions_total"`
	HandlerFailures    int64            `json:"handler_failures"`
	CacheHits          int64            `json:"cache_hits"`
	CacheMisses        int64            `json:"cache_misses"`
	Targets            map[string]int64 `json:"targets,omitempty"`
}

// Snapshot returns a point-in-time copy of all metrics.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	targets := make(map[string]int64, len(m.targets))
	for k, v := range m.targets {
		targets[k] = v
	}
	m.mu.Unlock()

	return Snapshot{
		RPCCallsTotal:      m.rpcCallsTotal.Load(),
		RPCErrorsTotal:     m.rpcErrorsTotal.Load(),
		RPCLatencyNanos:    m.rpcLatencyNanos.Load(),
		QuotesTotal:        m.quotesTotal.Load(),
		QuoteErrors:        m.quoteErrors.Load(),
		SwapStepsTotal:     m.swapStepsTotal.Load(),
		SwapStepsFailed:    m.swapStepsFailed.Load(),
		SubscriptionsTotal: m.subscriptionsTotal.Load(),
		HandlerFailures:    m.handlerFailures.Load(),
		CacheHits:          m.cacheHits.Load(),
		CacheMisses:        m.cacheMisses.Load(),
		Targets:            targets,
	}
}

// TopTargets returns the n most used targets, most used first.
func (s Snapshot) TopTargets(n int) []string {
	out := make([]string, 0, len(s.Targets))
	for k := range s.Targets {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if s.Targets[out[i]] != s.Targets[out[j]] {
			return s.Targets[out[i]] > s.Targets[out[j]]
		}
		return out[i] < out[j]
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// RPCCallsTotal returns the total number of RPC calls made.
func (m *Metrics) RPCCallsTotal() int64 {
	return m.rpcCallsTotal.Load()
}

// RPCErrorsTotal returns the total number of RPC errors.
func (m *Metrics) RPCErrorsTotal() int64 {
	return m.rpcErrorsTotal.Load()
}

// RPCLatencyAvgMs returns the average RPC latency in milliseconds.
// Returns 0 if no calls have been made.
func (m *Metrics) RPCLatencyAvgMs() float64 {
	calls := m.rpcCallsTotal.Load()
	if calls == 0 {
		return 0
	}
	nanos := m.rpcLatencyNanos.Load()
	return float64(nanos) / float64(calls) / 1e6
}

// CacheHitRate returns the cache hit rate as a percentage (0-100).
// Returns 0 if no cache operations have occurred.
func (m *Metrics) CacheHitRate() float64 {
	hits := m.cacheHits.Load()
	misses := m.cacheMisses.Load()
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}

// Reset resets all metrics to zero.
// Useful for testing.
func (m *Metrics) Reset() {
	m.rpcCallsTotal.Store(0)
	m.rpcErrorsTotal.Store(0)
	m.rpcLatencyNanos.Store(0)
	m.quotesTotal.Store(0)
	m.quoteErrors.Store(0)
	m.swapStepsTotal.Store(0)
	m.swapStepsFailed.Store(0)
	m.subscriptionsTotal.Store(0)
	m.handlerFailures.Store(0)
	m.cacheHits.Store(0)
	m.cacheMisses.Store(0)

	m.mu.Lock()
	m.targets = nil
	m.mu.Unlock()
}
