package earning

import (
	"context"

	"github.com/mrz1836/harvest/internal/chain"
	core "github.com/mrz1836/harvest/internal/earning"
)

// ChainDirectory is the chain view the service needs. *chain.Directory satisfies it.
type ChainDirectory interface {
	chain.ChainSource
	ActiveChains() []chain.Info
	WaitChainsReady(ctx context.Context) error
}

// OpsFactory returns the function table of a pool kind.
type OpsFactory func(kind core.PoolKind) (core.Ops, bool)

// MetricsRecorder receives subscription and cache counters. *metrics.Metrics satisfies it.
type MetricsRecorder interface {
	RecordSubscription(slug string)
	RecordHandlerFailure(slug string)
	RecordCacheHit()
	RecordCacheMiss()
}

type nopMetrics struct{}

func (nopMetrics) RecordSubscription(string)   {}
func (nopMetrics) RecordHandlerFailure(string) {}
func (nopMetrics) RecordCacheHit()             {}
func (nopMetrics) RecordCacheMiss()            {}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Error(string, ...any) {}

// Compile-time interface check
var _ ChainDirectory = (*chain.Directory)(nil)
