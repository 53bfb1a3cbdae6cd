package swap

import (
	core "github.com/mrz1836/harvest/internal/swap"
)

// MetricsRecorder receives quote and step counters. *metrics.Metrics satisfies it.
type MetricsRecorder interface {
	RecordQuote(provider string, err error)
	RecordSwapStep(provider string, err error)
}

type nopMetrics struct{}

func (nopMetrics) RecordQuote(string, error)    {}
func (nopMetrics) RecordSwapStep(string, error) {}

// Compile-time interface check
var _ core.Executor = (*Service)(nil)
