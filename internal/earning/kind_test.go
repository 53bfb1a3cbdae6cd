package earning_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mrz1836/harvest/internal/chain"
	"github.com/mrz1836/harvest/internal/earning"
)

var errMetadataDown = errors.New("metadata down")

type nopMetadata struct{}

func (nopMetadata) Dapps(context.Context, chain.ID) ([]earning.DappInfo, error) { return nil, nil }

func (nopMetadata) Identities(context.Context, chain.ID, []string) (map[string]earning.Identity, error) {
	return nil, nil
}

func (nopMetadata) YieldAPY(context.Context, string) (float64, bool, error) { return 0, false, nil }

type errorLog struct {
	mu    sync.Mutex
	lines int
}

func (l *errorLog) Debug(string, ...any) {}

func (l *errorLog) Error(string, ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines++
}

func TestScopeOverlay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		source   earning.MetadataSource
		fn       func(ctx context.Context, apy *float64) error
		want     bool
		wantAPY  float64
		wantLogs int
	}{
		{
			name:   "no source",
			source: nil,
			fn: func(context.Context, *float64) error {
				panic("must not run")
			},
		},
		{
			name:   "applies result",
			source: nopMetadata{},
			fn: func(_ context.Context, apy *float64) error {
				*apy = 14.2
				return nil
			},
			want:    true,
			wantAPY: 14.2,
		},
		{
			name:   "source error",
			source: nopMetadata{},
			fn: func(context.Context, *float64) error {
				return errMetadataDown
			},
			wantLogs: 1,
		},
		{
			name:   "timeout",
			source: nopMetadata{},
			fn: func(ctx context.Context, _ *float64) error {
				<-ctx.Done()
				return ctx.Err()
			},
			wantLogs: 1,
		},
		{
			name:   "late success is discarded",
			source: nopMetadata{},
			fn: func(ctx context.Context, apy *float64) error {
				<-ctx.Done()
				*apy = 99
				return nil
			},
			wantAPY:  99,
			wantLogs: 1,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			log := &errorLog{}
			s := &earning.Scope{Env: &earning.Env{
				Chain:           testChain,
				Metadata:        tc.source,
				MetadataTimeout: 20 * time.Millisecond,
				Logger:          log,
			}}

			var apy float64
			got := s.Overlay(context.Background(), "yield", func(ctx context.Context, _ earning.MetadataSource) error {
				return tc.fn(ctx, &apy)
			})

			assert.Equal(t, tc.want, got)
			assert.InDelta(t, tc.wantAPY, apy, 1e-9, "Overlay returns after fn")
			assert.Equal(t, tc.wantLogs, log.lines)
		})
	}
}

func TestScopeOverlayParentCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := &earning.Scope{Env: &earning.Env{Chain: testChain, Metadata: nopMetadata{}}}
	ok := s.Overlay(ctx, "dapp", func(ctx context.Context, _ earning.MetadataSource) error {
		return ctx.Err()
	})
	assert.False(t, ok)
}
