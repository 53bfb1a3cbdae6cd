package cli

import (
	"context"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/harvest/internal/cache"
	"github.com/mrz1836/harvest/internal/chain"
	"github.com/mrz1836/harvest/internal/config"
	"github.com/mrz1836/harvest/internal/output"
	swapsvc "github.com/mrz1836/harvest/internal/service/swap"
)

func TestNewCommandContext(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		config *config.Config
		log    *config.Logger
		fmt    *output.Formatter
	}{
		{
			name:   "all dependencies",
			config: config.Defaults(),
			log:    config.NullLogger(),
			fmt:    output.NewFormatter(output.FormatJSON, nil),
		},
		{
			name: "nil dependencies",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cc := NewCommandContext(tc.config, tc.log, tc.fmt)
			require.NotNil(t, cc)
			assert.Equal(t, tc.config, cc.Cfg)
			assert.Equal(t, tc.log, cc.Log)
			assert.Equal(t, tc.fmt, cc.Fmt)
			assert.Nil(t, cc.Chains)
			assert.Nil(t, cc.Earning)
			assert.Nil(t, cc.Swap)
		})
	}
}

func TestCommandContextBuilders(t *testing.T) {
	t.Parallel()

	dir := chain.NewDirectory()
	pc := cache.NewPoolCache()
	swap := swapsvc.NewService(&swapsvc.Config{})
	e := newTestEnv(t)

	cc := NewCommandContext(nil, nil, nil).
		WithChains(dir).
		WithCache(pc).
		WithEarning(e.svc).
		WithSwap(swap)

	assert.Same(t, dir, cc.Chains)
	assert.Same(t, pc, cc.Cache)
	assert.Same(t, e.svc, cc.Earning)
	assert.Same(t, swap, cc.Swap)
}

func TestCommandContextDefaults(t *testing.T) {
	t.Parallel()

	cc := NewCommandContext(nil, nil, nil)
	assert.NotNil(t, cc.logger())
	assert.Equal(t, output.FormatText, cc.format())

	cc.Fmt = output.NewFormatter(output.FormatJSON, nil)
	assert.Equal(t, output.FormatJSON, cc.format())
}

func TestCommandContextInjectedServices(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	swap := swapsvc.NewService(&swapsvc.Config{})
	cc := NewCommandContext(nil, nil, nil).WithChains(e.dir).WithEarning(e.svc).WithSwap(swap)

	dir, err := cc.Directory()
	require.NoError(t, err)
	assert.Same(t, e.dir, dir)

	svc, err := cc.EarningService()
	require.NoError(t, err)
	assert.Same(t, e.svc, svc)

	got, err := cc.SwapService(context.Background())
	require.NoError(t, err)
	assert.Same(t, swap, got)
}

func TestCommandContextDirectoryFromConfig(t *testing.T) {
	t.Parallel()

	cfg := config.Defaults()
	cfg.Home = t.TempDir()
	cc := NewCommandContext(cfg, config.NullLogger(), nil)

	dir, err := cc.Directory()
	require.NoError(t, err)

	again, err := cc.Directory()
	require.NoError(t, err)
	assert.Same(t, dir, again, "directory is built once")

	// Substrate chains without a snapshot are disabled.
	assert.False(t, dir.IsActive(chain.Polkadot))
	_, ok := dir.Info(chain.Polkadot)
	assert.True(t, ok)

	asset, err := dir.Asset(chain.NativeAssetSlug(chain.Polkadot, "DOT"))
	require.NoError(t, err)
	assert.Equal(t, 10, asset.Decimals)
}

func TestCommandContextCloseWithoutStore(t *testing.T) {
	t.Parallel()

	cc := NewCommandContext(config.Defaults(), nil, nil).WithCache(cache.NewPoolCache())
	assert.NotPanics(t, cc.Close)
}

func TestSetAndGetCmdContext(t *testing.T) {
	t.Parallel()

	t.Run("roundtrip", func(t *testing.T) {
		t.Parallel()
		cmd := &cobra.Command{}
		cc := NewCommandContext(config.Defaults(), nil, nil)
		SetCmdContext(cmd, cc)
		assert.Same(t, cc, GetCmdContext(cmd))
	})

	t.Run("keeps parent context values", func(t *testing.T) {
		t.Parallel()
		type key struct{}
		cmd := &cobra.Command{}
		cmd.SetContext(context.WithValue(context.Background(), key{}, "v"))
		SetCmdContext(cmd, NewCommandContext(nil, nil, nil))
		assert.Equal(t, "v", cmd.Context().Value(key{}))
	})

	t.Run("nil context", func(t *testing.T) {
		t.Parallel()
		assert.Nil(t, GetCmdContext(&cobra.Command{}))
	})

	t.Run("wrong value type", func(t *testing.T) {
		t.Parallel()
		cmd := &cobra.Command{}
		cmd.SetContext(context.WithValue(context.Background(), cmdContextKey{}, "nope"))
		assert.Nil(t, GetCmdContext(cmd))
	})
}
