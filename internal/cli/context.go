package cli

import (
	"context"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/mrz1836/harvest/internal/cache"
	"github.com/mrz1836/harvest/internal/chain"
	"github.com/mrz1836/harvest/internal/config"
	"github.com/mrz1836/harvest/internal/output"
	earningsvc "github.com/mrz1836/harvest/internal/service/earning"
	swapsvc "github.com/mrz1836/harvest/internal/service/swap"
)

type cmdContextKey struct{}

// CommandContext holds dependencies for CLI commands. Services are built on
// first use unless a test injected them.
type CommandContext struct {
	Cfg *config.Config
	Log *config.Logger
	Fmt *output.Formatter

	Chains  *chain.Directory
	Cache   *cache.PoolCache
	Earning *earningsvc.Service
	Swap    *swapsvc.Service

	mu         sync.Mutex
	cacheStore *cache.FileStorage
}

// NewCommandContext creates a context with the given dependencies.
func NewCommandContext(cfg *config.Config, log *config.Logger, fmtr *output.Formatter) *CommandContext {
	return &CommandContext{
		Cfg: cfg,
		Log: log,
		Fmt: fmtr,
	}
}

// WithChains sets the chain directory.
func (c *CommandContext) WithChains(d *chain.Directory) *CommandContext {
	c.Chains = d
	return c
}

// WithCache sets the pool cache.
func (c *CommandContext) WithCache(pc *cache.PoolCache) *CommandContext {
	c.Cache = pc
	return c
}

// WithEarning sets the earning service.
func (c *CommandContext) WithEarning(s *earningsvc.Service) *CommandContext {
	c.Earning = s
	return c
}

// WithSwap sets the swap service.
func (c *CommandContext) WithSwap(s *swapsvc.Service) *CommandContext {
	c.Swap = s
	return c
}

// logger never returns nil.
func (c *CommandContext) logger() *config.Logger {
	if c.Log == nil {
		return config.NullLogger()
	}
	return c.Log
}

// format returns the output format, text when no formatter is set.
func (c *CommandContext) format() output.Format {
	if c.Fmt == nil {
		return output.FormatText
	}
	return c.Fmt.Format()
}

// emit writes a command result in the configured format.
func (c *CommandContext) emit(w io.Writer, v any, text func(io.Writer) error) error {
	f := c.Fmt
	if f == nil {
		f = output.NewFormatter(output.FormatText, nil)
	}
	return f.Emit(w, v, text)
}

// Directory returns the chain directory, loading chain snapshots on first use.
func (c *CommandContext) Directory() (*chain.Directory, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.directoryLocked()
}

func (c *CommandContext) directoryLocked() (*chain.Directory, error) {
	if c.Chains != nil {
		return c.Chains, nil
	}
	dir, err := buildDirectory(c.Cfg, c.logger())
	if err != nil {
		return nil, err
	}
	c.Chains = dir
	return dir, nil
}

// EarningService returns the earning service.
func (c *CommandContext) EarningService() (*earningsvc.Service, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Earning != nil {
		return c.Earning, nil
	}
	dir, err := c.directoryLocked()
	if err != nil {
		return nil, err
	}
	if c.Cache == nil && c.Cfg.Cache.Enabled {
		c.cacheStore = cache.NewFileStorage(c.Cfg.CachePath())
		c.Cache = loadPoolCache(c.cacheStore, c.logger())
	}
	svc, err := buildEarning(c.Cfg, dir, c.Cache, c.logger())
	if err != nil {
		return nil, err
	}
	c.Earning = svc
	return svc, nil
}

// SwapService returns the swap service.
func (c *CommandContext) SwapService(ctx context.Context) (*swapsvc.Service, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Swap != nil {
		return c.Swap, nil
	}
	dir, err := c.directoryLocked()
	if err != nil {
		return nil, err
	}
	svc, err := buildSwap(ctx, c.Cfg, dir, c.logger())
	if err != nil {
		return nil, err
	}
	c.Swap = svc
	return svc, nil
}

// Close persists the pool cache when it was loaded from disk.
func (c *CommandContext) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cacheStore == nil || c.Cache == nil {
		return
	}
	if err := c.cacheStore.Save(c.Cache); err != nil {
		c.logger().Error("failed to save pool cache: %v", err)
	}
}

// SetCmdContext attaches the command context to cmd.
func SetCmdContext(cmd *cobra.Command, cc *CommandContext) {
	cmd.SetContext(context.WithValue(baseContext(cmd), cmdContextKey{}, cc))
}

// GetCmdContext returns the command context attached to cmd, or nil.
func GetCmdContext(cmd *cobra.Command) *CommandContext {
	ctx := cmd.Context()
	if ctx == nil {
		return nil
	}
	cc, _ := ctx.Value(cmdContextKey{}).(*CommandContext)
	return cc
}
