package cli

import (
	"context"
	"errors"

	"github.com/mrz1836/harvest/internal/cache"
	"github.com/mrz1836/harvest/internal/chain"
	"github.com/mrz1836/harvest/internal/chain/evm"
	"github.com/mrz1836/harvest/internal/chain/memory"
	"github.com/mrz1836/harvest/internal/config"
	core "github.com/mrz1836/harvest/internal/earning"
	"github.com/mrz1836/harvest/internal/metadata"
	"github.com/mrz1836/harvest/internal/metrics"
	earningsvc "github.com/mrz1836/harvest/internal/service/earning"
	swapsvc "github.com/mrz1836/harvest/internal/service/swap"
	"github.com/mrz1836/harvest/internal/swap"
	"github.com/mrz1836/harvest/internal/swap/chainflip"
	"github.com/mrz1836/harvest/internal/swap/stellaswap"
	harvesterr "github.com/mrz1836/harvest/pkg/errors"
)

// knownProviders lists the provider ids buildSwap understands.
//
//nolint:gochecknoglobals // fixed list
var knownProviders = []string{
	string(swap.ProviderStellaswap),
	string(swap.ProviderStellaswapTestnet),
	string(swap.ProviderChainflip),
	string(swap.ProviderChainflipTestnet),
}

// buildDirectory registers every configured chain backed by its state
// snapshot. A substrate chain without a snapshot stays registered but
// inactive; EVM chains get an empty state since swaps reach them over RPC.
func buildDirectory(cfg *config.Config, log LogWriter) (*chain.Directory, error) {
	dir := chain.NewDirectory()
	for _, ch := range cfg.Chains {
		active := ch.Active
		conn, err := memory.LoadFile(cfg.SnapshotPath(ch))
		switch {
		case err == nil:
		case errors.Is(err, harvesterr.ErrNotFound):
			conn = memory.New()
			if !ch.EVM {
				log.Debug("no snapshot for %s, chain disabled", ch.Slug)
				active = false
			}
		default:
			return nil, harvesterr.Wrap(harvesterr.ErrConfigInvalid, "chain %s: %v", ch.Slug, err)
		}

		dir.Register(ch.Info, conn)
		if !active {
			_ = dir.SetActive(ch.Slug, false)
		}
		dir.RegisterAsset(chain.Asset{
			Slug:     ch.NativeTokenSlug(),
			Chain:    ch.Slug,
			Kind:     chain.AssetNative,
			Symbol:   ch.Symbol,
			Decimals: ch.Decimals,
		})
	}
	for _, a := range cfg.Assets {
		dir.RegisterAsset(a)
	}
	dir.MarkReady()
	return dir, nil
}

// poolSpecs converts the configured pool kinds.
func poolSpecs(cfg *config.Config) (map[chain.ID][]earningsvc.PoolSpec, error) {
	out := make(map[chain.ID][]earningsvc.PoolSpec, len(cfg.Chains))
	for _, ch := range cfg.Chains {
		for _, p := range ch.Pools {
			kind, err := core.ParseKind(p.Kind)
			if err != nil {
				names := make([]string, 0, len(core.AllKinds()))
				for _, k := range core.AllKinds() {
					names = append(names, string(k))
				}
				return nil, harvesterr.Suggest(
					harvesterr.Wrap(harvesterr.ErrConfigInvalid, "chain %s: unknown pool kind %q", ch.Slug, p.Kind),
					p.Kind, names)
			}
			out[ch.Slug] = append(out[ch.Slug], earningsvc.PoolSpec{
				Kind:            kind,
				InputAsset:      p.InputAsset,
				DerivativeAsset: p.DerivativeAsset,
			})
		}
	}
	return out, nil
}

func rateLimiter(cfg *config.Config) *chain.RateLimiter {
	if cfg.Metadata.RateLimit <= 0 || cfg.Metadata.Burst <= 0 {
		return chain.DefaultRateLimiter()
	}
	return chain.NewRateLimiter(cfg.Metadata.RateLimit, cfg.Metadata.Burst)
}

// loadPoolCache reads the cache file. Unreadable caches start empty.
func loadPoolCache(store *cache.FileStorage, log LogWriter) *cache.PoolCache {
	pc, err := store.Load()
	if err != nil {
		log.Error("pool cache: %v", err)
	}
	if pc == nil {
		pc = cache.NewPoolCache()
	}
	return pc
}

func buildEarning(cfg *config.Config, dir *chain.Directory, pc *cache.PoolCache, log LogWriter) (*earningsvc.Service, error) {
	pools, err := poolSpecs(cfg)
	if err != nil {
		return nil, err
	}

	svcCfg := &earningsvc.Config{
		Chains: dir,
		Assets: dir,
		Pools:  pools,
		Metadata: metadata.New(metadata.Options{
			DappsURL:      cfg.Metadata.DappsURL,
			IdentitiesURL: cfg.Metadata.IdentitiesURL,
			YieldsURL:     cfg.Metadata.YieldsURL,
			RateLimiter:   rateLimiter(cfg),
			Metrics:       metrics.Global,
		}),
		MetadataTimeout: cfg.MetadataTimeout(),
		Logger:          log,
		TargetsTTL:      cfg.TargetsTTL(),
		Metrics:         metrics.Global,
	}
	if pc != nil {
		svcCfg.Cache = pc
	}
	return earningsvc.NewService(svcCfg), nil
}

// buildSwap creates the configured providers in preference order.
func buildSwap(ctx context.Context, cfg *config.Config, dir *chain.Directory, log LogWriter) (*swapsvc.Service, error) {
	httpOpts := swap.HTTPOptions{
		RateLimiter: rateLimiter(cfg),
		Metrics:     metrics.Global,
	}

	providers := make([]swap.Provider, 0, len(cfg.Swap.Providers))
	for _, id := range cfg.Swap.Providers {
		pid := swap.ProviderID(id)
		switch pid {
		case swap.ProviderStellaswap, swap.ProviderStellaswapTestnet:
			p, err := newStellaswap(cfg, dir, httpOpts, log, pid == swap.ProviderStellaswapTestnet)
			if err != nil {
				return nil, err
			}
			providers = append(providers, p)
		case swap.ProviderChainflip, swap.ProviderChainflipTestnet:
			providers = append(providers, chainflip.New(chainflip.Options{
				Assets:       dir,
				Chains:       dir,
				Backends:     dialBackends(ctx, cfg, log),
				Testnet:      cfg.Swap.Testnet || pid == swap.ProviderChainflipTestnet,
				BaseURL:      cfg.Swap.ChainflipURL,
				HTTP:         httpOpts,
				QuoteTimeout: cfg.QuoteTimeout(),
				Logger:       log,
			}))
		default:
			return nil, harvesterr.Suggest(
				harvesterr.Wrap(harvesterr.ErrProviderNotFound, "%s", id), id, knownProviders)
		}
	}

	return swapsvc.NewService(&swapsvc.Config{
		Providers:    providers,
		QuoteTimeout: cfg.QuoteTimeout(),
		Logger:       log,
		Metrics:      metrics.Global,
	}), nil
}

func newStellaswap(cfg *config.Config, dir *chain.Directory, httpOpts swap.HTTPOptions, log LogWriter, testnet bool) (*stellaswap.Provider, error) {
	id := cfg.Swap.StellaswapChain
	info, ok := dir.Info(id)
	if !ok {
		return nil, harvesterr.Wrap(harvesterr.ErrConfigInvalid, "swap.stellaswap_chain: unknown chain %s", id)
	}
	if !info.EVM {
		return nil, harvesterr.Wrap(harvesterr.ErrConfigInvalid, "swap.stellaswap_chain: %s is not an EVM chain", id)
	}
	ch, _ := cfg.Chain(id)
	return stellaswap.New(stellaswap.Options{
		Chain:        info,
		Assets:       dir,
		Testnet:      cfg.Swap.Testnet || testnet,
		BaseURL:      cfg.Swap.StellaswapURL,
		RPCURL:       ch.EVMRPC,
		HTTP:         httpOpts,
		QuoteTimeout: cfg.QuoteTimeout(),
		Logger:       log,
	}), nil
}

// dialBackends connects every EVM chain that has an endpoint. Chains that
// fail to dial are skipped; quotes from them fail later with a clear error.
func dialBackends(ctx context.Context, cfg *config.Config, log LogWriter) map[chain.ID]evm.Backend {
	out := make(map[chain.ID]evm.Backend)
	for _, ch := range cfg.Chains {
		if !ch.EVM || ch.EVMRPC == "" {
			continue
		}
		client, err := evm.Dial(ctx, ch.EVMRPC)
		if err != nil {
			log.Error("dial %s: %v", ch.Slug, err)
			continue
		}
		out[ch.Slug] = client
	}
	return out
}
