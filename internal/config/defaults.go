package config

import (
	"time"

	"github.com/mrz1836/harvest/internal/chain"
)

// DefaultMoonbeamRPCURL is the default Moonbeam EVM endpoint.
// Uses PublicNode (Allnodes), a privacy-first provider that requires no API key.
const DefaultMoonbeamRPCURL = "https://moonbeam-rpc.publicnode.com"

// DefaultEthereumRPCURL is the default Ethereum RPC endpoint.
const DefaultEthereumRPCURL = "https://ethereum-rpc.publicnode.com"

// DefaultYieldsURL is the DefiLlama yields endpoint.
const DefaultYieldsURL = "https://yields.llama.fi/pools"

// Default swap provider preference.
//
//nolint:gochecknoglobals // Configuration default, same pattern as the URL constants
var DefaultProviders = []string{"STELLASWAP", "CHAIN_FLIP_MAINNET"}

func substrateChain(slug chain.ID, name, symbol string, decimals int, prefix uint16, block time.Duration, pools ...PoolConfig) ChainConfig {
	return ChainConfig{
		Info: chain.Info{
			Slug:       slug,
			Name:       name,
			SS58Prefix: prefix,
			Symbol:     symbol,
			Decimals:   decimals,
			BlockTime:  block,
		},
		Active: true,
		Pools:  pools,
	}
}

// Defaults returns the default configuration.
func Defaults() *Config {
	return &Config{
		Version: 1,
		Home:    "~/.harvest",
		Chains: []ChainConfig{
			substrateChain(chain.Polkadot, "Polkadot", "DOT", 10, 0, 6*time.Second,
				PoolConfig{Kind: "relaychain"}, PoolConfig{Kind: "nominationpool"}),
			substrateChain(chain.Kusama, "Kusama", "KSM", 12, 2, 6*time.Second,
				PoolConfig{Kind: "relaychain"}, PoolConfig{Kind: "nominationpool"}),
			substrateChain(chain.Astar, "Astar", "ASTR", 18, 5, 12*time.Second,
				PoolConfig{Kind: "dappstaking"}),
			substrateChain(chain.Amplitude, "Amplitude", "AMPE", 12, 57, 12*time.Second,
				PoolConfig{Kind: "parachain"}),
			substrateChain(chain.Bifrost, "Bifrost Polkadot", "BNC", 12, 6, 12*time.Second,
				PoolConfig{Kind: "liquidstaking", InputAsset: "bifrost_dot-LOCAL-DOT", DerivativeAsset: "bifrost_dot-LOCAL-vDOT"}),
			substrateChain(chain.Interlay, "Interlay", "INTR", 10, 2032, 12*time.Second,
				PoolConfig{Kind: "lending", InputAsset: "interlay-LOCAL-DOT", DerivativeAsset: "interlay-LOCAL-qDOT"}),
			{
				Info: chain.Info{
					Slug:       chain.Moonbeam,
					Name:       "Moonbeam",
					EVM:        true,
					EVMChainID: 1284,
					Symbol:     "GLMR",
					Decimals:   18,
					BlockTime:  12 * time.Second,
				},
				Active: true,
				EVMRPC: DefaultMoonbeamRPCURL,
			},
			{
				Info: chain.Info{
					Slug:       chain.Ethereum,
					Name:       "Ethereum",
					EVM:        true,
					EVMChainID: 1,
					Symbol:     "ETH",
					Decimals:   18,
					BlockTime:  12 * time.Second,
				},
				Active: true,
				EVMRPC: DefaultEthereumRPCURL,
			},
		},
		Assets: []chain.Asset{
			{Slug: "bifrost_dot-LOCAL-DOT", Chain: chain.Bifrost, Kind: chain.AssetLocal, Symbol: "DOT", Decimals: 10, AssetID: `{"Token2":0}`},
			{Slug: "bifrost_dot-LOCAL-vDOT", Chain: chain.Bifrost, Kind: chain.AssetLocal, Symbol: "vDOT", Decimals: 10, AssetID: `{"VToken2":0}`},
			{Slug: "interlay-LOCAL-DOT", Chain: chain.Interlay, Kind: chain.AssetLocal, Symbol: "DOT", Decimals: 10, AssetID: `{"Token":"DOT"}`},
			{Slug: "interlay-LOCAL-qDOT", Chain: chain.Interlay, Kind: chain.AssetLocal, Symbol: "qDOT", Decimals: 10, AssetID: `{"LendToken":1}`},
			{Slug: "moonbeam-ERC20-USDC", Chain: chain.Moonbeam, Kind: chain.AssetERC20, Symbol: "USDC", Decimals: 6, ContractAddress: "0x931715FEE2d06333043d11F658C8CE934aC61D0c"},
			{Slug: "ethereum-ERC20-USDC", Chain: chain.Ethereum, Kind: chain.AssetERC20, Symbol: "USDC", Decimals: 6, ContractAddress: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"},
		},
		Metadata: MetadataConfig{
			YieldsURL:     DefaultYieldsURL,
			TimeoutMillis: 3000,
			RateLimit:     5,
			Burst:         10,
		},
		Swap: SwapConfig{
			Providers:           DefaultProviders,
			QuoteTimeoutSeconds: 90,
			StellaswapChain:     chain.Moonbeam,
			DefaultSlippage:     0.01,
		},
		Cache: CacheConfig{
			Enabled:           true,
			Path:              "cache.json",
			TargetsTTLMinutes: 5,
		},
		Output: OutputConfig{
			DefaultFormat: "auto",
			Color:         "auto",
			Verbose:       false,
		},
		Logging: LoggingConfig{
			Level: "error",
			File:  "~/.harvest/harvest.log",
		},
	}
}
