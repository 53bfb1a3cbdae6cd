// Package chain provides the chain description types, the ChainApi facade
// consumed by the earning and swap engines, and common utilities.
package chain

import (
	"strings"
	"time"
)

// ID is a chain slug such as "polkadot" or "astar".
type ID string

// String returns the chain slug.
func (id ID) String() string {
	return string(id)
}

// Well-known chain slugs.
const (
	Polkadot  ID = "polkadot"
	Kusama    ID = "kusama"
	Astar     ID = "astar"
	Shiden    ID = "shiden"
	Amplitude ID = "amplitude"
	Pendulum  ID = "pendulum"
	Kilt      ID = "kilt"
	Bifrost   ID = "bifrost_dot"
	Interlay  ID = "interlay"
	Moonbeam  ID = "moonbeam"
	Moonbase  ID = "moonbase"
	Ethereum  ID = "ethereum"
)

// DefaultBlockTime is used when a chain does not declare one.
const DefaultBlockTime = 6 * time.Second

// Info describes one chain the engine talks to.
type Info struct {
	Slug        ID            `json:"slug" yaml:"slug"`
	Name        string        `json:"name" yaml:"name"`
	EVM         bool          `json:"evm" yaml:"evm"`
	EVMChainID  int64         `json:"evmChainId,omitempty" yaml:"evm_chain_id,omitempty"`
	SS58Prefix  uint16        `json:"ss58Prefix" yaml:"ss58_prefix"`
	NativeToken string        `json:"nativeToken" yaml:"native_token"`
	Symbol      string        `json:"symbol" yaml:"symbol"`
	Decimals    int           `json:"decimals" yaml:"decimals"`
	BlockTime   time.Duration `json:"blockTime" yaml:"block_time"`
	Group       string        `json:"group,omitempty" yaml:"group,omitempty"`
}

// BlockDuration returns the configured block time or the default.
func (i Info) BlockDuration() time.Duration {
	if i.BlockTime <= 0 {
		return DefaultBlockTime
	}
	return i.BlockTime
}

// NativeTokenSlug returns the slug of the chain's native asset.
func (i Info) NativeTokenSlug() string {
	if i.NativeToken != "" {
		return i.NativeToken
	}
	return NativeAssetSlug(i.Slug, i.Symbol)
}

// NativeAssetSlug builds the canonical native asset slug "<chain>-NATIVE-<SYMBOL>".
func NativeAssetSlug(chain ID, symbol string) string {
	return string(chain) + "-NATIVE-" + strings.ToUpper(symbol)
}

// AssetKind classifies a token.
type AssetKind string

// Asset kinds.
const (
	AssetNative AssetKind = "NATIVE"
	AssetERC20  AssetKind = "ERC20"
	AssetLocal  AssetKind = "LOCAL"
)

// Asset describes a token on a chain.
type Asset struct {
	Slug            string    `json:"slug" yaml:"slug"`
	Chain           ID        `json:"chain" yaml:"chain"`
	Kind            AssetKind `json:"kind" yaml:"kind"`
	Symbol          string    `json:"symbol" yaml:"symbol"`
	Decimals        int       `json:"decimals" yaml:"decimals"`
	ContractAddress string    `json:"contractAddress,omitempty" yaml:"contract_address,omitempty"`
	AssetID         string    `json:"assetId,omitempty" yaml:"asset_id,omitempty"`
}

// IsNative reports whether the asset is the chain's native token.
func (a Asset) IsNative() bool {
	return a.Kind == AssetNative
}

// IsSmartContract reports whether the asset is a contract token.
func (a Asset) IsSmartContract() bool {
	return a.Kind == AssetERC20
}
