// Package config provides configuration management for Harvest.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mrz1836/harvest/internal/chain"
	"github.com/mrz1836/harvest/internal/fileutil"
	harvesterr "github.com/mrz1836/harvest/pkg/errors"
)

// Config represents the application configuration.
type Config struct {
	Version  int            `yaml:"version"`
	Home     string         `yaml:"home"`
	Chains   []ChainConfig  `yaml:"chains"`
	Assets   []chain.Asset  `yaml:"assets"`
	Metadata MetadataConfig `yaml:"metadata"`
	Swap     SwapConfig     `yaml:"swap"`
	Cache    CacheConfig    `yaml:"cache"`
	Output   OutputConfig   `yaml:"output"`
	Logging  LoggingConfig  `yaml:"logging"`

	// Warnings collects non-fatal problems found while applying overrides.
	Warnings []string `yaml:"-"`
}

// ChainConfig describes one chain, the state snapshot that backs it and the
// pools served on it.
type ChainConfig struct {
	chain.Info `yaml:",inline"`

	Active   bool         `yaml:"active"`
	Snapshot string       `yaml:"snapshot,omitempty"`
	EVMRPC   string       `yaml:"evm_rpc,omitempty"`
	Pools    []PoolConfig `yaml:"pools,omitempty"`
}

// PoolConfig selects a pool kind on a chain. Asset slugs are optional and
// default to the chain's native token.
type PoolConfig struct {
	Kind            string `yaml:"kind"`
	InputAsset      string `yaml:"input_asset,omitempty"`
	DerivativeAsset string `yaml:"derivative_asset,omitempty"`
}

// MetadataConfig defines the off-chain overlay endpoints.
type MetadataConfig struct {
	DappsURL      string  `yaml:"dapps_url"`
	IdentitiesURL string  `yaml:"identities_url"`
	YieldsURL     string  `yaml:"yields_url"`
	TimeoutMillis int     `yaml:"timeout_ms"`
	RateLimit     float64 `yaml:"rate_limit"`
	Burst         int     `yaml:"burst"`
}

// SwapConfig defines swap provider settings.
type SwapConfig struct {
	// Providers lists provider ids in preference order.
	Providers           []string `yaml:"providers"`
	QuoteTimeoutSeconds int      `yaml:"quote_timeout_seconds"`
	Testnet             bool     `yaml:"testnet"`
	StellaswapURL       string   `yaml:"stellaswap_url,omitempty"`
	StellaswapChain     chain.ID `yaml:"stellaswap_chain"`
	ChainflipURL        string   `yaml:"chainflip_url,omitempty"`
	DefaultSlippage     float64  `yaml:"default_slippage"`
}

// CacheConfig defines the pool snapshot cache.
type CacheConfig struct {
	Enabled           bool   `yaml:"enabled"`
	Path              string `yaml:"path"`
	TargetsTTLMinutes int    `yaml:"targets_ttl_minutes"`
}

// OutputConfig defines output formatting settings.
type OutputConfig struct {
	DefaultFormat string `yaml:"default_format"`
	Color         string `yaml:"color"`
	Verbose       bool   `yaml:"verbose"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
	JSON  bool   `yaml:"json"`
}

// Load reads configuration from the specified file.
func Load(path string) (*Config, error) {
	// #nosec G304 -- config file path is from validated user input
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, harvesterr.Wrap(harvesterr.ErrConfigNotFound, "%s", path)
		}
		return nil, err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, harvesterr.Wrap(harvesterr.ErrConfigInvalid, "parsing %s: %v", path, err)
	}

	return cfg, nil
}

// Save writes configuration to the specified file.
func Save(cfg *Config, path string) error {
	return fileutil.Replace(path, 0o600, func(w io.Writer) error {
		enc := yaml.NewEncoder(w)
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("encode config: %w", err)
		}
		return enc.Close()
	})
}

// Path returns the default config file path.
func Path(home string) string {
	return filepath.Join(home, "config.yaml")
}

// Validate checks the cross-field rules yaml decoding cannot express.
func (c *Config) Validate() error {
	seen := make(map[chain.ID]struct{}, len(c.Chains))
	for i, ch := range c.Chains {
		if ch.Slug == "" {
			return harvesterr.Wrap(harvesterr.ErrConfigInvalid, "chains[%d]: slug is required", i)
		}
		if _, dup := seen[ch.Slug]; dup {
			return harvesterr.Wrap(harvesterr.ErrConfigInvalid, "chains[%d]: duplicate slug %s", i, ch.Slug)
		}
		seen[ch.Slug] = struct{}{}
		if err := ValidateURL(ch.EVMRPC); err != nil && !errors.Is(err, ErrInsecureURL) {
			return harvesterr.Wrap(harvesterr.ErrConfigInvalid, "chains[%d].evm_rpc: %v", i, err)
		}
	}
	for i, a := range c.Assets {
		if _, ok := seen[a.Chain]; !ok {
			return harvesterr.Wrap(harvesterr.ErrConfigInvalid, "assets[%d]: unknown chain %s", i, a.Chain)
		}
	}
	for name, u := range map[string]string{
		"metadata.dapps_url":      c.Metadata.DappsURL,
		"metadata.identities_url": c.Metadata.IdentitiesURL,
		"metadata.yields_url":     c.Metadata.YieldsURL,
		"swap.stellaswap_url":     c.Swap.StellaswapURL,
		"swap.chainflip_url":      c.Swap.ChainflipURL,
	} {
		if err := ValidateURL(u); err != nil && !errors.Is(err, ErrInsecureURL) {
			return harvesterr.Wrap(harvesterr.ErrConfigInvalid, "%s: %v", name, err)
		}
	}
	if c.Swap.DefaultSlippage < 0 || c.Swap.DefaultSlippage >= 1 {
		return harvesterr.Wrap(harvesterr.ErrConfigInvalid, "swap.default_slippage must be in [0, 1)")
	}
	return nil
}

// Chain returns the configuration of one chain.
func (c *Config) Chain(id chain.ID) (ChainConfig, bool) {
	for _, ch := range c.Chains {
		if ch.Slug == id {
			return ch, true
		}
	}
	return ChainConfig{}, false
}

// GetHome returns the harvest home directory path with ~ expanded.
func (c *Config) GetHome() string {
	return ExpandHome(c.Home)
}

// SnapshotPath returns the snapshot file of a chain, relative paths resolved
// against the home directory.
func (c *Config) SnapshotPath(ch ChainConfig) string {
	path := ch.Snapshot
	if path == "" {
		path = filepath.Join("snapshots", string(ch.Slug)+".json")
	}
	path = ExpandHome(path)
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.GetHome(), path)
}

// MetadataTimeout returns the overlay timeout.
func (c *Config) MetadataTimeout() time.Duration {
	return time.Duration(c.Metadata.TimeoutMillis) * time.Millisecond
}

// QuoteTimeout returns the swap quote lifetime.
func (c *Config) QuoteTimeout() time.Duration {
	return time.Duration(c.Swap.QuoteTimeoutSeconds) * time.Second
}

// TargetsTTL returns how long pool targets stay cached.
func (c *Config) TargetsTTL() time.Duration {
	return time.Duration(c.Cache.TargetsTTLMinutes) * time.Minute
}

// CachePath returns the cache file path.
func (c *Config) CachePath() string {
	path := ExpandHome(c.Cache.Path)
	if path == "" {
		path = "cache.json"
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.GetHome(), path)
}

// GetLoggingLevel returns the configured logging level.
func (c *Config) GetLoggingLevel() string {
	return c.Logging.Level
}

// GetLoggingFile returns the configured log file path.
func (c *Config) GetLoggingFile() string {
	return c.Logging.File
}

// GetOutputFormat returns the default output format.
func (c *Config) GetOutputFormat() string {
	return c.Output.DefaultFormat
}

// IsVerbose returns true if verbose output is enabled.
func (c *Config) IsVerbose() bool {
	return c.Output.Verbose
}

// DefaultHome returns the default harvest home directory.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".harvest"
	}
	return filepath.Join(home, ".harvest")
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// String renders the configuration as YAML.
func (c *Config) String() string {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(data)
}
