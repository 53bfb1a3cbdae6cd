package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mrz1836/harvest/internal/chain"
	"github.com/mrz1836/harvest/internal/config"
	"github.com/mrz1836/harvest/internal/output"
	harvesterr "github.com/mrz1836/harvest/pkg/errors"
)

// configCmd is the parent command for configuration operations.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View and modify Harvest configuration settings.`,
}

// configInitCmd initializes the configuration.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	Long: `Create a default configuration file at ~/.harvest/config.yaml.

If a configuration file already exists, this command will not overwrite it
unless --force is specified.`,
	Example: `  harvest config init
  harvest config init --force`,
	RunE: runConfigInit,
}

// configShowCmd shows the current configuration.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Display the effective configuration, environment overrides included.`,
	Example: `  harvest config show
  harvest config show -o json`,
	RunE: runConfigShow,
}

// configGetCmd gets a specific configuration value.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configGetCmd = &cobra.Command{
	Use:   "get <path>",
	Short: "Get a configuration value",
	Long: `Get a specific configuration value by its path.

The path uses dot notation to navigate the configuration tree.`,
	Example: `  harvest config get swap.testnet
  harvest config get chains.moonbeam.evm_rpc
  harvest config get logging.level`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigGet,
}

// configSetCmd sets a configuration value.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configSetCmd = &cobra.Command{
	Use:   "set <path> <value>",
	Short: "Set a configuration value",
	Long: `Set a specific configuration value by its path.

The path uses dot notation to navigate the configuration tree.
The configuration file will be updated immediately.`,
	Example: `  harvest config set chains.moonbeam.evm_rpc https://rpc.api.moonbeam.network
  harvest config set chains.kusama.active false
  harvest config set swap.default_slippage 0.005`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var configForce bool

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	configCmd.GroupID = groupConfig
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)

	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite existing configuration")
	configGetCmd.ValidArgsFunction = completeConfigPath
	configSetCmd.ValidArgsFunction = completeConfigPath

}

// activeConfigPath is where init and set write.
func activeConfigPath(c *config.Config) string {
	if configFile != "" {
		return configFile
	}
	return config.Path(c.GetHome())
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	cc := GetCmdContext(cmd)
	configPath := activeConfigPath(cc.Cfg)

	// Check if config already exists
	if _, err := os.Stat(configPath); err == nil && !configForce {
		return harvesterr.WithSuggestion(
			harvesterr.ErrGeneral,
			fmt.Sprintf("configuration already exists at %s. Use --force to overwrite.", configPath),
		)
	}

	// Ensure directory exists
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(cc.Cfg.GetHome(), "snapshots"), 0o750); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}

	// Create default config
	defaultCfg := config.Defaults()
	defaultCfg.Home = cc.Cfg.Home

	// Write config file
	if err := config.Save(defaultCfg, configPath); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	w := cmd.OutOrStdout()
	out(w, "Configuration initialized at %s\n", configPath)
	outln(w)
	outln(w, "Edit this file to configure:")
	outln(w, "  - chains[].snapshot: Chain state snapshot (default: snapshots/<slug>.json)")
	outln(w, "  - chains[].evm_rpc: EVM JSON-RPC endpoint for swaps")
	outln(w, "  - metadata.dapps_url: dApp directory used by dapp staking")
	outln(w, "  - swap.providers: Swap providers in preference order")
	outln(w, "  - logging.level: Log level (off/error/debug)")

	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cc := GetCmdContext(cmd)
	w := cmd.OutOrStdout()

	if cc.format() == output.FormatJSON {
		return displayConfigJSON(w, cc.Cfg)
	}

	return displayConfigText(w, cc.Cfg)
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	path := args[0]

	value, err := getConfigValue(GetCmdContext(cmd).Cfg, path)
	if err != nil {
		return withPathSuggestion(err, path)
	}

	outln(cmd.OutOrStdout(), value)
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	path := args[0]
	value := args[1]
	cc := GetCmdContext(cmd)

	// Validate the path exists
	if _, err := getConfigValue(cc.Cfg, path); err != nil {
		return withPathSuggestion(err, path)
	}

	// Load current config from file so environment overrides are not persisted
	configPath := activeConfigPath(cc.Cfg)
	currentCfg, err := config.Load(configPath)
	if err != nil {
		currentCfg = config.Defaults()
		currentCfg.Home = cc.Cfg.Home
	}

	if err := setConfigValue(currentCfg, path, value); err != nil {
		return err
	}
	if err := currentCfg.Validate(); err != nil {
		return err
	}

	if err := config.Save(currentCfg, configPath); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	out(cmd.OutOrStdout(), "Set %s = %s\n", path, value)
	return nil
}

// withPathSuggestion keeps a more specific suggestion already on err.
func withPathSuggestion(err error, path string) error {
	var he *harvesterr.HarvestError
	if errors.As(err, &he) && he.Suggestion != "" {
		return err
	}
	return harvesterr.WithSuggestion(err, fmt.Sprintf("configuration path '%s' not found", path))
}

func unknownKey(details map[string]string) error {
	return harvesterr.WithDetails(harvesterr.ErrUnknownConfigKey, details)
}

func invalidValue(value, valid string) error {
	return harvesterr.WithDetails(harvesterr.ErrInvalidInput, map[string]string{"value": value, "valid": valid})
}

// getConfigValue retrieves a value from the config using dot notation.
func getConfigValue(c *config.Config, path string) (string, error) {
	parts := strings.Split(path, ".")

	switch len(parts) {
	case 1:
		if parts[0] == "home" {
			return c.Home, nil
		}
		return "", unknownKey(map[string]string{"key": parts[0]})
	case 2:
		return getSectionValue(c, parts[0], parts[1])
	case 3:
		if parts[0] != "chains" {
			return "", unknownKey(map[string]string{"section": parts[0]})
		}
		return getChainValue(c, parts[1], parts[2])
	default:
		return "", unknownKey(map[string]string{"path": path})
	}
}

// sectionValues renders every scalar section of c keyed by section and key.
func sectionValues(c *config.Config) map[string]map[string]string {
	return map[string]map[string]string{
		"output": {
			"default_format": c.Output.DefaultFormat,
			"verbose":        strconv.FormatBool(c.Output.Verbose),
			"color":          c.Output.Color,
		},
		"logging": {
			"level": c.Logging.Level,
			"file":  c.Logging.File,
			"json":  strconv.FormatBool(c.Logging.JSON),
		},
		"metadata": {
			"dapps_url":      c.Metadata.DappsURL,
			"identities_url": c.Metadata.IdentitiesURL,
			"yields_url":     c.Metadata.YieldsURL,
			"timeout_ms":     strconv.Itoa(c.Metadata.TimeoutMillis),
		},
		"swap": {
			"testnet":               strconv.FormatBool(c.Swap.Testnet),
			"default_slippage":      strconv.FormatFloat(c.Swap.DefaultSlippage, 'f', -1, 64),
			"quote_timeout_seconds": strconv.Itoa(c.Swap.QuoteTimeoutSeconds),
			"providers":             strings.Join(c.Swap.Providers, ","),
		},
		"cache": {
			"enabled":             strconv.FormatBool(c.Cache.Enabled),
			"path":                c.Cache.Path,
			"targets_ttl_minutes": strconv.Itoa(c.Cache.TargetsTTLMinutes),
		},
	}
}

// chainKeys are the keys of every chains.<slug> entry.
var chainKeys = []string{"active", "snapshot", "evm_rpc"} //nolint:gochecknoglobals // read-only table

func getSectionValue(c *config.Config, section, key string) (string, error) {
	keys, ok := sectionValues(c)[section]
	if !ok {
		return "", unknownKey(map[string]string{"section": section})
	}
	v, ok := keys[key]
	if !ok {
		return "", unknownKey(map[string]string{"section": section, "key": key})
	}
	return v, nil
}

func chainIndex(c *config.Config, slug string) (int, error) {
	for i, ch := range c.Chains {
		if string(ch.Slug) == slug {
			return i, nil
		}
	}
	slugs := make([]string, 0, len(c.Chains))
	for _, ch := range c.Chains {
		slugs = append(slugs, string(ch.Slug))
	}
	return -1, harvesterr.Suggest(unknownKey(map[string]string{"chain": slug}), slug, slugs)
}

func getChainValue(c *config.Config, slug, key string) (string, error) {
	i, err := chainIndex(c, slug)
	if err != nil {
		return "", err
	}
	ch := c.Chains[i]
	switch key {
	case "active":
		return strconv.FormatBool(ch.Active), nil
	case "snapshot":
		return c.SnapshotPath(ch), nil
	case "evm_rpc":
		return ch.EVMRPC, nil
	default:
		return "", unknownKey(map[string]string{"section": "chains." + slug, "key": key})
	}
}

// setConfigValue sets a value in the config using dot notation.
func setConfigValue(c *config.Config, path, value string) error {
	parts := strings.Split(path, ".")

	switch {
	case len(parts) == 1 && parts[0] == "home":
		c.Home = value
		return nil
	case len(parts) == 2:
		return setSectionValue(c, parts[0], parts[1], value)
	case len(parts) == 3 && parts[0] == "chains":
		return setChainValue(c, parts[1], parts[2], value)
	default:
		return unknownKey(map[string]string{"path": path})
	}
}

//nolint:gocyclo // one case per settable key
func setSectionValue(c *config.Config, section, key, value string) error {
	switch section + "." + key {
	case "output.default_format":
		if value != "text" && value != "json" && value != "auto" {
			return invalidValue(value, "text, json, or auto")
		}
		c.Output.DefaultFormat = value
	case "output.verbose":
		c.Output.Verbose = value == "true"
	case "output.color":
		if value != "auto" && value != "always" && value != "never" {
			return invalidValue(value, "auto, always, or never")
		}
		c.Output.Color = value
	case "logging.level":
		if value != "off" && value != "error" && value != "debug" {
			return invalidValue(value, "off, error, or debug")
		}
		c.Logging.Level = value
	case "logging.file":
		c.Logging.File = value
	case "logging.json":
		c.Logging.JSON = value == "true"
	case "metadata.dapps_url":
		c.Metadata.DappsURL = config.SanitizeURL(value)
	case "metadata.identities_url":
		c.Metadata.IdentitiesURL = config.SanitizeURL(value)
	case "metadata.yields_url":
		c.Metadata.YieldsURL = config.SanitizeURL(value)
	case "metadata.timeout_ms":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return invalidValue(value, "a positive number of milliseconds")
		}
		c.Metadata.TimeoutMillis = n
	case "swap.testnet":
		c.Swap.Testnet = value == "true"
	case "swap.default_slippage":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return invalidValue(value, "a fraction such as 0.01")
		}
		c.Swap.DefaultSlippage = f
	case "swap.quote_timeout_seconds":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return invalidValue(value, "a positive number of seconds")
		}
		c.Swap.QuoteTimeoutSeconds = n
	case "swap.providers":
		c.Swap.Providers = splitList(value)
	case "cache.enabled":
		c.Cache.Enabled = value == "true"
	case "cache.path":
		c.Cache.Path = value
	case "cache.targets_ttl_minutes":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return invalidValue(value, "a positive number of minutes")
		}
		c.Cache.TargetsTTLMinutes = n
	default:
		return unknownKey(map[string]string{"section": section, "key": key})
	}
	return nil
}

func setChainValue(c *config.Config, slug, key, value string) error {
	i, err := chainIndex(c, slug)
	if err != nil {
		return err
	}
	switch key {
	case "active":
		c.Chains[i].Active = value == "true"
	case "snapshot":
		c.Chains[i].Snapshot = value
	case "evm_rpc":
		c.Chains[i].EVMRPC = config.SanitizeURL(value)
	default:
		return unknownKey(map[string]string{"section": "chains." + slug, "key": key})
	}
	return nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// displayConfigText shows the config in text format.
func displayConfigText(w io.Writer, c *config.Config) error {
	outln(w, "Configuration:")
	outln(w)
	out(w, "  Home: %s\n", c.Home)
	outln(w)
	outln(w, "  Chains:")
	table := output.NewTable("SLUG", "KIND", "ACTIVE", "POOLS", "SOURCE")
	for _, ch := range c.Chains {
		kind := string(chain.AccountKindOf(ch.Info))
		pools := make([]string, 0, len(ch.Pools))
		for _, p := range ch.Pools {
			pools = append(pools, p.Kind)
		}
		source := c.SnapshotPath(ch)
		if ch.EVM {
			source = orNotConfigured(ch.EVMRPC)
		}
		table.AddRow(string(ch.Slug), kind, strconv.FormatBool(ch.Active), strings.Join(pools, ","), source)
	}
	if err := table.Render(w); err != nil {
		return err
	}
	outln(w)
	outln(w, "  Metadata:")
	out(w, "    dapps_url: %s\n", orNotConfigured(c.Metadata.DappsURL))
	out(w, "    identities_url: %s\n", orNotConfigured(c.Metadata.IdentitiesURL))
	out(w, "    yields_url: %s\n", orNotConfigured(c.Metadata.YieldsURL))
	out(w, "    timeout: %s\n", c.MetadataTimeout())
	outln(w)
	outln(w, "  Swap:")
	out(w, "    providers: %s\n", strings.Join(c.Swap.Providers, ", "))
	out(w, "    testnet: %t\n", c.Swap.Testnet)
	out(w, "    quote_timeout: %s\n", c.QuoteTimeout())
	out(w, "    default_slippage: %s\n", strconv.FormatFloat(c.Swap.DefaultSlippage, 'f', -1, 64))
	outln(w)
	outln(w, "  Cache:")
	out(w, "    enabled: %t\n", c.Cache.Enabled)
	out(w, "    path: %s\n", c.CachePath())
	outln(w)
	outln(w, "  Output:")
	out(w, "    default_format: %s\n", c.Output.DefaultFormat)
	out(w, "    verbose: %t\n", c.Output.Verbose)
	out(w, "    color: %s\n", c.Output.Color)
	outln(w)
	outln(w, "  Logging:")
	out(w, "    level: %s\n", c.Logging.Level)
	out(w, "    file: %s\n", c.Logging.File)

	return nil
}

// displayConfigJSON shows the config in JSON format with the yaml key names.
func displayConfigJSON(w io.Writer, c *config.Config) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return err
	}
	if len(c.Warnings) > 0 {
		tree["warnings"] = c.Warnings
	}
	return output.WriteJSON(w, tree)
}

func orNotConfigured(s string) string {
	if s == "" {
		return "(not configured)"
	}
	return s
}
