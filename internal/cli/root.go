// Package cli implements the Harvest command-line interface.
//
// This package uses global variables to manage CLI state, which is the standard
// pattern for Cobra-based CLI applications. The globals are initialized in
// PersistentPreRunE and cleaned up in PersistentPostRun.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level state
package cli

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrz1836/harvest/internal/config"
	"github.com/mrz1836/harvest/internal/output"
	harvesterr "github.com/mrz1836/harvest/pkg/errors"
)

var (
	// Global flags
	homeDir      string
	configFile   string
	outputFormat string
	verbose      bool
	readTimeout  time.Duration

	// Global state initialized in PersistentPreRunE
	cfg       *config.Config
	logger    *config.Logger
	formatter *output.Formatter
)

// Command groups for root help output.
const (
	groupEarning = "earning"
	groupSwap    = "swap"
	groupConfig  = "config"
)

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Staking and swap engine for Polkadot-ecosystem chains",
	Long: `Harvest aggregates staking pools across Substrate and EVM chains and
quotes cross-provider token swaps.

It reads chain state from snapshots, tracks pool statistics, positions and
rewards for any set of addresses, and builds the unsigned transactions that
join, leave or claim from a pool.`,
	Example: `  harvest pools --chain polkadot
  harvest positions 15oF4uVJwmo4TdGW7VfQxNLavjCXviqxT9S1MgbjMNHr6Sp5
  harvest join build DOT___native_staking___polkadot --address 15oF... --amount 10 --target 1zugca...
  harvest swap quote --from polkadot-NATIVE-DOT --to ethereum-NATIVE-ETH --amount 5 --address 15oF...`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := initGlobals(); err != nil {
			return err
		}
		if GetCmdContext(cmd) == nil {
			SetCmdContext(cmd, NewCommandContext(cfg, logger, formatter))
		}
		logSettings(cfg, logger, formatter)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, _ []string) {
		cleanup(cmd)
	},
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	indexCommandTree(rootCmd)
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		var reported reportedError
		if errors.As(err, &reported) {
			return err
		}
		// Format and print error
		if formatter != nil {
			_ = output.FormatError(os.Stderr, err, formatter.Format())
		} else {
			_ = output.FormatError(os.Stderr, err, output.FormatText)
		}
		return err
	}
	return nil
}

// ExitCode returns the appropriate exit code for an error.
func ExitCode(err error) int {
	return harvesterr.ExitCode(err)
}

// initGlobals initializes global configuration, logger, and formatter.
func initGlobals() error {
	// Determine home directory
	home := homeDir
	if home == "" {
		home = os.Getenv(config.EnvHome)
	}
	if home == "" {
		home = config.DefaultHome()
	}

	path := configFile
	if path == "" {
		path = config.Path(home)
	}

	// Load or create config
	var err error
	cfg, err = config.Load(path)
	switch {
	case err == nil:
	case harvesterr.Code(err) == harvesterr.ErrConfigNotFound.Code && configFile == "":
		// Use defaults if config doesn't exist
		cfg = config.Defaults()
		cfg.Home = home
	default:
		return err
	}

	// Apply environment variable overrides
	config.ApplyEnvironment(cfg)

	// Override with command-line flags
	if homeDir != "" {
		cfg.Home = homeDir
	}
	if verbose {
		cfg.Output.Verbose = true
		cfg.Logging.Level = "debug"
	}
	if outputFormat != "" && outputFormat != "auto" {
		cfg.Output.DefaultFormat = outputFormat
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	// Initialize logger
	logger, err = config.NewLogger(cfg.Logging)
	logErr := err
	if err != nil {
		logger = config.NullLogger()
	}

	// Initialize formatter
	explicitFormat := output.ParseFormat(cfg.Output.DefaultFormat)
	detectedFormat := output.DetectFormat(os.Stdout, explicitFormat)
	formatter = output.NewFormatter(detectedFormat, os.Stderr)
	for _, w := range cfg.Warnings {
		formatter.Warn(w)
	}
	if logErr != nil {
		formatter.Warnf("logging disabled: %v", logErr)
	}

	return nil
}

// logSettings records the effective settings at debug level.
func logSettings(c ConfigProvider, log LogWriter, f FormatProvider) {
	log.Debug("home=%s level=%s log_file=%s format=%s (configured %s) verbose=%t",
		c.GetHome(), c.GetLoggingLevel(), c.GetLoggingFile(), f.Format(), c.GetOutputFormat(), c.IsVerbose())
}

// cleanup releases resources.
func cleanup(cmd *cobra.Command) {
	if cc := GetCmdContext(cmd); cc != nil {
		cc.Close()
	}
	if logger != nil {
		_ = logger.Close()
	}
}

// Config returns the global configuration.
func Config() *config.Config {
	return cfg
}

// Logger returns the global logger.
func Logger() *config.Logger {
	return logger
}

// Formatter returns the global output formatter.
func Formatter() *output.Formatter {
	return formatter
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for flag registration
func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: groupEarning, Title: "Staking:"},
		&cobra.Group{ID: groupSwap, Title: "Swaps:"},
		&cobra.Group{ID: groupConfig, Title: "Configuration:"},
	)
	rootCmd.SetHelpCommandGroupID(groupConfig)
	rootCmd.SetCompletionCommandGroupID(groupConfig)

	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "harvest data directory (default: ~/.harvest)")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: <home>/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "auto", "output format: text, json, auto")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().DurationVar(&readTimeout, "read-timeout", 0, "deadline for chain and provider reads (default: per command)")
}
