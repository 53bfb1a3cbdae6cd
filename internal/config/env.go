package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/mrz1836/go-sanitize"
)

// Environment variable names.
const (
	EnvHome            = "HARVEST_HOME"
	EnvOutputFormat    = "HARVEST_OUTPUT_FORMAT"
	EnvVerbose         = "HARVEST_VERBOSE"
	EnvLogLevel        = "HARVEST_LOG_LEVEL"
	EnvMetadataTimeout = "HARVEST_METADATA_TIMEOUT"
	EnvDappAPIURL      = "HARVEST_DAPP_API_URL"
	EnvYieldsAPIURL    = "HARVEST_YIELDS_API_URL"
	EnvQuoteTimeout    = "HARVEST_QUOTE_TIMEOUT"
	EnvNoColor         = "NO_COLOR"

	// HARVEST_<CHAIN>_EVM_RPC with the upper-cased chain slug.
	envEVMRPCPrefix = "HARVEST_"
	envEVMRPCSuffix = "_EVM_RPC"
)

// URL validation errors.
var (
	ErrUnsupportedScheme = errors.New("url scheme must be http, https, ws or wss")
	ErrMissingHost       = errors.New("url has no host")
	ErrInsecureURL       = errors.New("plain http or ws is only allowed for localhost")
)

// EVMRPCEnv returns the override variable for a chain's EVM endpoint.
func EVMRPCEnv(slug string) string {
	return envEVMRPCPrefix + strings.ToUpper(slug) + envEVMRPCSuffix
}

// ApplyEnvironment applies environment variable overrides to the configuration.
//
//nolint:gocognit,gocyclo // Environment variable overrides require sequential checks
func ApplyEnvironment(cfg *Config) {
	if v := os.Getenv(EnvHome); v != "" {
		cfg.Home = v
	}

	if v := os.Getenv(EnvOutputFormat); v != "" {
		cfg.Output.DefaultFormat = strings.ToLower(v)
	}

	if v := os.Getenv(EnvVerbose); v != "" {
		cfg.Output.Verbose = parseBool(v)
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}

	// NO_COLOR disables colored output
	if _, ok := os.LookupEnv(EnvNoColor); ok {
		cfg.Output.Color = "never"
	}

	// HARVEST_METADATA_TIMEOUT is in milliseconds
	if v := os.Getenv(EnvMetadataTimeout); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.Metadata.TimeoutMillis = ms
		}
	}

	if v := os.Getenv(EnvDappAPIURL); v != "" {
		cfg.applyURL(EnvDappAPIURL, v, &cfg.Metadata.DappsURL)
	}

	if v := os.Getenv(EnvYieldsAPIURL); v != "" {
		cfg.applyURL(EnvYieldsAPIURL, v, &cfg.Metadata.YieldsURL)
	}

	// HARVEST_QUOTE_TIMEOUT is in seconds
	if v := os.Getenv(EnvQuoteTimeout); v != "" {
		if s, err := strconv.Atoi(v); err == nil && s > 0 {
			cfg.Swap.QuoteTimeoutSeconds = s
		}
	}

	for i := range cfg.Chains {
		name := EVMRPCEnv(string(cfg.Chains[i].Slug))
		if v := os.Getenv(name); v != "" {
			cfg.applyURL(name, v, &cfg.Chains[i].EVMRPC)
		}
	}
}

// applyURL sanitizes and validates an endpoint override. Insecure endpoints
// are applied with a warning; invalid ones are ignored with a warning.
func (c *Config) applyURL(name, raw string, dst *string) {
	u := SanitizeURL(raw)
	err := ValidateURL(u)
	switch {
	case err == nil:
		*dst = u
	case errors.Is(err, ErrInsecureURL):
		*dst = u
		c.Warnings = append(c.Warnings, fmt.Sprintf("%s: %v", name, err))
	default:
		c.Warnings = append(c.Warnings, fmt.Sprintf("%s ignored: %v", name, err))
	}
}

// parseBool parses a boolean string value.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "1" || s == "true" || s == "yes" || s == "on" {
		return true
	}
	b, _ := strconv.ParseBool(s)
	return b
}

// SanitizeURL cleans a URL string by removing invalid characters and trimming whitespace.
// This is useful for cleaning user-provided endpoints that may contain copy-paste artifacts.
func SanitizeURL(raw string) string {
	return sanitize.URL(strings.TrimSpace(raw))
}

// ValidateURL checks an endpoint URL. Empty is valid and means unset.
// Plain http and ws are only accepted for loopback hosts.
func ValidateURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https", "wss":
	case "http", "ws":
		if u.Host == "" {
			return ErrMissingHost
		}
		if !isLoopback(u.Hostname()) {
			return ErrInsecureURL
		}
	default:
		return ErrUnsupportedScheme
	}
	if u.Host == "" {
		return ErrMissingHost
	}
	return nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
