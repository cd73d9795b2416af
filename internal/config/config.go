// Package config loads and validates solominer's runtime configuration:
// pool address, wallet/worker identity, network, and performance tuning.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/spf13/viper"
)

// Settings is the fully-loaded, not-yet-validated configuration.
type Settings struct {
	Host                string `mapstructure:"host"`
	Port                int    `mapstructure:"port"`
	BitcoinAddress      string `mapstructure:"bitcoin_address"`
	WorkerName          string `mapstructure:"worker_name"`
	Network             string `mapstructure:"network"`
	PerformanceMode     string `mapstructure:"performance_mode"`
	GPUThreads          int    `mapstructure:"gpu_threads"`
	CPUThreads          int    `mapstructure:"cpu_threads"`
	StallTimeoutMinutes int    `mapstructure:"stall_timeout_minutes"`
}

const envPrefix = "SOLOMINER"

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "solo.ckpool.org")
	v.SetDefault("port", 3333)
	v.SetDefault("worker_name", "worker1")
	v.SetDefault("network", "mainnet")
	v.SetDefault("performance_mode", "cpu")
	v.SetDefault("gpu_threads", 0)
	v.SetDefault("cpu_threads", 0)
	v.SetDefault("stall_timeout_minutes", 5)
}

// Load reads configuration from environment variables prefixed SOLOMINER_,
// the file at path (if it exists), and finally built-in defaults, in that
// order of precedence. path may be empty to skip the file.
func Load(path string) (Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, os.ErrNotExist) {
				return Settings{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return s, nil
}

// chainParamsFor maps a network name to its chaincfg parameters.
func chainParamsFor(network string) (*chaincfg.Params, error) {
	switch network {
	case "", "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet3", "testnet":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("config: unknown network %q", network)
	}
}

// Validate checks that the configuration is usable before the engine
// attempts to start: a bitcoin_address is present and decodes as a valid
// address on the configured network.
func (s Settings) Validate() error {
	if s.BitcoinAddress == "" {
		return fmt.Errorf("config: bitcoin_address is required")
	}
	params, err := chainParamsFor(s.Network)
	if err != nil {
		return err
	}
	if _, err := btcutil.DecodeAddress(s.BitcoinAddress, params); err != nil {
		return fmt.Errorf("config: bitcoin_address %q is not valid on network %q: %w", s.BitcoinAddress, s.Network, err)
	}
	if s.PerformanceMode != "cpu" && s.PerformanceMode != "gpu" {
		return fmt.Errorf("config: performance_mode must be \"cpu\" or \"gpu\", got %q", s.PerformanceMode)
	}
	return nil
}
