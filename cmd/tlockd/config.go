package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"TlockAuction/internal/logger"
)

// Config holds the daemon configuration.
type Config struct {
	Log    LogConfig    `mapstructure:"log"`
	Node   NodeConfig   `mapstructure:"node"`
	Beacon BeaconConfig `mapstructure:"beacon"`
	Clock  ClockConfig  `mapstructure:"clock"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// NodeConfig holds the auction node configuration.
type NodeConfig struct {
	DataPath     string        `mapstructure:"data_path"`     // DataPath is the pebble directory
	HTTPAddress  string        `mapstructure:"http_address"`  // HTTPAddress is the API listen address
	KeyPath      string        `mapstructure:"key_path"`      // KeyPath holds the node's Ed25519 key
	SyncInterval time.Duration `mapstructure:"sync_interval"` // SyncInterval is the WAL sync period
	CacheSize    int64         `mapstructure:"cache_size"`    // CacheSize is the pebble block cache in bytes
}

// BeaconConfig holds the slot schedule and the beacon service settings.
type BeaconConfig struct {
	ListenAddr   string        `mapstructure:"listen_address"`
	KeyPath      string        `mapstructure:"key_path"`
	MasterPath   string        `mapstructure:"master_path"`
	GenesisUnix  int64         `mapstructure:"genesis_unix"`
	SlotDuration time.Duration `mapstructure:"slot_duration"`
}

// ClockConfig selects where the node reads slot time from.
type ClockConfig struct {
	// Mode is "local" (run the beacon in-process) or "remote" (query a beacon).
	Mode         string        `mapstructure:"mode"`
	BeaconAddr   string        `mapstructure:"beacon_address"`
	PublicParams string        `mapstructure:"public_params"` // hex, pins the remote beacon
	Timeout      time.Duration `mapstructure:"timeout"`
}

// Genesis returns the time slot 0 elapses.
func (c BeaconConfig) Genesis() time.Time {
	return time.Unix(c.GenesisUnix, 0)
}

// loadConfig reads the config file, TLOCK_* environment and defaults, then
// applies explicitly set flags.
func loadConfig(cmd *cobra.Command) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("TLOCK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s:\n%w", cfgFile, err)
		}
	}

	for key, flag := range flagKeys {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s:\n%w", flag, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config:\n%w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config:\n%w", err)
	}

	logger.Init(cfg.Log.Level)

	return &cfg, nil
}

// flagKeys maps config keys to the command flags overriding them.
var flagKeys = map[string]string{
	"log.level":             "log-level",
	"node.data_path":        "data",
	"node.http_address":     "http",
	"node.key_path":         "key",
	"beacon.listen_address": "listen",
	"beacon.master_path":    "master",
	"beacon.genesis_unix":   "genesis",
	"beacon.slot_duration":  "slot-duration",
	"clock.mode":            "clock",
	"clock.beacon_address":  "beacon",
	"clock.public_params":   "public-params",
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")

	v.SetDefault("node.data_path", "./data")
	v.SetDefault("node.http_address", ":8080")
	v.SetDefault("node.key_path", "")
	v.SetDefault("node.sync_interval", "1s")
	v.SetDefault("node.cache_size", 16<<20)

	v.SetDefault("beacon.listen_address", ":9000")
	v.SetDefault("beacon.key_path", "")
	v.SetDefault("beacon.master_path", "./master.key")
	v.SetDefault("beacon.genesis_unix", 0)
	v.SetDefault("beacon.slot_duration", "3s")

	v.SetDefault("clock.mode", "local")
	v.SetDefault("clock.beacon_address", "")
	v.SetDefault("clock.public_params", "")
	v.SetDefault("clock.timeout", "5s")
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Beacon.SlotDuration <= 0 {
		return fmt.Errorf("beacon.slot_duration must be positive")
	}

	switch c.Clock.Mode {
	case "local":
	case "remote":
		if c.Clock.BeaconAddr == "" {
			return errors.New("clock.beacon_address is required in remote mode")
		}
	default:
		return fmt.Errorf("unknown clock.mode %q", c.Clock.Mode)
	}

	return nil
}
