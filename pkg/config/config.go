package config

import (
	"time"

	"github.com/jinzhu/configor"
	"github.com/pkg/errors"
)

// EnvPrefix prefixes environment variables that override file settings,
// e.g. UTXOD_STORE_BACKEND.
const EnvPrefix = "UTXOD"

// Store backends.
const (
	BackendBadger  = "badger"
	BackendLevelDB = "leveldb"
)

// StoreConfig selects and locates the key-value engines.
type StoreConfig struct {
	Backend   string `default:"badger"`
	IndexPath string `default:"./data/utxo"`
	ChainPath string `default:"./data/chain"`
	// InMemory keeps every store in memory; paths are ignored.
	InMemory bool
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level      string `default:"info"`
	File       string
	MaxSizeMB  int `default:"100"`
	MaxBackups int `default:"3"`
	Compress   bool
}

// RPCConfig holds the query server settings.
type RPCConfig struct {
	Addr string `default:":8545"`
}

// CacheConfig enables the in-memory query view over the index.
type CacheConfig struct {
	Enabled  bool
	TTL      time.Duration `default:"10m"`
	Capacity uint64        `default:"1024"`
}

// NetworkConfig holds the chain-wide parameters.
type NetworkConfig struct {
	Name        string `default:"utxod-devnet"`
	BlockReward uint64 `default:"100000000"`
}

// MinerConfig drives the local block producer started by serve.
type MinerConfig struct {
	Enabled     bool
	Interval    time.Duration `default:"10s"`
	MaxBlockTxs int           `default:"1000"`
	MempoolSize int           `default:"10000"`
	// Owner is the hex public key receiving block rewards.
	Owner string
}

// Config is the complete process configuration.
type Config struct {
	Store   StoreConfig
	Log     LogConfig
	RPC     RPCConfig
	Cache   CacheConfig
	Network NetworkConfig
	Miner   MinerConfig
}

// Load reads the optional configuration files in order, applies UTXOD_*
// environment overrides and fills in defaults.
func Load(paths ...string) (*Config, error) {
	cfg := &Config{}
	loader := configor.New(&configor.Config{ENVPrefix: EnvPrefix})
	if err := loader.Load(cfg, existing(paths)...); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration with only defaults applied.
func Default() *Config {
	cfg, err := Load()
	if err != nil {
		// defaults are static and always valid
		panic(err)
	}
	return cfg
}

// Validate checks values that defaults cannot guarantee.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendBadger, BackendLevelDB:
	default:
		return errors.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if !c.Store.InMemory && c.Store.IndexPath == c.Store.ChainPath {
		return errors.New("index and chain stores must not share a path")
	}
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return errors.New("cache TTL must be positive")
	}
	if c.Miner.Enabled {
		if c.Miner.Interval <= 0 {
			return errors.New("miner interval must be positive")
		}
		if c.Miner.Owner == "" {
			return errors.New("miner owner key is required")
		}
	}
	return nil
}

func existing(paths []string) []string {
	var out []string
	for _, p := range paths {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
