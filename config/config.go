package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/luca-patrignani/ztp-quorum/common"
	"github.com/luca-patrignani/ztp-quorum/consensus"
	"github.com/luca-patrignani/ztp-quorum/quorum"
)

// EnvPrefix prefixes the environment variables overriding the file, e.g.
// ZTP_NETWORK_TOTALNODES.
const EnvPrefix = "ZTP"

// Config is the root configuration struct
type Config struct {
	Seed         int64              `mapstructure:"seed"`
	Network      NetworkConfig      `mapstructure:"network"`
	Election     quorum.Config      `mapstructure:"election"`
	Distribution DistributionConfig `mapstructure:"distribution"`
	Consensus    consensus.Config   `mapstructure:"consensus"`
	Storage      StorageConfig      `mapstructure:"storage"`
}

// NetworkConfig describes the simulated permissioned network.
type NetworkConfig struct {
	TotalNodes  int           `mapstructure:"totalNodes"`
	MinDegree   int           `mapstructure:"minDegree"`
	MaxDegree   int           `mapstructure:"maxDegree"`
	CallTimeout time.Duration `mapstructure:"callTimeout"`
}

// DistributionConfig holds the fragmentation and placement settings.
type DistributionConfig struct {
	Redundancy      int `mapstructure:"redundancy"`
	ChunkSize       int `mapstructure:"chunkSize"`
	KeyFragmentSize int `mapstructure:"keyFragmentSize"`
	// SeparateDataLeaders gives data chunks a pool disjoint from the key
	// fragment holders.
	SeparateDataLeaders bool `mapstructure:"separateDataLeaders"`
	Parallelism         int  `mapstructure:"parallelism"`
}

// StorageConfig selects the fragment store of every node.
type StorageConfig struct {
	// Backend is "memory" or "pebble".
	Backend   string `mapstructure:"backend"`
	Dir       string `mapstructure:"dir"`
	CacheSize int    `mapstructure:"cacheSize"`
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"seed":        "seed",
	"nodes":       "network.totalNodes",
	"min-degree":  "network.minDegree",
	"max-degree":  "network.maxDegree",
	"ratio":       "election.initialLeaderRatio",
	"threshold":   "election.reputationThreshold",
	"degree":      "election.targetDegree",
	"redundancy":  "distribution.redundancy",
	"chunk-size":  "distribution.chunkSize",
	"max-rounds":  "consensus.maxRounds",
	"storage":     "storage.backend",
	"storage-dir": "storage.dir",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("seed", 0)
	v.SetDefault("network.totalNodes", 10)
	v.SetDefault("network.minDegree", 1)
	v.SetDefault("network.maxDegree", 6)
	v.SetDefault("network.callTimeout", 200*time.Millisecond)
	v.SetDefault("election.initialLeaderRatio", 0.5)
	v.SetDefault("election.reputationThreshold", 50)
	v.SetDefault("election.targetDegree", 3)
	v.SetDefault("election.maxIterations", 0)
	v.SetDefault("distribution.redundancy", 3)
	v.SetDefault("distribution.chunkSize", 64)
	v.SetDefault("distribution.keyFragmentSize", 8)
	v.SetDefault("distribution.separateDataLeaders", false)
	v.SetDefault("distribution.parallelism", 4)
	v.SetDefault("consensus.maxRounds", 5)
	v.SetDefault("consensus.voteTimeout", 100*time.Millisecond)
	v.SetDefault("consensus.roundBackoff", 10*time.Millisecond)
	v.SetDefault("consensus.maxRoundBackoff", 200*time.Millisecond)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.dir", "")
	v.SetDefault("storage.cacheSize", 128)
}

// Load reads configuration from file, environment and flags, in increasing
// order of precedence, and validates it. An empty cfgFile looks for
// config.yaml in ./configs and the working directory; flags may be nil.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the entry constraints of every section.
func (c *Config) Validate() error {
	switch {
	case c.Network.TotalNodes <= 0:
		return common.NewConfigError("network.totalNodes", "must be positive, got %d", c.Network.TotalNodes)
	case c.Network.MinDegree < 0 || c.Network.MaxDegree < c.Network.MinDegree:
		return common.NewConfigError("network.maxDegree", "degree range [%d, %d] is empty", c.Network.MinDegree, c.Network.MaxDegree)
	case c.Network.CallTimeout <= 0:
		return common.NewConfigError("network.callTimeout", "must be positive, got %s", c.Network.CallTimeout)
	case c.Election.InitialLeaderRatio <= 0 || c.Election.InitialLeaderRatio > 1:
		return common.NewConfigError("election.initialLeaderRatio", "must be in (0, 1], got %v", c.Election.InitialLeaderRatio)
	case c.Election.TargetDegree < 0:
		return common.NewConfigError("election.targetDegree", "must not be negative, got %d", c.Election.TargetDegree)
	case c.Distribution.Redundancy < 1:
		return common.NewConfigError("distribution.redundancy", "must be at least 1, got %d", c.Distribution.Redundancy)
	case c.Distribution.Redundancy > c.Network.TotalNodes:
		return common.NewConfigError("distribution.redundancy", "%d exceeds the %d nodes", c.Distribution.Redundancy, c.Network.TotalNodes)
	case c.Distribution.ChunkSize <= 0:
		return common.NewConfigError("distribution.chunkSize", "must be positive, got %d", c.Distribution.ChunkSize)
	case c.Distribution.KeyFragmentSize <= 0:
		return common.NewConfigError("distribution.keyFragmentSize", "must be positive, got %d", c.Distribution.KeyFragmentSize)
	case c.Consensus.MaxRounds <= 0:
		return common.NewConfigError("consensus.maxRounds", "must be positive, got %d", c.Consensus.MaxRounds)
	case c.Storage.Backend != "memory" && c.Storage.Backend != "pebble":
		return common.NewConfigError("storage.backend", "unknown backend %q", c.Storage.Backend)
	}
	return nil
}
