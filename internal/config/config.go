package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/veritrace/veritrace/internal/crypto"
	"github.com/veritrace/veritrace/internal/policy"
)

// envPrefix scopes the environment variables read by Load, e.g.
// VERITRACE_LISTEN_ADDR overrides listen_addr.
const envPrefix = "VERITRACE"

// Node is the full node configuration. Values resolve in priority order:
// flags bound by the CLI, environment variables, the config file, then the
// built-in defaults.
type Node struct {
	// ListenAddr is the UDP address the QUIC transport binds to.
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
	// DataDir holds the pebble database. Empty means in-memory.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
	// KeyFile is the node's Ed25519 identity key, as written by keygen.
	KeyFile string `mapstructure:"key_file" yaml:"key_file"`
	// GenesisRegulator is the hex-encoded identity granted the regulator
	// role on first start. Ignored once a snapshot exists.
	GenesisRegulator string `mapstructure:"genesis_regulator" yaml:"genesis_regulator"`

	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`

	// RatePerSecond and RateBurst bound inbound connection acceptance.
	RatePerSecond float64 `mapstructure:"rate_per_second" yaml:"rate_per_second"`
	RateBurst     int     `mapstructure:"rate_burst" yaml:"rate_burst"`

	// CacheTTLSeconds bounds staleness of cached read responses.
	CacheTTLSeconds int `mapstructure:"cache_ttl_seconds" yaml:"cache_ttl_seconds"`

	// Policy seeds the ledger parameters on first start. Ignored once a
	// snapshot exists; later changes go through the set-policy operation.
	Policy policy.Parameters `mapstructure:"policy" yaml:"policy"`
}

// Default returns the built-in configuration.
func Default() Node {
	return Node{
		ListenAddr:      "127.0.0.1:9640",
		DataDir:         "",
		KeyFile:         "veritrace.key",
		LogLevel:        "info",
		LogFormat:       "console",
		RatePerSecond:   50,
		RateBurst:       100,
		CacheTTLSeconds: 5,
		Policy:          policy.Default(),
	}
}

// Load resolves the node configuration. A non-empty path selects an
// explicit config file; otherwise config.yaml is searched in the working
// directory and /etc/veritrace. A missing file is not an error.
func Load(path string) (Node, error) {
	v := viper.New()

	def := Default()
	v.SetDefault("listen_addr", def.ListenAddr)
	v.SetDefault("data_dir", def.DataDir)
	v.SetDefault("key_file", def.KeyFile)
	v.SetDefault("genesis_regulator", "")
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("log_format", def.LogFormat)
	v.SetDefault("rate_per_second", def.RatePerSecond)
	v.SetDefault("rate_burst", def.RateBurst)
	v.SetDefault("cache_ttl_seconds", def.CacheTTLSeconds)
	v.SetDefault("policy.staketierlow", def.Policy.StakeTierLow)
	v.SetDefault("policy.staketiermedium", def.Policy.StakeTierMedium)
	v.SetDefault("policy.staketierhigh", def.Policy.StakeTierHigh)
	v.SetDefault("policy.basereward", def.Policy.BaseReward)
	v.SetDefault("policy.slashfractionbps", def.Policy.SlashFractionBps)
	v.SetDefault("policy.cooldownseconds", def.Policy.CooldownSeconds)
	v.SetDefault("policy.maxopenreportsperreporter", def.Policy.MaxOpenReportsPerReporter)
	v.SetDefault("policy.minreputationforseverity3", def.Policy.MinReputationForSeverity3)
	v.SetDefault("policy.version", def.Policy.Version)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/veritrace")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Node{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Node
	if err := v.Unmarshal(&cfg); err != nil {
		return Node{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Node{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (n Node) Validate() error {
	if n.ListenAddr == "" {
		return errors.New("listen_addr must not be empty")
	}
	if n.RatePerSecond <= 0 || n.RateBurst <= 0 {
		return errors.New("rate limits must be positive")
	}
	if n.CacheTTLSeconds < 0 {
		return errors.New("cache_ttl_seconds must not be negative")
	}
	if n.GenesisRegulator != "" {
		var id crypto.ActorID
		if err := id.UnmarshalText([]byte(n.GenesisRegulator)); err != nil {
			return fmt.Errorf("genesis_regulator: %w", err)
		}
	}
	return n.Policy.Validate()
}

// Regulator decodes the genesis regulator identity. Returns found=false
// when none is configured.
func (n Node) Regulator() (id crypto.ActorID, found bool, err error) {
	if n.GenesisRegulator == "" {
		return crypto.ActorID{}, false, nil
	}
	if err := id.UnmarshalText([]byte(n.GenesisRegulator)); err != nil {
		return crypto.ActorID{}, false, err
	}
	return id, true, nil
}
