// Package config provides configuration loading for the btcvault CLI.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"

	"github.com/Bidon15/btcvault"
)

// Config holds all configuration for the CLI.
type Config struct {
	KeyStore KeyStoreConfig `mapstructure:"keystore"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// KeyStoreConfig holds key store sizing and signing options.
type KeyStoreConfig struct {
	Capacity         int    `mapstructure:"capacity"`
	AddressMaxLength int    `mapstructure:"address_max_length"`
	Network          string `mapstructure:"network"`
	Prehash          bool   `mapstructure:"prehash"`
	SignatureFormat  string `mapstructure:"signature_format"`
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// MetricsConfig holds the Prometheus listener configuration.
// An empty Addr disables the listener.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load reads configuration from an optional file and environment variables.
// When file is empty, btcvault.yaml is searched in the usual locations.
func Load(file string) (*Config, error) {
	v := viper.New()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("btcvault")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/btcvault")
	}

	v.SetEnvPrefix("BTCVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || file != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all settings.
func setDefaults(v *viper.Viper) {
	v.SetDefault("keystore.capacity", btcvault.DefaultCapacity)
	v.SetDefault("keystore.address_max_length", btcvault.DefaultAddressMaxLength)
	v.SetDefault("keystore.network", btcvault.DefaultNetwork)
	v.SetDefault("keystore.prehash", false)
	v.SetDefault("keystore.signature_format", string(btcvault.FormatDER))

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("metrics.addr", "")
}

// StoreConfig converts the key store section into a library config.
func (c *Config) StoreConfig(logger *slog.Logger, reg prometheus.Registerer) btcvault.Config {
	return btcvault.Config{
		Capacity:         c.KeyStore.Capacity,
		AddressMaxLength: c.KeyStore.AddressMaxLength,
		Network:          c.KeyStore.Network,
		Prehash:          c.KeyStore.Prehash,
		SignatureFormat:  btcvault.SignatureFormat(c.KeyStore.SignatureFormat),
		Logger:           logger,
		Registerer:       reg,
	}
}

// SlogLevel parses the configured log level.
func (c LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}
	return level, nil
}
