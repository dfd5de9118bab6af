// Package config loads and hot-reloads the mallard daemon's configuration.
// It is intentionally separate from the core exchanger/cache/auth packages,
// which stay config-agnostic and take explicit constructor arguments — only
// cmd/mallard and internal/daemon depend on this package.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

var configPtr atomic.Pointer[Config]
var loadedConfigFile atomic.Value

// Get returns the current Config, defaulting if none has been loaded yet.
func Get() *Config {
	if c := configPtr.Load(); c != nil {
		return c
	}
	d := DefaultConfig()
	configPtr.Store(d)
	return d
}

func set(cfg *Config) {
	configPtr.Store(cfg)
}

// Config is the top-level mallard daemon configuration.
type Config struct {
	Admin      AdminConfig      `mapstructure:"admin"      toml:"admin"`
	Cache      CacheConfig      `mapstructure:"cache"      toml:"cache"`
	Resilience ResilienceConfig `mapstructure:"resilience" toml:"resilience"`
	Tracing    TracingConfig    `mapstructure:"tracing"    toml:"tracing"`
	Vault      VaultConfig      `mapstructure:"vault"      toml:"vault"`
}

// AdminConfig controls the admin HTTP server exposing /healthz and /metrics.
type AdminConfig struct {
	BindAddress string `mapstructure:"bind_address" toml:"bind_address"`
	Port        int    `mapstructure:"port"         toml:"port"`
	LogLevel    string `mapstructure:"log_level"    toml:"log_level"`
	DataDir     string `mapstructure:"data_dir"     toml:"data_dir"`
}

// CacheConfig selects and configures the cachemw.Backend wired at startup.
type CacheConfig struct {
	Backend       string `mapstructure:"backend"        toml:"backend"`
	KeyPolicy     string `mapstructure:"key_policy"     toml:"key_policy"`
	MaxEntries    int    `mapstructure:"max_entries"    toml:"max_entries"`
	SQLitePath    string `mapstructure:"sqlite_path"    toml:"sqlite_path"`
	PurgeInterval int    `mapstructure:"purge_interval_seconds" toml:"purge_interval_seconds"`
}

// ResilienceConfig configures the per-host circuit breaker registry.
type ResilienceConfig struct {
	Enabled          bool `mapstructure:"enabled"            toml:"enabled"`
	FailureThreshold int  `mapstructure:"failure_threshold"  toml:"failure_threshold"`
	ResetTimeoutSec  int  `mapstructure:"reset_timeout_seconds" toml:"reset_timeout_seconds"`
	HalfOpenMax      int  `mapstructure:"half_open_max"      toml:"half_open_max"`
}

// TracingConfig configures the OpenTelemetry TracerProvider.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"      toml:"enabled"`
	Exporter    string  `mapstructure:"exporter"     toml:"exporter"`
	Endpoint    string  `mapstructure:"endpoint"     toml:"endpoint"`
	ServiceName string  `mapstructure:"service_name" toml:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"  toml:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"     toml:"insecure"`
}

// VaultConfig configures the OS-keychain-backed seed credential store.
type VaultConfig struct {
	ServiceName string `mapstructure:"service_name" toml:"service_name"`
}

// Load reads configuration with this precedence:
//  1. Environment variables (MALLARD_ prefix, _ as separator)
//  2. The file at explicitPath if non-empty
//  3. ~/.mallard/mallard.toml
//  4. ./mallard.toml
//  5. Built-in defaults
//
// The loaded config is validated and stored in the global atomic pointer.
func Load(explicitPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	setViperDefaults(v)

	v.SetEnvPrefix("MALLARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		if homeDir, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".mallard"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("mallard")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: reading: %w", err)
		}
	}

	if cf := v.ConfigFileUsed(); cf != "" {
		loadedConfigFile.Store(cf)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	)); err != nil {
		return nil, fmt.Errorf("config: unmarshalling: %w", err)
	}

	cfg.Admin.DataDir = expandHome(cfg.Admin.DataDir)
	cfg.Cache.SQLitePath = expandHome(cfg.Cache.SQLitePath)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	set(cfg)
	return cfg, nil
}

// InitConfig writes the default configuration file to ~/.mallard/mallard.toml
// if it does not already exist.
func InitConfig() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("config: determining home directory: %w", err)
	}

	dir := filepath.Join(homeDir, ".mallard")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("config: creating data directory: %w", err)
	}

	path := filepath.Join(dir, DefaultConfigFilename)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	data, err := toml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("config: marshalling defaults: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// ConfigFilePath returns the path of the config file that was loaded, or
// empty if none was found.
func ConfigFilePath() string {
	if v, ok := loadedConfigFile.Load().(string); ok {
		return v
	}
	return ""
}

func setViperDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("admin.bind_address", d.Admin.BindAddress)
	v.SetDefault("admin.port", d.Admin.Port)
	v.SetDefault("admin.log_level", d.Admin.LogLevel)
	v.SetDefault("admin.data_dir", d.Admin.DataDir)

	v.SetDefault("cache.backend", d.Cache.Backend)
	v.SetDefault("cache.key_policy", d.Cache.KeyPolicy)
	v.SetDefault("cache.max_entries", d.Cache.MaxEntries)
	v.SetDefault("cache.sqlite_path", d.Cache.SQLitePath)
	v.SetDefault("cache.purge_interval_seconds", d.Cache.PurgeInterval)

	v.SetDefault("resilience.enabled", d.Resilience.Enabled)
	v.SetDefault("resilience.failure_threshold", d.Resilience.FailureThreshold)
	v.SetDefault("resilience.reset_timeout_seconds", d.Resilience.ResetTimeoutSec)
	v.SetDefault("resilience.half_open_max", d.Resilience.HalfOpenMax)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.insecure", d.Tracing.Insecure)

	v.SetDefault("vault.service_name", d.Vault.ServiceName)
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
