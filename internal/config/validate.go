package config

import (
	"fmt"
	"strings"
)

// validate checks Config for invalid or out-of-range values, returning a
// combined error describing every violation found.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Admin.Port < 1 || cfg.Admin.Port > 65535 {
		errs = append(errs, fmt.Sprintf("admin.port must be between 1 and 65535, got %d", cfg.Admin.Port))
	}
	if !isValidEnum(cfg.Admin.LogLevel, ValidLogLevels) {
		errs = append(errs, fmt.Sprintf("admin.log_level must be one of %v, got %q", ValidLogLevels, cfg.Admin.LogLevel))
	}
	if cfg.Admin.DataDir == "" {
		errs = append(errs, "admin.data_dir must not be empty")
	}

	if !isValidEnum(cfg.Cache.Backend, ValidCacheBackends) {
		errs = append(errs, fmt.Sprintf("cache.backend must be one of %v, got %q", ValidCacheBackends, cfg.Cache.Backend))
	}
	if !isValidEnum(cfg.Cache.KeyPolicy, ValidCacheKeyPolicies) {
		errs = append(errs, fmt.Sprintf("cache.key_policy must be one of %v, got %q", ValidCacheKeyPolicies, cfg.Cache.KeyPolicy))
	}
	if cfg.Cache.MaxEntries <= 0 {
		errs = append(errs, fmt.Sprintf("cache.max_entries must be positive, got %d", cfg.Cache.MaxEntries))
	}
	if cfg.Cache.Backend == "sqlite" && cfg.Cache.SQLitePath == "" {
		errs = append(errs, "cache.sqlite_path must be set when cache.backend is \"sqlite\"")
	}

	if cfg.Resilience.Enabled {
		if cfg.Resilience.FailureThreshold < 1 {
			errs = append(errs, fmt.Sprintf("resilience.failure_threshold must be at least 1, got %d", cfg.Resilience.FailureThreshold))
		}
		if cfg.Resilience.ResetTimeoutSec < 1 {
			errs = append(errs, fmt.Sprintf("resilience.reset_timeout_seconds must be at least 1, got %d", cfg.Resilience.ResetTimeoutSec))
		}
		if cfg.Resilience.HalfOpenMax < 1 {
			errs = append(errs, fmt.Sprintf("resilience.half_open_max must be at least 1, got %d", cfg.Resilience.HalfOpenMax))
		}
	}

	if cfg.Tracing.Enabled {
		if !isValidEnum(cfg.Tracing.Exporter, ValidTracingExporters) {
			errs = append(errs, fmt.Sprintf("tracing.exporter must be one of %v, got %q", ValidTracingExporters, cfg.Tracing.Exporter))
		}
		if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
			errs = append(errs, fmt.Sprintf("tracing.sample_rate must be between 0 and 1, got %g", cfg.Tracing.SampleRate))
		}
	}

	if cfg.Vault.ServiceName == "" {
		errs = append(errs, "vault.service_name must not be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func isValidEnum(value string, allowed []string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}
