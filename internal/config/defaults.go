package config

// DefaultConfigFilename is the name of the config file mallard looks for.
const DefaultConfigFilename = "mallard.toml"

// DefaultAdminBindAddress is the default bind address for the admin server
// (metrics + health), localhost only.
const DefaultAdminBindAddress = "127.0.0.1"

// DefaultAdminPort serves /healthz and /metrics.
const DefaultAdminPort = 7790

// DefaultLogLevel is the default zerolog level.
const DefaultLogLevel = "info"

// DefaultDataDir holds the daemon's PID file and log file, and by default
// the sqlite cache database.
const DefaultDataDir = "~/.mallard"

// DefaultCacheMaxEntries bounds the in-memory LRU cache backend.
const DefaultCacheMaxEntries = 1000

// DefaultCacheBackend selects which cachemw.Backend to wire: "memory" or
// "sqlite".
const DefaultCacheBackend = "memory"

// DefaultCacheKeyPolicy selects the cachekey.KeyProvider: "uri" or
// "uri_with_auth_hash".
const DefaultCacheKeyPolicy = "uri"

// DefaultCBFailureThreshold is the default number of consecutive failures
// before a resilience breaker opens.
const DefaultCBFailureThreshold = 5

// DefaultCBResetTimeoutSeconds is the default breaker cooldown.
const DefaultCBResetTimeoutSeconds = 30

// DefaultCBHalfOpenMax is the default number of half-open successes
// required to close a breaker.
const DefaultCBHalfOpenMax = 1

// DefaultTracingExporter is the default OpenTelemetry exporter.
const DefaultTracingExporter = "none"

// DefaultTracingServiceName names the service in emitted spans.
const DefaultTracingServiceName = "mallard"

// DefaultTracingSampleRate samples every span by default.
const DefaultTracingSampleRate = 1.0

// ValidLogLevels lists the allowed log level values.
var ValidLogLevels = []string{"trace", "debug", "info", "warn", "error", "fatal"}

// ValidCacheBackends lists the allowed cache-backend selectors.
var ValidCacheBackends = []string{"memory", "sqlite"}

// ValidCacheKeyPolicies lists the allowed cache-key selectors.
var ValidCacheKeyPolicies = []string{"uri", "uri_with_auth_hash"}

// ValidTracingExporters lists the allowed tracing exporter selectors.
var ValidTracingExporters = []string{"none", "stdout", "otlp-grpc", "otlp-http"}

// DefaultConfig returns a Config populated with every default value.
func DefaultConfig() *Config {
	return &Config{
		Admin: AdminConfig{
			BindAddress: DefaultAdminBindAddress,
			Port:        DefaultAdminPort,
			LogLevel:    DefaultLogLevel,
			DataDir:     DefaultDataDir,
		},
		Cache: CacheConfig{
			Backend:        DefaultCacheBackend,
			KeyPolicy:      DefaultCacheKeyPolicy,
			MaxEntries:     DefaultCacheMaxEntries,
			SQLitePath:     "~/.mallard/cache.db",
			PurgeInterval:  300,
		},
		Resilience: ResilienceConfig{
			Enabled:            true,
			FailureThreshold:   DefaultCBFailureThreshold,
			ResetTimeoutSec:    DefaultCBResetTimeoutSeconds,
			HalfOpenMax:        DefaultCBHalfOpenMax,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    DefaultTracingExporter,
			Endpoint:    "",
			ServiceName: DefaultTracingServiceName,
			SampleRate:  DefaultTracingSampleRate,
			Insecure:    false,
		},
		Vault: VaultConfig{
			ServiceName: "mallard",
		},
	}
}
