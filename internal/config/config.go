package config

import "time"

// Config is the complete daemon configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Upstreams UpstreamsConfig `yaml:"upstreams"`
	Fetch     FetchConfig     `yaml:"fetch"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Cache     CacheConfig     `yaml:"cache"`
	Limits    LimitsConfig    `yaml:"limits"`
}

// ServerConfig holds the HTTP front-end settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or console
}

// UpstreamsConfig names the two upstream data sources.
type UpstreamsConfig struct {
	RegistryURL string `yaml:"registry_url"` // crates.io API base
	DocsURL     string `yaml:"docs_url"`     // docs.rs base
	UserAgent   string `yaml:"user_agent"`
}

// FetchConfig holds the retry/backoff policy for upstream fetches.
type FetchConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseBackoff       time.Duration `yaml:"base_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	JitterFraction    float64       `yaml:"jitter_fraction"` // 0..1, randomization around the computed delay
	AttemptTimeout    time.Duration `yaml:"attempt_timeout"`
}

// RateLimitConfig holds the per-host outbound token bucket settings.
type RateLimitConfig struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	MaxWait           time.Duration `yaml:"max_wait"` // longest a fetch attempt waits for a token
}

// BreakerConfig holds circuit breaker thresholds per upstream host.
type BreakerConfig struct {
	Enabled             bool          `yaml:"enabled"`
	FailureThreshold    uint32        `yaml:"failure_threshold"`    // consecutive failures before opening
	RecoveryTimeout     time.Duration `yaml:"recovery_timeout"`     // open → half-open
	HalfOpenMaxRequests uint32        `yaml:"half_open_max_requests"`
}

// CacheConfig holds both tiers and the per-kind TTLs.
type CacheConfig struct {
	Memory              MemoryTierConfig `yaml:"memory"`
	Disk                DiskTierConfig   `yaml:"disk"`
	TTL                 TTLConfig        `yaml:"ttl"`
	MaintenanceInterval time.Duration    `yaml:"maintenance_interval"` // 0 disables the background sweep
}

// MemoryTierConfig bounds the in-process tier.
type MemoryTierConfig struct {
	MaxEntries int   `yaml:"max_entries"`
	MaxBytes   int64 `yaml:"max_bytes"`
}

// DiskTierConfig bounds the persistent tier.
type DiskTierConfig struct {
	Dir      string `yaml:"dir"`
	MaxBytes int64  `yaml:"max_bytes"`
}

// TTLConfig carries one time-to-live per content kind. Search and releases
// are volatile listings; docs and metadata barely change once published.
type TTLConfig struct {
	Search    time.Duration `yaml:"search"`
	Metadata  time.Duration `yaml:"metadata"`
	Releases  time.Duration `yaml:"releases"`
	CrateDocs time.Duration `yaml:"crate_docs"`
	ItemDocs  time.Duration `yaml:"item_docs"`
}

// LimitsConfig bounds the list operations.
type LimitsConfig struct {
	SearchDefault   int `yaml:"search_default"`
	SearchMax       int `yaml:"search_max"`
	ReleasesDefault int `yaml:"releases_default"`
	ReleasesMax     int `yaml:"releases_max"`
}

// DefaultConfig returns a configuration with production defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Upstreams: UpstreamsConfig{
			RegistryURL: "https://crates.io",
			DocsURL:     "https://docs.rs",
			UserAgent:   "cratedocs-proxy (github.com/cratedocs/proxy)",
		},
		Fetch: FetchConfig{
			MaxAttempts:       3,
			BaseBackoff:       100 * time.Millisecond,
			MaxBackoff:        10 * time.Second,
			BackoffMultiplier: 2.0,
			JitterFraction:    0.2,
			AttemptTimeout:    30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 5,
			Burst:             10,
			MaxWait:           5 * time.Second,
		},
		Breaker: BreakerConfig{
			Enabled:             true,
			FailureThreshold:    5,
			RecoveryTimeout:     60 * time.Second,
			HalfOpenMaxRequests: 3,
		},
		Cache: CacheConfig{
			Memory: MemoryTierConfig{
				MaxEntries: 1000,
				MaxBytes:   64 << 20, // 64MB
			},
			Disk: DiskTierConfig{
				Dir:      "/var/lib/cratedocs/cache",
				MaxBytes: 512 << 20, // 512MB
			},
			TTL: TTLConfig{
				Search:    5 * time.Minute,
				Metadata:  6 * time.Hour,
				Releases:  30 * time.Minute,
				CrateDocs: time.Hour,
				ItemDocs:  time.Hour,
			},
			MaintenanceInterval: 10 * time.Minute,
		},
		Limits: LimitsConfig{
			SearchDefault:   10,
			SearchMax:       50,
			ReleasesDefault: 20,
			ReleasesMax:     100,
		},
	}
}
